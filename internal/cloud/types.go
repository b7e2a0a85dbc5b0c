package cloud

// Credentials is the email/password pair used to log in.
type Credentials struct {
	Email    string
	Password string
}

// User is the account information returned by a successful login.
type User struct {
	ID       string
	Username string
	Email    string
}

// UploadSlot is a one-time destination for raw capture bytes plus the
// callback that starts server-side processing once the bytes are stored.
type UploadSlot struct {
	UploadURL   string
	CallbackURL string
}

// Panorama is one item of the user's catalog listing. Type is "panorama" for
// the items the downloader cares about; other types may appear. CreatedAt is
// the raw timestamp string; parsing is the caller's decision. HasData reports
// whether the item carried a data object.
type Panorama struct {
	ID        string
	Type      string
	CreatedAt string
	Self      string
	HasData   bool
}

// Page is one page of the panorama catalog. Next is empty on the last page.
type Page struct {
	Items []Panorama
	Next  string
	Self  string
}

// ImageVariant is one processed equirectangular projection of a panorama.
type ImageVariant struct {
	Width  int
	Height int
	URL    string // pre-authenticated; never log
}

// Pixels returns the variant's width×height product.
func (v ImageVariant) Pixels() int64 {
	return int64(v.Width) * int64(v.Height)
}

// PanoramaDetail is the resolved self link of a panorama. Equirectangulars is
// empty until processing has produced at least one variant.
type PanoramaDetail struct {
	ID               string
	Equirectangulars []ImageVariant
}

// Wire shapes. Unexported: callers only see the normalized types above.

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type userFields struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type loginResponse struct {
	userFields
	Data *userFields `json:"data"`
}

type createImageRequest struct {
	Type string          `json:"type"`
	Data createImageData `json:"data"`
}

type createImageData struct {
	ImageID string `json:"image_id"`
}

type createImageResponse struct {
	ID string `json:"id"`
}

type uploadSlotResponse struct {
	UploadURL   string `json:"upload_url"`
	CallbackURL string `json:"callback_url"`
}

type tasksResponse struct {
	Count int `json:"count"`
}

type panoramaItem struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	CreatedAt string            `json:"created_at"`
	Self      string            `json:"self"`
	Data      *panoramaItemData `json:"data"`
}

type panoramaItemData struct {
	CreatedAt string `json:"created_at"`
}

type pageResponse struct {
	Items []panoramaItem `json:"items"`
	Next  string         `json:"next"`
	Self  string         `json:"self"`
}

type detailResponse struct {
	ID   string      `json:"id"`
	Data *detailData `json:"data"`
}

type detailData struct {
	Images *detailImages `json:"images"`
}

type detailImages struct {
	Equirectangulars []variantResponse `json:"equirectangulars"`
}

type variantResponse struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	URL    string `json:"url"`
}

// toUser prefers the nested data object, which is where the service puts the
// account record; top-level fields are the fallback.
func (r *loginResponse) toUser() User {
	u := r.userFields
	if r.Data != nil {
		if r.Data.ID != "" {
			u.ID = r.Data.ID
		}

		if r.Data.Username != "" {
			u.Username = r.Data.Username
		}

		if r.Data.Email != "" {
			u.Email = r.Data.Email
		}
	}

	return User{ID: u.ID, Username: u.Username, Email: u.Email}
}

// toPanorama normalizes a listing item. The capture timestamp lives in the
// item's data object; a top-level created_at is accepted as a fallback.
func (p *panoramaItem) toPanorama() Panorama {
	created := p.CreatedAt
	if p.Data != nil && p.Data.CreatedAt != "" {
		created = p.Data.CreatedAt
	}

	return Panorama{
		ID:        p.ID,
		Type:      p.Type,
		CreatedAt: created,
		Self:      p.Self,
		HasData:   p.Data != nil,
	}
}

func (d *detailResponse) toDetail() *PanoramaDetail {
	detail := &PanoramaDetail{ID: d.ID}
	if d.Data == nil || d.Data.Images == nil {
		return detail
	}

	detail.Equirectangulars = make([]ImageVariant, 0, len(d.Data.Images.Equirectangulars))
	for _, v := range d.Data.Images.Equirectangulars {
		detail.Equirectangulars = append(detail.Equirectangulars, ImageVariant{
			Width:  v.Width,
			Height: v.Height,
			URL:    v.URL,
		})
	}

	return detail
}
