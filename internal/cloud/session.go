package cloud

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/http/cookiejar"
)

// imageIDDigits is the length of the client-generated numeric image ID.
const imageIDDigits = 10

// Session is an authenticated context bound to one login. It owns a private
// cookie jar; a Session must not be shared between concurrent pipeline runs.
type Session struct {
	client *Client
	http   *http.Client
	user   User
}

// Login exchanges credentials for a new Session. A non-2xx response wraps
// ErrAuth; a network failure wraps ErrTransport.
func (c *Client) Login(ctx context.Context, creds Credentials) (*Session, error) {
	c.logger.Info("logging in", slog.String("email", creds.Email))

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cloud: creating cookie jar: %w", err)
	}

	hc := &http.Client{
		Transport: c.httpClient.Transport,
		Timeout:   c.httpClient.Timeout,
		Jar:       jar,
	}

	var lr loginResponse

	err = c.doJSON(ctx, hc, http.MethodPost, "/login", loginRequest{
		Email:      creds.Email,
		Password:   creds.Password,
		RememberMe: false,
	}, &lr, ErrAuth)
	if err != nil {
		return nil, fmt.Errorf("cloud: login as %s: %w", creds.Email, err)
	}

	user := lr.toUser()
	if user.Email == "" {
		user.Email = creds.Email
	}

	c.logger.Debug("login succeeded",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)

	return &Session{client: c, http: hc, user: user}, nil
}

// User returns the account that owns the session.
func (s *Session) User() User {
	return s.user
}

// Username returns the catalog username of the logged-in account.
func (s *Session) Username() string {
	return s.user.Username
}

// CreateImage allocates a server-side panorama resource and returns its ID.
func (s *Session) CreateImage(ctx context.Context) (string, error) {
	imageID := "image_" + randomDigits()

	s.client.logger.Info("creating image", slog.String("image_id", imageID))

	var resp createImageResponse

	err := s.client.doJSON(ctx, s.http, http.MethodPost, "/panorama/create", createImageRequest{
		Type: "panorama",
		Data: createImageData{ImageID: imageID},
	}, &resp, nil)
	if err != nil {
		return "", fmt.Errorf("cloud: creating image: %w", err)
	}

	if resp.ID == "" {
		return "", fmt.Errorf("cloud: creating image: response has no id")
	}

	return resp.ID, nil
}

// CreateUploadSlot requests a one-time upload URL and its callback for the
// given panorama.
func (s *Session) CreateUploadSlot(ctx context.Context, panoramaID string) (UploadSlot, error) {
	s.client.logger.Info("creating upload slot", slog.String("panorama_id", panoramaID))

	var resp uploadSlotResponse

	path := fmt.Sprintf("/panorama/%s/upf", panoramaID)
	if err := s.client.doJSON(ctx, s.http, http.MethodPost, path, nil, &resp, nil); err != nil {
		return UploadSlot{}, fmt.Errorf("cloud: creating upload slot for %s: %w", panoramaID, err)
	}

	if resp.UploadURL == "" {
		return UploadSlot{}, fmt.Errorf("cloud: upload slot for %s has no upload_url", panoramaID)
	}

	return UploadSlot{UploadURL: resp.UploadURL, CallbackURL: resp.CallbackURL}, nil
}

// NotifyUploadComplete invokes the callback that starts server-side
// processing. Relative callback URLs resolve against the API base URL.
func (s *Session) NotifyUploadComplete(ctx context.Context, callbackURL string) error {
	s.client.logger.Info("notifying upload complete")

	if callbackURL == "" {
		return fmt.Errorf("cloud: empty callback url")
	}

	if err := s.client.doJSON(ctx, s.http, http.MethodPost, callbackURL, nil, nil, nil); err != nil {
		return fmt.Errorf("cloud: upload callback: %w", err)
	}

	return nil
}

// ListTasks returns the number of pending processing tasks for the account.
func (s *Session) ListTasks(ctx context.Context) (int, error) {
	var resp tasksResponse
	if err := s.client.doJSON(ctx, s.http, http.MethodGet, "/tasks", nil, &resp, nil); err != nil {
		return 0, fmt.Errorf("cloud: listing tasks: %w", err)
	}

	s.client.logger.Debug("listed tasks", slog.Int("count", resp.Count))

	return resp.Count, nil
}

// UploadFile runs the full upload sequence for one capture: create image,
// create upload slot, upload bytes, notify. The first failing step aborts
// the sequence; nothing is retried.
func (s *Session) UploadFile(ctx context.Context, path string) error {
	panoramaID, err := s.CreateImage(ctx)
	if err != nil {
		return err
	}

	slot, err := s.CreateUploadSlot(ctx, panoramaID)
	if err != nil {
		return err
	}

	if err := s.UploadBytes(ctx, slot.UploadURL, path); err != nil {
		return err
	}

	return s.NotifyUploadComplete(ctx, slot.CallbackURL)
}

// randomDigits returns imageIDDigits distinct decimal digits in random order.
// Uniqueness across images is not guaranteed.
func randomDigits() string {
	digits := []byte("0123456789")
	rand.Shuffle(len(digits), func(i, j int) { //nolint:gosec // identifier, not a secret
		digits[i], digits[j] = digits[j], digits[i]
	})

	return string(digits[:imageIDDigits])
}
