// Package testutil provides a fake panorama cloud service for package and
// end-to-end tests. It depends only on stdlib so every test package, including
// package main, can use it without import cycles.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// Fake account credentials accepted by FakeCloud.
const (
	FakeEmail    = "camera@example.com"
	FakePassword = "hunter2"
	FakeUsername = "camera"
	fakeCookie   = "fake-session"
)

// FakeVariant is one processed image a FakePanorama exposes.
type FakeVariant struct {
	Width  int
	Height int
	Body   []byte
}

// FakePanorama is one catalog entry. NoSelf drops the self link and NoData
// drops the data object; Type defaults to "panorama".
type FakePanorama struct {
	ID        string
	Type      string
	CreatedAt string
	NoSelf    bool
	NoData    bool
	Variants  []FakeVariant
}

// Counts reports how many times each endpoint was hit.
type Counts struct {
	Logins    int
	Creates   int
	Slots     int
	Uploads   int
	Callbacks int
	TaskPolls int
	Pages     int
	Details   int
	Downloads int
}

// FakeCloud is an httptest-backed stand-in for the panorama service.
type FakeCloud struct {
	Server *httptest.Server

	mu         sync.Mutex
	counts     Counts
	taskCounts []int
	panoramas  []FakePanorama
	uploaded   map[string][]byte
	nextID     int

	// UploadStatus overrides the PUT response status when non-zero.
	UploadStatus int
	// TruncateDownloads cuts every image body short mid-stream.
	TruncateDownloads bool
}

// NewFakeCloud starts a fake service. Callers must Close it.
func NewFakeCloud() *FakeCloud {
	fc := &FakeCloud{uploaded: make(map[string][]byte)}
	fc.Server = httptest.NewServer(http.HandlerFunc(fc.serve))

	return fc
}

// Close shuts the server down.
func (fc *FakeCloud) Close() {
	fc.Server.Close()
}

// URL returns the base URL of the fake service.
func (fc *FakeCloud) URL() string {
	return fc.Server.URL
}

// SetTaskCounts sets the sequence of pending-task counts GET /tasks returns.
// The last value repeats once the sequence is exhausted.
func (fc *FakeCloud) SetTaskCounts(counts ...int) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	fc.taskCounts = counts
}

// SetPanoramas replaces the catalog.
func (fc *FakeCloud) SetPanoramas(p ...FakePanorama) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	fc.panoramas = p
}

// Counts returns a snapshot of endpoint hit counts.
func (fc *FakeCloud) Counts() Counts {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	return fc.counts
}

// Uploaded returns the bytes received for each created panorama ID.
func (fc *FakeCloud) Uploaded() map[string][]byte {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	out := make(map[string][]byte, len(fc.uploaded))
	for k, v := range fc.uploaded {
		out[k] = v
	}

	return out
}

func (fc *FakeCloud) serve(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/login" && r.Method == http.MethodPost:
		fc.handleLogin(w, r)
	case path == "/panorama/create" && r.Method == http.MethodPost:
		fc.authed(w, r, fc.handleCreate)
	case strings.HasPrefix(path, "/panorama/") && strings.HasSuffix(path, "/upf"):
		fc.authed(w, r, fc.handleSlot)
	case strings.HasPrefix(path, "/bucket/") && r.Method == http.MethodPut:
		fc.handleUpload(w, r)
	case strings.HasPrefix(path, "/callback/") && r.Method == http.MethodPost:
		fc.authed(w, r, fc.handleCallback)
	case path == "/tasks":
		fc.authed(w, r, fc.handleTasks)
	case strings.HasPrefix(path, "/u/") && strings.HasSuffix(path, "/panoramas"):
		fc.authed(w, r, fc.handleList)
	case strings.HasPrefix(path, "/p/"):
		fc.authed(w, r, fc.handleDetail)
	case strings.HasPrefix(path, "/img/"):
		fc.handleImage(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (fc *FakeCloud) authed(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	c, err := r.Cookie(fakeCookie)
	if err != nil || c.Value != "ok" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	next(w, r)
}

func (fc *FakeCloud) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	fc.mu.Lock()
	fc.counts.Logins++
	fc.mu.Unlock()

	if req.Email != FakeEmail || req.Password != FakePassword {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid credentials"}`)

		return
	}

	http.SetCookie(w, &http.Cookie{Name: fakeCookie, Value: "ok", Path: "/"})
	writeJSON(w, map[string]any{"data": map[string]string{
		"id": "user-1", "username": FakeUsername, "email": FakeEmail,
	}})
}

func (fc *FakeCloud) handleCreate(w http.ResponseWriter, _ *http.Request) {
	fc.mu.Lock()
	fc.counts.Creates++
	fc.nextID++
	id := "pano-" + strconv.Itoa(fc.nextID)
	fc.mu.Unlock()

	writeJSON(w, map[string]string{"id": id})
}

func (fc *FakeCloud) handleSlot(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/panorama/"), "/upf")

	fc.mu.Lock()
	fc.counts.Slots++
	fc.mu.Unlock()

	writeJSON(w, map[string]string{
		"upload_url":   fc.Server.URL + "/bucket/" + id,
		"callback_url": "/callback/" + id,
	})
}

func (fc *FakeCloud) handleUpload(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/bucket/")
	body, _ := io.ReadAll(r.Body) //nolint:errcheck // fake server

	fc.mu.Lock()
	fc.counts.Uploads++
	fc.uploaded[id] = body
	status := fc.UploadStatus
	fc.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (fc *FakeCloud) handleCallback(w http.ResponseWriter, _ *http.Request) {
	fc.mu.Lock()
	fc.counts.Callbacks++
	fc.mu.Unlock()

	writeJSON(w, map[string]string{"status": "queued"})
}

func (fc *FakeCloud) handleTasks(w http.ResponseWriter, _ *http.Request) {
	fc.mu.Lock()
	fc.counts.TaskPolls++

	count := 0
	if len(fc.taskCounts) > 0 {
		count = fc.taskCounts[0]
		if len(fc.taskCounts) > 1 {
			fc.taskCounts = fc.taskCounts[1:]
		}
	}
	fc.mu.Unlock()

	writeJSON(w, map[string]int{"count": count})
}

func (fc *FakeCloud) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	pageSize, err := strconv.Atoi(q.Get("pageSize"))
	if err != nil || pageSize <= 0 {
		pageSize = 50
	}

	page, _ := strconv.Atoi(q.Get("page")) //nolint:errcheck // missing page means first

	fc.mu.Lock()
	fc.counts.Pages++
	all := fc.panoramas
	fc.mu.Unlock()

	start := page * pageSize
	if start > len(all) {
		start = len(all)
	}

	end := min(start+pageSize, len(all))

	items := make([]map[string]any, 0, end-start)
	for _, p := range all[start:end] {
		typ := p.Type
		if typ == "" {
			typ = "panorama"
		}

		item := map[string]any{
			"id":   p.ID,
			"type": typ,
		}

		if !p.NoData {
			item["data"] = map[string]string{"created_at": p.CreatedAt}
		}

		if !p.NoSelf {
			item["self"] = fc.Server.URL + "/p/" + p.ID
		}

		items = append(items, item)
	}

	resp := map[string]any{
		"items": items,
		"self":  fc.Server.URL + r.URL.RequestURI(),
	}

	if end < len(all) {
		resp["next"] = fmt.Sprintf("%s%s?pageSize=%d&page=%d", fc.Server.URL, r.URL.Path, pageSize, page+1)
	}

	writeJSON(w, resp)
}

func (fc *FakeCloud) handleDetail(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/p/")

	fc.mu.Lock()
	fc.counts.Details++
	p, ok := fc.find(id)
	fc.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}

	variants := make([]map[string]any, 0, len(p.Variants))
	for i, v := range p.Variants {
		variants = append(variants, map[string]any{
			"width":  v.Width,
			"height": v.Height,
			"url":    fmt.Sprintf("%s/img/%s/%d", fc.Server.URL, id, i),
		})
	}

	writeJSON(w, map[string]any{
		"id": id,
		"data": map[string]any{
			"images": map[string]any{"equirectangulars": variants},
		},
	})
}

func (fc *FakeCloud) handleImage(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/img/")

	id, idxStr, ok := strings.Cut(rest, "/")
	if !ok {
		http.NotFound(w, r)
		return
	}

	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	fc.mu.Lock()
	fc.counts.Downloads++
	p, found := fc.find(id)
	truncate := fc.TruncateDownloads
	fc.mu.Unlock()

	if !found || idx >= len(p.Variants) {
		http.NotFound(w, r)
		return
	}

	body := p.Variants[idx].Body
	if truncate {
		TruncatingHandler(body[:len(body)/2], int64(len(body))).ServeHTTP(w, r)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write(body)
}

// find looks up a panorama by ID. Caller holds fc.mu.
func (fc *FakeCloud) find(id string) (FakePanorama, bool) {
	for _, p := range fc.panoramas {
		if p.ID == id {
			return p, true
		}
	}

	return FakePanorama{}, false
}

// TruncatingHandler announces declaredLen bytes, writes only partial, then
// drops the connection so the client sees an unexpected EOF mid-stream.
func TruncatingHandler(partial []byte, declaredLen int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", strconv.FormatInt(declaredLen, 10))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(partial)

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		hj, ok := w.(http.Hijacker)
		if !ok {
			return
		}

		conn, _, err := hj.Hijack()
		if err != nil {
			return
		}

		conn.Close()
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
