package folio

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/weirdwool/folio/contentsync"
	"github.com/weirdwool/folio/remote"
)

const testPassword = "s3cret"

// stubRemote keeps remote files in memory.
type stubRemote struct {
	mu      sync.Mutex
	files   map[string][]byte
	commits int
}

func (r *stubRemote) Get(_ context.Context, path string) (*remote.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.files[path]
	if !ok {
		return nil, remote.ErrNotExist
	}
	return &remote.File{Path: path, Content: data, SHA: fmt.Sprintf("%x", sha1.Sum(data))}, nil
}

func (r *stubRemote) Put(_ context.Context, path string, content []byte, _, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[path] = append([]byte(nil), content...)
	return nil
}

func (r *stubRemote) Delete(_ context.Context, path, _, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.files, path)
	return nil
}

func (r *stubRemote) Commit(_ context.Context, _ string, entries []remote.Entry) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		r.files[e.Path] = e.Payload.Bytes()
	}
	r.commits++
	return fmt.Sprintf("commit-%d", r.commits), nil
}

func (r *stubRemote) has(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.files[path]
	return ok
}

func newTestApp(t *testing.T, password string) (*App, *stubRemote) {
	t.Helper()
	rem := &stubRemote{files: map[string][]byte{}}
	cfg := SiteConfig{
		Root:          t.TempDir(),
		DatabasePath:  filepath.Join(t.TempDir(), "folio.db"),
		AdminPassword: password,
		SessionSecret: "test-session-secret",
	}
	a := New(cfg, WithLogger(zaptest.NewLogger(t)), WithRemote(rem))
	require.NoError(t, a.Init(context.Background()))
	t.Cleanup(func() { a.Close() })
	return a, rem
}

func serve(a *App, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.Echo.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, target, token string, body any) *http.Request {
	var r *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	} else {
		r = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func login(t *testing.T, a *App) string {
	t.Helper()
	rec := serve(a, jsonRequest(http.MethodPost, "/api/auth/login", "", map[string]string{"password": testPassword}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res loginResponse
	decode(t, rec, &res)
	require.True(t, res.Success)
	require.NotEmpty(t, res.Token)
	return res.Token
}

func TestLogin(t *testing.T) {
	a, _ := newTestApp(t, testPassword)

	rec := serve(a, jsonRequest(http.MethodPost, "/api/auth/login", "", map[string]string{"password": testPassword}))
	require.Equal(t, http.StatusOK, rec.Code)

	var res loginResponse
	decode(t, rec, &res)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.Token)
	assert.Contains(t, rec.Header().Get("Set-Cookie"), sessionName+"=")
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestLoginWrongPassword(t *testing.T) {
	a, _ := newTestApp(t, testPassword)

	rec := serve(a, jsonRequest(http.MethodPost, "/api/auth/login", "", map[string]string{"password": "nope"}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var res loginResponse
	decode(t, rec, &res)
	assert.False(t, res.Success)
	assert.Equal(t, "Mot de passe incorrect", res.Error)
	assert.Empty(t, rec.Header().Get("Set-Cookie"))
}

func TestLoginUnconfigured(t *testing.T) {
	a, _ := newTestApp(t, "")

	rec := serve(a, jsonRequest(http.MethodPost, "/api/auth/login", "", map[string]string{"password": ""}))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLoginRateLimited(t *testing.T) {
	a, _ := newTestApp(t, testPassword)

	for i := 0; i < 5; i++ {
		rec := serve(a, jsonRequest(http.MethodPost, "/api/auth/login", "", map[string]string{"password": "nope"}))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := serve(a, jsonRequest(http.MethodPost, "/api/auth/login", "", map[string]string{"password": testPassword}))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestAdminRequiresSession(t *testing.T) {
	a, _ := newTestApp(t, testPassword)

	tests := []struct {
		name  string
		token string
	}{
		{"no token", ""},
		{"garbage token", "not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(a, jsonRequest(http.MethodGet, "/api/blog-posts", tt.token, nil))
			assert.Equal(t, http.StatusUnauthorized, rec.Code)

			var res errorResponse
			decode(t, rec, &res)
			assert.Equal(t, "Non authentifié", res.Error)
		})
	}
}

func TestCookieSession(t *testing.T) {
	a, _ := newTestApp(t, testPassword)

	rec := serve(a, jsonRequest(http.MethodPost, "/api/auth/login", "", map[string]string{"password": testPassword}))
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)

	req := jsonRequest(http.MethodGet, "/api/blog-posts", "", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec = serve(a, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestLogoutRevokesSession(t *testing.T) {
	a, _ := newTestApp(t, testPassword)
	token := login(t, a)

	rec := serve(a, jsonRequest(http.MethodGet, "/api/auth/check", token, nil))
	assert.JSONEq(t, `{"authenticated":true}`, rec.Body.String())

	rec = serve(a, jsonRequest(http.MethodPost, "/api/auth/logout", token, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(a, jsonRequest(http.MethodGet, "/api/blog-posts", token, nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(a, jsonRequest(http.MethodGet, "/api/auth/check", token, nil))
	assert.JSONEq(t, `{"authenticated":false}`, rec.Body.String())
}

func TestPostLifecycle(t *testing.T) {
	a, rem := newTestApp(t, testPassword)
	token := login(t, a)

	post := map[string]any{
		"title":      "Fête au port",
		"pubDate":    "2025-06-01",
		"location":   "Saint-Jean",
		"main_image": "/blog/blog-images/250601-port.jpg",
		"tags":       map[string]bool{"voyage": true},
		"body":       "Une belle journée.",
	}
	rec := serve(a, jsonRequest(http.MethodPost, "/api/blog-posts", token, post))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var saved contentsync.SaveResult
	decode(t, rec, &saved)
	assert.True(t, saved.Success)
	assert.Equal(t, "2025-06-01-fete-au-port", saved.Slug)
	assert.Empty(t, saved.Warning)

	rel := "src/content/blog/2025-06-01-fete-au-port.md"
	assert.FileExists(t, filepath.Join(a.Config.Root, rel))
	assert.True(t, rem.has(rel))

	rec = serve(a, jsonRequest(http.MethodPost, "/api/blog-posts", token, post))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(a, jsonRequest(http.MethodGet, "/api/blog-posts", token, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var posts []map[string]any
	decode(t, rec, &posts)
	require.Len(t, posts, 1)
	assert.Equal(t, "Fête au port", posts[0]["title"])

	rec = serve(a, jsonRequest(http.MethodGet, "/api/blog-posts/2025-06-01-fete-au-port", token, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	post["slug"] = saved.Slug
	rec = serve(a, jsonRequest(http.MethodPut, "/api/blog-posts", token, post))
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &saved)
	assert.Equal(t, "Aucune modification détectée", saved.Message)

	post["body"] = "Une très belle journée."
	rec = serve(a, jsonRequest(http.MethodPut, "/api/blog-posts", token, post))
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &saved)
	assert.Equal(t, "Article mis à jour avec succès", saved.Message)

	rec = serve(a, jsonRequest(http.MethodGet, "/api/blog-posts/2025-06-01-fete-au-port", token, nil))
	assert.Contains(t, rec.Body.String(), "Une très belle journée.")

	rec = serve(a, jsonRequest(http.MethodDelete, "/api/blog-posts/2025-06-01-fete-au-port", token, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NoFileExists(t, filepath.Join(a.Config.Root, rel))
	assert.False(t, rem.has(rel))

	rec = serve(a, jsonRequest(http.MethodGet, "/api/blog-posts/2025-06-01-fete-au-port", token, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(a, jsonRequest(http.MethodDelete, "/api/blog-posts/2025-06-01-fete-au-port", token, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostValidation(t *testing.T) {
	a, _ := newTestApp(t, testPassword)
	token := login(t, a)

	tests := []struct {
		name string
		body map[string]any
		want string
	}{
		{"missing title", map[string]any{"pubDate": "2025-06-01", "location": "x", "main_image": "y"}, "Le titre est obligatoire"},
		{"bad date", map[string]any{"title": "t", "pubDate": "juin", "location": "x", "main_image": "y"}, "Date invalide"},
		{"missing image", map[string]any{"title": "t", "pubDate": "2025-06-01", "location": "x"}, "L'image principale est obligatoire"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(a, jsonRequest(http.MethodPost, "/api/blog-posts", token, tt.body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var res errorResponse
			decode(t, rec, &res)
			assert.Equal(t, tt.want, res.Error)
		})
	}

	rec := serve(a, jsonRequest(http.MethodPut, "/api/blog-posts", token, map[string]any{
		"slug": "2025-01-01-absent", "title": "t", "pubDate": "2025-01-01", "location": "x", "main_image": "y",
	}))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func multipartRequest(t *testing.T, target, token string, fields [][2]string, files []testFile) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range fields {
		require.NoError(t, w.WriteField(f[0], f[1]))
	}
	for _, f := range files {
		part, err := w.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

type testFile struct {
	field, name string
	data        []byte
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestUploadImage(t *testing.T) {
	a, rem := newTestApp(t, testPassword)
	token := login(t, a)

	rec := serve(a, multipartRequest(t, "/api/upload-blog-image", token,
		[][2]string{{"date", "2025-06-01"}},
		[]testFile{{"file", "Photo Été.png", pngBytes(t, 3, 2)}}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res contentsync.ImageResult
	decode(t, rec, &res)
	assert.True(t, res.Success)
	assert.Equal(t, "250601-Photo-Ete.png", res.Filename)
	assert.Equal(t, "/blog/blog-images/250601-Photo-Ete.png", res.Path)
	assert.Equal(t, 3, res.Width)
	assert.Equal(t, 2, res.Height)
	assert.FileExists(t, filepath.Join(a.Config.Root, "public/blog/blog-images/250601-Photo-Ete.png"))
	assert.True(t, rem.has("public/blog/blog-images/250601-Photo-Ete.png"))

	rec = serve(a, jsonRequest(http.MethodGet, "/api/list-blog-images", token, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list contentsync.ImageList
	decode(t, rec, &list)
	assert.True(t, list.Success)
	require.Len(t, list.Images, 1)
	assert.Equal(t, "250601-Photo-Ete.png", list.Images[0].Filename)
}

func TestUploadImageRejected(t *testing.T) {
	a, _ := newTestApp(t, testPassword)
	token := login(t, a)

	rec := serve(a, multipartRequest(t, "/api/upload-blog-image", token, nil,
		[]testFile{{"file", "a.png", pngBytes(t, 1, 1)}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	big := make([]byte, 2<<20)
	rec = serve(a, multipartRequest(t, "/api/upload-blog-image", token,
		[][2]string{{"date", "2025-06-01"}},
		[]testFile{{"file", "big.jpg", big}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var res errorResponse
	decode(t, rec, &res)
	assert.True(t, strings.HasPrefix(res.Error, "Fichier trop volumineux (2.0 Mo)"), res.Error)

	entries, err := os.ReadDir(filepath.Join(a.Config.Root, "public/blog/blog-images"))
	assert.True(t, os.IsNotExist(err) || len(entries) == 0)

	rec = serve(a, multipartRequest(t, "/api/upload-blog-image", token,
		[][2]string{{"date", "2025-06-01"}},
		[]testFile{{"file", "fake.png", []byte("not an image")}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadGallery(t *testing.T) {
	a, rem := newTestApp(t, testPassword)
	token := login(t, a)

	jpeg := pngBytes(t, 2, 2)
	rec := serve(a, multipartRequest(t, "/api/upload-gallery", token,
		[][2]string{
			{"galleryName", "trip-2025"},
			{"paths", "trip/index.html"},
			{"paths", "trip/images/a.png"},
		},
		[]testFile{
			{"files", "index.html", []byte("<html></html>")},
			{"files", "a.png", jpeg},
		}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res contentsync.GalleryResult
	decode(t, rec, &res)
	assert.True(t, res.Success)
	assert.Equal(t, "commit-1", res.Commit)
	assert.Equal(t, []string{"images/a.png", "index.html"}, res.Files)
	assert.Equal(t, 1, rem.commits)
	assert.True(t, rem.has("public/blog/blog-galeries/trip-2025/index.html"))
	assert.FileExists(t, filepath.Join(a.Config.Root, "public/blog/blog-galeries/trip-2025/images/a.png"))

	rec = serve(a, jsonRequest(http.MethodGet, "/api/download-gallery-zip?folder=trip-2025", token, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list contentsync.ImageList
	decode(t, rec, &list)
	require.Len(t, list.Images, 1)
	assert.Equal(t, "/blog/blog-galeries/trip-2025/images/a.png", list.Images[0].Path)

	rec = serve(a, jsonRequest(http.MethodGet, "/api/download-gallery-zip?folder=absent", token, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadGalleryRejectsEscape(t *testing.T) {
	a, rem := newTestApp(t, testPassword)
	token := login(t, a)

	rec := serve(a, multipartRequest(t, "/api/upload-gallery", token,
		[][2]string{{"galleryName", "trip"}, {"paths", "trip/../../etc/passwd"}},
		[]testFile{{"files", "passwd", []byte("x")}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, rem.commits)
}

func TestListGalleryImagesMissingFolder(t *testing.T) {
	a, _ := newTestApp(t, testPassword)
	token := login(t, a)

	rec := serve(a, jsonRequest(http.MethodGet, "/api/list-gallery-images?folder=absent", token, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list contentsync.ImageList
	decode(t, rec, &list)
	assert.False(t, list.Success)
	assert.Empty(t, list.Images)
	assert.NotEmpty(t, list.Error)

	rec = serve(a, jsonRequest(http.MethodGet, "/api/list-gallery-images?folder=..", token, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPreview(t *testing.T) {
	a, _ := newTestApp(t, testPassword)
	token := login(t, a)

	rec := serve(a, jsonRequest(http.MethodPost, "/api/preview", token, map[string]string{
		"title": "Essai",
		"body":  "Bonjour **monde**",
	}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "<h1>Essai</h1>")
	assert.Contains(t, rec.Body.String(), "<strong>monde</strong>")
}

func TestSyncLog(t *testing.T) {
	a, _ := newTestApp(t, testPassword)
	token := login(t, a)

	rec := serve(a, jsonRequest(http.MethodPost, "/api/blog-posts", token, map[string]any{
		"title": "Journal", "pubDate": "2025-02-03", "location": "x", "main_image": "y",
	}))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(a, jsonRequest(http.MethodGet, "/api/sync-log?limit=5", token, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []SyncLogEntry
	decode(t, rec, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "create", entries[0].Op)
	assert.Equal(t, "src/content/blog/2025-02-03-journal.md", entries[0].Path)
	assert.True(t, entries[0].OK)
}

func TestUploadGalleryFileTooLarge(t *testing.T) {
	a, rem := newTestApp(t, testPassword)
	token := login(t, a)

	prev := maxGalleryFileSize
	maxGalleryFileSize = 8
	t.Cleanup(func() { maxGalleryFileSize = prev })

	rec := serve(a, multipartRequest(t, "/api/upload-gallery", token,
		[][2]string{{"galleryName", "trip"}},
		[]testFile{
			{"files", "small.css", []byte("a{}")},
			{"files", "big.png", []byte("0123456789")},
		}))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	var res errorResponse
	decode(t, rec, &res)
	assert.Contains(t, res.Error, "big.png")
	assert.Zero(t, rem.commits)
	assert.NoDirExists(t, filepath.Join(a.Config.Root, "public/blog/blog-galeries/trip"))
}
