package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/himanishpuri/acousticprint/pkg/acousticprint/audio"
	"github.com/himanishpuri/acousticprint/pkg/acousticprint/storage"
	"github.com/himanishpuri/acousticprint/pkg/logger"
	"github.com/himanishpuri/acousticprint/pkg/models"
)

// fakeService serves a fixed catalog and records what it was asked.
type fakeService struct {
	songs     map[string]models.Song
	matches   []models.MatchResult
	lastQuery []models.Fingerprint
	added     []string
}

func (f *fakeService) AddSong(ctx context.Context, path, title, artist string) (string, error) {
	f.added = append(f.added, title+"|"+artist)
	return "new-id", nil
}

func (f *fakeService) AddSource(ctx context.Context, src audio.Source, key models.SongKey) (string, error) {
	return "new-id", nil
}

func (f *fakeService) MatchSong(ctx context.Context, path string) ([]models.MatchResult, error) {
	return f.matches, nil
}

func (f *fakeService) MatchSource(ctx context.Context, src audio.Source) ([]models.MatchResult, error) {
	return f.matches, nil
}

func (f *fakeService) MatchFingerprints(ctx context.Context, fps []models.Fingerprint) ([]models.MatchResult, error) {
	f.lastQuery = fps
	return f.matches, nil
}

func (f *fakeService) SongExists(ctx context.Context, key models.SongKey) (string, bool, error) {
	return "", false, nil
}

func (f *fakeService) GetSong(ctx context.Context, id string) (*models.Song, error) {
	s, ok := f.songs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrSongNotFound, id)
	}
	return &s, nil
}

func (f *fakeService) ListSongs(ctx context.Context) ([]models.Song, error) {
	var out []models.Song
	for _, s := range f.songs {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeService) DeleteSong(ctx context.Context, id string) error {
	if _, ok := f.songs[id]; !ok {
		return fmt.Errorf("%w: %s", storage.ErrSongNotFound, id)
	}
	delete(f.songs, id)
	return nil
}

func (f *fakeService) Close() error { return nil }

func setupTestServer(t *testing.T, origins ...string) (*fakeService, http.Handler) {
	t.Helper()
	svc := &fakeService{
		songs: map[string]models.Song{
			"s1": {ID: "s1", Title: "Sandstorm", Artist: "Darude", DurationMs: 225000, FingerprintCount: 1200},
		},
		matches: []models.MatchResult{
			{SongID: "s1", Title: "Sandstorm", Artist: "Darude", DurationMs: 225000, MatchedCount: 42, TimeOffset: 12.3, Confidence: 0.4},
		},
	}
	log := logger.New(logger.Config{Level: logger.ERROR, Output: io.Discard})
	srv := NewServer(svc, &ServerConfig{
		Backend:        "badger",
		DBPath:         "catalog",
		TempDir:        t.TempDir(),
		SampleRate:     11025,
		AllowedOrigins: origins,
	}, log)
	return svc, srv.setupRoutes()
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	_, h := setupTestServer(t)
	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body := decode[map[string]string](t, rec)
	if body["status"] != "healthy" {
		t.Errorf("Expected healthy status, got %v", body)
	}
}

func TestMetrics(t *testing.T) {
	_, h := setupTestServer(t)
	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/api/health/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	m := decode[MetricsResponse](t, rec)
	if m.SongCount != 1 || m.FingerprintCount != 1200 || m.Backend != "badger" {
		t.Errorf("Unexpected metrics %+v", m)
	}
}

func TestSongRoutes(t *testing.T) {
	svc, h := setupTestServer(t)

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/api/songs", nil))
	list := decode[ListSongsResponse](t, rec)
	if list.Count != 1 || list.Songs[0].Title != "Sandstorm" {
		t.Errorf("Unexpected song list %+v", list)
	}

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/api/songs/s1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if song := decode[SongDTO](t, rec); song.Artist != "Darude" || song.DurationMs != 225000 {
		t.Errorf("Unexpected song %+v", song)
	}

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/api/songs/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown song, got %d", rec.Code)
	}

	rec = do(t, h, httptest.NewRequest(http.MethodDelete, "/api/songs/s1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 on delete, got %d", rec.Code)
	}
	if _, ok := svc.songs["s1"]; ok {
		t.Error("Expected song to be deleted")
	}
	rec = do(t, h, httptest.NewRequest(http.MethodDelete, "/api/songs/s1", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 on second delete, got %d", rec.Code)
	}
}

func TestMatchFingerprintsRoute(t *testing.T) {
	svc, h := setupTestServer(t)

	body := `{"fingerprints":[{"hash":4739683571439144664,"time_offset":0.25},{"hash":-5,"time_offset":1.5}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/match/fingerprints", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := do(t, h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[MatchResponse](t, rec)
	if resp.Count != 1 || resp.Matches[0].SongID != "s1" || resp.Matches[0].TimeOffset != 12.3 {
		t.Errorf("Unexpected match response %+v", resp)
	}
	if len(svc.lastQuery) != 2 || svc.lastQuery[0].Hash != 4739683571439144664 || svc.lastQuery[1].TimeOffset != 1.5 {
		t.Errorf("Fingerprints not passed through: %+v", svc.lastQuery)
	}
}

func TestMatchFingerprintsValidation(t *testing.T) {
	_, h := setupTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"fingerprints":`},
		{"empty", `{"fingerprints":[]}`},
		{"negative offset", `{"fingerprints":[{"hash":1,"time_offset":-1}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/match/fingerprints", strings.NewReader(tt.body))
			rec := do(t, h, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", rec.Code)
			}
			if e := decode[ErrorResponse](t, rec); e.Code != http.StatusBadRequest || e.Message == "" {
				t.Errorf("Unexpected error body %+v", e)
			}
		})
	}

	req := MatchFingerprintsRequest{Fingerprints: make([]FingerprintDTO, MaxFingerprintsHardLimit+1)}
	if err := req.Validate(); err == nil {
		t.Error("Expected error above the hard limit")
	}
}

func multipartUpload(t *testing.T, fields map[string]string, filename string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	part, err := w.CreateFormFile("audio", filename)
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("not really audio"))
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func TestAddSongUpload(t *testing.T) {
	svc, h := setupTestServer(t)

	body, ctype := multipartUpload(t, map[string]string{"title": "Given"}, "Some Band - Ignored.mp3")
	req := httptest.NewRequest(http.MethodPost, "/api/songs", body)
	req.Header.Set("Content-Type", ctype)
	rec := do(t, h, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[AddSongResponse](t, rec)
	if resp.ID != "new-id" || resp.Title != "Given" {
		t.Errorf("Unexpected response %+v", resp)
	}
	// the saved upload keeps only the extension, so the artist falls back
	if len(svc.added) != 1 || svc.added[0] != "Given|Unknown Artist" {
		t.Errorf("Unexpected AddSong calls %v", svc.added)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/songs", strings.NewReader("x"))
	req.Header.Set("Content-Type", "text/plain")
	if rec := do(t, h, req); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without multipart body, got %d", rec.Code)
	}
}

func TestMatchUpload(t *testing.T) {
	_, h := setupTestServer(t)

	body, ctype := multipartUpload(t, nil, "clip.wav")
	req := httptest.NewRequest(http.MethodPost, "/api/match", body)
	req.Header.Set("Content-Type", ctype)
	rec := do(t, h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decode[MatchResponse](t, rec); resp.Count != 1 {
		t.Errorf("Expected one match, got %+v", resp)
	}
}

func TestCORS(t *testing.T) {
	_, h := setupTestServer(t, "https://app.example.com")

	req := httptest.NewRequest(http.MethodOptions, "/api/match", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := do(t, h, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204 for preflight, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Expected origin to be echoed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = do(t, h, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Expected no CORS header for unknown origin, got %q", got)
	}
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if got := getClientIP(req); got != "10.0.0.1" {
		t.Errorf("Expected remote address host, got %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := getClientIP(req); got != "203.0.113.7" {
		t.Errorf("Expected first forwarded address, got %q", got)
	}
}
