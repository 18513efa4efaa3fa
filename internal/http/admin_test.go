package httpadmin

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
)

type fakeReloader struct {
	prefix string
	err    error
}

func (f fakeReloader) ReloadCommands() (string, error) {
	return f.prefix, f.err
}

func TestServerReloadSuccess(t *testing.T) {
	srv := New(fakeReloader{prefix: "?"})

	mux := http.NewServeMux()
	srv.Register(mux)

	req := httptest.NewRequest(http.MethodPost, "/admin/commands/reload", nil)
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Fatalf("expected content-type application/json; charset=utf-8, got %q", ct)
	}

	var payload struct {
		Status   string `json:"status"`
		Reloaded bool   `json:"reloaded"`
		Prefix   string `json:"prefix"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if payload.Status != "ok" || !payload.Reloaded || payload.Prefix != "?" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestServerReloadError(t *testing.T) {
	srv := New(fakeReloader{err: errors.New("boom")})

	mux := http.NewServeMux()
	srv.Register(mux)

	req := httptest.NewRequest(http.MethodPost, "/admin/commands/reload", nil)
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, rec.Code)
	}

	if body := rec.Body.String(); body != "reload failed: boom\n" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestServerReloadRequiresPost(t *testing.T) {
	mux := http.NewServeMux()
	New(fakeReloader{}).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/commands/reload", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
