package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/chatvault/chatvault/internal/mediacache"
)

func TestResolveRequiresURL(t *testing.T) {
	h := NewMediaHandler(nil, mediacache.NewService(nil, t.TempDir(), nil, mediacache.Options{}))
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/chat/media/resolve", `{"url":"  "}`), rec)
	if got := httpStatus(t, h.Resolve(c)); got != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", got)
	}
}

func TestResolveLocalRefPassesThrough(t *testing.T) {
	h := NewMediaHandler(nil, mediacache.NewService(nil, t.TempDir(), nil, mediacache.Options{}))
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/chat/media/resolve",
		`{"url":"/data/images/abc.jpg"}`), rec)
	if err := h.Resolve(c); err != nil {
		t.Fatal(err)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["localRef"] != "/data/images/abc.jpg" {
		t.Fatalf("expected passthrough, got %q", resp["localRef"])
	}
}

func TestResolveRemoteWithoutFetcherFails(t *testing.T) {
	h := NewMediaHandler(nil, mediacache.NewService(nil, t.TempDir(), nil, mediacache.Options{}))
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/chat/media/resolve",
		`{"url":"http://cdn.example/a.jpg"}`), rec)
	if got := httpStatus(t, h.Resolve(c)); got != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", got)
	}
}
