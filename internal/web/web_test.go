package web

import (
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestServeFaviconReturnsValidPNG(t *testing.T) {
	handler := ServeFavicon()
	req := httptest.NewRequest(http.MethodGet, "/favicon.ico", nil)
	rr := httptest.NewRecorder()
	handler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
	if _, err := png.Decode(rr.Body); err != nil {
		t.Errorf("favicon body is not a valid PNG: %v", err)
	}
}

func TestServeLandingPageIncludesName(t *testing.T) {
	handler := ServeLandingPage(Info{Name: "relaytrust", AlgorithmVersion: "1.0.0", AlgorithmURL: "https://example.com"})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	handler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "relaytrust") {
		t.Error("landing page does not mention the service name")
	}
	if !strings.Contains(body, "/rankings") {
		t.Error("landing page does not document the rankings endpoint")
	}
}
