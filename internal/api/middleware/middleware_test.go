package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestNormalizePath проверяет замену переменных сегментов шаблонами.
func TestNormalizePath(t *testing.T) {
	hash := "ab12cd34ab12cd34ab12cd34ab12cd34ab12cd34ab12cd34ab12cd34ab12cd34"

	tests := []struct {
		path string
		want string
	}{
		{"/health/live", "/health/live"},
		{"/metrics", "/metrics"},
		{"/api/v1/certificates", "/api/v1/certificates"},
		{"/api/v1/registry/initialize", "/api/v1/registry/initialize"},
		{"/api/v1/certificates/" + hash, "/api/v1/certificates/{fileHash}"},
		{"/api/v1/certificates/" + hash + "/approve", "/api/v1/certificates/{fileHash}/approve"},
		{"/api/v1/certificates/" + hash + "/approved", "/api/v1/certificates/{fileHash}/approved"},
		{"/api/v1/certificates/" + hash + "/verify", "/api/v1/certificates/{fileHash}/verify"},
		{"/api/v1/certificates/" + hash + "/reject", "/api/v1/certificates/{fileHash}/reject"},
		{"/api/v1/certificates/" + hash + "/other", "/api/v1/certificates/{fileHash}/{other}"},
		{"/api/v1/owners/GOWNER/stats", "/api/v1/owners/{owner}/stats"},
		{"/unknown/path", "/{other}"},
	}

	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, ожидалось %q", tt.path, got, tt.want)
		}
	}
}

// TestRequestID проверяет генерацию и сохранение X-Request-ID.
func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	// Без входящего идентификатора
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" {
		t.Fatal("идентификатор не сгенерирован")
	}
	if rec.Header().Get(HeaderRequestID) != seen {
		t.Errorf("заголовок ответа = %q, ожидался %q", rec.Header().Get(HeaderRequestID), seen)
	}

	// Входящий идентификатор сохраняется
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if seen != "req-42" {
		t.Errorf("идентификатор = %q, ожидался req-42", seen)
	}
}

// TestRequestLogger проверяет, что статус ответа не искажается.
func TestRequestLogger(t *testing.T) {
	handler := RequestLogger(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("x"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("статус = %d, ожидался 418", rec.Code)
	}
}
