package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestConstructors проверяет статус, код и формат тела ответа.
func TestConstructors(t *testing.T) {
	tests := []struct {
		name       string
		write      func(w http.ResponseWriter)
		wantStatus int
		wantCode   string
	}{
		{"validation", func(w http.ResponseWriter) { ValidationError(w, "m") }, http.StatusBadRequest, CodeValidationError},
		{"invalid proof", func(w http.ResponseWriter) { InvalidProof(w, "m") }, http.StatusBadRequest, CodeInvalidProof},
		{"unauthorized", func(w http.ResponseWriter) { Unauthorized(w, "m") }, http.StatusUnauthorized, CodeUnauthorized},
		{"unauthorized admin", func(w http.ResponseWriter) { UnauthorizedAdmin(w, "m") }, http.StatusForbidden, CodeUnauthorizedAdmin},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "m") }, http.StatusNotFound, CodeNotFound},
		{"conflict", func(w http.ResponseWriter) { Conflict(w, CodeAlreadyProcessed, "m") }, http.StatusConflict, CodeAlreadyProcessed},
		{"store busy", func(w http.ResponseWriter) { StoreBusy(w, "m") }, http.StatusServiceUnavailable, CodeStoreBusy},
		{"internal", func(w http.ResponseWriter) { InternalError(w, "m") }, http.StatusInternalServerError, CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)

			if rec.Code != tt.wantStatus {
				t.Errorf("статус = %d, ожидался %d", rec.Code, tt.wantStatus)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}

			var body errorBody
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("декодирование: %v", err)
			}
			if body.Error.Code != tt.wantCode || body.Error.Message != "m" {
				t.Errorf("тело = %+v", body.Error)
			}
		})
	}
}
