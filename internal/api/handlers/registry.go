// registry.go — обработчики /api/v1/registry endpoints.
// Инициализация реестра и получение администратора.
package handlers

import (
	"net/http"
)

// initializeRequest — тело POST /api/v1/registry/initialize.
type initializeRequest struct {
	Admin string `json:"admin"`
}

// InitializeRegistry — POST /api/v1/registry/initialize.
// Однократно назначает администратора реестра.
func (h *APIHandler) InitializeRegistry(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	if err := h.registry.Initialize(r.Context(), req.Admin); err != nil {
		h.handleServiceError(w, err)
		return
	}

	cfg, err := h.registry.Admin(r.Context())
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// GetAdmin — GET /api/v1/registry/admin.
func (h *APIHandler) GetAdmin(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.registry.Admin(r.Context())
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
