// certificates.go — обработчики /api/v1/certificates и /api/v1/owners endpoints.
// Регистрация, чтение, решения администратора, списки и статистика.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/certledger/internal/api/errors"
	"github.com/bigkaa/certledger/internal/api/middleware"
	"github.com/bigkaa/certledger/internal/domain/lifecycle"
	"github.com/bigkaa/certledger/internal/domain/model"
)

// DefaultRejectionReason — причина отклонения, если клиент её не указал.
const DefaultRejectionReason = "Rejected by admin"

// registerRequest — тело POST /api/v1/certificates.
type registerRequest struct {
	Owner    string `json:"owner"`
	FileHash string `json:"file_hash"`
	TxHash   string `json:"tx_hash"`
}

// decisionRequest — тело POST .../approve и .../reject.
// Admin по умолчанию — идентификатор из токена.
type decisionRequest struct {
	Admin  string `json:"admin,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// certificateList — ответ списочных endpoints.
type certificateList struct {
	Items []*model.Certificate `json:"items"`
	Total int                  `json:"total"`
}

// approvedResponse — ответ GET .../approved.
type approvedResponse struct {
	FileHash model.Hash32 `json:"file_hash"`
	Approved bool         `json:"approved"`
}

// ownerStatsResponse — ответ GET /api/v1/owners/{owner}/stats.
type ownerStatsResponse struct {
	Owner string `json:"owner"`
	model.OwnerStats
}

// RegisterCertificate — POST /api/v1/certificates.
// Регистрирует сертификат в статусе pending.
func (h *APIHandler) RegisterCertificate(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	fileHash, err := model.ParseHash32(req.FileHash)
	if err != nil {
		apierrors.ValidationError(w, "file_hash: "+err.Error())
		return
	}
	txHash, err := model.ParseHash32(req.TxHash)
	if err != nil {
		apierrors.ValidationError(w, "tx_hash: "+err.Error())
		return
	}

	cert, err := h.registry.RegisterCertificate(r.Context(), req.Owner, fileHash, txHash)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cert)
}

// ListCertificates — GET /api/v1/certificates?owner=&status=.
// С owner — сертификаты владельца (status опционален),
// без owner — очередь по статусу (по умолчанию pending).
func (h *APIHandler) ListCertificates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	owner := q.Get("owner")

	var status model.Status
	if s := q.Get("status"); s != "" {
		parsed, err := lifecycle.ParseStatus(s)
		if err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
		status = parsed
	}

	var (
		certs []*model.Certificate
		err   error
	)
	if owner != "" {
		certs, err = h.registry.ListByOwner(r.Context(), owner, status)
	} else {
		if status == "" {
			status = model.StatusPending
		}
		certs, err = h.registry.ListByStatus(r.Context(), status)
	}
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, certificateList{Items: certs, Total: len(certs)})
}

// GetCertificate — GET /api/v1/certificates/{fileHash}.
func (h *APIHandler) GetCertificate(w http.ResponseWriter, r *http.Request) {
	fileHash, ok := fileHashParam(w, r)
	if !ok {
		return
	}

	cert, err := h.registry.GetCertificate(r.Context(), fileHash)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

// IsApproved — GET /api/v1/certificates/{fileHash}/approved.
func (h *APIHandler) IsApproved(w http.ResponseWriter, r *http.Request) {
	fileHash, ok := fileHashParam(w, r)
	if !ok {
		return
	}

	approved, err := h.registry.IsApproved(r.Context(), fileHash)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approvedResponse{FileHash: fileHash, Approved: approved})
}

// VerifyCertificate — GET /api/v1/certificates/{fileHash}/verify.
// Повторно проверяет транзакцию-доказательство сертификата.
func (h *APIHandler) VerifyCertificate(w http.ResponseWriter, r *http.Request) {
	fileHash, ok := fileHashParam(w, r)
	if !ok {
		return
	}

	v, err := h.registry.VerifyCertificate(r.Context(), fileHash)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// ApproveCertificate — POST /api/v1/certificates/{fileHash}/approve.
// Доступ: JWT администратора реестра.
func (h *APIHandler) ApproveCertificate(w http.ResponseWriter, r *http.Request) {
	fileHash, ok := fileHashParam(w, r)
	if !ok {
		return
	}
	var req decisionRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}

	cert, err := h.registry.ApproveCertificate(r.Context(), adminOrCaller(r, req.Admin), fileHash)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

// RejectCertificate — POST /api/v1/certificates/{fileHash}/reject.
// Доступ: JWT администратора реестра. Пустая причина заменяется
// на DefaultRejectionReason.
func (h *APIHandler) RejectCertificate(w http.ResponseWriter, r *http.Request) {
	fileHash, ok := fileHashParam(w, r)
	if !ok {
		return
	}
	var req decisionRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = DefaultRejectionReason
	}

	cert, err := h.registry.RejectCertificate(r.Context(), adminOrCaller(r, req.Admin), fileHash, reason)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

// GetOwnerStats — GET /api/v1/owners/{owner}/stats.
func (h *APIHandler) GetOwnerStats(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	stats, err := h.registry.OwnerStats(r.Context(), owner)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ownerStatsResponse{Owner: owner, OwnerStats: stats})
}

// fileHashParam разбирает {fileHash} из пути.
func fileHashParam(w http.ResponseWriter, r *http.Request) (model.Hash32, bool) {
	fileHash, err := model.ParseHash32(chi.URLParam(r, "fileHash"))
	if err != nil {
		apierrors.ValidationError(w, "fileHash: "+err.Error())
		return fileHash, false
	}
	return fileHash, true
}

// adminOrCaller возвращает администратора из тела запроса
// или идентификатор из токена.
func adminOrCaller(r *http.Request, admin string) string {
	if admin != "" {
		return admin
	}
	return middleware.IdentityFromContext(r.Context())
}
