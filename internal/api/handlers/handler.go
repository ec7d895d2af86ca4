// handler.go — основной обработчик API certledger.
// Объединяет доменные обработчики и делегирует запросы в реестр.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/certledger/internal/api/errors"
	"github.com/bigkaa/certledger/internal/registry"
)

// maxBodySize — ограничение размера JSON-тела запроса.
const maxBodySize = 64 << 10

// APIHandler — основной обработчик API.
type APIHandler struct {
	health   *HealthHandler
	registry *registry.Registry
	logger   *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(health *HealthHandler, reg *registry.Registry, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		health:   health,
		registry: reg,
		logger:   logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON читает тело запроса в dst. Пустое тело допустимо,
// если allowEmpty == true.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return false
	}
	return true
}

// handleServiceError преобразует ошибку реестра в HTTP-ответ.
func (h *APIHandler) handleServiceError(w http.ResponseWriter, err error) {
	msg := err.Error()
	switch registry.Code(err) {
	case registry.CodeValidation:
		apierrors.ValidationError(w, msg)
	case registry.CodeInvalidProof:
		apierrors.InvalidProof(w, msg)
	case registry.CodeUnauthorized:
		apierrors.UnauthorizedAdmin(w, msg)
	case registry.CodeNotFound:
		apierrors.NotFound(w, msg)
	case registry.CodeDuplicateCertificate:
		apierrors.Conflict(w, apierrors.CodeDuplicateCertificate, msg)
	case registry.CodeAlreadyProcessed:
		apierrors.Conflict(w, apierrors.CodeAlreadyProcessed, msg)
	case registry.CodeAlreadyInitialized:
		apierrors.Conflict(w, apierrors.CodeAlreadyInitialized, msg)
	case registry.CodeNotInitialized:
		apierrors.Conflict(w, apierrors.CodeNotInitialized, msg)
	case registry.CodeStoreBusy:
		h.logger.Warn("Хранилище перегружено конфликтами", slog.String("error", msg))
		apierrors.StoreBusy(w, "Хранилище занято, повторите запрос")
	default:
		h.logger.Error("Внутренняя ошибка", slog.String("error", msg))
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}
