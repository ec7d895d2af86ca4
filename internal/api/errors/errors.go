// Пакет errors — конструкторы стандартных ошибок API certledger.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	"net/http"
)

// Коды ошибок API.
const (
	CodeValidationError      = "VALIDATION_ERROR"
	CodeInvalidProof         = "INVALID_PROOF"
	CodeNotFound             = "NOT_FOUND"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeUnauthorizedAdmin    = "UNAUTHORIZED_ADMIN"
	CodeDuplicateCertificate = "DUPLICATE_CERTIFICATE"
	CodeAlreadyProcessed     = "ALREADY_PROCESSED"
	CodeAlreadyInitialized   = "ALREADY_INITIALIZED"
	CodeNotInitialized       = "NOT_INITIALIZED"
	CodeStoreBusy            = "STORE_BUSY"
	CodeInternalError        = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// InvalidProof — 400 транзакция-доказательство не подтверждена.
func InvalidProof(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeInvalidProof, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// UnauthorizedAdmin — 403 вызывающий не администратор реестра.
func UnauthorizedAdmin(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeUnauthorizedAdmin, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Conflict — 409 с кодом конкретного конфликта состояния.
func Conflict(w http.ResponseWriter, code, message string) {
	WriteError(w, http.StatusConflict, code, message)
}

// StoreBusy — 503 хранилище не завершило транзакцию из-за конкуренции.
func StoreBusy(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusServiceUnavailable, CodeStoreBusy, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
