// errors.go — ошибки реестра сертификатов.
package registry

import (
	"errors"

	"github.com/bigkaa/certledger/internal/ledger"
)

var (
	// ErrDuplicateCertificate — сертификат с таким хэшем файла уже зарегистрирован.
	ErrDuplicateCertificate = errors.New("сертификат уже зарегистрирован")
	// ErrNotFound — сертификат не найден.
	ErrNotFound = errors.New("сертификат не найден")
	// ErrAlreadyProcessed — сертификат уже одобрен или отклонён.
	ErrAlreadyProcessed = errors.New("сертификат уже обработан")
	// ErrUnauthorized — вызывающий не является администратором реестра.
	ErrUnauthorized = errors.New("нет прав администратора")
	// ErrNotInitialized — реестр не инициализирован.
	ErrNotInitialized = errors.New("реестр не инициализирован")
	// ErrAlreadyInitialized — реестр уже инициализирован другим администратором.
	ErrAlreadyInitialized = errors.New("реестр уже инициализирован")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrInvalidProof — транзакция-доказательство не прошла проверку.
	ErrInvalidProof = errors.New("транзакция-доказательство не подтверждена")
)

// Коды ошибок реестра (метрики, JSON-ответы API).
const (
	CodeOK                   = "OK"
	CodeDuplicateCertificate = "DUPLICATE_CERTIFICATE"
	CodeNotFound             = "NOT_FOUND"
	CodeAlreadyProcessed     = "ALREADY_PROCESSED"
	CodeUnauthorized         = "UNAUTHORIZED_ADMIN"
	CodeNotInitialized       = "NOT_INITIALIZED"
	CodeAlreadyInitialized   = "ALREADY_INITIALIZED"
	CodeValidation           = "VALIDATION_ERROR"
	CodeInvalidProof         = "INVALID_PROOF"
	CodeStoreBusy            = "STORE_BUSY"
	CodeInternal             = "INTERNAL_ERROR"
)

// codes — соответствие sentinel-ошибок кодам, порядок проверки важен
// только для ошибок, обёрнутых несколькими sentinel одновременно.
var codes = []struct {
	err  error
	code string
}{
	{ErrValidation, CodeValidation},
	{ErrInvalidProof, CodeInvalidProof},
	{ErrUnauthorized, CodeUnauthorized},
	{ErrNotInitialized, CodeNotInitialized},
	{ErrAlreadyInitialized, CodeAlreadyInitialized},
	{ErrNotFound, CodeNotFound},
	{ErrDuplicateCertificate, CodeDuplicateCertificate},
	{ErrAlreadyProcessed, CodeAlreadyProcessed},
	{ledger.ErrTxConflict, CodeStoreBusy},
}

// Code возвращает код ошибки реестра. Для nil — CodeOK,
// для неизвестных ошибок — CodeInternal.
func Code(err error) string {
	if err == nil {
		return CodeOK
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}
