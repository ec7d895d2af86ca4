// Пакет lifecycle — конечный автомат статусов сертификата.
//
// Жизненный цикл:
//   - pending → approved (решение администратора)
//   - pending → rejected (решение администратора с причиной)
//
// approved и rejected — конечные состояния, обратных переходов нет.
// Автомат не хранит состояние: переход применяется к переданной записи,
// атомарность обеспечивает транзакция хранилища.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/bigkaa/certledger/internal/domain/model"
)

// Коды ошибок перехода.
const (
	// CodeInvalidTransition — целевой статус недопустим
	CodeInvalidTransition = "INVALID_TRANSITION"
	// CodeAlreadyProcessed — сертификат уже в конечном статусе
	CodeAlreadyProcessed = "ALREADY_PROCESSED"
)

// validTransitions — матрица допустимых переходов.
var validTransitions = map[model.Status]map[model.Status]bool{
	model.StatusPending:  {model.StatusApproved: true, model.StatusRejected: true},
	model.StatusApproved: {},
	model.StatusRejected: {},
}

// TransitionError — ошибка перехода между статусами.
type TransitionError struct {
	Code    string // INVALID_TRANSITION, ALREADY_PROCESSED
	From    model.Status
	To      model.Status
	Message string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Decision — решение администратора по сертификату.
type Decision struct {
	// Target — approved или rejected
	Target model.Status
	// Admin — кто принял решение
	Admin string
	// At — время решения (доверенные часы хоста)
	At time.Time
	// Reason — причина, только для rejected
	Reason string
}

// IsValidStatus проверяет, что статус известен.
func IsValidStatus(s model.Status) bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminal сообщает, что из статуса нет исходящих переходов.
func IsTerminal(s model.Status) bool {
	return IsValidStatus(s) && len(validTransitions[s]) == 0
}

// CanTransition проверяет допустимость перехода from → to.
func CanTransition(from, to model.Status) bool {
	transitions, ok := validTransitions[from]
	if !ok {
		return false
	}
	return transitions[to]
}

// Apply применяет решение к записи сертификата.
// Запись изменяется только при успешной проверке: admin, validated_at и
// rejection_reason выставляются одним шагом вместе со статусом.
func Apply(cert *model.Certificate, d Decision) error {
	if !IsValidStatus(d.Target) || d.Target == model.StatusPending {
		return &TransitionError{
			Code:    CodeInvalidTransition,
			From:    cert.Status,
			To:      d.Target,
			Message: fmt.Sprintf("недопустимый целевой статус: %q", d.Target),
		}
	}

	if IsTerminal(cert.Status) {
		return &TransitionError{
			Code:    CodeAlreadyProcessed,
			From:    cert.Status,
			To:      d.Target,
			Message: fmt.Sprintf("сертификат уже обработан (%s)", cert.Status),
		}
	}

	if !CanTransition(cert.Status, d.Target) {
		return &TransitionError{
			Code:    CodeInvalidTransition,
			From:    cert.Status,
			To:      d.Target,
			Message: fmt.Sprintf("переход %s → %s недопустим", cert.Status, d.Target),
		}
	}

	admin := d.Admin
	at := d.At.UTC()

	cert.Status = d.Target
	cert.Admin = &admin
	cert.ValidatedAt = &at
	cert.RejectionReason = nil
	if d.Target == model.StatusRejected {
		reason := d.Reason
		cert.RejectionReason = &reason
	}
	return nil
}

// CheckInvariants проверяет согласованность полей записи со статусом.
// Используется при чтении записи из хранилища.
func CheckInvariants(cert *model.Certificate) error {
	if !IsValidStatus(cert.Status) {
		return fmt.Errorf("неизвестный статус %q", cert.Status)
	}
	resolved := cert.Status != model.StatusPending
	if (cert.Admin != nil) != resolved || (cert.ValidatedAt != nil) != resolved {
		return fmt.Errorf("admin/validated_at не согласованы со статусом %s", cert.Status)
	}
	if (cert.RejectionReason != nil) != (cert.Status == model.StatusRejected) {
		return fmt.Errorf("rejection_reason не согласован со статусом %s", cert.Status)
	}
	return nil
}

// ParseStatus преобразует строку в Status.
func ParseStatus(s string) (model.Status, error) {
	st := model.Status(s)
	if !IsValidStatus(st) {
		return "", fmt.Errorf("недопустимый статус: %q, допустимые: pending, approved, rejected", s)
	}
	return st, nil
}
