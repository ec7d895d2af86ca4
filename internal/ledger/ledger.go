// Пакет ledger — транзакционное key-value хранилище реестра.
//
// Хранилище разделено на пространства имён:
//   - instance — singleton-конфигурация (администратор реестра)
//   - persistent — записи сертификатов (ключ — хэш файла)
//   - index — вторичные индексы (владелец, статус), одна запись на ключ
//
// Каждая операция реестра выполняется одной транзакцией Update или View.
// Транзакции, затрагивающие разные ключи, не конфликтуют между собой.
// Конфликт возникает, только если ключ, прочитанный или записанный
// транзакцией, изменила другая транзакция. Бэкенды повторяют транзакцию
// при конфликте, поэтому функция транзакции не должна иметь внешних
// побочных эффектов.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace — пространство имён ключей.
type Namespace string

const (
	// NamespaceInstance — singleton-значения реестра
	NamespaceInstance Namespace = "instance"
	// NamespacePersistent — записи сертификатов
	NamespacePersistent Namespace = "persistent"
	// NamespaceIndex — вторичные индексы
	NamespaceIndex Namespace = "index"
)

// Valid проверяет, что пространство имён известно.
func (ns Namespace) Valid() bool {
	switch ns {
	case NamespaceInstance, NamespacePersistent, NamespaceIndex:
		return true
	default:
		return false
	}
}

// Ошибки хранилища.
var (
	// ErrKeyNotFound — ключ отсутствует в пространстве имён.
	ErrKeyNotFound = errors.New("ключ не найден")
	// ErrTxConflict — транзакция не завершилась после всех повторов.
	ErrTxConflict = errors.New("конфликт транзакции: превышено число повторов")
	// ErrReadOnly — попытка записи в транзакции View.
	ErrReadOnly = errors.New("запись в read-only транзакции")
	// ErrInvalidNamespace — неизвестное пространство имён.
	ErrInvalidNamespace = errors.New("неизвестное пространство имён")
)

// Txn — операции внутри одной транзакции.
type Txn interface {
	// Has сообщает, существует ли ключ.
	Has(ns Namespace, key []byte) (bool, error)
	// Get возвращает значение ключа или ErrKeyNotFound.
	Get(ns Namespace, key []byte) ([]byte, error)
	// Set записывает значение ключа.
	Set(ns Namespace, key, value []byte) error
	// Delete удаляет ключ. Удаление отсутствующего ключа — не ошибка.
	Delete(ns Namespace, key []byte) error
	// Scan вызывает fn для каждого ключа с префиксом prefix в порядке
	// возрастания ключей. key и value — копии, fn может их сохранять.
	// Ошибка fn прерывает обход и возвращается из Scan.
	Scan(ns Namespace, prefix []byte, fn func(key, value []byte) error) error
}

// Store — транзакционное хранилище.
type Store interface {
	// Update выполняет fn в read-write транзакции.
	// Ошибка fn откатывает транзакцию целиком.
	Update(ctx context.Context, fn func(txn Txn) error) error
	// View выполняет fn в read-only транзакции.
	View(ctx context.Context, fn func(txn Txn) error) error
	// Ping проверяет доступность хранилища.
	Ping(ctx context.Context) error
	// Close освобождает ресурсы.
	Close() error
}

// DefaultMaxRetries — число попыток транзакции при конфликте по умолчанию.
const DefaultMaxRetries = 5

// Метрики хранилища.
var (
	txRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cl_store_tx_retries_total",
			Help: "Количество повторов транзакций хранилища из-за конфликтов",
		},
		[]string{"backend"},
	)
	txTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cl_store_tx_total",
			Help: "Количество транзакций хранилища по типу и результату",
		},
		[]string{"backend", "mode", "result"},
	)
)

// RetryPolicy — параметры повтора конфликтующих транзакций.
type RetryPolicy struct {
	// MaxAttempts — максимальное число попыток (не меньше 1)
	MaxAttempts int
	// InitialBackoff — пауза перед второй попыткой, далее удваивается
	InitialBackoff time.Duration
}

// DefaultRetryPolicy возвращает политику с DefaultMaxRetries попыток.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxRetries, InitialBackoff: 5 * time.Millisecond}
}

// RunWithRetry выполняет attempt, пока он возвращает ошибку, для которой
// isConflict == true, но не больше MaxAttempts раз. Паузы между попытками
// растут экспоненциально: 5ms, 10ms, 20ms...
func RunWithRetry(ctx context.Context, backend string, p RetryPolicy, isConflict func(error) bool, attempt func() error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		if i > 0 {
			txRetriesTotal.WithLabelValues(backend).Inc()
			backoff := p.InitialBackoff * time.Duration(1<<uint(i-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := attempt()
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("%w: %d попыток (%s): %v", ErrTxConflict, maxAttempts, backend, lastErr)
}

// ObserveTx учитывает транзакцию в метриках.
func ObserveTx(backend, mode string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrTxConflict):
		result = "conflict"
	default:
		result = "error"
	}
	txTotal.WithLabelValues(backend, mode, result).Inc()
}

// CheckNamespace возвращает ErrInvalidNamespace для неизвестных пространств.
func CheckNamespace(ns Namespace) error {
	if !ns.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidNamespace, ns)
	}
	return nil
}

// PrefixEnd возвращает наименьший ключ, больший всех ключей с префиксом
// prefix. nil — верхней границы нет (пустой префикс или все байты 0xff).
func PrefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
