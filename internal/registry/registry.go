// Пакет registry — реестр сертификатов: жизненный цикл записи
// и полномочия администратора.
//
// Каждая изменяющая операция выполняется одной транзакцией хранилища:
// проверки предусловий и запись (вместе с индексами) либо применяются
// целиком, либо не применяются вовсе. Гонку двух решений по одному
// сертификату разрешает изоляция транзакций хранилища: победитель видит
// pending, проигравший после повтора видит конечный статус и получает
// ErrAlreadyProcessed.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/certledger/internal/domain/lifecycle"
	"github.com/bigkaa/certledger/internal/domain/model"
	"github.com/bigkaa/certledger/internal/ledger"
)

// Ограничения входных данных.
const (
	// MaxIdentityLength — максимальная длина идентификатора (байт)
	MaxIdentityLength = 128
	// MaxReasonLength — максимальная длина причины отклонения (байт)
	MaxReasonLength = 256
)

// configKey — ключ singleton-конфигурации в пространстве instance.
var configKey = []byte("config")

// operationsTotal — счётчик операций реестра по результату.
var operationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cl_registry_operations_total",
		Help: "Количество операций реестра по типу и коду результата",
	},
	[]string{"operation", "result"},
)

// Registry — реестр сертификатов.
type Registry struct {
	store    ledger.Store
	auth     Authorizer
	clock    Clock
	verifier TxVerifier
	cache    *Cache
	logger   *slog.Logger
}

// Option — функциональная опция Registry.
type Option func(*Registry)

// WithClock задаёт источник времени.
func WithClock(c Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithVerifier задаёт проверку транзакции-доказательства.
func WithVerifier(v TxVerifier) Option {
	return func(r *Registry) { r.verifier = v }
}

// WithCache задаёт кэш решённых сертификатов (nil — без кэша).
func WithCache(c *Cache) Option {
	return func(r *Registry) { r.cache = c }
}

// WithLogger задаёт логгер.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// New создаёт реестр поверх хранилища.
// auth проверяет полномочия администратора при одобрении и отклонении.
func New(store ledger.Store, auth Authorizer, opts ...Option) *Registry {
	r := &Registry{
		store:    store,
		auth:     auth,
		clock:    SystemClock{},
		verifier: AcceptAll{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	r.logger = r.logger.With(slog.String("component", "registry"))
	return r
}

// Initialize назначает администратора реестра.
// Инициализация однократная: повтор с тем же администратором успешен
// и ничего не меняет, с другим — ErrAlreadyInitialized.
func (r *Registry) Initialize(ctx context.Context, admin string) (err error) {
	defer observe("initialize", &err)

	if err := validateIdentity("admin", admin); err != nil {
		return err
	}
	now := r.clock.Now()

	var created bool
	err = r.store.Update(ctx, func(txn ledger.Txn) error {
		created = false
		cfg, err := loadConfig(txn)
		switch {
		case err == nil:
			if cfg.Admin == admin {
				return nil
			}
			return fmt.Errorf("%w: администратор %s", ErrAlreadyInitialized, cfg.Admin)
		case !errors.Is(err, ErrNotInitialized):
			return err
		}

		data, err := json.Marshal(model.RegistryConfig{Admin: admin, InitializedAt: now})
		if err != nil {
			return fmt.Errorf("сериализация конфигурации: %w", err)
		}
		created = true
		return txn.Set(ledger.NamespaceInstance, configKey, data)
	})
	if err != nil {
		return err
	}

	if created {
		r.logger.Info("Реестр инициализирован", slog.String("admin", admin))
	}
	return nil
}

// Admin возвращает конфигурацию реестра или ErrNotInitialized.
func (r *Registry) Admin(ctx context.Context) (cfg *model.RegistryConfig, err error) {
	defer observe("admin", &err)

	err = r.store.View(ctx, func(txn ledger.Txn) error {
		var err error
		cfg, err = loadConfig(txn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// RegisterCertificate регистрирует сертификат в статусе pending.
// Авторизация владельца не требуется: доказательством служит txHash,
// который проверяет TxVerifier до открытия транзакции.
func (r *Registry) RegisterCertificate(ctx context.Context, owner string, fileHash, txHash model.Hash32) (cert *model.Certificate, err error) {
	defer observe("register", &err)

	if err := validateIdentity("owner", owner); err != nil {
		return nil, err
	}
	if fileHash.IsZero() || txHash.IsZero() {
		return nil, fmt.Errorf("%w: нулевой хэш файла или транзакции", ErrValidation)
	}

	if err := r.verifier.VerifyTx(ctx, owner, fileHash, txHash); err != nil {
		return nil, fmt.Errorf("проверка транзакции %s: %w", txHash, err)
	}

	cert = &model.Certificate{
		FileHash:     fileHash,
		Owner:        owner,
		TxHash:       txHash,
		Status:       model.StatusPending,
		RegisteredAt: r.clock.Now(),
	}

	err = r.store.Update(ctx, func(txn ledger.Txn) error {
		exists, err := txn.Has(ledger.NamespacePersistent, fileHash[:])
		if err != nil {
			return fmt.Errorf("проверка существования: %w", err)
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrDuplicateCertificate, fileHash)
		}
		if err := saveCertificate(txn, cert); err != nil {
			return err
		}
		return indexAdd(txn, cert)
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("Сертификат зарегистрирован",
		slog.String("file_hash", fileHash.String()),
		slog.String("owner", owner),
		slog.String("tx_hash", txHash.String()),
	)
	return cert, nil
}

// ApproveCertificate одобряет pending-сертификат.
func (r *Registry) ApproveCertificate(ctx context.Context, admin string, fileHash model.Hash32) (cert *model.Certificate, err error) {
	defer observe("approve", &err)
	return r.decide(ctx, admin, fileHash, lifecycle.Decision{Target: model.StatusApproved})
}

// RejectCertificate отклоняет pending-сертификат с причиной.
// Причина — от 1 до MaxReasonLength байт корректного UTF-8.
func (r *Registry) RejectCertificate(ctx context.Context, admin string, fileHash model.Hash32, reason string) (cert *model.Certificate, err error) {
	defer observe("reject", &err)
	return r.decide(ctx, admin, fileHash, lifecycle.Decision{Target: model.StatusRejected, Reason: reason})
}

// decide проверяет полномочия и применяет решение в одной транзакции.
// Порядок проверок: доказательство полномочий, инициализация, совпадение
// с администратором реестра, существование записи, статус pending.
func (r *Registry) decide(ctx context.Context, admin string, fileHash model.Hash32, d lifecycle.Decision) (*model.Certificate, error) {
	if err := r.auth.RequireAuth(ctx, admin); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	d.Admin = admin
	d.At = r.clock.Now()

	var result *model.Certificate
	err := r.store.Update(ctx, func(txn ledger.Txn) error {
		cfg, err := loadConfig(txn)
		if err != nil {
			return err
		}
		if cfg.Admin != admin {
			return fmt.Errorf("%w: %s не является администратором реестра", ErrUnauthorized, admin)
		}
		if d.Target == model.StatusRejected {
			if err := validateReason(d.Reason); err != nil {
				return err
			}
		}

		cert, err := loadCertificate(txn, fileHash)
		if err != nil {
			return err
		}
		from := cert.Status

		if err := lifecycle.Apply(cert, d); err != nil {
			var te *lifecycle.TransitionError
			if errors.As(err, &te) && te.Code == lifecycle.CodeAlreadyProcessed {
				return fmt.Errorf("%w: %s (%s)", ErrAlreadyProcessed, fileHash, te.From)
			}
			return err
		}

		if err := saveCertificate(txn, cert); err != nil {
			return err
		}
		if err := indexMove(txn, cert, from); err != nil {
			return err
		}
		result = cert
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.cache.Add(result)

	attrs := []any{
		slog.String("file_hash", fileHash.String()),
		slog.String("admin", admin),
		slog.String("status", string(result.Status)),
	}
	if result.RejectionReason != nil {
		attrs = append(attrs, slog.String("reason", *result.RejectionReason))
	}
	r.logger.Info("Решение по сертификату принято", attrs...)
	return result, nil
}

// GetCertificate возвращает сертификат по хэшу файла.
func (r *Registry) GetCertificate(ctx context.Context, fileHash model.Hash32) (cert *model.Certificate, err error) {
	defer observe("get", &err)
	return r.getCertificate(ctx, fileHash)
}

// IsApproved сообщает, одобрен ли сертификат.
func (r *Registry) IsApproved(ctx context.Context, fileHash model.Hash32) (approved bool, err error) {
	defer observe("is_approved", &err)

	cert, err := r.getCertificate(ctx, fileHash)
	if err != nil {
		return false, err
	}
	return cert.Status == model.StatusApproved, nil
}

func (r *Registry) getCertificate(ctx context.Context, fileHash model.Hash32) (*model.Certificate, error) {
	if cert, ok := r.cache.Get(fileHash); ok {
		return cert, nil
	}

	var cert *model.Certificate
	err := r.store.View(ctx, func(txn ledger.Txn) error {
		var err error
		cert, err = loadCertificate(txn, fileHash)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.cache.Add(cert)
	return cert, nil
}

// Verification — результат повторной проверки доказательства сертификата.
type Verification struct {
	FileHash model.Hash32 `json:"file_hash"`
	TxHash   model.Hash32 `json:"tx_hash"`
	Owner    string       `json:"owner"`
	Valid    bool         `json:"valid"`
	// Reason — почему доказательство не принято (пусто при Valid)
	Reason string `json:"reason,omitempty"`
}

// VerifyCertificate повторно проверяет транзакцию-доказательство
// сохранённого сертификата. Запись не меняется. Отклонение доказательства
// верификатором — Valid == false, сбой самой проверки — ошибка.
func (r *Registry) VerifyCertificate(ctx context.Context, fileHash model.Hash32) (v *Verification, err error) {
	defer observe("verify", &err)

	cert, err := r.getCertificate(ctx, fileHash)
	if err != nil {
		return nil, err
	}

	v = &Verification{
		FileHash: cert.FileHash,
		TxHash:   cert.TxHash,
		Owner:    cert.Owner,
		Valid:    true,
	}
	if err := r.verifier.VerifyTx(ctx, cert.Owner, cert.FileHash, cert.TxHash); err != nil {
		if !errors.Is(err, ErrInvalidProof) {
			return nil, fmt.Errorf("проверка транзакции %s: %w", cert.TxHash, err)
		}
		v.Valid = false
		v.Reason = err.Error()
	}

	r.logger.Debug("Доказательство сертификата проверено",
		slog.String("file_hash", fileHash.String()),
		slog.Bool("valid", v.Valid),
	)
	return v, nil
}

// ListByOwner возвращает сертификаты владельца, новые первыми.
// status == "" — без фильтра по статусу.
func (r *Registry) ListByOwner(ctx context.Context, owner string, status model.Status) (certs []*model.Certificate, err error) {
	defer observe("list_by_owner", &err)

	if err := validateIdentity("owner", owner); err != nil {
		return nil, err
	}
	if status != "" && !lifecycle.IsValidStatus(status) {
		return nil, fmt.Errorf("%w: недопустимый статус %q", ErrValidation, status)
	}
	return r.listIndex(ctx, ownerIndexPrefix(owner), status)
}

// ListByStatus возвращает сертификаты в статусе, новые первыми.
func (r *Registry) ListByStatus(ctx context.Context, status model.Status) (certs []*model.Certificate, err error) {
	defer observe("list_by_status", &err)

	if !lifecycle.IsValidStatus(status) {
		return nil, fmt.Errorf("%w: недопустимый статус %q", ErrValidation, status)
	}
	return r.listIndex(ctx, statusIndexPrefix(status), "")
}

// OwnerStats возвращает счётчики сертификатов владельца по статусам.
func (r *Registry) OwnerStats(ctx context.Context, owner string) (stats model.OwnerStats, err error) {
	defer observe("owner_stats", &err)

	if err := validateIdentity("owner", owner); err != nil {
		return stats, err
	}
	certs, err := r.listIndex(ctx, ownerIndexPrefix(owner), "")
	if err != nil {
		return stats, err
	}

	stats.Total = len(certs)
	for _, c := range certs {
		switch c.Status {
		case model.StatusPending:
			stats.Pending++
		case model.StatusApproved:
			stats.Approved++
		case model.StatusRejected:
			stats.Rejected++
		}
	}
	return stats, nil
}

// listIndex читает индекс и записи одним снимком, новые первыми.
func (r *Registry) listIndex(ctx context.Context, prefix []byte, status model.Status) ([]*model.Certificate, error) {
	certs := []*model.Certificate{}
	err := r.store.View(ctx, func(txn ledger.Txn) error {
		certs = certs[:0]
		hashes, err := scanIndex(txn, prefix)
		if err != nil {
			return err
		}
		for _, h := range slices.Backward(hashes) {
			cert, err := loadCertificate(txn, h)
			if err != nil {
				return fmt.Errorf("индекс %q: %w", prefix, err)
			}
			if status != "" && cert.Status != status {
				continue
			}
			certs = append(certs, cert)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return certs, nil
}

// loadConfig читает конфигурацию реестра.
func loadConfig(txn ledger.Txn) (*model.RegistryConfig, error) {
	data, err := txn.Get(ledger.NamespaceInstance, configKey)
	if err != nil {
		if errors.Is(err, ledger.ErrKeyNotFound) {
			return nil, ErrNotInitialized
		}
		return nil, fmt.Errorf("чтение конфигурации: %w", err)
	}
	var cfg model.RegistryConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("повреждённая конфигурация: %w", err)
	}
	return &cfg, nil
}

// loadCertificate читает запись и проверяет её согласованность.
func loadCertificate(txn ledger.Txn, fileHash model.Hash32) (*model.Certificate, error) {
	data, err := txn.Get(ledger.NamespacePersistent, fileHash[:])
	if err != nil {
		if errors.Is(err, ledger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, fileHash)
		}
		return nil, fmt.Errorf("чтение сертификата: %w", err)
	}
	var cert model.Certificate
	if err := json.Unmarshal(data, &cert); err != nil {
		return nil, fmt.Errorf("повреждённая запись %s: %w", fileHash, err)
	}
	if err := lifecycle.CheckInvariants(&cert); err != nil {
		return nil, fmt.Errorf("несогласованная запись %s: %w", fileHash, err)
	}
	return &cert, nil
}

func saveCertificate(txn ledger.Txn, cert *model.Certificate) error {
	data, err := json.Marshal(cert)
	if err != nil {
		return fmt.Errorf("сериализация сертификата: %w", err)
	}
	return txn.Set(ledger.NamespacePersistent, cert.FileHash[:], data)
}

// validateIdentity проверяет идентификатор владельца или администратора.
func validateIdentity(field, id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: %s не может быть пустым", ErrValidation, field)
	case len(id) > MaxIdentityLength:
		return fmt.Errorf("%w: %s длиннее %d байт", ErrValidation, field, MaxIdentityLength)
	case !utf8.ValidString(id):
		return fmt.Errorf("%w: %s содержит некорректный UTF-8", ErrValidation, field)
	case strings.ContainsFunc(id, unicode.IsSpace):
		return fmt.Errorf("%w: %s содержит пробельные символы", ErrValidation, field)
	}
	return nil
}

// validateReason проверяет причину отклонения.
func validateReason(reason string) error {
	switch {
	case reason == "":
		return fmt.Errorf("%w: причина отклонения не может быть пустой", ErrValidation)
	case len(reason) > MaxReasonLength:
		return fmt.Errorf("%w: причина отклонения длиннее %d байт", ErrValidation, MaxReasonLength)
	case !utf8.ValidString(reason):
		return fmt.Errorf("%w: причина отклонения содержит некорректный UTF-8", ErrValidation)
	}
	return nil
}

// observe учитывает операцию в метриках по коду результата.
func observe(operation string, err *error) {
	operationsTotal.WithLabelValues(operation, Code(*err)).Inc()
}
