// Пакет badgerstore — встроенный бэкенд хранилища на Badger.
//
// Без пути данных база открывается в памяти (разработка, тесты).
// Badger обеспечивает serializable snapshot isolation: конфликт записи
// возвращается при коммите как badger.ErrConflict, транзакция повторяется.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/bigkaa/certledger/internal/ledger"
)

const backendName = "badger"

// keySeparator отделяет пространство имён от ключа.
const keySeparator = 0x00

// Store — хранилище реестра на Badger.
type Store struct {
	db         *badger.DB
	logger     *slog.Logger
	retry      ledger.RetryPolicy
	dataDir    string
	gcInterval time.Duration
	gcTicker   *time.Ticker
	gcStopCh   chan struct{}
	gcWg       sync.WaitGroup
}

// Option — функциональная опция Store.
type Option func(*Store)

// WithDataDir задаёт директорию данных. Пустая строка — in-memory.
func WithDataDir(dir string) Option {
	return func(s *Store) { s.dataDir = dir }
}

// WithLogger задаёт логгер.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithRetryPolicy задаёт политику повторов при конфликтах.
func WithRetryPolicy(p ledger.RetryPolicy) Option {
	return func(s *Store) { s.retry = p }
}

// WithGCInterval задаёт интервал сборки мусора value log (0 — отключено).
func WithGCInterval(d time.Duration) Option {
	return func(s *Store) { s.gcInterval = d }
}

// New открывает базу Badger.
func New(opts ...Option) (*Store, error) {
	s := &Store{
		retry:      ledger.DefaultRetryPolicy(),
		gcInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	s.logger = s.logger.With(slog.String("component", "badger_store"))

	var badgerOpts badger.Options
	if s.dataDir == "" {
		badgerOpts = badger.DefaultOptions("").
			WithInMemory(true)
		// GC value log бессмыслен для in-memory
		s.gcInterval = 0
	} else {
		if err := os.MkdirAll(s.dataDir, 0o750); err != nil {
			return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", s.dataDir, err)
		}
		badgerOpts = badger.DefaultOptions(s.dataDir).
			WithCompression(options.Snappy)
	}
	badgerOpts = badgerOpts.
		WithLogger(newBadgerLogger(s.logger)).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия Badger: %w", err)
	}
	s.db = db

	if s.gcInterval > 0 {
		s.gcTicker = time.NewTicker(s.gcInterval)
		s.gcStopCh = make(chan struct{})
		s.gcWg.Add(1)
		go s.runGC(s.gcTicker, s.gcStopCh)
	}

	s.logger.Info("Хранилище Badger открыто",
		slog.String("data_dir", s.dataDir),
		slog.Bool("in_memory", s.dataDir == ""),
	)
	return s, nil
}

// Update выполняет fn в read-write транзакции с повтором при конфликте.
func (s *Store) Update(ctx context.Context, fn func(txn ledger.Txn) error) error {
	err := ledger.RunWithRetry(ctx, backendName, s.retry, isConflict, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return s.db.Update(func(btx *badger.Txn) error {
			return fn(&txn{tx: btx, writable: true})
		})
	})
	ledger.ObserveTx(backendName, "update", err)
	return err
}

// View выполняет fn в read-only транзакции (snapshot).
func (s *Store) View(ctx context.Context, fn func(txn ledger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.View(func(btx *badger.Txn) error {
		return fn(&txn{tx: btx})
	})
	ledger.ObserveTx(backendName, "view", err)
	return err
}

// Ping проверяет, что база открыта.
func (s *Store) Ping(_ context.Context) error {
	if s.db.IsClosed() {
		return errors.New("база Badger закрыта")
	}
	return nil
}

// Close останавливает GC и закрывает базу.
func (s *Store) Close() error {
	if s.gcTicker != nil {
		s.gcTicker.Stop()
		close(s.gcStopCh)
		s.gcWg.Wait()
		s.gcTicker = nil
	}
	return s.db.Close()
}

// runGC периодически запускает сборку мусора value log.
func (s *Store) runGC(t *time.Ticker, stop <-chan struct{}) {
	defer s.gcWg.Done()
	for {
		select {
		case <-t.C:
			for {
				err := s.db.RunValueLogGC(0.5)
				if err == nil {
					// Повторяем, пока есть что переписывать
					continue
				}
				if !errors.Is(err, badger.ErrNoRewrite) {
					s.logger.Warn("Ошибка GC value log", slog.String("error", err.Error()))
				}
				break
			}
		case <-stop:
			return
		}
	}
}

// isConflict — конфликт оптимистичной транзакции Badger.
func isConflict(err error) bool {
	return errors.Is(err, badger.ErrConflict)
}

// encodeKey формирует ключ Badger: namespace 0x00 key.
func encodeKey(ns ledger.Namespace, key []byte) []byte {
	out := make([]byte, 0, len(ns)+1+len(key))
	out = append(out, ns...)
	out = append(out, keySeparator)
	return append(out, key...)
}

// txn — обёртка над *badger.Txn, реализует ledger.Txn.
type txn struct {
	tx       *badger.Txn
	writable bool
}

func (t *txn) Has(ns ledger.Namespace, key []byte) (bool, error) {
	if err := ledger.CheckNamespace(ns); err != nil {
		return false, err
	}
	_, err := t.tx.Get(encodeKey(ns, key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("ошибка чтения ключа: %w", err)
	}
	return true, nil
}

func (t *txn) Get(ns ledger.Namespace, key []byte) ([]byte, error) {
	if err := ledger.CheckNamespace(ns); err != nil {
		return nil, err
	}
	item, err := t.tx.Get(encodeKey(ns, key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ledger.ErrKeyNotFound
		}
		return nil, fmt.Errorf("ошибка чтения ключа: %w", err)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка копирования значения: %w", err)
	}
	return val, nil
}

func (t *txn) Set(ns ledger.Namespace, key, value []byte) error {
	if err := ledger.CheckNamespace(ns); err != nil {
		return err
	}
	if !t.writable {
		return ledger.ErrReadOnly
	}
	if err := t.tx.Set(encodeKey(ns, key), value); err != nil {
		return fmt.Errorf("ошибка записи ключа: %w", err)
	}
	return nil
}

func (t *txn) Delete(ns ledger.Namespace, key []byte) error {
	if err := ledger.CheckNamespace(ns); err != nil {
		return err
	}
	if !t.writable {
		return ledger.ErrReadOnly
	}
	if err := t.tx.Delete(encodeKey(ns, key)); err != nil {
		return fmt.Errorf("ошибка удаления ключа: %w", err)
	}
	return nil
}

// Scan обходит ключи префикса итератором Badger. В read-write транзакции
// итератор видит и незафиксированные записи этой транзакции.
func (t *txn) Scan(ns ledger.Namespace, prefix []byte, fn func(key, value []byte) error) error {
	if err := ledger.CheckNamespace(ns); err != nil {
		return err
	}
	full := encodeKey(ns, prefix)
	nsLen := len(ns) + 1

	opts := badger.DefaultIteratorOptions
	opts.Prefix = full
	it := t.tx.NewIterator(opts)
	defer it.Close()

	for it.Seek(full); it.ValidForPrefix(full); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)[nsLen:]
		val, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("ошибка копирования значения: %w", err)
		}
		if err := fn(key, val); err != nil {
			return err
		}
	}
	return nil
}

// badgerLogger — адаптер badger.Logger поверх slog.
type badgerLogger struct {
	logger *slog.Logger
}

func newBadgerLogger(logger *slog.Logger) *badgerLogger {
	return &badgerLogger{logger: logger}
}

func (l *badgerLogger) Errorf(msg string, args ...any) {
	l.logger.Error(fmt.Sprintf("badger: "+msg, args...))
}

func (l *badgerLogger) Warningf(msg string, args ...any) {
	l.logger.Warn(fmt.Sprintf("badger: "+msg, args...))
}

func (l *badgerLogger) Infof(msg string, args ...any) {
	l.logger.Info(fmt.Sprintf("badger: "+msg, args...))
}

func (l *badgerLogger) Debugf(msg string, args ...any) {
	l.logger.Debug(fmt.Sprintf("badger: "+msg, args...))
}
