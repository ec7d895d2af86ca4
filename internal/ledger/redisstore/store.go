// Пакет redisstore — бэкенд хранилища реестра на Redis.
//
// Update реализован оптимистичной транзакцией: каждый прочитанный ключ
// ставится под WATCH, записи буферизуются и применяются в MULTI/EXEC.
// Если наблюдаемый ключ изменился, EXEC возвращает redis.TxFailedErr
// и транзакция повторяется целиком.
//
// Ключи каждого пространства имён дополнительно перечислены в sorted set
// <prefix><namespace>#keys (score 0, порядок лексикографический), что даёт
// Scan по префиксу через ZRANGEBYLEX без SCAN по всей базе. Набор ключей
// меняется в том же MULTI/EXEC, что и сами значения.
//
// View читает последние зафиксированные значения ключей без снимка:
// операции чтения реестра обращаются к независимым ключам.
package redisstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/bigkaa/certledger/internal/ledger"
)

const backendName = "redis"

// DefaultKeyPrefix — префикс ключей по умолчанию.
const DefaultKeyPrefix = "certledger:"

// Store — хранилище реестра на Redis.
type Store struct {
	client *redis.Client
	logger *slog.Logger
	retry  ledger.RetryPolicy
	prefix string
}

// Option — функциональная опция Store.
type Option func(*Store)

// WithLogger задаёт логгер.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithRetryPolicy задаёт политику повторов при конфликтах.
func WithRetryPolicy(p ledger.RetryPolicy) Option {
	return func(s *Store) { s.retry = p }
}

// WithKeyPrefix задаёт префикс всех ключей реестра.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// Connect создаёт клиента Redis и проверяет доступность.
func Connect(ctx context.Context, redisOpts *redis.Options, opts ...Option) (*Store, error) {
	s := &Store{
		retry:  ledger.DefaultRetryPolicy(),
		prefix: DefaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	s.logger = s.logger.With(slog.String("component", "redis_store"))

	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ошибка подключения к Redis: %w", err)
	}
	s.client = client

	s.logger.Info("Подключение к Redis установлено",
		slog.String("addr", redisOpts.Addr),
		slog.Int("db", redisOpts.DB),
		slog.String("key_prefix", s.prefix),
	)
	return s, nil
}

// Update выполняет fn в оптимистичной транзакции WATCH/MULTI/EXEC.
func (s *Store) Update(ctx context.Context, fn func(txn ledger.Txn) error) error {
	err := ledger.RunWithRetry(ctx, backendName, s.retry, isConflict, func() error {
		// Ключи добавляются под WATCH по мере чтения внутри fn
		return s.client.Watch(ctx, func(tx *redis.Tx) error {
			t := &txn{
				ctx:      ctx,
				store:    s,
				reader:   tx,
				watcher:  tx,
				writes:   make(map[string]pendingWrite),
				writable: true,
			}
			if err := fn(t); err != nil {
				return err
			}
			if len(t.writes) == 0 {
				return nil
			}
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, k := range t.order {
					w := t.writes[k]
					if w.deleted {
						pipe.Del(ctx, k)
						pipe.ZRem(ctx, w.setKey, w.member)
						continue
					}
					pipe.Set(ctx, k, w.value, 0)
					pipe.ZAdd(ctx, w.setKey, redis.Z{Member: w.member})
				}
				return nil
			})
			return err
		})
	})
	ledger.ObserveTx(backendName, "update", err)
	return err
}

// View выполняет fn на последних зафиксированных значениях.
func (s *Store) View(ctx context.Context, fn func(txn ledger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := fn(&txn{ctx: ctx, store: s, reader: s.client})
	ledger.ObserveTx(backendName, "view", err)
	return err
}

// Ping проверяет подключение к Redis.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close закрывает клиента Redis.
func (s *Store) Close() error {
	return s.client.Close()
}

// redisKey формирует ключ Redis: <prefix><namespace>:<hex key>.
func (s *Store) redisKey(ns ledger.Namespace, key []byte) string {
	return s.prefix + string(ns) + ":" + hex.EncodeToString(key)
}

// keySetKey — sorted set ключей пространства имён.
func (s *Store) keySetKey(ns ledger.Namespace) string {
	return s.prefix + string(ns) + "#keys"
}

// isConflict — наблюдаемый ключ изменён другой транзакцией.
func isConflict(err error) bool {
	return errors.Is(err, redis.TxFailedErr)
}

// txn — реализация ledger.Txn поверх Redis.
type txn struct {
	ctx      context.Context
	store    *Store
	reader   redis.Cmdable
	watcher  *redis.Tx
	writes   map[string]pendingWrite
	order    []string
	writable bool
}

// pendingWrite — буферизованная запись или удаление ключа.
type pendingWrite struct {
	setKey  string
	member  string
	value   []byte
	deleted bool
}

// watch ставит ключи под WATCH внутри Update.
func (t *txn) watch(keys ...string) error {
	if t.watcher == nil {
		return nil
	}
	if err := t.watcher.Watch(t.ctx, keys...).Err(); err != nil {
		return fmt.Errorf("ошибка WATCH: %w", err)
	}
	return nil
}

// read возвращает значение с учётом буфера записей текущей транзакции.
func (t *txn) read(ns ledger.Namespace, key []byte) ([]byte, error) {
	k := t.store.redisKey(ns, key)
	if w, ok := t.writes[k]; ok {
		if w.deleted {
			return nil, ledger.ErrKeyNotFound
		}
		return w.value, nil
	}
	if err := t.watch(k); err != nil {
		return nil, err
	}
	v, err := t.reader.Get(t.ctx, k).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ledger.ErrKeyNotFound
		}
		return nil, fmt.Errorf("ошибка чтения ключа: %w", err)
	}
	return v, nil
}

// buffer добавляет запись в буфер транзакции.
func (t *txn) buffer(ns ledger.Namespace, key []byte, w pendingWrite) {
	k := t.store.redisKey(ns, key)
	if _, ok := t.writes[k]; !ok {
		t.order = append(t.order, k)
	}
	w.setKey = t.store.keySetKey(ns)
	w.member = hex.EncodeToString(key)
	t.writes[k] = w
}

func (t *txn) Has(ns ledger.Namespace, key []byte) (bool, error) {
	if err := ledger.CheckNamespace(ns); err != nil {
		return false, err
	}
	_, err := t.read(ns, key)
	if err != nil {
		if errors.Is(err, ledger.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (t *txn) Get(ns ledger.Namespace, key []byte) ([]byte, error) {
	if err := ledger.CheckNamespace(ns); err != nil {
		return nil, err
	}
	return t.read(ns, key)
}

func (t *txn) Set(ns ledger.Namespace, key, value []byte) error {
	if err := ledger.CheckNamespace(ns); err != nil {
		return err
	}
	if !t.writable {
		return ledger.ErrReadOnly
	}
	v := make([]byte, len(value))
	copy(v, value)
	t.buffer(ns, key, pendingWrite{value: v})
	return nil
}

func (t *txn) Delete(ns ledger.Namespace, key []byte) error {
	if err := ledger.CheckNamespace(ns); err != nil {
		return err
	}
	if !t.writable {
		return ledger.ErrReadOnly
	}
	t.buffer(ns, key, pendingWrite{deleted: true})
	return nil
}

// Scan выбирает ключи префикса из sorted set пространства имён
// и накладывает буфер записей текущей транзакции. Внутри Update
// sorted set ставится под WATCH: появление нового ключа с тем же
// префиксом вызывает повтор.
func (t *txn) Scan(ns ledger.Namespace, prefix []byte, fn func(key, value []byte) error) error {
	if err := ledger.CheckNamespace(ns); err != nil {
		return err
	}
	setKey := t.store.keySetKey(ns)
	hexPrefix := hex.EncodeToString(prefix)
	if err := t.watch(setKey); err != nil {
		return err
	}

	// Члены набора — hex, поэтому "g" больше любого продолжения префикса
	members, err := t.reader.ZRangeByLex(t.ctx, setKey, &redis.ZRangeBy{
		Min: "[" + hexPrefix,
		Max: "(" + hexPrefix + "g",
	}).Result()
	if err != nil {
		return fmt.Errorf("ошибка чтения набора ключей: %w", err)
	}

	found := make(map[string][]byte, len(members))
	if len(members) > 0 {
		keys := make([]string, len(members))
		for i, m := range members {
			keys[i] = t.store.prefix + string(ns) + ":" + m
		}
		if err := t.watch(keys...); err != nil {
			return err
		}
		values, err := t.reader.MGet(t.ctx, keys...).Result()
		if err != nil {
			return fmt.Errorf("ошибка чтения ключей: %w", err)
		}
		for i, v := range values {
			// Ключ удалён между ZRANGEBYLEX и MGET
			if str, ok := v.(string); ok {
				found[members[i]] = []byte(str)
			}
		}
	}

	for _, w := range t.writes {
		if w.setKey != setKey || !strings.HasPrefix(w.member, hexPrefix) {
			continue
		}
		if w.deleted {
			delete(found, w.member)
			continue
		}
		found[w.member] = w.value
	}

	for _, m := range slices.Sorted(maps.Keys(found)) {
		key, err := hex.DecodeString(m)
		if err != nil {
			return fmt.Errorf("повреждённый ключ %q в наборе: %w", m, err)
		}
		value := make([]byte, len(found[m]))
		copy(value, found[m])
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return nil
}
