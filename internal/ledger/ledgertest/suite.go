// Пакет ledgertest — общий набор тестов для бэкендов ledger.Store.
// Каждый бэкенд вызывает Run со своей фабрикой хранилища.
package ledgertest

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bigkaa/certledger/internal/ledger"
)

// Factory создаёт пустое хранилище для одного теста.
// Закрытие хранилища регистрируется через t.Cleanup внутри фабрики.
type Factory func(t *testing.T) ledger.Store

// errAbort — ошибка, которой тесты прерывают транзакцию.
var errAbort = errors.New("прервано тестом")

// Run запускает все проверки контракта ledger.Store.
func Run(t *testing.T, newStore Factory) {
	t.Run("SetGetHas", func(t *testing.T) { testSetGetHas(t, newStore(t)) })
	t.Run("NamespacesIsolated", func(t *testing.T) { testNamespacesIsolated(t, newStore(t)) })
	t.Run("AbortRollsBack", func(t *testing.T) { testAbortRollsBack(t, newStore(t)) })
	t.Run("ViewIsReadOnly", func(t *testing.T) { testViewIsReadOnly(t, newStore(t)) })
	t.Run("InvalidNamespace", func(t *testing.T) { testInvalidNamespace(t, newStore(t)) })
	t.Run("ConcurrentIncrements", func(t *testing.T) { testConcurrentIncrements(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("ScanPrefix", func(t *testing.T) { testScanPrefix(t, newStore(t)) })
	t.Run("ScanSeesOwnWrites", func(t *testing.T) { testScanSeesOwnWrites(t, newStore(t)) })
	t.Run("DisjointUpdates", func(t *testing.T) { testDisjointUpdates(t, newStore(t)) })
	t.Run("Ping", func(t *testing.T) {
		if err := newStore(t).Ping(context.Background()); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	})
}

func testSetGetHas(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	key := []byte{0xde, 0xad, 0xbe, 0xef}

	err := s.View(ctx, func(txn ledger.Txn) error {
		ok, err := txn.Has(ledger.NamespacePersistent, key)
		if err != nil {
			return err
		}
		if ok {
			t.Error("Has до записи: ожидалось false")
		}
		if _, err := txn.Get(ledger.NamespacePersistent, key); !errors.Is(err, ledger.ErrKeyNotFound) {
			t.Errorf("Get до записи: ожидалась ErrKeyNotFound, получено %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}

	if err := s.Update(ctx, func(txn ledger.Txn) error {
		return txn.Set(ledger.NamespacePersistent, key, []byte("v1"))
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// Перезапись
	if err := s.Update(ctx, func(txn ledger.Txn) error {
		got, err := txn.Get(ledger.NamespacePersistent, key)
		if err != nil {
			return err
		}
		if string(got) != "v1" {
			t.Errorf("Get внутри Update = %q, ожидалось v1", got)
		}
		return txn.Set(ledger.NamespacePersistent, key, []byte("v2"))
	}); err != nil {
		t.Fatalf("Update (перезапись): %v", err)
	}

	err = s.View(ctx, func(txn ledger.Txn) error {
		ok, err := txn.Has(ledger.NamespacePersistent, key)
		if err != nil {
			return err
		}
		if !ok {
			t.Error("Has после записи: ожидалось true")
		}
		got, err := txn.Get(ledger.NamespacePersistent, key)
		if err != nil {
			return err
		}
		if string(got) != "v2" {
			t.Errorf("Get = %q, ожидалось v2", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func testNamespacesIsolated(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	key := []byte("admin")

	if err := s.Update(ctx, func(txn ledger.Txn) error {
		return txn.Set(ledger.NamespaceInstance, key, []byte("instance-value"))
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	err := s.View(ctx, func(txn ledger.Txn) error {
		for _, ns := range []ledger.Namespace{ledger.NamespacePersistent, ledger.NamespaceIndex} {
			ok, err := txn.Has(ns, key)
			if err != nil {
				return err
			}
			if ok {
				t.Errorf("ключ из instance виден в %s", ns)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func testAbortRollsBack(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	err := s.Update(ctx, func(txn ledger.Txn) error {
		if err := txn.Set(ledger.NamespacePersistent, []byte("a"), []byte("1")); err != nil {
			return err
		}
		if err := txn.Set(ledger.NamespaceIndex, []byte("b"), []byte("2")); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("Update: ожидалась errAbort, получено %v", err)
	}

	err = s.View(ctx, func(txn ledger.Txn) error {
		for _, k := range []struct {
			ns  ledger.Namespace
			key string
		}{{ledger.NamespacePersistent, "a"}, {ledger.NamespaceIndex, "b"}} {
			ok, err := txn.Has(k.ns, []byte(k.key))
			if err != nil {
				return err
			}
			if ok {
				t.Errorf("ключ %s/%s записан несмотря на откат", k.ns, k.key)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func testViewIsReadOnly(t *testing.T, s ledger.Store) {
	err := s.View(context.Background(), func(txn ledger.Txn) error {
		return txn.Set(ledger.NamespacePersistent, []byte("x"), []byte("y"))
	})
	if err == nil {
		t.Fatal("Set внутри View: ожидалась ошибка")
	}
}

func testInvalidNamespace(t *testing.T, s ledger.Store) {
	err := s.Update(context.Background(), func(txn ledger.Txn) error {
		return txn.Set(ledger.Namespace("bogus"), []byte("x"), []byte("y"))
	})
	if !errors.Is(err, ledger.ErrInvalidNamespace) {
		t.Fatalf("ожидалась ErrInvalidNamespace, получено %v", err)
	}
}

// testConcurrentIncrements проверяет изоляцию: параллельные
// read-modify-write одного ключа не теряют обновлений.
func testConcurrentIncrements(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	key := []byte("counter")
	const workers = 8

	if err := s.Update(ctx, func(txn ledger.Txn) error {
		return txn.Set(ledger.NamespaceIndex, key, []byte{0})
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	var wg sync.WaitGroup
	var failed atomic.Int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(ctx, func(txn ledger.Txn) error {
				v, err := txn.Get(ledger.NamespaceIndex, key)
				if err != nil {
					return err
				}
				return txn.Set(ledger.NamespaceIndex, key, []byte{v[0] + 1})
			})
			if err != nil {
				// Исчерпание повторов допустимо, потерянное обновление — нет
				if !errors.Is(err, ledger.ErrTxConflict) {
					t.Errorf("Update: %v", err)
				}
				failed.Add(1)
			}
		}()
	}
	wg.Wait()

	err := s.View(ctx, func(txn ledger.Txn) error {
		v, err := txn.Get(ledger.NamespaceIndex, key)
		if err != nil {
			return err
		}
		want := byte(workers - int(failed.Load()))
		if v[0] != want {
			t.Errorf("counter = %d, ожидалось %d", v[0], want)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func testDelete(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	key := []byte("k")

	if err := s.Update(ctx, func(txn ledger.Txn) error {
		return txn.Set(ledger.NamespaceIndex, key, []byte("v"))
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := s.Update(ctx, func(txn ledger.Txn) error {
		if err := txn.Delete(ledger.NamespaceIndex, key); err != nil {
			return err
		}
		// Удаление видно внутри транзакции
		ok, err := txn.Has(ledger.NamespaceIndex, key)
		if err != nil {
			return err
		}
		if ok {
			t.Error("Has после Delete внутри Update: ожидалось false")
		}
		// Повторное удаление и удаление отсутствующего ключа — не ошибка
		if err := txn.Delete(ledger.NamespaceIndex, key); err != nil {
			return err
		}
		return txn.Delete(ledger.NamespaceIndex, []byte("missing"))
	}); err != nil {
		t.Fatalf("Update (delete): %v", err)
	}

	err := s.View(ctx, func(txn ledger.Txn) error {
		if _, err := txn.Get(ledger.NamespaceIndex, key); !errors.Is(err, ledger.ErrKeyNotFound) {
			t.Errorf("Get после Delete: ожидалась ErrKeyNotFound, получено %v", err)
		}
		return txn.Delete(ledger.NamespaceIndex, key)
	})
	if err == nil {
		t.Error("Delete внутри View: ожидалась ошибка")
	}
}

func testScanPrefix(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	keys := [][]byte{
		[]byte("a/2"),
		[]byte("a/1"),
		{'a', '/', 0xff},
		[]byte("a0"),
		[]byte("b/1"),
		[]byte("a"),
	}

	if err := s.Update(ctx, func(txn ledger.Txn) error {
		for _, k := range keys {
			if err := txn.Set(ledger.NamespaceIndex, k, append([]byte("v:"), k...)); err != nil {
				return err
			}
		}
		// Тот же префикс в другом пространстве имён не должен попасть в Scan
		return txn.Set(ledger.NamespacePersistent, []byte("a/3"), []byte("x"))
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	var got [][]byte
	err := s.View(ctx, func(txn ledger.Txn) error {
		return txn.Scan(ledger.NamespaceIndex, []byte("a/"), func(key, value []byte) error {
			if !bytes.Equal(value, append([]byte("v:"), key...)) {
				t.Errorf("значение ключа %q = %q", key, value)
			}
			got = append(got, key)
			return nil
		})
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}

	want := [][]byte{[]byte("a/1"), []byte("a/2"), {'a', '/', 0xff}}
	if len(got) != len(want) {
		t.Fatalf("Scan вернул %d ключей (%q), ожидалось %d", len(got), got, len(want))
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Errorf("ключ %d = %q, ожидалось %q", i, got[i], want[i])
		}
	}

	// Ошибка fn прерывает обход
	calls := 0
	err = s.View(ctx, func(txn ledger.Txn) error {
		return txn.Scan(ledger.NamespaceIndex, []byte("a/"), func(_, _ []byte) error {
			calls++
			return errAbort
		})
	})
	if !errors.Is(err, errAbort) {
		t.Errorf("Scan: ожидалась errAbort, получено %v", err)
	}
	if calls != 1 {
		t.Errorf("fn вызвана %d раз после ошибки, ожидалось 1", calls)
	}
}

func testScanSeesOwnWrites(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	if err := s.Update(ctx, func(txn ledger.Txn) error {
		if err := txn.Set(ledger.NamespaceIndex, []byte("p/old"), []byte("1")); err != nil {
			return err
		}
		return txn.Set(ledger.NamespaceIndex, []byte("p/gone"), []byte("2"))
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	err := s.Update(ctx, func(txn ledger.Txn) error {
		if err := txn.Delete(ledger.NamespaceIndex, []byte("p/gone")); err != nil {
			return err
		}
		if err := txn.Set(ledger.NamespaceIndex, []byte("p/new"), []byte("3")); err != nil {
			return err
		}
		var got []string
		if err := txn.Scan(ledger.NamespaceIndex, []byte("p/"), func(key, _ []byte) error {
			got = append(got, string(key))
			return nil
		}); err != nil {
			return err
		}
		if len(got) != 2 || got[0] != "p/new" || got[1] != "p/old" {
			t.Errorf("Scan внутри Update = %q, ожидалось [p/new p/old]", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
}

// testDisjointUpdates проверяет, что транзакции над разными ключами
// не конфликтуют: каждая проверяет отсутствие своей записи, создаёт её
// и переносит свою запись индекса между двумя префиксами.
func testDisjointUpdates(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	const workers = 32

	entry := func(prefix string, i int) []byte {
		return binary.BigEndian.AppendUint32([]byte(prefix), uint32(i))
	}

	run := func(op func(txn ledger.Txn, i int) error) {
		var wg sync.WaitGroup
		var failed atomic.Int32
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.Update(ctx, func(txn ledger.Txn) error { return op(txn, i) }); err != nil {
					failed.Add(1)
					t.Errorf("Update %d: %v", i, err)
				}
			}()
		}
		wg.Wait()
		if n := failed.Load(); n > 0 {
			t.Fatalf("транзакций с ошибкой: %d из %d", n, workers)
		}
	}

	run(func(txn ledger.Txn, i int) error {
		key := entry("rec/", i)
		ok, err := txn.Has(ledger.NamespacePersistent, key)
		if err != nil {
			return err
		}
		if ok {
			return errors.New("запись уже существует")
		}
		if err := txn.Set(ledger.NamespacePersistent, key, []byte("pending")); err != nil {
			return err
		}
		return txn.Set(ledger.NamespaceIndex, entry("pending/", i), key)
	})

	run(func(txn ledger.Txn, i int) error {
		key := entry("rec/", i)
		if _, err := txn.Get(ledger.NamespacePersistent, key); err != nil {
			return err
		}
		if err := txn.Set(ledger.NamespacePersistent, key, []byte("done")); err != nil {
			return err
		}
		if err := txn.Delete(ledger.NamespaceIndex, entry("pending/", i)); err != nil {
			return err
		}
		return txn.Set(ledger.NamespaceIndex, entry("done/", i), key)
	})

	err := s.View(ctx, func(txn ledger.Txn) error {
		count := func(prefix string) int {
			n := 0
			if err := txn.Scan(ledger.NamespaceIndex, []byte(prefix), func(_, _ []byte) error {
				n++
				return nil
			}); err != nil {
				t.Errorf("Scan %s: %v", prefix, err)
			}
			return n
		}
		if n := count("pending/"); n != 0 {
			t.Errorf("pending/ содержит %d записей, ожидалось 0", n)
		}
		if n := count("done/"); n != workers {
			t.Errorf("done/ содержит %d записей, ожидалось %d", n, workers)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}
