package badgerstore

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/bigkaa/certledger/internal/ledger"
	"github.com/bigkaa/certledger/internal/ledger/ledgertest"
	"github.com/bigkaa/certledger/internal/registry/registrytest"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestStore_InMemory прогоняет общий контракт на in-memory базе.
func TestStore_InMemory(t *testing.T) {
	ledgertest.Run(t, newInMemory)
}

// newInMemory — фабрика in-memory хранилищ для общих наборов тестов.
func newInMemory(t *testing.T) ledger.Store {
	t.Helper()
	s, err := New(WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// TestRegistry_InMemory прогоняет сценарии реестра на Badger.
func TestRegistry_InMemory(t *testing.T) {
	registrytest.Run(t, newInMemory)
}

// TestStore_OnDisk прогоняет контракт на базе в директории и проверяет
// сохранность данных после переоткрытия.
func TestStore_OnDisk(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledger.Store {
		t.Helper()
		s, err := New(WithDataDir(t.TempDir()), WithLogger(testLogger()), WithGCInterval(0))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})

	dir := t.TempDir()
	ctx := context.Background()

	s, err := New(WithDataDir(dir), WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Update(ctx, func(txn ledger.Txn) error {
		return txn.Set(ledger.NamespaceInstance, []byte("admin"), []byte("GADMIN"))
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := New(WithDataDir(dir), WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New (reopen): %v", err)
	}
	defer reopened.Close()

	err = reopened.View(ctx, func(txn ledger.Txn) error {
		v, err := txn.Get(ledger.NamespaceInstance, []byte("admin"))
		if err != nil {
			return err
		}
		if string(v) != "GADMIN" {
			t.Errorf("значение после переоткрытия = %q", v)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

// TestStore_PingAfterClose проверяет Ping закрытой базы.
func TestStore_PingAfterClose(t *testing.T) {
	s, err := New(WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Ping(context.Background()); err == nil {
		t.Error("Ping после Close: ожидалась ошибка")
	}
}
