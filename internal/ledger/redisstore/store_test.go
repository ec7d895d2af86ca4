package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/certledger/internal/ledger"
	"github.com/bigkaa/certledger/internal/ledger/ledgertest"
	"github.com/bigkaa/certledger/internal/registry/registrytest"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// setupTestRedis запускает Redis в Docker-контейнере через testcontainers.
// Возвращает адрес host:port.
func setupTestRedis(t *testing.T) string {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "docker.io/redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Не удалось запустить Redis контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}
	return fmt.Sprintf("%s:%s", host, port.Port())
}

// prefixedStoreFactory возвращает фабрику хранилищ над addr.
// Изоляция хранилищ — уникальный префикс ключей.
func prefixedStoreFactory(addr, name string) ledgertest.Factory {
	n := 0
	return func(t *testing.T) ledger.Store {
		t.Helper()
		n++
		s, err := Connect(context.Background(), &redis.Options{Addr: addr},
			WithLogger(testLogger()),
			WithKeyPrefix(fmt.Sprintf("%s%d:", name, n)),
		)
		if err != nil {
			t.Fatalf("Connect: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	}
}

// TestStore_Contract прогоняет общий контракт ledger.Store на Redis.
func TestStore_Contract(t *testing.T) {
	addr := setupTestRedis(t)
	ledgertest.Run(t, prefixedStoreFactory(addr, "contract"))
}

// TestRegistry прогоняет сценарии реестра на Redis.
func TestRegistry(t *testing.T) {
	addr := setupTestRedis(t)
	registrytest.Run(t, prefixedStoreFactory(addr, "registry"))
}

// TestStore_ReadYourWrites проверяет чтение буферизованной записи внутри Update.
func TestStore_ReadYourWrites(t *testing.T) {
	addr := setupTestRedis(t)
	ctx := context.Background()

	s, err := Connect(ctx, &redis.Options{Addr: addr}, WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Close()

	err = s.Update(ctx, func(txn ledger.Txn) error {
		if err := txn.Set(ledger.NamespaceIndex, []byte("k"), []byte("v")); err != nil {
			return err
		}
		got, err := txn.Get(ledger.NamespaceIndex, []byte("k"))
		if err != nil {
			return err
		}
		if string(got) != "v" {
			t.Errorf("Get = %q, ожидалось v", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
}

// TestRedisKey проверяет формат ключей Redis.
func TestRedisKey(t *testing.T) {
	s := &Store{prefix: "cl:"}
	got := s.redisKey(ledger.NamespacePersistent, []byte{0xab, 0x01})
	if got != "cl:persistent:ab01" {
		t.Errorf("redisKey = %q", got)
	}
}

// TestIsConflict проверяет классификацию ошибки EXEC.
func TestIsConflict(t *testing.T) {
	if !isConflict(redis.TxFailedErr) {
		t.Error("TxFailedErr должна считаться конфликтом")
	}
	if isConflict(errors.New("boom")) {
		t.Error("прочая ошибка не должна считаться конфликтом")
	}
}

// TestKeySetKey проверяет имя набора ключей пространства имён.
func TestKeySetKey(t *testing.T) {
	s := &Store{prefix: "cl:"}
	if got := s.keySetKey(ledger.NamespaceIndex); got != "cl:index#keys" {
		t.Errorf("keySetKey = %q", got)
	}
}
