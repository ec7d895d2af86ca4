// Пакет registrytest — сценарии реестра поверх произвольного бэкенда
// ledger.Store. Бэкенды вызывают Run из своих тестов, чтобы проверить
// реестр на собственной модели изоляции транзакций.
package registrytest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/bigkaa/certledger/internal/domain/model"
	"github.com/bigkaa/certledger/internal/ledger"
	"github.com/bigkaa/certledger/internal/ledger/ledgertest"
	"github.com/bigkaa/certledger/internal/registry"
)

const (
	admin = "GADMIN"
	owner = "GOWNER"
)

// Workers — число параллельных операций в сценариях.
const Workers = 48

// Run запускает сценарии реестра на хранилищах из newStore.
func Run(t *testing.T, newStore ledgertest.Factory) {
	t.Run("DistinctCertificates", func(t *testing.T) {
		testDistinctCertificates(t, newRegistry(t, newStore))
	})
	t.Run("RacingDecisions", func(t *testing.T) {
		testRacingDecisions(t, newRegistry(t, newStore))
	})
}

func newRegistry(t *testing.T, newStore ledgertest.Factory) *registry.Registry {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	r := registry.New(newStore(t), registry.TrustedAuthorizer{}, registry.WithLogger(logger))
	if err := r.Initialize(context.Background(), admin); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return r
}

// distinctHash — ненулевой хэш i-го сертификата.
func distinctHash(i int) model.Hash32 {
	var h model.Hash32
	h[0] = 0xc0
	binary.BigEndian.PutUint32(h[1:], uint32(i))
	return h
}

// parallel запускает op для каждого i и возвращает ошибки по индексам.
func parallel(op func(i int) error) []error {
	errs := make([]error, Workers)
	var wg sync.WaitGroup
	for i := 0; i < Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = op(i)
		}()
	}
	wg.Wait()
	return errs
}

func requireNoErrors(t *testing.T, stage string, errs []error) {
	t.Helper()
	failed := 0
	for i, err := range errs {
		if err != nil {
			failed++
			if failed == 1 {
				t.Errorf("%s %d: %v", stage, i, err)
			}
		}
	}
	if failed > 0 {
		t.Fatalf("%s: ошибок %d из %d", stage, failed, Workers)
	}
}

// testDistinctCertificates — параллельные регистрации и решения по разным
// сертификатам не мешают друг другу и не теряют записей индексов.
func testDistinctCertificates(t *testing.T, r *registry.Registry) {
	ctx := context.Background()

	requireNoErrors(t, "RegisterCertificate", parallel(func(i int) error {
		_, err := r.RegisterCertificate(ctx, owner, distinctHash(i), distinctHash(Workers+i))
		return err
	}))

	pending, err := r.ListByStatus(ctx, model.StatusPending)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(pending) != Workers {
		t.Fatalf("pending = %d, ожидалось %d", len(pending), Workers)
	}

	requireNoErrors(t, "решение", parallel(func(i int) error {
		if i%2 == 0 {
			_, err := r.ApproveCertificate(ctx, admin, distinctHash(i))
			return err
		}
		_, err := r.RejectCertificate(ctx, admin, distinctHash(i), fmt.Sprintf("reason %d", i))
		return err
	}))

	stats, err := r.OwnerStats(ctx, owner)
	if err != nil {
		t.Fatalf("OwnerStats: %v", err)
	}
	want := model.OwnerStats{Total: Workers, Approved: Workers / 2, Rejected: Workers / 2}
	if stats != want {
		t.Errorf("OwnerStats = %+v, ожидалось %+v", stats, want)
	}

	for status, n := range map[model.Status]int{
		model.StatusPending:  0,
		model.StatusApproved: Workers / 2,
		model.StatusRejected: Workers / 2,
	} {
		certs, err := r.ListByStatus(ctx, status)
		if err != nil {
			t.Fatalf("ListByStatus(%s): %v", status, err)
		}
		if len(certs) != n {
			t.Errorf("ListByStatus(%s) = %d, ожидалось %d", status, len(certs), n)
		}
	}
}

// testRacingDecisions — из гонки решений по одному сертификату успешно
// ровно одно, остальные получают ErrAlreadyProcessed.
func testRacingDecisions(t *testing.T, r *registry.Registry) {
	ctx := context.Background()
	h := distinctHash(0)
	if _, err := r.RegisterCertificate(ctx, owner, h, distinctHash(1)); err != nil {
		t.Fatalf("RegisterCertificate: %v", err)
	}

	errs := parallel(func(i int) error {
		if i%2 == 0 {
			_, err := r.ApproveCertificate(ctx, admin, h)
			return err
		}
		_, err := r.RejectCertificate(ctx, admin, h, "reason")
		return err
	})

	succeeded := 0
	for i, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, registry.ErrAlreadyProcessed):
		case errors.Is(err, ledger.ErrTxConflict):
			// Исчерпание повторов при гонке за один ключ допустимо
		default:
			t.Errorf("решение %d: %v", i, err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("успешных решений = %d, ожидалось 1", succeeded)
	}

	for _, status := range []model.Status{model.StatusApproved, model.StatusRejected} {
		certs, err := r.ListByStatus(ctx, status)
		if err != nil {
			t.Fatalf("ListByStatus: %v", err)
		}
		for _, c := range certs {
			if c.FileHash == h && c.Status != status {
				t.Errorf("индекс %s содержит запись в статусе %s", status, c.Status)
			}
		}
	}
	pending, err := r.ListByStatus(ctx, model.StatusPending)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("сертификат остался в индексе pending")
	}
}
