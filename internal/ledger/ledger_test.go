package ledger

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

var errConflict = errors.New("conflict")

func isTestConflict(err error) bool { return errors.Is(err, errConflict) }

// TestRunWithRetry_SucceedsAfterConflicts проверяет повтор до успеха.
func TestRunWithRetry_SucceedsAfterConflicts(t *testing.T) {
	calls := 0
	err := RunWithRetry(context.Background(), "test", RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond}, isTestConflict, func() error {
		calls++
		if calls < 3 {
			return errConflict
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ожидался успех, получено %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, ожидалось 3", calls)
	}
}

// TestRunWithRetry_Exhausted проверяет ErrTxConflict после всех попыток.
func TestRunWithRetry_Exhausted(t *testing.T) {
	calls := 0
	err := RunWithRetry(context.Background(), "test", RetryPolicy{MaxAttempts: 2, InitialBackoff: time.Millisecond}, isTestConflict, func() error {
		calls++
		return errConflict
	})
	if !errors.Is(err, ErrTxConflict) {
		t.Fatalf("ожидалась ErrTxConflict, получено %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, ожидалось 2", calls)
	}
}

// TestRunWithRetry_NonConflictNotRetried проверяет, что прочие ошибки не повторяются.
func TestRunWithRetry_NonConflictNotRetried(t *testing.T) {
	other := errors.New("boom")
	calls := 0
	err := RunWithRetry(context.Background(), "test", DefaultRetryPolicy(), isTestConflict, func() error {
		calls++
		return other
	})
	if !errors.Is(err, other) {
		t.Fatalf("ожидалась исходная ошибка, получено %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, ожидалось 1", calls)
	}
}

// TestRunWithRetry_ContextCancelled проверяет прерывание паузы контекстом.
func TestRunWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RunWithRetry(ctx, "test", RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Hour}, isTestConflict, func() error {
		calls++
		cancel()
		return errConflict
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("ожидалась context.Canceled, получено %v", err)
	}
}

// TestNamespace_Valid проверяет известные пространства имён.
func TestNamespace_Valid(t *testing.T) {
	for _, ns := range []Namespace{NamespaceInstance, NamespacePersistent, NamespaceIndex} {
		if !ns.Valid() {
			t.Errorf("%q должен быть валиден", ns)
		}
	}
	if Namespace("other").Valid() {
		t.Error("other не должен быть валиден")
	}
}

// TestPrefixEnd проверяет верхнюю границу диапазона префикса.
func TestPrefixEnd(t *testing.T) {
	tests := []struct {
		name   string
		prefix []byte
		want   []byte
	}{
		{"обычный", []byte("owner/"), []byte("owner0")},
		{"хвост 0xff", []byte{0x01, 0xff, 0xff}, []byte{0x02}},
		{"все 0xff", []byte{0xff, 0xff}, nil},
		{"пустой", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PrefixEnd(tt.prefix)
			if !bytes.Equal(got, tt.want) || (got == nil) != (tt.want == nil) {
				t.Errorf("PrefixEnd(%x) = %x, ожидалось %x", tt.prefix, got, tt.want)
			}
		})
	}

	// Исходный префикс не меняется
	prefix := []byte{0x01, 0x02}
	_ = PrefixEnd(prefix)
	if !bytes.Equal(prefix, []byte{0x01, 0x02}) {
		t.Errorf("PrefixEnd изменил аргумент: %x", prefix)
	}
}
