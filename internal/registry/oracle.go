// oracle.go — внешние зависимости реестра: проверка полномочий,
// доверенные часы и проверка транзакции-доказательства.
package registry

import (
	"context"
	"time"

	"github.com/bigkaa/certledger/internal/domain/model"
)

// Authorizer проверяет, что текущий вызов авторизован владельцем identity.
// Реализация получает доказательство (например, JWT) из ctx.
type Authorizer interface {
	RequireAuth(ctx context.Context, identity string) error
}

// AuthorizerFunc — адаптер функции к Authorizer.
type AuthorizerFunc func(ctx context.Context, identity string) error

// RequireAuth вызывает f(ctx, identity).
func (f AuthorizerFunc) RequireAuth(ctx context.Context, identity string) error {
	return f(ctx, identity)
}

// TrustedAuthorizer принимает любой вызов. Используется CLI:
// оператор с прямым доступом к хранилищу считается авторизованным.
type TrustedAuthorizer struct{}

// RequireAuth всегда возвращает nil.
func (TrustedAuthorizer) RequireAuth(context.Context, string) error { return nil }

// Clock — доверенный источник времени для validated_at и registered_at.
type Clock interface {
	Now() time.Time
}

// ClockFunc — адаптер функции к Clock.
type ClockFunc func() time.Time

// Now вызывает f().
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock — системные часы хоста в UTC с точностью до секунды.
type SystemClock struct{}

// Now возвращает текущее время.
func (SystemClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// TxVerifier проверяет транзакцию-доказательство владельца.
// Отказ возвращается ошибкой, обёрнутой ErrInvalidProof.
type TxVerifier interface {
	VerifyTx(ctx context.Context, owner string, fileHash, txHash model.Hash32) error
}

// AcceptAll принимает любую транзакцию без проверки:
// хэш транзакции сохраняется как есть.
type AcceptAll struct{}

// VerifyTx всегда возвращает nil.
func (AcceptAll) VerifyTx(context.Context, string, model.Hash32, model.Hash32) error { return nil }
