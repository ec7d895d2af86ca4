// Пакет horizon — проверка транзакции-доказательства через Horizon API сети Stellar.
//
// Владелец подтверждает сертификат транзакцией, в memo которой записаны
// первые MemoPrefixLength hex-символов хэша файла (ограничение memo text
// в 28 байт). Verifier запрашивает GET {horizon}/transactions/{tx_hash}
// через horizonclient и сверяет успешность, отправителя и memo.
package horizon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/stellar/go-stellar-sdk/clients/horizonclient"
	hProtocol "github.com/stellar/go-stellar-sdk/protocols/horizon"

	"github.com/bigkaa/certledger/internal/domain/model"
	"github.com/bigkaa/certledger/internal/registry"
)

// DefaultURL — Horizon тестовой сети Stellar.
const DefaultURL = "https://horizon-testnet.stellar.org"

// MemoPrefixLength — длина префикса хэша файла в memo транзакции.
const MemoPrefixLength = 28

// Verifier — реализация registry.TxVerifier поверх Horizon.
type Verifier struct {
	client *horizonclient.Client
	logger *slog.Logger
}

// New создаёт Verifier. timeout ограничивает один запрос к Horizon.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Verifier {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Verifier{
		client: &horizonclient.Client{
			HorizonURL: strings.TrimRight(baseURL, "/") + "/",
			HTTP:       &http.Client{Timeout: timeout},
		},
		logger: logger.With(slog.String("component", "horizon_verifier")),
	}
}

// VerifyTx проверяет, что транзакция txHash успешна, отправлена owner
// и содержит в memo префикс хэша файла.
func (v *Verifier) VerifyTx(ctx context.Context, owner string, fileHash, txHash model.Hash32) error {
	tx, err := v.Transaction(ctx, txHash)
	if err != nil {
		return err
	}

	if !tx.Successful {
		return fmt.Errorf("%w: транзакция %s не выполнена", registry.ErrInvalidProof, txHash)
	}
	if tx.Account != owner {
		return fmt.Errorf("%w: отправитель %s не совпадает с владельцем %s",
			registry.ErrInvalidProof, tx.Account, owner)
	}
	want := ExpectedMemo(fileHash)
	if tx.Memo != want {
		return fmt.Errorf("%w: memo %q не совпадает с хэшем файла (%q)",
			registry.ErrInvalidProof, tx.Memo, want)
	}

	v.logger.Debug("Транзакция подтверждена",
		slog.String("tx_hash", txHash.String()),
		slog.String("owner", owner),
	)
	return nil
}

// Transaction запрашивает транзакцию по хэшу.
// Отсутствующая транзакция — ошибка, обёрнутая registry.ErrInvalidProof.
func (v *Verifier) Transaction(ctx context.Context, txHash model.Hash32) (*hProtocol.Transaction, error) {
	// horizonclient не принимает контекст, время запроса ограничивает HTTP-клиент
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tx, err := v.client.TransactionDetail(txHash.String())
	if err != nil {
		if horizonclient.IsNotFoundError(err) {
			return nil, fmt.Errorf("%w: транзакция %s не найдена", registry.ErrInvalidProof, txHash)
		}
		return nil, fmt.Errorf("запрос транзакции %s к Horizon: %w", txHash, err)
	}
	return &tx, nil
}

// ExpectedMemo возвращает memo, которое должна содержать транзакция владельца.
func ExpectedMemo(fileHash model.Hash32) string {
	return fileHash.String()[:MemoPrefixLength]
}
