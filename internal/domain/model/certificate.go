// Пакет model — доменные модели реестра сертификатов.
package model

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// HashSize — размер хэша файла и хэша транзакции в байтах (SHA-256).
const HashSize = 32

// Hash32 — 32-байтовый хэш (содержимое файла или подписанная транзакция).
// Текстовое представление — 64 hex-символа в нижнем регистре.
type Hash32 [HashSize]byte

// ParseHash32 разбирает hex-строку из 64 символов.
// Регистр символов не важен, префикс 0x не допускается.
func ParseHash32(s string) (Hash32, error) {
	var h Hash32
	if len(s) != HashSize*2 {
		return h, fmt.Errorf("некорректная длина хэша: %d символов, ожидается %d", len(s), HashSize*2)
	}
	if _, err := hex.Decode(h[:], []byte(strings.ToLower(s))); err != nil {
		return h, fmt.Errorf("некорректный hex в хэше: %w", err)
	}
	return h, nil
}

// String возвращает hex-представление хэша.
func (h Hash32) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero сообщает, что хэш состоит из нулей.
func (h Hash32) IsZero() bool {
	return h == Hash32{}
}

// MarshalText реализует encoding.TextMarshaler.
func (h Hash32) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText реализует encoding.TextUnmarshaler.
func (h *Hash32) UnmarshalText(text []byte) error {
	parsed, err := ParseHash32(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Status — статус сертификата в жизненном цикле.
type Status string

const (
	// StatusPending — зарегистрирован, ожидает решения администратора
	StatusPending Status = "pending"
	// StatusApproved — одобрен администратором (конечный)
	StatusApproved Status = "approved"
	// StatusRejected — отклонён администратором (конечный)
	StatusRejected Status = "rejected"
)

// Statuses — все статусы в порядке жизненного цикла.
var Statuses = []Status{StatusPending, StatusApproved, StatusRejected}

// Certificate — запись сертификата. Ключ записи — FileHash.
type Certificate struct {
	// FileHash — SHA-256 содержимого файла
	FileHash Hash32 `json:"file_hash"`
	// Owner — идентификатор владельца (адрес кошелька)
	Owner string `json:"owner"`
	// TxHash — хэш подписанной владельцем транзакции (доказательство подлинности)
	TxHash Hash32 `json:"tx_hash"`
	// Status — pending, approved, rejected
	Status Status `json:"status"`
	// Admin — администратор, принявший решение (nil пока pending)
	Admin *string `json:"admin,omitempty"`
	// ValidatedAt — время решения (nil пока pending)
	ValidatedAt *time.Time `json:"validated_at,omitempty"`
	// RejectionReason — причина отклонения (только для rejected)
	RejectionReason *string `json:"rejection_reason,omitempty"`
	// RegisteredAt — время регистрации
	RegisteredAt time.Time `json:"registered_at"`
}

// Clone возвращает глубокую копию записи.
func (c *Certificate) Clone() *Certificate {
	copied := *c
	if c.Admin != nil {
		admin := *c.Admin
		copied.Admin = &admin
	}
	if c.ValidatedAt != nil {
		at := *c.ValidatedAt
		copied.ValidatedAt = &at
	}
	if c.RejectionReason != nil {
		reason := *c.RejectionReason
		copied.RejectionReason = &reason
	}
	return &copied
}

// RegistryConfig — singleton-конфигурация реестра.
type RegistryConfig struct {
	// Admin — единственный администратор реестра
	Admin string `json:"admin"`
	// InitializedAt — время инициализации
	InitializedAt time.Time `json:"initialized_at"`
}

// OwnerStats — счётчики сертификатов владельца по статусам.
type OwnerStats struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}
