// index.go — вторичные индексы реестра в пространстве имён index.
//
// Каждая запись индекса — отдельный ключ:
//   - owner/<len><owner><registered_at><file_hash> — сертификаты владельца
//   - status/<status>/<registered_at><file_hash> — сертификаты в статусе
//
// <len> — один байт длины владельца, <registered_at> — 8 байт big-endian
// (наносекунды Unix), поэтому обход префикса идёт в порядке регистрации.
// Значение записи — хэш файла. Операции над разными сертификатами
// затрагивают разные ключи индекса и не конфликтуют.
package registry

import (
	"encoding/binary"
	"fmt"

	"github.com/bigkaa/certledger/internal/domain/model"
	"github.com/bigkaa/certledger/internal/ledger"
)

// ownerIndexPrefix — префикс записей индекса владельца.
// Длина владельца в префиксе отделяет "a" от "ab".
func ownerIndexPrefix(owner string) []byte {
	out := make([]byte, 0, len("owner/")+1+len(owner))
	out = append(out, "owner/"...)
	out = append(out, byte(len(owner)))
	return append(out, owner...)
}

func statusIndexPrefix(status model.Status) []byte {
	return []byte("status/" + string(status) + "/")
}

// indexEntryKey дополняет префикс временем регистрации и хэшем файла.
func indexEntryKey(prefix []byte, cert *model.Certificate) []byte {
	out := make([]byte, 0, len(prefix)+8+model.HashSize)
	out = append(out, prefix...)
	out = binary.BigEndian.AppendUint64(out, uint64(cert.RegisteredAt.UnixNano()))
	return append(out, cert.FileHash[:]...)
}

// indexAdd записывает сертификат в индексы владельца и статуса.
func indexAdd(txn ledger.Txn, cert *model.Certificate) error {
	if err := txn.Set(ledger.NamespaceIndex, indexEntryKey(ownerIndexPrefix(cert.Owner), cert), cert.FileHash[:]); err != nil {
		return fmt.Errorf("запись индекса владельца: %w", err)
	}
	if err := txn.Set(ledger.NamespaceIndex, indexEntryKey(statusIndexPrefix(cert.Status), cert), cert.FileHash[:]); err != nil {
		return fmt.Errorf("запись индекса статуса: %w", err)
	}
	return nil
}

// indexMove переносит сертификат из индекса статуса from в индекс его
// текущего статуса.
func indexMove(txn ledger.Txn, cert *model.Certificate, from model.Status) error {
	if err := txn.Delete(ledger.NamespaceIndex, indexEntryKey(statusIndexPrefix(from), cert)); err != nil {
		return fmt.Errorf("удаление из индекса %s: %w", from, err)
	}
	if err := txn.Set(ledger.NamespaceIndex, indexEntryKey(statusIndexPrefix(cert.Status), cert), cert.FileHash[:]); err != nil {
		return fmt.Errorf("запись индекса статуса: %w", err)
	}
	return nil
}

// scanIndex возвращает хэши файлов с префиксом в порядке регистрации.
func scanIndex(txn ledger.Txn, prefix []byte) ([]model.Hash32, error) {
	var hashes []model.Hash32
	err := txn.Scan(ledger.NamespaceIndex, prefix, func(key, value []byte) error {
		if len(value) != model.HashSize {
			return fmt.Errorf("повреждённая запись индекса %x: длина значения %d", key, len(value))
		}
		hashes = append(hashes, model.Hash32(value))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("чтение индекса %q: %w", prefix, err)
	}
	return hashes, nil
}
