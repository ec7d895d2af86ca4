package model

import (
	"crypto/sha256"
	"fmt"
	"io"
)

// HashContent вычисляет SHA-256 содержимого файла.
func HashContent(r io.Reader) (Hash32, error) {
	var h Hash32
	hasher := sha256.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return h, fmt.Errorf("чтение содержимого: %w", err)
	}
	copy(h[:], hasher.Sum(nil))
	return h, nil
}
