// dephealth_test.go — unit-тесты сборки зависимостей для topologymetrics.
package service

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TestHealthPath проверяет извлечение path для HTTP checker.
func TestHealthPath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		fallback string
		expected string
	}{
		{"JWKS endpoint", "https://idp.example.com/realms/cl/protocol/openid-connect/certs", "/health", "/realms/cl/protocol/openid-connect/certs"},
		{"без path", "https://horizon-testnet.stellar.org", "/", "/"},
		{"некорректный URL", "://bad", "/health", "/health"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := healthPath(tt.input, tt.fallback); got != tt.expected {
				t.Errorf("healthPath(%q) = %q, ожидалось %q", tt.input, got, tt.expected)
			}
		})
	}
}

// TestNewDephealthService_NoDependencies проверяет отказ без зависимостей.
func TestNewDephealthService_NoDependencies(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := NewDephealthServiceWithRegisterer("certledger", "test", Dependencies{},
		15*time.Second, logger, prometheus.NewRegistry())
	if !errors.Is(err, ErrNoDependencies) {
		t.Errorf("ожидалась ErrNoDependencies, получено %v", err)
	}
}
