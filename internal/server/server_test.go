package server

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/certledger/internal/api/handlers"
	"github.com/bigkaa/certledger/internal/api/middleware"
	"github.com/bigkaa/certledger/internal/domain/model"
	"github.com/bigkaa/certledger/internal/ledger/badgerstore"
	"github.com/bigkaa/certledger/internal/registry"
)

const (
	testKeyID  = "test-key-srv"
	testIssuer = "https://idp.test/realms/certledger"
	testAdmin  = "GADMIN"
	testOwner  = "GOWNER"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// testEnv — поднятый сервер с реестром в памяти.
type testEnv struct {
	srv *httptest.Server
	key *rsa.PrivateKey
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEnv собирает router поверх in-memory Badger и JWT с тестовым ключом.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := badgerstore.New(badgerstore.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("badgerstore.New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	reg := registry.New(store, middleware.ClaimsAuthorizer{},
		registry.WithClock(registry.ClockFunc(func() time.Time { return testNow })),
		registry.WithLogger(testLogger()),
	)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	kf, err := keyfunc.NewJWKSetJSON(jwksJSON(&key.PublicKey))
	if err != nil {
		t.Fatalf("keyfunc: %v", err)
	}
	jwtAuth := middleware.NewJWTAuthWithKeyfunc(kf, testIssuer, "identity", testLogger())

	health := handlers.NewHealthHandler(handlers.NewStoreChecker(store, "badger"), nil)
	h := handlers.NewAPIHandler(health, reg, testLogger())

	srv := httptest.NewServer(NewRouter(testLogger(), h, jwtAuth))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, key: key}
}

// jwksJSON строит JWKS из публичного ключа.
func jwksJSON(pub *rsa.PublicKey) json.RawMessage {
	data, _ := json.Marshal(map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": testKeyID,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
	return data
}

// token выпускает JWT для identity.
func (e *testEnv) token(t *testing.T, identity string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub":      "user-" + identity,
		"identity": identity,
		"iss":      testIssuer,
		"exp":      jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	tok.Header["kid"] = testKeyID
	s, err := tok.SignedString(e.key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// do выполняет запрос и декодирует JSON-ответ в out (если не nil).
func (e *testEnv) do(t *testing.T, method, path, bearer string, body any, out any) int {
	t.Helper()

	var rdr io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: декодирование ответа: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

// apiError — тело ответа ошибки.
type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func hashHex(b byte) string {
	return strings.Repeat(string("0123456789abcdef"[b%16]), 64)
}

func registerBody(b byte) map[string]string {
	return map[string]string{
		"owner":     testOwner,
		"file_hash": hashHex(b),
		"tx_hash":   hashHex(b + 1),
	}
}

// TestAPI_FullFlow проверяет сценарий регистрации и решений через HTTP.
func TestAPI_FullFlow(t *testing.T) {
	e := newTestEnv(t)
	admin := e.token(t, testAdmin)
	other := e.token(t, "GOTHER")

	// До инициализации решения невозможны
	mustRegister := func(b byte) {
		t.Helper()
		var cert model.Certificate
		if code := e.do(t, http.MethodPost, "/api/v1/certificates", "", registerBody(b), &cert); code != http.StatusCreated {
			t.Fatalf("регистрация %x: статус %d", b, code)
		}
		if cert.Status != model.StatusPending {
			t.Fatalf("регистрация %x: status = %q", b, cert.Status)
		}
	}
	mustRegister(1)

	var errResp apiError
	if code := e.do(t, http.MethodPost, "/api/v1/certificates/"+hashHex(1)+"/approve", admin, nil, &errResp); code != http.StatusConflict || errResp.Error.Code != "NOT_INITIALIZED" {
		t.Fatalf("approve до инициализации: %d %s", code, errResp.Error.Code)
	}

	var cfg model.RegistryConfig
	if code := e.do(t, http.MethodPost, "/api/v1/registry/initialize", "", map[string]string{"admin": testAdmin}, &cfg); code != http.StatusOK {
		t.Fatalf("initialize: статус %d", code)
	}
	if cfg.Admin != testAdmin || !cfg.InitializedAt.Equal(testNow) {
		t.Errorf("конфигурация = %+v", cfg)
	}
	if code := e.do(t, http.MethodPost, "/api/v1/registry/initialize", "", map[string]string{"admin": "GOTHER"}, &errResp); code != http.StatusConflict || errResp.Error.Code != "ALREADY_INITIALIZED" {
		t.Errorf("повторная инициализация: %d %s", code, errResp.Error.Code)
	}
	if code := e.do(t, http.MethodGet, "/api/v1/registry/admin", "", nil, &cfg); code != http.StatusOK || cfg.Admin != testAdmin {
		t.Errorf("admin: %d %+v", code, cfg)
	}

	// Дубликат
	if code := e.do(t, http.MethodPost, "/api/v1/certificates", "", registerBody(1), &errResp); code != http.StatusConflict || errResp.Error.Code != "DUPLICATE_CERTIFICATE" {
		t.Errorf("дубликат: %d %s", code, errResp.Error.Code)
	}

	approvePath := "/api/v1/certificates/" + hashHex(1) + "/approve"

	// Без токена — 401 от middleware
	if code := e.do(t, http.MethodPost, approvePath, "", nil, &errResp); code != http.StatusUnauthorized || errResp.Error.Code != "UNAUTHORIZED" {
		t.Errorf("approve без токена: %d %s", code, errResp.Error.Code)
	}
	// Токен не администратора
	if code := e.do(t, http.MethodPost, approvePath, other, nil, &errResp); code != http.StatusForbidden || errResp.Error.Code != "UNAUTHORIZED_ADMIN" {
		t.Errorf("approve чужим токеном: %d %s", code, errResp.Error.Code)
	}
	// Чужой токен с подставленным администратором в теле
	if code := e.do(t, http.MethodPost, approvePath, other, map[string]string{"admin": testAdmin}, &errResp); code != http.StatusForbidden {
		t.Errorf("approve с подменой admin: %d", code)
	}

	var cert model.Certificate
	if code := e.do(t, http.MethodPost, approvePath, admin, nil, &cert); code != http.StatusOK {
		t.Fatalf("approve: статус %d", code)
	}
	if cert.Status != model.StatusApproved || cert.Admin == nil || *cert.Admin != testAdmin {
		t.Errorf("после approve: %+v", cert)
	}
	if cert.ValidatedAt == nil || !cert.ValidatedAt.Equal(testNow) {
		t.Errorf("validated_at = %v", cert.ValidatedAt)
	}

	// Повторное решение
	if code := e.do(t, http.MethodPost, "/api/v1/certificates/"+hashHex(1)+"/reject", admin, map[string]string{"reason": "late"}, &errResp); code != http.StatusConflict || errResp.Error.Code != "ALREADY_PROCESSED" {
		t.Errorf("reject после approve: %d %s", code, errResp.Error.Code)
	}

	var approved struct {
		Approved bool `json:"approved"`
	}
	if code := e.do(t, http.MethodGet, "/api/v1/certificates/"+hashHex(1)+"/approved", "", nil, &approved); code != http.StatusOK || !approved.Approved {
		t.Errorf("approved: %d %v", code, approved.Approved)
	}

	var verification struct {
		FileHash string `json:"file_hash"`
		Valid    bool   `json:"valid"`
		Reason   string `json:"reason"`
	}
	if code := e.do(t, http.MethodGet, "/api/v1/certificates/"+hashHex(1)+"/verify", "", nil, &verification); code != http.StatusOK || !verification.Valid {
		t.Errorf("verify: %d %+v", code, verification)
	}
	if verification.FileHash != hashHex(1) {
		t.Errorf("verify: file_hash = %s", verification.FileHash)
	}

	// Отклонение с причиной по умолчанию
	mustRegister(3)
	if code := e.do(t, http.MethodPost, "/api/v1/certificates/"+hashHex(3)+"/reject", admin, nil, &cert); code != http.StatusOK {
		t.Fatalf("reject: статус %d", code)
	}
	if cert.RejectionReason == nil || *cert.RejectionReason != handlers.DefaultRejectionReason {
		t.Errorf("rejection_reason = %v", cert.RejectionReason)
	}

	mustRegister(5)

	var list struct {
		Items []model.Certificate `json:"items"`
		Total int                 `json:"total"`
	}
	if code := e.do(t, http.MethodGet, "/api/v1/certificates?owner="+testOwner, "", nil, &list); code != http.StatusOK || list.Total != 3 {
		t.Errorf("список владельца: %d total=%d", code, list.Total)
	}
	if list.Total == 3 && list.Items[0].FileHash.String() != hashHex(5) {
		t.Errorf("первым должен идти последний зарегистрированный, получен %s", list.Items[0].FileHash)
	}
	if code := e.do(t, http.MethodGet, "/api/v1/certificates", "", nil, &list); code != http.StatusOK || list.Total != 1 {
		t.Errorf("очередь pending: %d total=%d", code, list.Total)
	}
	if code := e.do(t, http.MethodGet, "/api/v1/certificates?status=rejected", "", nil, &list); code != http.StatusOK || list.Total != 1 {
		t.Errorf("rejected: %d total=%d", code, list.Total)
	}
	if code := e.do(t, http.MethodGet, "/api/v1/certificates?status=archived", "", nil, &errResp); code != http.StatusBadRequest {
		t.Errorf("неизвестный статус: %d", code)
	}

	var stats struct {
		Owner string `json:"owner"`
		model.OwnerStats
	}
	if code := e.do(t, http.MethodGet, "/api/v1/owners/"+testOwner+"/stats", "", nil, &stats); code != http.StatusOK {
		t.Fatalf("stats: статус %d", code)
	}
	want := model.OwnerStats{Total: 3, Pending: 1, Approved: 1, Rejected: 1}
	if stats.OwnerStats != want || stats.Owner != testOwner {
		t.Errorf("stats = %+v, ожидалось %+v", stats, want)
	}
}

// TestAPI_Errors проверяет ответы на некорректные запросы.
func TestAPI_Errors(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name     string
		method   string
		path     string
		body     any
		wantCode int
		wantErr  string
	}{
		{"некорректный хэш", http.MethodGet, "/api/v1/certificates/xyz", nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"неизвестный хэш", http.MethodGet, "/api/v1/certificates/" + hashHex(9), nil, http.StatusNotFound, "NOT_FOUND"},
		{"verify неизвестного", http.MethodGet, "/api/v1/certificates/" + hashHex(9) + "/verify", nil, http.StatusNotFound, "NOT_FOUND"},
		{"approved неизвестного", http.MethodGet, "/api/v1/certificates/" + hashHex(9) + "/approved", nil, http.StatusNotFound, "NOT_FOUND"},
		{"пустой владелец", http.MethodPost, "/api/v1/certificates", map[string]string{"file_hash": hashHex(1), "tx_hash": hashHex(2)}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"короткий tx_hash", http.MethodPost, "/api/v1/certificates", map[string]string{"owner": testOwner, "file_hash": hashHex(1), "tx_hash": "ab"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"лишнее поле", http.MethodPost, "/api/v1/registry/initialize", map[string]string{"admin": testAdmin, "role": "root"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"admin не задан", http.MethodGet, "/api/v1/registry/admin", nil, http.StatusConflict, "NOT_INITIALIZED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp apiError
			code := e.do(t, tt.method, tt.path, "", tt.body, &resp)
			if code != tt.wantCode || resp.Error.Code != tt.wantErr {
				t.Errorf("получено %d %s, ожидалось %d %s", code, resp.Error.Code, tt.wantCode, tt.wantErr)
			}
		})
	}
}

// TestAPI_Health проверяет probes и метрики.
func TestAPI_Health(t *testing.T) {
	e := newTestEnv(t)

	var live struct {
		Status string `json:"status"`
	}
	if code := e.do(t, http.MethodGet, "/health/live", "", nil, &live); code != http.StatusOK || live.Status != "ok" {
		t.Errorf("live: %d %s", code, live.Status)
	}

	// JWKS checker не задан — readiness fail
	if code := e.do(t, http.MethodGet, "/health/ready", "", nil, nil); code != http.StatusServiceUnavailable {
		t.Errorf("ready: %d", code)
	}

	resp, err := e.srv.Client().Get(e.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "cl_http_requests_total") {
		t.Error("метрика cl_http_requests_total не найдена")
	}
}
