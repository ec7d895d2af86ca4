// Пакет config — загрузка и валидация конфигурации certledger
// из переменных окружения с префиксом CL_.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// envPrefix — префикс переменных окружения.
const envPrefix = "CL"

// Бэкенды хранилища.
const (
	StoreBadger   = "badger"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Проверки транзакции-доказательства.
const (
	VerifierNone    = "none"
	VerifierHorizon = "horizon"
)

// Config содержит все параметры конфигурации.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int `envconfig:"PORT" default:"8000"`
	// Уровень логирования (debug, info, warn, error)
	LogLevelName string `envconfig:"LOG_LEVEL" default:"info"`
	// Разобранный уровень логирования
	LogLevel slog.Level `ignored:"true"`
	// Формат логов (json, text)
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`

	// --- Хранилище ---

	// Бэкенд: badger, postgres, redis
	StoreBackend string `envconfig:"STORE_BACKEND" default:"badger"`
	// Директория Badger (пусто — in-memory)
	BadgerPath string `envconfig:"BADGER_PATH"`
	// Число попыток транзакции при конфликте
	TxMaxRetries int `envconfig:"TX_MAX_RETRIES" default:"5"`

	// --- PostgreSQL ---

	DBHost     string `envconfig:"DB_HOST"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBName     string `envconfig:"DB_NAME"`
	DBUser     string `envconfig:"DB_USER"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string `envconfig:"DB_SSL_MODE" default:"disable"`

	// --- Redis ---

	RedisAddr      string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword  string `envconfig:"REDIS_PASSWORD"`
	RedisDB        int    `envconfig:"REDIS_DB" default:"0"`
	RedisKeyPrefix string `envconfig:"REDIS_KEY_PREFIX" default:"certledger:"`

	// --- JWT (подпись решений администратора) ---

	// URL JWKS endpoint провайдера идентификации
	JWTJWKSURL string `envconfig:"JWT_JWKS_URL"`
	// Ожидаемый issuer (пусто — не проверяется)
	JWTIssuer string `envconfig:"JWT_ISSUER"`
	// Claim с идентификатором администратора (при отсутствии — sub)
	JWTIdentityClaim string `envconfig:"JWT_IDENTITY_CLAIM" default:"identity"`
	// Допуск расхождения часов при проверке exp/nbf
	JWTLeeway time.Duration `envconfig:"JWT_LEEWAY" default:"5s"`
	// Интервал обновления JWKS
	JWKSRefreshInterval time.Duration `envconfig:"JWKS_REFRESH_INTERVAL" default:"15m"`
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration `envconfig:"JWKS_CLIENT_TIMEOUT" default:"10s"`

	// --- Проверка транзакции-доказательства ---

	// none — без проверки, horizon — через Horizon API
	TxVerifier string `envconfig:"TX_VERIFIER" default:"none"`
	// URL Horizon
	HorizonURL string `envconfig:"HORIZON_URL" default:"https://horizon-testnet.stellar.org"`
	// Таймаут запроса к Horizon
	HorizonTimeout time.Duration `envconfig:"HORIZON_TIMEOUT" default:"10s"`

	// --- Кэш ---

	// Максимум записей в LRU-кэше (0 — кэш отключён)
	CacheSize int `envconfig:"CACHE_SIZE" default:"1024"`
	// Время жизни записи в кэше
	CacheTTL time.Duration `envconfig:"CACHE_TTL" default:"10m"`

	// --- Мониторинг зависимостей ---

	// Имя группы в метриках topologymetrics
	DephealthGroup string `envconfig:"DEPHEALTH_GROUP" default:"certledger"`
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration `envconfig:"DEPHEALTH_CHECK_INTERVAL" default:"15s"`
}

// Load загружает конфигурацию из переменных окружения, валидирует
// значения и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("ошибка чтения переменных окружения: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate проверяет диапазоны, перечисления и обязательные поля бэкенда.
func (c *Config) validate() error {
	var err error

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("CL_PORT: значение %d вне допустимого диапазона 1-65535", c.Port)
	}

	c.LogLevel, err = parseLogLevel(c.LogLevelName)
	if err != nil {
		return fmt.Errorf("CL_LOG_LEVEL: %w", err)
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("CL_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", c.LogFormat)
	}

	if c.TxMaxRetries < 1 || c.TxMaxRetries > 100 {
		return fmt.Errorf("CL_TX_MAX_RETRIES: значение %d вне допустимого диапазона 1-100", c.TxMaxRetries)
	}

	switch c.StoreBackend {
	case StoreBadger:
	case StorePostgres:
		for _, req := range []struct{ key, val string }{
			{"CL_DB_HOST", c.DBHost},
			{"CL_DB_NAME", c.DBName},
			{"CL_DB_USER", c.DBUser},
			{"CL_DB_PASSWORD", c.DBPassword},
		} {
			if req.val == "" {
				return fmt.Errorf("%s: обязательная переменная окружения для бэкенда postgres не задана", req.key)
			}
		}
		validSSLModes := map[string]bool{
			"disable": true, "require": true, "verify-ca": true, "verify-full": true,
		}
		if !validSSLModes[c.DBSSLMode] {
			return fmt.Errorf("CL_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", c.DBSSLMode)
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("CL_REDIS_ADDR: обязательная переменная окружения для бэкенда redis не задана")
		}
		if c.RedisDB < 0 {
			return fmt.Errorf("CL_REDIS_DB: отрицательный номер базы %d", c.RedisDB)
		}
	default:
		return fmt.Errorf("CL_STORE_BACKEND: недопустимое значение %q, допустимые: badger, postgres, redis", c.StoreBackend)
	}

	switch c.TxVerifier {
	case VerifierNone:
	case VerifierHorizon:
		if _, err := url.ParseRequestURI(c.HorizonURL); err != nil {
			return fmt.Errorf("CL_HORIZON_URL: некорректный URL %q", c.HorizonURL)
		}
		c.HorizonURL = strings.TrimRight(c.HorizonURL, "/")
	default:
		return fmt.Errorf("CL_TX_VERIFIER: недопустимое значение %q, допустимые: none, horizon", c.TxVerifier)
	}

	if c.CacheSize < 0 {
		return fmt.Errorf("CL_CACHE_SIZE: отрицательный размер %d", c.CacheSize)
	}
	if c.JWTIdentityClaim == "" {
		return fmt.Errorf("CL_JWT_IDENTITY_CLAIM: не может быть пустым")
	}

	return nil
}

// RequireJWT проверяет параметры JWT, обязательные для HTTP-сервера.
func (c *Config) RequireJWT() error {
	if c.JWTJWKSURL == "" {
		return fmt.Errorf("CL_JWT_JWKS_URL: обязательная переменная окружения не задана")
	}
	if _, err := url.ParseRequestURI(c.JWTJWKSURL); err != nil {
		return fmt.Errorf("CL_JWT_JWKS_URL: некорректный URL %q", c.JWTJWKSURL)
	}
	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseMigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (c *Config) DatabaseMigrateURL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// DatabaseURL возвращает URL PostgreSQL без учётных данных (для метрик).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// RedisOptions возвращает параметры клиента Redis.
func (c *Config) RedisOptions() *redis.Options {
	return &redis.Options{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	logger := NewLogger(cfg, os.Stdout)
	slog.SetDefault(logger)
	return logger
}

// NewLogger создаёт логгер с уровнем и форматом из конфигурации,
// пишущий в w. Команды CLI пишут журнал в stderr, оставляя stdout
// для результата.
func NewLogger(cfg *Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
