package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/bigkaa/certledger/internal/api/handlers"
	"github.com/bigkaa/certledger/internal/api/middleware"
	"github.com/bigkaa/certledger/internal/config"
	"github.com/bigkaa/certledger/internal/server"
	"github.com/bigkaa/certledger/internal/service"
)

func serveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Запустить HTTP API реестра",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

// serve поднимает хранилище, реестр, JWT middleware, мониторинг
// зависимостей и HTTP-сервер, затем ждёт сигнала завершения.
func (a *app) serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	if ctx == nil {
		ctx = context.Background()
	}

	logger.Info("certledger запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("store", cfg.StoreBackend),
		slog.String("verifier", cfg.TxVerifier),
	)

	// 1. Решения администратора подписываются JWT
	if err := cfg.RequireJWT(); err != nil {
		return err
	}

	if os.Getenv("CL_DEPHEALTH_GROUP") == "" {
		logger.Warn("CL_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 2. Хранилище
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	// 3. Реестр: полномочия администратора — по claims запроса
	reg := newRegistry(cfg, store, middleware.ClaimsAuthorizer{}, logger)

	// 4. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		cfg.JWTIssuer,
		cfg.JWTIdentityClaim,
		cfg.JWKSClientTimeout,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		return err
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 5. Readiness checkers
	healthHandler := handlers.NewHealthHandler(
		handlers.NewStoreChecker(store, cfg.StoreBackend),
		middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, cfg.JWKSClientTimeout),
	)
	apiHandler := handlers.NewAPIHandler(healthHandler, reg, logger)

	// 6. topologymetrics — мониторинг зависимостей
	deps := service.Dependencies{JWKSURL: cfg.JWTJWKSURL}
	if store.pool != nil {
		// Адаптер pgxpool → *sql.DB (connection pool mode)
		pgDB := stdlib.OpenDBFromPool(store.pool)
		defer pgDB.Close()
		deps.DB = pgDB
		deps.PGConnURL = cfg.DatabaseURL()
	}
	if cfg.TxVerifier == config.VerifierHorizon {
		deps.HorizonURL = cfg.HorizonURL
	}

	dephealthSvc, dephealthErr := service.NewDephealthService(
		programName,
		cfg.DephealthGroup,
		deps,
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
		dephealthSvc = nil
	}

	// 7. HTTP-сервер
	srv := server.New(cfg, logger, apiHandler, jwtAuth)
	runErr := srv.Run(ctx)

	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	logger.Info("certledger остановлен")
	return runErr
}
