// Package accessmanager собирает и запускает основное приложение:
// HTTP API управления пользователями, серверами, привязками и платежами.
package accessmanager

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"

	"github.com/magabrotheeeer/vpn-access-manager/internal/cache"
	"github.com/magabrotheeeer/vpn-access-manager/internal/config"
	"github.com/magabrotheeeer/vpn-access-manager/internal/lib/jwt"
	"github.com/magabrotheeeer/vpn-access-manager/internal/lib/secrets"
	"github.com/magabrotheeeer/vpn-access-manager/internal/migrations"
	"github.com/magabrotheeeer/vpn-access-manager/internal/panel"
	assignmentservice "github.com/magabrotheeeer/vpn-access-manager/internal/services/assignment"
	authservice "github.com/magabrotheeeer/vpn-access-manager/internal/services/auth"
	entitlementservice "github.com/magabrotheeeer/vpn-access-manager/internal/services/entitlement"
	ledgerservice "github.com/magabrotheeeer/vpn-access-manager/internal/services/ledger"
	paymentservice "github.com/magabrotheeeer/vpn-access-manager/internal/services/payment"
	serverservice "github.com/magabrotheeeer/vpn-access-manager/internal/services/server"
	"github.com/magabrotheeeer/vpn-access-manager/internal/storage/repository"
)

type App struct {
	server *http.Server
	logger *slog.Logger
	db     *repository.Storage
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, err
	}

	keeper, err := secrets.New(cfg.Secrets.Passphrase, cfg.Secrets.Salt)
	if err != nil {
		return nil, err
	}

	panelClient := panel.New(logger, cfg.Panel.TimeoutPanel, cfg.Panel.MaxAttempts)
	jwtMaker := jwt.NewMaker(cfg.JWTToken.JWTSecretKey, cfg.JWTToken.TokenTTL)

	assignmentManager := assignmentservice.New(db, panelClient, keeper, cacheRedis, logger)
	entitlementService := entitlementservice.New(db, cacheRedis, assignmentManager, logger)
	ledgerService := ledgerservice.New(db, cacheRedis, logger)
	paymentService := paymentservice.New(db, ledgerService, logger)
	serverService := serverservice.New(db, keeper, logger)
	authService := authservice.New(db, jwtMaker)

	router := chi.NewRouter()
	RegisterRoutes(router, logger,
		authService, entitlementService, assignmentManager, paymentService, serverService,
		cfg.TrialDays)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server: srv,
		logger: logger,
		db:     db,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		a.db.DB.Close()
		return err
	}
}
