// Package sweeper собирает и запускает приложение периодического перевода
// пользователей с истекшим доступом в expired.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/vpn-access-manager/internal/cache"
	"github.com/magabrotheeeer/vpn-access-manager/internal/config"
	"github.com/magabrotheeeer/vpn-access-manager/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/vpn-access-manager/internal/lib/secrets"
	"github.com/magabrotheeeer/vpn-access-manager/internal/panel"
	assignmentservice "github.com/magabrotheeeer/vpn-access-manager/internal/services/assignment"
	entitlementservice "github.com/magabrotheeeer/vpn-access-manager/internal/services/entitlement"
	sweeperservice "github.com/magabrotheeeer/vpn-access-manager/internal/services/sweeper"
	"github.com/magabrotheeeer/vpn-access-manager/internal/storage/repository"
)

// App представляет приложение периодической задачи.
type App struct {
	sweeperService *sweeperservice.Service
	conn           *amqp.Connection
	ch             *amqp.Channel
	interval       time.Duration
	logger         *slog.Logger
}

func waitForDB(db *repository.Storage) error {
	for range 10 {
		err := repository.CheckDatabaseReady(db)
		if err == nil {
			return nil
		}
		time.Sleep(3 * time.Second)
	}
	return fmt.Errorf("database not ready after retries")
}

// New создает новый экземпляр приложения периодической задачи.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}

	queues := rabbitmq.GetNotificationQueues()
	ch, err := rabbitmq.SetupChannel(conn, queues)
	if err != nil {
		closeResources(nil, conn, logger)
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}

	if err := waitForDB(db); err != nil {
		closeResources(ch, conn, logger)
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, fmt.Errorf("cache not initialized: %w", err)
	}

	keeper, err := secrets.New(cfg.Secrets.Passphrase, cfg.Secrets.Salt)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, err
	}

	panelClient := panel.New(logger, cfg.Panel.TimeoutPanel, cfg.Panel.MaxAttempts)
	assignmentManager := assignmentservice.New(db, panelClient, keeper, cacheRedis, logger)
	entitlementService := entitlementservice.New(db, cacheRedis, assignmentManager, logger)
	sweeperService := sweeperservice.New(entitlementService, logger)

	return &App{
		sweeperService: sweeperService,
		conn:           conn,
		ch:             ch,
		interval:       cfg.SweepInterval,
		logger:         logger,
	}, nil
}

func closeResources(ch *amqp.Channel, conn *amqp.Connection, logger *slog.Logger) {
	if ch != nil {
		if err := ch.Close(); err != nil {
			logger.Error("failed to close channel", "error", err)
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.Error("failed to close connection", "error", err)
		}
	}
}

// Run запускает периодическую задачу.
func (a *App) Run(ctx context.Context) error {
	go a.sweeperService.Run(ctx, a.ch, a.interval)

	<-ctx.Done()

	a.logger.Info("shutting down sweeper service")

	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", slog.Any("err", err))
	}

	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", slog.Any("err", err))
	}

	return nil
}
