// Package sender собирает и запускает приложение отправки почтовых
// уведомлений. Потребитель очереди не масштабируется горизонтально,
// поэтому перед запуском процесс пытается захватить распределенную
// блокировку: во всех процессах, разделяющих базу, работает не более
// одного потребителя. Проигравший процесс завершается сразу, без
// ожидания в очереди за блокировкой.
package sender

import (
	"context"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/vpn-access-manager/internal/config"
	"github.com/magabrotheeeer/vpn-access-manager/internal/lib/rabbitmq"
	senderservice "github.com/magabrotheeeer/vpn-access-manager/internal/services/sender"
	"github.com/magabrotheeeer/vpn-access-manager/internal/storage/repository"
)

const consumerLockKey = "notification-sender"

// consumerLock — сессионная блокировка единственного потребителя очереди.
type consumerLock interface {
	TryAcquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
	Close() error
}

type App struct {
	conn          *amqp.Connection
	ch            *amqp.Channel
	lock          consumerLock
	senderService *senderservice.Service
	logger        *slog.Logger
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	lock, err := db.NewSessionLock(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, err
	}

	queues := rabbitmq.GetNotificationQueues()
	ch, err := rabbitmq.SetupChannel(conn, queues)
	if err != nil {
		conn.Close()
		return nil, err
	}

	senderService := senderservice.New(cfg, logger)

	return &App{
		conn:          conn,
		ch:            ch,
		lock:          lock,
		senderService: senderService,
		logger:        logger,
	}, nil
}

// Run делает одну попытку захвата блокировки потребителя. Если блокировку
// держит другой процесс, приложение завершается чисто и без повторов:
// оркестратор сам решает, когда поднимать замену.
func (a *App) Run(ctx context.Context) error {
	acquired, err := a.lock.TryAcquire(ctx, consumerLockKey)
	if err != nil {
		a.closeResources()
		return err
	}
	if !acquired {
		a.logger.Info("consumer lock is held by another process, shutting down")
		a.closeResources()
		return nil
	}
	a.logger.Info("consumer lock acquired")

	err = rabbitmq.ConsumerMessage(ctx, a.ch, "access_expired", a.senderService.SendExpiryNotice)
	if err != nil {
		a.logger.Error("failed to start access_expired consumer", slog.Any("err", err))
		a.releaseLock()
		a.closeResources()
		return err
	}

	<-ctx.Done()
	a.logger.Info("sender service shutting down gracefully")

	a.releaseLock()
	a.closeResources()
	return nil
}

func (a *App) releaseLock() {
	if err := a.lock.Release(context.Background(), consumerLockKey); err != nil {
		a.logger.Error("failed to release consumer lock", slog.Any("err", err))
	}
}

func (a *App) closeResources() {
	if err := a.lock.Close(); err != nil {
		a.logger.Error("failed to close lock session", slog.Any("err", err))
	}
	if a.ch != nil {
		if err := a.ch.Close(); err != nil {
			a.logger.Error("failed to close channel", slog.Any("err", err))
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Error("failed to close connection", slog.Any("err", err))
		}
	}
}
