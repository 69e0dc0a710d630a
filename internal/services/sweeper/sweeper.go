// Package sweeper содержит периодическую задачу перевода пользователей
// с истекшим доступом в expired и рассылки уведомлений об этом.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/vpn-access-manager/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/vpn-access-manager/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-access-manager/internal/models"
)

var (
	expiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "access_sweeper_expired_users_total",
		Help: "Количество пользователей, переведенных в expired",
	})
	sweepErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "access_sweeper_errors_total",
		Help: "Количество проходов, завершившихся ошибкой",
	})
)

// Entitlements описывает операцию машины состояний, нужную задаче.
type Entitlements interface {
	SweepExpire(ctx context.Context, now time.Time) ([]*models.User, error)
}

// Service реализует периодический проход по истекшим пользователям.
type Service struct {
	entitlements Entitlements
	log          *slog.Logger
}

// New создает новый экземпляр Service.
func New(entitlements Entitlements, log *slog.Logger) *Service {
	return &Service{
		entitlements: entitlements,
		log:          log,
	}
}

// Run запускает проход сразу и далее по тикеру до отмены контекста.
// Проход идемпотентен, конкурентный запуск в нескольких процессах безопасен.
func (s *Service) Run(ctx context.Context, channel *amqp.Channel, interval time.Duration) {
	s.runSweep(ctx, channel)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runSweep(ctx, channel)
		}
	}
}

func (s *Service) runSweep(ctx context.Context, channel *amqp.Channel) {
	s.log.Info("starting sweep of expired users")
	now := time.Now().UTC()
	users, err := s.entitlements.SweepExpire(ctx, now)
	if err != nil {
		sweepErrors.Inc()
		s.log.Error("failed to sweep expired users", sl.Err(err))
		return
	}
	if len(users) == 0 {
		s.log.Info("no expired users found")
		return
	}
	expiredTotal.Add(float64(len(users)))
	s.log.Info("expired users", "count", len(users))
	for _, user := range users {
		if user.Email == "" {
			continue
		}
		notice := models.ExpiryNotice{
			Email:     user.Email,
			Username:  user.Username,
			ExpiredAt: now,
		}
		if err := rabbitmq.PublishMessage(channel, "notifications", "expired", notice); err != nil {
			s.log.Error("failed to publish expiry notice", sl.Err(err))
		}
	}
}
