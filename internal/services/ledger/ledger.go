// Package ledger реализует книгу периодов подписки. Период — единственный
// источник правды о сроке доступа; статус пользователя всегда производен
// от активного периода.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/vpn-access-manager/internal/lib/days"
	"github.com/magabrotheeeer/vpn-access-manager/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-access-manager/internal/models"
)

// ErrInvalidPeriod возвращается при попытке создать период с
// неположительной длительностью. Проверка выполняется до любой записи.
var ErrInvalidPeriod = errors.New("period duration must be positive")

// Repository определяет методы хранилища для работы с периодами подписки.
type Repository interface {
	CreatePeriod(ctx context.Context, period models.SubscriptionPeriod) (*models.SubscriptionPeriod, error)
	GetPeriod(ctx context.Context, id int) (*models.SubscriptionPeriod, error)
	GetPeriodByPaymentID(ctx context.Context, paymentID int) (*models.SubscriptionPeriod, error)
	DeletePeriodRecompute(ctx context.Context, id int, now time.Time) error
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	Invalidate(key string) error
}

// Service реализует операции книги периодов.
type Service struct {
	repo  Repository
	cache Cache
	log   *slog.Logger
}

// New создает новый экземпляр Service.
func New(repo Repository, cache Cache, log *slog.Logger) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
		log:   log,
	}
}

// CreatePeriod создает новый период подписки и выдает пользователю доступ
// на его длительность. Начало периода — текущий момент UTC, если не задано
// явно. Окончание считается в календарных днях UTC: прибавление дней не
// зависит от длины месяца и перехода на летнее время. Прежний активный
// период деактивируется той же транзакцией, двух активных периодов у
// пользователя не бывает.
func (s *Service) CreatePeriod(ctx context.Context, userUID string, periodDays int,
	startsAt *time.Time, paymentID *int) (*models.SubscriptionPeriod, error) {
	if periodDays <= 0 {
		return nil, ErrInvalidPeriod
	}

	start := time.Now().UTC()
	if startsAt != nil {
		start = startsAt.UTC()
	}
	period := models.SubscriptionPeriod{
		UserUID:    userUID,
		PaymentID:  paymentID,
		PeriodDays: periodDays,
		StartsAt:   start,
		EndsAt:     days.Add(start, periodDays),
		IsActive:   true,
	}
	created, err := s.repo.CreatePeriod(ctx, period)
	if err != nil {
		return nil, err
	}
	s.invalidate(userUID)
	s.log.Info("created subscription period",
		slog.String("uid", userUID),
		slog.Int("period_id", created.ID),
		slog.Time("ends_at", created.EndsAt))
	return created, nil
}

// GetPeriod возвращает период по его ID.
func (s *Service) GetPeriod(ctx context.Context, id int) (*models.SubscriptionPeriod, error) {
	return s.repo.GetPeriod(ctx, id)
}

// GetPeriodByPayment возвращает период, созданный указанным платежом.
func (s *Service) GetPeriodByPayment(ctx context.Context, paymentID int) (*models.SubscriptionPeriod, error) {
	return s.repo.GetPeriodByPaymentID(ctx, paymentID)
}

// DeletePeriod удаляет период и пересчитывает статус пользователя по
// оставшимся записям книги. Blocked при пересчете не затрагивается.
func (s *Service) DeletePeriod(ctx context.Context, id int) error {
	period, err := s.repo.GetPeriod(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeletePeriodRecompute(ctx, id, time.Now().UTC()); err != nil {
		return err
	}
	s.invalidate(period.UserUID)
	s.log.Info("deleted subscription period",
		slog.String("uid", period.UserUID), slog.Int("period_id", id))
	return nil
}

func (s *Service) invalidate(userUID string) {
	if err := s.cache.Invalidate(fmt.Sprintf("user:%s", userUID)); err != nil {
		s.log.Warn("failed to invalidate user cache", slog.String("uid", userUID), sl.Err(err))
	}
}
