// Package payment связывает проведенные платежи с книгой периодов подписки.
// Сервис принимает только свершившиеся платежи: никакого взаимодействия с
// платежным провайдером здесь нет.
package payment

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/vpn-access-manager/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-access-manager/internal/models"
	"github.com/magabrotheeeer/vpn-access-manager/internal/storage/repository"
)

// Repository определяет методы хранилища для работы с платежами.
type Repository interface {
	GetUser(ctx context.Context, userUID string) (*models.User, error)
	SavePayment(ctx context.Context, p models.Payment) (int, error)
	GetPayment(ctx context.Context, id int) (*models.Payment, error)
	DeletePayment(ctx context.Context, id int) error
	GetPlan(ctx context.Context, id int) (*models.Plan, error)
}

// Ledger описывает операции книги периодов, нужные платежному сервису.
type Ledger interface {
	CreatePeriod(ctx context.Context, userUID string, periodDays int, startsAt *time.Time, paymentID *int) (*models.SubscriptionPeriod, error)
	GetPeriodByPayment(ctx context.Context, paymentID int) (*models.SubscriptionPeriod, error)
	DeletePeriod(ctx context.Context, id int) error
}

// Service реализует проведение и отмену платежей.
type Service struct {
	repo   Repository
	ledger Ledger
	log    *slog.Logger
}

// New создает новый экземпляр Service.
func New(repo Repository, ledger Ledger, log *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		ledger: ledger,
		log:    log,
	}
}

// RecordSettled сохраняет проведенный платеж и создает оплаченный им период
// подписки. Цена тарифа фиксируется в платеже на момент проведения: позднейшие
// изменения тарифа исторические платежи не трогают. Платеж и период пишутся
// двумя транзакциями; если создание периода сорвалось, платеж остается и
// ошибка отдается вызывающему для повтора.
func (s *Service) RecordSettled(ctx context.Context, req models.DummyPayment) (*models.Payment, *models.SubscriptionPeriod, error) {
	if _, err := s.repo.GetUser(ctx, req.UserUID); err != nil {
		return nil, nil, err
	}

	p := models.Payment{
		UserUID:  req.UserUID,
		Amount:   req.Amount,
		Currency: req.Currency,
		Status:   models.PaymentStatusSucceeded,
	}
	if req.PlanID != 0 {
		plan, err := s.repo.GetPlan(ctx, req.PlanID)
		if err != nil {
			return nil, nil, err
		}
		planID := plan.ID
		p.PlanID = &planID
		p.PlanPrice = plan.Price
	}

	id, err := s.repo.SavePayment(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	p.ID = id

	period, err := s.ledger.CreatePeriod(ctx, req.UserUID, req.PeriodDays, nil, &id)
	if err != nil {
		s.log.Error("payment saved but period creation failed",
			slog.Int("payment_id", id), slog.String("uid", req.UserUID), sl.Err(err))
		return nil, nil, err
	}
	s.log.Info("recorded settled payment",
		slog.Int("payment_id", id), slog.String("uid", req.UserUID),
		slog.Int("period_days", req.PeriodDays))
	return &p, period, nil
}

// Refund отменяет платеж: удаляет созданный им период с пересчетом статуса
// пользователя, затем сам платеж. Платеж без периода тоже отменяется.
func (s *Service) Refund(ctx context.Context, paymentID int) error {
	if _, err := s.repo.GetPayment(ctx, paymentID); err != nil {
		return err
	}

	period, err := s.ledger.GetPeriodByPayment(ctx, paymentID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	if period != nil {
		if err := s.ledger.DeletePeriod(ctx, period.ID); err != nil {
			return err
		}
	}
	if err := s.repo.DeletePayment(ctx, paymentID); err != nil {
		return err
	}
	s.log.Info("refunded payment", slog.Int("payment_id", paymentID))
	return nil
}
