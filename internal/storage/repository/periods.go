package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/vpn-access-manager/internal/models"
)

const periodColumns = `id, user_uid, payment_id, period_days, starts_at, ends_at, is_active`

func scanPeriod(row interface{ Scan(...any) error }) (*models.SubscriptionPeriod, error) {
	p := &models.SubscriptionPeriod{}
	var paymentID sql.NullInt64
	if err := row.Scan(&p.ID, &p.UserUID, &paymentID, &p.PeriodDays,
		&p.StartsAt, &p.EndsAt, &p.IsActive); err != nil {
		return nil, err
	}
	if paymentID.Valid {
		id := int(paymentID.Int64)
		p.PaymentID = &id
	}
	return p, nil
}

// insertActivePeriodTx деактивирует текущий активный период пользователя,
// вставляет новый активным и выдаёт доступ: статус становится active,
// expires_at — датой окончания периода. Статус blocked не перезаписывается,
// но expires_at фиксируется и для него — последующая разблокировка
// восстановит доступ по нему.
func insertActivePeriodTx(ctx context.Context, tx *sql.Tx, p models.SubscriptionPeriod) (*models.SubscriptionPeriod, error) {
	if _, err := tx.ExecContext(ctx,
		`UPDATE subscription_periods SET is_active = false WHERE user_uid = $1 AND is_active`,
		p.UserUID); err != nil {
		return nil, err
	}

	var paymentID any
	if p.PaymentID != nil {
		paymentID = *p.PaymentID
	}
	query := `INSERT INTO subscription_periods (user_uid, payment_id, period_days, starts_at, ends_at, is_active)
			  VALUES ($1, $2, $3, $4, $5, true)
			  RETURNING ` + periodColumns
	created, err := scanPeriod(tx.QueryRowContext(ctx, query,
		p.UserUID, paymentID, p.PeriodDays, p.StartsAt, p.EndsAt))
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE users
		SET status = CASE WHEN status = $1 THEN status ELSE $2 END,
		    expires_at = $3
		WHERE uid = $4`,
		models.StatusBlocked, models.StatusActive, p.EndsAt, p.UserUID)
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CreatePeriod создаёт период подписки: деактивация старого периода,
// вставка нового и выдача доступа выполняются в одной транзакции,
// сериализованной блокировкой строки пользователя.
func (s *Storage) CreatePeriod(ctx context.Context, p models.SubscriptionPeriod) (*models.SubscriptionPeriod, error) {
	const op = "storage.CreatePeriod"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var created *models.SubscriptionPeriod
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockUser(ctx, tx, p.UserUID); err != nil {
			return err
		}
		var err error
		created, err = insertActivePeriodTx(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return created, nil
}

// GetPeriod возвращает период по его ID.
func (s *Storage) GetPeriod(ctx context.Context, id int) (*models.SubscriptionPeriod, error) {
	const op = "storage.GetPeriod"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	row := s.DB.QueryRowContext(ctx,
		`SELECT `+periodColumns+` FROM subscription_periods WHERE id = $1`, id)
	p, err := scanPeriod(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// GetPeriodByPaymentID возвращает период, созданный указанным платежом.
func (s *Storage) GetPeriodByPaymentID(ctx context.Context, paymentID int) (*models.SubscriptionPeriod, error) {
	const op = "storage.GetPeriodByPaymentID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	row := s.DB.QueryRowContext(ctx,
		`SELECT `+periodColumns+` FROM subscription_periods WHERE payment_id = $1`, paymentID)
	p, err := scanPeriod(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// DeletePeriodRecompute удаляет период и в той же транзакции пересчитывает
// доступ пользователя по оставшимся периодам. Используется только при
// отмене платежа.
func (s *Storage) DeletePeriodRecompute(ctx context.Context, periodID int, now time.Time) error {
	const op = "storage.DeletePeriodRecompute"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var userUID string
		err := tx.QueryRowContext(ctx,
			`SELECT user_uid FROM subscription_periods WHERE id = $1`, periodID).Scan(&userUID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := lockUser(ctx, tx, userUID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM subscription_periods WHERE id = $1`, periodID); err != nil {
			return err
		}
		return recomputeEntitlementTx(ctx, tx, userUID, now)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
