package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/vpn-access-manager/internal/models"
)

// SavePayment сохраняет проведенный платеж и возвращает его ID.
// Момент первого платежа пользователя фиксируется один раз и далее
// не меняется: по нему различаются новые и существующие клиенты.
func (s *Storage) SavePayment(ctx context.Context, p models.Payment) (int, error) {
	const op = "storage.SavePayment"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var planID any
	if p.PlanID != nil {
		planID = *p.PlanID
	}

	var newID int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockUser(ctx, tx, p.UserUID); err != nil {
			return err
		}
		query := `INSERT INTO payments (user_uid, plan_id, amount, currency, status, plan_price, created_at)
				  VALUES ($1, $2, $3, $4, $5, $6, NOW())
				  RETURNING id`
		if err := tx.QueryRowContext(ctx, query,
			p.UserUID, planID, p.Amount, p.Currency, p.Status, p.PlanPrice).Scan(&newID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE users SET first_paid_at = NOW() WHERE uid = $1 AND first_paid_at IS NULL`,
			p.UserUID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}

// GetPayment возвращает платеж по его ID.
func (s *Storage) GetPayment(ctx context.Context, id int) (*models.Payment, error) {
	const op = "storage.GetPayment"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_uid, plan_id, amount, currency, status, plan_price, created_at
			  FROM payments WHERE id = $1`
	p := &models.Payment{}
	var planID sql.NullInt64
	err := s.DB.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.UserUID, &planID,
		&p.Amount, &p.Currency, &p.Status, &p.PlanPrice, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if planID.Valid {
		pid := int(planID.Int64)
		p.PlanID = &pid
	}
	return p, nil
}

// DeletePayment удаляет платеж. Используется только при отмене платежа,
// вместе с удалением созданного им периода.
func (s *Storage) DeletePayment(ctx context.Context, id int) error {
	const op = "storage.DeletePayment"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	result, err := s.DB.ExecContext(ctx, `DELETE FROM payments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

// GetPlan возвращает тариф по его ID.
func (s *Storage) GetPlan(ctx context.Context, id int) (*models.Plan, error) {
	const op = "storage.GetPlan"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, name, price, duration_days, archived FROM plans WHERE id = $1`
	p := &models.Plan{}
	err := s.DB.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &p.Price, &p.DurationDays, &p.Archived)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// GetAdminByUsername возвращает администратора по его username.
func (s *Storage) GetAdminByUsername(ctx context.Context, username string) (*models.Admin, error) {
	const op = "storage.GetAdminByUsername"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, username, password_hash, role FROM admins WHERE username = $1`
	a := &models.Admin{}
	err := s.DB.QueryRowContext(ctx, query, username).Scan(&a.ID, &a.Username, &a.PasswordHash, &a.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return a, nil
}
