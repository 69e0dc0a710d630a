package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/vpn-access-manager/internal/lib/days"
	"github.com/magabrotheeeer/vpn-access-manager/internal/models"
)

const bindingColumns = `id, user_uid, server_id, email, is_active, is_retained, created_at`

func scanBinding(row interface{ Scan(...any) error }) (*models.Binding, error) {
	b := &models.Binding{}
	if err := row.Scan(&b.ID, &b.UserUID, &b.ServerID, &b.Email,
		&b.IsActive, &b.IsRetained, &b.CreatedAt); err != nil {
		return nil, err
	}
	return b, nil
}

// insertBindingTx вставляет привязку с проверкой лимита сервера в том же
// выражении, что и вставка: лимит пересчитывается по живому количеству
// привязок, обеспечение лимита best-effort, не линеаризуемое.
// Привязка создаётся активной, только если других активных у пользователя нет.
func insertBindingTx(ctx context.Context, tx *sql.Tx, b models.Binding, maxBindings int) (*models.Binding, error) {
	query := `INSERT INTO bindings (user_uid, server_id, email, is_active, is_retained)
			  SELECT $1, $2, $3,
			      NOT EXISTS (SELECT 1 FROM bindings WHERE user_uid = $1 AND is_active),
			      true
			  WHERE $4 = 0 OR (SELECT COUNT(*) FROM bindings WHERE server_id = $2) < $4
			  RETURNING ` + bindingColumns
	created, err := scanBinding(tx.QueryRowContext(ctx, query, b.UserUID, b.ServerID, b.Email, maxBindings))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConflict
	}
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return created, nil
}

// CreateBinding создает привязку пользователя к серверу.
func (s *Storage) CreateBinding(ctx context.Context, b models.Binding, maxBindings int) (*models.Binding, error) {
	const op = "storage.CreateBinding"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var created *models.Binding
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockUser(ctx, tx, b.UserUID); err != nil {
			return err
		}
		var err error
		created, err = insertBindingTx(ctx, tx, b, maxBindings)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return created, nil
}

// GetBinding возвращает привязку по паре пользователь-сервер.
func (s *Storage) GetBinding(ctx context.Context, userUID string, serverID int) (*models.Binding, error) {
	const op = "storage.GetBinding"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	row := s.DB.QueryRowContext(ctx,
		`SELECT `+bindingColumns+` FROM bindings WHERE user_uid = $1 AND server_id = $2`,
		userUID, serverID)
	b, err := scanBinding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return b, nil
}

// GetActiveBinding возвращает активную привязку пользователя.
func (s *Storage) GetActiveBinding(ctx context.Context, userUID string) (*models.Binding, error) {
	const op = "storage.GetActiveBinding"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	row := s.DB.QueryRowContext(ctx,
		`SELECT `+bindingColumns+` FROM bindings WHERE user_uid = $1 AND is_active`, userUID)
	b, err := scanBinding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return b, nil
}

// ListBindings возвращает все привязки пользователя.
func (s *Storage) ListBindings(ctx context.Context, userUID string) ([]*models.Binding, error) {
	const op = "storage.ListBindings"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+bindingColumns+` FROM bindings WHERE user_uid = $1 ORDER BY id`, userUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Binding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, b)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// SwitchActiveBinding атомарно снимает активность со всех привязок
// пользователя и выставляет её на целевую. Сериализуется блокировкой
// строки пользователя.
func (s *Storage) SwitchActiveBinding(ctx context.Context, userUID string, bindingID int) error {
	const op = "storage.SwitchActiveBinding"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockUser(ctx, tx, userUID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE bindings SET is_active = false WHERE user_uid = $1`, userUID); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx,
			`UPDATE bindings SET is_active = true WHERE id = $1 AND user_uid = $2`,
			bindingID, userUID)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DeleteBinding жестко удаляет привязку пользователя к серверу.
func (s *Storage) DeleteBinding(ctx context.Context, userUID string, serverID int) error {
	const op = "storage.DeleteBinding"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	result, err := s.DB.ExecContext(ctx,
		`DELETE FROM bindings WHERE user_uid = $1 AND server_id = $2`, userUID, serverID)
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

// CreateTrial атомарно создаёт привязку и, если пользователь ещё в статусе
// new, пробный период с выдачей доступа. Пользователь в статусе expired или
// blocked второй пробный период не получает: создаётся только привязка.
// Возвращает привязку, период (nil, если пробный период не выдан) и признак
// выдачи.
func (s *Storage) CreateTrial(ctx context.Context, b models.Binding, maxBindings, trialDays int, now time.Time) (*models.Binding, *models.SubscriptionPeriod, bool, error) {
	const op = "storage.CreateTrial"
	select {
	case <-ctx.Done():
		return nil, nil, false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var createdBinding *models.Binding
	var createdPeriod *models.SubscriptionPeriod
	trialCreated := false

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockUser(ctx, tx, b.UserUID); err != nil {
			return err
		}

		var status string
		if err := tx.QueryRowContext(ctx,
			`SELECT status FROM users WHERE uid = $1`, b.UserUID).Scan(&status); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE bindings SET is_active = false WHERE user_uid = $1`, b.UserUID); err != nil {
			return err
		}
		var err error
		createdBinding, err = insertBindingTx(ctx, tx, b, maxBindings)
		if err != nil {
			return err
		}

		if status != models.StatusNew {
			return nil
		}

		period := models.SubscriptionPeriod{
			UserUID:    b.UserUID,
			PeriodDays: trialDays,
			StartsAt:   now,
			EndsAt:     days.Add(now, trialDays),
		}
		createdPeriod, err = insertActivePeriodTx(ctx, tx, period)
		if err != nil {
			return err
		}
		trialCreated = true
		return nil
	})
	if err != nil {
		return nil, nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return createdBinding, createdPeriod, trialCreated, nil
}
