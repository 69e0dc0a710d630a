package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/vpn-access-manager/internal/models"
)

// RegisterUser сохраняет нового пользователя и возвращает его.
// Гонка конкурентного первого обращения разрешается повторным чтением
// уже существующей строки вместо ошибки вызывающему.
func (s *Storage) RegisterUser(ctx context.Context, user models.User) (*models.User, error) {
	const op = "storage.RegisterUser"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO users (username, email, status, external_id)
			  VALUES ($1, $2, $3, $4)
			  RETURNING uid, created_at`
	created := user
	err := s.DB.QueryRowContext(ctx, query,
		user.Username, user.Email, user.Status, user.ExternalID).Scan(&created.UID, &created.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			existing, readErr := s.GetUserByUsername(ctx, user.Username)
			if readErr != nil {
				return nil, fmt.Errorf("%s: %w", op, readErr)
			}
			return existing, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &created, nil
}

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	u := &models.User{}
	var expiresAt, firstPaidAt sql.NullTime
	if err := row.Scan(&u.UID, &u.Username, &u.Email, &u.Status,
		&expiresAt, &u.ExternalID, &firstPaidAt, &u.CreatedAt); err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		u.ExpiresAt = &expiresAt.Time
	}
	if firstPaidAt.Valid {
		u.FirstPaidAt = &firstPaidAt.Time
	}
	return u, nil
}

const userColumns = `uid, username, email, status, expires_at, external_id, first_paid_at, created_at`

// GetUser возвращает пользователя по его UID.
func (s *Storage) GetUser(ctx context.Context, userUID string) (*models.User, error) {
	const op = "storage.GetUser"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	row := s.DB.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE uid = $1`, userUID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// GetUserByUsername возвращает пользователя по его username.
func (s *Storage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	const op = "storage.GetUserByUsername"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	row := s.DB.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// SetUserStatus выставляет статус пользователя без дополнительных условий.
// Используется только административными операциями блокировки.
func (s *Storage) SetUserStatus(ctx context.Context, userUID, status string) error {
	const op = "storage.SetUserStatus"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	result, err := s.DB.ExecContext(ctx,
		`UPDATE users SET status = $1 WHERE uid = $2`, status, userUID)
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

// ExpireUsers переводит в expired всех активных пользователей, чей доступ
// истёк к моменту now, и возвращает затронутых. Повторный вызов без
// изменений состояния не возвращает никого, поэтому повторных отзывов
// учетных данных не происходит.
func (s *Storage) ExpireUsers(ctx context.Context, now time.Time) ([]*models.User, error) {
	const op = "storage.ExpireUsers"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users SET status = $1
			  WHERE status = $2 AND expires_at IS NOT NULL AND expires_at < $3
			  RETURNING ` + userColumns
	rows, err := s.DB.QueryContext(ctx, query, models.StatusExpired, models.StatusActive, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, u)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// RecomputeEntitlement перевычисляет expires_at и статус пользователя
// по оставшимся периодам подписки: берётся активный период с самой
// поздней датой окончания, иначе самый поздний период любого вида,
// иначе доступ считается отсутствующим. Статус blocked сохраняется.
func (s *Storage) RecomputeEntitlement(ctx context.Context, userUID string, now time.Time) error {
	const op = "storage.RecomputeEntitlement"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockUser(ctx, tx, userUID); err != nil {
			return err
		}
		return recomputeEntitlementTx(ctx, tx, userUID, now)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// recomputeEntitlementTx — общая часть пересчета, вызывается внутри
// транзакции с уже взятой блокировкой строки пользователя.
func recomputeEntitlementTx(ctx context.Context, tx *sql.Tx, userUID string, now time.Time) error {
	var endsAt sql.NullTime
	err := tx.QueryRowContext(ctx, `
		SELECT ends_at FROM subscription_periods
		WHERE user_uid = $1
		ORDER BY is_active DESC, ends_at DESC
		LIMIT 1`, userUID).Scan(&endsAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	status := models.StatusExpired
	var expiresAt any
	if endsAt.Valid {
		expiresAt = endsAt.Time
		if endsAt.Time.After(now) {
			status = models.StatusActive
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE users
		SET status = CASE WHEN status = $1 THEN status ELSE $2 END,
		    expires_at = $3
		WHERE uid = $4`,
		models.StatusBlocked, status, expiresAt, userUID)
	return err
}

// DeleteUser удаляет пользователя; привязки, периоды и платежи
// удаляются каскадно на уровне схемы.
func (s *Storage) DeleteUser(ctx context.Context, userUID string) error {
	const op = "storage.DeleteUser"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	result, err := s.DB.ExecContext(ctx, `DELETE FROM users WHERE uid = $1`, userUID)
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
