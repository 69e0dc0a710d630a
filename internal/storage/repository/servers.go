package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/vpn-access-manager/internal/models"
)

const serverColumns = `id, name, address, max_bindings, security, is_active,
			      panel_base_url, panel_username, panel_password_enc, panel_inbound_id`

func scanServer(row interface{ Scan(...any) error }) (*models.Server, error) {
	srv := &models.Server{}
	var baseURL, username, passwordEnc sql.NullString
	var inboundID sql.NullInt64
	if err := row.Scan(&srv.ID, &srv.Name, &srv.Address, &srv.MaxBindings,
		&srv.Security, &srv.IsActive, &baseURL, &username, &passwordEnc, &inboundID); err != nil {
		return nil, err
	}
	// Дескриптор панели присутствует целиком либо отсутствует целиком.
	if baseURL.Valid {
		srv.Panel = &models.PanelConfig{
			BaseURL:     baseURL.String,
			Username:    username.String,
			PasswordEnc: passwordEnc.String,
			InboundID:   int(inboundID.Int64),
		}
	}
	return srv, nil
}

// CreateServer вставляет новый сервер и возвращает его ID.
func (s *Storage) CreateServer(ctx context.Context, srv models.Server) (int, error) {
	const op = "storage.CreateServer"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var baseURL, username, passwordEnc any
	var inboundID any
	if srv.Panel != nil {
		baseURL = srv.Panel.BaseURL
		username = srv.Panel.Username
		passwordEnc = srv.Panel.PasswordEnc
		inboundID = srv.Panel.InboundID
	}

	query := `INSERT INTO servers (name, address, max_bindings, security, is_active,
			      panel_base_url, panel_username, panel_password_enc, panel_inbound_id)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			  RETURNING id`
	var newID int
	err := s.DB.QueryRowContext(ctx, query,
		srv.Name, srv.Address, srv.MaxBindings, srv.Security, srv.IsActive,
		baseURL, username, passwordEnc, inboundID).Scan(&newID)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%s: %w", op, ErrConflict)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}

// GetServer возвращает сервер по его ID.
func (s *Storage) GetServer(ctx context.Context, id int) (*models.Server, error) {
	const op = "storage.GetServer"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	row := s.DB.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM servers WHERE id = $1`, id)
	srv, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return srv, nil
}

// ListServers возвращает список всех серверов.
func (s *Storage) ListServers(ctx context.Context) ([]*models.Server, error) {
	const op = "storage.ListServers"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	rows, err := s.DB.QueryContext(ctx, `SELECT `+serverColumns+` FROM servers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, srv)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// DeleteServer удаляет сервер. Сервер с существующими привязками
// не удаляется: возвращается ErrConflict, каскада нет.
func (s *Storage) DeleteServer(ctx context.Context, id int) error {
	const op = "storage.DeleteServer"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM bindings WHERE server_id = $1`, id).Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			return ErrConflict
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM servers WHERE id = $1`, id)
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
