// Package server содержит логику управления парком VPN-серверов.
package server

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/magabrotheeeer/vpn-access-manager/internal/models"
)

// ErrPartialPanel возвращается, когда дескриптор панели задан не целиком:
// поля панели приходят все вместе либо не приходят вовсе.
var ErrPartialPanel = errors.New("panel descriptor must be complete or absent")

// Repository определяет методы хранилища для работы с серверами.
type Repository interface {
	CreateServer(ctx context.Context, srv models.Server) (int, error)
	GetServer(ctx context.Context, id int) (*models.Server, error)
	ListServers(ctx context.Context) ([]*models.Server, error)
	DeleteServer(ctx context.Context, id int) error
}

// Secrets шифрует пароли панелей перед записью в базу.
type Secrets interface {
	Encrypt(plaintext string) (string, error)
}

// Service реализует операции над серверами.
type Service struct {
	repo   Repository
	secret Secrets
	log    *slog.Logger
}

// New создает новый экземпляр Service.
func New(repo Repository, secret Secrets, log *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		secret: secret,
		log:    log,
	}
}

// Create регистрирует сервер. Пароль панели шифруется и в открытом виде
// нигде не хранится и не логируется.
func (s *Service) Create(ctx context.Context, req models.DummyServer) (int, error) {
	srv := models.Server{
		Name:        req.Name,
		Address:     req.Address,
		MaxBindings: req.MaxBindings,
		Security:    req.Security,
		IsActive:    true,
	}
	if srv.Security == "" {
		srv.Security = "none"
	}

	hasAny := req.PanelBaseURL != "" || req.PanelUsername != "" || req.PanelPassword != "" || req.PanelInbound != 0
	hasAll := req.PanelBaseURL != "" && req.PanelUsername != "" && req.PanelPassword != "" && req.PanelInbound != 0
	if hasAny && !hasAll {
		return 0, ErrPartialPanel
	}
	if hasAll {
		enc, err := s.secret.Encrypt(req.PanelPassword)
		if err != nil {
			return 0, err
		}
		srv.Panel = &models.PanelConfig{
			BaseURL:     strings.TrimRight(req.PanelBaseURL, "/"),
			Username:    req.PanelUsername,
			PasswordEnc: enc,
			InboundID:   req.PanelInbound,
		}
	}

	id, err := s.repo.CreateServer(ctx, srv)
	if err != nil {
		return 0, err
	}
	s.log.Info("created server",
		slog.Int("server_id", id), slog.String("name", srv.Name),
		slog.Bool("managed", srv.Managed()))
	return id, nil
}

// Get возвращает сервер по его ID.
func (s *Service) Get(ctx context.Context, id int) (*models.Server, error) {
	return s.repo.GetServer(ctx, id)
}

// List возвращает все серверы.
func (s *Service) List(ctx context.Context) ([]*models.Server, error) {
	return s.repo.ListServers(ctx)
}

// Delete удаляет сервер. Сервер с привязками не удаляется: хранилище
// вернет конфликт, каскадное снятие привязок не предусмотрено.
func (s *Service) Delete(ctx context.Context, id int) error {
	if err := s.repo.DeleteServer(ctx, id); err != nil {
		return err
	}
	s.log.Info("deleted server", slog.Int("server_id", id))
	return nil
}
