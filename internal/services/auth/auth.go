// Package auth содержит логику аутентификации администраторов.
package auth

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/magabrotheeeer/vpn-access-manager/internal/lib/jwt"
	"github.com/magabrotheeeer/vpn-access-manager/internal/models"
)

// ErrInvalidCredentials возвращается при неверной паре логин-пароль.
var ErrInvalidCredentials = errors.New("invalid credentials")

// AdminRepository описывает контракт для работы с администраторами в базе данных.
type AdminRepository interface {
	GetAdminByUsername(ctx context.Context, username string) (*models.Admin, error)
}

// Service отвечает за вход администраторов и валидацию JWT.
type Service struct {
	admins   AdminRepository
	jwtMaker jwt.Maker
}

// New создает новый экземпляр Service.
func New(admins AdminRepository, jwtMaker jwt.Maker) *Service {
	return &Service{
		admins:   admins,
		jwtMaker: jwtMaker,
	}
}

// Login проверяет пароль администратора и генерирует JWT.
func (s *Service) Login(ctx context.Context, username, rawPassword string) (string, error) {
	admin, err := s.admins.GetAdminByUsername(ctx, username)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(rawPassword)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.jwtMaker.GenerateToken(admin.Username, admin.Role)
}

// ValidateToken проверяет JWT и возвращает его claims.
func (s *Service) ValidateToken(_ context.Context, token string) (*jwt.CustomClaims, error) {
	return s.jwtMaker.ParseToken(token)
}
