// Package entitlement реализует машину состояний доступа пользователя.
// Статусы: new -> active -> expired, blocked достижим из любого состояния
// и снимается только административной операцией. Переходы детерминированы
// и не видны вызывающему как ошибки.
package entitlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/vpn-access-manager/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-access-manager/internal/models"
)

// Repository определяет методы хранилища для работы с пользователями.
type Repository interface {
	RegisterUser(ctx context.Context, user models.User) (*models.User, error)
	GetUser(ctx context.Context, userUID string) (*models.User, error)
	SetUserStatus(ctx context.Context, userUID, status string) error
	ExpireUsers(ctx context.Context, now time.Time) ([]*models.User, error)
	RecomputeEntitlement(ctx context.Context, userUID string, now time.Time) error
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	Get(key string, result any) (bool, error)
	Set(key string, value any, expiration time.Duration) error
	Invalidate(key string) error
}

// AccessRevoker отзывает учетные данные пользователя на панели.
// Узкий интерфейс вместо прямой зависимости от менеджера привязок.
type AccessRevoker interface {
	RevokeAccess(ctx context.Context, user *models.User) error
}

// Service реализует операции машины состояний доступа.
type Service struct {
	repo    Repository
	cache   Cache
	revoker AccessRevoker
	log     *slog.Logger
}

// New создает новый экземпляр Service.
func New(repo Repository, cache Cache, revoker AccessRevoker, log *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		cache:   cache,
		revoker: revoker,
		log:     log,
	}
}

func cacheKey(userUID string) string {
	return fmt.Sprintf("user:%s", userUID)
}

// Register создает пользователя в статусе new со стабильным UUID учетных
// данных панели. Гонка конкурентной регистрации разрешается в хранилище
// чтением уже существующей строки.
func (s *Service) Register(ctx context.Context, req models.DummyUser) (*models.User, error) {
	user := models.User{
		Username:   req.Username,
		Email:      req.Email,
		Status:     models.StatusNew,
		ExternalID: uuid.New().String(),
	}
	created, err := s.repo.RegisterUser(ctx, user)
	if err != nil {
		return nil, err
	}
	s.log.Info("registered user", slog.String("uid", created.UID))
	return created, nil
}

// Status возвращает пользователя, используя кеш или хранилище.
func (s *Service) Status(ctx context.Context, userUID string) (*models.User, error) {
	var result *models.User
	found, err := s.cache.Get(cacheKey(userUID), &result)
	if err != nil {
		s.log.Warn("failed to read user from cache", slog.String("uid", userUID), sl.Err(err))
	}
	if found {
		return result, nil
	}
	result, err = s.repo.GetUser(ctx, userUID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(cacheKey(userUID), result, 5*time.Minute); err != nil {
		s.log.Warn("failed to cache user", slog.String("uid", userUID), sl.Err(err))
	}
	return result, nil
}

// SweepExpire переводит в expired всех активных пользователей с истекшим
// доступом и отзывает учетные данные их активных привязок. Повторный и
// конкурентный запуск безопасен: уже истекшие пользователи не затрагиваются
// и повторных отзывов не происходит. Сбои отзыва не откатывают локальный
// переход: локальное состояние первично, мутации панели рекомендательные.
func (s *Service) SweepExpire(ctx context.Context, now time.Time) ([]*models.User, error) {
	users, err := s.repo.ExpireUsers(ctx, now)
	if err != nil {
		return nil, err
	}
	for _, user := range users {
		if err := s.cache.Invalidate(cacheKey(user.UID)); err != nil {
			s.log.Warn("failed to invalidate user cache", slog.String("uid", user.UID), sl.Err(err))
		}
		if err := s.revoker.RevokeAccess(ctx, user); err != nil {
			s.log.Warn("failed to revoke access on panel",
				slog.String("uid", user.UID), sl.Err(err))
		}
	}
	return users, nil
}

// Block выставляет липкий статус blocked и отзывает учетные данные.
// Никакой автоматический переход blocked не перезапишет.
func (s *Service) Block(ctx context.Context, userUID string) error {
	user, err := s.repo.GetUser(ctx, userUID)
	if err != nil {
		return err
	}
	if err := s.repo.SetUserStatus(ctx, userUID, models.StatusBlocked); err != nil {
		return err
	}
	if err := s.cache.Invalidate(cacheKey(userUID)); err != nil {
		s.log.Warn("failed to invalidate user cache", slog.String("uid", userUID), sl.Err(err))
	}
	if err := s.revoker.RevokeAccess(ctx, user); err != nil {
		s.log.Warn("failed to revoke access on panel", slog.String("uid", userUID), sl.Err(err))
	}
	s.log.Info("blocked user", slog.String("uid", userUID))
	return nil
}

// Unblock снимает blocked и восстанавливает статус по книге периодов:
// активный период с не истекшей датой окончания возвращает active,
// иначе пользователь остается expired.
func (s *Service) Unblock(ctx context.Context, userUID string) error {
	if err := s.repo.SetUserStatus(ctx, userUID, models.StatusExpired); err != nil {
		return err
	}
	if err := s.repo.RecomputeEntitlement(ctx, userUID, time.Now().UTC()); err != nil {
		return err
	}
	if err := s.cache.Invalidate(cacheKey(userUID)); err != nil {
		s.log.Warn("failed to invalidate user cache", slog.String("uid", userUID), sl.Err(err))
	}
	s.log.Info("unblocked user", slog.String("uid", userUID))
	return nil
}
