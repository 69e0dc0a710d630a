// Package assignment реализует менеджер привязок пользователей к серверам.
// Локальная база — источник правды; все мутации панели best-effort, кроме
// явно оговоренных. Менеджер владеет схемой идентификаторов учетных данных
// и порядком операций при переключении активной привязки.
package assignment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/magabrotheeeer/vpn-access-manager/internal/lib/days"
	"github.com/magabrotheeeer/vpn-access-manager/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-access-manager/internal/models"
	"github.com/magabrotheeeer/vpn-access-manager/internal/panel"
	"github.com/magabrotheeeer/vpn-access-manager/internal/storage/repository"
)

// Repository определяет методы хранилища для работы с привязками.
type Repository interface {
	GetUser(ctx context.Context, userUID string) (*models.User, error)
	DeleteUser(ctx context.Context, userUID string) error
	GetServer(ctx context.Context, id int) (*models.Server, error)
	CreateBinding(ctx context.Context, b models.Binding, maxBindings int) (*models.Binding, error)
	GetBinding(ctx context.Context, userUID string, serverID int) (*models.Binding, error)
	GetActiveBinding(ctx context.Context, userUID string) (*models.Binding, error)
	ListBindings(ctx context.Context, userUID string) ([]*models.Binding, error)
	SwitchActiveBinding(ctx context.Context, userUID string, bindingID int) error
	DeleteBinding(ctx context.Context, userUID string, serverID int) error
	CreateTrial(ctx context.Context, b models.Binding, maxBindings, trialDays int, now time.Time) (*models.Binding, *models.SubscriptionPeriod, bool, error)
}

// PanelClient определяет операции клиента панели, нужные менеджеру.
type PanelClient interface {
	Authenticate(ctx context.Context, base, username, password string) (*panel.Session, error)
	UpsertCredential(ctx context.Context, base string, sess *panel.Session, inboundID int, cred panel.Credential) error
	UpdateCredential(ctx context.Context, base string, sess *panel.Session, inboundID int, email string, patch panel.CredentialPatch) error
	DeleteCredential(ctx context.Context, base string, sess *panel.Session, inboundID int, email string) error
	FetchTraffic(ctx context.Context, base string, sess *panel.Session, inboundID int, email string) (*panel.Traffic, error)
}

// Secrets расшифровывает сохраненные пароли панелей.
type Secrets interface {
	Decrypt(opaque string) (string, error)
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	Get(key string, result any) (bool, error)
	Set(key string, value any, expiration time.Duration) error
}

// TrialResult — итог операции выдачи пробного доступа.
type TrialResult struct {
	Binding      *models.Binding
	Period       *models.SubscriptionPeriod
	TrialCreated bool
}

// Manager реализует операции над привязками.
type Manager struct {
	repo   Repository
	panel  PanelClient
	secret Secrets
	cache  Cache
	log    *slog.Logger
}

// New создает новый экземпляр Manager.
func New(repo Repository, panelClient PanelClient, secret Secrets, cache Cache, log *slog.Logger) *Manager {
	return &Manager{
		repo:   repo,
		panel:  panelClient,
		secret: secret,
		cache:  cache,
		log:    log,
	}
}

// credentialEmail строит детерминированный идентификатор учетных данных
// для пары пользователь-сервер. Повторная привязка к тому же серверу дает
// тот же идентификатор, поэтому на панели не накапливаются дубликаты.
func credentialEmail(user *models.User, serverID int) string {
	name := strings.ToLower(user.Username)
	h := sha256.Sum256(fmt.Appendf(nil, "%s:%d", user.ExternalID, serverID))
	return fmt.Sprintf("%s-%s-s%d", name, hex.EncodeToString(h[:4]), serverID)
}

// login расшифровывает пароль панели и открывает новую сессию.
// Сессии короткоживущие, каждый логический вызов входит заново.
func (m *Manager) login(ctx context.Context, srv *models.Server) (*panel.Session, error) {
	password, err := m.secret.Decrypt(srv.Panel.PasswordEnc)
	if err != nil {
		return nil, fmt.Errorf("decrypt panel password for server %d: %w", srv.ID, err)
	}
	return m.panel.Authenticate(ctx, srv.Panel.BaseURL, srv.Panel.Username, password)
}

// expiryMillis возвращает срок действия учетных данных: конец доступа
// пользователя в epoch millis, 0 — без ограничения.
func expiryMillis(user *models.User) int64 {
	if user.ExpiresAt == nil {
		return 0
	}
	return user.ExpiresAt.UnixMilli()
}

// pushCredential создаёт учетные данные на панели, а если они уже там
// есть — обновляет их на месте, включая и продлевая. Повторная активация
// одной привязки сходится к одному и тому же состоянию панели.
func (m *Manager) pushCredential(ctx context.Context, srv *models.Server, sess *panel.Session,
	user *models.User, email string) error {
	expiry := expiryMillis(user)
	cred := panel.Credential{
		ID:         user.ExternalID,
		Email:      email,
		Flow:       srv.Flow(),
		ExpiryTime: expiry,
		Enable:     true,
	}
	err := m.panel.UpsertCredential(ctx, srv.Panel.BaseURL, sess, srv.Panel.InboundID, cred)
	if errors.Is(err, panel.ErrCredentialExists) {
		flow := srv.Flow()
		enabled := true
		return m.panel.UpdateCredential(ctx, srv.Panel.BaseURL, sess, srv.Panel.InboundID, email,
			panel.CredentialPatch{Flow: &flow, Expiry: &expiry, Enabled: &enabled})
	}
	return err
}

// revoke удаляет учетные данные привязки с панели сервера. Отсутствие
// учетных данных на панели ошибкой не считается.
func (m *Manager) revoke(ctx context.Context, srv *models.Server, email string) error {
	sess, err := m.login(ctx, srv)
	if err != nil {
		return err
	}
	err = m.panel.DeleteCredential(ctx, srv.Panel.BaseURL, sess, srv.Panel.InboundID, email)
	if errors.Is(err, panel.ErrCredentialNotFound) {
		return nil
	}
	return err
}

// Bind создает привязку пользователя к серверу. Если привязка к этому
// серверу уже есть, операция вырождается в активацию. Если новая привязка
// оказалась активной (других активных не было), учетные данные выдаются
// на панель best-effort.
func (m *Manager) Bind(ctx context.Context, userUID string, serverID int) (*models.Binding, error) {
	user, err := m.repo.GetUser(ctx, userUID)
	if err != nil {
		return nil, err
	}
	srv, err := m.repo.GetServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if !srv.IsActive {
		return nil, fmt.Errorf("server %d is disabled: %w", serverID, repository.ErrConflict)
	}

	if existing, err := m.repo.GetBinding(ctx, userUID, serverID); err == nil {
		m.log.Info("binding already exists, activating",
			slog.String("uid", userUID), slog.Int("binding_id", existing.ID))
		return m.Activate(ctx, userUID, serverID)
	}

	binding := models.Binding{
		UserUID:    userUID,
		ServerID:   serverID,
		Email:      credentialEmail(user, serverID),
		IsRetained: true,
	}
	created, err := m.repo.CreateBinding(ctx, binding, srv.MaxBindings)
	if err != nil {
		return nil, err
	}
	if created.IsActive {
		m.provisionBestEffort(ctx, srv, user, created.Email)
	}
	m.log.Info("created binding",
		slog.String("uid", userUID), slog.Int("server_id", serverID),
		slog.Bool("active", created.IsActive))
	return created, nil
}

// Activate переключает активную привязку пользователя на указанный сервер.
// Порядок фиксирован: сначала best-effort отзыв учетных данных с прежнего
// сервера, затем локальное переключение, затем best-effort выдача на новом.
// Окно без рабочих учетных данных между шагами допускается; сбой любой
// мутации панели операцию не откатывает.
func (m *Manager) Activate(ctx context.Context, userUID string, serverID int) (*models.Binding, error) {
	user, err := m.repo.GetUser(ctx, userUID)
	if err != nil {
		return nil, err
	}
	srv, err := m.repo.GetServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	binding, err := m.repo.GetBinding(ctx, userUID, serverID)
	if err != nil {
		return nil, err
	}

	if prev, err := m.repo.GetActiveBinding(ctx, userUID); err == nil && prev.ServerID != serverID {
		prevSrv, err := m.repo.GetServer(ctx, prev.ServerID)
		if err == nil && prevSrv.Managed() {
			if err := m.revoke(ctx, prevSrv, prev.Email); err != nil {
				m.log.Warn("failed to revoke credential on previous server",
					slog.String("uid", userUID), slog.Int("server_id", prev.ServerID), sl.Err(err))
			}
		}
	}

	if err := m.repo.SwitchActiveBinding(ctx, userUID, binding.ID); err != nil {
		return nil, err
	}
	binding.IsActive = true

	m.provisionBestEffort(ctx, srv, user, binding.Email)
	m.log.Info("activated binding",
		slog.String("uid", userUID), slog.Int("server_id", serverID))
	return binding, nil
}

func (m *Manager) provisionBestEffort(ctx context.Context, srv *models.Server, user *models.User, email string) {
	if !srv.Managed() {
		return
	}
	sess, err := m.login(ctx, srv)
	if err != nil {
		m.log.Warn("failed to authenticate on panel",
			slog.Int("server_id", srv.ID), sl.Err(err))
		return
	}
	if err := m.pushCredential(ctx, srv, sess, user, email); err != nil {
		m.log.Warn("failed to push credential to panel",
			slog.String("uid", user.UID), slog.Int("server_id", srv.ID), sl.Err(err))
	}
}

// GrantTrialAndBind выдает пользователю пробный период и привязку к серверу.
// Пробный период получает только пользователь в статусе new; если у
// пользователя уже есть хоть одна привязка, операция вырождается в обычную
// привязку без пробного периода: к этому же серверу — активация, к новому —
// создание привязки. Для управляемого сервера учетные данные
// выдаются до локальной записи: недоступность панели на шаге входа
// прерывает операцию целиком, а сбой самой выдачи — нет.
func (m *Manager) GrantTrialAndBind(ctx context.Context, userUID string, serverID, trialDays int) (*TrialResult, error) {
	user, err := m.repo.GetUser(ctx, userUID)
	if err != nil {
		return nil, err
	}
	srv, err := m.repo.GetServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if !srv.IsActive {
		return nil, fmt.Errorf("server %d is disabled: %w", serverID, repository.ErrConflict)
	}

	existing, err := m.repo.ListBindings(ctx, userUID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		binding, err := m.Bind(ctx, userUID, serverID)
		if err != nil {
			return nil, err
		}
		return &TrialResult{Binding: binding}, nil
	}

	email := credentialEmail(user, serverID)
	now := time.Now().UTC()
	if srv.Managed() {
		sess, err := m.login(ctx, srv)
		if err != nil {
			return nil, err
		}
		trialUser := *user
		trialEnd := days.Add(now, trialDays)
		trialUser.ExpiresAt = &trialEnd
		if err := m.pushCredential(ctx, srv, sess, &trialUser, email); err != nil {
			m.log.Warn("failed to push trial credential to panel",
				slog.String("uid", userUID), slog.Int("server_id", serverID), sl.Err(err))
		}
	}

	binding := models.Binding{
		UserUID:    userUID,
		ServerID:   serverID,
		Email:      email,
		IsRetained: true,
	}
	created, period, trialCreated, err := m.repo.CreateTrial(ctx, binding, srv.MaxBindings, trialDays, now)
	if err != nil {
		return nil, err
	}
	m.log.Info("granted trial binding",
		slog.String("uid", userUID), slog.Int("server_id", serverID),
		slog.Bool("trial_created", trialCreated))
	return &TrialResult{Binding: created, Period: period, TrialCreated: trialCreated}, nil
}

// Unbind удаляет привязку пользователя к серверу. Учетные данные с панели
// снимаются best-effort, локальная запись удаляется в любом случае.
func (m *Manager) Unbind(ctx context.Context, userUID string, serverID int) error {
	binding, err := m.repo.GetBinding(ctx, userUID, serverID)
	if err != nil {
		return err
	}
	srv, err := m.repo.GetServer(ctx, serverID)
	if err == nil && srv.Managed() {
		if err := m.revoke(ctx, srv, binding.Email); err != nil {
			m.log.Warn("failed to revoke credential on panel",
				slog.String("uid", userUID), slog.Int("server_id", serverID), sl.Err(err))
		}
	}
	if err := m.repo.DeleteBinding(ctx, userUID, serverID); err != nil {
		return err
	}
	m.log.Info("deleted binding",
		slog.String("uid", userUID), slog.Int("server_id", serverID))
	return nil
}

// RevokeAccess снимает с панели учетные данные активной привязки
// пользователя. Привязка при этом сохраняется: повторная оплата вернет
// доступ на тот же сервер. Отсутствие активной привязки — не ошибка.
func (m *Manager) RevokeAccess(ctx context.Context, user *models.User) error {
	binding, err := m.repo.GetActiveBinding(ctx, user.UID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	srv, err := m.repo.GetServer(ctx, binding.ServerID)
	if err != nil {
		return err
	}
	if !srv.Managed() {
		return nil
	}
	return m.revoke(ctx, srv, binding.Email)
}

// PurgeUser удаляет пользователя со всеми привязками, периодами и
// платежами. Перед удалением best-effort снимает учетные данные со всех
// серверов, где они могли остаться.
func (m *Manager) PurgeUser(ctx context.Context, userUID string) error {
	bindings, err := m.repo.ListBindings(ctx, userUID)
	if err != nil {
		return err
	}
	for _, b := range bindings {
		srv, err := m.repo.GetServer(ctx, b.ServerID)
		if err != nil || !srv.Managed() {
			continue
		}
		if err := m.revoke(ctx, srv, b.Email); err != nil {
			m.log.Warn("failed to revoke credential on panel",
				slog.String("uid", userUID), slog.Int("server_id", b.ServerID), sl.Err(err))
		}
	}
	if err := m.repo.DeleteUser(ctx, userUID); err != nil {
		return err
	}
	m.log.Info("purged user", slog.String("uid", userUID))
	return nil
}

// GetTraffic возвращает статистику трафика активной привязки пользователя.
// В отличие от мутаций, здесь недоступность панели отдается вызывающему:
// выдумывать нули вместо статистики нельзя.
func (m *Manager) GetTraffic(ctx context.Context, userUID string) (*panel.Traffic, error) {
	key := fmt.Sprintf("traffic:%s", userUID)
	var cached *panel.Traffic
	found, err := m.cache.Get(key, &cached)
	if err != nil {
		m.log.Warn("failed to read traffic from cache", slog.String("uid", userUID), sl.Err(err))
	}
	if found {
		return cached, nil
	}

	binding, err := m.repo.GetActiveBinding(ctx, userUID)
	if err != nil {
		return nil, err
	}
	srv, err := m.repo.GetServer(ctx, binding.ServerID)
	if err != nil {
		return nil, err
	}
	if !srv.Managed() {
		return nil, fmt.Errorf("server %d has no panel: %w", srv.ID, repository.ErrNotFound)
	}
	sess, err := m.login(ctx, srv)
	if err != nil {
		return nil, err
	}
	traffic, err := m.panel.FetchTraffic(ctx, srv.Panel.BaseURL, sess, srv.Panel.InboundID, binding.Email)
	if err != nil {
		return nil, err
	}
	if err := m.cache.Set(key, traffic, time.Minute); err != nil {
		m.log.Warn("failed to cache traffic", slog.String("uid", userUID), sl.Err(err))
	}
	return traffic, nil
}
