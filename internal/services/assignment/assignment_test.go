package assignment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/vpn-access-manager/internal/models"
	"github.com/magabrotheeeer/vpn-access-manager/internal/panel"
	"github.com/magabrotheeeer/vpn-access-manager/internal/storage/repository"
)

type RepoMock struct{ mock.Mock }

func (m *RepoMock) GetUser(ctx context.Context, userUID string) (*models.User, error) {
	args := m.Called(ctx, userUID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}
func (m *RepoMock) DeleteUser(ctx context.Context, userUID string) error {
	return m.Called(ctx, userUID).Error(0)
}
func (m *RepoMock) GetServer(ctx context.Context, id int) (*models.Server, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Server), args.Error(1)
}
func (m *RepoMock) CreateBinding(ctx context.Context, b models.Binding, maxBindings int) (*models.Binding, error) {
	args := m.Called(ctx, b, maxBindings)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Binding), args.Error(1)
}
func (m *RepoMock) GetBinding(ctx context.Context, userUID string, serverID int) (*models.Binding, error) {
	args := m.Called(ctx, userUID, serverID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Binding), args.Error(1)
}
func (m *RepoMock) GetActiveBinding(ctx context.Context, userUID string) (*models.Binding, error) {
	args := m.Called(ctx, userUID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Binding), args.Error(1)
}
func (m *RepoMock) ListBindings(ctx context.Context, userUID string) ([]*models.Binding, error) {
	args := m.Called(ctx, userUID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Binding), args.Error(1)
}
func (m *RepoMock) SwitchActiveBinding(ctx context.Context, userUID string, bindingID int) error {
	return m.Called(ctx, userUID, bindingID).Error(0)
}
func (m *RepoMock) DeleteBinding(ctx context.Context, userUID string, serverID int) error {
	return m.Called(ctx, userUID, serverID).Error(0)
}
func (m *RepoMock) CreateTrial(ctx context.Context, b models.Binding, maxBindings, trialDays int, now time.Time) (*models.Binding, *models.SubscriptionPeriod, bool, error) {
	args := m.Called(ctx, b, maxBindings, trialDays, now)
	var binding *models.Binding
	var period *models.SubscriptionPeriod
	if args.Get(0) != nil {
		binding = args.Get(0).(*models.Binding)
	}
	if args.Get(1) != nil {
		period = args.Get(1).(*models.SubscriptionPeriod)
	}
	return binding, period, args.Bool(2), args.Error(3)
}

type PanelMock struct {
	mock.Mock
	calls []string
}

func (m *PanelMock) Authenticate(ctx context.Context, base, username, password string) (*panel.Session, error) {
	m.calls = append(m.calls, "authenticate")
	args := m.Called(ctx, base, username, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*panel.Session), args.Error(1)
}
func (m *PanelMock) UpsertCredential(ctx context.Context, base string, sess *panel.Session, inboundID int, cred panel.Credential) error {
	m.calls = append(m.calls, "upsert")
	return m.Called(ctx, base, sess, inboundID, cred).Error(0)
}
func (m *PanelMock) UpdateCredential(ctx context.Context, base string, sess *panel.Session, inboundID int, email string, patch panel.CredentialPatch) error {
	m.calls = append(m.calls, "update")
	return m.Called(ctx, base, sess, inboundID, email, patch).Error(0)
}
func (m *PanelMock) DeleteCredential(ctx context.Context, base string, sess *panel.Session, inboundID int, email string) error {
	m.calls = append(m.calls, "delete")
	return m.Called(ctx, base, sess, inboundID, email).Error(0)
}
func (m *PanelMock) FetchTraffic(ctx context.Context, base string, sess *panel.Session, inboundID int, email string) (*panel.Traffic, error) {
	m.calls = append(m.calls, "traffic")
	args := m.Called(ctx, base, sess, inboundID, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*panel.Traffic), args.Error(1)
}

type SecretsMock struct{ mock.Mock }

func (m *SecretsMock) Decrypt(opaque string) (string, error) {
	args := m.Called(opaque)
	return args.String(0), args.Error(1)
}

type CacheMock struct{ mock.Mock }

func (m *CacheMock) Get(key string, result any) (bool, error) {
	args := m.Called(key, result)
	return args.Bool(0), args.Error(1)
}
func (m *CacheMock) Set(key string, value any, expiration time.Duration) error {
	return m.Called(key, value, expiration).Error(0)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func managedServer(id int) *models.Server {
	return &models.Server{
		ID:       id,
		Name:     "srv",
		Address:  "vpn.example.org",
		IsActive: true,
		Security: "reality",
		Panel: &models.PanelConfig{
			BaseURL:     "https://panel.example.org",
			Username:    "admin",
			PasswordEnc: "opaque",
			InboundID:   3,
		},
	}
}

func testUser() *models.User {
	return &models.User{
		UID:        "uid-1",
		Username:   "Alice",
		Status:     models.StatusActive,
		ExternalID: "a81bc81b-dead-4e5d-abff-90865d1e13b1",
	}
}

func setupManager() (*RepoMock, *PanelMock, *SecretsMock, *CacheMock, *Manager) {
	repo := new(RepoMock)
	pnl := new(PanelMock)
	secret := new(SecretsMock)
	cache := new(CacheMock)
	return repo, pnl, secret, cache, New(repo, pnl, secret, cache, newNoopLogger())
}

func TestCredentialEmail_Deterministic(t *testing.T) {
	user := testUser()
	first := credentialEmail(user, 7)
	second := credentialEmail(user, 7)
	other := credentialEmail(user, 8)

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, other)
	assert.Contains(t, first, "alice-")
	assert.Contains(t, first, "-s7")
}

func TestBind_DisabledServer(t *testing.T) {
	repo, _, _, _, mgr := setupManager()

	srv := managedServer(1)
	srv.IsActive = false
	repo.On("GetUser", mock.Anything, "uid-1").Return(testUser(), nil).Once()
	repo.On("GetServer", mock.Anything, 1).Return(srv, nil).Once()

	_, err := mgr.Bind(context.Background(), "uid-1", 1)
	assert.ErrorIs(t, err, repository.ErrConflict)
	repo.AssertNotCalled(t, "CreateBinding", mock.Anything, mock.Anything, mock.Anything)
}

func TestActivate_OrderOfPanelOperations(t *testing.T) {
	repo, pnl, secret, _, mgr := setupManager()

	user := testUser()
	newSrv := managedServer(2)
	prevSrv := managedServer(1)
	sess := &panel.Session{Cookie: "3x-ui=abc"}

	repo.On("GetUser", mock.Anything, "uid-1").Return(user, nil).Once()
	repo.On("GetServer", mock.Anything, 2).Return(newSrv, nil).Once()
	repo.On("GetBinding", mock.Anything, "uid-1", 2).
		Return(&models.Binding{ID: 20, UserUID: "uid-1", ServerID: 2, Email: "alice-xx-s2"}, nil).Once()
	repo.On("GetActiveBinding", mock.Anything, "uid-1").
		Return(&models.Binding{ID: 10, UserUID: "uid-1", ServerID: 1, Email: "alice-xx-s1", IsActive: true}, nil).Once()
	repo.On("GetServer", mock.Anything, 1).Return(prevSrv, nil).Once()
	repo.On("SwitchActiveBinding", mock.Anything, "uid-1", 20).Return(nil).Once()

	secret.On("Decrypt", "opaque").Return("secret", nil)
	pnl.On("Authenticate", mock.Anything, mock.Anything, "admin", "secret").Return(sess, nil)
	pnl.On("DeleteCredential", mock.Anything, prevSrv.Panel.BaseURL, sess, 3, "alice-xx-s1").Return(nil).Once()
	pnl.On("UpsertCredential", mock.Anything, newSrv.Panel.BaseURL, sess, 3, mock.Anything).Return(nil).Once()

	binding, err := mgr.Activate(context.Background(), "uid-1", 2)
	require.NoError(t, err)
	assert.True(t, binding.IsActive)
	// Сначала отзыв со старого сервера, затем выдача на новом.
	assert.Equal(t, []string{"authenticate", "delete", "authenticate", "upsert"}, pnl.calls)
	repo.AssertExpectations(t)
}

func TestActivate_PanelFailureDoesNotRollBack(t *testing.T) {
	repo, pnl, secret, _, mgr := setupManager()

	user := testUser()
	srv := managedServer(2)
	repo.On("GetUser", mock.Anything, "uid-1").Return(user, nil).Once()
	repo.On("GetServer", mock.Anything, 2).Return(srv, nil).Once()
	repo.On("GetBinding", mock.Anything, "uid-1", 2).
		Return(&models.Binding{ID: 20, UserUID: "uid-1", ServerID: 2, Email: "alice-xx-s2"}, nil).Once()
	repo.On("GetActiveBinding", mock.Anything, "uid-1").Return(nil, repository.ErrNotFound).Once()
	repo.On("SwitchActiveBinding", mock.Anything, "uid-1", 20).Return(nil).Once()

	secret.On("Decrypt", "opaque").Return("secret", nil)
	pnl.On("Authenticate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, panel.ErrUnavailable).Once()

	binding, err := mgr.Activate(context.Background(), "uid-1", 2)
	require.NoError(t, err)
	assert.True(t, binding.IsActive)
}

func TestPushCredential_ExistsFallsBackToUpdate(t *testing.T) {
	repo, pnl, secret, _, mgr := setupManager()

	user := testUser()
	srv := managedServer(2)
	sess := &panel.Session{Cookie: "3x-ui=abc"}
	repo.On("GetUser", mock.Anything, "uid-1").Return(user, nil).Once()
	repo.On("GetServer", mock.Anything, 2).Return(srv, nil).Once()
	repo.On("GetBinding", mock.Anything, "uid-1", 2).Return(nil, repository.ErrNotFound).Once()
	created := &models.Binding{ID: 20, UserUID: "uid-1", ServerID: 2, Email: "alice-xx-s2", IsActive: true}
	repo.On("CreateBinding", mock.Anything, mock.Anything, 0).Return(created, nil).Once()

	secret.On("Decrypt", "opaque").Return("secret", nil)
	pnl.On("Authenticate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(sess, nil).Once()
	pnl.On("UpsertCredential", mock.Anything, mock.Anything, sess, 3, mock.Anything).
		Return(panel.ErrCredentialExists).Once()
	pnl.On("UpdateCredential", mock.Anything, mock.Anything, sess, 3, "alice-xx-s2",
		mock.MatchedBy(func(p panel.CredentialPatch) bool {
			return p.Flow != nil && *p.Flow == "xtls-rprx-vision" && p.Enabled != nil && *p.Enabled
		})).Return(nil).Once()

	_, err := mgr.Bind(context.Background(), "uid-1", 2)
	require.NoError(t, err)
	pnl.AssertExpectations(t)
}

func TestGrantTrialAndBind_LoginFailureAborts(t *testing.T) {
	repo, pnl, secret, _, mgr := setupManager()

	repo.On("GetUser", mock.Anything, "uid-1").Return(testUser(), nil).Once()
	repo.On("GetServer", mock.Anything, 1).Return(managedServer(1), nil).Once()
	repo.On("ListBindings", mock.Anything, "uid-1").Return([]*models.Binding{}, nil).Once()

	secret.On("Decrypt", "opaque").Return("secret", nil)
	pnl.On("Authenticate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, panel.ErrUnavailable).Once()

	_, err := mgr.GrantTrialAndBind(context.Background(), "uid-1", 1, 3)
	assert.ErrorIs(t, err, panel.ErrUnavailable)
	// Локальная запись не создается, если панель недоступна.
	repo.AssertNotCalled(t, "CreateTrial", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGrantTrialAndBind_PushFailureProceeds(t *testing.T) {
	repo, pnl, secret, _, mgr := setupManager()

	user := testUser()
	srv := managedServer(1)
	sess := &panel.Session{Cookie: "3x-ui=abc"}

	repo.On("GetUser", mock.Anything, "uid-1").Return(user, nil).Once()
	repo.On("GetServer", mock.Anything, 1).Return(srv, nil).Once()
	repo.On("ListBindings", mock.Anything, "uid-1").Return([]*models.Binding{}, nil).Once()

	secret.On("Decrypt", "opaque").Return("secret", nil)
	pnl.On("Authenticate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(sess, nil).Once()
	pnl.On("UpsertCredential", mock.Anything, mock.Anything, sess, 3, mock.Anything).
		Return(errors.New("panel hiccup")).Once()

	created := &models.Binding{ID: 1, UserUID: "uid-1", ServerID: 1, IsActive: true}
	period := &models.SubscriptionPeriod{ID: 5, UserUID: "uid-1", IsActive: true}
	repo.On("CreateTrial", mock.Anything, mock.Anything, 0, 3, mock.Anything).
		Return(created, period, true, nil).Once()

	result, err := mgr.GrantTrialAndBind(context.Background(), "uid-1", 1, 3)
	require.NoError(t, err)
	assert.True(t, result.TrialCreated)
	assert.NotNil(t, result.Period)
	repo.AssertExpectations(t)
}

func TestGrantTrialAndBind_ExistingBindingActivatesWithoutTrial(t *testing.T) {
	repo, pnl, secret, _, mgr := setupManager()

	user := testUser()
	srv := managedServer(1)
	sess := &panel.Session{Cookie: "3x-ui=abc"}
	binding := &models.Binding{ID: 10, UserUID: "uid-1", ServerID: 1, Email: "alice-xx-s1"}

	repo.On("GetUser", mock.Anything, "uid-1").Return(user, nil).Times(3)
	repo.On("GetServer", mock.Anything, 1).Return(srv, nil).Times(3)
	repo.On("ListBindings", mock.Anything, "uid-1").Return([]*models.Binding{binding}, nil).Once()
	repo.On("GetBinding", mock.Anything, "uid-1", 1).Return(binding, nil).Twice()
	repo.On("GetActiveBinding", mock.Anything, "uid-1").Return(binding, nil).Once()
	repo.On("SwitchActiveBinding", mock.Anything, "uid-1", 10).Return(nil).Once()

	secret.On("Decrypt", "opaque").Return("secret", nil)
	pnl.On("Authenticate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(sess, nil)
	pnl.On("UpsertCredential", mock.Anything, mock.Anything, sess, 3, mock.Anything).Return(nil).Once()

	result, err := mgr.GrantTrialAndBind(context.Background(), "uid-1", 1, 3)
	require.NoError(t, err)
	assert.False(t, result.TrialCreated)
	assert.Nil(t, result.Period)
	repo.AssertNotCalled(t, "CreateTrial", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGrantTrialAndBind_BoundElsewhereCreatesBindingWithoutTrial(t *testing.T) {
	repo, pnl, _, _, mgr := setupManager()

	user := testUser()
	target := managedServer(2)
	elsewhere := &models.Binding{ID: 10, UserUID: "uid-1", ServerID: 1, Email: "alice-xx-s1", IsActive: true}

	repo.On("GetUser", mock.Anything, "uid-1").Return(user, nil).Twice()
	repo.On("GetServer", mock.Anything, 2).Return(target, nil).Twice()
	repo.On("ListBindings", mock.Anything, "uid-1").Return([]*models.Binding{elsewhere}, nil).Once()
	repo.On("GetBinding", mock.Anything, "uid-1", 2).Return(nil, repository.ErrNotFound).Once()
	created := &models.Binding{ID: 20, UserUID: "uid-1", ServerID: 2, Email: "alice-xx-s2"}
	repo.On("CreateBinding", mock.Anything, mock.Anything, 0).Return(created, nil).Once()

	result, err := mgr.GrantTrialAndBind(context.Background(), "uid-1", 2, 3)
	require.NoError(t, err)
	assert.False(t, result.TrialCreated)
	assert.Nil(t, result.Period)
	assert.Equal(t, 20, result.Binding.ID)
	// Пользователь, уже имевший привязку, второй пробный период не получает.
	repo.AssertNotCalled(t, "CreateTrial", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	pnl.AssertNotCalled(t, "UpsertCredential", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

func TestUnbind_MissingPanelCredentialTolerated(t *testing.T) {
	repo, pnl, secret, _, mgr := setupManager()

	srv := managedServer(1)
	sess := &panel.Session{Cookie: "3x-ui=abc"}
	repo.On("GetBinding", mock.Anything, "uid-1", 1).
		Return(&models.Binding{ID: 10, UserUID: "uid-1", ServerID: 1, Email: "alice-xx-s1"}, nil).Once()
	repo.On("GetServer", mock.Anything, 1).Return(srv, nil).Once()
	repo.On("DeleteBinding", mock.Anything, "uid-1", 1).Return(nil).Once()

	secret.On("Decrypt", "opaque").Return("secret", nil)
	pnl.On("Authenticate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(sess, nil).Once()
	pnl.On("DeleteCredential", mock.Anything, mock.Anything, sess, 3, "alice-xx-s1").
		Return(panel.ErrCredentialNotFound).Once()

	require.NoError(t, mgr.Unbind(context.Background(), "uid-1", 1))
	repo.AssertExpectations(t)
}

func TestRevokeAccess_NoActiveBinding(t *testing.T) {
	repo, _, _, _, mgr := setupManager()

	repo.On("GetActiveBinding", mock.Anything, "uid-1").Return(nil, repository.ErrNotFound).Once()

	require.NoError(t, mgr.RevokeAccess(context.Background(), testUser()))
}

func TestGetTraffic_UnmanagedServer(t *testing.T) {
	repo, _, _, cache, mgr := setupManager()

	cache.On("Get", "traffic:uid-1", mock.Anything).Return(false, nil).Once()
	repo.On("GetActiveBinding", mock.Anything, "uid-1").
		Return(&models.Binding{ID: 10, UserUID: "uid-1", ServerID: 1, Email: "alice-xx-s1"}, nil).Once()
	repo.On("GetServer", mock.Anything, 1).
		Return(&models.Server{ID: 1, Name: "bare", IsActive: true}, nil).Once()

	_, err := mgr.GetTraffic(context.Background(), "uid-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestGetTraffic_PanelErrorPropagates(t *testing.T) {
	repo, pnl, secret, cache, mgr := setupManager()

	srv := managedServer(1)
	cache.On("Get", "traffic:uid-1", mock.Anything).Return(false, nil).Once()
	repo.On("GetActiveBinding", mock.Anything, "uid-1").
		Return(&models.Binding{ID: 10, UserUID: "uid-1", ServerID: 1, Email: "alice-xx-s1"}, nil).Once()
	repo.On("GetServer", mock.Anything, 1).Return(srv, nil).Once()
	secret.On("Decrypt", "opaque").Return("secret", nil)
	pnl.On("Authenticate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, panel.ErrUnavailable).Once()

	_, err := mgr.GetTraffic(context.Background(), "uid-1")
	assert.ErrorIs(t, err, panel.ErrUnavailable)
}

func TestGetTraffic_CachesResult(t *testing.T) {
	repo, pnl, secret, cache, mgr := setupManager()

	srv := managedServer(1)
	sess := &panel.Session{Cookie: "3x-ui=abc"}
	traffic := &panel.Traffic{Up: 100, Down: 4096, Total: 4196}

	cache.On("Get", "traffic:uid-1", mock.Anything).Return(false, nil).Once()
	repo.On("GetActiveBinding", mock.Anything, "uid-1").
		Return(&models.Binding{ID: 10, UserUID: "uid-1", ServerID: 1, Email: "alice-xx-s1"}, nil).Once()
	repo.On("GetServer", mock.Anything, 1).Return(srv, nil).Once()
	secret.On("Decrypt", "opaque").Return("secret", nil)
	pnl.On("Authenticate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(sess, nil).Once()
	pnl.On("FetchTraffic", mock.Anything, srv.Panel.BaseURL, sess, 3, "alice-xx-s1").Return(traffic, nil).Once()
	cache.On("Set", "traffic:uid-1", traffic, time.Minute).Return(nil).Once()

	got, err := mgr.GetTraffic(context.Background(), "uid-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4196), got.Total)
	cache.AssertExpectations(t)
}
