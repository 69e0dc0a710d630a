package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/magabrotheeeer/vpn-access-manager/internal/lib/jwt"
	"github.com/magabrotheeeer/vpn-access-manager/internal/models"
	"github.com/magabrotheeeer/vpn-access-manager/internal/storage/repository"
)

type AdminsMock struct{ mock.Mock }

func (m *AdminsMock) GetAdminByUsername(ctx context.Context, username string) (*models.Admin, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Admin), args.Error(1)
}

func seedAdmin(t *testing.T, password string) *models.Admin {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	require.NoError(t, err)
	return &models.Admin{ID: 1, Username: "admin", PasswordHash: string(hash), Role: "admin"}
}

func TestLogin_Success(t *testing.T) {
	admins := new(AdminsMock)
	maker := jwt.NewMaker("test-secret", time.Hour)
	svc := New(admins, maker)

	admins.On("GetAdminByUsername", mock.Anything, "admin").
		Return(seedAdmin(t, "correct-password"), nil).Once()

	token, err := svc.Login(context.Background(), "admin", "correct-password")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)
	assert.Equal(t, "admin", claims.Role)
}

func TestLogin_WrongPassword(t *testing.T) {
	admins := new(AdminsMock)
	svc := New(admins, jwt.NewMaker("test-secret", time.Hour))

	admins.On("GetAdminByUsername", mock.Anything, "admin").
		Return(seedAdmin(t, "correct-password"), nil).Once()

	_, err := svc.Login(context.Background(), "admin", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_UnknownAdmin(t *testing.T) {
	admins := new(AdminsMock)
	svc := New(admins, jwt.NewMaker("test-secret", time.Hour))

	admins.On("GetAdminByUsername", mock.Anything, "ghost").
		Return(nil, repository.ErrNotFound).Once()

	_, err := svc.Login(context.Background(), "ghost", "whatever")
	// Неизвестный логин неотличим от неверного пароля.
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateToken_Garbage(t *testing.T) {
	svc := New(new(AdminsMock), jwt.NewMaker("test-secret", time.Hour))

	_, err := svc.ValidateToken(context.Background(), "not-a-token")
	assert.Error(t, err)
}
