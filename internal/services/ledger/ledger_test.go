package ledger

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/vpn-access-manager/internal/models"
)

type RepoMock struct{ mock.Mock }

func (m *RepoMock) CreatePeriod(ctx context.Context, period models.SubscriptionPeriod) (*models.SubscriptionPeriod, error) {
	args := m.Called(ctx, period)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SubscriptionPeriod), args.Error(1)
}
func (m *RepoMock) GetPeriod(ctx context.Context, id int) (*models.SubscriptionPeriod, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SubscriptionPeriod), args.Error(1)
}
func (m *RepoMock) GetPeriodByPaymentID(ctx context.Context, paymentID int) (*models.SubscriptionPeriod, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SubscriptionPeriod), args.Error(1)
}
func (m *RepoMock) DeletePeriodRecompute(ctx context.Context, id int, now time.Time) error {
	return m.Called(ctx, id, now).Error(0)
}

type CacheMock struct{ mock.Mock }

func (m *CacheMock) Invalidate(key string) error {
	return m.Called(key).Error(0)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestCreatePeriod_RejectsNonPositiveDays(t *testing.T) {
	repo := new(RepoMock)
	cache := new(CacheMock)
	svc := New(repo, cache, newNoopLogger())

	for _, invalid := range []int{0, -1, -30} {
		_, err := svc.CreatePeriod(context.Background(), "uid-1", invalid, nil, nil)
		assert.ErrorIs(t, err, ErrInvalidPeriod)
	}
	// Отказ происходит до обращения к хранилищу.
	repo.AssertNotCalled(t, "CreatePeriod", mock.Anything, mock.Anything)
}

func TestCreatePeriod_CalendarDayArithmetic(t *testing.T) {
	cases := []struct {
		name       string
		start      time.Time
		periodDays int
		wantEndsAt time.Time
	}{
		{
			name:       "Ровно 30 дней",
			start:      time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC),
			periodDays: 30,
			wantEndsAt: time.Date(2024, 7, 1, 10, 30, 0, 0, time.UTC),
		},
		{
			name:       "Через короткий февраль",
			start:      time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
			periodDays: 30,
			wantEndsAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:       "Один день",
			start:      time.Date(2024, 12, 31, 23, 59, 0, 0, time.UTC),
			periodDays: 1,
			wantEndsAt: time.Date(2025, 1, 1, 23, 59, 0, 0, time.UTC),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := new(RepoMock)
			cache := new(CacheMock)
			svc := New(repo, cache, newNoopLogger())

			repo.On("CreatePeriod", mock.Anything, mock.MatchedBy(func(p models.SubscriptionPeriod) bool {
				return p.IsActive && p.StartsAt.Equal(tc.start) && p.EndsAt.Equal(tc.wantEndsAt)
			})).Return(&models.SubscriptionPeriod{ID: 7, UserUID: "uid-1",
				StartsAt: tc.start, EndsAt: tc.wantEndsAt, IsActive: true}, nil).Once()
			cache.On("Invalidate", "user:uid-1").Return(nil).Once()

			created, err := svc.CreatePeriod(context.Background(), "uid-1", tc.periodDays, &tc.start, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.wantEndsAt, created.EndsAt)
			repo.AssertExpectations(t)
		})
	}
}

func TestCreatePeriod_LinksPayment(t *testing.T) {
	repo := new(RepoMock)
	cache := new(CacheMock)
	svc := New(repo, cache, newNoopLogger())

	paymentID := 42
	repo.On("CreatePeriod", mock.Anything, mock.MatchedBy(func(p models.SubscriptionPeriod) bool {
		return p.PaymentID != nil && *p.PaymentID == paymentID
	})).Return(&models.SubscriptionPeriod{ID: 1, UserUID: "uid-1", PaymentID: &paymentID}, nil).Once()
	cache.On("Invalidate", "user:uid-1").Return(nil).Once()

	_, err := svc.CreatePeriod(context.Background(), "uid-1", 30, nil, &paymentID)
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestDeletePeriod(t *testing.T) {
	repo := new(RepoMock)
	cache := new(CacheMock)
	svc := New(repo, cache, newNoopLogger())

	repo.On("GetPeriod", mock.Anything, 7).
		Return(&models.SubscriptionPeriod{ID: 7, UserUID: "uid-1"}, nil).Once()
	repo.On("DeletePeriodRecompute", mock.Anything, 7, mock.Anything).Return(nil).Once()
	cache.On("Invalidate", "user:uid-1").Return(nil).Once()

	require.NoError(t, svc.DeletePeriod(context.Background(), 7))
	repo.AssertExpectations(t)
	cache.AssertExpectations(t)
}
