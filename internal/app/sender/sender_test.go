package sender

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type LockMock struct{ mock.Mock }

func (m *LockMock) TryAcquire(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}
func (m *LockMock) Release(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}
func (m *LockMock) Close() error {
	return m.Called().Error(0)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestRun_LockHeldElsewhereShutsDownCleanly(t *testing.T) {
	lock := new(LockMock)
	app := &App{lock: lock, logger: newNoopLogger()}

	lock.On("TryAcquire", mock.Anything, consumerLockKey).Return(false, nil).Once()
	lock.On("Close").Return(nil).Once()

	err := app.Run(context.Background())

	// Проигрыш гонки за блокировку — штатное завершение, не ошибка.
	require.NoError(t, err)
	lock.AssertNumberOfCalls(t, "TryAcquire", 1)
	lock.AssertNotCalled(t, "Release", mock.Anything, mock.Anything)
	lock.AssertExpectations(t)
}

func TestRun_LockErrorPropagates(t *testing.T) {
	lock := new(LockMock)
	app := &App{lock: lock, logger: newNoopLogger()}

	lock.On("TryAcquire", mock.Anything, consumerLockKey).
		Return(false, errors.New("connection reset")).Once()
	lock.On("Close").Return(nil).Once()

	err := app.Run(context.Background())

	assert.Error(t, err)
	lock.AssertExpectations(t)
}
