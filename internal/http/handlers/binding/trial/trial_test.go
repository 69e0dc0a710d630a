package trial

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/vpn-access-manager/internal/models"
	"github.com/magabrotheeeer/vpn-access-manager/internal/panel"
	"github.com/magabrotheeeer/vpn-access-manager/internal/services/assignment"
	"github.com/magabrotheeeer/vpn-access-manager/internal/storage/repository"
)

// MockService реализует интерфейс trial.Service
type MockService struct {
	mock.Mock
}

func (m *MockService) GrantTrialAndBind(ctx context.Context, userUID string, serverID, trialDays int) (*assignment.TrialResult, error) {
	args := m.Called(ctx, userUID, serverID, trialDays)
	if res := args.Get(0); res != nil {
		return res.(*assignment.TrialResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestTrialHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	const uid = "a81bc81b-dead-4e5d-abff-90865d1e13b1"

	tests := []struct {
		name           string
		body           string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "успешная выдача пробного периода",
			body: `{"user_uid":"` + uid + `","server_id":1,"days":3}`,
			setupMock: func(m *MockService) {
				ends := time.Date(2026, 9, 3, 12, 0, 0, 0, time.UTC)
				m.On("GrantTrialAndBind", mock.Anything, uid, 1, 3).
					Return(&assignment.TrialResult{
						Binding:      &models.Binding{ID: 10, UserUID: uid, ServerID: 1, IsActive: true},
						Period:       &models.SubscriptionPeriod{ID: 5, EndsAt: ends, IsActive: true},
						TrialCreated: true,
					}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"trial_created":true`,
		},
		{
			name: "повторная привязка без пробного периода",
			body: `{"user_uid":"` + uid + `","server_id":1,"days":3}`,
			setupMock: func(m *MockService) {
				m.On("GrantTrialAndBind", mock.Anything, uid, 1, 3).
					Return(&assignment.TrialResult{
						Binding: &models.Binding{ID: 10, UserUID: uid, ServerID: 1, IsActive: true},
					}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"trial_created":false`,
		},
		{
			name: "длительность по умолчанию",
			body: `{"user_uid":"` + uid + `","server_id":1}`,
			setupMock: func(m *MockService) {
				m.On("GrantTrialAndBind", mock.Anything, uid, 1, 3).
					Return(&assignment.TrialResult{
						Binding:      &models.Binding{ID: 10, UserUID: uid, ServerID: 1, IsActive: true},
						TrialCreated: true,
					}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"trial_created":true`,
		},
		{
			name:           "некорректный uid",
			body:           `{"user_uid":"not-a-uuid","server_id":1,"days":3}`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `field UserUID can contain only uuid`,
		},
		{
			name: "сервер не найден",
			body: `{"user_uid":"` + uid + `","server_id":99,"days":3}`,
			setupMock: func(m *MockService) {
				m.On("GrantTrialAndBind", mock.Anything, uid, 99, 3).
					Return(nil, repository.ErrNotFound)
			},
			expectedStatus: http.StatusNotFound,
			expectedBody:   `"user or server not found"`,
		},
		{
			name: "панель недоступна",
			body: `{"user_uid":"` + uid + `","server_id":1,"days":3}`,
			setupMock: func(m *MockService) {
				m.On("GrantTrialAndBind", mock.Anything, uid, 1, 3).
					Return(nil, panel.ErrUnavailable)
			},
			expectedStatus: http.StatusBadGateway,
			expectedBody:   `"server panel unavailable"`,
		},
		{
			name: "сервер переполнен",
			body: `{"user_uid":"` + uid + `","server_id":1,"days":3}`,
			setupMock: func(m *MockService) {
				m.On("GrantTrialAndBind", mock.Anything, uid, 1, 3).
					Return(nil, repository.ErrConflict)
			},
			expectedStatus: http.StatusConflict,
			expectedBody:   `"server is full or disabled"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			tt.setupMock(mockService)

			handler := New(logger, mockService, 3)

			req := httptest.NewRequest(http.MethodPost, "/bindings/trial", strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.True(t, strings.Contains(w.Body.String(), tt.expectedBody),
				"response body should contain %s, got %s", tt.expectedBody, w.Body.String())

			mockService.AssertExpectations(t)
		})
	}
}
