// Package trial реализует HTTP-обработчик выдачи пробного доступа:
// привязка к серверу плюс пробный период для пользователя в статусе new.
package trial

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/vpn-access-manager/internal/http/response"
	"github.com/magabrotheeeer/vpn-access-manager/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-access-manager/internal/models"
	"github.com/magabrotheeeer/vpn-access-manager/internal/panel"
	"github.com/magabrotheeeer/vpn-access-manager/internal/services/assignment"
	"github.com/magabrotheeeer/vpn-access-manager/internal/storage/repository"
)

// Handler управляет HTTP-запросами на выдачу пробного доступа.
type Handler struct {
	log         *slog.Logger        // Логгер для записи информации и ошибок
	service     Service             // Менеджер привязок
	validate    *validator.Validate // Валидатор структуры входящих данных
	defaultDays int                 // Длительность пробного периода, если в запросе не задана
}

// Service описывает интерфейс бизнес-логики выдачи пробного доступа.
type Service interface {
	GrantTrialAndBind(ctx context.Context, userUID string, serverID, trialDays int) (*assignment.TrialResult, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service, defaultDays int) *Handler {
	return &Handler{
		log:         log,
		service:     service,
		validate:    validator.New(),
		defaultDays: defaultDays,
	}
}

// ServeHTTP godoc
// @Summary Выдать пробный доступ
// @Description Привязывает пользователя к серверу и выдает пробный период, если пользователь его еще не использовал.
// @Tags Bindings
// @Accept  json
// @Produce  json
// @Param request body models.DummyTrial true "Пользователь, сервер и длительность"
// @Success 200 {object} map[string]any "Успешная выдача"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 404 {object} response.ErrorResponse "Пользователь или сервер не найден"
// @Failure 409 {object} response.ErrorResponse "Сервер переполнен или отключен"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 502 {object} response.ErrorResponse "Панель сервера недоступна"
// @Router /bindings/trial [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.binding.trial"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req models.DummyTrial
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	log.Info("request body decoded", slog.Any("request", req))

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	days := req.Days
	if days == 0 {
		days = h.defaultDays
	}

	result, err := h.service.GrantTrialAndBind(r.Context(), req.UserUID, req.ServerID, days)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			log.Error("user or server not found", sl.Err(err))
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("user or server not found"))
		case errors.Is(err, repository.ErrConflict):
			log.Error("server is full or disabled", sl.Err(err))
			w.WriteHeader(http.StatusConflict)
			render.JSON(w, r, response.Error("server is full or disabled"))
		case errors.Is(err, panel.ErrUnavailable), errors.Is(err, panel.ErrUnauthorized):
			log.Error("panel unavailable", sl.Err(err))
			w.WriteHeader(http.StatusBadGateway)
			render.JSON(w, r, response.Error("server panel unavailable"))
		default:
			log.Error("failed to grant trial", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error("could not grant trial"))
		}
		return
	}

	data := map[string]any{
		"binding_id":    result.Binding.ID,
		"trial_created": result.TrialCreated,
	}
	if result.Period != nil {
		data["ends_at"] = result.Period.EndsAt
	}
	log.Info("success to grant trial",
		slog.String("uid", req.UserUID), slog.Bool("trial_created", result.TrialCreated))
	render.JSON(w, r, response.StatusOKWithData(data))
}
