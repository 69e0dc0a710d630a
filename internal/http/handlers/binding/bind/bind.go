// Package bind реализует HTTP-обработчик создания привязки пользователя
// к серверу. Повторная привязка к тому же серверу вырождается в активацию.
package bind

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
	"github.com/magabrotheeeer/vpn-access-manager/internal/storage/repository"
)

// Handler управляет HTTP-запросами на создание привязок.
type Handler struct {
	log      *slog.Logger        // Логгер для записи информации и ошибок
	service  Service             // Менеджер привязок
	validate *validator.Validate // Валидатор структуры входящих данных
}

// Service описывает интерфейс бизнес-логики создания привязки.
type Service interface {
	Bind(ctx context.Context, userUID string, serverID int) (*models.Binding, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Привязать пользователя к серверу
// @Description Создает привязку пользователя к серверу. Если у пользователя нет активной привязки, новая становится активной.
// @Tags Bindings
// @Accept  json
// @Produce  json
// @Param request body models.DummyBinding true "Пользователь и сервер"
// @Success 200 {object} map[string]any "Успешное создание привязки"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 404 {object} response.ErrorResponse "Пользователь или сервер не найден"
// @Failure 409 {object} response.ErrorResponse "Сервер переполнен или отключен"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /bindings [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.binding.bind"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req models.DummyBinding
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

	binding, err := h.service.Bind(r.Context(), req.UserUID, req.ServerID)
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
		default:
			log.Error("failed to bind user", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error("could not bind user"))
		}
		return
	}

	log.Info("success to bind user",
		slog.String("uid", req.UserUID), slog.Int("server_id", req.ServerID))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"binding_id": binding.ID,
		"is_active":  binding.IsActive,
	}))
}
