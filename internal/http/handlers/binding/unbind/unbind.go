// Package unbind реализует HTTP-обработчик удаления привязки пользователя
// к серверу.
package unbind

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

// Handler управляет HTTP-запросами на удаление привязок.
type Handler struct {
	log      *slog.Logger        // Логгер для записи информации и ошибок
	service  Service             // Менеджер привязок
	validate *validator.Validate // Валидатор структуры входящих данных
}

// Service описывает интерфейс бизнес-логики удаления привязки.
type Service interface {
	Unbind(ctx context.Context, userUID string, serverID int) error
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP обрабатывает HTTP-запрос на удаление привязки.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.binding.unbind"
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

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	if err := h.service.Unbind(r.Context(), req.UserUID, req.ServerID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Error("binding not found", sl.Err(err))
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("binding not found"))
			return
		}
		log.Error("failed to unbind user", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not unbind user"))
		return
	}

	log.Info("success to unbind user",
		slog.String("uid", req.UserUID), slog.Int("server_id", req.ServerID))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"user_uid":  req.UserUID,
		"server_id": req.ServerID,
	}))
}
