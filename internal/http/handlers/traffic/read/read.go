// Package read реализует HTTP-обработчик получения статистики трафика
// активной привязки пользователя. Статистика запрашивается с панели
// сервера; при её недоступности отдается ошибка, а не нулевые значения.
package read

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/vpn-access-manager/internal/http/response"
	"github.com/magabrotheeeer/vpn-access-manager/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-access-manager/internal/panel"
	"github.com/magabrotheeeer/vpn-access-manager/internal/storage/repository"
)

// Handler обрабатывает запросы на получение статистики трафика.
type Handler struct {
	log      *slog.Logger        // Логгер для записи информации и ошибок
	service  Service             // Менеджер привязок
	validate *validator.Validate // Валидатор структуры входящих данных
}

// Service описывает интерфейс бизнес-логики получения трафика.
type Service interface {
	GetTraffic(ctx context.Context, userUID string) (*panel.Traffic, error)
}

// New создает новый Handler с переданным логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP обрабатывает HTTP-запрос на получение статистики трафика.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.traffic.read"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userUID := chi.URLParam(r, "uid")
	if err := h.validate.Var(userUID, "required,uuid"); err != nil {
		log.Error("invalid uid in url", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid uid in url"))
		return
	}

	traffic, err := h.service.GetTraffic(r.Context(), userUID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			log.Error("no active binding with stats", sl.Err(err))
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("no active binding with stats"))
		case errors.Is(err, panel.ErrUnavailable), errors.Is(err, panel.ErrUnauthorized):
			log.Error("panel unavailable", sl.Err(err))
			w.WriteHeader(http.StatusBadGateway)
			render.JSON(w, r, response.Error("server panel unavailable"))
		default:
			log.Error("failed to read traffic", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error("could not read traffic"))
		}
		return
	}

	log.Info("success to read traffic", slog.String("uid", userUID))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"up":          traffic.Up,
		"down":        traffic.Down,
		"total":       traffic.Total,
		"last_online": traffic.LastOnline,
	}))
}
