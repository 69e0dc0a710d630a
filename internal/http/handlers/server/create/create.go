// Package create реализует HTTP-обработчик регистрации VPN-сервера.
//
// Handler принимает JSON-запрос с данными сервера и, опционально,
// дескриптором панели. Пароль панели шифруется до записи в базу.
package create

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
	serversvc "github.com/magabrotheeeer/vpn-access-manager/internal/services/server"
)

// Handler управляет HTTP-запросами на регистрацию серверов.
type Handler struct {
	log      *slog.Logger        // Логгер для записи информации и ошибок
	service  Service             // Сервис управления серверами
	validate *validator.Validate // Валидатор структуры входящих данных
}

// Service описывает интерфейс бизнес-логики регистрации сервера.
type Service interface {
	Create(ctx context.Context, req models.DummyServer) (int, error)
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
// @Summary Зарегистрировать сервер
// @Description Регистрирует VPN-сервер, опционально с дескриптором панели. Возвращает ID созданной записи.
// @Tags Servers
// @Accept  json
// @Produce  json
// @Param request body models.DummyServer true "Данные нового сервера"
// @Success 200 {object} map[string]any "Успешная регистрация сервера"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации или неполный дескриптор панели"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /servers [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.server.create"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req models.DummyServer
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

	id, err := h.service.Create(r.Context(), req)
	if err != nil {
		if errors.Is(err, serversvc.ErrPartialPanel) {
			log.Error("partial panel descriptor", sl.Err(err))
			w.WriteHeader(http.StatusUnprocessableEntity)
			render.JSON(w, r, response.Error("panel descriptor must be complete or absent"))
			return
		}
		log.Error("failed to create server", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not create server"))
		return
	}

	log.Info("success to create server", slog.Int("server_id", id))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"server_id": id,
	}))
}
