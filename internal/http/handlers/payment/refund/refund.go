// Package refund реализует HTTP-обработчик отмены платежа. Вместе с
// платежом удаляется созданный им период подписки, статус пользователя
// пересчитывается по оставшимся записям книги.
package refund

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/vpn-access-manager/internal/http/response"
	"github.com/magabrotheeeer/vpn-access-manager/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-access-manager/internal/storage/repository"
)

// Handler обрабатывает запросы на отмену платежа.
type Handler struct {
	log     *slog.Logger // Логгер для записи информации и ошибок
	service Service      // Платежный сервис
}

// Service описывает интерфейс бизнес-логики отмены платежа.
type Service interface {
	Refund(ctx context.Context, paymentID int) error
}

// New создает новый Handler с переданным логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP обрабатывает HTTP-запрос на отмену платежа.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.refund"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		log.Error("failed to decode id from url", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("failed to decode id from url"))
		return
	}

	if err := h.service.Refund(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Error("payment not found", sl.Err(err))
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("payment not found"))
			return
		}
		log.Error("failed to refund payment", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not refund payment"))
		return
	}

	log.Info("success to refund payment", slog.Int("payment_id", id))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"payment_id": id,
	}))
}
