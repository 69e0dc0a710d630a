// Package list реализует HTTP-обработчик получения списка серверов.
package list

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/vpn-access-manager/internal/http/response"
	"github.com/magabrotheeeer/vpn-access-manager/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-access-manager/internal/models"
)

// serverView — представление сервера в ответе. Дескриптор панели наружу
// не отдается: в нем зашифрованный пароль администратора.
type serverView struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Address     string `json:"address"`
	MaxBindings int    `json:"max_bindings"`
	Security    string `json:"security"`
	IsActive    bool   `json:"is_active"`
	Managed     bool   `json:"managed"`
}

// Handler обрабатывает запросы на получение списка серверов.
type Handler struct {
	log     *slog.Logger // Логгер для записи информации и ошибок
	service Service      // Сервис управления серверами
}

// Service описывает интерфейс бизнес-логики получения списка серверов.
type Service interface {
	List(ctx context.Context) ([]*models.Server, error)
}

// New создает новый Handler с переданным логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP обрабатывает HTTP-запрос на получение списка серверов.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.server.list"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	servers, err := h.service.List(r.Context())
	if err != nil {
		log.Error("failed to list servers", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not list servers"))
		return
	}

	views := make([]serverView, 0, len(servers))
	for _, srv := range servers {
		views = append(views, serverView{
			ID:          srv.ID,
			Name:        srv.Name,
			Address:     srv.Address,
			MaxBindings: srv.MaxBindings,
			Security:    srv.Security,
			IsActive:    srv.IsActive,
			Managed:     srv.Managed(),
		})
	}

	log.Info("success to list servers", slog.Int("count", len(views)))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"servers": views,
	}))
}
