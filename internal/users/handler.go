package users

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hugin-munin/hm-api/internal/shared"
)

// Handler exposes the administrative user listing endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers /usuarios routes. The caller gates them behind the
// admin middleware.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
}

type usersResponse struct {
	shared.Envelope
	Usuarios []User `json:"usuarios"`
}

type userResponse struct {
	shared.Envelope
	Usuario User `json:"usuario"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, usersResponse{
		Envelope: shared.OK("Usuarios obtenidos exitosamente"),
		Usuarios: list,
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	user, err := h.service.Get(r.Context(), id)
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, userResponse{
		Envelope: shared.OK("Usuario obtenido exitosamente"),
		Usuario:  user,
	})
}

func pathID(r *http.Request, key string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Validationf("parámetro %s inválido", key)
	}
	return id, nil
}
