package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hugin-munin/hm-api/internal/shared"
)

const tokenType = "Bearer"

// Handler exposes the session endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers /auth routes. login/logout/verify/refresh are public
// per the policy table; profile and change-password ride on the authenticated
// default.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.login)
	r.Post("/logout", h.logout)
	r.Get("/verify", h.verify)
	r.Post("/refresh", h.refresh)
	r.Get("/profile", h.profile)
	r.Put("/change-password", h.changePassword)
}

// userDTO is the identity as the wire sees it.
type userDTO struct {
	ID       int64  `json:"id_usuario"`
	Username string `json:"nombre_usuario"`
	Email    string `json:"correo"`
	RoleID   int64  `json:"id_rol"`
	Active   bool   `json:"activo"`
}

func toUserDTO(id shared.Identity) userDTO {
	return userDTO{ID: id.UserID, Username: id.Username, Email: id.Email, RoleID: id.RoleID, Active: id.Active}
}

type loginRequest struct {
	Username string `json:"nombre_usuario" validate:"required"`
	Password string `json:"contrasena" validate:"required"`
}

type loginResponse struct {
	shared.Envelope
	Token     string  `json:"token"`
	TokenType string  `json:"token_type"`
	ExpiresIn int64   `json:"expires_in"`
	User      userDTO `json:"usuario"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := h.decode(r, &req); err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	session, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, loginResponse{
		Envelope:  shared.OK("Inicio de sesión exitoso"),
		Token:     session.Token,
		TokenType: tokenType,
		ExpiresIn: int64(h.service.TokenTTL().Seconds()),
		User:      toUserDTO(session.Identity),
	})
}

// logout never fails: a missing or dead token still ends the session from the
// client's point of view.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if raw, ok := BearerToken(r); ok {
		h.service.Logout(r.Context(), raw)
	}
	shared.WriteJSON(w, http.StatusOK, shared.OK("Sesión cerrada exitosamente"))
}

type verifyResponse struct {
	shared.Envelope
	Authenticated  bool     `json:"authenticated"`
	User           *userDTO `json:"usuario,omitempty"`
	NewToken       string   `json:"new_token,omitempty"`
	TokenRefreshed bool     `json:"token_refreshed,omitempty"`
}

// verify reports the token's status in the payload, always with a 200, so
// clients can poll it without tripping error interceptors.
func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	raw, ok := BearerToken(r)
	if !ok {
		shared.WriteJSON(w, http.StatusOK, verifyResponse{
			Envelope: shared.OK("Token no proporcionado"),
		})
		return
	}
	v := h.service.Verify(r.Context(), raw)
	if !v.Authenticated {
		shared.WriteJSON(w, http.StatusOK, verifyResponse{
			Envelope: shared.OK("Token inválido"),
		})
		return
	}
	user := toUserDTO(*v.Identity)
	shared.WriteJSON(w, http.StatusOK, verifyResponse{
		Envelope:       shared.OK("Token válido"),
		Authenticated:  true,
		User:           &user,
		NewToken:       v.NewToken,
		TokenRefreshed: v.Refreshed,
	})
}

type refreshResponse struct {
	shared.Envelope
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresIn int64  `json:"expires_in"`
	Refreshed bool   `json:"refreshed"`
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	raw, ok := BearerToken(r)
	if !ok {
		shared.WriteError(w, h.logger, shared.Validationf("token requerido"))
		return
	}
	refreshed, changed, err := h.service.Refresh(r.Context(), raw)
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	message := "Token renovado exitosamente"
	if !changed {
		message = "El token aún no requiere renovación"
	}
	shared.WriteJSON(w, http.StatusOK, refreshResponse{
		Envelope:  shared.OK(message),
		Token:     refreshed,
		TokenType: tokenType,
		ExpiresIn: int64(h.service.TokenTTL().Seconds()),
		Refreshed: changed,
	})
}

type profileResponse struct {
	shared.Envelope
	Profile
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())
	if identity == nil {
		shared.WriteError(w, h.logger, shared.Authentication("Token de autenticación requerido"))
		return
	}
	raw, _ := BearerToken(r)
	profile, err := h.service.Profile(r.Context(), *identity, raw)
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, profileResponse{
		Envelope: shared.OK("Perfil obtenido exitosamente"),
		Profile:  profile,
	})
}

type changePasswordRequest struct {
	Current string `json:"contrasena_actual" validate:"required"`
	Next    string `json:"contrasena_nueva" validate:"required"`
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())
	if identity == nil {
		shared.WriteError(w, h.logger, shared.Authentication("Token de autenticación requerido"))
		return
	}
	var req changePasswordRequest
	if err := h.decode(r, &req); err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	if err := h.service.ChangePassword(r.Context(), identity.UserID, req.Current, req.Next); err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, shared.OK("Contraseña actualizada exitosamente"))
}

func (h *Handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return shared.Validationf("cuerpo de la solicitud inválido")
	}
	if err := h.validator.Struct(dst); err != nil {
		var fields validator.ValidationErrors
		if errors.As(err, &fields) && len(fields) > 0 {
			return shared.Validationf("datos incompletos o inválidos").WithDetails(fields[0].Error())
		}
		return shared.Validationf("datos incompletos o inválidos")
	}
	return nil
}
