package rbac

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hugin-munin/hm-api/internal/shared"
)

// Handler wires the permission catalog and role-assignment endpoints.
type Handler struct {
	logger       *slog.Logger
	service      *Service
	validator    *validator.Validate
	requireAdmin func(http.Handler) http.Handler
}

// NewHandler constructs a Handler. requireAdmin gates the mutating routes.
func NewHandler(logger *slog.Logger, service *Service, requireAdmin func(http.Handler) http.Handler) *Handler {
	return &Handler{
		logger:       logger,
		service:      service,
		validator:    validator.New(),
		requireAdmin: requireAdmin,
	}
}

// MountPermissionRoutes registers /permisos routes.
func (h *Handler) MountPermissionRoutes(r chi.Router) {
	r.Get("/", h.listPermissions)
	r.Get("/categorias", h.listByCategory)
	r.Get("/categoria/{categoria}", h.listInCategory)
	r.Get("/search", h.searchPermissions)
	r.Get("/estadisticas", h.generalStatistics)
	r.Get("/estadisticas/uso", h.usageStatistics)
	r.Get("/rol/{idRol}", h.permissionsForRole)
	r.Get("/rol/{idRol}/disponibles", h.permissionsAvailable)
	r.Get("/rol/{idRol}/verificar/{idPermiso}", h.checkRoleHasPermission)
	r.Get("/rol/{idRol}/verificar-nombre/{nombre}", h.checkRoleHasPermissionNamed)
	r.Get("/{id}", h.getPermission)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAdmin)
		r.Post("/", h.createPermission)
		r.Put("/{id}", h.updatePermission)
		r.Delete("/{id}", h.deletePermission)
		r.Post("/{idPermiso}/rol/{idRol}", h.assignPermission)
		r.Delete("/{idPermiso}/rol/{idRol}", h.removePermission)
		r.Post("/rol/{idRol}/multiple", h.assignMultiple)
		r.Put("/rol/{idRol}/sync", h.syncPermissions)
	})
}

// MountRoleRoutes registers /roles routes. All of them are administrative.
func (h *Handler) MountRoleRoutes(r chi.Router) {
	r.Use(h.requireAdmin)
	r.Get("/", h.listRoles)
	r.Get("/{id}", h.getRole)
	r.Post("/", h.createRole)
	r.Put("/{id}", h.updateRole)
	r.Delete("/{id}", h.deleteRole)
}

// permissionDTO is the wire shape of a permission, with derived fields.
type permissionDTO struct {
	ID       int64  `json:"id_permiso"`
	Name     string `json:"nombre_permiso"`
	Category string `json:"categoria"`
	Critical bool   `json:"critico"`
}

func toPermissionDTO(p Permission) permissionDTO {
	return permissionDTO{ID: p.ID, Name: p.Name, Category: p.Category(), Critical: p.Critical()}
}

func toPermissionDTOs(perms []Permission) []permissionDTO {
	out := make([]permissionDTO, len(perms))
	for i, p := range perms {
		out[i] = toPermissionDTO(p)
	}
	return out
}

type permissionListResponse struct {
	shared.Envelope
	Permisos   []permissionDTO   `json:"permisos"`
	Pagination shared.Pagination `json:"pagination"`
}

type permissionsResponse struct {
	shared.Envelope
	Permisos []permissionDTO `json:"permisos"`
}

type permissionResponse struct {
	shared.Envelope
	Permiso permissionDTO `json:"permiso"`
}

type categoriesResponse struct {
	shared.Envelope
	Categorias map[string][]permissionDTO `json:"categorias"`
}

type checkResponse struct {
	shared.Envelope
	RoleID  int64 `json:"id_rol"`
	Granted bool  `json:"asignado"`
}

type bulkAssignResponse struct {
	shared.Envelope
	BulkAssignResult
}

type syncResponse struct {
	shared.Envelope
	SyncResult
}

type roleResponse struct {
	shared.Envelope
	Rol Role `json:"rol"`
}

type rolesResponse struct {
	shared.Envelope
	Roles []Role `json:"roles"`
}

type statsResponse struct {
	shared.Envelope
	Estadisticas GeneralStats `json:"estadisticas"`
}

type usageResponse struct {
	shared.Envelope
	Uso []PermissionUsage `json:"uso"`
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	perms, meta, err := h.service.ListPermissionsPage(r.Context(), page, perPage)
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, permissionListResponse{
		Envelope:   shared.OK("Permisos obtenidos exitosamente"),
		Permisos:   toPermissionDTOs(perms),
		Pagination: meta,
	})
}

func (h *Handler) getPermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	perm, err := h.service.GetPermission(r.Context(), id)
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, permissionResponse{
		Envelope: shared.OK("Permiso obtenido exitosamente"),
		Permiso:  toPermissionDTO(perm),
	})
}

func (h *Handler) listByCategory(w http.ResponseWriter, r *http.Request) {
	grouped, err := h.service.PermissionsByCategory(r.Context())
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, categoriesResponse{
		Envelope:   shared.OK("Permisos agrupados por categoría"),
		Categorias: groupedDTOs(grouped),
	})
}

func (h *Handler) listInCategory(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.PermissionsInCategory(r.Context(), chi.URLParam(r, "categoria"))
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, permissionsResponse{
		Envelope: shared.OK("Permisos de la categoría obtenidos"),
		Permisos: toPermissionDTOs(perms),
	})
}

func (h *Handler) searchPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.SearchPermissions(r.Context(), r.URL.Query().Get("nombre"))
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, permissionsResponse{
		Envelope: shared.OK("Búsqueda completada"),
		Permisos: toPermissionDTOs(perms),
	})
}

func (h *Handler) generalStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GeneralStatistics(r.Context())
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, statsResponse{
		Envelope:     shared.OK("Estadísticas generales de permisos"),
		Estadisticas: stats,
	})
}

func (h *Handler) usageStatistics(w http.ResponseWriter, r *http.Request) {
	usage, err := h.service.UsageStatistics(r.Context())
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, usageResponse{
		Envelope: shared.OK("Estadísticas de uso de permisos"),
		Uso:      usage,
	})
}

func (h *Handler) permissionsForRole(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathID(r, "idRol")
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	perms, err := h.service.PermissionsForRole(r.Context(), roleID)
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, permissionsResponse{
		Envelope: shared.OK("Permisos del rol obtenidos"),
		Permisos: toPermissionDTOs(perms),
	})
}

func (h *Handler) permissionsAvailable(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathID(r, "idRol")
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	perms, err := h.service.PermissionsNotAssignedToRole(r.Context(), roleID)
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, permissionsResponse{
		Envelope: shared.OK("Permisos disponibles para el rol"),
		Permisos: toPermissionDTOs(perms),
	})
}

func (h *Handler) checkRoleHasPermission(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathID(r, "idRol")
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	permID, err := pathID(r, "idPermiso")
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	granted, err := h.service.HasPermission(r.Context(), roleID, permID)
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, checkResponse{
		Envelope: shared.OK("Verificación completada"),
		RoleID:   roleID,
		Granted:  granted,
	})
}

func (h *Handler) checkRoleHasPermissionNamed(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathID(r, "idRol")
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	granted, err := h.service.HasPermissionNamed(r.Context(), roleID, chi.URLParam(r, "nombre"))
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, checkResponse{
		Envelope: shared.OK("Verificación completada"),
		RoleID:   roleID,
		Granted:  granted,
	})
}

type permissionRequest struct {
	Name string `json:"nombre_permiso" validate:"required,min=3,max=100"`
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := h.decode(r, &req); err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	perm, err := h.service.CreatePermission(r.Context(), req.Name)
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, permissionResponse{
		Envelope: shared.OK("Permiso creado exitosamente"),
		Permiso:  toPermissionDTO(perm),
	})
}

func (h *Handler) updatePermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	var req permissionRequest
	if err := h.decode(r, &req); err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	perm, err := h.service.UpdatePermission(r.Context(), id, req.Name)
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, permissionResponse{
		Envelope: shared.OK("Permiso actualizado exitosamente"),
		Permiso:  toPermissionDTO(perm),
	})
}

func (h *Handler) deletePermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	if err := h.service.DeletePermission(r.Context(), id); err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, shared.OK("Permiso eliminado exitosamente"))
}

func (h *Handler) assignPermission(w http.ResponseWriter, r *http.Request) {
	permID, roleID, err := pairIDs(r)
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	if err := h.service.Assign(r.Context(), permID, roleID); err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, shared.OK("Permiso asignado al rol"))
}

func (h *Handler) removePermission(w http.ResponseWriter, r *http.Request) {
	permID, roleID, err := pairIDs(r)
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	removed, err := h.service.Remove(r.Context(), permID, roleID)
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	message := "Permiso removido del rol"
	if !removed {
		message = "El permiso no estaba asignado al rol"
	}
	shared.WriteJSON(w, http.StatusOK, shared.OK(message))
}

type permissionIDsRequest struct {
	Permisos []int64 `json:"permisos" validate:"required,min=1"`
}

func (h *Handler) assignMultiple(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathID(r, "idRol")
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	var req permissionIDsRequest
	if err := h.decode(r, &req); err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	result, err := h.service.AssignMany(r.Context(), req.Permisos, roleID)
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, bulkAssignResponse{
		Envelope:         shared.OK("Asignación múltiple procesada"),
		BulkAssignResult: result,
	})
}

type syncRequest struct {
	Permisos []int64 `json:"permisos"`
}

func (h *Handler) syncPermissions(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathID(r, "idRol")
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, h.logger, shared.Validationf("cuerpo de la solicitud inválido"))
		return
	}
	result, err := h.service.Sync(r.Context(), req.Permisos, roleID)
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, syncResponse{
		Envelope:   shared.OK("Permisos del rol sincronizados"),
		SyncResult: result,
	})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, rolesResponse{
		Envelope: shared.OK("Roles obtenidos exitosamente"),
		Roles:    roles,
	})
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, roleResponse{
		Envelope: shared.OK("Rol obtenido exitosamente"),
		Rol:      role,
	})
}

type createRoleRequest struct {
	Name string `json:"nombre_rol" validate:"required,min=3,max=50"`
}

type updateRoleRequest struct {
	Name   string `json:"nombre_rol" validate:"required,min=3,max=50"`
	Active bool   `json:"activo"`
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := h.decode(r, &req); err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	role, err := h.service.CreateRole(r.Context(), req.Name)
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, roleResponse{
		Envelope: shared.OK("Rol creado exitosamente"),
		Rol:      role,
	})
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	var req updateRoleRequest
	if err := h.decode(r, &req); err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	role, err := h.service.UpdateRole(r.Context(), id, req.Name, req.Active)
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, roleResponse{
		Envelope: shared.OK("Rol actualizado exitosamente"),
		Rol:      role,
	})
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	if err := h.service.DeleteRole(r.Context(), id); err != nil {
		shared.WriteError(w, h.logger, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, shared.OK("Rol eliminado exitosamente"))
}

// decode parses and validates a JSON command object before any service call.
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

func pathID(r *http.Request, key string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Validationf("parámetro %s inválido", key)
	}
	return id, nil
}

func pairIDs(r *http.Request) (permID, roleID int64, err error) {
	permID, err = pathID(r, "idPermiso")
	if err != nil {
		return 0, 0, err
	}
	roleID, err = pathID(r, "idRol")
	if err != nil {
		return 0, 0, err
	}
	return permID, roleID, nil
}

func groupedDTOs(grouped map[string][]Permission) map[string][]permissionDTO {
	out := make(map[string][]permissionDTO, len(grouped))
	for cat, perms := range grouped {
		out[cat] = toPermissionDTOs(perms)
	}
	return out
}
