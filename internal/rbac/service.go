package rbac

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/hugin-munin/hm-api/internal/shared"
)

// Service is the permission resolver and role assignment engine. Reads are
// safe under concurrent invocation; mutations on the same role are serialized
// through a per-role lock so two administrators editing one role cannot lose
// updates. Different roles never contend.
type Service struct {
	repo Repository

	mu        sync.Mutex
	roleLocks map[int64]*sync.Mutex
}

// NewService constructs a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, roleLocks: make(map[int64]*sync.Mutex)}
}

var (
	permissionNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_\s]+$`)
	spanishLower          = cases.Lower(language.Spanish)
)

// NormalizeName lowercases a permission name and folds whitespace runs into
// single underscores.
func NormalizeName(name string) string {
	name = spanishLower.String(strings.TrimSpace(name))
	return strings.Join(strings.Fields(name), "_")
}

func validatePermissionName(name string) error {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return shared.Validationf("el nombre del permiso es requerido")
	case len(name) < 3:
		return shared.Validationf("el nombre del permiso debe tener al menos 3 caracteres")
	case len(name) > 100:
		return shared.Validationf("el nombre del permiso no puede exceder 100 caracteres")
	case !permissionNamePattern.MatchString(name):
		return shared.Validationf("el nombre del permiso solo puede contener letras, números, guiones bajos y espacios")
	}
	return nil
}

func validateID(label string, id int64) error {
	if id <= 0 {
		return shared.Validationf("%s inválido", label)
	}
	return nil
}

// roleLock returns the mutex serializing mutations for one role.
func (s *Service) roleLock(roleID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.roleLocks[roleID]
	if !ok {
		l = &sync.Mutex{}
		s.roleLocks[roleID] = l
	}
	return l
}

// ---- resolver ----

// PermissionsForRole returns the role's permission set, deduplicated and
// ordered by id. A role without permissions yields an empty slice, not an
// error.
func (s *Service) PermissionsForRole(ctx context.Context, roleID int64) ([]Permission, error) {
	if err := validateID("id de rol", roleID); err != nil {
		return nil, err
	}
	perms, err := s.repo.PermissionsForRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	return dedupe(perms), nil
}

// PermissionsForRoleByCategory groups the role's permissions by derived
// category.
func (s *Service) PermissionsForRoleByCategory(ctx context.Context, roleID int64) (map[string][]Permission, error) {
	perms, err := s.PermissionsForRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	return groupByCategory(perms), nil
}

// PermissionsByCategory groups the whole catalog by derived category.
func (s *Service) PermissionsByCategory(ctx context.Context) (map[string][]Permission, error) {
	perms, err := s.repo.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	return groupByCategory(perms), nil
}

// PermissionsInCategory lists catalog permissions whose derived category
// matches.
func (s *Service) PermissionsInCategory(ctx context.Context, category string) ([]Permission, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return nil, shared.Validationf("la categoría no puede estar vacía")
	}
	perms, err := s.repo.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	matched := make([]Permission, 0)
	for _, p := range perms {
		if p.Category() == category {
			matched = append(matched, p)
		}
	}
	return matched, nil
}

// HasPermission reports whether the role holds the permission id.
func (s *Service) HasPermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	if roleID <= 0 || permissionID <= 0 {
		return false, nil
	}
	return s.repo.RoleHasPermission(ctx, roleID, permissionID)
}

// HasPermissionNamed resolves the name (case-sensitive) and checks
// membership. An unknown name is simply "no".
func (s *Service) HasPermissionNamed(ctx context.Context, roleID int64, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if roleID <= 0 || name == "" {
		return false, nil
	}
	perm, err := s.repo.GetPermissionByName(ctx, name)
	if err != nil {
		if shared.KindOf(err) == shared.KindNotFound {
			return false, nil
		}
		return false, err
	}
	return s.repo.RoleHasPermission(ctx, roleID, perm.ID)
}

// AuthorizeReport checks the permission gating a report kind.
func (s *Service) AuthorizeReport(ctx context.Context, roleID int64, kind ReportKind) error {
	ok, err := s.HasPermissionNamed(ctx, roleID, kind.RequiredPermission())
	if err != nil {
		return err
	}
	if !ok {
		return shared.Authorization("el rol no tiene permiso para este tipo de reporte")
	}
	return nil
}

// ---- assignment engine ----

// BulkAssignFailure records one failed id in a best-effort bulk assign.
type BulkAssignFailure struct {
	PermissionID int64  `json:"id_permiso"`
	Reason       string `json:"motivo"`
}

// BulkAssignResult reports the outcome of AssignMany per id.
type BulkAssignResult struct {
	Added          []int64             `json:"added"`
	AlreadyPresent []int64             `json:"already_present"`
	Failed         []BulkAssignFailure `json:"failed"`
}

// SyncResult reports the diff a Sync applied.
type SyncResult struct {
	Added     []int64 `json:"added"`
	Removed   []int64 `json:"removed"`
	Unchanged []int64 `json:"unchanged"`
}

// Assign grants one permission to one role. Unknown ids are NotFound; an
// existing pair is a Conflict, never a silent no-op.
func (s *Service) Assign(ctx context.Context, permissionID, roleID int64) error {
	if err := validateID("id de permiso", permissionID); err != nil {
		return err
	}
	if err := validateID("id de rol", roleID); err != nil {
		return err
	}
	if _, err := s.repo.GetPermission(ctx, permissionID); err != nil {
		return err
	}
	if err := s.requireRole(ctx, roleID); err != nil {
		return err
	}

	lock := s.roleLock(roleID)
	lock.Lock()
	defer lock.Unlock()
	return s.repo.AssignPermission(ctx, permissionID, roleID)
}

// Remove revokes one permission from one role. A pair that was not present
// yields false without error.
func (s *Service) Remove(ctx context.Context, permissionID, roleID int64) (bool, error) {
	if err := validateID("id de permiso", permissionID); err != nil {
		return false, err
	}
	if err := validateID("id de rol", roleID); err != nil {
		return false, err
	}

	lock := s.roleLock(roleID)
	lock.Lock()
	defer lock.Unlock()
	return s.repo.RemovePermission(ctx, permissionID, roleID)
}

// AssignMany grants each permission independently, best effort: one failure
// does not abort the rest. Deliberately non-atomic, unlike Sync.
func (s *Service) AssignMany(ctx context.Context, permissionIDs []int64, roleID int64) (BulkAssignResult, error) {
	if len(permissionIDs) == 0 {
		return BulkAssignResult{}, shared.Validationf("debe proporcionar al menos un permiso")
	}
	if err := validateID("id de rol", roleID); err != nil {
		return BulkAssignResult{}, err
	}
	if err := s.requireRole(ctx, roleID); err != nil {
		return BulkAssignResult{}, err
	}

	lock := s.roleLock(roleID)
	lock.Lock()
	defer lock.Unlock()

	result := BulkAssignResult{
		Added:          make([]int64, 0, len(permissionIDs)),
		AlreadyPresent: make([]int64, 0),
		Failed:         make([]BulkAssignFailure, 0),
	}
	for _, id := range permissionIDs {
		if id <= 0 {
			result.Failed = append(result.Failed, BulkAssignFailure{PermissionID: id, Reason: "id de permiso inválido"})
			continue
		}
		if _, err := s.repo.GetPermission(ctx, id); err != nil {
			result.Failed = append(result.Failed, BulkAssignFailure{PermissionID: id, Reason: err.Error()})
			continue
		}
		err := s.repo.AssignPermission(ctx, id, roleID)
		switch {
		case err == nil:
			result.Added = append(result.Added, id)
		case shared.KindOf(err) == shared.KindConflict:
			result.AlreadyPresent = append(result.AlreadyPresent, id)
		default:
			result.Failed = append(result.Failed, BulkAssignFailure{PermissionID: id, Reason: err.Error()})
		}
	}
	return result, nil
}

// Sync reconciles the role's permission set against the desired ids with a
// minimal add/remove diff, applied as one transaction (removals first).
// Calling Sync twice with the same desired set reports an empty diff the
// second time.
func (s *Service) Sync(ctx context.Context, desired []int64, roleID int64) (SyncResult, error) {
	if err := validateID("id de rol", roleID); err != nil {
		return SyncResult{}, err
	}
	for _, id := range desired {
		if id <= 0 {
			return SyncResult{}, shared.Validationf("lista de permisos inválida")
		}
	}
	if err := s.requireRole(ctx, roleID); err != nil {
		return SyncResult{}, err
	}

	lock := s.roleLock(roleID)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.repo.PermissionsForRole(ctx, roleID)
	if err != nil {
		return SyncResult{}, err
	}
	currentSet := make(map[int64]struct{}, len(current))
	for _, p := range current {
		currentSet[p.ID] = struct{}{}
	}
	desiredSet := make(map[int64]struct{}, len(desired))
	for _, id := range desired {
		desiredSet[id] = struct{}{}
	}

	result := SyncResult{Added: []int64{}, Removed: []int64{}, Unchanged: []int64{}}
	for id := range desiredSet {
		if _, ok := currentSet[id]; ok {
			result.Unchanged = append(result.Unchanged, id)
		} else {
			if _, err := s.repo.GetPermission(ctx, id); err != nil {
				return SyncResult{}, err
			}
			result.Added = append(result.Added, id)
		}
	}
	for id := range currentSet {
		if _, ok := desiredSet[id]; !ok {
			result.Removed = append(result.Removed, id)
		}
	}
	sortIDs(result.Added)
	sortIDs(result.Removed)
	sortIDs(result.Unchanged)

	if len(result.Added) == 0 && len(result.Removed) == 0 {
		return result, nil
	}
	if err := s.repo.ReplaceRolePermissions(ctx, roleID, result.Removed, result.Added); err != nil {
		return SyncResult{}, err
	}
	return result, nil
}

// ---- permission catalog ----

// ListPermissions returns the whole catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// ListPermissionsPage returns one page plus pagination metadata.
func (s *Service) ListPermissionsPage(ctx context.Context, page, perPage int) ([]Permission, shared.Pagination, error) {
	total, err := s.repo.CountPermissions(ctx)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	meta := shared.NewPagination(page, perPage, total)
	perms, err := s.repo.ListPermissionsPage(ctx, meta.PerPage, meta.Offset())
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return perms, meta, nil
}

// GetPermission fetches one permission.
func (s *Service) GetPermission(ctx context.Context, id int64) (Permission, error) {
	if err := validateID("id de permiso", id); err != nil {
		return Permission{}, err
	}
	return s.repo.GetPermission(ctx, id)
}

// SearchPermissions lists permissions matching a name fragment.
func (s *Service) SearchPermissions(ctx context.Context, fragment string) ([]Permission, error) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return nil, shared.Validationf("el nombre no puede estar vacío")
	}
	return s.repo.SearchPermissions(ctx, fragment)
}

// CreatePermission validates, normalizes, and inserts a permission name.
func (s *Service) CreatePermission(ctx context.Context, name string) (Permission, error) {
	if err := validatePermissionName(name); err != nil {
		return Permission{}, err
	}
	return s.repo.CreatePermission(ctx, NormalizeName(name))
}

// UpdatePermission renames an existing permission.
func (s *Service) UpdatePermission(ctx context.Context, id int64, name string) (Permission, error) {
	if err := validateID("id de permiso", id); err != nil {
		return Permission{}, err
	}
	if err := validatePermissionName(name); err != nil {
		return Permission{}, err
	}
	if _, err := s.repo.GetPermission(ctx, id); err != nil {
		return Permission{}, err
	}
	updated := Permission{ID: id, Name: NormalizeName(name)}
	if err := s.repo.UpdatePermission(ctx, updated); err != nil {
		return Permission{}, err
	}
	return updated, nil
}

// DeletePermission removes a permission. Critical permissions and
// permissions still referenced by any role are protected: both guards raise
// a conflict, never a silent failure.
func (s *Service) DeletePermission(ctx context.Context, id int64) error {
	perm, err := s.GetPermission(ctx, id)
	if err != nil {
		return err
	}
	if perm.Critical() {
		return shared.Conflictf("no se puede eliminar el permiso crítico %q", perm.Name)
	}
	inUse, err := s.repo.PermissionInUse(ctx, id)
	if err != nil {
		return err
	}
	if inUse {
		return shared.Conflictf("el permiso %q está asignado a uno o más roles", perm.Name)
	}
	return s.repo.DeletePermission(ctx, id)
}

// ---- role catalog ----

// ListRoles returns every role.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole fetches one role.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	if err := validateID("id de rol", id); err != nil {
		return Role{}, err
	}
	return s.repo.GetRole(ctx, id)
}

// RoleName resolves a role's name; the authorization middleware uses it for
// the admin predicate.
func (s *Service) RoleName(ctx context.Context, id int64) (string, error) {
	role, err := s.GetRole(ctx, id)
	if err != nil {
		return "", err
	}
	return role.Name, nil
}

// CreateRole inserts a role.
func (s *Service) CreateRole(ctx context.Context, name string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, shared.Validationf("el nombre del rol es requerido")
	}
	return s.repo.CreateRole(ctx, name)
}

// UpdateRole renames a role or toggles its active flag.
func (s *Service) UpdateRole(ctx context.Context, id int64, name string, active bool) (Role, error) {
	if err := validateID("id de rol", id); err != nil {
		return Role{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, shared.Validationf("el nombre del rol es requerido")
	}
	role := Role{ID: id, Name: name, Active: active}
	if err := s.repo.UpdateRole(ctx, role); err != nil {
		return Role{}, err
	}
	return role, nil
}

// DeleteRole removes a role and cascades its assignment rows.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	if err := validateID("id de rol", id); err != nil {
		return err
	}

	lock := s.roleLock(id)
	lock.Lock()
	defer lock.Unlock()
	return s.repo.DeleteRole(ctx, id)
}

// ---- statistics ----

// TypeCounts buckets permissions by the access they grant.
type TypeCounts struct {
	Read   int `json:"lectura"`
	Write  int `json:"escritura"`
	Edit   int `json:"edicion"`
	Delete int `json:"eliminacion"`
}

// GeneralStats summarizes the permission catalog.
type GeneralStats struct {
	TotalPermissions int            `json:"total_permisos"`
	ByCategory       map[string]int `json:"permisos_por_categoria"`
	Critical         int            `json:"permisos_criticos"`
	Types            TypeCounts     `json:"tipos_permisos"`
}

// GeneralStatistics computes catalog-wide counts.
func (s *Service) GeneralStatistics(ctx context.Context) (GeneralStats, error) {
	perms, err := s.repo.ListPermissions(ctx)
	if err != nil {
		return GeneralStats{}, err
	}
	stats := GeneralStats{
		TotalPermissions: len(perms),
		ByCategory:       make(map[string]int),
	}
	for _, p := range perms {
		stats.ByCategory[p.Category()]++
		if p.Critical() {
			stats.Critical++
		}
		if p.IsRead() {
			stats.Types.Read++
		}
		if p.IsWrite() {
			stats.Types.Write++
		}
		if p.IsEdit() {
			stats.Types.Edit++
		}
		if p.IsDelete() {
			stats.Types.Delete++
		}
	}
	return stats, nil
}

// UsageStatistics counts role assignments per permission.
func (s *Service) UsageStatistics(ctx context.Context) ([]PermissionUsage, error) {
	return s.repo.UsageStats(ctx)
}

// PermissionsNotAssignedToRole lists the catalog permissions a role lacks.
func (s *Service) PermissionsNotAssignedToRole(ctx context.Context, roleID int64) ([]Permission, error) {
	if err := validateID("id de rol", roleID); err != nil {
		return nil, err
	}
	if err := s.requireRole(ctx, roleID); err != nil {
		return nil, err
	}
	return s.repo.PermissionsNotAssignedToRole(ctx, roleID)
}

func (s *Service) requireRole(ctx context.Context, roleID int64) error {
	exists, err := s.repo.RoleExists(ctx, roleID)
	if err != nil {
		return err
	}
	if !exists {
		return shared.NotFoundf("rol %d no encontrado", roleID)
	}
	return nil
}

func dedupe(perms []Permission) []Permission {
	seen := make(map[int64]struct{}, len(perms))
	out := perms[:0]
	for _, p := range perms {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}

func groupByCategory(perms []Permission) map[string][]Permission {
	grouped := make(map[string][]Permission)
	for _, p := range perms {
		cat := p.Category()
		grouped[cat] = append(grouped[cat], p)
	}
	return grouped
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
