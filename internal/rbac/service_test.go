package rbac

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugin-munin/hm-api/internal/shared"
)

// mockRepository is an in-memory Repository for service tests.
type mockRepository struct {
	perms       map[int64]Permission
	roles       map[int64]Role
	assignments map[int64]map[int64]struct{} // roleID -> permission ids
	nextPermID  int64
	nextRoleID  int64

	// Error and data injection
	permissionsForRoleOverride []Permission
	replaceErr                 error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		perms:       make(map[int64]Permission),
		roles:       make(map[int64]Role),
		assignments: make(map[int64]map[int64]struct{}),
		nextPermID:  1,
		nextRoleID:  1,
	}
}

func (m *mockRepository) addPermission(name string) Permission {
	p := Permission{ID: m.nextPermID, Name: name}
	m.perms[p.ID] = p
	m.nextPermID++
	return p
}

func (m *mockRepository) addRole(name string) Role {
	r := Role{ID: m.nextRoleID, Name: name, Active: true}
	m.roles[r.ID] = r
	m.nextRoleID++
	m.assignments[r.ID] = make(map[int64]struct{})
	return r
}

func (m *mockRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	out := make([]Permission, 0, len(m.perms))
	for _, p := range m.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockRepository) ListPermissionsPage(ctx context.Context, limit, offset int) ([]Permission, error) {
	all, _ := m.ListPermissions(ctx)
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (m *mockRepository) CountPermissions(ctx context.Context) (int, error) {
	return len(m.perms), nil
}

func (m *mockRepository) GetPermission(ctx context.Context, id int64) (Permission, error) {
	p, ok := m.perms[id]
	if !ok {
		return Permission{}, shared.NotFoundf("permiso %d no encontrado", id)
	}
	return p, nil
}

func (m *mockRepository) GetPermissionByName(ctx context.Context, name string) (Permission, error) {
	for _, p := range m.perms {
		if p.Name == name {
			return p, nil
		}
	}
	return Permission{}, shared.NotFoundf("permiso %q no encontrado", name)
}

func (m *mockRepository) SearchPermissions(ctx context.Context, fragment string) ([]Permission, error) {
	all, _ := m.ListPermissions(ctx)
	var out []Permission
	for _, p := range all {
		if strings.Contains(p.Name, fragment) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockRepository) CreatePermission(ctx context.Context, name string) (Permission, error) {
	for _, p := range m.perms {
		if p.Name == name {
			return Permission{}, shared.Conflictf("ya existe un permiso con el nombre %q", name)
		}
	}
	return m.addPermission(name), nil
}

func (m *mockRepository) UpdatePermission(ctx context.Context, p Permission) error {
	if _, ok := m.perms[p.ID]; !ok {
		return shared.NotFoundf("permiso %d no encontrado", p.ID)
	}
	m.perms[p.ID] = p
	return nil
}

func (m *mockRepository) DeletePermission(ctx context.Context, id int64) error {
	if _, ok := m.perms[id]; !ok {
		return shared.NotFoundf("permiso %d no encontrado", id)
	}
	delete(m.perms, id)
	return nil
}

func (m *mockRepository) PermissionInUse(ctx context.Context, id int64) (bool, error) {
	for _, set := range m.assignments {
		if _, ok := set[id]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepository) PermissionsForRole(ctx context.Context, roleID int64) ([]Permission, error) {
	if m.permissionsForRoleOverride != nil {
		return m.permissionsForRoleOverride, nil
	}
	set := m.assignments[roleID]
	out := make([]Permission, 0, len(set))
	for id := range set {
		out = append(out, m.perms[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockRepository) PermissionsNotAssignedToRole(ctx context.Context, roleID int64) ([]Permission, error) {
	set := m.assignments[roleID]
	all, _ := m.ListPermissions(ctx)
	var out []Permission
	for _, p := range all {
		if _, ok := set[p.ID]; !ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockRepository) RoleHasPermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	set, ok := m.assignments[roleID]
	if !ok {
		return false, nil
	}
	_, ok = set[permissionID]
	return ok, nil
}

func (m *mockRepository) AssignPermission(ctx context.Context, permissionID, roleID int64) error {
	set, ok := m.assignments[roleID]
	if !ok {
		set = make(map[int64]struct{})
		m.assignments[roleID] = set
	}
	if _, exists := set[permissionID]; exists {
		return shared.Conflictf("el permiso %d ya está asignado al rol %d", permissionID, roleID)
	}
	set[permissionID] = struct{}{}
	return nil
}

func (m *mockRepository) RemovePermission(ctx context.Context, permissionID, roleID int64) (bool, error) {
	set, ok := m.assignments[roleID]
	if !ok {
		return false, nil
	}
	if _, exists := set[permissionID]; !exists {
		return false, nil
	}
	delete(set, permissionID)
	return true, nil
}

func (m *mockRepository) ReplaceRolePermissions(ctx context.Context, roleID int64, remove, add []int64) error {
	if m.replaceErr != nil {
		return m.replaceErr
	}
	set := m.assignments[roleID]
	for _, id := range remove {
		delete(set, id)
	}
	for _, id := range add {
		set[id] = struct{}{}
	}
	return nil
}

func (m *mockRepository) UsageStats(ctx context.Context) ([]PermissionUsage, error) {
	all, _ := m.ListPermissions(ctx)
	out := make([]PermissionUsage, 0, len(all))
	for _, p := range all {
		count := 0
		for _, set := range m.assignments {
			if _, ok := set[p.ID]; ok {
				count++
			}
		}
		out = append(out, PermissionUsage{Permission: p, Roles: count})
	}
	return out, nil
}

func (m *mockRepository) ListRoles(ctx context.Context) ([]Role, error) {
	out := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockRepository) GetRole(ctx context.Context, id int64) (Role, error) {
	r, ok := m.roles[id]
	if !ok {
		return Role{}, shared.NotFoundf("rol %d no encontrado", id)
	}
	return r, nil
}

func (m *mockRepository) CreateRole(ctx context.Context, name string) (Role, error) {
	for _, r := range m.roles {
		if r.Name == name {
			return Role{}, shared.Conflictf("ya existe un rol con el nombre %q", name)
		}
	}
	return m.addRole(name), nil
}

func (m *mockRepository) UpdateRole(ctx context.Context, role Role) error {
	if _, ok := m.roles[role.ID]; !ok {
		return shared.NotFoundf("rol %d no encontrado", role.ID)
	}
	m.roles[role.ID] = role
	return nil
}

func (m *mockRepository) DeleteRole(ctx context.Context, id int64) error {
	if _, ok := m.roles[id]; !ok {
		return shared.NotFoundf("rol %d no encontrado", id)
	}
	delete(m.roles, id)
	delete(m.assignments, id)
	return nil
}

func (m *mockRepository) RoleExists(ctx context.Context, id int64) (bool, error) {
	_, ok := m.roles[id]
	return ok, nil
}

var _ Repository = (*mockRepository)(nil)

func newTestService() (*Service, *mockRepository) {
	repo := newMockRepository()
	return NewService(repo), repo
}

// ---- assignment engine ----

func TestAssignAndRemove(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	role := repo.addRole("cuidador")
	perm := repo.addPermission("ver_animales")

	require.NoError(t, svc.Assign(ctx, perm.ID, role.ID))

	granted, err := svc.HasPermission(ctx, role.ID, perm.ID)
	require.NoError(t, err)
	assert.True(t, granted)

	// Assigning the same pair again is a conflict, not a no-op.
	err = svc.Assign(ctx, perm.ID, role.ID)
	assert.Equal(t, shared.KindConflict, shared.KindOf(err))

	removed, err := svc.Remove(ctx, perm.ID, role.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	// Removing an absent pair reports false without error.
	removed, err = svc.Remove(ctx, perm.ID, role.ID)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestAssignUnknownIDs(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	role := repo.addRole("cuidador")
	perm := repo.addPermission("ver_animales")

	err := svc.Assign(ctx, 999, role.ID)
	assert.Equal(t, shared.KindNotFound, shared.KindOf(err))

	err = svc.Assign(ctx, perm.ID, 999)
	assert.Equal(t, shared.KindNotFound, shared.KindOf(err))

	err = svc.Assign(ctx, 0, role.ID)
	assert.Equal(t, shared.KindValidation, shared.KindOf(err))
}

func TestAssignManyDeduplicatesInput(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	role := repo.addRole("cuidador")
	perm := repo.addPermission("ver_animales")

	result, err := svc.AssignMany(ctx, []int64{perm.ID, perm.ID}, role.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{perm.ID}, result.Added)
	assert.Equal(t, []int64{perm.ID}, result.AlreadyPresent)
	assert.Empty(t, result.Failed)
}

func TestAssignManyBestEffort(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	role := repo.addRole("cuidador")
	p1 := repo.addPermission("ver_animales")
	p2 := repo.addPermission("registrar_alta")
	require.NoError(t, svc.Assign(ctx, p2.ID, role.ID))

	result, err := svc.AssignMany(ctx, []int64{p1.ID, p2.ID, 999, -1}, role.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{p1.ID}, result.Added)
	assert.Equal(t, []int64{p2.ID}, result.AlreadyPresent)
	require.Len(t, result.Failed, 2)
	assert.Equal(t, int64(999), result.Failed[0].PermissionID)
	assert.Equal(t, int64(-1), result.Failed[1].PermissionID)
}

func TestSyncAppliesMinimalDiff(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	role := repo.addRole("cuidador")
	var ids []int64
	for _, name := range []string{"ver_animales", "registrar_alta", "registrar_baja", "ver_reportes"} {
		ids = append(ids, repo.addPermission(name).ID)
	}
	for _, id := range ids[:3] { // currently holds 1,2,3
		require.NoError(t, svc.Assign(ctx, id, role.ID))
	}

	result, err := svc.Sync(ctx, []int64{ids[1], ids[2], ids[3]}, role.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{ids[3]}, result.Added)
	assert.Equal(t, []int64{ids[0]}, result.Removed)
	assert.Equal(t, []int64{ids[1], ids[2]}, result.Unchanged)

	perms, err := svc.PermissionsForRole(ctx, role.ID)
	require.NoError(t, err)
	got := make([]int64, 0, len(perms))
	for _, p := range perms {
		got = append(got, p.ID)
	}
	assert.Equal(t, []int64{ids[1], ids[2], ids[3]}, got)
}

func TestSyncIsIdempotent(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	role := repo.addRole("cuidador")
	p1 := repo.addPermission("ver_animales")
	p2 := repo.addPermission("registrar_alta")

	first, err := svc.Sync(ctx, []int64{p1.ID, p2.ID}, role.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{p1.ID, p2.ID}, first.Added)

	second, err := svc.Sync(ctx, []int64{p1.ID, p2.ID}, role.ID)
	require.NoError(t, err)
	assert.Empty(t, second.Added)
	assert.Empty(t, second.Removed)
	assert.Equal(t, []int64{p1.ID, p2.ID}, second.Unchanged)
}

func TestSyncEmptyDesiredClearsRole(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	role := repo.addRole("cuidador")
	perm := repo.addPermission("ver_animales")
	require.NoError(t, svc.Assign(ctx, perm.ID, role.ID))

	result, err := svc.Sync(ctx, []int64{}, role.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{perm.ID}, result.Removed)

	perms, err := svc.PermissionsForRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestSyncRejectsUnknownDesiredID(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	role := repo.addRole("cuidador")

	_, err := svc.Sync(ctx, []int64{999}, role.ID)
	assert.Equal(t, shared.KindNotFound, shared.KindOf(err))
}

// ---- resolver ----

func TestPermissionsForRoleDeduplicates(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	role := repo.addRole("cuidador")
	p := repo.addPermission("ver_animales")
	repo.permissionsForRoleOverride = []Permission{p, p, p}

	perms, err := svc.PermissionsForRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Len(t, perms, 1)
}

func TestPermissionsForRoleEmptyIsNotAnError(t *testing.T) {
	svc, repo := newTestService()
	role := repo.addRole("cuidador")

	perms, err := svc.PermissionsForRole(context.Background(), role.ID)
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestHasPermissionNamedUnknownNameIsNo(t *testing.T) {
	svc, repo := newTestService()
	role := repo.addRole("cuidador")

	granted, err := svc.HasPermissionNamed(context.Background(), role.ID, "no_existe")
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestAuthorizeReport(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	role := repo.addRole("veterinario")
	clinico := repo.addPermission("ver_reporte_clinico")
	require.NoError(t, svc.Assign(ctx, clinico.ID, role.ID))

	assert.NoError(t, svc.AuthorizeReport(ctx, role.ID, GenericReport{Type: "clinico"}))

	err := svc.AuthorizeReport(ctx, role.ID, TransferReport{AreaFrom: "aviario", AreaTo: "selva"})
	assert.Equal(t, shared.KindAuthorization, shared.KindOf(err))
}

func TestPermissionsForRoleByCategory(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	role := repo.addRole("cuidador")
	for _, name := range []string{"ver_reporte_traslado", "ver_reporte_clinico", "ver_animales"} {
		p := repo.addPermission(name)
		require.NoError(t, svc.Assign(ctx, p.ID, role.ID))
	}

	grouped, err := svc.PermissionsForRoleByCategory(ctx, role.ID)
	require.NoError(t, err)
	assert.Len(t, grouped["reportes_traslado"], 1)
	assert.Len(t, grouped["reportes_clinicos"], 1)
	assert.Len(t, grouped["general"], 1)
}

// ---- catalog ----

func TestCreatePermissionNormalizesAndValidates(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	perm, err := svc.CreatePermission(ctx, "  Ver   Animales ")
	require.NoError(t, err)
	assert.Equal(t, "ver_animales", perm.Name)

	_, err = svc.CreatePermission(ctx, "ver animales")
	assert.Equal(t, shared.KindConflict, shared.KindOf(err))

	_, err = svc.CreatePermission(ctx, "ab")
	assert.Equal(t, shared.KindValidation, shared.KindOf(err))

	_, err = svc.CreatePermission(ctx, "")
	assert.Equal(t, shared.KindValidation, shared.KindOf(err))

	_, err = svc.CreatePermission(ctx, "nombre-con-guiones!")
	assert.Equal(t, shared.KindValidation, shared.KindOf(err))
}

func TestDeletePermissionGuards(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	role := repo.addRole("cuidador")

	critical := repo.addPermission("admin_sistema")
	err := svc.DeletePermission(ctx, critical.ID)
	assert.Equal(t, shared.KindConflict, shared.KindOf(err))

	inUse := repo.addPermission("ver_animales")
	require.NoError(t, svc.Assign(ctx, inUse.ID, role.ID))
	err = svc.DeletePermission(ctx, inUse.ID)
	assert.Equal(t, shared.KindConflict, shared.KindOf(err))

	free := repo.addPermission("ver_reportes")
	assert.NoError(t, svc.DeletePermission(ctx, free.ID))
	_, err = svc.GetPermission(ctx, free.ID)
	assert.Equal(t, shared.KindNotFound, shared.KindOf(err))
}

func TestListPermissionsPage(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	for _, name := range []string{"ver_animales", "registrar_alta", "registrar_baja"} {
		repo.addPermission(name)
	}

	perms, meta, err := svc.ListPermissionsPage(ctx, 1, 2)
	require.NoError(t, err)
	assert.Len(t, perms, 2)
	assert.Equal(t, 3, meta.Total)
	assert.Equal(t, 2, meta.TotalPages)

	perms, _, err = svc.ListPermissionsPage(ctx, 2, 2)
	require.NoError(t, err)
	assert.Len(t, perms, 1)
}

func TestGeneralStatistics(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	repo.addPermission("ver_animales")
	repo.addPermission("registrar_alta")
	repo.addPermission("eliminar_especie")
	repo.addPermission("ver_reporte_clinico")

	stats, err := svc.GeneralStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalPermissions)
	assert.Equal(t, 1, stats.Critical)
	assert.Equal(t, 2, stats.ByCategory["general"])
	assert.Equal(t, 1, stats.ByCategory["altas"])
	assert.Equal(t, 1, stats.ByCategory["reportes_clinicos"])
	assert.Equal(t, 2, stats.Types.Read)
	assert.Equal(t, 1, stats.Types.Write)
	assert.Equal(t, 1, stats.Types.Delete)
}

// ---- roles ----

func TestRoleLifecycle(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, "veterinario")
	require.NoError(t, err)

	updated, err := svc.UpdateRole(ctx, role.ID, "veterinario_jefe", false)
	require.NoError(t, err)
	assert.Equal(t, "veterinario_jefe", updated.Name)
	assert.False(t, updated.Active)

	name, err := svc.RoleName(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, "veterinario_jefe", name)

	require.NoError(t, svc.DeleteRole(ctx, role.ID))
	_, err = svc.GetRole(ctx, role.ID)
	assert.Equal(t, shared.KindNotFound, shared.KindOf(err))
}
