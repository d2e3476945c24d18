package rbac

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/users"
)

// fixture is the shared in-memory backing store for the repository
// fakes. Error injection fields force failures on specific paths.
type fixture struct {
	mu          sync.Mutex
	users       map[uuid.UUID]users.User
	groups      map[uuid.UUID]Group
	perms       map[uuid.UUID]Permission
	grants      []GroupPermission
	assignments []UserGroup
	audit       []AuditEntry

	auditErr      error
	listActiveErr error

	listActiveCalls int
}

func newFixture() *fixture {
	return &fixture{
		users:  map[uuid.UUID]users.User{},
		groups: map[uuid.UUID]Group{},
		perms:  map[uuid.UUID]Permission{},
	}
}

func (f *fixture) addUser(blocked bool) uuid.UUID {
	id := uuid.New()
	f.users[id] = users.User{ID: id, Email: id.String() + "@example.com", Name: "u", IsBlocked: blocked}
	return id
}

type groupOpt func(*Group)

func withParent(parent uuid.UUID) groupOpt { return func(g *Group) { g.ParentID = &parent } }
func withTenant(tenant uuid.UUID) groupOpt { return func(g *Group) { g.TenantID = tenant } }
func asSystem() groupOpt                   { return func(g *Group) { g.IsSystem = true } }
func asInactive() groupOpt                 { return func(g *Group) { g.IsActive = false } }
func asDeleted() groupOpt {
	return func(g *Group) {
		now := time.Now()
		g.DeletedAt = &now
	}
}

func (f *fixture) addGroup(name string, opts ...groupOpt) uuid.UUID {
	g := Group{
		ID:       uuid.New(),
		Name:     name,
		Slug:     shared.Slugify(name),
		IsActive: true,
	}
	for _, opt := range opts {
		opt(&g)
	}
	f.groups[g.ID] = g
	return g.ID
}

func (f *fixture) addPermission(code string) uuid.UUID {
	parsed, err := ParseCode(code)
	if err != nil {
		panic(err)
	}
	p := Permission{
		ID:       uuid.New(),
		Code:     parsed,
		Name:     code,
		Module:   parsed.Module,
		Resource: parsed.Resource,
		Action:   parsed.Action,
	}
	f.perms[p.ID] = p
	return p.ID
}

func (f *fixture) grant(groupID uuid.UUID, code string, effect Effect) {
	for _, p := range f.perms {
		if p.Code.String() == code {
			f.grants = append(f.grants, GroupPermission{GroupID: groupID, PermissionID: p.ID, Effect: effect})
			return
		}
	}
	permID := f.addPermission(code)
	f.grants = append(f.grants, GroupPermission{GroupID: groupID, PermissionID: permID, Effect: effect})
}

func (f *fixture) assign(userID, groupID uuid.UUID, expiresAt *time.Time) {
	f.assignments = append(f.assignments, UserGroup{UserID: userID, GroupID: groupID, ExpiresAt: expiresAt, CreatedAt: time.Now()})
}

// newEngine builds a Service over the fixture with a fresh memory cache.
func (f *fixture) newEngine() *Service {
	return NewService(ServiceDeps{
		Users:      &fakeUsers{f},
		Groups:     &fakeGroups{f},
		GroupPerms: &fakeGroupPerms{f},
		UserGroups: &fakeUserGroups{f},
		Audit:      &fakeAudit{f},
		Cache:      NewMemoryCache(time.Minute),
	})
}

func (f *fixture) newGroupService(cache PermissionCache) *GroupService {
	if cache == nil {
		cache = NewMemoryCache(time.Minute)
	}
	return NewGroupService(&fakeGroups{f}, &fakeGroupPerms{f}, &fakeUserGroups{f}, cache, nil)
}

func (f *fixture) newGrantService(cache PermissionCache) *GrantService {
	if cache == nil {
		cache = NewMemoryCache(time.Minute)
	}
	return NewGrantService(GrantServiceDeps{
		Users:      &fakeUsers{f},
		Groups:     &fakeGroups{f},
		Perms:      &fakePerms{f},
		GroupPerms: &fakeGroupPerms{f},
		UserGroups: &fakeUserGroups{f},
		Cache:      cache,
	})
}

func (f *fixture) newCatalogService() *CatalogService {
	return NewCatalogService(&fakePerms{f}, &fakeGroupPerms{f}, NewMemoryCache(time.Minute), nil)
}

type fakeUsers struct{ f *fixture }

func (r *fakeUsers) FindByID(_ context.Context, id uuid.UUID) (users.User, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	u, ok := r.f.users[id]
	if !ok {
		return users.User{}, fmt.Errorf("users: user %s: %w", id, shared.ErrNotFound)
	}
	return u, nil
}

type fakeGroups struct{ f *fixture }

func (r *fakeGroups) FindByID(_ context.Context, id uuid.UUID) (Group, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	g, ok := r.f.groups[id]
	if !ok {
		return Group{}, fmt.Errorf("rbac: group: %w", shared.ErrNotFound)
	}
	return g, nil
}

func (r *fakeGroups) FindBySlug(_ context.Context, slug string, tenantID uuid.UUID) (Group, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, g := range r.f.groups {
		if g.Slug == slug && g.TenantID == tenantID && g.DeletedAt == nil {
			return g, nil
		}
	}
	return Group{}, fmt.Errorf("rbac: group: %w", shared.ErrNotFound)
}

func (r *fakeGroups) FindByName(_ context.Context, name string) (Group, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, g := range r.f.groups {
		if g.Name == name && g.DeletedAt == nil {
			return g, nil
		}
	}
	return Group{}, fmt.Errorf("rbac: group: %w", shared.ErrNotFound)
}

func (r *fakeGroups) FindChildren(_ context.Context, parentID uuid.UUID) ([]Group, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []Group
	for _, g := range r.f.groups {
		if g.ParentID != nil && *g.ParentID == parentID && g.DeletedAt == nil {
			out = append(out, g)
		}
	}
	return out, nil
}

func (r *fakeGroups) Create(_ context.Context, group Group) (Group, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	group.CreatedAt = time.Now()
	group.UpdatedAt = group.CreatedAt
	r.f.groups[group.ID] = group
	return group, nil
}

func (r *fakeGroups) Update(_ context.Context, group Group) (Group, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.groups[group.ID]; !ok {
		return Group{}, fmt.Errorf("rbac: group %s: %w", group.ID, shared.ErrNotFound)
	}
	group.UpdatedAt = time.Now()
	r.f.groups[group.ID] = group
	return group, nil
}

func (r *fakeGroups) SoftDelete(_ context.Context, id uuid.UUID, at time.Time) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	g, ok := r.f.groups[id]
	if !ok || g.DeletedAt != nil {
		return fmt.Errorf("rbac: group %s: %w", id, shared.ErrNotFound)
	}
	g.DeletedAt = &at
	r.f.groups[id] = g
	return nil
}

func (r *fakeGroups) ListAll(_ context.Context) ([]Group, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []Group
	for _, g := range r.f.groups {
		if g.DeletedAt == nil {
			out = append(out, g)
		}
	}
	return out, nil
}

func (r *fakeGroups) ListSystemGroups(_ context.Context) ([]Group, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []Group
	for _, g := range r.f.groups {
		if g.IsSystem && g.DeletedAt == nil {
			out = append(out, g)
		}
	}
	return out, nil
}

type fakePerms struct{ f *fixture }

func (r *fakePerms) FindByID(_ context.Context, id uuid.UUID) (Permission, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	p, ok := r.f.perms[id]
	if !ok {
		return Permission{}, fmt.Errorf("rbac: permission: %w", shared.ErrNotFound)
	}
	return p, nil
}

func (r *fakePerms) FindByCode(_ context.Context, code string) (Permission, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, p := range r.f.perms {
		if p.Code.String() == code {
			return p, nil
		}
	}
	return Permission{}, fmt.Errorf("rbac: permission: %w", shared.ErrNotFound)
}

func (r *fakePerms) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	_, ok := r.f.perms[id]
	return ok, nil
}

func (r *fakePerms) Create(_ context.Context, perm Permission) (Permission, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	perm.CreatedAt = time.Now()
	perm.UpdatedAt = perm.CreatedAt
	r.f.perms[perm.ID] = perm
	return perm, nil
}

func (r *fakePerms) Update(_ context.Context, perm Permission) (Permission, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.perms[perm.ID]; !ok {
		return Permission{}, fmt.Errorf("rbac: permission %s: %w", perm.ID, shared.ErrNotFound)
	}
	perm.UpdatedAt = time.Now()
	r.f.perms[perm.ID] = perm
	return perm, nil
}

func (r *fakePerms) Delete(_ context.Context, id uuid.UUID) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.perms[id]; !ok {
		return fmt.Errorf("rbac: permission %s: %w", id, shared.ErrNotFound)
	}
	delete(r.f.perms, id)
	return nil
}

func (r *fakePerms) ListAll(_ context.Context, _ PermissionFilters) ([]Permission, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	out := make([]Permission, 0, len(r.f.perms))
	for _, p := range r.f.perms {
		out = append(out, p)
	}
	return out, nil
}

func (r *fakePerms) Count(_ context.Context, _ PermissionFilters) (int, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	return len(r.f.perms), nil
}

type fakeGroupPerms struct{ f *fixture }

func (r *fakeGroupPerms) Add(_ context.Context, gp GroupPermission) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, existing := range r.f.grants {
		if existing.GroupID == gp.GroupID && existing.PermissionID == gp.PermissionID {
			return fmt.Errorf("rbac: association already exists: %w", shared.ErrConflict)
		}
	}
	r.f.grants = append(r.f.grants, gp)
	return nil
}

func (r *fakeGroupPerms) Remove(_ context.Context, groupID, permissionID uuid.UUID) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	out := r.f.grants[:0]
	for _, g := range r.f.grants {
		if !(g.GroupID == groupID && g.PermissionID == permissionID) {
			out = append(out, g)
		}
	}
	r.f.grants = out
	return nil
}

func (r *fakeGroupPerms) Exists(_ context.Context, groupID, permissionID uuid.UUID) (bool, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, g := range r.f.grants {
		if g.GroupID == groupID && g.PermissionID == permissionID {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeGroupPerms) ListByPermissionID(_ context.Context, permissionID uuid.UUID) ([]GroupPermission, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []GroupPermission
	for _, g := range r.f.grants {
		if g.PermissionID == permissionID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (r *fakeGroupPerms) ListEffectsByGroupIDs(_ context.Context, groupIDs []uuid.UUID) ([]CodeGrant, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	wanted := map[uuid.UUID]bool{}
	for _, id := range groupIDs {
		wanted[id] = true
	}
	var out []CodeGrant
	for _, g := range r.f.grants {
		if wanted[g.GroupID] {
			out = append(out, CodeGrant{
				Code:    r.f.perms[g.PermissionID].Code.String(),
				Effect:  g.Effect,
				GroupID: g.GroupID,
			})
		}
	}
	return out, nil
}

func (r *fakeGroupPerms) ListPermissionsWithEffects(_ context.Context, groupIDs []uuid.UUID) ([]PermissionGrant, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	wanted := map[uuid.UUID]bool{}
	for _, id := range groupIDs {
		wanted[id] = true
	}
	var out []PermissionGrant
	for _, g := range r.f.grants {
		if wanted[g.GroupID] {
			out = append(out, PermissionGrant{
				Permission: r.f.perms[g.PermissionID],
				Effect:     g.Effect,
				Conditions: g.Conditions,
				GroupID:    g.GroupID,
			})
		}
	}
	return out, nil
}

func (r *fakeGroupPerms) RemoveByGroupID(_ context.Context, groupID uuid.UUID) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	out := r.f.grants[:0]
	for _, g := range r.f.grants {
		if g.GroupID != groupID {
			out = append(out, g)
		}
	}
	r.f.grants = out
	return nil
}

func (r *fakeGroupPerms) RemoveByPermissionID(_ context.Context, permissionID uuid.UUID) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	out := r.f.grants[:0]
	for _, g := range r.f.grants {
		if g.PermissionID != permissionID {
			out = append(out, g)
		}
	}
	r.f.grants = out
	return nil
}

type fakeUserGroups struct{ f *fixture }

func (r *fakeUserGroups) Assign(_ context.Context, ug UserGroup) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, a := range r.f.assignments {
		if a.UserID == ug.UserID && a.GroupID == ug.GroupID {
			return fmt.Errorf("rbac: assignment already exists: %w", shared.ErrConflict)
		}
	}
	ug.CreatedAt = time.Now()
	r.f.assignments = append(r.f.assignments, ug)
	return nil
}

func (r *fakeUserGroups) Remove(_ context.Context, userID, groupID uuid.UUID) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	out := r.f.assignments[:0]
	for _, a := range r.f.assignments {
		if !(a.UserID == userID && a.GroupID == groupID) {
			out = append(out, a)
		}
	}
	r.f.assignments = out
	return nil
}

func (r *fakeUserGroups) ExistsActive(_ context.Context, userID, groupID uuid.UUID, now time.Time) (bool, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, a := range r.f.assignments {
		if a.UserID == userID && a.GroupID == groupID && a.ActiveAt(now) {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeUserGroups) ListActiveByUserID(_ context.Context, userID uuid.UUID, now time.Time) ([]UserGroup, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	r.f.listActiveCalls++
	if r.f.listActiveErr != nil {
		return nil, r.f.listActiveErr
	}
	var out []UserGroup
	for _, a := range r.f.assignments {
		if a.UserID == userID && a.ActiveAt(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeUserGroups) ListByUserID(_ context.Context, userID uuid.UUID, includeExpired bool, now time.Time) ([]UserGroup, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []UserGroup
	for _, a := range r.f.assignments {
		if a.UserID != userID {
			continue
		}
		if !includeExpired && !a.ActiveAt(now) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *fakeUserGroups) ListByGroupID(_ context.Context, groupID uuid.UUID, includeExpired bool, now time.Time) ([]UserGroup, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []UserGroup
	for _, a := range r.f.assignments {
		if a.GroupID != groupID {
			continue
		}
		if !includeExpired && !a.ActiveAt(now) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *fakeUserGroups) CountActiveByGroupID(_ context.Context, groupID uuid.UUID, now time.Time) (int, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	n := 0
	for _, a := range r.f.assignments {
		if a.GroupID == groupID && a.ActiveAt(now) {
			n++
		}
	}
	return n, nil
}

func (r *fakeUserGroups) RemoveAllByGroupID(_ context.Context, groupID uuid.UUID) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	out := r.f.assignments[:0]
	for _, a := range r.f.assignments {
		if a.GroupID != groupID {
			out = append(out, a)
		}
	}
	r.f.assignments = out
	return nil
}

type fakeAudit struct{ f *fixture }

func (r *fakeAudit) Log(_ context.Context, entry AuditEntry) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if r.f.auditErr != nil {
		return r.f.auditErr
	}
	r.f.audit = append(r.f.audit, entry)
	return nil
}

func (r *fakeAudit) ListByUserID(_ context.Context, userID uuid.UUID, limit, offset int) ([]AuditEntry, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []AuditEntry
	for _, e := range r.f.audit {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeAudit) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var kept []AuditEntry
	var purged int64
	for _, e := range r.f.audit {
		if e.CheckedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	r.f.audit = kept
	return purged, nil
}
