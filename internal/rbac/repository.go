package rbac

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/users"
)

// UsersPort is the slice of the users collaborator the engine needs.
type UsersPort interface {
	FindByID(ctx context.Context, id uuid.UUID) (users.User, error)
}

// GroupsRepository persists permission groups.
type GroupsRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (Group, error)
	// FindBySlug resolves a slug within the given tenant scope
	// (uuid.Nil for the global scope).
	FindBySlug(ctx context.Context, slug string, tenantID uuid.UUID) (Group, error)
	FindByName(ctx context.Context, name string) (Group, error)
	FindChildren(ctx context.Context, parentID uuid.UUID) ([]Group, error)
	Create(ctx context.Context, group Group) (Group, error)
	Update(ctx context.Context, group Group) (Group, error)
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error
	ListAll(ctx context.Context) ([]Group, error)
	ListSystemGroups(ctx context.Context) ([]Group, error)
}

// PermissionFilters narrows catalog listings.
type PermissionFilters struct {
	Module   string
	Resource string
	Search   string
	Limit    int
	Offset   int
}

// PermissionsRepository persists permission definitions.
type PermissionsRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (Permission, error)
	FindByCode(ctx context.Context, code string) (Permission, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	Create(ctx context.Context, perm Permission) (Permission, error)
	Update(ctx context.Context, perm Permission) (Permission, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListAll(ctx context.Context, filters PermissionFilters) ([]Permission, error)
	Count(ctx context.Context, filters PermissionFilters) (int, error)
}

// GroupPermissionsRepository persists group-permission associations.
type GroupPermissionsRepository interface {
	Add(ctx context.Context, gp GroupPermission) error
	Remove(ctx context.Context, groupID, permissionID uuid.UUID) error
	Exists(ctx context.Context, groupID, permissionID uuid.UUID) (bool, error)
	ListByPermissionID(ctx context.Context, permissionID uuid.UUID) ([]GroupPermission, error)
	// ListEffectsByGroupIDs returns the lean code/effect projection the
	// engine builds the effective map from, across all given groups.
	ListEffectsByGroupIDs(ctx context.Context, groupIDs []uuid.UUID) ([]CodeGrant, error)
	// ListPermissionsWithEffects returns full tuples for introspection.
	ListPermissionsWithEffects(ctx context.Context, groupIDs []uuid.UUID) ([]PermissionGrant, error)
	RemoveByGroupID(ctx context.Context, groupID uuid.UUID) error
	RemoveByPermissionID(ctx context.Context, permissionID uuid.UUID) error
}

// UserGroupsRepository persists user-group assignments.
type UserGroupsRepository interface {
	Assign(ctx context.Context, ug UserGroup) error
	Remove(ctx context.Context, userID, groupID uuid.UUID) error
	// ExistsActive reports a non-expired assignment for the pair.
	ExistsActive(ctx context.Context, userID, groupID uuid.UUID, now time.Time) (bool, error)
	ListActiveByUserID(ctx context.Context, userID uuid.UUID, now time.Time) ([]UserGroup, error)
	ListByUserID(ctx context.Context, userID uuid.UUID, includeExpired bool, now time.Time) ([]UserGroup, error)
	ListByGroupID(ctx context.Context, groupID uuid.UUID, includeExpired bool, now time.Time) ([]UserGroup, error)
	CountActiveByGroupID(ctx context.Context, groupID uuid.UUID, now time.Time) (int, error)
	RemoveAllByGroupID(ctx context.Context, groupID uuid.UUID) error
}

// AuditRepository is the append-only sink for authorization decisions.
type AuditRepository interface {
	Log(ctx context.Context, entry AuditEntry) error
	ListByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]AuditEntry, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
