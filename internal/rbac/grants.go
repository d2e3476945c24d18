package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// GrantService owns the association lifecycle: group-permission links
// and user-group assignments, plus the introspection listings.
type GrantService struct {
	users      UsersPort
	groups     GroupsRepository
	perms      PermissionsRepository
	groupPerms GroupPermissionsRepository
	userGroups UserGroupsRepository
	cache      PermissionCache
	logger     *slog.Logger
	now        func() time.Time
}

// GrantServiceDeps groups the collaborators.
type GrantServiceDeps struct {
	Users      UsersPort
	Groups     GroupsRepository
	Perms      PermissionsRepository
	GroupPerms GroupPermissionsRepository
	UserGroups UserGroupsRepository
	Cache      PermissionCache
	Logger     *slog.Logger
}

// NewGrantService constructs a GrantService.
func NewGrantService(deps GrantServiceDeps) *GrantService {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &GrantService{
		users:      deps.Users,
		groups:     deps.Groups,
		perms:      deps.Perms,
		groupPerms: deps.GroupPerms,
		userGroups: deps.UserGroups,
		cache:      deps.Cache,
		logger:     logger,
		now:        time.Now,
	}
}

// AddPermissionToGroup links a permission (looked up by code) to a
// usable group with the given effect. An existing association for the
// pair is a conflict: changing an effect requires remove and re-add.
func (s *GrantService) AddPermissionToGroup(ctx context.Context, groupID uuid.UUID, code string, effect Effect, conditions json.RawMessage) error {
	parsed, err := ParseCode(code)
	if err != nil {
		return err
	}
	if _, err := ParseEffect(string(effect)); err != nil {
		return err
	}

	group, err := s.groups.FindByID(ctx, groupID)
	if err != nil {
		return err
	}
	if !group.Usable() {
		return fmt.Errorf("rbac: group %s is inactive or deleted: %w", groupID, shared.ErrConflict)
	}

	perm, err := s.perms.FindByCode(ctx, parsed.String())
	if err != nil {
		return err
	}

	exists, err := s.groupPerms.Exists(ctx, groupID, perm.ID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("rbac: group %s already has an association for %s, remove it before changing the effect: %w", groupID, parsed, shared.ErrConflict)
	}

	if err := s.groupPerms.Add(ctx, GroupPermission{
		GroupID:      groupID,
		PermissionID: perm.ID,
		Effect:       effect,
		Conditions:   conditions,
	}); err != nil {
		return err
	}
	// The grant reaches every member of the group and its descendants.
	s.cache.Clear(ctx)
	return nil
}

// RemovePermissionFromGroup validates both references exist, then
// removes the association. The removal itself is idempotent.
func (s *GrantService) RemovePermissionFromGroup(ctx context.Context, groupID, permissionID uuid.UUID) error {
	if _, err := s.groups.FindByID(ctx, groupID); err != nil {
		return err
	}
	ok, err := s.perms.Exists(ctx, permissionID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("rbac: permission %s: %w", permissionID, shared.ErrNotFound)
	}
	if err := s.groupPerms.Remove(ctx, groupID, permissionID); err != nil {
		return err
	}
	s.cache.Clear(ctx)
	return nil
}

// AssignGroupInput carries an assignment request.
type AssignGroupInput struct {
	UserID    uuid.UUID
	GroupID   uuid.UUID
	ExpiresAt *time.Time
	GrantedBy *uuid.UUID
	TenantID  uuid.UUID
}

// AssignGroupToUser links a user to a group. Blocked users, unusable
// groups, duplicate active assignments and past expiry dates are all
// rejected. With a tenant-scoped request the group must be owned by
// that tenant or be global.
func (s *GrantService) AssignGroupToUser(ctx context.Context, input AssignGroupInput) error {
	user, err := s.users.FindByID(ctx, input.UserID)
	if err != nil {
		return err
	}
	if user.IsBlocked {
		return fmt.Errorf("rbac: user %s is blocked: %w", input.UserID, shared.ErrConflict)
	}

	group, err := s.groups.FindByID(ctx, input.GroupID)
	if err != nil {
		return err
	}
	if !group.Usable() {
		return fmt.Errorf("rbac: group %s is inactive or deleted: %w", input.GroupID, shared.ErrConflict)
	}
	if input.TenantID != uuid.Nil && !group.Global() && group.TenantID != input.TenantID {
		return fmt.Errorf("rbac: group %s is not available to tenant %s: %w", input.GroupID, input.TenantID, shared.ErrForbidden)
	}

	if input.ExpiresAt != nil && !input.ExpiresAt.After(s.now()) {
		return fmt.Errorf("rbac: expiry %s is not in the future: %w", input.ExpiresAt.Format(time.RFC3339), shared.ErrValidation)
	}

	active, err := s.userGroups.ExistsActive(ctx, input.UserID, input.GroupID, s.now())
	if err != nil {
		return err
	}
	if active {
		return fmt.Errorf("rbac: user %s is already assigned to group %s: %w", input.UserID, input.GroupID, shared.ErrConflict)
	}

	if input.GrantedBy != nil {
		if _, err := s.users.FindByID(ctx, *input.GrantedBy); err != nil {
			return fmt.Errorf("rbac: granting user: %w", err)
		}
	}

	if err := s.userGroups.Assign(ctx, UserGroup{
		UserID:    input.UserID,
		GroupID:   input.GroupID,
		ExpiresAt: input.ExpiresAt,
		GrantedBy: input.GrantedBy,
	}); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, input.UserID)
	return nil
}

// RemoveGroupFromUser validates both references exist, then removes
// the assignment. The removal itself is idempotent.
func (s *GrantService) RemoveGroupFromUser(ctx context.Context, userID, groupID uuid.UUID) error {
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		return err
	}
	if _, err := s.groups.FindByID(ctx, groupID); err != nil {
		return err
	}
	if err := s.userGroups.Remove(ctx, userID, groupID); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, userID)
	return nil
}

// ListUserGroups returns the user's assigned groups, filtered by
// expiry and active status according to the flags.
func (s *GrantService) ListUserGroups(ctx context.Context, userID uuid.UUID, includeExpired, includeInactive bool) ([]AssignedGroup, error) {
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		return nil, err
	}
	assignments, err := s.userGroups.ListByUserID(ctx, userID, includeExpired, s.now())
	if err != nil {
		return nil, err
	}
	out := make([]AssignedGroup, 0, len(assignments))
	for _, a := range assignments {
		group, err := s.groups.FindByID(ctx, a.GroupID)
		if err != nil {
			return nil, err
		}
		if !includeInactive && !group.Usable() {
			continue
		}
		out = append(out, AssignedGroup{
			Group:     group,
			ExpiresAt: a.ExpiresAt,
			GrantedBy: a.GrantedBy,
			CreatedAt: a.CreatedAt,
		})
	}
	return out, nil
}

// ListGroupPermissions enumerates the group's raw {permission, effect,
// conditions} tuples. No precedence collapsing: this is a reporting
// view, distinct from CheckPermission.
func (s *GrantService) ListGroupPermissions(ctx context.Context, groupID uuid.UUID) ([]PermissionGrant, error) {
	if _, err := s.groups.FindByID(ctx, groupID); err != nil {
		return nil, err
	}
	return s.groupPerms.ListPermissionsWithEffects(ctx, []uuid.UUID{groupID})
}

// ListUserPermissions enumerates raw tuples across the user's active
// groups and their usable ancestors. No precedence collapsing.
func (s *GrantService) ListUserPermissions(ctx context.Context, userID uuid.UUID) ([]PermissionGrant, error) {
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		return nil, err
	}
	assignments, err := s.userGroups.ListActiveByUserID(ctx, userID, s.now())
	if err != nil {
		return nil, err
	}

	visited := make(map[uuid.UUID]bool)
	var groupIDs []uuid.UUID
	for _, a := range assignments {
		next := &a.GroupID
		for next != nil && !visited[*next] {
			visited[*next] = true
			group, err := s.groups.FindByID(ctx, *next)
			if err != nil {
				return nil, err
			}
			if group.Usable() {
				groupIDs = append(groupIDs, group.ID)
			}
			next = group.ParentID
		}
	}
	if len(groupIDs) == 0 {
		return []PermissionGrant{}, nil
	}
	return s.groupPerms.ListPermissionsWithEffects(ctx, groupIDs)
}
