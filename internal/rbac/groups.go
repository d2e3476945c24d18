package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// GroupService owns the permission group lifecycle: create, update
// (including reparenting with cycle detection) and soft delete.
type GroupService struct {
	groups     GroupsRepository
	groupPerms GroupPermissionsRepository
	userGroups UserGroupsRepository
	cache      PermissionCache
	logger     *slog.Logger
	now        func() time.Time
}

// NewGroupService constructs a GroupService.
func NewGroupService(groups GroupsRepository, groupPerms GroupPermissionsRepository, userGroups UserGroupsRepository, cache PermissionCache, logger *slog.Logger) *GroupService {
	if logger == nil {
		logger = slog.Default()
	}
	return &GroupService{
		groups:     groups,
		groupPerms: groupPerms,
		userGroups: userGroups,
		cache:      cache,
		logger:     logger,
		now:        time.Now,
	}
}

// CreateGroupInput carries the fields for a new group.
type CreateGroupInput struct {
	Name        string
	Description string
	Color       string
	Priority    int
	ParentID    *uuid.UUID
	TenantID    uuid.UUID
	IsSystem    bool
	IsActive    *bool
}

// CreateGroup validates slug/name uniqueness within the tenant scope
// and parent usability, then persists the group.
func (s *GroupService) CreateGroup(ctx context.Context, input CreateGroupInput) (Group, error) {
	name := input.Name
	if name == "" {
		return Group{}, fmt.Errorf("rbac: group name is required: %w", shared.ErrValidation)
	}
	slug := shared.Slugify(name)
	if slug == "" {
		return Group{}, fmt.Errorf("rbac: group name %q yields an empty slug: %w", name, shared.ErrValidation)
	}

	if existing, err := s.groups.FindBySlug(ctx, slug, input.TenantID); err == nil {
		return Group{}, fmt.Errorf("rbac: slug %q already used by group %s: %w", slug, existing.ID, shared.ErrConflict)
	}
	if existing, err := s.groups.FindByName(ctx, name); err == nil {
		return Group{}, fmt.Errorf("rbac: name %q already used by group %s: %w", name, existing.ID, shared.ErrConflict)
	}

	if input.ParentID != nil {
		parent, err := s.groups.FindByID(ctx, *input.ParentID)
		if err != nil {
			return Group{}, fmt.Errorf("rbac: parent group: %w", err)
		}
		if !parent.Usable() {
			return Group{}, fmt.Errorf("rbac: parent group %s is inactive or deleted: %w", parent.ID, shared.ErrConflict)
		}
	}

	isActive := true
	if input.IsActive != nil {
		isActive = *input.IsActive
	}
	return s.groups.Create(ctx, Group{
		ID:          uuid.New(),
		Name:        name,
		Slug:        slug,
		Description: input.Description,
		IsSystem:    input.IsSystem,
		IsActive:    isActive,
		Color:       input.Color,
		Priority:    input.Priority,
		ParentID:    input.ParentID,
		TenantID:    input.TenantID,
	})
}

// UpdateGroupInput carries the mutable group fields. Nil pointers mean
// "leave unchanged"; SetParent distinguishes "reparent to nil" from
// "don't touch the parent".
type UpdateGroupInput struct {
	Name        *string
	Description *string
	Color       *string
	Priority    *int
	IsActive    *bool
	SetParent   bool
	ParentID    *uuid.UUID
}

// UpdateGroup applies the changes. Renaming regenerates the slug and
// re-checks uniqueness excluding the group itself. Reparenting rejects
// self-parenting and any parent inside the group's own descendant set.
// callerTenant follows the same ownership rule as delete.
func (s *GroupService) UpdateGroup(ctx context.Context, id uuid.UUID, input UpdateGroupInput, callerTenant uuid.UUID) (Group, error) {
	group, err := s.groups.FindByID(ctx, id)
	if err != nil {
		return Group{}, err
	}
	if err := s.checkTenantOwnership(group, callerTenant); err != nil {
		return Group{}, err
	}

	if input.Name != nil && *input.Name != group.Name {
		name := *input.Name
		if name == "" {
			return Group{}, fmt.Errorf("rbac: group name is required: %w", shared.ErrValidation)
		}
		slug := shared.Slugify(name)
		if existing, err := s.groups.FindBySlug(ctx, slug, group.TenantID); err == nil && existing.ID != id {
			return Group{}, fmt.Errorf("rbac: slug %q already used by group %s: %w", slug, existing.ID, shared.ErrConflict)
		}
		if existing, err := s.groups.FindByName(ctx, name); err == nil && existing.ID != id {
			return Group{}, fmt.Errorf("rbac: name %q already used by group %s: %w", name, existing.ID, shared.ErrConflict)
		}
		group.Name = name
		group.Slug = slug
	}
	if input.Description != nil {
		group.Description = *input.Description
	}
	if input.Color != nil {
		group.Color = *input.Color
	}
	if input.Priority != nil {
		group.Priority = *input.Priority
	}
	if input.IsActive != nil {
		group.IsActive = *input.IsActive
	}

	if input.SetParent && !sameParent(group.ParentID, input.ParentID) {
		if input.ParentID != nil {
			if *input.ParentID == id {
				return Group{}, fmt.Errorf("rbac: group cannot be its own parent: %w", shared.ErrConflict)
			}
			parent, err := s.groups.FindByID(ctx, *input.ParentID)
			if err != nil {
				return Group{}, fmt.Errorf("rbac: parent group: %w", err)
			}
			if !parent.Usable() {
				return Group{}, fmt.Errorf("rbac: parent group %s is inactive or deleted: %w", parent.ID, shared.ErrConflict)
			}
			descendant, err := s.isDescendant(ctx, id, *input.ParentID)
			if err != nil {
				return Group{}, err
			}
			if descendant {
				return Group{}, fmt.Errorf("rbac: reparenting group %s under its own descendant %s would create a cycle: %w", id, *input.ParentID, shared.ErrConflict)
			}
		}
		group.ParentID = input.ParentID
	}

	updated, err := s.groups.Update(ctx, group)
	if err != nil {
		return Group{}, err
	}
	// Membership semantics may have changed for an unknown set of users.
	s.cache.Clear(ctx)
	return updated, nil
}

// DeleteGroup soft-deletes a group. System groups and groups with
// children are never deletable. Groups with active user assignments
// require force, which cascades removal of the assignments and the
// group's permission associations.
func (s *GroupService) DeleteGroup(ctx context.Context, id uuid.UUID, force bool, callerTenant uuid.UUID) error {
	group, err := s.groups.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if group.IsSystem {
		return fmt.Errorf("rbac: system group %s cannot be deleted: %w", id, shared.ErrConflict)
	}
	if err := s.checkTenantOwnership(group, callerTenant); err != nil {
		return err
	}

	children, err := s.groups.FindChildren(ctx, id)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return fmt.Errorf("rbac: group %s has %d child groups, detach them first: %w", id, len(children), shared.ErrConflict)
	}

	assigned, err := s.userGroups.CountActiveByGroupID(ctx, id, s.now())
	if err != nil {
		return err
	}
	if assigned > 0 {
		if !force {
			return fmt.Errorf("rbac: group %s has %d active user assignments, pass force to cascade: %w", id, assigned, shared.ErrConflict)
		}
		if err := s.userGroups.RemoveAllByGroupID(ctx, id); err != nil {
			return err
		}
	}
	if force {
		if err := s.groupPerms.RemoveByGroupID(ctx, id); err != nil {
			return err
		}
	}

	if err := s.groups.SoftDelete(ctx, id, s.now()); err != nil {
		return err
	}
	s.logger.Info("permission group deleted",
		slog.String("group_id", id.String()),
		slog.Bool("force", force),
		slog.Int("cascaded_assignments", assigned))
	s.cache.Clear(ctx)
	return nil
}

// Get returns one group.
func (s *GroupService) Get(ctx context.Context, id uuid.UUID) (Group, error) {
	return s.groups.FindByID(ctx, id)
}

// ListGroups returns all groups.
func (s *GroupService) ListGroups(ctx context.Context) ([]Group, error) {
	return s.groups.ListAll(ctx)
}

// ListChildren returns a group's direct children.
func (s *GroupService) ListChildren(ctx context.Context, parentID uuid.UUID) ([]Group, error) {
	if _, err := s.groups.FindByID(ctx, parentID); err != nil {
		return nil, err
	}
	return s.groups.FindChildren(ctx, parentID)
}

// checkTenantOwnership enforces the mutation ownership rule: global
// callers may touch anything; tenant-scoped callers only their own
// tenant's groups, never global ones.
func (s *GroupService) checkTenantOwnership(group Group, callerTenant uuid.UUID) error {
	if callerTenant == uuid.Nil {
		return nil
	}
	if group.Global() || group.TenantID != callerTenant {
		return fmt.Errorf("rbac: group %s is not owned by tenant %s: %w", group.ID, callerTenant, shared.ErrForbidden)
	}
	return nil
}

// isDescendant reports whether candidate is inside root's descendant
// set. Breadth-first over FindChildren with a visited set, so a
// corrupted graph terminates instead of looping.
func (s *GroupService) isDescendant(ctx context.Context, root, candidate uuid.UUID) (bool, error) {
	visited := map[uuid.UUID]bool{root: true}
	queue := []uuid.UUID{root}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		children, err := s.groups.FindChildren(ctx, current)
		if err != nil {
			return false, err
		}
		for _, child := range children {
			if child.ID == candidate {
				return true, nil
			}
			if !visited[child.ID] {
				visited[child.ID] = true
				queue = append(queue, child.ID)
			}
		}
	}
	return false, nil
}

func sameParent(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
