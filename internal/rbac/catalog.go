package rbac

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// CatalogService owns the permission definitions themselves. The code
// is immutable after creation; name, description and metadata are not.
type CatalogService struct {
	perms      PermissionsRepository
	groupPerms GroupPermissionsRepository
	cache      PermissionCache
	logger     *slog.Logger
}

// NewCatalogService constructs a CatalogService.
func NewCatalogService(perms PermissionsRepository, groupPerms GroupPermissionsRepository, cache PermissionCache, logger *slog.Logger) *CatalogService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogService{perms: perms, groupPerms: groupPerms, cache: cache, logger: logger}
}

// CreatePermissionInput carries a new permission definition.
type CreatePermissionInput struct {
	Code        string
	Name        string
	Description string
	IsSystem    bool
	Metadata    map[string]any
}

// CreatePermission validates the code, rejects duplicates, and stores
// the definition with denormalised code segments.
func (s *CatalogService) CreatePermission(ctx context.Context, input CreatePermissionInput) (Permission, error) {
	code, err := ParseCode(input.Code)
	if err != nil {
		return Permission{}, err
	}
	if input.Name == "" {
		return Permission{}, fmt.Errorf("rbac: permission name is required: %w", shared.ErrValidation)
	}
	if existing, err := s.perms.FindByCode(ctx, code.String()); err == nil {
		return Permission{}, fmt.Errorf("rbac: code %s already used by permission %s: %w", code, existing.ID, shared.ErrConflict)
	}
	return s.perms.Create(ctx, Permission{
		ID:          uuid.New(),
		Code:        code,
		Name:        input.Name,
		Description: input.Description,
		Module:      code.Module,
		Resource:    code.Resource,
		Action:      code.Action,
		IsSystem:    input.IsSystem,
		Metadata:    input.Metadata,
	})
}

// UpdatePermissionInput carries the mutable permission fields.
type UpdatePermissionInput struct {
	Name        *string
	Description *string
	Metadata    map[string]any
}

// UpdatePermission changes name/description/metadata. The code and its
// denormalised segments never change.
func (s *CatalogService) UpdatePermission(ctx context.Context, id uuid.UUID, input UpdatePermissionInput) (Permission, error) {
	perm, err := s.perms.FindByID(ctx, id)
	if err != nil {
		return Permission{}, err
	}
	if input.Name != nil {
		if *input.Name == "" {
			return Permission{}, fmt.Errorf("rbac: permission name is required: %w", shared.ErrValidation)
		}
		perm.Name = *input.Name
	}
	if input.Description != nil {
		perm.Description = *input.Description
	}
	if input.Metadata != nil {
		perm.Metadata = input.Metadata
	}
	return s.perms.Update(ctx, perm)
}

// DeletePermission removes a non-system definition and cascades its
// group associations, then clears the decision cache since the
// affected user set is unknown.
func (s *CatalogService) DeletePermission(ctx context.Context, id uuid.UUID) error {
	perm, err := s.perms.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if perm.IsSystem {
		return fmt.Errorf("rbac: system permission %s cannot be deleted: %w", id, shared.ErrConflict)
	}
	if err := s.groupPerms.RemoveByPermissionID(ctx, id); err != nil {
		return err
	}
	if err := s.perms.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("permission deleted",
		slog.String("permission_id", id.String()),
		slog.String("code", perm.Code.String()))
	s.cache.Clear(ctx)
	return nil
}

// GetPermission returns one definition.
func (s *CatalogService) GetPermission(ctx context.Context, id uuid.UUID) (Permission, error) {
	return s.perms.FindByID(ctx, id)
}

// ListPermissions returns definitions matching the filters plus the
// unfiltered-by-paging total.
func (s *CatalogService) ListPermissions(ctx context.Context, filters PermissionFilters) ([]Permission, int, error) {
	perms, err := s.perms.ListAll(ctx, filters)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.perms.Count(ctx, filters)
	if err != nil {
		return nil, 0, err
	}
	return perms, total, nil
}
