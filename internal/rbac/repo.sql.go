package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// PGRepositories bundles the PostgreSQL-backed implementations of the
// rbac persistence interfaces over one pool.
type PGRepositories struct {
	Groups     *PGGroupsRepository
	Perms      *PGPermissionsRepository
	GroupPerms *PGGroupPermissionsRepository
	UserGroups *PGUserGroupsRepository
	Audit      *PGAuditRepository
}

// NewPGRepositories constructs all repositories over one pool.
func NewPGRepositories(pool *pgxpool.Pool) *PGRepositories {
	return &PGRepositories{
		Groups:     &PGGroupsRepository{pool: pool},
		Perms:      &PGPermissionsRepository{pool: pool},
		GroupPerms: &PGGroupPermissionsRepository{pool: pool},
		UserGroups: &PGUserGroupsRepository{pool: pool},
		Audit:      &PGAuditRepository{pool: pool},
	}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func uuidOrNil(p *uuid.UUID) any {
	if p == nil {
		return nil
	}
	return *p
}

func nilIfZero(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}

// PGGroupsRepository persists permission groups.
type PGGroupsRepository struct {
	pool *pgxpool.Pool
}

const groupColumns = `id, name, slug, description, is_system, is_active, color, priority, parent_id, tenant_id, deleted_at, created_at, updated_at`

func scanGroup(row pgx.Row) (Group, error) {
	var (
		g        Group
		parentID *uuid.UUID
		tenantID *uuid.UUID
	)
	err := row.Scan(&g.ID, &g.Name, &g.Slug, &g.Description, &g.IsSystem, &g.IsActive,
		&g.Color, &g.Priority, &parentID, &tenantID, &g.DeletedAt, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return Group{}, err
	}
	g.ParentID = parentID
	if tenantID != nil {
		g.TenantID = *tenantID
	}
	return g, nil
}

func (r *PGGroupsRepository) groupQuery(ctx context.Context, query string, args ...any) (Group, error) {
	g, err := scanGroup(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Group{}, fmt.Errorf("rbac: group: %w", shared.ErrNotFound)
	}
	return g, err
}

func (r *PGGroupsRepository) groupsQuery(ctx context.Context, query string, args ...any) ([]Group, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var groups []Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// FindByID fetches a group including soft-deleted rows; callers decide
// usability via Group.Usable.
func (r *PGGroupsRepository) FindByID(ctx context.Context, id uuid.UUID) (Group, error) {
	return r.groupQuery(ctx, `SELECT `+groupColumns+` FROM permission_groups WHERE id = $1`, id)
}

// FindBySlug resolves a slug within one tenant scope (NULL for global).
// Soft-deleted rows are excluded so their slugs become reusable.
func (r *PGGroupsRepository) FindBySlug(ctx context.Context, slug string, tenantID uuid.UUID) (Group, error) {
	return r.groupQuery(ctx, `
		SELECT `+groupColumns+` FROM permission_groups
		WHERE slug = $1 AND tenant_id IS NOT DISTINCT FROM $2 AND deleted_at IS NULL`,
		slug, nilIfZero(tenantID))
}

// FindByName resolves a live group by exact name, across all scopes.
func (r *PGGroupsRepository) FindByName(ctx context.Context, name string) (Group, error) {
	return r.groupQuery(ctx, `
		SELECT `+groupColumns+` FROM permission_groups
		WHERE name = $1 AND deleted_at IS NULL`, name)
}

// FindChildren returns the live direct children of a group.
func (r *PGGroupsRepository) FindChildren(ctx context.Context, parentID uuid.UUID) ([]Group, error) {
	return r.groupsQuery(ctx, `
		SELECT `+groupColumns+` FROM permission_groups
		WHERE parent_id = $1 AND deleted_at IS NULL ORDER BY priority DESC, name`, parentID)
}

// Create inserts a group.
func (r *PGGroupsRepository) Create(ctx context.Context, group Group) (Group, error) {
	g, err := scanGroup(r.pool.QueryRow(ctx, `
		INSERT INTO permission_groups (id, name, slug, description, is_system, is_active, color, priority, parent_id, tenant_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+groupColumns,
		group.ID, group.Name, group.Slug, group.Description, group.IsSystem, group.IsActive,
		group.Color, group.Priority, uuidOrNil(group.ParentID), nilIfZero(group.TenantID)))
	if isUniqueViolation(err) {
		return Group{}, fmt.Errorf("rbac: group slug or name already in use: %w", shared.ErrConflict)
	}
	return g, err
}

// Update rewrites the mutable columns.
func (r *PGGroupsRepository) Update(ctx context.Context, group Group) (Group, error) {
	g, err := scanGroup(r.pool.QueryRow(ctx, `
		UPDATE permission_groups
		SET name = $2, slug = $3, description = $4, is_active = $5, color = $6,
		    priority = $7, parent_id = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING `+groupColumns,
		group.ID, group.Name, group.Slug, group.Description, group.IsActive,
		group.Color, group.Priority, uuidOrNil(group.ParentID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Group{}, fmt.Errorf("rbac: group %s: %w", group.ID, shared.ErrNotFound)
	}
	if isUniqueViolation(err) {
		return Group{}, fmt.Errorf("rbac: group slug or name already in use: %w", shared.ErrConflict)
	}
	return g, err
}

// SoftDelete stamps deleted_at; the row stays for audit joins.
func (r *PGGroupsRepository) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE permission_groups SET deleted_at = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rbac: group %s: %w", id, shared.ErrNotFound)
	}
	return nil
}

// ListAll returns every live group.
func (r *PGGroupsRepository) ListAll(ctx context.Context) ([]Group, error) {
	return r.groupsQuery(ctx, `
		SELECT `+groupColumns+` FROM permission_groups
		WHERE deleted_at IS NULL ORDER BY priority DESC, name`)
}

// ListSystemGroups returns live system groups.
func (r *PGGroupsRepository) ListSystemGroups(ctx context.Context) ([]Group, error) {
	return r.groupsQuery(ctx, `
		SELECT `+groupColumns+` FROM permission_groups
		WHERE is_system AND deleted_at IS NULL ORDER BY name`)
}

// PGPermissionsRepository persists permission definitions.
type PGPermissionsRepository struct {
	pool *pgxpool.Pool
}

const permColumns = `id, code, name, description, module, resource, action, is_system, metadata, created_at, updated_at`

func scanPermission(row pgx.Row) (Permission, error) {
	var (
		p       Permission
		rawCode string
		meta    []byte
	)
	err := row.Scan(&p.ID, &rawCode, &p.Name, &p.Description, &p.Module, &p.Resource,
		&p.Action, &p.IsSystem, &meta, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Permission{}, err
	}
	if p.Code, err = ParseCode(rawCode); err != nil {
		return Permission{}, fmt.Errorf("rbac: stored code %q: %w", rawCode, err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Metadata); err != nil {
			return Permission{}, fmt.Errorf("rbac: decode metadata: %w", err)
		}
	}
	return p, nil
}

func (r *PGPermissionsRepository) permQuery(ctx context.Context, query string, args ...any) (Permission, error) {
	p, err := scanPermission(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, fmt.Errorf("rbac: permission: %w", shared.ErrNotFound)
	}
	return p, err
}

// FindByID fetches a permission definition.
func (r *PGPermissionsRepository) FindByID(ctx context.Context, id uuid.UUID) (Permission, error) {
	return r.permQuery(ctx, `SELECT `+permColumns+` FROM permissions WHERE id = $1`, id)
}

// FindByCode fetches a permission definition by canonical code.
func (r *PGPermissionsRepository) FindByCode(ctx context.Context, code string) (Permission, error) {
	return r.permQuery(ctx, `SELECT `+permColumns+` FROM permissions WHERE code = $1`, code)
}

// Exists reports whether the definition is present.
func (r *PGPermissionsRepository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM permissions WHERE id = $1)`, id).Scan(&ok)
	return ok, err
}

// Create inserts a definition.
func (r *PGPermissionsRepository) Create(ctx context.Context, perm Permission) (Permission, error) {
	meta, err := json.Marshal(perm.Metadata)
	if err != nil {
		return Permission{}, fmt.Errorf("rbac: encode metadata: %w", err)
	}
	p, err := scanPermission(r.pool.QueryRow(ctx, `
		INSERT INTO permissions (id, code, name, description, module, resource, action, is_system, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+permColumns,
		perm.ID, perm.Code.String(), perm.Name, perm.Description,
		perm.Module, perm.Resource, perm.Action, perm.IsSystem, meta))
	if isUniqueViolation(err) {
		return Permission{}, fmt.Errorf("rbac: code %s already in use: %w", perm.Code, shared.ErrConflict)
	}
	return p, err
}

// Update rewrites the mutable columns; the code is immutable.
func (r *PGPermissionsRepository) Update(ctx context.Context, perm Permission) (Permission, error) {
	meta, err := json.Marshal(perm.Metadata)
	if err != nil {
		return Permission{}, fmt.Errorf("rbac: encode metadata: %w", err)
	}
	p, err := scanPermission(r.pool.QueryRow(ctx, `
		UPDATE permissions SET name = $2, description = $3, metadata = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING `+permColumns,
		perm.ID, perm.Name, perm.Description, meta))
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, fmt.Errorf("rbac: permission %s: %w", perm.ID, shared.ErrNotFound)
	}
	return p, err
}

// Delete removes a definition.
func (r *PGPermissionsRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rbac: permission %s: %w", id, shared.ErrNotFound)
	}
	return nil
}

func permissionFilterClause(filters PermissionFilters) (string, []any) {
	clause := ` WHERE ($1 = '' OR module = $1) AND ($2 = '' OR resource = $2)
		AND ($3 = '' OR code ILIKE '%' || $3 || '%' OR name ILIKE '%' || $3 || '%')`
	return clause, []any{filters.Module, filters.Resource, filters.Search}
}

// ListAll returns definitions matching the filters, paged.
func (r *PGPermissionsRepository) ListAll(ctx context.Context, filters PermissionFilters) ([]Permission, error) {
	clause, args := permissionFilterClause(filters)
	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filters.Offset)
	rows, err := r.pool.Query(ctx, `SELECT `+permColumns+` FROM permissions`+clause+` ORDER BY code LIMIT $4 OFFSET $5`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// Count returns the unpaged total for the filters.
func (r *PGPermissionsRepository) Count(ctx context.Context, filters PermissionFilters) (int, error) {
	clause, args := permissionFilterClause(filters)
	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM permissions`+clause, args...).Scan(&total)
	return total, err
}

// PGGroupPermissionsRepository persists group-permission associations.
type PGGroupPermissionsRepository struct {
	pool *pgxpool.Pool
}

// Add inserts an association. A duplicate pair is a conflict.
func (r *PGGroupPermissionsRepository) Add(ctx context.Context, gp GroupPermission) error {
	var conditions any
	if len(gp.Conditions) > 0 {
		conditions = []byte(gp.Conditions)
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO permission_group_permissions (group_id, permission_id, effect, conditions)
		VALUES ($1, $2, $3, $4)`, gp.GroupID, gp.PermissionID, string(gp.Effect), conditions)
	if isUniqueViolation(err) {
		return fmt.Errorf("rbac: association already exists: %w", shared.ErrConflict)
	}
	return err
}

// Remove deletes the association if present. Idempotent.
func (r *PGGroupPermissionsRepository) Remove(ctx context.Context, groupID, permissionID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM permission_group_permissions WHERE group_id = $1 AND permission_id = $2`,
		groupID, permissionID)
	return err
}

// Exists reports whether the pair is associated.
func (r *PGGroupPermissionsRepository) Exists(ctx context.Context, groupID, permissionID uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM permission_group_permissions WHERE group_id = $1 AND permission_id = $2)`,
		groupID, permissionID).Scan(&ok)
	return ok, err
}

// ListByPermissionID returns every association referencing the permission.
func (r *PGGroupPermissionsRepository) ListByPermissionID(ctx context.Context, permissionID uuid.UUID) ([]GroupPermission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT group_id, permission_id, effect, conditions, created_at
		FROM permission_group_permissions WHERE permission_id = $1`, permissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []GroupPermission
	for rows.Next() {
		var (
			gp         GroupPermission
			effect     string
			conditions []byte
		)
		if err := rows.Scan(&gp.GroupID, &gp.PermissionID, &effect, &conditions, &gp.CreatedAt); err != nil {
			return nil, err
		}
		gp.Effect = Effect(effect)
		gp.Conditions = conditions
		out = append(out, gp)
	}
	return out, rows.Err()
}

// ListEffectsByGroupIDs returns the lean code/effect projection across
// all given groups in one round trip.
func (r *PGGroupPermissionsRepository) ListEffectsByGroupIDs(ctx context.Context, groupIDs []uuid.UUID) ([]CodeGrant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.code, gp.effect, gp.group_id
		FROM permission_group_permissions gp
		JOIN permissions p ON p.id = gp.permission_id
		WHERE gp.group_id = ANY($1)`, groupIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CodeGrant
	for rows.Next() {
		var (
			g      CodeGrant
			effect string
		)
		if err := rows.Scan(&g.Code, &effect, &g.GroupID); err != nil {
			return nil, err
		}
		g.Effect = Effect(effect)
		out = append(out, g)
	}
	return out, rows.Err()
}

// ListPermissionsWithEffects returns full tuples for introspection.
func (r *PGGroupPermissionsRepository) ListPermissionsWithEffects(ctx context.Context, groupIDs []uuid.UUID) ([]PermissionGrant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+qualifiedPermColumns+`, gp.effect, gp.conditions, gp.group_id
		FROM permission_group_permissions gp
		JOIN permissions p ON p.id = gp.permission_id
		WHERE gp.group_id = ANY($1)
		ORDER BY p.code`, groupIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PermissionGrant
	for rows.Next() {
		var (
			g          PermissionGrant
			rawCode    string
			meta       []byte
			effect     string
			conditions []byte
		)
		p := &g.Permission
		if err := rows.Scan(&p.ID, &rawCode, &p.Name, &p.Description, &p.Module, &p.Resource,
			&p.Action, &p.IsSystem, &meta, &p.CreatedAt, &p.UpdatedAt,
			&effect, &conditions, &g.GroupID); err != nil {
			return nil, err
		}
		if p.Code, err = ParseCode(rawCode); err != nil {
			return nil, fmt.Errorf("rbac: stored code %q: %w", rawCode, err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &p.Metadata); err != nil {
				return nil, fmt.Errorf("rbac: decode metadata: %w", err)
			}
		}
		g.Effect = Effect(effect)
		g.Conditions = conditions
		out = append(out, g)
	}
	return out, rows.Err()
}

const qualifiedPermColumns = `p.id, p.code, p.name, p.description, p.module, p.resource, p.action, p.is_system, p.metadata, p.created_at, p.updated_at`

// RemoveByGroupID deletes every association of one group.
func (r *PGGroupPermissionsRepository) RemoveByGroupID(ctx context.Context, groupID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM permission_group_permissions WHERE group_id = $1`, groupID)
	return err
}

// RemoveByPermissionID deletes every association of one permission.
func (r *PGGroupPermissionsRepository) RemoveByPermissionID(ctx context.Context, permissionID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM permission_group_permissions WHERE permission_id = $1`, permissionID)
	return err
}

// PGUserGroupsRepository persists user-group assignments.
type PGUserGroupsRepository struct {
	pool *pgxpool.Pool
}

// Assign inserts an assignment. A duplicate pair is a conflict.
func (r *PGUserGroupsRepository) Assign(ctx context.Context, ug UserGroup) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_permission_groups (user_id, group_id, expires_at, granted_by)
		VALUES ($1, $2, $3, $4)`,
		ug.UserID, ug.GroupID, ug.ExpiresAt, uuidOrNil(ug.GrantedBy))
	if isUniqueViolation(err) {
		return fmt.Errorf("rbac: assignment already exists: %w", shared.ErrConflict)
	}
	return err
}

// Remove deletes the assignment if present. Idempotent.
func (r *PGUserGroupsRepository) Remove(ctx context.Context, userID, groupID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM user_permission_groups WHERE user_id = $1 AND group_id = $2`, userID, groupID)
	return err
}

// ExistsActive reports a non-expired assignment for the pair.
func (r *PGUserGroupsRepository) ExistsActive(ctx context.Context, userID, groupID uuid.UUID, now time.Time) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM user_permission_groups
			WHERE user_id = $1 AND group_id = $2 AND (expires_at IS NULL OR expires_at > $3)
		)`, userID, groupID, now).Scan(&ok)
	return ok, err
}

func (r *PGUserGroupsRepository) assignmentsQuery(ctx context.Context, query string, args ...any) ([]UserGroup, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UserGroup
	for rows.Next() {
		var (
			ug        UserGroup
			grantedBy *uuid.UUID
		)
		if err := rows.Scan(&ug.UserID, &ug.GroupID, &ug.ExpiresAt, &grantedBy, &ug.CreatedAt); err != nil {
			return nil, err
		}
		ug.GrantedBy = grantedBy
		out = append(out, ug)
	}
	return out, rows.Err()
}

const assignmentColumns = `user_id, group_id, expires_at, granted_by, created_at`

// ListActiveByUserID returns the user's non-expired assignments.
func (r *PGUserGroupsRepository) ListActiveByUserID(ctx context.Context, userID uuid.UUID, now time.Time) ([]UserGroup, error) {
	return r.assignmentsQuery(ctx, `
		SELECT `+assignmentColumns+` FROM user_permission_groups
		WHERE user_id = $1 AND (expires_at IS NULL OR expires_at > $2)`, userID, now)
}

// ListByUserID returns the user's assignments, optionally including
// expired rows.
func (r *PGUserGroupsRepository) ListByUserID(ctx context.Context, userID uuid.UUID, includeExpired bool, now time.Time) ([]UserGroup, error) {
	if includeExpired {
		return r.assignmentsQuery(ctx, `
			SELECT `+assignmentColumns+` FROM user_permission_groups WHERE user_id = $1`, userID)
	}
	return r.ListActiveByUserID(ctx, userID, now)
}

// ListByGroupID returns the group's assignments, optionally including
// expired rows.
func (r *PGUserGroupsRepository) ListByGroupID(ctx context.Context, groupID uuid.UUID, includeExpired bool, now time.Time) ([]UserGroup, error) {
	if includeExpired {
		return r.assignmentsQuery(ctx, `
			SELECT `+assignmentColumns+` FROM user_permission_groups WHERE group_id = $1`, groupID)
	}
	return r.assignmentsQuery(ctx, `
		SELECT `+assignmentColumns+` FROM user_permission_groups
		WHERE group_id = $1 AND (expires_at IS NULL OR expires_at > $2)`, groupID, now)
}

// CountActiveByGroupID counts non-expired assignments for the group.
func (r *PGUserGroupsRepository) CountActiveByGroupID(ctx context.Context, groupID uuid.UUID, now time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM user_permission_groups
		WHERE group_id = $1 AND (expires_at IS NULL OR expires_at > $2)`, groupID, now).Scan(&n)
	return n, err
}

// RemoveAllByGroupID deletes every assignment referencing the group.
func (r *PGUserGroupsRepository) RemoveAllByGroupID(ctx context.Context, groupID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM user_permission_groups WHERE group_id = $1`, groupID)
	return err
}

// PGAuditRepository is the PostgreSQL audit sink.
type PGAuditRepository struct {
	pool *pgxpool.Pool
}

// NewPGAuditRepository constructs the audit sink over a pool.
func NewPGAuditRepository(pool *pgxpool.Pool) *PGAuditRepository {
	return &PGAuditRepository{pool: pool}
}

// Log appends one decision record.
func (r *PGAuditRepository) Log(ctx context.Context, entry AuditEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO permission_audit_logs
			(id, user_id, code, allowed, reason, resource, resource_id, action, ip, user_agent, endpoint, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		entry.ID, entry.UserID, entry.Code, entry.Allowed, entry.Reason,
		entry.Resource, entry.ResourceID, entry.Action, entry.IP, entry.UserAgent,
		entry.Endpoint, entry.CheckedAt)
	return err
}

// ListByUserID returns a user's decisions, newest first.
func (r *PGAuditRepository) ListByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, code, allowed, reason, resource, resource_id, action, ip, user_agent, endpoint, checked_at
		FROM permission_audit_logs
		WHERE user_id = $1 ORDER BY checked_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Code, &e.Allowed, &e.Reason, &e.Resource,
			&e.ResourceID, &e.Action, &e.IP, &e.UserAgent, &e.Endpoint, &e.CheckedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PurgeOlderThan deletes records older than the cutoff and reports the
// number removed. Used by the retention job.
func (r *PGAuditRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM permission_audit_logs WHERE checked_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
