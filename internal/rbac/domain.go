package rbac

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Permission is a named definition bound to one code. Module, resource
// and action are denormalised copies of the code segments for querying.
type Permission struct {
	ID          uuid.UUID
	Code        Code
	Name        string
	Description string
	Module      string
	Resource    string
	Action      string
	IsSystem    bool
	Metadata    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Group is a node in the parent-linked permission group tree.
// TenantID == uuid.Nil denotes a global/system-scope group.
type Group struct {
	ID          uuid.UUID
	Name        string
	Slug        string
	Description string
	IsSystem    bool
	IsActive    bool
	Color       string
	Priority    int
	ParentID    *uuid.UUID
	TenantID    uuid.UUID
	DeletedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Usable reports whether the group may participate in authorization
// or receive new associations.
func (g Group) Usable() bool {
	return g.IsActive && g.DeletedAt == nil
}

// Global reports whether the group lives outside any tenant.
func (g Group) Global() bool {
	return g.TenantID == uuid.Nil
}

// GroupPermission links a group to a permission with an effect. The
// conditions payload is stored and returned verbatim; the engine never
// evaluates it.
type GroupPermission struct {
	GroupID      uuid.UUID
	PermissionID uuid.UUID
	Effect       Effect
	Conditions   json.RawMessage
	CreatedAt    time.Time
}

// UserGroup links a user to a group, optionally until ExpiresAt.
// Expired rows are filtered at read time, never pruned.
type UserGroup struct {
	UserID    uuid.UUID
	GroupID   uuid.UUID
	ExpiresAt *time.Time
	GrantedBy *uuid.UUID
	CreatedAt time.Time
}

// ActiveAt reports whether the assignment counts at the given instant.
func (ug UserGroup) ActiveAt(now time.Time) bool {
	return ug.ExpiresAt == nil || ug.ExpiresAt.After(now)
}

// Entry is one effect contribution inside the effective permission map.
type Entry struct {
	Effect  Effect    `json:"effect"`
	GroupID uuid.UUID `json:"group_id"`
}

// PermissionMap is a user's effective permission map: stored code
// string to the entries contributed by all of the user's groups and
// their ancestors. No precedence is applied at this stage.
type PermissionMap map[string][]Entry

// CodeGrant is the lean projection the engine builds the map from.
type CodeGrant struct {
	Code    string
	Effect  Effect
	GroupID uuid.UUID
}

// PermissionGrant is a full {permission, effect, conditions} tuple for
// introspection listings. No precedence collapsing.
type PermissionGrant struct {
	Permission Permission
	Effect     Effect
	Conditions json.RawMessage
	GroupID    uuid.UUID
}

// AssignedGroup pairs a group with its assignment metadata.
type AssignedGroup struct {
	Group     Group
	ExpiresAt *time.Time
	GrantedBy *uuid.UUID
	CreatedAt time.Time
}

// CheckRequest carries one authorization question plus optional
// request context recorded in the audit trail.
type CheckRequest struct {
	UserID     uuid.UUID
	Code       string
	Resource   string
	ResourceID string
	Action     string
	IP         string
	UserAgent  string
	Endpoint   string
}

// Decision is the engine's answer. Reason is one of the Reason*
// constants.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Decision reasons. The audit trail stores these verbatim, so they are
// part of the contract.
const (
	ReasonNoMatch = "No matching permissions found"
	ReasonDenied  = "Denied by explicit deny rule"
	ReasonAllowed = "Allowed by permission rules"
	ReasonError   = "Error checking permission"
)

// AuditEntry is one appended record of an authorization decision.
type AuditEntry struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Code       string
	Allowed    bool
	Reason     string
	Resource   string
	ResourceID string
	Action     string
	IP         string
	UserAgent  string
	Endpoint   string
	CheckedAt  time.Time
}
