package rbac

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes the access-control administration surface as JSON.
type Handler struct {
	logger   *slog.Logger
	engine   *Service
	groups   *GroupService
	grants   *GrantService
	catalog  *CatalogService
	guard    Middleware
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, engine *Service, groups *GroupService, grants *GrantService, catalog *CatalogService, guard Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		engine:   engine,
		groups:   groups,
		grants:   grants,
		catalog:  catalog,
		guard:    guard,
		validate: validator.New(),
	}
}

// MountRoutes registers the administration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(PermGroupsView))
		r.Get("/groups", h.listGroups)
		r.Get("/groups/{id}", h.getGroup)
		r.Get("/groups/{id}/children", h.listChildren)
		r.Get("/groups/{id}/permissions", h.listGroupPermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(PermGroupsManage))
		r.Post("/groups", h.createGroup)
		r.Patch("/groups/{id}", h.updateGroup)
		r.Delete("/groups/{id}", h.deleteGroup)
		r.Post("/groups/{id}/permissions", h.addPermissionToGroup)
		r.Delete("/groups/{id}/permissions/{permissionID}", h.removePermissionFromGroup)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(PermCatalogView))
		r.Get("/permissions", h.listPermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(PermCatalogManage))
		r.Post("/permissions", h.createPermission)
		r.Patch("/permissions/{id}", h.updatePermission)
		r.Delete("/permissions/{id}", h.deletePermission)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(PermAssignmentsView))
		r.Get("/users/{id}/groups", h.listUserGroups)
		r.Get("/users/{id}/permissions", h.listUserPermissions)
		r.Get("/users/{id}/permission-codes", h.listUserPermissionCodes)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(PermAssignmentsManage))
		r.Post("/users/{id}/groups", h.assignGroup)
		r.Delete("/users/{id}/groups/{groupID}", h.removeGroup)
	})
	// Self-service introspection: a caller may always probe its own access.
	r.Post("/check", h.check)
}

type groupResponse struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Slug        string     `json:"slug"`
	Description string     `json:"description,omitempty"`
	IsSystem    bool       `json:"is_system"`
	IsActive    bool       `json:"is_active"`
	Color       string     `json:"color,omitempty"`
	Priority    int        `json:"priority"`
	ParentID    *uuid.UUID `json:"parent_id,omitempty"`
	TenantID    *uuid.UUID `json:"tenant_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toGroupResponse(g Group) groupResponse {
	resp := groupResponse{
		ID:          g.ID,
		Name:        g.Name,
		Slug:        g.Slug,
		Description: g.Description,
		IsSystem:    g.IsSystem,
		IsActive:    g.IsActive,
		Color:       g.Color,
		Priority:    g.Priority,
		ParentID:    g.ParentID,
		CreatedAt:   g.CreatedAt,
		UpdatedAt:   g.UpdatedAt,
	}
	if !g.Global() {
		tenant := g.TenantID
		resp.TenantID = &tenant
	}
	return resp
}

func (h *Handler) listGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.groups.ListGroups(r.Context())
	if err != nil {
		h.logger.Error("list groups", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]groupResponse, len(groups))
	for i, g := range groups {
		out[i] = toGroupResponse(g)
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	group, err := h.groups.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toGroupResponse(group))
}

func (h *Handler) listChildren(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	children, err := h.groups.ListChildren(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]groupResponse, len(children))
	for i, g := range children {
		out[i] = toGroupResponse(g)
	}
	httpx.JSON(w, http.StatusOK, out)
}

type createGroupRequest struct {
	Name        string     `json:"name" validate:"required,min=2,max=120"`
	Description string     `json:"description" validate:"max=500"`
	Color       string     `json:"color" validate:"omitempty,hexcolor"`
	Priority    int        `json:"priority"`
	ParentID    *uuid.UUID `json:"parent_id"`
	TenantID    *uuid.UUID `json:"tenant_id"`
	IsActive    *bool      `json:"is_active"`
}

func (h *Handler) createGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if !h.decode(w, r, &req) {
		return
	}
	tenantID := uuid.Nil
	if req.TenantID != nil {
		tenantID = *req.TenantID
	}
	group, err := h.groups.CreateGroup(r.Context(), CreateGroupInput{
		Name:        req.Name,
		Description: req.Description,
		Color:       req.Color,
		Priority:    req.Priority,
		ParentID:    req.ParentID,
		TenantID:    tenantID,
		IsActive:    req.IsActive,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toGroupResponse(group))
}

type updateGroupRequest struct {
	Name        *string    `json:"name" validate:"omitempty,min=2,max=120"`
	Description *string    `json:"description" validate:"omitempty,max=500"`
	Color       *string    `json:"color" validate:"omitempty,hexcolor"`
	Priority    *int       `json:"priority"`
	IsActive    *bool      `json:"is_active"`
	SetParent   bool       `json:"set_parent"`
	ParentID    *uuid.UUID `json:"parent_id"`
}

func (h *Handler) updateGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req updateGroupRequest
	if !h.decode(w, r, &req) {
		return
	}
	group, err := h.groups.UpdateGroup(r.Context(), id, UpdateGroupInput{
		Name:        req.Name,
		Description: req.Description,
		Color:       req.Color,
		Priority:    req.Priority,
		IsActive:    req.IsActive,
		SetParent:   req.SetParent,
		ParentID:    req.ParentID,
	}, h.callerTenant(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toGroupResponse(group))
}

func (h *Handler) deleteGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	force := r.URL.Query().Get("force") == "true"
	if err := h.groups.DeleteGroup(r.Context(), id, force, h.callerTenant(r)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type permissionGrantResponse struct {
	PermissionID uuid.UUID       `json:"permission_id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Effect       Effect          `json:"effect"`
	Conditions   json.RawMessage `json:"conditions,omitempty"`
	GroupID      uuid.UUID       `json:"group_id"`
}

func toGrantResponses(grants []PermissionGrant) []permissionGrantResponse {
	out := make([]permissionGrantResponse, len(grants))
	for i, g := range grants {
		out[i] = permissionGrantResponse{
			PermissionID: g.Permission.ID,
			Code:         g.Permission.Code.String(),
			Name:         g.Permission.Name,
			Effect:       g.Effect,
			Conditions:   g.Conditions,
			GroupID:      g.GroupID,
		}
	}
	return out
}

func (h *Handler) listGroupPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	grants, err := h.grants.ListGroupPermissions(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toGrantResponses(grants))
}

type addPermissionRequest struct {
	Code       string          `json:"code" validate:"required"`
	Effect     string          `json:"effect" validate:"required,oneof=allow deny"`
	Conditions json.RawMessage `json:"conditions"`
}

func (h *Handler) addPermissionToGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req addPermissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	effect, err := ParseEffect(req.Effect)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.grants.AddPermissionToGroup(r.Context(), id, req.Code, effect, req.Conditions); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removePermissionFromGroup(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	permissionID, ok := h.pathID(w, r, "permissionID")
	if !ok {
		return
	}
	if err := h.grants.RemovePermissionFromGroup(r.Context(), groupID, permissionID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type permissionResponse struct {
	ID          uuid.UUID      `json:"id"`
	Code        string         `json:"code"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Module      string         `json:"module"`
	Resource    string         `json:"resource"`
	Action      string         `json:"action"`
	IsSystem    bool           `json:"is_system"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func toPermissionResponse(p Permission) permissionResponse {
	return permissionResponse{
		ID:          p.ID,
		Code:        p.Code.String(),
		Name:        p.Name,
		Description: p.Description,
		Module:      p.Module,
		Resource:    p.Resource,
		Action:      p.Action,
		IsSystem:    p.IsSystem,
		Metadata:    p.Metadata,
	}
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, perPage := parsePaging(q.Get("page"), q.Get("limit"))
	filters := PermissionFilters{
		Module:   q.Get("module"),
		Resource: q.Get("resource"),
		Search:   q.Get("search"),
		Limit:    perPage,
		Offset:   (page - 1) * perPage,
	}
	perms, total, err := h.catalog.ListPermissions(r.Context(), filters)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]permissionResponse, len(perms))
	for i, p := range perms {
		out[i] = toPermissionResponse(p)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"permissions": out,
		"pagination":  shared.NewPagination(page, perPage, total),
	})
}

type createPermissionRequest struct {
	Code        string         `json:"code" validate:"required"`
	Name        string         `json:"name" validate:"required,min=2,max=120"`
	Description string         `json:"description" validate:"max=500"`
	Metadata    map[string]any `json:"metadata"`
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	perm, err := h.catalog.CreatePermission(r.Context(), CreatePermissionInput{
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPermissionResponse(perm))
}

type updatePermissionRequest struct {
	Name        *string        `json:"name" validate:"omitempty,min=2,max=120"`
	Description *string        `json:"description" validate:"omitempty,max=500"`
	Metadata    map[string]any `json:"metadata"`
}

func (h *Handler) updatePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req updatePermissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	perm, err := h.catalog.UpdatePermission(r.Context(), id, UpdatePermissionInput{
		Name:        req.Name,
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPermissionResponse(perm))
}

func (h *Handler) deletePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.catalog.DeletePermission(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assignedGroupResponse struct {
	Group     groupResponse `json:"group"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
	GrantedBy *uuid.UUID    `json:"granted_by,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

func (h *Handler) listUserGroups(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	q := r.URL.Query()
	assigned, err := h.grants.ListUserGroups(r.Context(), userID,
		q.Get("include_expired") == "true", q.Get("include_inactive") == "true")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]assignedGroupResponse, len(assigned))
	for i, a := range assigned {
		out[i] = assignedGroupResponse{
			Group:     toGroupResponse(a.Group),
			ExpiresAt: a.ExpiresAt,
			GrantedBy: a.GrantedBy,
			CreatedAt: a.CreatedAt,
		}
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) listUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	grants, err := h.grants.ListUserPermissions(r.Context(), userID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toGrantResponses(grants))
}

func (h *Handler) listUserPermissionCodes(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	codes, err := h.engine.UserPermissionCodes(r.Context(), userID)
	if err != nil {
		h.logger.Error("list user permission codes", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"codes": codes})
}

type assignGroupRequest struct {
	GroupID   uuid.UUID  `json:"group_id" validate:"required"`
	ExpiresAt *time.Time `json:"expires_at"`
	GrantedBy *uuid.UUID `json:"granted_by"`
}

func (h *Handler) assignGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req assignGroupRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.grants.AssignGroupToUser(r.Context(), AssignGroupInput{
		UserID:    userID,
		GroupID:   req.GroupID,
		ExpiresAt: req.ExpiresAt,
		GrantedBy: req.GrantedBy,
		TenantID:  h.callerTenant(r),
	}); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	groupID, ok := h.pathID(w, r, "groupID")
	if !ok {
		return
	}
	if err := h.grants.RemoveGroupFromUser(r.Context(), userID, groupID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type checkRequestBody struct {
	Code       string `json:"code" validate:"required"`
	Resource   string `json:"resource"`
	ResourceID string `json:"resource_id"`
	Action     string `json:"action"`
}

// check lets an authenticated caller probe its own access. The answer
// is audited like any other check.
func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "no caller identity")
		return
	}
	var req checkRequestBody
	if !h.decode(w, r, &req) {
		return
	}
	decision := h.engine.CheckPermission(r.Context(), CheckRequest{
		UserID:     identity.UserID,
		Code:       req.Code,
		Resource:   req.Resource,
		ResourceID: req.ResourceID,
		Action:     req.Action,
		IP:         r.RemoteAddr,
		UserAgent:  r.UserAgent(),
		Endpoint:   r.Method + " " + r.URL.Path,
	})
	httpx.JSON(w, http.StatusOK, decision)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) callerTenant(r *http.Request) uuid.UUID {
	if identity, ok := shared.IdentityFromContext(r.Context()); ok {
		return identity.TenantID
	}
	return uuid.Nil
}

func parsePaging(pageStr, limitStr string) (page, perPage int) {
	page, perPage = 1, shared.DefaultPerPage
	if v, err := strconv.Atoi(pageStr); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(limitStr); err == nil && v > 0 && v <= shared.MaxPerPage {
		perPage = v
	}
	return page, perPage
}
