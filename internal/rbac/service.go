package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/meridian-erp/meridian-erp/internal/observability"
)

// Service is the authorization engine: it builds effective permission
// maps (with group hierarchy), matches wildcards, applies deny
// precedence, caches per user, and audits every decision.
//
// CheckPermission never returns an error and never panics through: any
// internal failure becomes a denied decision plus an audit record.
type Service struct {
	users      UsersPort
	groups     GroupsRepository
	groupPerms GroupPermissionsRepository
	userGroups UserGroupsRepository
	audit      AuditRepository
	cache      PermissionCache
	logger     *slog.Logger
	metrics    *observability.Metrics
	rebuild    singleflight.Group
	now        func() time.Time
}

// ServiceDeps groups the engine's collaborators.
type ServiceDeps struct {
	Users      UsersPort
	Groups     GroupsRepository
	GroupPerms GroupPermissionsRepository
	UserGroups UserGroupsRepository
	Audit      AuditRepository
	Cache      PermissionCache
	Logger     *slog.Logger
	Metrics    *observability.Metrics
}

// NewService constructs the engine.
func NewService(deps ServiceDeps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cache := deps.Cache
	if cache == nil {
		cache = NewMemoryCache(DefaultCacheTTL)
	}
	return &Service{
		users:      deps.Users,
		groups:     deps.Groups,
		groupPerms: deps.GroupPerms,
		userGroups: deps.UserGroups,
		audit:      deps.Audit,
		cache:      cache,
		logger:     logger,
		metrics:    deps.Metrics,
		now:        time.Now,
	}
}

// CheckPermission answers one authorization question. Exactly one
// audit record is written per call, on every path; an audit-write
// failure is logged and swallowed so availability never depends on the
// audit store.
func (s *Service) CheckPermission(ctx context.Context, req CheckRequest) Decision {
	decision, auditReason := s.decide(ctx, req)

	outcome := "deny"
	switch {
	case decision.Allowed:
		outcome = "allow"
	case decision.Reason == ReasonError:
		outcome = "error"
	}
	s.metrics.ObserveDecision(outcome)

	entry := AuditEntry{
		ID:         uuid.New(),
		UserID:     req.UserID,
		Code:       req.Code,
		Allowed:    decision.Allowed,
		Reason:     auditReason,
		Resource:   req.Resource,
		ResourceID: req.ResourceID,
		Action:     req.Action,
		IP:         req.IP,
		UserAgent:  req.UserAgent,
		Endpoint:   req.Endpoint,
		CheckedAt:  s.now(),
	}
	if err := s.audit.Log(ctx, entry); err != nil {
		s.logger.Error("write permission audit",
			slog.String("user_id", req.UserID.String()),
			slog.String("code", req.Code),
			slog.Any("error", err))
	}
	return decision
}

// decide runs the algorithm and recovers from anything unexpected. The
// second return value is the audit reason, which carries error detail
// the caller-facing reason omits.
func (s *Service) decide(ctx context.Context, req CheckRequest) (decision Decision, auditReason string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("permission check panic", slog.Any("panic", r))
			decision = Decision{Allowed: false, Reason: ReasonError}
			auditReason = fmt.Sprintf("%s: panic: %v", ReasonError, r)
		}
	}()

	code, err := ParseCode(req.Code)
	if err != nil {
		return Decision{Allowed: false, Reason: ReasonError}, fmt.Sprintf("%s: %v", ReasonError, err)
	}

	pm, err := s.effectiveMap(ctx, req.UserID)
	if err != nil {
		return Decision{Allowed: false, Reason: ReasonError}, fmt.Sprintf("%s: %v", ReasonError, err)
	}

	var aggregate []Entry
	for pattern, entries := range pm {
		if Matches(code, pattern) {
			aggregate = append(aggregate, entries...)
		}
	}

	switch {
	case len(aggregate) == 0:
		return Decision{Allowed: false, Reason: ReasonNoMatch}, ReasonNoMatch
	case anyDeny(aggregate):
		return Decision{Allowed: false, Reason: ReasonDenied}, ReasonDenied
	default:
		return Decision{Allowed: true, Reason: ReasonAllowed}, ReasonAllowed
	}
}

func anyDeny(entries []Entry) bool {
	for _, e := range entries {
		if e.Effect.IsDeny() {
			return true
		}
	}
	return false
}

// HasPermission is a thin wrapper over CheckPermission.
func (s *Service) HasPermission(ctx context.Context, userID uuid.UUID, code string) bool {
	return s.CheckPermission(ctx, CheckRequest{UserID: userID, Code: code}).Allowed
}

// UserPermissionCodes collapses the user's effective map into a flat,
// sorted capability list: codes with at least one allow and no deny.
func (s *Service) UserPermissionCodes(ctx context.Context, userID uuid.UUID) ([]string, error) {
	pm, err := s.effectiveMap(ctx, userID)
	if err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(pm))
	for code, entries := range pm {
		allow, deny := false, false
		for _, e := range entries {
			if e.Effect.IsDeny() {
				deny = true
				break
			}
			allow = true
		}
		if allow && !deny {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes, nil
}

// InvalidateUserCache drops one user's cached map. Writers of group,
// permission or assignment data call this after mutations with a known
// affected user.
func (s *Service) InvalidateUserCache(ctx context.Context, userID uuid.UUID) {
	s.cache.Invalidate(ctx, userID)
}

// ClearCache drops every cached map. Used after mutations whose
// affected user set is unknown (group edits, cascades).
func (s *Service) ClearCache(ctx context.Context) {
	s.cache.Clear(ctx)
}

// effectiveMap returns the cached map or rebuilds it. Concurrent
// rebuilds for one user are collapsed via singleflight; racing
// populates are benign since both compute from the same backing data.
func (s *Service) effectiveMap(ctx context.Context, userID uuid.UUID) (PermissionMap, error) {
	if pm, ok := s.cache.Get(ctx, userID); ok {
		s.metrics.ObserveCacheLookup(true)
		return pm, nil
	}
	s.metrics.ObserveCacheLookup(false)

	v, err, _ := s.rebuild.Do(userID.String(), func() (any, error) {
		pm, err := s.buildMap(ctx, userID)
		if err != nil {
			return nil, err
		}
		s.cache.Set(ctx, userID, pm)
		return pm, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(PermissionMap), nil
}

// buildMap computes the effective permission map from scratch: the
// user's active assignments, each assigned group plus all usable
// ancestors, then every code/effect those groups carry.
func (s *Service) buildMap(ctx context.Context, userID uuid.UUID) (PermissionMap, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: resolve user: %w", err)
	}
	if user.IsBlocked {
		// Blocked users keep assignments but hold no effective permissions.
		return PermissionMap{}, nil
	}

	assignments, err := s.userGroups.ListActiveByUserID(ctx, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("rbac: list assignments: %w", err)
	}

	visited := make(map[uuid.UUID]bool)
	var groupIDs []uuid.UUID
	for _, a := range assignments {
		ids, err := s.selfAndAncestors(ctx, a.GroupID, visited)
		if err != nil {
			return nil, err
		}
		groupIDs = append(groupIDs, ids...)
	}
	if len(groupIDs) == 0 {
		return PermissionMap{}, nil
	}

	grants, err := s.groupPerms.ListEffectsByGroupIDs(ctx, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("rbac: list grants: %w", err)
	}

	pm := make(PermissionMap, len(grants))
	for _, g := range grants {
		pm[g.Code] = append(pm[g.Code], Entry{Effect: g.Effect, GroupID: g.GroupID})
	}
	return pm, nil
}

// selfAndAncestors walks the parent chain starting at groupID,
// skipping unusable groups and anything already visited. The visited
// set doubles as cycle protection: a corrupted parent chain terminates
// instead of looping.
func (s *Service) selfAndAncestors(ctx context.Context, groupID uuid.UUID, visited map[uuid.UUID]bool) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	next := &groupID
	for next != nil && !visited[*next] {
		visited[*next] = true
		group, err := s.groups.FindByID(ctx, *next)
		if err != nil {
			return nil, fmt.Errorf("rbac: resolve group %s: %w", *next, err)
		}
		if group.Usable() {
			ids = append(ids, group.ID)
		}
		next = group.ParentID
	}
	return ids, nil
}
