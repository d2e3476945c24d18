package rbac

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckPermissionNoMatch(t *testing.T) {
	f := newFixture()
	userID := f.addUser(false)
	groupID := f.addGroup("Clerks")
	f.assign(userID, groupID, nil)
	f.grant(groupID, "sales.orders.read", EffectAllow)
	svc := f.newEngine()

	d := svc.CheckPermission(context.Background(), CheckRequest{UserID: userID, Code: "stock.products.read"})

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNoMatch, d.Reason)
}

func TestCheckPermissionAllow(t *testing.T) {
	f := newFixture()
	userID := f.addUser(false)
	groupID := f.addGroup("Clerks")
	f.assign(userID, groupID, nil)
	f.grant(groupID, "stock.products.read", EffectAllow)
	svc := f.newEngine()

	d := svc.CheckPermission(context.Background(), CheckRequest{UserID: userID, Code: "stock.products.read"})

	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonAllowed, d.Reason)
}

// A deny on the exact code overrides a wildcard allow covering it, no
// matter which group contributes which.
func TestCheckPermissionDenyOverridesWildcardAllow(t *testing.T) {
	f := newFixture()
	userID := f.addUser(false)
	readers := f.addGroup("Stock Readers")
	restricted := f.addGroup("Restricted")
	f.assign(userID, readers, nil)
	f.grant(readers, "stock.*.read", EffectAllow)
	svc := f.newEngine()

	d := svc.CheckPermission(context.Background(), CheckRequest{UserID: userID, Code: "stock.products.read"})
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonAllowed, d.Reason)

	// A targeted deny arriving through a second group flips the verdict.
	f.assign(userID, restricted, nil)
	f.grant(restricted, "stock.products.read", EffectDeny)
	svc.InvalidateUserCache(context.Background(), userID)

	d = svc.CheckPermission(context.Background(), CheckRequest{UserID: userID, Code: "stock.products.read"})
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDenied, d.Reason)

	// Sibling resources are untouched by the targeted deny.
	d = svc.CheckPermission(context.Background(), CheckRequest{UserID: userID, Code: "stock.warehouses.read"})
	assert.True(t, d.Allowed)
}

func TestCheckPermissionFullWildcard(t *testing.T) {
	f := newFixture()
	userID := f.addUser(false)
	admins := f.addGroup("Super Admins")
	f.assign(userID, admins, nil)
	f.grant(admins, "*.*.*", EffectAllow)
	svc := f.newEngine()

	for _, code := range []string{"stock.products.read", "hr.payroll.approve", "sales.orders.delete"} {
		d := svc.CheckPermission(context.Background(), CheckRequest{UserID: userID, Code: code})
		assert.True(t, d.Allowed, code)
	}
}

func TestCheckPermissionInheritsFromGrandparent(t *testing.T) {
	f := newFixture()
	userID := f.addUser(false)
	root := f.addGroup("All Staff")
	mid := f.addGroup("Warehouse", withParent(root))
	leaf := f.addGroup("Warehouse Night Shift", withParent(mid))
	f.assign(userID, leaf, nil)
	f.grant(root, "stock.products.read", EffectAllow)
	svc := f.newEngine()

	d := svc.CheckPermission(context.Background(), CheckRequest{UserID: userID, Code: "stock.products.read"})
	assert.True(t, d.Allowed)
}

// An inactive ancestor contributes nothing, but the chain still walks
// through it to ancestors above.
func TestCheckPermissionSkipsInactiveAncestor(t *testing.T) {
	f := newFixture()
	userID := f.addUser(false)
	root := f.addGroup("All Staff")
	mid := f.addGroup("Suspended Tier", withParent(root), asInactive())
	leaf := f.addGroup("Leaf", withParent(mid))
	f.assign(userID, leaf, nil)
	f.grant(mid, "stock.products.read", EffectAllow)
	f.grant(root, "sales.orders.read", EffectAllow)
	svc := f.newEngine()

	d := svc.CheckPermission(context.Background(), CheckRequest{UserID: userID, Code: "stock.products.read"})
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNoMatch, d.Reason)

	d = svc.CheckPermission(context.Background(), CheckRequest{UserID: userID, Code: "sales.orders.read"})
	assert.True(t, d.Allowed)
}

func TestCheckPermissionCyclicParentChainTerminates(t *testing.T) {
	f := newFixture()
	userID := f.addUser(false)
	a := f.addGroup("A")
	b := f.addGroup("B", withParent(a))
	// Corrupt the graph: a's parent is its own descendant.
	ga := f.groups[a]
	ga.ParentID = &b
	f.groups[a] = ga
	f.assign(userID, b, nil)
	f.grant(a, "stock.products.read", EffectAllow)
	svc := f.newEngine()

	d := svc.CheckPermission(context.Background(), CheckRequest{UserID: userID, Code: "stock.products.read"})
	assert.True(t, d.Allowed)
}

func TestCheckPermissionBlockedUser(t *testing.T) {
	f := newFixture()
	userID := f.addUser(true)
	groupID := f.addGroup("Clerks")
	f.assign(userID, groupID, nil)
	f.grant(groupID, "stock.products.read", EffectAllow)
	svc := f.newEngine()

	d := svc.CheckPermission(context.Background(), CheckRequest{UserID: userID, Code: "stock.products.read"})
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNoMatch, d.Reason)
}

func TestCheckPermissionExpiredAssignment(t *testing.T) {
	f := newFixture()
	userID := f.addUser(false)
	groupID := f.addGroup("Clerks")
	past := time.Now().Add(-time.Hour)
	f.assign(userID, groupID, &past)
	f.grant(groupID, "stock.products.read", EffectAllow)
	svc := f.newEngine()

	d := svc.CheckPermission(context.Background(), CheckRequest{UserID: userID, Code: "stock.products.read"})
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNoMatch, d.Reason)
}

func TestCheckPermissionMalformedCode(t *testing.T) {
	f := newFixture()
	userID := f.addUser(false)
	svc := f.newEngine()

	d := svc.CheckPermission(context.Background(), CheckRequest{UserID: userID, Code: "stock.read"})
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonError, d.Reason)

	require.Len(t, f.audit, 1)
	assert.True(t, strings.HasPrefix(f.audit[0].Reason, ReasonError+": "))
}

func TestCheckPermissionFailsClosedOnRepositoryError(t *testing.T) {
	f := newFixture()
	userID := f.addUser(false)
	f.listActiveErr = errors.New("connection refused")
	svc := f.newEngine()

	d := svc.CheckPermission(context.Background(), CheckRequest{UserID: userID, Code: "stock.products.read"})
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonError, d.Reason)
}

func TestCheckPermissionAuditsEveryDecision(t *testing.T) {
	f := newFixture()
	userID := f.addUser(false)
	groupID := f.addGroup("Clerks")
	f.assign(userID, groupID, nil)
	f.grant(groupID, "stock.products.read", EffectAllow)
	f.grant(groupID, "hr.payroll.approve", EffectDeny)
	svc := f.newEngine()

	svc.CheckPermission(context.Background(), CheckRequest{
		UserID:    userID,
		Code:      "stock.products.read",
		IP:        "10.0.0.7",
		UserAgent: "erp-cli/1.4",
		Endpoint:  "GET /api/v1/products",
	})
	svc.CheckPermission(context.Background(), CheckRequest{UserID: userID, Code: "hr.payroll.approve"})
	svc.CheckPermission(context.Background(), CheckRequest{UserID: userID, Code: "sales.orders.read"})

	require.Len(t, f.audit, 3)
	assert.True(t, f.audit[0].Allowed)
	assert.Equal(t, ReasonAllowed, f.audit[0].Reason)
	assert.Equal(t, "10.0.0.7", f.audit[0].IP)
	assert.Equal(t, "GET /api/v1/products", f.audit[0].Endpoint)
	assert.Equal(t, ReasonDenied, f.audit[1].Reason)
	assert.Equal(t, ReasonNoMatch, f.audit[2].Reason)
}

// An audit store failure must not change the decision.
func TestCheckPermissionSwallowsAuditFailure(t *testing.T) {
	f := newFixture()
	userID := f.addUser(false)
	groupID := f.addGroup("Clerks")
	f.assign(userID, groupID, nil)
	f.grant(groupID, "stock.products.read", EffectAllow)
	f.auditErr = errors.New("audit store down")
	svc := f.newEngine()

	d := svc.CheckPermission(context.Background(), CheckRequest{UserID: userID, Code: "stock.products.read"})
	assert.True(t, d.Allowed)
	assert.Empty(t, f.audit)
}

func TestCheckPermissionUsesCache(t *testing.T) {
	f := newFixture()
	userID := f.addUser(false)
	groupID := f.addGroup("Clerks")
	f.assign(userID, groupID, nil)
	f.grant(groupID, "stock.products.read", EffectAllow)
	svc := f.newEngine()

	for i := 0; i < 5; i++ {
		svc.CheckPermission(context.Background(), CheckRequest{UserID: userID, Code: "stock.products.read"})
	}
	assert.Equal(t, 1, f.listActiveCalls)

	svc.InvalidateUserCache(context.Background(), userID)
	svc.CheckPermission(context.Background(), CheckRequest{UserID: userID, Code: "stock.products.read"})
	assert.Equal(t, 2, f.listActiveCalls)
}

func TestClearCacheDropsAllUsers(t *testing.T) {
	f := newFixture()
	alice := f.addUser(false)
	bob := f.addUser(false)
	groupID := f.addGroup("Clerks")
	f.assign(alice, groupID, nil)
	f.assign(bob, groupID, nil)
	f.grant(groupID, "stock.products.read", EffectAllow)
	svc := f.newEngine()

	svc.CheckPermission(context.Background(), CheckRequest{UserID: alice, Code: "stock.products.read"})
	svc.CheckPermission(context.Background(), CheckRequest{UserID: bob, Code: "stock.products.read"})
	require.Equal(t, 2, f.listActiveCalls)

	svc.ClearCache(context.Background())
	svc.CheckPermission(context.Background(), CheckRequest{UserID: alice, Code: "stock.products.read"})
	svc.CheckPermission(context.Background(), CheckRequest{UserID: bob, Code: "stock.products.read"})
	assert.Equal(t, 4, f.listActiveCalls)
}

func TestHasPermission(t *testing.T) {
	f := newFixture()
	userID := f.addUser(false)
	groupID := f.addGroup("Clerks")
	f.assign(userID, groupID, nil)
	f.grant(groupID, "stock.products.read", EffectAllow)
	svc := f.newEngine()

	assert.True(t, svc.HasPermission(context.Background(), userID, "stock.products.read"))
	assert.False(t, svc.HasPermission(context.Background(), userID, "stock.products.write"))
	// Each HasPermission call still leaves an audit record.
	assert.Len(t, f.audit, 2)
}

func TestUserPermissionCodes(t *testing.T) {
	f := newFixture()
	userID := f.addUser(false)
	groupID := f.addGroup("Clerks")
	other := f.addGroup("Restricted")
	f.assign(userID, groupID, nil)
	f.assign(userID, other, nil)
	f.grant(groupID, "stock.products.read", EffectAllow)
	f.grant(groupID, "sales.orders.read", EffectAllow)
	f.grant(groupID, "hr.payroll.approve", EffectAllow)
	f.grant(other, "hr.payroll.approve", EffectDeny)
	f.grant(other, "hr.payroll.export", EffectDeny)
	svc := f.newEngine()

	codes, err := svc.UserPermissionCodes(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, []string{"sales.orders.read", "stock.products.read"}, codes)
}

func TestUserPermissionCodesUnknownUser(t *testing.T) {
	f := newFixture()
	svc := f.newEngine()

	_, err := svc.UserPermissionCodes(context.Background(), uuid.New())
	require.Error(t, err)
}
