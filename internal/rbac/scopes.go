package rbac

// Codes guarding the access-control administration surface itself.
const (
	PermGroupsView   = "admin.permission-groups.read"
	PermGroupsManage = "admin.permission-groups.manage"

	PermCatalogView   = "admin.permissions.read"
	PermCatalogManage = "admin.permissions.manage"

	PermAssignmentsView   = "admin.user-groups.read"
	PermAssignmentsManage = "admin.user-groups.manage"

	PermAuditView = "admin.permission-audit.read"

	PermUsersView   = "admin.users.read"
	PermUsersManage = "admin.users.manage"

	PermJobsManage = "admin.jobs.manage"
)

// AdminScopes lists every administration permission for seeding.
func AdminScopes() []string {
	return []string{
		PermGroupsView,
		PermGroupsManage,
		PermCatalogView,
		PermCatalogManage,
		PermAssignmentsView,
		PermAssignmentsManage,
		PermAuditView,
		PermUsersView,
		PermUsersManage,
		PermJobsManage,
	}
}
