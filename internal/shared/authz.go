package shared

// Permissions guarding the engine's own API surface, expressed as
// "resource:action" references resolved at organization scope.
const (
	PermRolesView   = "roles:read"
	PermRolesCreate = "roles:create"
	PermRolesEdit   = "roles:update"
	PermRolesDelete = "roles:delete"

	PermAssignmentsView   = "assignments:read"
	PermAssignmentsCreate = "assignments:create"
	PermAssignmentsRevoke = "assignments:update"
	PermAssignmentsImport = "assignments:import"

	PermPermissionsView = "permissions:read"

	PermAuditView   = "audit:read"
	PermAuditExport = "audit:export"
)

// CoreScopes lists all permissions guarding the engine surface.
func CoreScopes() []string {
	return []string{
		PermRolesView,
		PermRolesCreate,
		PermRolesEdit,
		PermRolesDelete,
		PermAssignmentsView,
		PermAssignmentsCreate,
		PermAssignmentsRevoke,
		PermAssignmentsImport,
		PermPermissionsView,
		PermAuditView,
		PermAuditExport,
	}
}
