package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
//
// Roles map to the contractor-facing portals:
// - owner: company owner, full workspace control
// - office: office staff, runs the phones and the job board
// - sales: estimators/reps in the field, may place and take calls
// - crew: crew portal users, read-mostly
// - super_admin: platform operator (cross-workspace)
const (
	RoleOwner      = "owner"
	RoleOffice     = "office"
	RoleSales      = "sales"
	RoleCrew       = "crew"
	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }
