package auth

const (
	PermPermissionView = "Permission.View"

	PermRoleView              = "Role.View"
	PermRoleCreate            = "Role.Create"
	PermRoleUpdate            = "Role.Update"
	PermRoleDelete            = "Role.Delete"
	PermRoleChangePermissions = "Role.ChangePermissions"

	PermUserView        = "User.View"
	PermUserCreate      = "User.Create"
	PermUserUpdate      = "User.Update"
	PermUserDelete      = "User.Delete"
	PermUserChangeRoles = "User.ChangeRoles"

	PermProfileView   = "Profile.View"
	PermProfileUpdate = "Profile.Update"
)

const (
	groupAdmin   = "Admin"
	groupProfile = "Profile"
)

var defaultCatalog = MustCatalog(
	Define(groupAdmin, "Administration",
		Define("Admin.Permissions", "Permissions",
			Define(PermPermissionView, "View permissions"),
		),
		Define("Admin.Roles", "Roles",
			Define(PermRoleView, "View roles"),
			Define(PermRoleCreate, "Create roles"),
			Define(PermRoleUpdate, "Update roles"),
			Define(PermRoleDelete, "Delete roles"),
			Define(PermRoleChangePermissions, "Change role permissions"),
		),
		Define("Admin.Users", "Users",
			Define(PermUserView, "View users"),
			Define(PermUserCreate, "Create users"),
			Define(PermUserUpdate, "Update users"),
			Define(PermUserDelete, "Delete users"),
			Define(PermUserChangeRoles, "Change user roles"),
		),
	),
	Define(groupProfile, "Profile",
		Define(PermProfileView, "View own profile"),
		Define(PermProfileUpdate, "Update own profile"),
	),
)

// DefaultCatalog returns the permission tree shipped with the service.
func DefaultCatalog() *Catalog { return defaultCatalog }
