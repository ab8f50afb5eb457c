// Package authz holds the static permission matrix and the pure authorization
// decision function. Nothing in this package performs I/O.
package authz

// Role is an actor category, assigned externally and immutable per session.
type Role string

const (
	RoleSuperAdmin     Role = "SUPER_ADMIN"
	RoleCorporateAdmin Role = "CORPORATE_ADMIN"
	RoleManagement     Role = "MANAGEMENT"
	RoleFinance        Role = "FINANCE"
	RoleHR             Role = "HR"
	RoleEmployee       Role = "EMPLOYEE"
	RolePropertyOwner  Role = "PROPERTY_OWNER"
	RoleOwnerDeputy    Role = "OWNER_DEPUTY"
	RoleTechnician     Role = "TECHNICIAN"
	RoleTenant         Role = "TENANT"
	RoleVendor         Role = "VENDOR"
	RoleGuest          Role = "GUEST"
)

// AllRoles lists every role the matrix must define.
var AllRoles = []Role{
	RoleSuperAdmin, RoleCorporateAdmin, RoleManagement, RoleFinance, RoleHR,
	RoleEmployee, RolePropertyOwner, RoleOwnerDeputy, RoleTechnician,
	RoleTenant, RoleVendor, RoleGuest,
}

// Plan is an organization's subscription tier.
type Plan string

const (
	PlanStarter    Plan = "STARTER"
	PlanStandard   Plan = "STANDARD"
	PlanPro        Plan = "PRO"
	PlanEnterprise Plan = "ENTERPRISE"
)

// AllPlans lists every plan the matrix must define.
var AllPlans = []Plan{PlanStarter, PlanStandard, PlanPro, PlanEnterprise}

// Module is a named functional area.
type Module string

const (
	ModuleWorkOrderCreate       Module = "work_order_create"
	ModuleWorkOrderTracking     Module = "work_order_tracking"
	ModulePreventiveMaintenance Module = "preventive_maintenance"
	ModulePropertyListing       Module = "property_listing"
	ModuleUnitManagement        Module = "unit_management"
	ModuleLeaseManagement       Module = "lease_management"
	ModuleInspections           Module = "inspections"
	ModuleDocuments             Module = "documents"
)

// AllModules lists every module the matrix must define.
var AllModules = []Module{
	ModuleWorkOrderCreate, ModuleWorkOrderTracking, ModulePreventiveMaintenance,
	ModulePropertyListing, ModuleUnitManagement, ModuleLeaseManagement,
	ModuleInspections, ModuleDocuments,
}

// Action is one operation on a module.
type Action string

const (
	ActionView           Action = "view"
	ActionCreate         Action = "create"
	ActionUpdate         Action = "update"
	ActionDelete         Action = "delete"
	ActionApprove        Action = "approve"
	ActionReject         Action = "reject"
	ActionAssign         Action = "assign"
	ActionUploadEvidence Action = "upload_evidence"
	ActionExport         Action = "export"
	ActionComment        Action = "comment"
)

// Actor is the already-verified caller identity.
type Actor struct {
	ID             string
	Role           Role
	OrganizationID string
}

// ResourceContext describes the target of an action for attribute checks.
type ResourceContext struct {
	OrganizationID string
	PropertyID     string
	OwnerID        string
	State          string
}
