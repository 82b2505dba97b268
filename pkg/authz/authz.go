// Package authz implements Trinity's Authorization component: a closed
// permission/role model and a service that turns (identity, permission,
// resource) into an allow/deny decision. Grounded on the teacher's
// pkg/api/auth.go (X-Forwarded-User/X-Forwarded-Email header-derived
// identity), extended here with the role/permission table the teacher
// never needed for its single-tenant alert UI.
package authz

// Permission is one action an identity may be authorized to perform.
type Permission string

const (
	PermProcessCreate  Permission = "process:create"
	PermProcessRead    Permission = "process:read"
	PermProcessUpdate  Permission = "process:update"
	PermProcessDelete  Permission = "process:delete"
	PermProcessPublish Permission = "process:publish"

	PermExecutionTrigger Permission = "execution:trigger"
	PermExecutionView    Permission = "execution:view"
	PermExecutionCancel  Permission = "execution:cancel"
	PermExecutionRetry   Permission = "execution:retry"

	PermApprovalDecide   Permission = "approval:decide"
	PermApprovalDelegate Permission = "approval:delegate"

	PermAdminViewAll      Permission = "admin:view_all"
	PermAdminManageLimits Permission = "admin:manage_limits"
)

// Role is a predefined bundle of permissions.
type Role string

const (
	RoleDesigner Role = "designer"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
	RoleApprover Role = "approver"
	RoleAdmin    Role = "admin"
)

// scopeRestricted permissions are never granted unconditionally; the
// grantor must additionally satisfy ResourceRef-specific scope checks
// even when the role otherwise carries the permission.
var scopeRestricted = map[Role]map[Permission]bool{
	RoleViewer: {
		PermProcessRead:   true,
		PermExecutionView: true,
	},
	RoleApprover: {
		PermApprovalDecide: true,
	},
}

// rolePermissions is the fixed permission set for each role. A permission
// present here but also in scopeRestricted[role] is granted only when the
// scope check in Check also passes.
var rolePermissions = map[Role]map[Permission]bool{
	RoleDesigner: {
		PermProcessCreate: true, PermProcessRead: true, PermProcessUpdate: true,
		PermProcessDelete: true, PermProcessPublish: true,
		PermExecutionView: true,
	},
	RoleOperator: {
		PermProcessCreate: true, PermProcessRead: true, PermProcessUpdate: true,
		PermProcessDelete: true, PermProcessPublish: true,
		PermExecutionTrigger: true, PermExecutionView: true,
		PermExecutionCancel: true, PermExecutionRetry: true,
	},
	RoleViewer: {
		PermProcessRead: true, PermExecutionView: true,
	},
	RoleApprover: {
		PermExecutionView: true, PermApprovalDecide: true, PermApprovalDelegate: true,
	},
	RoleAdmin: {
		PermProcessCreate: true, PermProcessRead: true, PermProcessUpdate: true,
		PermProcessDelete: true, PermProcessPublish: true,
		PermExecutionTrigger: true, PermExecutionView: true, PermExecutionCancel: true, PermExecutionRetry: true,
		PermApprovalDecide: true, PermApprovalDelegate: true,
		PermAdminViewAll: true, PermAdminManageLimits: true,
	},
}

// Identity is the caller of an authorized operation. UserID and Team are
// extracted from request headers by pkg/api's auth middleware, the same
// way the teacher derives an author from X-Forwarded-User/-Email.
type Identity struct {
	UserID string
	Team   string
	Roles  []Role
}

// HasRole reports whether identity carries role.
func (id Identity) HasRole(role Role) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ResourceRef carries the ownership/scope facts a Check call needs to
// evaluate a scope-restricted permission. Fields irrelevant to the
// permission being checked may be left zero.
type ResourceRef struct {
	OwnerUser string
	OwnerTeam string
	Approvers []string
}

func (r ResourceRef) viewableBy(id Identity) bool {
	if r.OwnerUser != "" && r.OwnerUser == id.UserID {
		return true
	}
	if r.OwnerTeam != "" && r.OwnerTeam == id.Team {
		return true
	}
	return false
}

func (r ResourceRef) approvableBy(id Identity) bool {
	for _, a := range r.Approvers {
		if a == id.UserID {
			return true
		}
	}
	return false
}

// Decision is the result of an authorization check.
type Decision struct {
	Allowed bool
	Reason  string
	Scope   string
}

// Service is Trinity's AuthorizationService.
type Service struct{}

// New returns an authorization service over the fixed role/permission
// table.
func New() *Service { return &Service{} }

// Check evaluates whether identity may perform perm against ref.
// RoleAdmin always satisfies scope restrictions via admin:view_all.
func (s *Service) Check(identity Identity, perm Permission, ref ResourceRef) Decision {
	if identity.HasRole(RoleAdmin) {
		if rolePermissions[RoleAdmin][perm] {
			return Decision{Allowed: true, Reason: "admin"}
		}
	}

	for _, role := range identity.Roles {
		if !rolePermissions[role][perm] {
			continue
		}
		if !scopeRestricted[role][perm] {
			return Decision{Allowed: true, Reason: "role " + string(role) + " grants " + string(perm)}
		}
		switch role {
		case RoleViewer:
			if ref.viewableBy(identity) {
				return Decision{Allowed: true, Reason: "viewer scoped to own resources", Scope: "own"}
			}
		case RoleApprover:
			if ref.approvableBy(identity) {
				return Decision{Allowed: true, Reason: "approver scoped to assigned steps", Scope: "assigned"}
			}
		}
	}

	return Decision{Allowed: false, Reason: "no role held by identity grants " + string(perm) + " for this resource"}
}
