package api

import (
	"github.com/trinity-run/trinity/pkg/authz"
	"github.com/trinity-run/trinity/pkg/events"
)

// wsAccessChecker adapts authz.Service to events.AccessChecker, so the
// ConnectionManager's broadcast filter (per-event, per-connection) uses
// the same role/permission table as the REST surface rather than a
// separate visibility rule.
type wsAccessChecker struct {
	authz *authz.Service
}

// NewAccessChecker returns an events.AccessChecker backed by authzSvc.
func NewAccessChecker(authzSvc *authz.Service) events.AccessChecker {
	return &wsAccessChecker{authz: authzSvc}
}

// CanView reports whether identity may observe events for the given
// execution's owning team. Only OwnerTeam is known at broadcast time, so
// a viewer sees events of its own team's executions only, not those of
// other teams' executions it triggered itself. Roles whose execution:view
// is not scope-restricted see every execution's events.
func (c *wsAccessChecker) CanView(identity events.Identity, _ string, ownerTeam string) bool {
	decision := c.authz.Check(
		authz.Identity{UserID: identity.UserID, Team: identity.Team, Roles: []authz.Role{authz.Role(identity.Role)}},
		authz.PermExecutionView,
		authz.ResourceRef{OwnerTeam: ownerTeam},
	)
	return decision.Allowed
}
