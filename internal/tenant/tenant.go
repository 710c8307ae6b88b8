// Package tenant defines the typed (env, tenant, team, user) tuple that is
// propagated through every gateway operation, per spec C1.
package tenant

import (
	"regexp"

	"github.com/greentic-ai/messaging-gateway/internal/gatewayerr"
)

var identifierPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Context is the tenant/team/user identity attached to one in-flight message.
// Its lifetime is the span of one message, per spec §3.
type Context struct {
	Env    string
	Tenant string
	Team   string
	User   string
}

// Validate checks every non-empty identifier against the strict
// `[a-z0-9][a-z0-9-]*` pattern required by spec §3. Team and User may be
// empty (optional fields); Env and Tenant are required.
func (c Context) Validate() error {
	if c.Env == "" {
		return gatewayerr.ClientError("E_TENANT_ENV", "env is required")
	}
	if c.Tenant == "" {
		return gatewayerr.ClientError("E_TENANT_ID", "tenant is required")
	}
	if !identifierPattern.MatchString(c.Env) {
		return gatewayerr.ClientError("E_TENANT_ENV", "env has invalid format: "+c.Env)
	}
	if !identifierPattern.MatchString(c.Tenant) {
		return gatewayerr.ClientError("E_TENANT_ID", "tenant has invalid format: "+c.Tenant)
	}
	if c.Team != "" && !identifierPattern.MatchString(c.Team) {
		return gatewayerr.ClientError("E_TENANT_TEAM", "team has invalid format: "+c.Team)
	}
	if c.User != "" && !identifierPattern.MatchString(c.User) {
		return gatewayerr.ClientError("E_TENANT_USER", "user has invalid format: "+c.User)
	}
	return nil
}

// WithTeam returns a copy of c with Team set, leaving c unmodified.
func (c Context) WithTeam(team string) Context {
	c.Team = team
	return c
}

// WithUser returns a copy of c with User set, leaving c unmodified.
func (c Context) WithUser(user string) Context {
	c.User = user
	return c
}

// Key returns a stable string key for this tenant (ignoring team/user),
// suitable for use as a map key in the backpressure limiter and idempotency guard.
func (c Context) Key() string {
	return c.Env + "." + c.Tenant
}
