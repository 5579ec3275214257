package permission

import (
	"context"
	"fmt"
	"time"

	"github.com/plaenen/iamcore/pkg/query"
)

// Context identifies the caller a permission aggregation runs for.
type Context struct {
	UserID     string
	InstanceID string
	OrgID      string
	ProjectID  string
}

// MembershipSource is the subset of the member queries the engine reads.
type MembershipSource interface {
	GetInstanceMemberRoles(ctx context.Context, instanceID, userID string) ([]string, error)
	OrgMembershipsOfUser(ctx context.Context, instanceID, userID string) ([]*query.OrgMembership, error)
	ProjectMembershipsOfUser(ctx context.Context, instanceID, userID string) ([]*query.ProjectMembership, error)
	GrantMembershipsOfUser(ctx context.Context, instanceID, userID string) ([]*query.GrantMembership, error)
}

// GrantSource is the subset of the grant queries the engine reads.
type GrantSource interface {
	UserGrantsForUser(ctx context.Context, instanceID, userID string) ([]*query.UserGrant, error)
	ProjectGrantsForOrg(ctx context.Context, instanceID, grantedOrgID string) ([]*query.ProjectGrant, error)
}

// Engine aggregates effective permissions with a process-local TTL cache.
type Engine struct {
	members MembershipSource
	grants  GrantSource
	cache   *ttlCache
}

// Option configures the engine.
type Option func(*Engine)

// WithCacheTTL overrides the default five-minute cache lifetime.
func WithCacheTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.cache = newTTLCache(ttl) }
}

func NewEngine(members MembershipSource, grants GrantSource, opts ...Option) *Engine {
	e := &Engine{
		members: members,
		grants:  grants,
		cache:   newTTLCache(defaultCacheTTL),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GetMyPermissions returns the caller's effective permissions, aggregated
// from instance/org/project/grant memberships, user grants and cross-org
// project grants.
func (e *Engine) GetMyPermissions(ctx context.Context, caller Context) ([]Permission, error) {
	key := cacheKey(caller.UserID, caller.InstanceID, caller.OrgID, caller.ProjectID)
	if cached, ok := e.cache.get(key); ok {
		return cached, nil
	}

	set := newPermissionSet()
	if err := e.aggregateMemberships(ctx, caller, set); err != nil {
		return nil, err
	}
	if err := e.aggregateUserGrants(ctx, caller, set); err != nil {
		return nil, err
	}
	if err := e.aggregateProjectGrants(ctx, caller, set); err != nil {
		return nil, err
	}

	permissions := set.list()
	e.cache.set(key, permissions)
	return permissions, nil
}

func (e *Engine) aggregateMemberships(ctx context.Context, caller Context, set *permissionSet) error {
	instanceRoles, err := e.members.GetInstanceMemberRoles(ctx, caller.InstanceID, caller.UserID)
	if err != nil {
		return err
	}
	for _, role := range instanceRoles {
		expandRole(set, role, nil)
	}

	orgMemberships, err := e.members.OrgMembershipsOfUser(ctx, caller.InstanceID, caller.UserID)
	if err != nil {
		return err
	}
	for _, m := range orgMemberships {
		conds := []Condition{
			{Key: "org", Value: m.OrgID},
			{Key: "resourceOwner", Value: m.OrgID},
		}
		for _, role := range m.Roles {
			expandRole(set, role, conds)
		}
	}

	projectMemberships, err := e.members.ProjectMembershipsOfUser(ctx, caller.InstanceID, caller.UserID)
	if err != nil {
		return err
	}
	for _, m := range projectMemberships {
		conds := []Condition{{Key: "project", Value: m.ProjectID}}
		for _, role := range m.Roles {
			expandRole(set, role, conds)
		}
	}

	grantMemberships, err := e.members.GrantMembershipsOfUser(ctx, caller.InstanceID, caller.UserID)
	if err != nil {
		return err
	}
	for _, m := range grantMemberships {
		conds := []Condition{{Key: "project", Value: m.ProjectID}}
		for _, role := range m.Roles {
			expandRole(set, role, conds)
		}
	}
	return nil
}

func (e *Engine) aggregateUserGrants(ctx context.Context, caller Context, set *permissionSet) error {
	userGrants, err := e.grants.UserGrantsForUser(ctx, caller.InstanceID, caller.UserID)
	if err != nil {
		return err
	}
	for _, g := range userGrants {
		conds := []Condition{
			{Key: "project", Value: g.ProjectID},
			{Key: "resourceOwner", Value: g.ResourceOwner},
		}
		for _, role := range g.Roles {
			expandRole(set, role, conds)
		}
	}
	return nil
}

// aggregateProjectGrants adds roles the caller's org received via cross-org
// project grants.
func (e *Engine) aggregateProjectGrants(ctx context.Context, caller Context, set *permissionSet) error {
	if caller.OrgID == "" {
		return nil
	}
	projectGrants, err := e.grants.ProjectGrantsForOrg(ctx, caller.InstanceID, caller.OrgID)
	if err != nil {
		return err
	}
	for _, g := range projectGrants {
		conds := []Condition{{Key: "project", Value: g.ProjectID}}
		for _, role := range g.GrantedRoles {
			expandRole(set, role, conds)
		}
	}
	return nil
}

// CheckUserPermissions evaluates every requirement against the caller's
// effective permissions. All requirements must match.
func (e *Engine) CheckUserPermissions(ctx context.Context, caller Context, required []Requirement) (*CheckResult, error) {
	permissions, err := e.GetMyPermissions(ctx, caller)
	if err != nil {
		return nil, err
	}

	result := &CheckResult{HasPermission: true}
	for _, req := range required {
		matched := false
		for _, p := range permissions {
			if p.Matches(req) {
				result.MatchedPermissions = append(result.MatchedPermissions, p)
				matched = true
				break
			}
		}
		if !matched {
			result.HasPermission = false
			result.MatchedPermissions = nil
			result.Reason = fmt.Sprintf("missing %s:%s", req.Resource, req.Action)
			return result, nil
		}
	}
	return result, nil
}

// ClearCache drops the user's cached permissions, called after membership or
// grant writes.
func (e *Engine) ClearCache(userID, instanceID string) {
	e.cache.clearUser(userID, instanceID)
}
