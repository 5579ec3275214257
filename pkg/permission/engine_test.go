package permission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaenen/iamcore/pkg/query"
)

type fakeMembers struct {
	instanceRoles map[string][]string
	orgs          []*query.OrgMembership
	projects      []*query.ProjectMembership
	grantScopes   []*query.GrantMembership
	calls         int
}

func (f *fakeMembers) GetInstanceMemberRoles(_ context.Context, instanceID, userID string) ([]string, error) {
	f.calls++
	return f.instanceRoles[instanceID+"/"+userID], nil
}

func (f *fakeMembers) OrgMembershipsOfUser(context.Context, string, string) ([]*query.OrgMembership, error) {
	return f.orgs, nil
}

func (f *fakeMembers) ProjectMembershipsOfUser(context.Context, string, string) ([]*query.ProjectMembership, error) {
	return f.projects, nil
}

func (f *fakeMembers) GrantMembershipsOfUser(context.Context, string, string) ([]*query.GrantMembership, error) {
	return f.grantScopes, nil
}

type fakeGrants struct {
	userGrants    []*query.UserGrant
	projectGrants map[string][]*query.ProjectGrant
}

func (f *fakeGrants) UserGrantsForUser(context.Context, string, string) ([]*query.UserGrant, error) {
	return f.userGrants, nil
}

func (f *fakeGrants) ProjectGrantsForOrg(_ context.Context, _ string, grantedOrgID string) ([]*query.ProjectGrant, error) {
	return f.projectGrants[grantedOrgID], nil
}

func testCaller() Context {
	return Context{UserID: "user-1", InstanceID: "instance-1", OrgID: "org-1"}
}

func TestGetMyPermissionsAggregatesSources(t *testing.T) {
	members := &fakeMembers{
		instanceRoles: map[string][]string{"instance-1/user-1": {"IAM_OWNER_VIEWER"}},
		orgs:          []*query.OrgMembership{{OrgID: "org-1", Roles: []string{"ORG_USER_MANAGER"}}},
		projects:      []*query.ProjectMembership{{ProjectID: "project-1", Roles: []string{"PROJECT_OWNER"}}},
	}
	grants := &fakeGrants{
		userGrants: []*query.UserGrant{
			{ProjectID: "project-2", ResourceOwner: "org-1", Roles: []string{"PROJECT_USER"}},
		},
		projectGrants: map[string][]*query.ProjectGrant{
			"org-1": {{ProjectID: "project-3", GrantedRoles: []string{"reviewer"}}},
		},
	}
	engine := NewEngine(members, grants)

	permissions, err := engine.GetMyPermissions(context.Background(), testCaller())
	require.NoError(t, err)

	byKey := map[string]Permission{}
	for _, p := range permissions {
		byKey[p.Resource+":"+p.Action] = p
	}

	// instance viewer role, unconditional
	assert.Empty(t, byKey["iam.instance:read"].Conditions)

	// org membership carries org conditions
	userManage := byKey["iam.user:manage"]
	assert.Contains(t, userManage.Conditions, Condition{Key: "org", Value: "org-1"})
	assert.Contains(t, userManage.Conditions, Condition{Key: "resourceOwner", Value: "org-1"})

	// project membership scoped to its project
	projectManage := byKey["iam.project:manage"]
	assert.Contains(t, projectManage.Conditions, Condition{Key: "project", Value: "project-1"})

	// unknown role from a cross-org project grant surfaces as project action
	reviewer := byKey["iam.project:reviewer"]
	assert.Contains(t, reviewer.Conditions, Condition{Key: "project", Value: "project-3"})
}

func TestGetMyPermissionsUnionsConditionsOnDuplicates(t *testing.T) {
	members := &fakeMembers{
		orgs: []*query.OrgMembership{
			{OrgID: "org-1", Roles: []string{"ORG_USER_MANAGER"}},
			{OrgID: "org-2", Roles: []string{"ORG_USER_MANAGER"}},
		},
	}
	engine := NewEngine(members, &fakeGrants{})

	permissions, err := engine.GetMyPermissions(context.Background(), testCaller())
	require.NoError(t, err)

	var userManage *Permission
	for i := range permissions {
		if permissions[i].Resource == "iam.user" && permissions[i].Action == "manage" {
			userManage = &permissions[i]
		}
	}
	require.NotNil(t, userManage)
	assert.Contains(t, userManage.Conditions, Condition{Key: "org", Value: "org-1"})
	assert.Contains(t, userManage.Conditions, Condition{Key: "org", Value: "org-2"})
}

func TestCheckUserPermissionsManageSubsumes(t *testing.T) {
	members := &fakeMembers{
		orgs: []*query.OrgMembership{{OrgID: "org-1", Roles: []string{"ORG_OWNER"}}},
	}
	engine := NewEngine(members, &fakeGrants{})

	result, err := engine.CheckUserPermissions(context.Background(), testCaller(), []Requirement{
		{Resource: "iam.user", Action: "delete", Conditions: []Condition{{Key: "org", Value: "org-1"}}},
	})
	require.NoError(t, err)
	assert.True(t, result.HasPermission)
	require.Len(t, result.MatchedPermissions, 1)
	assert.Equal(t, ActionManage, result.MatchedPermissions[0].Action)
}

func TestCheckUserPermissionsRequiresAllConditions(t *testing.T) {
	members := &fakeMembers{
		orgs: []*query.OrgMembership{{OrgID: "org-1", Roles: []string{"ORG_OWNER"}}},
	}
	engine := NewEngine(members, &fakeGrants{})

	result, err := engine.CheckUserPermissions(context.Background(), testCaller(), []Requirement{
		{Resource: "iam.user", Action: "read", Conditions: []Condition{{Key: "org", Value: "org-other"}}},
	})
	require.NoError(t, err)
	assert.False(t, result.HasPermission)
	assert.Empty(t, result.MatchedPermissions)
	assert.Equal(t, "missing iam.user:read", result.Reason)
}

func TestPermissionsAreCached(t *testing.T) {
	members := &fakeMembers{
		instanceRoles: map[string][]string{"instance-1/user-1": {"IAM_OWNER"}},
	}
	engine := NewEngine(members, &fakeGrants{})

	_, err := engine.GetMyPermissions(context.Background(), testCaller())
	require.NoError(t, err)
	_, err = engine.GetMyPermissions(context.Background(), testCaller())
	require.NoError(t, err)
	assert.Equal(t, 1, members.calls)

	engine.ClearCache("user-1", "instance-1")
	_, err = engine.GetMyPermissions(context.Background(), testCaller())
	require.NoError(t, err)
	assert.Equal(t, 2, members.calls)
}

func TestCacheExpires(t *testing.T) {
	members := &fakeMembers{
		instanceRoles: map[string][]string{"instance-1/user-1": {"IAM_OWNER"}},
	}
	engine := NewEngine(members, &fakeGrants{}, WithCacheTTL(time.Minute))

	now := time.Now()
	engine.cache.now = func() time.Time { return now }

	_, err := engine.GetMyPermissions(context.Background(), testCaller())
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = engine.GetMyPermissions(context.Background(), testCaller())
	require.NoError(t, err)
	assert.Equal(t, 2, members.calls)
}

func TestCacheIsolatesInstances(t *testing.T) {
	members := &fakeMembers{
		instanceRoles: map[string][]string{"instance-1/user-1": {"IAM_OWNER"}},
	}
	engine := NewEngine(members, &fakeGrants{})

	p1, err := engine.GetMyPermissions(context.Background(), Context{UserID: "user-1", InstanceID: "instance-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, p1)

	p2, err := engine.GetMyPermissions(context.Background(), Context{UserID: "user-1", InstanceID: "instance-2"})
	require.NoError(t, err)
	assert.Empty(t, p2)
}
