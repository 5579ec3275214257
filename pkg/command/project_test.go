package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaenen/iamcore/pkg/domain"
)

func addTestProject(t *testing.T, c *Commands) string {
	t.Helper()
	result, err := c.AddProject(context.Background(), testCtx(), AddProject{Name: "CRM"})
	require.NoError(t, err)
	return result.ProjectID
}

func TestAddProject(t *testing.T) {
	c, store := newCommands(t)
	ctx := context.Background()

	projectID := addTestProject(t, c)

	agg, err := store.Aggregate(ctx, "instance-1", domain.AggregateTypeProject, projectID, 0)
	require.NoError(t, err)
	require.Len(t, agg.Events, 1)
	assert.Equal(t, domain.ProjectAddedType, agg.Events[0].EventType)
	assert.Equal(t, "org-1", agg.Events[0].ResourceOwner)
}

func TestProjectRoles(t *testing.T) {
	c, _ := newCommands(t)
	ctx := context.Background()
	projectID := addTestProject(t, c)

	require.NoError(t, c.AddProjectRole(ctx, testCtx(), projectID, "admin", "Administrator", "management"))
	assert.ErrorIs(t, c.AddProjectRole(ctx, testCtx(), projectID, "admin", "", ""), domain.ErrValidation)
	require.NoError(t, c.RemoveProjectRole(ctx, testCtx(), projectID, "admin"))
	assert.ErrorIs(t, c.RemoveProjectRole(ctx, testCtx(), projectID, "admin"), domain.ErrNotFound)
}

func TestProjectGrantFlow(t *testing.T) {
	c, _ := newCommands(t)
	ctx := context.Background()
	projectID := addTestProject(t, c)

	require.NoError(t, c.AddProjectRole(ctx, testCtx(), projectID, "viewer", "Viewer", ""))

	// roles must exist on the project
	_, err := c.AddProjectGrant(ctx, testCtx(), projectID, "org-2", []string{"editor"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	// no self-grant
	_, err = c.AddProjectGrant(ctx, testCtx(), projectID, "org-1", []string{"viewer"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	grant, err := c.AddProjectGrant(ctx, testCtx(), projectID, "org-2", []string{"viewer"})
	require.NoError(t, err)
	require.NotEmpty(t, grant.GrantID)

	// one grant per granted org
	_, err = c.AddProjectGrant(ctx, testCtx(), projectID, "org-2", []string{"viewer"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	require.NoError(t, c.AddProjectGrantMember(ctx, testCtx(), projectID, grant.GrantID, "user-9", []string{"PROJECT_GRANT_OWNER"}))
	require.NoError(t, c.UpdateProjectGrantMember(ctx, testCtx(), projectID, grant.GrantID, "user-9", []string{"PROJECT_USER"}))
	require.NoError(t, c.RemoveProjectGrantMember(ctx, testCtx(), projectID, grant.GrantID, "user-9"))

	require.NoError(t, c.RemoveProjectGrant(ctx, testCtx(), projectID, grant.GrantID))
	assert.ErrorIs(t, c.ChangeProjectGrant(ctx, testCtx(), projectID, grant.GrantID, []string{"viewer"}), domain.ErrNotFound)
}

func TestProjectMembers(t *testing.T) {
	c, _ := newCommands(t)
	ctx := context.Background()
	projectID := addTestProject(t, c)

	require.NoError(t, c.AddProjectMember(ctx, testCtx(), projectID, "user-1", []string{"PROJECT_OWNER"}))
	require.NoError(t, c.UpdateProjectMember(ctx, testCtx(), projectID, "user-1", []string{"PROJECT_USER"}))
	require.NoError(t, c.RemoveProjectMember(ctx, testCtx(), projectID, "user-1"))
	assert.ErrorIs(t, c.RemoveProjectMember(ctx, testCtx(), projectID, "user-1"), domain.ErrNotFound)
}

func TestUserGrantFlow(t *testing.T) {
	c, _ := newCommands(t)
	ctx := context.Background()
	projectID := addTestProject(t, c)

	user, err := c.AddHumanUser(ctx, testCtx(), AddHumanUser{
		Username: "gigi", FirstName: "G", LastName: "G", Email: "g@example.com",
	})
	require.NoError(t, err)

	// both user and project must exist
	_, err = c.AddUserGrant(ctx, testCtx(), AddUserGrant{UserID: "ghost", ProjectID: projectID})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = c.AddUserGrant(ctx, testCtx(), AddUserGrant{UserID: user.UserID, ProjectID: "ghost"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	grant, err := c.AddUserGrant(ctx, testCtx(), AddUserGrant{
		UserID:    user.UserID,
		ProjectID: projectID,
		Roles:     []string{"viewer"},
	})
	require.NoError(t, err)

	require.NoError(t, c.ChangeUserGrant(ctx, testCtx(), grant.GrantID, []string{"editor"}))
	require.NoError(t, c.DeactivateUserGrant(ctx, testCtx(), grant.GrantID))
	assert.ErrorIs(t, c.DeactivateUserGrant(ctx, testCtx(), grant.GrantID), domain.ErrValidation)
	require.NoError(t, c.ReactivateUserGrant(ctx, testCtx(), grant.GrantID))
	require.NoError(t, c.RemoveUserGrant(ctx, testCtx(), grant.GrantID))
	assert.ErrorIs(t, c.ChangeUserGrant(ctx, testCtx(), grant.GrantID, []string{"x"}), domain.ErrNotFound)
}
