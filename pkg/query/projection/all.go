package projection

import handler "github.com/plaenen/iamcore/pkg/projection"

// All returns one instance of every projection, in the order they should be
// registered.
func All() []handler.Projection {
	return []handler.Projection{
		NewUsersProjection(),
		NewOrgsProjection(),
		NewOrgDomainsProjection(),
		NewProjectsProjection(),
		NewProjectRolesProjection(),
		NewProjectGrantsProjection(),
		NewAppsProjection(),
		NewInstanceMembersProjection(),
		NewOrgMembersProjection(),
		NewProjectMembersProjection(),
		NewProjectGrantMembersProjection(),
		NewUserGrantsProjection(),
		NewSMTPConfigsProjection(),
		NewAuthNKeysProjection(),
		NewSAMLRequestsProjection(),
		NewSAMLSessionsProjection(),
		NewIDPIntentsProjection(),
	}
}
