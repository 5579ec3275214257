package domain

// Project aggregate event types. Project grants and their members live on the
// project aggregate; the grant id is carried in the payload.
const (
	ProjectAddedType              EventType = "project.added"
	ProjectChangedType            EventType = "project.changed"
	ProjectDeactivatedType        EventType = "project.deactivated"
	ProjectReactivatedType        EventType = "project.reactivated"
	ProjectRemovedType            EventType = "project.removed"
	ProjectRoleAddedType          EventType = "project.role.added"
	ProjectRoleRemovedType        EventType = "project.role.removed"
	ProjectMemberAddedType        EventType = "project.member.added"
	ProjectMemberChangedType      EventType = "project.member.changed"
	ProjectMemberRemovedType      EventType = "project.member.removed"
	ProjectGrantAddedType         EventType = "project.grant.added"
	ProjectGrantChangedType       EventType = "project.grant.changed"
	ProjectGrantRemovedType       EventType = "project.grant.removed"
	ProjectGrantMemberAddedType   EventType = "project.grant.member.added"
	ProjectGrantMemberChangedType EventType = "project.grant.member.changed"
	ProjectGrantMemberRemovedType EventType = "project.grant.member.removed"
)

// PrivateLabelSetting controls branding resolution for project logins.
type PrivateLabelSetting int16

const (
	PrivateLabelSettingUnspecified PrivateLabelSetting = iota
	PrivateLabelSettingEnforceProjectPolicy
	PrivateLabelSettingAllowLoginUserPolicy
)

type ProjectAddedPayload struct {
	Name                   string              `json:"name"`
	ProjectRoleAssertion   bool                `json:"projectRoleAssertion,omitempty"`
	ProjectRoleCheck       bool                `json:"projectRoleCheck,omitempty"`
	HasProjectCheck        bool                `json:"hasProjectCheck,omitempty"`
	PrivateLabelingSetting PrivateLabelSetting `json:"privateLabelingSetting,omitempty"`
}

type ProjectChangedPayload struct {
	Name                   *string              `json:"name,omitempty"`
	ProjectRoleAssertion   *bool                `json:"projectRoleAssertion,omitempty"`
	ProjectRoleCheck       *bool                `json:"projectRoleCheck,omitempty"`
	HasProjectCheck        *bool                `json:"hasProjectCheck,omitempty"`
	PrivateLabelingSetting *PrivateLabelSetting `json:"privateLabelingSetting,omitempty"`
}

type ProjectRoleAddedPayload struct {
	Key         string `json:"key"`
	DisplayName string `json:"displayName,omitempty"`
	Group       string `json:"group,omitempty"`
}

type ProjectRoleRemovedPayload struct {
	Key string `json:"key"`
}

type ProjectGrantAddedPayload struct {
	GrantID      string   `json:"grantId"`
	GrantedOrgID string   `json:"grantedOrgId"`
	GrantedRoles []string `json:"grantedRoles,omitempty"`
}

type ProjectGrantChangedPayload struct {
	GrantID      string   `json:"grantId"`
	GrantedRoles []string `json:"grantedRoles,omitempty"`
}

type ProjectGrantRemovedPayload struct {
	GrantID string `json:"grantId"`
}

// GrantMemberPayload is the member payload of the project-grant scope.
type GrantMemberPayload struct {
	GrantID string   `json:"grantId"`
	UserID  string   `json:"userId"`
	Roles   []string `json:"roles,omitempty"`
}
