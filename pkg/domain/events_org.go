package domain

// Org aggregate event types.
const (
	OrgAddedType            EventType = "org.added"
	OrgChangedType          EventType = "org.changed"
	OrgDeactivatedType      EventType = "org.deactivated"
	OrgReactivatedType      EventType = "org.reactivated"
	OrgRemovedType          EventType = "org.removed"
	OrgDomainAddedType      EventType = "org.domain.added"
	OrgDomainVerifiedType   EventType = "org.domain.verified"
	OrgDomainPrimarySetType EventType = "org.domain.primary.set"
	OrgDomainRemovedType    EventType = "org.domain.removed"
	OrgMemberAddedType      EventType = "org.member.added"
	OrgMemberChangedType    EventType = "org.member.changed"
	OrgMemberRemovedType    EventType = "org.member.removed"
)

type OrgAddedPayload struct {
	Name string `json:"name"`
}

type OrgChangedPayload struct {
	Name string `json:"name"`
}

type OrgDomainAddedPayload struct {
	Domain         string               `json:"domain"`
	ValidationType DomainValidationType `json:"validationType,omitempty"`
	ValidationCode string               `json:"validationCode,omitempty"`
}

type OrgDomainVerifiedPayload struct {
	Domain string `json:"domain"`
}

type OrgDomainPrimarySetPayload struct {
	Domain string `json:"domain"`
}

type OrgDomainRemovedPayload struct {
	Domain string `json:"domain"`
}

// MemberPayload is shared by the member events of every scope: the scope is
// the aggregate the event is written to.
type MemberPayload struct {
	UserID string   `json:"userId"`
	Roles  []string `json:"roles,omitempty"`
}
