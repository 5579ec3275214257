package domain

// User grant aggregate event types.
const (
	UserGrantAddedType       EventType = "usergrant.added"
	UserGrantChangedType     EventType = "usergrant.changed"
	UserGrantDeactivatedType EventType = "usergrant.deactivated"
	UserGrantReactivatedType EventType = "usergrant.reactivated"
	UserGrantRemovedType     EventType = "usergrant.removed"
)

type UserGrantAddedPayload struct {
	UserID         string   `json:"userId"`
	ProjectID      string   `json:"projectId"`
	ProjectGrantID string   `json:"projectGrantId,omitempty"`
	Roles          []string `json:"roles,omitempty"`
}

type UserGrantChangedPayload struct {
	Roles []string `json:"roles"`
}
