package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// AggregateType identifies the kind of entity an event stream belongs to.
type AggregateType string

const (
	AggregateTypeUser        AggregateType = "user"
	AggregateTypeOrg         AggregateType = "org"
	AggregateTypeProject     AggregateType = "project"
	AggregateTypeApplication AggregateType = "application"
	AggregateTypeUserGrant   AggregateType = "usergrant"
	AggregateTypeInstance    AggregateType = "instance"
	AggregateTypeIDPIntent   AggregateType = "idpintent"
	AggregateTypeSAMLRequest AggregateType = "saml_request"
	AggregateTypeSAMLSession AggregateType = "saml_session"
)

// EventType is the namespaced name of an event (e.g. "user.human.added").
type EventType string

// Position is the global ordinal of an event in the log. Position is strictly
// increasing across transactions; InPositionOrder disambiguates events written
// in the same transaction. Together they form a total order.
type Position struct {
	Position        decimal.Decimal
	InPositionOrder uint32
}

// Compare returns -1, 0 or 1 if p is before, equal to or after other.
func (p Position) Compare(other Position) int {
	if c := p.Position.Cmp(other.Position); c != 0 {
		return c
	}
	switch {
	case p.InPositionOrder < other.InPositionOrder:
		return -1
	case p.InPositionOrder > other.InPositionOrder:
		return 1
	}
	return 0
}

// After reports whether p is strictly after other.
func (p Position) After(other Position) bool {
	return p.Compare(other) > 0
}

// IsZero reports whether p is the zero position (before the first event).
func (p Position) IsZero() bool {
	return p.Position.IsZero() && p.InPositionOrder == 0
}

// Event is an immutable fact persisted in the event log.
type Event struct {
	// ID is the unique identifier of this event
	ID string

	// EventType is the namespaced type name (e.g. "org.domain.verified")
	EventType EventType

	// AggregateType and AggregateID identify the owning aggregate
	AggregateType AggregateType
	AggregateID   string

	// AggregateVersion is the per-aggregate monotonic counter, starting at 1
	AggregateVersion uint64

	// Payload is the JSON-encoded event data. Nil for events without payload.
	Payload json.RawMessage

	// Editor is the user or service that caused this event
	Editor string

	// ResourceOwner is the org (or instance) owning the aggregate
	ResourceOwner string

	// InstanceID scopes the event to one tenant
	InstanceID string

	// Position is the global ordinal assigned at append time
	Position Position

	// CreationDate is the commit timestamp
	CreationDate time.Time

	// Revision is the schema version of the payload
	Revision uint8
}

// UnmarshalPayload decodes the event payload into T. Events without payload
// decode to the zero value.
func UnmarshalPayload[T any](e *Event) (T, error) {
	var payload T
	if len(e.Payload) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return payload, NewValidationError("payload", "malformed event payload: "+err.Error())
	}
	return payload, nil
}

// Aggregate is the derived view of one event stream: the aggregate's identity
// plus its full (or version-capped) history.
type Aggregate struct {
	ID            string
	Type          AggregateType
	InstanceID    string
	ResourceOwner string

	// Version is the highest applied event's AggregateVersion, 0 if no events.
	Version uint64

	Events []*Event
}

// Exists reports whether the aggregate has at least one event.
func (a *Aggregate) Exists() bool {
	return a != nil && a.Version > 0
}

// ConstraintOperation defines operations on unique constraints.
type ConstraintOperation string

const (
	// ConstraintClaim claims a unique value for this aggregate
	ConstraintClaim ConstraintOperation = "claim"

	// ConstraintRelease releases a unique value previously claimed
	ConstraintRelease ConstraintOperation = "release"
)

// UniqueConstraint is a uniqueness claim or release validated atomically with
// event persistence.
type UniqueConstraint struct {
	// IndexName identifies the constraint class (e.g. "usernames", "org_domains")
	IndexName string

	// Value is the unique value being claimed or released
	Value string

	Operation ConstraintOperation

	// Field names the input field reported on violation
	Field string
}

// NewClaim builds a claim constraint.
func NewClaim(indexName, value, field string) *UniqueConstraint {
	return &UniqueConstraint{IndexName: indexName, Value: value, Operation: ConstraintClaim, Field: field}
}

// NewRelease builds a release constraint.
func NewRelease(indexName, value string) *UniqueConstraint {
	return &UniqueConstraint{IndexName: indexName, Value: value, Operation: ConstraintRelease}
}

// Command is the intent to append one event to an aggregate's stream. The
// eventstore assigns ID, position, version and creation date.
type Command struct {
	InstanceID    string
	AggregateType AggregateType
	AggregateID   string
	ResourceOwner string
	EventType     EventType
	Editor        string
	Revision      uint8

	// Payload is JSON-marshaled at append time. Nil means no payload.
	Payload any

	// UniqueConstraints claimed or released together with this event
	UniqueConstraints []*UniqueConstraint
}

// Validate checks the fields the eventstore requires before an append.
func (c *Command) Validate() error {
	switch {
	case c.InstanceID == "":
		return NewValidationError("instanceID", "instance id is required")
	case c.AggregateType == "":
		return NewValidationError("aggregateType", "aggregate type is required")
	case c.AggregateID == "":
		return NewValidationError("aggregateID", "aggregate id is required")
	case c.EventType == "":
		return NewValidationError("eventType", "event type is required")
	}
	return nil
}

// Now returns the current time in UTC. Kept as a variable so tests can pin it.
var Now = func() time.Time { return time.Now().UTC() }
