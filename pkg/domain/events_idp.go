package domain

import "time"

// IDP intent, SAML request and SAML session event types.
const (
	IDPIntentStartedType   EventType = "idpintent.started"
	IDPIntentSucceededType EventType = "idpintent.succeeded"
	IDPIntentFailedType    EventType = "idpintent.failed"

	SAMLRequestAddedType         EventType = "saml_request.added"
	SAMLRequestSessionLinkedType EventType = "saml_request.session.linked"
	SAMLRequestSucceededType     EventType = "saml_request.succeeded"
	SAMLRequestFailedType        EventType = "saml_request.failed"

	SAMLSessionAddedType      EventType = "saml_session.added"
	SAMLSessionTerminatedType EventType = "saml_session.terminated"
)

// IDPType discriminates external identity provider protocols.
type IDPType int16

const (
	IDPTypeUnspecified IDPType = iota
	IDPTypeOAuth
	IDPTypeOIDC
	IDPTypeSAML
)

// IDPUser is the canonical parsed shape of an external identity, independent
// of the wire protocol that delivered it.
type IDPUser struct {
	ID                string `json:"id"`
	Username          string `json:"username,omitempty"`
	FirstName         string `json:"firstName,omitempty"`
	LastName          string `json:"lastName,omitempty"`
	DisplayName       string `json:"displayName,omitempty"`
	Email             string `json:"email,omitempty"`
	EmailVerified     bool   `json:"emailVerified,omitempty"`
	Phone             string `json:"phone,omitempty"`
	PreferredLanguage string `json:"preferredLanguage,omitempty"`
}

type IDPIntentStartedPayload struct {
	IDPID      string  `json:"idpId"`
	IDPType    IDPType `json:"idpType"`
	SuccessURL string  `json:"successUrl"`
	FailureURL string  `json:"failureUrl"`
	State      string  `json:"state"`
}

type IDPIntentSucceededPayload struct {
	IDPUser        IDPUser `json:"idpUser"`
	IDPAccessToken string  `json:"idpAccessToken,omitempty"`
	IDPIDToken     string  `json:"idpIdToken,omitempty"`
	UserID         string  `json:"userId,omitempty"`
}

type IDPIntentFailedPayload struct {
	Reason string `json:"reason"`
}

type SAMLRequestAddedPayload struct {
	LoginClient   string `json:"loginClient,omitempty"`
	ApplicationID string `json:"applicationId"`
	ACSURL        string `json:"acsUrl"`
	RelayState    string `json:"relayState,omitempty"`
	RequestID     string `json:"requestId"`
	Binding       string `json:"binding,omitempty"`
	Issuer        string `json:"issuer"`
	Destination   string `json:"destination,omitempty"`
}

type SAMLRequestSessionLinkedPayload struct {
	SessionID   string    `json:"sessionId"`
	UserID      string    `json:"userId"`
	AuthTime    time.Time `json:"authTime"`
	AuthMethods []string  `json:"authMethods,omitempty"`
}

type SAMLRequestFailedPayload struct {
	Reason string `json:"reason"`
}

type SAMLSessionAddedPayload struct {
	UserID         string    `json:"userId"`
	SessionID      string    `json:"sessionId"`
	EntityID       string    `json:"entityId"`
	SAMLResponseID string    `json:"samlResponseId,omitempty"`
	ExpiresAt      time.Time `json:"expiresAt,omitempty"`
}
