package domain

// UserState is the lifecycle state of a user.
type UserState int16

const (
	UserStateUnspecified UserState = iota
	UserStateInitial
	UserStateActive
	UserStateInactive
	UserStateLocked
	UserStateRemoved
)

// Exists reports whether the user is present (not removed, not unknown).
func (s UserState) Exists() bool {
	return s != UserStateUnspecified && s != UserStateRemoved
}

// OrgState is the lifecycle state of an organization.
type OrgState int16

const (
	OrgStateUnspecified OrgState = iota
	OrgStateActive
	OrgStateInactive
	OrgStateRemoved
)

func (s OrgState) Exists() bool {
	return s == OrgStateActive || s == OrgStateInactive
}

// ProjectState is the lifecycle state of a project.
type ProjectState int16

const (
	ProjectStateUnspecified ProjectState = iota
	ProjectStateActive
	ProjectStateInactive
	ProjectStateRemoved
)

func (s ProjectState) Exists() bool {
	return s == ProjectStateActive || s == ProjectStateInactive
}

// AppState is the lifecycle state of an application.
type AppState int16

const (
	AppStateUnspecified AppState = iota
	AppStateActive
	AppStateInactive
	AppStateRemoved
)

func (s AppState) Exists() bool {
	return s == AppStateActive || s == AppStateInactive
}

// AppType discriminates application config variants.
type AppType int16

const (
	AppTypeUnspecified AppType = iota
	AppTypeOIDC
	AppTypeAPI
	AppTypeSAML
)

// GrantState is the lifecycle state of a user grant or project grant.
type GrantState int16

const (
	GrantStateUnspecified GrantState = iota
	GrantStateActive
	GrantStateInactive
	GrantStateRemoved
)

func (s GrantState) Exists() bool {
	return s == GrantStateActive || s == GrantStateInactive
}

// DomainValidationType is how ownership of an org domain is proven.
type DomainValidationType int16

const (
	DomainValidationTypeUnspecified DomainValidationType = iota
	DomainValidationTypeHTTP
	DomainValidationTypeDNS
)

// SMTPConfigState is the lifecycle state of an SMTP configuration.
type SMTPConfigState int16

const (
	SMTPConfigStateUnspecified SMTPConfigState = iota
	SMTPConfigStateInactive
	SMTPConfigStateActive
	SMTPConfigStateRemoved
)

// IDPIntentState tracks an external login flow from start to outcome.
type IDPIntentState int16

const (
	IDPIntentStateUnspecified IDPIntentState = iota
	IDPIntentStateStarted
	IDPIntentStateSucceeded
	IDPIntentStateFailed
)

// SAMLRequestState tracks an SP-initiated SAML request.
type SAMLRequestState int16

const (
	SAMLRequestStateUnspecified SAMLRequestState = iota
	SAMLRequestStateAdded
	SAMLRequestStateSessionLinked
	SAMLRequestStateSucceeded
	SAMLRequestStateFailed
)

// SAMLSessionState is the lifecycle state of an issued SAML session.
type SAMLSessionState int16

const (
	SAMLSessionStateUnspecified SAMLSessionState = iota
	SAMLSessionStateActive
	SAMLSessionStateTerminated
)

// MFAType enumerates supported second factors.
type MFAType int16

const (
	MFATypeUnspecified MFAType = iota
	MFATypeTOTP
)

// Gender is part of the human profile.
type Gender int16

const (
	GenderUnspecified Gender = iota
	GenderFemale
	GenderMale
	GenderDiverse
)
