package domain

// Application aggregate event types.
const (
	ApplicationAddedType             EventType = "application.added"
	ApplicationChangedType           EventType = "application.changed"
	ApplicationOIDCConfigAddedType   EventType = "application.oidc.config.added"
	ApplicationOIDCConfigChangedType EventType = "application.oidc.config.changed"
	ApplicationAPIConfigAddedType    EventType = "application.api.config.added"
	ApplicationAPIConfigChangedType  EventType = "application.api.config.changed"
	ApplicationSAMLConfigAddedType   EventType = "application.saml.config.added"
	ApplicationSAMLConfigChangedType EventType = "application.saml.config.changed"
	ApplicationSecretRegeneratedType EventType = "application.secret.regenerated"
	ApplicationDeactivatedType       EventType = "application.deactivated"
	ApplicationReactivatedType       EventType = "application.reactivated"
	ApplicationRemovedType           EventType = "application.removed"
)

// OIDCAuthMethodType is how an OIDC client authenticates at the token endpoint.
type OIDCAuthMethodType int16

const (
	OIDCAuthMethodTypeBasic OIDCAuthMethodType = iota
	OIDCAuthMethodTypePost
	OIDCAuthMethodTypeNone
	OIDCAuthMethodTypePrivateKeyJWT
)

type ApplicationAddedPayload struct {
	ProjectID string  `json:"projectId"`
	Name      string  `json:"name"`
	AppType   AppType `json:"appType"`
}

type ApplicationChangedPayload struct {
	Name string `json:"name"`
}

type OIDCConfigPayload struct {
	ClientID         string             `json:"clientId,omitempty"`
	ClientSecretHash string             `json:"clientSecretHash,omitempty"`
	RedirectURIs     []string           `json:"redirectUris,omitempty"`
	ResponseTypes    []string           `json:"responseTypes,omitempty"`
	GrantTypes       []string           `json:"grantTypes,omitempty"`
	AuthMethodType   OIDCAuthMethodType `json:"authMethodType,omitempty"`
	DevMode          bool               `json:"devMode,omitempty"`
}

type APIConfigPayload struct {
	ClientID         string             `json:"clientId,omitempty"`
	ClientSecretHash string             `json:"clientSecretHash,omitempty"`
	AuthMethodType   OIDCAuthMethodType `json:"authMethodType,omitempty"`
}

type SAMLConfigPayload struct {
	EntityID    string `json:"entityId"`
	MetadataURL string `json:"metadataUrl,omitempty"`
	Metadata    []byte `json:"metadata,omitempty"`
}

type SecretRegeneratedPayload struct {
	ClientSecretHash string `json:"clientSecretHash"`
}
