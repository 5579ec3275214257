package command

import (
	"context"

	"github.com/asaskevich/govalidator"

	"github.com/plaenen/iamcore/pkg/crypto"
	"github.com/plaenen/iamcore/pkg/domain"
	"github.com/plaenen/iamcore/pkg/validators"
)

// appWriteModel is the application aggregate state.
type appWriteModel struct {
	id            string
	resourceOwner string
	version       uint64

	state     domain.AppState
	appType   domain.AppType
	projectID string
	name      string
	clientID  string
}

func (c *Commands) appWriteModelByID(ctx context.Context, instanceID, appID string) (*appWriteModel, error) {
	agg, err := c.es.Aggregate(ctx, instanceID, domain.AggregateTypeApplication, appID, 0)
	if err != nil {
		return nil, err
	}
	wm := &appWriteModel{id: appID}
	for _, e := range agg.Events {
		if err := wm.reduce(e); err != nil {
			return nil, err
		}
	}
	wm.version = agg.Version
	return wm, nil
}

func (wm *appWriteModel) reduce(e *domain.Event) error {
	switch e.EventType {
	case domain.ApplicationAddedType:
		payload, err := domain.UnmarshalPayload[domain.ApplicationAddedPayload](e)
		if err != nil {
			return err
		}
		wm.state = domain.AppStateActive
		wm.appType = payload.AppType
		wm.projectID = payload.ProjectID
		wm.name = payload.Name
		wm.resourceOwner = e.ResourceOwner
	case domain.ApplicationChangedType:
		payload, err := domain.UnmarshalPayload[domain.ApplicationChangedPayload](e)
		if err != nil {
			return err
		}
		wm.name = payload.Name
	case domain.ApplicationOIDCConfigAddedType, domain.ApplicationOIDCConfigChangedType:
		payload, err := domain.UnmarshalPayload[domain.OIDCConfigPayload](e)
		if err != nil {
			return err
		}
		if payload.ClientID != "" {
			wm.clientID = payload.ClientID
		}
	case domain.ApplicationAPIConfigAddedType, domain.ApplicationAPIConfigChangedType:
		payload, err := domain.UnmarshalPayload[domain.APIConfigPayload](e)
		if err != nil {
			return err
		}
		if payload.ClientID != "" {
			wm.clientID = payload.ClientID
		}
	case domain.ApplicationDeactivatedType:
		wm.state = domain.AppStateInactive
	case domain.ApplicationReactivatedType:
		wm.state = domain.AppStateActive
	case domain.ApplicationRemovedType:
		wm.state = domain.AppStateRemoved
	}
	return nil
}

func (wm *appWriteModel) exists() bool { return wm.state.Exists() }

func (c *Commands) appCommand(cctx Context, wm *appWriteModel, eventType domain.EventType, payload any) *domain.Command {
	return &domain.Command{
		InstanceID:    cctx.InstanceID,
		AggregateType: domain.AggregateTypeApplication,
		AggregateID:   wm.id,
		ResourceOwner: wm.resourceOwner,
		EventType:     eventType,
		Editor:        cctx.editor(),
		Revision:      1,
		Payload:       payload,
	}
}

// requireActiveProject ensures the target project exists before attaching an
// application to it.
func (c *Commands) requireActiveProject(ctx context.Context, instanceID, projectID string) (*projectWriteModel, error) {
	pwm, err := c.projectWriteModelByID(ctx, instanceID, projectID)
	if err != nil {
		return nil, err
	}
	if !pwm.exists() {
		return nil, domain.NewNotFoundError("project")
	}
	return pwm, nil
}

// AddOIDCApp is the input of OIDC application creation.
type AddOIDCApp struct {
	ProjectID      string
	Name           string
	RedirectURIs   []string
	ResponseTypes  []string
	GrantTypes     []string
	AuthMethodType domain.OIDCAuthMethodType
	DevMode        bool
}

// OIDCAppResult returns the credentials exactly once; only the hash persists.
type OIDCAppResult struct {
	AppID        string
	ClientID     string
	ClientSecret string
}

func (c *Commands) AddOIDCApp(ctx context.Context, cctx Context, req AddOIDCApp) (*OIDCAppResult, error) {
	if err := cctx.validate(); err != nil {
		return nil, err
	}
	if err := validators.ValidateStringEmpty(req.Name, "name").Err(); err != nil {
		return nil, err
	}
	if len(req.RedirectURIs) == 0 {
		return nil, domain.NewValidationError("redirectUris", "at least one redirect uri is required")
	}
	for _, uri := range req.RedirectURIs {
		// DevMode admits http://localhost style URIs
		if !req.DevMode && !govalidator.IsURL(uri) {
			return nil, domain.NewValidationError("redirectUris", "invalid redirect uri: "+uri)
		}
	}
	pwm, err := c.requireActiveProject(ctx, cctx.InstanceID, req.ProjectID)
	if err != nil {
		return nil, err
	}

	clientID, err := crypto.GenerateClientID(req.ProjectID)
	if err != nil {
		return nil, err
	}
	var secret, secretHash string
	if req.AuthMethodType != domain.OIDCAuthMethodTypeNone {
		secret, secretHash, err = crypto.GenerateClientSecret()
		if err != nil {
			return nil, err
		}
	}

	appID := c.newID()
	_, err = c.push(ctx, 0,
		&domain.Command{
			InstanceID:    cctx.InstanceID,
			AggregateType: domain.AggregateTypeApplication,
			AggregateID:   appID,
			ResourceOwner: pwm.resourceOwner,
			EventType:     domain.ApplicationAddedType,
			Editor:        cctx.editor(),
			Revision:      1,
			Payload: domain.ApplicationAddedPayload{
				ProjectID: req.ProjectID,
				Name:      req.Name,
				AppType:   domain.AppTypeOIDC,
			},
		},
		&domain.Command{
			InstanceID:    cctx.InstanceID,
			AggregateType: domain.AggregateTypeApplication,
			AggregateID:   appID,
			ResourceOwner: pwm.resourceOwner,
			EventType:     domain.ApplicationOIDCConfigAddedType,
			Editor:        cctx.editor(),
			Revision:      1,
			Payload: domain.OIDCConfigPayload{
				ClientID:         clientID,
				ClientSecretHash: secretHash,
				RedirectURIs:     req.RedirectURIs,
				ResponseTypes:    req.ResponseTypes,
				GrantTypes:       req.GrantTypes,
				AuthMethodType:   req.AuthMethodType,
				DevMode:          req.DevMode,
			},
		},
	)
	if err != nil {
		return nil, err
	}
	return &OIDCAppResult{AppID: appID, ClientID: clientID, ClientSecret: secret}, nil
}

// AddAPIApp is the input of API (machine-to-machine) application creation.
type AddAPIApp struct {
	ProjectID      string
	Name           string
	AuthMethodType domain.OIDCAuthMethodType
}

func (c *Commands) AddAPIApp(ctx context.Context, cctx Context, req AddAPIApp) (*OIDCAppResult, error) {
	if err := cctx.validate(); err != nil {
		return nil, err
	}
	if err := validators.ValidateStringEmpty(req.Name, "name").Err(); err != nil {
		return nil, err
	}
	pwm, err := c.requireActiveProject(ctx, cctx.InstanceID, req.ProjectID)
	if err != nil {
		return nil, err
	}

	clientID, err := crypto.GenerateClientID(req.ProjectID)
	if err != nil {
		return nil, err
	}
	var secret, secretHash string
	if req.AuthMethodType != domain.OIDCAuthMethodTypePrivateKeyJWT {
		secret, secretHash, err = crypto.GenerateClientSecret()
		if err != nil {
			return nil, err
		}
	}

	appID := c.newID()
	_, err = c.push(ctx, 0,
		&domain.Command{
			InstanceID:    cctx.InstanceID,
			AggregateType: domain.AggregateTypeApplication,
			AggregateID:   appID,
			ResourceOwner: pwm.resourceOwner,
			EventType:     domain.ApplicationAddedType,
			Editor:        cctx.editor(),
			Revision:      1,
			Payload: domain.ApplicationAddedPayload{
				ProjectID: req.ProjectID,
				Name:      req.Name,
				AppType:   domain.AppTypeAPI,
			},
		},
		&domain.Command{
			InstanceID:    cctx.InstanceID,
			AggregateType: domain.AggregateTypeApplication,
			AggregateID:   appID,
			ResourceOwner: pwm.resourceOwner,
			EventType:     domain.ApplicationAPIConfigAddedType,
			Editor:        cctx.editor(),
			Revision:      1,
			Payload: domain.APIConfigPayload{
				ClientID:         clientID,
				ClientSecretHash: secretHash,
				AuthMethodType:   req.AuthMethodType,
			},
		},
	)
	if err != nil {
		return nil, err
	}
	return &OIDCAppResult{AppID: appID, ClientID: clientID, ClientSecret: secret}, nil
}

// AddSAMLApp registers a SAML service provider application.
type AddSAMLApp struct {
	ProjectID   string
	Name        string
	EntityID    string
	MetadataURL string
	Metadata    []byte
}

// SAMLAppResult carries the generated app id.
type SAMLAppResult struct {
	AppID string
}

func (c *Commands) AddSAMLApp(ctx context.Context, cctx Context, req AddSAMLApp) (*SAMLAppResult, error) {
	if err := cctx.validate(); err != nil {
		return nil, err
	}
	if err := validators.ValidateStringEmpty(req.Name, "name").Err(); err != nil {
		return nil, err
	}
	if req.EntityID == "" {
		return nil, domain.NewValidationError("entityId", "entity id is required")
	}
	if req.MetadataURL == "" && len(req.Metadata) == 0 {
		return nil, domain.NewValidationError("metadata", "metadata or metadata url is required")
	}
	pwm, err := c.requireActiveProject(ctx, cctx.InstanceID, req.ProjectID)
	if err != nil {
		return nil, err
	}

	appID := c.newID()
	_, err = c.push(ctx, 0,
		&domain.Command{
			InstanceID:    cctx.InstanceID,
			AggregateType: domain.AggregateTypeApplication,
			AggregateID:   appID,
			ResourceOwner: pwm.resourceOwner,
			EventType:     domain.ApplicationAddedType,
			Editor:        cctx.editor(),
			Revision:      1,
			Payload: domain.ApplicationAddedPayload{
				ProjectID: req.ProjectID,
				Name:      req.Name,
				AppType:   domain.AppTypeSAML,
			},
		},
		&domain.Command{
			InstanceID:    cctx.InstanceID,
			AggregateType: domain.AggregateTypeApplication,
			AggregateID:   appID,
			ResourceOwner: pwm.resourceOwner,
			EventType:     domain.ApplicationSAMLConfigAddedType,
			Editor:        cctx.editor(),
			Revision:      1,
			Payload: domain.SAMLConfigPayload{
				EntityID:    req.EntityID,
				MetadataURL: req.MetadataURL,
				Metadata:    req.Metadata,
			},
		},
	)
	if err != nil {
		return nil, err
	}
	return &SAMLAppResult{AppID: appID}, nil
}

func (c *Commands) UpdateApp(ctx context.Context, cctx Context, appID, name string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	if err := validators.ValidateStringEmpty(name, "name").Err(); err != nil {
		return err
	}
	wm, err := c.appWriteModelByID(ctx, cctx.InstanceID, appID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("application")
	}
	if wm.name == name {
		return domain.NewValidationError("name", "name is unchanged")
	}
	_, err = c.push(ctx, wm.version, c.appCommand(cctx, wm, domain.ApplicationChangedType,
		domain.ApplicationChangedPayload{Name: name},
	))
	return err
}

// UpdateOIDCAppConfig replaces the mutable OIDC settings. Credentials are not
// touched here; use RegenerateAppSecret.
func (c *Commands) UpdateOIDCAppConfig(ctx context.Context, cctx Context, appID string, cfg domain.OIDCConfigPayload) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.appWriteModelByID(ctx, cctx.InstanceID, appID)
	if err != nil {
		return err
	}
	if !wm.exists() || wm.appType != domain.AppTypeOIDC {
		return domain.NewNotFoundError("oidc application")
	}
	cfg.ClientID = ""
	cfg.ClientSecretHash = ""
	_, err = c.push(ctx, wm.version, c.appCommand(cctx, wm, domain.ApplicationOIDCConfigChangedType, cfg))
	return err
}

// UpdateAPIAppConfig replaces the mutable API settings. Credentials are not
// touched here; use RegenerateAppSecret.
func (c *Commands) UpdateAPIAppConfig(ctx context.Context, cctx Context, appID string, cfg domain.APIConfigPayload) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.appWriteModelByID(ctx, cctx.InstanceID, appID)
	if err != nil {
		return err
	}
	if !wm.exists() || wm.appType != domain.AppTypeAPI {
		return domain.NewNotFoundError("api application")
	}
	cfg.ClientID = ""
	cfg.ClientSecretHash = ""
	_, err = c.push(ctx, wm.version, c.appCommand(cctx, wm, domain.ApplicationAPIConfigChangedType, cfg))
	return err
}

func (c *Commands) DeactivateApp(ctx context.Context, cctx Context, appID string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.appWriteModelByID(ctx, cctx.InstanceID, appID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("application")
	}
	if wm.state != domain.AppStateActive {
		return domain.NewValidationError("state", "only active applications can be deactivated")
	}
	_, err = c.push(ctx, wm.version, c.appCommand(cctx, wm, domain.ApplicationDeactivatedType, nil))
	return err
}

func (c *Commands) ReactivateApp(ctx context.Context, cctx Context, appID string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.appWriteModelByID(ctx, cctx.InstanceID, appID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("application")
	}
	if wm.state != domain.AppStateInactive {
		return domain.NewValidationError("state", "only inactive applications can be reactivated")
	}
	_, err = c.push(ctx, wm.version, c.appCommand(cctx, wm, domain.ApplicationReactivatedType, nil))
	return err
}

func (c *Commands) RemoveApp(ctx context.Context, cctx Context, appID string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.appWriteModelByID(ctx, cctx.InstanceID, appID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("application")
	}
	_, err = c.push(ctx, wm.version, c.appCommand(cctx, wm, domain.ApplicationRemovedType, nil))
	return err
}

// SecretResult returns the regenerated plaintext secret exactly once.
type SecretResult struct {
	ClientSecret string
}

func (c *Commands) RegenerateAppSecret(ctx context.Context, cctx Context, appID string) (*SecretResult, error) {
	if err := cctx.validate(); err != nil {
		return nil, err
	}
	wm, err := c.appWriteModelByID(ctx, cctx.InstanceID, appID)
	if err != nil {
		return nil, err
	}
	if !wm.exists() {
		return nil, domain.NewNotFoundError("application")
	}
	if wm.appType != domain.AppTypeOIDC && wm.appType != domain.AppTypeAPI {
		return nil, domain.NewValidationError("appType", "only oidc and api applications carry a client secret")
	}
	secret, secretHash, err := crypto.GenerateClientSecret()
	if err != nil {
		return nil, err
	}
	_, err = c.push(ctx, wm.version, c.appCommand(cctx, wm, domain.ApplicationSecretRegeneratedType,
		domain.SecretRegeneratedPayload{ClientSecretHash: secretHash},
	))
	if err != nil {
		return nil, err
	}
	return &SecretResult{ClientSecret: secret}, nil
}
