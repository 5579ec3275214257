package command

import (
	"context"

	"github.com/asaskevich/govalidator"
	"github.com/google/uuid"

	"github.com/plaenen/iamcore/pkg/domain"
)

// idpIntentWriteModel is the external login flow aggregate state.
type idpIntentWriteModel struct {
	id            string
	resourceOwner string
	version       uint64

	state domain.IDPIntentState
}

func (c *Commands) idpIntentWriteModelByID(ctx context.Context, instanceID, intentID string) (*idpIntentWriteModel, error) {
	agg, err := c.es.Aggregate(ctx, instanceID, domain.AggregateTypeIDPIntent, intentID, 0)
	if err != nil {
		return nil, err
	}
	wm := &idpIntentWriteModel{id: intentID}
	for _, e := range agg.Events {
		switch e.EventType {
		case domain.IDPIntentStartedType:
			wm.state = domain.IDPIntentStateStarted
			wm.resourceOwner = e.ResourceOwner
		case domain.IDPIntentSucceededType:
			wm.state = domain.IDPIntentStateSucceeded
		case domain.IDPIntentFailedType:
			wm.state = domain.IDPIntentStateFailed
		}
	}
	wm.version = agg.Version
	return wm, nil
}

// StartIDPIntent is the input of an external login flow.
type StartIDPIntent struct {
	IDPID      string
	IDPType    domain.IDPType
	SuccessURL string
	FailureURL string
}

// IDPIntentResult carries the intent id and the state token round-tripped
// through the external provider.
type IDPIntentResult struct {
	IntentID   string
	StateToken string
}

func (c *Commands) StartIDPIntent(ctx context.Context, cctx Context, req StartIDPIntent) (*IDPIntentResult, error) {
	if err := cctx.validate(); err != nil {
		return nil, err
	}
	if req.IDPID == "" {
		return nil, domain.NewValidationError("idpId", "idp id is required")
	}
	if req.IDPType == domain.IDPTypeUnspecified {
		return nil, domain.NewValidationError("idpType", "idp type is required")
	}
	if !govalidator.IsURL(req.SuccessURL) {
		return nil, domain.NewValidationError("successUrl", "not a valid url")
	}
	if !govalidator.IsURL(req.FailureURL) {
		return nil, domain.NewValidationError("failureUrl", "not a valid url")
	}

	intentID := c.newID()
	stateToken := uuid.NewString()
	_, err := c.push(ctx, 0, &domain.Command{
		InstanceID:    cctx.InstanceID,
		AggregateType: domain.AggregateTypeIDPIntent,
		AggregateID:   intentID,
		ResourceOwner: cctx.InstanceID,
		EventType:     domain.IDPIntentStartedType,
		Editor:        cctx.editor(),
		Revision:      1,
		Payload: domain.IDPIntentStartedPayload{
			IDPID:      req.IDPID,
			IDPType:    req.IDPType,
			SuccessURL: req.SuccessURL,
			FailureURL: req.FailureURL,
			State:      stateToken,
		},
	})
	if err != nil {
		return nil, err
	}
	return &IDPIntentResult{IntentID: intentID, StateToken: stateToken}, nil
}

// succeedIDPIntent finishes a started intent with the external identity.
func (c *Commands) succeedIDPIntent(ctx context.Context, cctx Context, intentID string, payload domain.IDPIntentSucceededPayload) error {
	if payload.IDPUser.ID == "" {
		return domain.NewValidationError("idpUser", "external user id is required")
	}
	wm, err := c.idpIntentWriteModelByID(ctx, cctx.InstanceID, intentID)
	if err != nil {
		return err
	}
	if wm.state == domain.IDPIntentStateUnspecified {
		return domain.NewNotFoundError("idp intent")
	}
	if wm.state != domain.IDPIntentStateStarted {
		return domain.NewValidationError("state", "intent is already settled")
	}
	_, err = c.push(ctx, wm.version, &domain.Command{
		InstanceID:    cctx.InstanceID,
		AggregateType: domain.AggregateTypeIDPIntent,
		AggregateID:   intentID,
		ResourceOwner: wm.resourceOwner,
		EventType:     domain.IDPIntentSucceededType,
		Editor:        cctx.editor(),
		Revision:      1,
		Payload:       payload,
	})
	return err
}

// HandleOAuthCallback settles an intent with the identity delivered by a plain
// OAuth provider.
func (c *Commands) HandleOAuthCallback(ctx context.Context, cctx Context, intentID string, idpUser domain.IDPUser, accessToken string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	return c.succeedIDPIntent(ctx, cctx, intentID, domain.IDPIntentSucceededPayload{
		IDPUser:        idpUser,
		IDPAccessToken: accessToken,
	})
}

// HandleOIDCCallback settles an intent with the identity from an OIDC
// provider, keeping the id token alongside the access token.
func (c *Commands) HandleOIDCCallback(ctx context.Context, cctx Context, intentID string, idpUser domain.IDPUser, accessToken, idToken string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	return c.succeedIDPIntent(ctx, cctx, intentID, domain.IDPIntentSucceededPayload{
		IDPUser:        idpUser,
		IDPAccessToken: accessToken,
		IDPIDToken:     idToken,
	})
}

func (c *Commands) FailIDPIntent(ctx context.Context, cctx Context, intentID, reason string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.idpIntentWriteModelByID(ctx, cctx.InstanceID, intentID)
	if err != nil {
		return err
	}
	if wm.state == domain.IDPIntentStateUnspecified {
		return domain.NewNotFoundError("idp intent")
	}
	if wm.state != domain.IDPIntentStateStarted {
		return domain.NewValidationError("state", "intent is already settled")
	}
	_, err = c.push(ctx, wm.version, &domain.Command{
		InstanceID:    cctx.InstanceID,
		AggregateType: domain.AggregateTypeIDPIntent,
		AggregateID:   intentID,
		ResourceOwner: wm.resourceOwner,
		EventType:     domain.IDPIntentFailedType,
		Editor:        cctx.editor(),
		Revision:      1,
		Payload:       domain.IDPIntentFailedPayload{Reason: reason},
	})
	return err
}
