package command

import (
	"context"
	"time"

	"github.com/plaenen/iamcore/pkg/domain"
)

// samlRequestWriteModel is the SP-initiated SAML request aggregate state.
type samlRequestWriteModel struct {
	id            string
	resourceOwner string
	version       uint64

	state     domain.SAMLRequestState
	sessionID string
	userID    string
}

func (c *Commands) samlRequestWriteModelByID(ctx context.Context, instanceID, requestID string) (*samlRequestWriteModel, error) {
	agg, err := c.es.Aggregate(ctx, instanceID, domain.AggregateTypeSAMLRequest, requestID, 0)
	if err != nil {
		return nil, err
	}
	wm := &samlRequestWriteModel{id: requestID}
	for _, e := range agg.Events {
		switch e.EventType {
		case domain.SAMLRequestAddedType:
			wm.state = domain.SAMLRequestStateAdded
			wm.resourceOwner = e.ResourceOwner
		case domain.SAMLRequestSessionLinkedType:
			payload, err := domain.UnmarshalPayload[domain.SAMLRequestSessionLinkedPayload](e)
			if err != nil {
				return nil, err
			}
			wm.state = domain.SAMLRequestStateSessionLinked
			wm.sessionID = payload.SessionID
			wm.userID = payload.UserID
		case domain.SAMLRequestSucceededType:
			wm.state = domain.SAMLRequestStateSucceeded
		case domain.SAMLRequestFailedType:
			wm.state = domain.SAMLRequestStateFailed
		}
	}
	wm.version = agg.Version
	return wm, nil
}

// samlSessionWriteModel is the issued SAML session aggregate state.
type samlSessionWriteModel struct {
	id            string
	resourceOwner string
	version       uint64

	state domain.SAMLSessionState
}

func (c *Commands) samlSessionWriteModelByID(ctx context.Context, instanceID, sessionID string) (*samlSessionWriteModel, error) {
	agg, err := c.es.Aggregate(ctx, instanceID, domain.AggregateTypeSAMLSession, sessionID, 0)
	if err != nil {
		return nil, err
	}
	wm := &samlSessionWriteModel{id: sessionID}
	for _, e := range agg.Events {
		switch e.EventType {
		case domain.SAMLSessionAddedType:
			wm.state = domain.SAMLSessionStateActive
			wm.resourceOwner = e.ResourceOwner
		case domain.SAMLSessionTerminatedType:
			wm.state = domain.SAMLSessionStateTerminated
		}
	}
	wm.version = agg.Version
	return wm, nil
}

// AddSAMLRequest is the input of recording an incoming AuthnRequest.
type AddSAMLRequest struct {
	LoginClient   string
	ApplicationID string
	ACSURL        string
	RelayState    string
	RequestID     string
	Binding       string
	Issuer        string
	Destination   string
}

// SAMLRequestResult carries the aggregate id of the recorded request.
type SAMLRequestResult struct {
	ID string
}

func (c *Commands) AddSAMLRequest(ctx context.Context, cctx Context, req AddSAMLRequest) (*SAMLRequestResult, error) {
	if err := cctx.validate(); err != nil {
		return nil, err
	}
	if req.ApplicationID == "" {
		return nil, domain.NewValidationError("applicationId", "application id is required")
	}
	if req.ACSURL == "" {
		return nil, domain.NewValidationError("acsUrl", "assertion consumer service url is required")
	}
	if req.Issuer == "" {
		return nil, domain.NewValidationError("issuer", "issuer is required")
	}

	id := c.newID()
	_, err := c.push(ctx, 0, &domain.Command{
		InstanceID:    cctx.InstanceID,
		AggregateType: domain.AggregateTypeSAMLRequest,
		AggregateID:   id,
		ResourceOwner: cctx.InstanceID,
		EventType:     domain.SAMLRequestAddedType,
		Editor:        cctx.editor(),
		Revision:      1,
		Payload: domain.SAMLRequestAddedPayload{
			LoginClient:   req.LoginClient,
			ApplicationID: req.ApplicationID,
			ACSURL:        req.ACSURL,
			RelayState:    req.RelayState,
			RequestID:     req.RequestID,
			Binding:       req.Binding,
			Issuer:        req.Issuer,
			Destination:   req.Destination,
		},
	})
	if err != nil {
		return nil, err
	}
	return &SAMLRequestResult{ID: id}, nil
}

// LinkSessionToSAMLRequest attaches the authenticated session to a pending
// request before the response is issued.
func (c *Commands) LinkSessionToSAMLRequest(ctx context.Context, cctx Context, requestID, sessionID, userID string, authTime time.Time, authMethods []string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	if sessionID == "" {
		return domain.NewValidationError("sessionId", "session id is required")
	}
	if userID == "" {
		return domain.NewValidationError("userId", "user id is required")
	}
	wm, err := c.samlRequestWriteModelByID(ctx, cctx.InstanceID, requestID)
	if err != nil {
		return err
	}
	if wm.state == domain.SAMLRequestStateUnspecified {
		return domain.NewNotFoundError("saml request")
	}
	if wm.state != domain.SAMLRequestStateAdded {
		return domain.NewValidationError("state", "request is not pending")
	}
	_, err = c.push(ctx, wm.version, &domain.Command{
		InstanceID:    cctx.InstanceID,
		AggregateType: domain.AggregateTypeSAMLRequest,
		AggregateID:   requestID,
		ResourceOwner: wm.resourceOwner,
		EventType:     domain.SAMLRequestSessionLinkedType,
		Editor:        cctx.editor(),
		Revision:      1,
		Payload: domain.SAMLRequestSessionLinkedPayload{
			SessionID:   sessionID,
			UserID:      userID,
			AuthTime:    authTime,
			AuthMethods: authMethods,
		},
	})
	return err
}

// SAMLSessionResult carries the aggregate id of the issued SAML session.
type SAMLSessionResult struct {
	SessionID string
}

// HandleSAMLResponse finishes a linked request: marks it succeeded and records
// the SAML session issued with the response.
func (c *Commands) HandleSAMLResponse(ctx context.Context, cctx Context, requestID, entityID, samlResponseID string, expiresAt time.Time) (*SAMLSessionResult, error) {
	if err := cctx.validate(); err != nil {
		return nil, err
	}
	if entityID == "" {
		return nil, domain.NewValidationError("entityId", "entity id is required")
	}
	wm, err := c.samlRequestWriteModelByID(ctx, cctx.InstanceID, requestID)
	if err != nil {
		return nil, err
	}
	if wm.state == domain.SAMLRequestStateUnspecified {
		return nil, domain.NewNotFoundError("saml request")
	}
	if wm.state != domain.SAMLRequestStateSessionLinked {
		return nil, domain.NewValidationError("state", "request has no linked session")
	}

	if _, err := c.push(ctx, wm.version, &domain.Command{
		InstanceID:    cctx.InstanceID,
		AggregateType: domain.AggregateTypeSAMLRequest,
		AggregateID:   requestID,
		ResourceOwner: wm.resourceOwner,
		EventType:     domain.SAMLRequestSucceededType,
		Editor:        cctx.editor(),
		Revision:      1,
	}); err != nil {
		return nil, err
	}

	sessionID := c.newID()
	_, err = c.push(ctx, 0, &domain.Command{
		InstanceID:    cctx.InstanceID,
		AggregateType: domain.AggregateTypeSAMLSession,
		AggregateID:   sessionID,
		ResourceOwner: cctx.InstanceID,
		EventType:     domain.SAMLSessionAddedType,
		Editor:        cctx.editor(),
		Revision:      1,
		Payload: domain.SAMLSessionAddedPayload{
			UserID:         wm.userID,
			SessionID:      wm.sessionID,
			EntityID:       entityID,
			SAMLResponseID: samlResponseID,
			ExpiresAt:      expiresAt,
		},
	})
	if err != nil {
		return nil, err
	}
	return &SAMLSessionResult{SessionID: sessionID}, nil
}

func (c *Commands) FailSAMLRequest(ctx context.Context, cctx Context, requestID, reason string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.samlRequestWriteModelByID(ctx, cctx.InstanceID, requestID)
	if err != nil {
		return err
	}
	if wm.state == domain.SAMLRequestStateUnspecified {
		return domain.NewNotFoundError("saml request")
	}
	if wm.state == domain.SAMLRequestStateSucceeded || wm.state == domain.SAMLRequestStateFailed {
		return domain.NewValidationError("state", "request is already settled")
	}
	_, err = c.push(ctx, wm.version, &domain.Command{
		InstanceID:    cctx.InstanceID,
		AggregateType: domain.AggregateTypeSAMLRequest,
		AggregateID:   requestID,
		ResourceOwner: wm.resourceOwner,
		EventType:     domain.SAMLRequestFailedType,
		Editor:        cctx.editor(),
		Revision:      1,
		Payload:       domain.SAMLRequestFailedPayload{Reason: reason},
	})
	return err
}

func (c *Commands) TerminateSAMLSession(ctx context.Context, cctx Context, sessionID string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.samlSessionWriteModelByID(ctx, cctx.InstanceID, sessionID)
	if err != nil {
		return err
	}
	if wm.state == domain.SAMLSessionStateUnspecified {
		return domain.NewNotFoundError("saml session")
	}
	if wm.state == domain.SAMLSessionStateTerminated {
		return domain.NewValidationError("state", "session is already terminated")
	}
	_, err = c.push(ctx, wm.version, &domain.Command{
		InstanceID:    cctx.InstanceID,
		AggregateType: domain.AggregateTypeSAMLSession,
		AggregateID:   sessionID,
		ResourceOwner: wm.resourceOwner,
		EventType:     domain.SAMLSessionTerminatedType,
		Editor:        cctx.editor(),
		Revision:      1,
	})
	return err
}
