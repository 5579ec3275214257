package projection

import (
	"context"

	"github.com/plaenen/iamcore/pkg/database"
	"github.com/plaenen/iamcore/pkg/domain"
	handler "github.com/plaenen/iamcore/pkg/projection"
)

const (
	SAMLRequestsTable = "projections.saml_requests"
	SAMLSessionsTable = "projections.saml_sessions"
)

const samlRequestsDDL = `
CREATE TABLE IF NOT EXISTS projections.saml_requests (
	id TEXT NOT NULL,
	instance_id TEXT NOT NULL,
	creation_date TIMESTAMPTZ NOT NULL,
	change_date TIMESTAMPTZ NOT NULL,
	sequence BIGINT NOT NULL,
	state SMALLINT NOT NULL,
	login_client TEXT,
	application_id TEXT NOT NULL,
	acs_url TEXT NOT NULL,
	relay_state TEXT,
	request_id TEXT NOT NULL,
	binding TEXT,
	issuer TEXT NOT NULL,
	destination TEXT,
	session_id TEXT,
	user_id TEXT,
	auth_time TIMESTAMPTZ,
	auth_methods TEXT[],
	failure_reason TEXT,
	PRIMARY KEY (instance_id, id)
);
`

// SAMLRequestsProjection folds SAML request events into the saml_requests
// table. The linked session columns stay NULL until a session is linked.
type SAMLRequestsProjection struct{}

func NewSAMLRequestsProjection() *SAMLRequestsProjection { return &SAMLRequestsProjection{} }

func (*SAMLRequestsProjection) Name() string { return "saml_requests" }

func (*SAMLRequestsProjection) Init(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, samlRequestsDDL); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (*SAMLRequestsProjection) Reset(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, "DELETE FROM projections.saml_requests"); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (p *SAMLRequestsProjection) Reducers() []handler.AggregateReducer {
	return []handler.AggregateReducer{
		{
			Aggregate: domain.AggregateTypeSAMLRequest,
			EventReducers: []handler.EventReducer{
				{Event: domain.SAMLRequestAddedType, Reduce: p.reduceAdded},
				{Event: domain.SAMLRequestSessionLinkedType, Reduce: p.reduceSessionLinked},
				{Event: domain.SAMLRequestSucceededType, Reduce: p.reduceSucceeded},
				{Event: domain.SAMLRequestFailedType, Reduce: p.reduceFailed},
			},
		},
	}
}

func samlRequestConds(e *domain.Event) []handler.Condition {
	return []handler.Condition{
		handler.NewCond("id", e.AggregateID),
		handler.NewCond("instance_id", e.InstanceID),
	}
}

func samlRequestChangeCols(e *domain.Event) []handler.Column {
	return []handler.Column{
		handler.NewCol("change_date", e.CreationDate),
		handler.NewCol("sequence", e.AggregateVersion),
	}
}

func (p *SAMLRequestsProjection) reduceAdded(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.SAMLRequestAddedPayload](e)
	if err != nil {
		return nil, err
	}
	return handler.NewUpsertStatement(e, SAMLRequestsTable,
		[]string{"instance_id", "id"},
		[]handler.Column{
			handler.NewCol("id", e.AggregateID),
			handler.NewCol("instance_id", e.InstanceID),
			handler.NewCol("creation_date", e.CreationDate),
			handler.NewCol("change_date", e.CreationDate),
			handler.NewCol("sequence", e.AggregateVersion),
			handler.NewCol("state", domain.SAMLRequestStateAdded),
			handler.NewCol("login_client", payload.LoginClient),
			handler.NewCol("application_id", payload.ApplicationID),
			handler.NewCol("acs_url", payload.ACSURL),
			handler.NewCol("relay_state", payload.RelayState),
			handler.NewCol("request_id", payload.RequestID),
			handler.NewCol("binding", payload.Binding),
			handler.NewCol("issuer", payload.Issuer),
			handler.NewCol("destination", payload.Destination),
		}), nil
}

func (p *SAMLRequestsProjection) reduceSessionLinked(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.SAMLRequestSessionLinkedPayload](e)
	if err != nil {
		return nil, err
	}
	cols := append(samlRequestChangeCols(e),
		handler.NewCol("state", domain.SAMLRequestStateSessionLinked),
		handler.NewCol("session_id", payload.SessionID),
		handler.NewCol("user_id", payload.UserID),
		handler.NewCol("auth_time", payload.AuthTime),
		handler.NewCol("auth_methods", payload.AuthMethods),
	)
	return handler.NewUpdateStatement(e, SAMLRequestsTable, cols, samlRequestConds(e)), nil
}

func (p *SAMLRequestsProjection) reduceSucceeded(e *domain.Event) (*handler.Statement, error) {
	cols := append(samlRequestChangeCols(e), handler.NewCol("state", domain.SAMLRequestStateSucceeded))
	return handler.NewUpdateStatement(e, SAMLRequestsTable, cols, samlRequestConds(e)), nil
}

func (p *SAMLRequestsProjection) reduceFailed(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.SAMLRequestFailedPayload](e)
	if err != nil {
		return nil, err
	}
	cols := append(samlRequestChangeCols(e),
		handler.NewCol("state", domain.SAMLRequestStateFailed),
		handler.NewCol("failure_reason", payload.Reason),
	)
	return handler.NewUpdateStatement(e, SAMLRequestsTable, cols, samlRequestConds(e)), nil
}

const samlSessionsDDL = `
CREATE TABLE IF NOT EXISTS projections.saml_sessions (
	id TEXT NOT NULL,
	instance_id TEXT NOT NULL,
	creation_date TIMESTAMPTZ NOT NULL,
	change_date TIMESTAMPTZ NOT NULL,
	sequence BIGINT NOT NULL,
	state SMALLINT NOT NULL,
	user_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	saml_response_id TEXT,
	expires_at TIMESTAMPTZ,
	PRIMARY KEY (instance_id, id)
);
CREATE INDEX IF NOT EXISTS idx_saml_sessions_user ON projections.saml_sessions (instance_id, user_id);
`

// SAMLSessionsProjection folds issued SAML session events.
type SAMLSessionsProjection struct{}

func NewSAMLSessionsProjection() *SAMLSessionsProjection { return &SAMLSessionsProjection{} }

func (*SAMLSessionsProjection) Name() string { return "saml_sessions" }

func (*SAMLSessionsProjection) Init(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, samlSessionsDDL); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (*SAMLSessionsProjection) Reset(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, "DELETE FROM projections.saml_sessions"); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (p *SAMLSessionsProjection) Reducers() []handler.AggregateReducer {
	return []handler.AggregateReducer{
		{
			Aggregate: domain.AggregateTypeSAMLSession,
			EventReducers: []handler.EventReducer{
				{Event: domain.SAMLSessionAddedType, Reduce: p.reduceAdded},
				{Event: domain.SAMLSessionTerminatedType, Reduce: p.reduceTerminated},
			},
		},
	}
}

func (p *SAMLSessionsProjection) reduceAdded(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.SAMLSessionAddedPayload](e)
	if err != nil {
		return nil, err
	}
	return handler.NewUpsertStatement(e, SAMLSessionsTable,
		[]string{"instance_id", "id"},
		[]handler.Column{
			handler.NewCol("id", e.AggregateID),
			handler.NewCol("instance_id", e.InstanceID),
			handler.NewCol("creation_date", e.CreationDate),
			handler.NewCol("change_date", e.CreationDate),
			handler.NewCol("sequence", e.AggregateVersion),
			handler.NewCol("state", domain.SAMLSessionStateActive),
			handler.NewCol("user_id", payload.UserID),
			handler.NewCol("session_id", payload.SessionID),
			handler.NewCol("entity_id", payload.EntityID),
			handler.NewCol("saml_response_id", payload.SAMLResponseID),
			handler.NewCol("expires_at", payload.ExpiresAt),
		}), nil
}

func (p *SAMLSessionsProjection) reduceTerminated(e *domain.Event) (*handler.Statement, error) {
	return handler.NewUpdateStatement(e, SAMLSessionsTable,
		[]handler.Column{
			handler.NewCol("change_date", e.CreationDate),
			handler.NewCol("sequence", e.AggregateVersion),
			handler.NewCol("state", domain.SAMLSessionStateTerminated),
		},
		[]handler.Condition{
			handler.NewCond("id", e.AggregateID),
			handler.NewCond("instance_id", e.InstanceID),
		}), nil
}
