package projection

import (
	"context"
	"encoding/json"

	"github.com/plaenen/iamcore/pkg/database"
	"github.com/plaenen/iamcore/pkg/domain"
	handler "github.com/plaenen/iamcore/pkg/projection"
)

const IDPIntentsTable = "projections.idp_intents"

const idpIntentsDDL = `
CREATE TABLE IF NOT EXISTS projections.idp_intents (
	id TEXT NOT NULL,
	instance_id TEXT NOT NULL,
	creation_date TIMESTAMPTZ NOT NULL,
	change_date TIMESTAMPTZ NOT NULL,
	sequence BIGINT NOT NULL,
	state SMALLINT NOT NULL,
	idp_id TEXT NOT NULL,
	idp_type SMALLINT NOT NULL,
	success_url TEXT NOT NULL,
	failure_url TEXT NOT NULL,
	state_token TEXT NOT NULL,
	idp_user JSONB,
	idp_access_token TEXT,
	idp_id_token TEXT,
	user_id TEXT,
	failure_reason TEXT,
	PRIMARY KEY (instance_id, id)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_idp_intents_state_token ON projections.idp_intents (instance_id, state_token);
`

// IDPIntentsProjection folds external login intent events. The callback
// handler resolves intents by their opaque state token, hence the unique
// index.
type IDPIntentsProjection struct{}

func NewIDPIntentsProjection() *IDPIntentsProjection { return &IDPIntentsProjection{} }

func (*IDPIntentsProjection) Name() string { return "idp_intents" }

func (*IDPIntentsProjection) Init(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, idpIntentsDDL); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (*IDPIntentsProjection) Reset(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, "DELETE FROM projections.idp_intents"); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (p *IDPIntentsProjection) Reducers() []handler.AggregateReducer {
	return []handler.AggregateReducer{
		{
			Aggregate: domain.AggregateTypeIDPIntent,
			EventReducers: []handler.EventReducer{
				{Event: domain.IDPIntentStartedType, Reduce: p.reduceStarted},
				{Event: domain.IDPIntentSucceededType, Reduce: p.reduceSucceeded},
				{Event: domain.IDPIntentFailedType, Reduce: p.reduceFailed},
			},
		},
	}
}

func idpIntentConds(e *domain.Event) []handler.Condition {
	return []handler.Condition{
		handler.NewCond("id", e.AggregateID),
		handler.NewCond("instance_id", e.InstanceID),
	}
}

func (p *IDPIntentsProjection) reduceStarted(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.IDPIntentStartedPayload](e)
	if err != nil {
		return nil, err
	}
	return handler.NewUpsertStatement(e, IDPIntentsTable,
		[]string{"instance_id", "id"},
		[]handler.Column{
			handler.NewCol("id", e.AggregateID),
			handler.NewCol("instance_id", e.InstanceID),
			handler.NewCol("creation_date", e.CreationDate),
			handler.NewCol("change_date", e.CreationDate),
			handler.NewCol("sequence", e.AggregateVersion),
			handler.NewCol("state", domain.IDPIntentStateStarted),
			handler.NewCol("idp_id", payload.IDPID),
			handler.NewCol("idp_type", payload.IDPType),
			handler.NewCol("success_url", payload.SuccessURL),
			handler.NewCol("failure_url", payload.FailureURL),
			handler.NewCol("state_token", payload.State),
		}), nil
}

func (p *IDPIntentsProjection) reduceSucceeded(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.IDPIntentSucceededPayload](e)
	if err != nil {
		return nil, err
	}
	idpUser, err := json.Marshal(payload.IDPUser)
	if err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	return handler.NewUpdateStatement(e, IDPIntentsTable,
		[]handler.Column{
			handler.NewCol("change_date", e.CreationDate),
			handler.NewCol("sequence", e.AggregateVersion),
			handler.NewCol("state", domain.IDPIntentStateSucceeded),
			handler.NewCol("idp_user", idpUser),
			handler.NewCol("idp_access_token", payload.IDPAccessToken),
			handler.NewCol("idp_id_token", payload.IDPIDToken),
			handler.NewCol("user_id", payload.UserID),
		},
		idpIntentConds(e)), nil
}

func (p *IDPIntentsProjection) reduceFailed(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.IDPIntentFailedPayload](e)
	if err != nil {
		return nil, err
	}
	return handler.NewUpdateStatement(e, IDPIntentsTable,
		[]handler.Column{
			handler.NewCol("change_date", e.CreationDate),
			handler.NewCol("sequence", e.AggregateVersion),
			handler.NewCol("state", domain.IDPIntentStateFailed),
			handler.NewCol("failure_reason", payload.Reason),
		},
		idpIntentConds(e)), nil
}
