package projection

import (
	"context"

	"github.com/plaenen/iamcore/pkg/database"
	"github.com/plaenen/iamcore/pkg/domain"
	handler "github.com/plaenen/iamcore/pkg/projection"
)

const AppsTable = "projections.apps"

// One wide table for all three app variants; the app_type column
// discriminates which config columns are meaningful.
const appsDDL = `
CREATE TABLE IF NOT EXISTS projections.apps (
	id TEXT NOT NULL,
	instance_id TEXT NOT NULL,
	resource_owner TEXT NOT NULL,
	project_id TEXT NOT NULL,
	creation_date TIMESTAMPTZ NOT NULL,
	change_date TIMESTAMPTZ NOT NULL,
	sequence BIGINT NOT NULL,
	state SMALLINT NOT NULL,
	name TEXT NOT NULL,
	app_type SMALLINT NOT NULL,
	client_id TEXT,
	client_secret_hash TEXT,
	redirect_uris TEXT[],
	response_types TEXT[],
	grant_types TEXT[],
	auth_method_type SMALLINT,
	dev_mode BOOLEAN NOT NULL DEFAULT false,
	entity_id TEXT,
	metadata_url TEXT,
	metadata BYTEA,
	PRIMARY KEY (instance_id, id)
);
CREATE INDEX IF NOT EXISTS idx_apps_project ON projections.apps (instance_id, project_id);
CREATE INDEX IF NOT EXISTS idx_apps_client_id ON projections.apps (instance_id, client_id);
`

// AppsProjection folds application events into the apps table.
type AppsProjection struct{}

func NewAppsProjection() *AppsProjection { return &AppsProjection{} }

func (*AppsProjection) Name() string { return "apps" }

func (*AppsProjection) Init(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, appsDDL); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (*AppsProjection) Reset(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, "DELETE FROM projections.apps"); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (p *AppsProjection) Reducers() []handler.AggregateReducer {
	return []handler.AggregateReducer{
		{
			Aggregate: domain.AggregateTypeApplication,
			EventReducers: []handler.EventReducer{
				{Event: domain.ApplicationAddedType, Reduce: p.reduceAdded},
				{Event: domain.ApplicationChangedType, Reduce: p.reduceChanged},
				{Event: domain.ApplicationOIDCConfigAddedType, Reduce: p.reduceOIDCConfig},
				{Event: domain.ApplicationOIDCConfigChangedType, Reduce: p.reduceOIDCConfig},
				{Event: domain.ApplicationAPIConfigAddedType, Reduce: p.reduceAPIConfig},
				{Event: domain.ApplicationAPIConfigChangedType, Reduce: p.reduceAPIConfig},
				{Event: domain.ApplicationSAMLConfigAddedType, Reduce: p.reduceSAMLConfig},
				{Event: domain.ApplicationSAMLConfigChangedType, Reduce: p.reduceSAMLConfig},
				{Event: domain.ApplicationSecretRegeneratedType, Reduce: p.reduceSecretRegenerated},
				{Event: domain.ApplicationDeactivatedType, Reduce: p.reduceState(domain.AppStateInactive)},
				{Event: domain.ApplicationReactivatedType, Reduce: p.reduceState(domain.AppStateActive)},
				{Event: domain.ApplicationRemovedType, Reduce: p.reduceState(domain.AppStateRemoved)},
			},
		},
	}
}

func appConds(e *domain.Event) []handler.Condition {
	return []handler.Condition{
		handler.NewCond("id", e.AggregateID),
		handler.NewCond("instance_id", e.InstanceID),
	}
}

func appChangeCols(e *domain.Event) []handler.Column {
	return []handler.Column{
		handler.NewCol("change_date", e.CreationDate),
		handler.NewCol("sequence", e.AggregateVersion),
	}
}

func (p *AppsProjection) reduceAdded(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.ApplicationAddedPayload](e)
	if err != nil {
		return nil, err
	}
	return handler.NewUpsertStatement(e, AppsTable,
		[]string{"instance_id", "id"},
		[]handler.Column{
			handler.NewCol("id", e.AggregateID),
			handler.NewCol("instance_id", e.InstanceID),
			handler.NewCol("resource_owner", e.ResourceOwner),
			handler.NewCol("project_id", payload.ProjectID),
			handler.NewCol("creation_date", e.CreationDate),
			handler.NewCol("change_date", e.CreationDate),
			handler.NewCol("sequence", e.AggregateVersion),
			handler.NewCol("state", domain.AppStateActive),
			handler.NewCol("name", payload.Name),
			handler.NewCol("app_type", payload.AppType),
		}), nil
}

func (p *AppsProjection) reduceChanged(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.ApplicationChangedPayload](e)
	if err != nil {
		return nil, err
	}
	cols := append(appChangeCols(e), handler.NewCol("name", payload.Name))
	return handler.NewUpdateStatement(e, AppsTable, cols, appConds(e)), nil
}

func (p *AppsProjection) reduceOIDCConfig(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.OIDCConfigPayload](e)
	if err != nil {
		return nil, err
	}
	cols := appChangeCols(e)
	if payload.ClientID != "" {
		cols = append(cols, handler.NewCol("client_id", payload.ClientID))
	}
	if payload.ClientSecretHash != "" {
		cols = append(cols, handler.NewCol("client_secret_hash", payload.ClientSecretHash))
	}
	cols = append(cols,
		handler.NewCol("redirect_uris", payload.RedirectURIs),
		handler.NewCol("response_types", payload.ResponseTypes),
		handler.NewCol("grant_types", payload.GrantTypes),
		handler.NewCol("auth_method_type", payload.AuthMethodType),
		handler.NewCol("dev_mode", payload.DevMode),
	)
	return handler.NewUpdateStatement(e, AppsTable, cols, appConds(e)), nil
}

func (p *AppsProjection) reduceAPIConfig(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.APIConfigPayload](e)
	if err != nil {
		return nil, err
	}
	cols := appChangeCols(e)
	if payload.ClientID != "" {
		cols = append(cols, handler.NewCol("client_id", payload.ClientID))
	}
	if payload.ClientSecretHash != "" {
		cols = append(cols, handler.NewCol("client_secret_hash", payload.ClientSecretHash))
	}
	cols = append(cols, handler.NewCol("auth_method_type", payload.AuthMethodType))
	return handler.NewUpdateStatement(e, AppsTable, cols, appConds(e)), nil
}

func (p *AppsProjection) reduceSAMLConfig(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.SAMLConfigPayload](e)
	if err != nil {
		return nil, err
	}
	cols := append(appChangeCols(e),
		handler.NewCol("entity_id", payload.EntityID),
		handler.NewCol("metadata_url", payload.MetadataURL),
		handler.NewCol("metadata", payload.Metadata),
	)
	return handler.NewUpdateStatement(e, AppsTable, cols, appConds(e)), nil
}

func (p *AppsProjection) reduceSecretRegenerated(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.SecretRegeneratedPayload](e)
	if err != nil {
		return nil, err
	}
	cols := append(appChangeCols(e), handler.NewCol("client_secret_hash", payload.ClientSecretHash))
	return handler.NewUpdateStatement(e, AppsTable, cols, appConds(e)), nil
}

func (p *AppsProjection) reduceState(state domain.AppState) handler.ReduceFunc {
	return func(e *domain.Event) (*handler.Statement, error) {
		cols := append(appChangeCols(e), handler.NewCol("state", state))
		return handler.NewUpdateStatement(e, AppsTable, cols, appConds(e)), nil
	}
}
