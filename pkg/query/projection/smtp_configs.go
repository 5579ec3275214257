package projection

import (
	"context"

	"github.com/plaenen/iamcore/pkg/database"
	"github.com/plaenen/iamcore/pkg/domain"
	handler "github.com/plaenen/iamcore/pkg/projection"
)

const SMTPConfigsTable = "projections.smtp_configs"

const smtpConfigsDDL = `
CREATE TABLE IF NOT EXISTS projections.smtp_configs (
	id TEXT NOT NULL,
	instance_id TEXT NOT NULL,
	creation_date TIMESTAMPTZ NOT NULL,
	change_date TIMESTAMPTZ NOT NULL,
	sequence BIGINT NOT NULL,
	state SMALLINT NOT NULL,
	description TEXT,
	sender_address TEXT NOT NULL,
	sender_name TEXT,
	reply_to_address TEXT,
	host TEXT NOT NULL,
	username TEXT,
	password TEXT,
	tls BOOLEAN NOT NULL DEFAULT false,
	PRIMARY KEY (instance_id, id)
);
`

// SMTPConfigsProjection folds instance SMTP config events. At most one config
// per instance is active; activation deactivates the previous one in the same
// statement.
type SMTPConfigsProjection struct{}

func NewSMTPConfigsProjection() *SMTPConfigsProjection { return &SMTPConfigsProjection{} }

func (*SMTPConfigsProjection) Name() string { return "smtp_configs" }

func (*SMTPConfigsProjection) Init(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, smtpConfigsDDL); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (*SMTPConfigsProjection) Reset(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, "DELETE FROM projections.smtp_configs"); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (p *SMTPConfigsProjection) Reducers() []handler.AggregateReducer {
	return []handler.AggregateReducer{
		{
			Aggregate: domain.AggregateTypeInstance,
			EventReducers: []handler.EventReducer{
				{Event: domain.InstanceSMTPConfigAddedType, Reduce: p.reduceAdded},
				{Event: domain.InstanceSMTPConfigChangedType, Reduce: p.reduceChanged},
				{Event: domain.InstanceSMTPConfigActivatedType, Reduce: p.reduceActivated},
				{Event: domain.InstanceSMTPConfigDeactivatedType, Reduce: p.reduceDeactivated},
				{Event: domain.InstanceSMTPConfigRemovedType, Reduce: p.reduceRemoved},
			},
		},
	}
}

func smtpChangeCols(e *domain.Event) []handler.Column {
	return []handler.Column{
		handler.NewCol("change_date", e.CreationDate),
		handler.NewCol("sequence", e.AggregateVersion),
	}
}

func smtpConds(e *domain.Event, configID string) []handler.Condition {
	return []handler.Condition{
		handler.NewCond("id", configID),
		handler.NewCond("instance_id", e.InstanceID),
	}
}

func (p *SMTPConfigsProjection) reduceAdded(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.SMTPConfigAddedPayload](e)
	if err != nil {
		return nil, err
	}
	return handler.NewUpsertStatement(e, SMTPConfigsTable,
		[]string{"instance_id", "id"},
		[]handler.Column{
			handler.NewCol("id", payload.ConfigID),
			handler.NewCol("instance_id", e.InstanceID),
			handler.NewCol("creation_date", e.CreationDate),
			handler.NewCol("change_date", e.CreationDate),
			handler.NewCol("sequence", e.AggregateVersion),
			handler.NewCol("state", domain.SMTPConfigStateInactive),
			handler.NewCol("description", payload.Description),
			handler.NewCol("sender_address", payload.SenderAddress),
			handler.NewCol("sender_name", payload.SenderName),
			handler.NewCol("reply_to_address", payload.ReplyToAddress),
			handler.NewCol("host", payload.Host),
			handler.NewCol("username", payload.User),
			handler.NewCol("password", payload.Password),
			handler.NewCol("tls", payload.TLS),
		}), nil
}

func (p *SMTPConfigsProjection) reduceChanged(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.SMTPConfigChangedPayload](e)
	if err != nil {
		return nil, err
	}
	cols := smtpChangeCols(e)
	if payload.Description != nil {
		cols = append(cols, handler.NewCol("description", *payload.Description))
	}
	if payload.SenderAddress != nil {
		cols = append(cols, handler.NewCol("sender_address", *payload.SenderAddress))
	}
	if payload.SenderName != nil {
		cols = append(cols, handler.NewCol("sender_name", *payload.SenderName))
	}
	if payload.ReplyToAddress != nil {
		cols = append(cols, handler.NewCol("reply_to_address", *payload.ReplyToAddress))
	}
	if payload.Host != nil {
		cols = append(cols, handler.NewCol("host", *payload.Host))
	}
	if payload.User != nil {
		cols = append(cols, handler.NewCol("username", *payload.User))
	}
	if payload.Password != nil {
		cols = append(cols, handler.NewCol("password", *payload.Password))
	}
	if payload.TLS != nil {
		cols = append(cols, handler.NewCol("tls", *payload.TLS))
	}
	return handler.NewUpdateStatement(e, SMTPConfigsTable, cols, smtpConds(e, payload.ConfigID)), nil
}

// reduceActivated demotes whatever config was active before promoting the
// named one, keeping the single-active invariant inside one statement.
func (p *SMTPConfigsProjection) reduceActivated(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.SMTPConfigIDPayload](e)
	if err != nil {
		return nil, err
	}
	return handler.NewMultiStatement(e,
		handler.AddUpdate(SMTPConfigsTable,
			append(smtpChangeCols(e), handler.NewCol("state", domain.SMTPConfigStateInactive)),
			[]handler.Condition{
				handler.NewCond("instance_id", e.InstanceID),
				handler.NewCond("state", domain.SMTPConfigStateActive),
			}),
		handler.AddUpdate(SMTPConfigsTable,
			append(smtpChangeCols(e), handler.NewCol("state", domain.SMTPConfigStateActive)),
			smtpConds(e, payload.ConfigID)),
	), nil
}

func (p *SMTPConfigsProjection) reduceDeactivated(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.SMTPConfigIDPayload](e)
	if err != nil {
		return nil, err
	}
	cols := append(smtpChangeCols(e), handler.NewCol("state", domain.SMTPConfigStateInactive))
	return handler.NewUpdateStatement(e, SMTPConfigsTable, cols, smtpConds(e, payload.ConfigID)), nil
}

func (p *SMTPConfigsProjection) reduceRemoved(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.SMTPConfigIDPayload](e)
	if err != nil {
		return nil, err
	}
	return handler.NewDeleteStatement(e, SMTPConfigsTable, smtpConds(e, payload.ConfigID)), nil
}
