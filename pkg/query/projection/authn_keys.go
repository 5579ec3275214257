package projection

import (
	"context"

	"github.com/plaenen/iamcore/pkg/database"
	"github.com/plaenen/iamcore/pkg/domain"
	handler "github.com/plaenen/iamcore/pkg/projection"
)

const AuthNKeysTable = "projections.authn_keys"

const authNKeysDDL = `
CREATE TABLE IF NOT EXISTS projections.authn_keys (
	key_id TEXT NOT NULL,
	instance_id TEXT NOT NULL,
	resource_owner TEXT NOT NULL,
	user_id TEXT NOT NULL,
	creation_date TIMESTAMPTZ NOT NULL,
	change_date TIMESTAMPTZ NOT NULL,
	sequence BIGINT NOT NULL,
	key_type TEXT NOT NULL,
	expiration_date TIMESTAMPTZ NOT NULL,
	public_key BYTEA NOT NULL,
	PRIMARY KEY (instance_id, key_id)
);
CREATE INDEX IF NOT EXISTS idx_authn_keys_user ON projections.authn_keys (instance_id, user_id);
`

// AuthNKeysProjection folds machine user key events. Key rows are deleted on
// removal and cascade-deleted with their user.
type AuthNKeysProjection struct{}

func NewAuthNKeysProjection() *AuthNKeysProjection { return &AuthNKeysProjection{} }

func (*AuthNKeysProjection) Name() string { return "authn_keys" }

func (*AuthNKeysProjection) Init(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, authNKeysDDL); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (*AuthNKeysProjection) Reset(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, "DELETE FROM projections.authn_keys"); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (p *AuthNKeysProjection) Reducers() []handler.AggregateReducer {
	return []handler.AggregateReducer{
		{
			Aggregate: domain.AggregateTypeUser,
			EventReducers: []handler.EventReducer{
				{Event: domain.UserMachineKeyAddedType, Reduce: p.reduceAdded},
				{Event: domain.UserMachineKeyRemovedType, Reduce: p.reduceRemoved},
				{Event: domain.UserRemovedType, Reduce: p.reduceUserRemoved},
			},
		},
	}
}

func (p *AuthNKeysProjection) reduceAdded(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.MachineKeyAddedPayload](e)
	if err != nil {
		return nil, err
	}
	return handler.NewUpsertStatement(e, AuthNKeysTable,
		[]string{"instance_id", "key_id"},
		[]handler.Column{
			handler.NewCol("key_id", payload.KeyID),
			handler.NewCol("instance_id", e.InstanceID),
			handler.NewCol("resource_owner", e.ResourceOwner),
			handler.NewCol("user_id", e.AggregateID),
			handler.NewCol("creation_date", e.CreationDate),
			handler.NewCol("change_date", e.CreationDate),
			handler.NewCol("sequence", e.AggregateVersion),
			handler.NewCol("key_type", payload.Type),
			handler.NewCol("expiration_date", payload.ExpirationDate),
			handler.NewCol("public_key", payload.PublicKey),
		}), nil
}

func (p *AuthNKeysProjection) reduceRemoved(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.MachineKeyRemovedPayload](e)
	if err != nil {
		return nil, err
	}
	return handler.NewDeleteStatement(e, AuthNKeysTable, []handler.Condition{
		handler.NewCond("key_id", payload.KeyID),
		handler.NewCond("instance_id", e.InstanceID),
	}), nil
}

func (p *AuthNKeysProjection) reduceUserRemoved(e *domain.Event) (*handler.Statement, error) {
	return handler.NewDeleteStatement(e, AuthNKeysTable, []handler.Condition{
		handler.NewCond("instance_id", e.InstanceID),
		handler.NewCond("user_id", e.AggregateID),
	}), nil
}
