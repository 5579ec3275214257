// Package projection declares the read-model projections: one table set per
// projection, reducers returning statements, idempotent DDL in Init.
package projection

import (
	"context"

	"github.com/plaenen/iamcore/pkg/database"
	"github.com/plaenen/iamcore/pkg/domain"
	handler "github.com/plaenen/iamcore/pkg/projection"
)

const UsersTable = "projections.users"

const usersDDL = `
CREATE TABLE IF NOT EXISTS projections.users (
	id TEXT NOT NULL,
	instance_id TEXT NOT NULL,
	resource_owner TEXT NOT NULL,
	creation_date TIMESTAMPTZ NOT NULL,
	change_date TIMESTAMPTZ NOT NULL,
	sequence BIGINT NOT NULL,
	state SMALLINT NOT NULL,
	type TEXT NOT NULL,
	username TEXT NOT NULL,
	first_name TEXT,
	last_name TEXT,
	display_name TEXT,
	preferred_language TEXT,
	gender SMALLINT,
	email TEXT,
	email_verified BOOLEAN NOT NULL DEFAULT false,
	phone TEXT,
	password_hash TEXT,
	otp_secret TEXT,
	otp_verified BOOLEAN NOT NULL DEFAULT false,
	machine_name TEXT,
	machine_description TEXT,
	PRIMARY KEY (instance_id, id)
);
CREATE INDEX IF NOT EXISTS idx_users_username ON projections.users (instance_id, resource_owner, username);
CREATE INDEX IF NOT EXISTS idx_users_email ON projections.users (instance_id, email);
`

// UsersProjection folds user events into the users table. Human and machine
// users share the table, discriminated by the type column.
type UsersProjection struct{}

func NewUsersProjection() *UsersProjection { return &UsersProjection{} }

func (*UsersProjection) Name() string { return "users" }

func (*UsersProjection) Init(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, usersDDL); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (*UsersProjection) Reset(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, "DELETE FROM projections.users"); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (p *UsersProjection) Reducers() []handler.AggregateReducer {
	return []handler.AggregateReducer{
		{
			Aggregate: domain.AggregateTypeUser,
			EventReducers: []handler.EventReducer{
				{Event: domain.UserHumanAddedType, Reduce: p.reduceHumanAdded},
				{Event: domain.UserMachineAddedType, Reduce: p.reduceMachineAdded},
				{Event: domain.UserHumanProfileChangedType, Reduce: p.reduceProfileChanged},
				{Event: domain.UserHumanEmailChangedType, Reduce: p.reduceEmailChanged},
				{Event: domain.UserHumanEmailVerifiedType, Reduce: p.reduceEmailVerified},
				{Event: domain.UserHumanPhoneChangedType, Reduce: p.reducePhoneChanged},
				{Event: domain.UserHumanPhoneRemovedType, Reduce: p.reducePhoneRemoved},
				{Event: domain.UserUsernameChangedType, Reduce: p.reduceUsernameChanged},
				{Event: domain.UserHumanPasswordChangedType, Reduce: p.reducePasswordChanged},
				{Event: domain.UserHumanOTPAddedType, Reduce: p.reduceOTPAdded},
				{Event: domain.UserHumanOTPVerifiedType, Reduce: p.reduceOTPVerified},
				{Event: domain.UserHumanOTPRemovedType, Reduce: p.reduceOTPRemoved},
				{Event: domain.UserDeactivatedType, Reduce: p.reduceState(domain.UserStateInactive)},
				{Event: domain.UserReactivatedType, Reduce: p.reduceState(domain.UserStateActive)},
				{Event: domain.UserLockedType, Reduce: p.reduceState(domain.UserStateLocked)},
				{Event: domain.UserUnlockedType, Reduce: p.reduceState(domain.UserStateActive)},
				{Event: domain.UserRemovedType, Reduce: p.reduceState(domain.UserStateRemoved)},
			},
		},
	}
}

// userConds identifies the user row of the event's aggregate.
func userConds(e *domain.Event) []handler.Condition {
	return []handler.Condition{
		handler.NewCond("id", e.AggregateID),
		handler.NewCond("instance_id", e.InstanceID),
	}
}

// userChangeCols stamps the bookkeeping columns every update carries.
func userChangeCols(e *domain.Event) []handler.Column {
	return []handler.Column{
		handler.NewCol("change_date", e.CreationDate),
		handler.NewCol("sequence", e.AggregateVersion),
	}
}

func (p *UsersProjection) reduceHumanAdded(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.HumanAddedPayload](e)
	if err != nil {
		return nil, err
	}
	return handler.NewUpsertStatement(e, UsersTable,
		[]string{"instance_id", "id"},
		[]handler.Column{
			handler.NewCol("id", e.AggregateID),
			handler.NewCol("instance_id", e.InstanceID),
			handler.NewCol("resource_owner", e.ResourceOwner),
			handler.NewCol("creation_date", e.CreationDate),
			handler.NewCol("change_date", e.CreationDate),
			handler.NewCol("sequence", e.AggregateVersion),
			handler.NewCol("state", domain.UserStateActive),
			handler.NewCol("type", "human"),
			handler.NewCol("username", payload.Username),
			handler.NewCol("first_name", payload.FirstName),
			handler.NewCol("last_name", payload.LastName),
			handler.NewCol("display_name", payload.DisplayName),
			handler.NewCol("preferred_language", payload.PreferredLanguage),
			handler.NewCol("gender", payload.Gender),
			handler.NewCol("email", payload.Email),
			handler.NewCol("email_verified", payload.EmailVerified),
			handler.NewCol("phone", payload.Phone),
			handler.NewCol("password_hash", payload.PasswordHash),
		}), nil
}

func (p *UsersProjection) reduceMachineAdded(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.MachineAddedPayload](e)
	if err != nil {
		return nil, err
	}
	return handler.NewUpsertStatement(e, UsersTable,
		[]string{"instance_id", "id"},
		[]handler.Column{
			handler.NewCol("id", e.AggregateID),
			handler.NewCol("instance_id", e.InstanceID),
			handler.NewCol("resource_owner", e.ResourceOwner),
			handler.NewCol("creation_date", e.CreationDate),
			handler.NewCol("change_date", e.CreationDate),
			handler.NewCol("sequence", e.AggregateVersion),
			handler.NewCol("state", domain.UserStateActive),
			handler.NewCol("type", "machine"),
			handler.NewCol("username", payload.Username),
			handler.NewCol("machine_name", payload.Name),
			handler.NewCol("machine_description", payload.Description),
		}), nil
}

func (p *UsersProjection) reduceProfileChanged(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.HumanProfileChangedPayload](e)
	if err != nil {
		return nil, err
	}
	cols := userChangeCols(e)
	if payload.FirstName != nil {
		cols = append(cols, handler.NewCol("first_name", *payload.FirstName))
	}
	if payload.LastName != nil {
		cols = append(cols, handler.NewCol("last_name", *payload.LastName))
	}
	if payload.DisplayName != nil {
		cols = append(cols, handler.NewCol("display_name", *payload.DisplayName))
	}
	if payload.PreferredLanguage != nil {
		cols = append(cols, handler.NewCol("preferred_language", *payload.PreferredLanguage))
	}
	if payload.Gender != nil {
		cols = append(cols, handler.NewCol("gender", *payload.Gender))
	}
	return handler.NewUpdateStatement(e, UsersTable, cols, userConds(e)), nil
}

func (p *UsersProjection) reduceEmailChanged(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.HumanEmailChangedPayload](e)
	if err != nil {
		return nil, err
	}
	cols := append(userChangeCols(e),
		handler.NewCol("email", payload.Email),
		handler.NewCol("email_verified", false),
	)
	return handler.NewUpdateStatement(e, UsersTable, cols, userConds(e)), nil
}

func (p *UsersProjection) reduceEmailVerified(e *domain.Event) (*handler.Statement, error) {
	cols := append(userChangeCols(e), handler.NewCol("email_verified", true))
	return handler.NewUpdateStatement(e, UsersTable, cols, userConds(e)), nil
}

func (p *UsersProjection) reducePhoneChanged(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.HumanPhoneChangedPayload](e)
	if err != nil {
		return nil, err
	}
	cols := append(userChangeCols(e), handler.NewCol("phone", payload.Phone))
	return handler.NewUpdateStatement(e, UsersTable, cols, userConds(e)), nil
}

func (p *UsersProjection) reducePhoneRemoved(e *domain.Event) (*handler.Statement, error) {
	cols := append(userChangeCols(e), handler.NewCol("phone", nil))
	return handler.NewUpdateStatement(e, UsersTable, cols, userConds(e)), nil
}

func (p *UsersProjection) reduceUsernameChanged(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.UsernameChangedPayload](e)
	if err != nil {
		return nil, err
	}
	cols := append(userChangeCols(e), handler.NewCol("username", payload.Username))
	return handler.NewUpdateStatement(e, UsersTable, cols, userConds(e)), nil
}

func (p *UsersProjection) reducePasswordChanged(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.HumanPasswordChangedPayload](e)
	if err != nil {
		return nil, err
	}
	cols := append(userChangeCols(e), handler.NewCol("password_hash", payload.PasswordHash))
	return handler.NewUpdateStatement(e, UsersTable, cols, userConds(e)), nil
}

func (p *UsersProjection) reduceOTPAdded(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.HumanOTPAddedPayload](e)
	if err != nil {
		return nil, err
	}
	cols := append(userChangeCols(e),
		handler.NewCol("otp_secret", payload.Secret),
		handler.NewCol("otp_verified", false),
	)
	return handler.NewUpdateStatement(e, UsersTable, cols, userConds(e)), nil
}

func (p *UsersProjection) reduceOTPVerified(e *domain.Event) (*handler.Statement, error) {
	cols := append(userChangeCols(e), handler.NewCol("otp_verified", true))
	return handler.NewUpdateStatement(e, UsersTable, cols, userConds(e)), nil
}

func (p *UsersProjection) reduceOTPRemoved(e *domain.Event) (*handler.Statement, error) {
	cols := append(userChangeCols(e),
		handler.NewCol("otp_secret", nil),
		handler.NewCol("otp_verified", false),
	)
	return handler.NewUpdateStatement(e, UsersTable, cols, userConds(e)), nil
}

// reduceState handles the lifecycle transitions; removed is a tombstone, the
// row stays for audit.
func (p *UsersProjection) reduceState(state domain.UserState) handler.ReduceFunc {
	return func(e *domain.Event) (*handler.Statement, error) {
		cols := append(userChangeCols(e), handler.NewCol("state", state))
		return handler.NewUpdateStatement(e, UsersTable, cols, userConds(e)), nil
	}
}
