package projection

import (
	"context"

	"github.com/plaenen/iamcore/pkg/database"
	"github.com/plaenen/iamcore/pkg/domain"
	handler "github.com/plaenen/iamcore/pkg/projection"
)

const (
	OrgsTable       = "projections.orgs"
	OrgDomainsTable = "projections.org_domains"
)

const orgsDDL = `
CREATE TABLE IF NOT EXISTS projections.orgs (
	id TEXT NOT NULL,
	instance_id TEXT NOT NULL,
	resource_owner TEXT NOT NULL,
	creation_date TIMESTAMPTZ NOT NULL,
	change_date TIMESTAMPTZ NOT NULL,
	sequence BIGINT NOT NULL,
	state SMALLINT NOT NULL,
	name TEXT NOT NULL,
	primary_domain TEXT,
	PRIMARY KEY (instance_id, id)
);
CREATE INDEX IF NOT EXISTS idx_orgs_name ON projections.orgs (instance_id, name);
`

// OrgsProjection folds org lifecycle events into the orgs table. The primary
// domain is denormalized here from the domain events.
type OrgsProjection struct{}

func NewOrgsProjection() *OrgsProjection { return &OrgsProjection{} }

func (*OrgsProjection) Name() string { return "orgs" }

func (*OrgsProjection) Init(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, orgsDDL); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (*OrgsProjection) Reset(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, "DELETE FROM projections.orgs"); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (p *OrgsProjection) Reducers() []handler.AggregateReducer {
	return []handler.AggregateReducer{
		{
			Aggregate: domain.AggregateTypeOrg,
			EventReducers: []handler.EventReducer{
				{Event: domain.OrgAddedType, Reduce: p.reduceAdded},
				{Event: domain.OrgChangedType, Reduce: p.reduceChanged},
				{Event: domain.OrgDeactivatedType, Reduce: p.reduceState(domain.OrgStateInactive)},
				{Event: domain.OrgReactivatedType, Reduce: p.reduceState(domain.OrgStateActive)},
				{Event: domain.OrgRemovedType, Reduce: p.reduceState(domain.OrgStateRemoved)},
				{Event: domain.OrgDomainPrimarySetType, Reduce: p.reducePrimaryDomainSet},
			},
		},
	}
}

func orgConds(e *domain.Event) []handler.Condition {
	return []handler.Condition{
		handler.NewCond("id", e.AggregateID),
		handler.NewCond("instance_id", e.InstanceID),
	}
}

func orgChangeCols(e *domain.Event) []handler.Column {
	return []handler.Column{
		handler.NewCol("change_date", e.CreationDate),
		handler.NewCol("sequence", e.AggregateVersion),
	}
}

func (p *OrgsProjection) reduceAdded(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.OrgAddedPayload](e)
	if err != nil {
		return nil, err
	}
	return handler.NewUpsertStatement(e, OrgsTable,
		[]string{"instance_id", "id"},
		[]handler.Column{
			handler.NewCol("id", e.AggregateID),
			handler.NewCol("instance_id", e.InstanceID),
			handler.NewCol("resource_owner", e.ResourceOwner),
			handler.NewCol("creation_date", e.CreationDate),
			handler.NewCol("change_date", e.CreationDate),
			handler.NewCol("sequence", e.AggregateVersion),
			handler.NewCol("state", domain.OrgStateActive),
			handler.NewCol("name", payload.Name),
		}), nil
}

func (p *OrgsProjection) reduceChanged(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.OrgChangedPayload](e)
	if err != nil {
		return nil, err
	}
	cols := append(orgChangeCols(e), handler.NewCol("name", payload.Name))
	return handler.NewUpdateStatement(e, OrgsTable, cols, orgConds(e)), nil
}

func (p *OrgsProjection) reducePrimaryDomainSet(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.OrgDomainPrimarySetPayload](e)
	if err != nil {
		return nil, err
	}
	cols := append(orgChangeCols(e), handler.NewCol("primary_domain", payload.Domain))
	return handler.NewUpdateStatement(e, OrgsTable, cols, orgConds(e)), nil
}

func (p *OrgsProjection) reduceState(state domain.OrgState) handler.ReduceFunc {
	return func(e *domain.Event) (*handler.Statement, error) {
		cols := append(orgChangeCols(e), handler.NewCol("state", state))
		return handler.NewUpdateStatement(e, OrgsTable, cols, orgConds(e)), nil
	}
}

const orgDomainsDDL = `
CREATE TABLE IF NOT EXISTS projections.org_domains (
	instance_id TEXT NOT NULL,
	org_id TEXT NOT NULL,
	domain TEXT NOT NULL,
	creation_date TIMESTAMPTZ NOT NULL,
	change_date TIMESTAMPTZ NOT NULL,
	sequence BIGINT NOT NULL,
	is_verified BOOLEAN NOT NULL DEFAULT false,
	is_primary BOOLEAN NOT NULL DEFAULT false,
	validation_type SMALLINT NOT NULL DEFAULT 0,
	validation_code TEXT,
	PRIMARY KEY (instance_id, org_id, domain)
);
CREATE INDEX IF NOT EXISTS idx_org_domains_domain ON projections.org_domains (instance_id, domain);
`

// OrgDomainsProjection folds org domain events into the org_domains table.
// Domain rows are deleted (not tombstoned) on removal.
type OrgDomainsProjection struct{}

func NewOrgDomainsProjection() *OrgDomainsProjection { return &OrgDomainsProjection{} }

func (*OrgDomainsProjection) Name() string { return "org_domains" }

func (*OrgDomainsProjection) Init(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, orgDomainsDDL); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (*OrgDomainsProjection) Reset(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, "DELETE FROM projections.org_domains"); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (p *OrgDomainsProjection) Reducers() []handler.AggregateReducer {
	return []handler.AggregateReducer{
		{
			Aggregate: domain.AggregateTypeOrg,
			EventReducers: []handler.EventReducer{
				{Event: domain.OrgDomainAddedType, Reduce: p.reduceAdded},
				{Event: domain.OrgDomainVerifiedType, Reduce: p.reduceVerified},
				{Event: domain.OrgDomainPrimarySetType, Reduce: p.reducePrimarySet},
				{Event: domain.OrgDomainRemovedType, Reduce: p.reduceRemoved},
				{Event: domain.OrgRemovedType, Reduce: p.reduceOrgRemoved},
			},
		},
	}
}

func (p *OrgDomainsProjection) reduceAdded(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.OrgDomainAddedPayload](e)
	if err != nil {
		return nil, err
	}
	return handler.NewUpsertStatement(e, OrgDomainsTable,
		[]string{"instance_id", "org_id", "domain"},
		[]handler.Column{
			handler.NewCol("instance_id", e.InstanceID),
			handler.NewCol("org_id", e.AggregateID),
			handler.NewCol("domain", payload.Domain),
			handler.NewCol("creation_date", e.CreationDate),
			handler.NewCol("change_date", e.CreationDate),
			handler.NewCol("sequence", e.AggregateVersion),
			handler.NewCol("validation_type", payload.ValidationType),
			handler.NewCol("validation_code", payload.ValidationCode),
		}), nil
}

func (p *OrgDomainsProjection) reduceVerified(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.OrgDomainVerifiedPayload](e)
	if err != nil {
		return nil, err
	}
	return handler.NewUpdateStatement(e, OrgDomainsTable,
		[]handler.Column{
			handler.NewCol("change_date", e.CreationDate),
			handler.NewCol("sequence", e.AggregateVersion),
			handler.NewCol("is_verified", true),
		},
		[]handler.Condition{
			handler.NewCond("instance_id", e.InstanceID),
			handler.NewCond("org_id", e.AggregateID),
			handler.NewCond("domain", payload.Domain),
		}), nil
}

// reducePrimarySet clears the previous primary flag, then sets the new one.
func (p *OrgDomainsProjection) reducePrimarySet(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.OrgDomainPrimarySetPayload](e)
	if err != nil {
		return nil, err
	}
	return handler.NewMultiStatement(e,
		handler.AddUpdate(OrgDomainsTable,
			[]handler.Column{
				handler.NewCol("change_date", e.CreationDate),
				handler.NewCol("sequence", e.AggregateVersion),
				handler.NewCol("is_primary", false),
			},
			[]handler.Condition{
				handler.NewCond("instance_id", e.InstanceID),
				handler.NewCond("org_id", e.AggregateID),
				handler.NewCond("is_primary", true),
			}),
		handler.AddUpdate(OrgDomainsTable,
			[]handler.Column{
				handler.NewCol("change_date", e.CreationDate),
				handler.NewCol("sequence", e.AggregateVersion),
				handler.NewCol("is_primary", true),
			},
			[]handler.Condition{
				handler.NewCond("instance_id", e.InstanceID),
				handler.NewCond("org_id", e.AggregateID),
				handler.NewCond("domain", payload.Domain),
			}),
	), nil
}

func (p *OrgDomainsProjection) reduceRemoved(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.OrgDomainRemovedPayload](e)
	if err != nil {
		return nil, err
	}
	return handler.NewDeleteStatement(e, OrgDomainsTable, []handler.Condition{
		handler.NewCond("instance_id", e.InstanceID),
		handler.NewCond("org_id", e.AggregateID),
		handler.NewCond("domain", payload.Domain),
	}), nil
}

func (p *OrgDomainsProjection) reduceOrgRemoved(e *domain.Event) (*handler.Statement, error) {
	return handler.NewDeleteStatement(e, OrgDomainsTable, []handler.Condition{
		handler.NewCond("instance_id", e.InstanceID),
		handler.NewCond("org_id", e.AggregateID),
	}), nil
}
