package command

import (
	"context"

	"github.com/asaskevich/govalidator"

	"github.com/plaenen/iamcore/pkg/crypto"
	"github.com/plaenen/iamcore/pkg/domain"
	"github.com/plaenen/iamcore/pkg/validators"
)

type orgDomainState struct {
	verified       bool
	primary        bool
	validationCode string
}

// orgWriteModel is the org aggregate state including its domains and members.
type orgWriteModel struct {
	id      string
	version uint64

	state   domain.OrgState
	name    string
	domains map[string]*orgDomainState
	members map[string][]string
}

func (c *Commands) orgWriteModelByID(ctx context.Context, instanceID, orgID string) (*orgWriteModel, error) {
	agg, err := c.es.Aggregate(ctx, instanceID, domain.AggregateTypeOrg, orgID, 0)
	if err != nil {
		return nil, err
	}
	wm := &orgWriteModel{
		id:      orgID,
		domains: make(map[string]*orgDomainState),
		members: make(map[string][]string),
	}
	for _, e := range agg.Events {
		if err := wm.reduce(e); err != nil {
			return nil, err
		}
	}
	wm.version = agg.Version
	return wm, nil
}

func (wm *orgWriteModel) reduce(e *domain.Event) error {
	switch e.EventType {
	case domain.OrgAddedType:
		payload, err := domain.UnmarshalPayload[domain.OrgAddedPayload](e)
		if err != nil {
			return err
		}
		wm.state = domain.OrgStateActive
		wm.name = payload.Name
	case domain.OrgChangedType:
		payload, err := domain.UnmarshalPayload[domain.OrgChangedPayload](e)
		if err != nil {
			return err
		}
		wm.name = payload.Name
	case domain.OrgDeactivatedType:
		wm.state = domain.OrgStateInactive
	case domain.OrgReactivatedType:
		wm.state = domain.OrgStateActive
	case domain.OrgRemovedType:
		wm.state = domain.OrgStateRemoved
	case domain.OrgDomainAddedType:
		payload, err := domain.UnmarshalPayload[domain.OrgDomainAddedPayload](e)
		if err != nil {
			return err
		}
		wm.domains[payload.Domain] = &orgDomainState{validationCode: payload.ValidationCode}
	case domain.OrgDomainVerifiedType:
		payload, err := domain.UnmarshalPayload[domain.OrgDomainVerifiedPayload](e)
		if err != nil {
			return err
		}
		if d, ok := wm.domains[payload.Domain]; ok {
			d.verified = true
		}
	case domain.OrgDomainPrimarySetType:
		payload, err := domain.UnmarshalPayload[domain.OrgDomainPrimarySetPayload](e)
		if err != nil {
			return err
		}
		for name, d := range wm.domains {
			d.primary = name == payload.Domain
		}
	case domain.OrgDomainRemovedType:
		payload, err := domain.UnmarshalPayload[domain.OrgDomainRemovedPayload](e)
		if err != nil {
			return err
		}
		delete(wm.domains, payload.Domain)
	case domain.OrgMemberAddedType, domain.OrgMemberChangedType:
		payload, err := domain.UnmarshalPayload[domain.MemberPayload](e)
		if err != nil {
			return err
		}
		wm.members[payload.UserID] = payload.Roles
	case domain.OrgMemberRemovedType:
		payload, err := domain.UnmarshalPayload[domain.MemberPayload](e)
		if err != nil {
			return err
		}
		delete(wm.members, payload.UserID)
	}
	return nil
}

func (wm *orgWriteModel) exists() bool { return wm.state.Exists() }

// orgCommand builds a command on the org aggregate with shared boilerplate.
func (c *Commands) orgCommand(cctx Context, orgID string, eventType domain.EventType, payload any, constraints ...*domain.UniqueConstraint) *domain.Command {
	return &domain.Command{
		InstanceID:        cctx.InstanceID,
		AggregateType:     domain.AggregateTypeOrg,
		AggregateID:       orgID,
		ResourceOwner:     orgID,
		EventType:         eventType,
		Editor:            cctx.editor(),
		Revision:          1,
		Payload:           payload,
		UniqueConstraints: constraints,
	}
}

// OrgResult carries the generated org id.
type OrgResult struct {
	OrgID string
}

func (c *Commands) AddOrganization(ctx context.Context, cctx Context, name string) (*OrgResult, error) {
	if err := cctx.validate(); err != nil {
		return nil, err
	}
	if err := validators.ValidateStringEmpty(name, "name").Err(); err != nil {
		return nil, err
	}
	orgID := c.newID()
	_, err := c.push(ctx, 0, c.orgCommand(cctx, orgID, domain.OrgAddedType,
		domain.OrgAddedPayload{Name: name},
		domain.NewClaim(uniqueOrgNames, normalized(name), "name"),
	))
	if err != nil {
		return nil, err
	}
	return &OrgResult{OrgID: orgID}, nil
}

func (c *Commands) UpdateOrganization(ctx context.Context, cctx Context, orgID, name string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	if err := validators.ValidateStringEmpty(name, "name").Err(); err != nil {
		return err
	}
	wm, err := c.orgWriteModelByID(ctx, cctx.InstanceID, orgID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("organization")
	}
	if wm.name == name {
		return domain.NewValidationError("name", "name is unchanged")
	}
	_, err = c.push(ctx, wm.version, c.orgCommand(cctx, orgID, domain.OrgChangedType,
		domain.OrgChangedPayload{Name: name},
		domain.NewRelease(uniqueOrgNames, normalized(wm.name)),
		domain.NewClaim(uniqueOrgNames, normalized(name), "name"),
	))
	return err
}

func (c *Commands) DeactivateOrganization(ctx context.Context, cctx Context, orgID string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.orgWriteModelByID(ctx, cctx.InstanceID, orgID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("organization")
	}
	if wm.state != domain.OrgStateActive {
		return domain.NewValidationError("state", "only active organizations can be deactivated")
	}
	_, err = c.push(ctx, wm.version, c.orgCommand(cctx, orgID, domain.OrgDeactivatedType, nil))
	return err
}

func (c *Commands) ReactivateOrganization(ctx context.Context, cctx Context, orgID string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.orgWriteModelByID(ctx, cctx.InstanceID, orgID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("organization")
	}
	if wm.state != domain.OrgStateInactive {
		return domain.NewValidationError("state", "only inactive organizations can be reactivated")
	}
	_, err = c.push(ctx, wm.version, c.orgCommand(cctx, orgID, domain.OrgReactivatedType, nil))
	return err
}

func (c *Commands) RemoveOrganization(ctx context.Context, cctx Context, orgID string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.orgWriteModelByID(ctx, cctx.InstanceID, orgID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("organization")
	}
	constraints := []*domain.UniqueConstraint{
		domain.NewRelease(uniqueOrgNames, normalized(wm.name)),
	}
	for name, d := range wm.domains {
		if d.verified {
			constraints = append(constraints, domain.NewRelease(uniqueOrgDomain, normalized(name)))
		}
	}
	_, err = c.push(ctx, wm.version, c.orgCommand(cctx, orgID, domain.OrgRemovedType, nil, constraints...))
	return err
}

// OrgDomainResult carries the validation code the caller proves ownership with.
type OrgDomainResult struct {
	ValidationCode string
}

func (c *Commands) AddOrganizationDomain(ctx context.Context, cctx Context, orgID, name string, validationType domain.DomainValidationType) (*OrgDomainResult, error) {
	if err := cctx.validate(); err != nil {
		return nil, err
	}
	if !govalidator.IsDNSName(name) {
		return nil, domain.NewValidationError("domain", "not a valid DNS name")
	}
	wm, err := c.orgWriteModelByID(ctx, cctx.InstanceID, orgID)
	if err != nil {
		return nil, err
	}
	if !wm.exists() {
		return nil, domain.NewNotFoundError("organization")
	}
	if _, ok := wm.domains[name]; ok {
		return nil, domain.NewValidationError("domain", "domain already added")
	}
	code, err := crypto.GenerateVerificationCode()
	if err != nil {
		return nil, err
	}
	_, err = c.push(ctx, wm.version, c.orgCommand(cctx, orgID, domain.OrgDomainAddedType,
		domain.OrgDomainAddedPayload{
			Domain:         name,
			ValidationType: validationType,
			ValidationCode: code,
		},
	))
	if err != nil {
		return nil, err
	}
	return &OrgDomainResult{ValidationCode: code}, nil
}

// VerifyOrganizationDomain marks the domain verified. Verified domains are
// unique across the instance; the claim happens here, not on add.
func (c *Commands) VerifyOrganizationDomain(ctx context.Context, cctx Context, orgID, name string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.orgWriteModelByID(ctx, cctx.InstanceID, orgID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("organization")
	}
	d, ok := wm.domains[name]
	if !ok {
		return domain.NewNotFoundError("organization domain")
	}
	if d.verified {
		return domain.NewValidationError("domain", "domain is already verified")
	}
	_, err = c.push(ctx, wm.version, c.orgCommand(cctx, orgID, domain.OrgDomainVerifiedType,
		domain.OrgDomainVerifiedPayload{Domain: name},
		domain.NewClaim(uniqueOrgDomain, normalized(name), "domain"),
	))
	return err
}

func (c *Commands) SetPrimaryOrganizationDomain(ctx context.Context, cctx Context, orgID, name string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.orgWriteModelByID(ctx, cctx.InstanceID, orgID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("organization")
	}
	d, ok := wm.domains[name]
	if !ok {
		return domain.NewNotFoundError("organization domain")
	}
	if !d.verified {
		return domain.NewValidationError("domain", "only verified domains can be primary")
	}
	if d.primary {
		return domain.NewValidationError("domain", "domain is already primary")
	}
	_, err = c.push(ctx, wm.version, c.orgCommand(cctx, orgID, domain.OrgDomainPrimarySetType,
		domain.OrgDomainPrimarySetPayload{Domain: name},
	))
	return err
}

func (c *Commands) RemoveOrganizationDomain(ctx context.Context, cctx Context, orgID, name string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.orgWriteModelByID(ctx, cctx.InstanceID, orgID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("organization")
	}
	d, ok := wm.domains[name]
	if !ok {
		return domain.NewNotFoundError("organization domain")
	}
	if d.primary {
		return domain.NewValidationError("domain", "the primary domain cannot be removed")
	}
	var constraints []*domain.UniqueConstraint
	if d.verified {
		constraints = append(constraints, domain.NewRelease(uniqueOrgDomain, normalized(name)))
	}
	_, err = c.push(ctx, wm.version, c.orgCommand(cctx, orgID, domain.OrgDomainRemovedType,
		domain.OrgDomainRemovedPayload{Domain: name}, constraints...))
	return err
}

func (c *Commands) AddOrganizationMember(ctx context.Context, cctx Context, orgID, userID string, roles []string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	if userID == "" {
		return domain.NewValidationError("userID", "user id is required")
	}
	if len(roles) == 0 {
		return domain.NewValidationError("roles", "at least one role is required")
	}
	wm, err := c.orgWriteModelByID(ctx, cctx.InstanceID, orgID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("organization")
	}
	if _, ok := wm.members[userID]; ok {
		return domain.NewValidationError("userID", "user is already a member")
	}
	_, err = c.push(ctx, wm.version, c.orgCommand(cctx, orgID, domain.OrgMemberAddedType,
		domain.MemberPayload{UserID: userID, Roles: roles},
	))
	return err
}

func (c *Commands) UpdateOrganizationMember(ctx context.Context, cctx Context, orgID, userID string, roles []string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	if len(roles) == 0 {
		return domain.NewValidationError("roles", "at least one role is required")
	}
	wm, err := c.orgWriteModelByID(ctx, cctx.InstanceID, orgID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("organization")
	}
	if _, ok := wm.members[userID]; !ok {
		return domain.NewNotFoundError("organization member")
	}
	_, err = c.push(ctx, wm.version, c.orgCommand(cctx, orgID, domain.OrgMemberChangedType,
		domain.MemberPayload{UserID: userID, Roles: roles},
	))
	return err
}

func (c *Commands) RemoveOrganizationMember(ctx context.Context, cctx Context, orgID, userID string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.orgWriteModelByID(ctx, cctx.InstanceID, orgID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("organization")
	}
	if _, ok := wm.members[userID]; !ok {
		return domain.NewNotFoundError("organization member")
	}
	_, err = c.push(ctx, wm.version, c.orgCommand(cctx, orgID, domain.OrgMemberRemovedType,
		domain.MemberPayload{UserID: userID},
	))
	return err
}
