package command

import (
	"context"

	"github.com/plaenen/iamcore/pkg/domain"
)

// userGrantWriteModel is the user grant aggregate state.
type userGrantWriteModel struct {
	id            string
	resourceOwner string
	version       uint64

	state     domain.GrantState
	userID    string
	projectID string
	roles     []string
}

func (c *Commands) userGrantWriteModelByID(ctx context.Context, instanceID, grantID string) (*userGrantWriteModel, error) {
	agg, err := c.es.Aggregate(ctx, instanceID, domain.AggregateTypeUserGrant, grantID, 0)
	if err != nil {
		return nil, err
	}
	wm := &userGrantWriteModel{id: grantID}
	for _, e := range agg.Events {
		if err := wm.reduce(e); err != nil {
			return nil, err
		}
	}
	wm.version = agg.Version
	return wm, nil
}

func (wm *userGrantWriteModel) reduce(e *domain.Event) error {
	switch e.EventType {
	case domain.UserGrantAddedType:
		payload, err := domain.UnmarshalPayload[domain.UserGrantAddedPayload](e)
		if err != nil {
			return err
		}
		wm.state = domain.GrantStateActive
		wm.userID = payload.UserID
		wm.projectID = payload.ProjectID
		wm.roles = payload.Roles
		wm.resourceOwner = e.ResourceOwner
	case domain.UserGrantChangedType:
		payload, err := domain.UnmarshalPayload[domain.UserGrantChangedPayload](e)
		if err != nil {
			return err
		}
		wm.roles = payload.Roles
	case domain.UserGrantDeactivatedType:
		wm.state = domain.GrantStateInactive
	case domain.UserGrantReactivatedType:
		wm.state = domain.GrantStateActive
	case domain.UserGrantRemovedType:
		wm.state = domain.GrantStateRemoved
	}
	return nil
}

func (wm *userGrantWriteModel) exists() bool { return wm.state.Exists() }

func (c *Commands) userGrantCommand(cctx Context, wm *userGrantWriteModel, eventType domain.EventType, payload any) *domain.Command {
	return &domain.Command{
		InstanceID:    cctx.InstanceID,
		AggregateType: domain.AggregateTypeUserGrant,
		AggregateID:   wm.id,
		ResourceOwner: wm.resourceOwner,
		EventType:     eventType,
		Editor:        cctx.editor(),
		Revision:      1,
		Payload:       payload,
	}
}

// AddUserGrant is the input of granting project roles to a user.
type AddUserGrant struct {
	UserID         string
	ProjectID      string
	ProjectGrantID string
	Roles          []string
}

// UserGrantResult carries the generated grant id.
type UserGrantResult struct {
	GrantID string
}

func (c *Commands) AddUserGrant(ctx context.Context, cctx Context, req AddUserGrant) (*UserGrantResult, error) {
	if err := cctx.validate(); err != nil {
		return nil, err
	}
	if cctx.OrgID == "" {
		return nil, domain.NewValidationError("orgID", "organization id is required")
	}
	if req.UserID == "" {
		return nil, domain.NewValidationError("userID", "user id is required")
	}
	if req.ProjectID == "" {
		return nil, domain.NewValidationError("projectID", "project id is required")
	}
	uwm, err := c.userWriteModelByID(ctx, cctx.InstanceID, req.UserID)
	if err != nil {
		return nil, err
	}
	if !uwm.exists() {
		return nil, domain.NewNotFoundError("user")
	}
	pwm, err := c.projectWriteModelByID(ctx, cctx.InstanceID, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if !pwm.exists() {
		return nil, domain.NewNotFoundError("project")
	}
	if req.ProjectGrantID != "" {
		if _, ok := pwm.grants[req.ProjectGrantID]; !ok {
			return nil, domain.NewNotFoundError("project grant")
		}
	}

	grantID := c.newID()
	_, err = c.push(ctx, 0, &domain.Command{
		InstanceID:    cctx.InstanceID,
		AggregateType: domain.AggregateTypeUserGrant,
		AggregateID:   grantID,
		ResourceOwner: cctx.OrgID,
		EventType:     domain.UserGrantAddedType,
		Editor:        cctx.editor(),
		Revision:      1,
		Payload: domain.UserGrantAddedPayload{
			UserID:         req.UserID,
			ProjectID:      req.ProjectID,
			ProjectGrantID: req.ProjectGrantID,
			Roles:          req.Roles,
		},
	})
	if err != nil {
		return nil, err
	}
	return &UserGrantResult{GrantID: grantID}, nil
}

func (c *Commands) ChangeUserGrant(ctx context.Context, cctx Context, grantID string, roles []string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	if len(roles) == 0 {
		return domain.NewValidationError("roles", "at least one role is required")
	}
	wm, err := c.userGrantWriteModelByID(ctx, cctx.InstanceID, grantID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("user grant")
	}
	_, err = c.push(ctx, wm.version, c.userGrantCommand(cctx, wm, domain.UserGrantChangedType,
		domain.UserGrantChangedPayload{Roles: roles},
	))
	return err
}

func (c *Commands) DeactivateUserGrant(ctx context.Context, cctx Context, grantID string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.userGrantWriteModelByID(ctx, cctx.InstanceID, grantID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("user grant")
	}
	if wm.state != domain.GrantStateActive {
		return domain.NewValidationError("state", "only active grants can be deactivated")
	}
	_, err = c.push(ctx, wm.version, c.userGrantCommand(cctx, wm, domain.UserGrantDeactivatedType, nil))
	return err
}

func (c *Commands) ReactivateUserGrant(ctx context.Context, cctx Context, grantID string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.userGrantWriteModelByID(ctx, cctx.InstanceID, grantID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("user grant")
	}
	if wm.state != domain.GrantStateInactive {
		return domain.NewValidationError("state", "only inactive grants can be reactivated")
	}
	_, err = c.push(ctx, wm.version, c.userGrantCommand(cctx, wm, domain.UserGrantReactivatedType, nil))
	return err
}

func (c *Commands) RemoveUserGrant(ctx context.Context, cctx Context, grantID string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.userGrantWriteModelByID(ctx, cctx.InstanceID, grantID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("user grant")
	}
	_, err = c.push(ctx, wm.version, c.userGrantCommand(cctx, wm, domain.UserGrantRemovedType, nil))
	return err
}
