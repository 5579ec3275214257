package command

import (
	"context"

	"github.com/asaskevich/govalidator"

	"github.com/plaenen/iamcore/pkg/domain"
	"github.com/plaenen/iamcore/pkg/validators"
)

// instanceWriteModel covers the instance aggregate: members and SMTP configs.
// The aggregate id is the instance id itself.
type instanceWriteModel struct {
	version uint64

	members map[string][]string
	smtp    map[string]domain.SMTPConfigState
}

func (c *Commands) instanceWriteModel(ctx context.Context, instanceID string) (*instanceWriteModel, error) {
	agg, err := c.es.Aggregate(ctx, instanceID, domain.AggregateTypeInstance, instanceID, 0)
	if err != nil {
		return nil, err
	}
	wm := &instanceWriteModel{
		members: make(map[string][]string),
		smtp:    make(map[string]domain.SMTPConfigState),
	}
	for _, e := range agg.Events {
		if err := wm.reduce(e); err != nil {
			return nil, err
		}
	}
	wm.version = agg.Version
	return wm, nil
}

func (wm *instanceWriteModel) reduce(e *domain.Event) error {
	switch e.EventType {
	case domain.InstanceMemberAddedType, domain.InstanceMemberChangedType:
		payload, err := domain.UnmarshalPayload[domain.MemberPayload](e)
		if err != nil {
			return err
		}
		wm.members[payload.UserID] = payload.Roles
	case domain.InstanceMemberRemovedType:
		payload, err := domain.UnmarshalPayload[domain.MemberPayload](e)
		if err != nil {
			return err
		}
		delete(wm.members, payload.UserID)
	case domain.InstanceSMTPConfigAddedType:
		payload, err := domain.UnmarshalPayload[domain.SMTPConfigAddedPayload](e)
		if err != nil {
			return err
		}
		wm.smtp[payload.ConfigID] = domain.SMTPConfigStateInactive
	case domain.InstanceSMTPConfigActivatedType:
		payload, err := domain.UnmarshalPayload[domain.SMTPConfigIDPayload](e)
		if err != nil {
			return err
		}
		for id, state := range wm.smtp {
			if state == domain.SMTPConfigStateActive {
				wm.smtp[id] = domain.SMTPConfigStateInactive
			}
		}
		wm.smtp[payload.ConfigID] = domain.SMTPConfigStateActive
	case domain.InstanceSMTPConfigDeactivatedType:
		payload, err := domain.UnmarshalPayload[domain.SMTPConfigIDPayload](e)
		if err != nil {
			return err
		}
		wm.smtp[payload.ConfigID] = domain.SMTPConfigStateInactive
	case domain.InstanceSMTPConfigRemovedType:
		payload, err := domain.UnmarshalPayload[domain.SMTPConfigIDPayload](e)
		if err != nil {
			return err
		}
		delete(wm.smtp, payload.ConfigID)
	}
	return nil
}

func (c *Commands) instanceCommand(cctx Context, eventType domain.EventType, payload any) *domain.Command {
	return &domain.Command{
		InstanceID:    cctx.InstanceID,
		AggregateType: domain.AggregateTypeInstance,
		AggregateID:   cctx.InstanceID,
		ResourceOwner: cctx.InstanceID,
		EventType:     eventType,
		Editor:        cctx.editor(),
		Revision:      1,
		Payload:       payload,
	}
}

func (c *Commands) AddInstanceMember(ctx context.Context, cctx Context, userID string, roles []string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	if userID == "" {
		return domain.NewValidationError("userID", "user id is required")
	}
	if len(roles) == 0 {
		return domain.NewValidationError("roles", "at least one role is required")
	}
	wm, err := c.instanceWriteModel(ctx, cctx.InstanceID)
	if err != nil {
		return err
	}
	if _, ok := wm.members[userID]; ok {
		return domain.NewValidationError("userID", "user is already a member")
	}
	_, err = c.push(ctx, wm.version, c.instanceCommand(cctx, domain.InstanceMemberAddedType,
		domain.MemberPayload{UserID: userID, Roles: roles},
	))
	return err
}

func (c *Commands) UpdateInstanceMember(ctx context.Context, cctx Context, userID string, roles []string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	if len(roles) == 0 {
		return domain.NewValidationError("roles", "at least one role is required")
	}
	wm, err := c.instanceWriteModel(ctx, cctx.InstanceID)
	if err != nil {
		return err
	}
	if _, ok := wm.members[userID]; !ok {
		return domain.NewNotFoundError("instance member")
	}
	_, err = c.push(ctx, wm.version, c.instanceCommand(cctx, domain.InstanceMemberChangedType,
		domain.MemberPayload{UserID: userID, Roles: roles},
	))
	return err
}

func (c *Commands) RemoveInstanceMember(ctx context.Context, cctx Context, userID string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.instanceWriteModel(ctx, cctx.InstanceID)
	if err != nil {
		return err
	}
	if _, ok := wm.members[userID]; !ok {
		return domain.NewNotFoundError("instance member")
	}
	_, err = c.push(ctx, wm.version, c.instanceCommand(cctx, domain.InstanceMemberRemovedType,
		domain.MemberPayload{UserID: userID},
	))
	return err
}

// AddSMTPConfig is the input of SMTP configuration creation. New configs start
// inactive; ActivateSMTPConfig switches delivery over.
type AddSMTPConfig struct {
	Description    string
	SenderAddress  string
	SenderName     string
	ReplyToAddress string
	Host           string
	User           string
	Password       string
	TLS            bool
}

// SMTPConfigResult carries the generated config id.
type SMTPConfigResult struct {
	ConfigID string
}

func (c *Commands) AddSMTPConfig(ctx context.Context, cctx Context, req AddSMTPConfig) (*SMTPConfigResult, error) {
	if err := cctx.validate(); err != nil {
		return nil, err
	}
	if err := validators.ValidateEmail("sender_address", req.SenderAddress).Err(); err != nil {
		return nil, err
	}
	if req.Host == "" {
		return nil, domain.NewValidationError("host", "smtp host is required")
	}
	if !govalidator.IsDialString(req.Host) {
		return nil, domain.NewValidationError("host", "host must be host:port")
	}
	wm, err := c.instanceWriteModel(ctx, cctx.InstanceID)
	if err != nil {
		return nil, err
	}
	configID := c.newID()
	_, err = c.push(ctx, wm.version, c.instanceCommand(cctx, domain.InstanceSMTPConfigAddedType,
		domain.SMTPConfigAddedPayload{
			ConfigID:       configID,
			Description:    req.Description,
			SenderAddress:  req.SenderAddress,
			SenderName:     req.SenderName,
			ReplyToAddress: req.ReplyToAddress,
			Host:           req.Host,
			User:           req.User,
			Password:       req.Password,
			TLS:            req.TLS,
		},
	))
	if err != nil {
		return nil, err
	}
	return &SMTPConfigResult{ConfigID: configID}, nil
}

func (c *Commands) ChangeSMTPConfig(ctx context.Context, cctx Context, configID string, changes domain.SMTPConfigChangedPayload) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.instanceWriteModel(ctx, cctx.InstanceID)
	if err != nil {
		return err
	}
	if _, ok := wm.smtp[configID]; !ok {
		return domain.NewNotFoundError("smtp config")
	}
	changes.ConfigID = configID
	_, err = c.push(ctx, wm.version, c.instanceCommand(cctx, domain.InstanceSMTPConfigChangedType, changes))
	return err
}

func (c *Commands) ActivateSMTPConfig(ctx context.Context, cctx Context, configID string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.instanceWriteModel(ctx, cctx.InstanceID)
	if err != nil {
		return err
	}
	state, ok := wm.smtp[configID]
	if !ok {
		return domain.NewNotFoundError("smtp config")
	}
	if state == domain.SMTPConfigStateActive {
		return domain.NewValidationError("configID", "config is already active")
	}
	_, err = c.push(ctx, wm.version, c.instanceCommand(cctx, domain.InstanceSMTPConfigActivatedType,
		domain.SMTPConfigIDPayload{ConfigID: configID},
	))
	return err
}

func (c *Commands) DeactivateSMTPConfig(ctx context.Context, cctx Context, configID string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.instanceWriteModel(ctx, cctx.InstanceID)
	if err != nil {
		return err
	}
	state, ok := wm.smtp[configID]
	if !ok {
		return domain.NewNotFoundError("smtp config")
	}
	if state != domain.SMTPConfigStateActive {
		return domain.NewValidationError("configID", "config is not active")
	}
	_, err = c.push(ctx, wm.version, c.instanceCommand(cctx, domain.InstanceSMTPConfigDeactivatedType,
		domain.SMTPConfigIDPayload{ConfigID: configID},
	))
	return err
}

func (c *Commands) RemoveSMTPConfig(ctx context.Context, cctx Context, configID string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.instanceWriteModel(ctx, cctx.InstanceID)
	if err != nil {
		return err
	}
	if _, ok := wm.smtp[configID]; !ok {
		return domain.NewNotFoundError("smtp config")
	}
	_, err = c.push(ctx, wm.version, c.instanceCommand(cctx, domain.InstanceSMTPConfigRemovedType,
		domain.SMTPConfigIDPayload{ConfigID: configID},
	))
	return err
}
