package command

import (
	"context"
	"time"

	"github.com/plaenen/iamcore/pkg/auth"
	"github.com/plaenen/iamcore/pkg/domain"
	"github.com/plaenen/iamcore/pkg/password"
	"github.com/plaenen/iamcore/pkg/validators"
)

// userWriteModel is the user aggregate state the commands validate against.
type userWriteModel struct {
	id            string
	resourceOwner string
	version       uint64

	state       domain.UserState
	username    string
	email       string
	phone       string
	machine     bool
	otpSecret   string
	otpVerified bool
	machineKeys map[string]struct{}
}

func (c *Commands) userWriteModelByID(ctx context.Context, instanceID, userID string) (*userWriteModel, error) {
	agg, err := c.es.Aggregate(ctx, instanceID, domain.AggregateTypeUser, userID, 0)
	if err != nil {
		return nil, err
	}
	wm := &userWriteModel{id: userID, machineKeys: make(map[string]struct{})}
	for _, e := range agg.Events {
		if err := wm.reduce(e); err != nil {
			return nil, err
		}
	}
	wm.version = agg.Version
	return wm, nil
}

func (wm *userWriteModel) reduce(e *domain.Event) error {
	switch e.EventType {
	case domain.UserHumanAddedType:
		payload, err := domain.UnmarshalPayload[domain.HumanAddedPayload](e)
		if err != nil {
			return err
		}
		wm.state = domain.UserStateActive
		wm.username = payload.Username
		wm.email = payload.Email
		wm.phone = payload.Phone
		wm.resourceOwner = e.ResourceOwner
	case domain.UserMachineAddedType:
		payload, err := domain.UnmarshalPayload[domain.MachineAddedPayload](e)
		if err != nil {
			return err
		}
		wm.state = domain.UserStateActive
		wm.username = payload.Username
		wm.machine = true
		wm.resourceOwner = e.ResourceOwner
	case domain.UserHumanEmailChangedType:
		payload, err := domain.UnmarshalPayload[domain.HumanEmailChangedPayload](e)
		if err != nil {
			return err
		}
		wm.email = payload.Email
	case domain.UserHumanPhoneChangedType:
		payload, err := domain.UnmarshalPayload[domain.HumanPhoneChangedPayload](e)
		if err != nil {
			return err
		}
		wm.phone = payload.Phone
	case domain.UserHumanPhoneRemovedType:
		wm.phone = ""
	case domain.UserUsernameChangedType:
		payload, err := domain.UnmarshalPayload[domain.UsernameChangedPayload](e)
		if err != nil {
			return err
		}
		wm.username = payload.Username
	case domain.UserDeactivatedType:
		wm.state = domain.UserStateInactive
	case domain.UserReactivatedType, domain.UserUnlockedType:
		wm.state = domain.UserStateActive
	case domain.UserLockedType:
		wm.state = domain.UserStateLocked
	case domain.UserRemovedType:
		wm.state = domain.UserStateRemoved
	case domain.UserHumanOTPAddedType:
		payload, err := domain.UnmarshalPayload[domain.HumanOTPAddedPayload](e)
		if err != nil {
			return err
		}
		wm.otpSecret = payload.Secret
		wm.otpVerified = false
	case domain.UserHumanOTPVerifiedType:
		wm.otpVerified = true
	case domain.UserHumanOTPRemovedType:
		wm.otpSecret = ""
		wm.otpVerified = false
	case domain.UserMachineKeyAddedType:
		payload, err := domain.UnmarshalPayload[domain.MachineKeyAddedPayload](e)
		if err != nil {
			return err
		}
		wm.machineKeys[payload.KeyID] = struct{}{}
	case domain.UserMachineKeyRemovedType:
		payload, err := domain.UnmarshalPayload[domain.MachineKeyRemovedPayload](e)
		if err != nil {
			return err
		}
		delete(wm.machineKeys, payload.KeyID)
	}
	return nil
}

func (wm *userWriteModel) exists() bool {
	return wm.state != domain.UserStateUnspecified && wm.state != domain.UserStateRemoved
}

// AddHumanUser is the input of the human registration command.
type AddHumanUser struct {
	Username          string
	FirstName         string
	LastName          string
	DisplayName       string
	PreferredLanguage string
	Gender            domain.Gender
	Email             string
	Phone             string
	Password          string
}

// UserResult carries the generated id back to the caller.
type UserResult struct {
	UserID string
}

func (c *Commands) AddHumanUser(ctx context.Context, cctx Context, req AddHumanUser) (*UserResult, error) {
	if err := cctx.validate(); err != nil {
		return nil, err
	}
	if cctx.OrgID == "" {
		return nil, domain.NewValidationError("orgID", "organization id is required")
	}
	if err := validators.ValidateStringEmpty(req.Username, "username").Err(); err != nil {
		return nil, err
	}
	if err := validators.ValidateEmail("email", req.Email).Err(); err != nil {
		return nil, err
	}
	if err := validators.ValidateStringEmpty(req.FirstName, "first_name").Err(); err != nil {
		return nil, err
	}
	if err := validators.ValidateStringEmpty(req.LastName, "last_name").Err(); err != nil {
		return nil, err
	}

	payload := domain.HumanAddedPayload{
		Username:          req.Username,
		FirstName:         req.FirstName,
		LastName:          req.LastName,
		DisplayName:       req.DisplayName,
		PreferredLanguage: req.PreferredLanguage,
		Gender:            req.Gender,
		Email:             req.Email,
		Phone:             req.Phone,
	}
	if req.Password != "" {
		if err := auth.ValidatePassword(c.policy, req.Password); err != nil {
			return nil, err
		}
		hash, err := password.Hash(req.Password)
		if err != nil {
			return nil, err
		}
		payload.PasswordHash = hash
	}

	userID := c.newID()
	_, err := c.push(ctx, 0, &domain.Command{
		InstanceID:    cctx.InstanceID,
		AggregateType: domain.AggregateTypeUser,
		AggregateID:   userID,
		ResourceOwner: cctx.OrgID,
		EventType:     domain.UserHumanAddedType,
		Editor:        cctx.editor(),
		Revision:      1,
		Payload:       payload,
		UniqueConstraints: []*domain.UniqueConstraint{
			domain.NewClaim(uniqueUsernames, usernameClaimValue(cctx.OrgID, req.Username), "username"),
		},
	})
	if err != nil {
		return nil, err
	}
	return &UserResult{UserID: userID}, nil
}

// AddMachineUser registers a service user.
type AddMachineUser struct {
	Username    string
	Name        string
	Description string
}

func (c *Commands) AddMachineUser(ctx context.Context, cctx Context, req AddMachineUser) (*UserResult, error) {
	if err := cctx.validate(); err != nil {
		return nil, err
	}
	if cctx.OrgID == "" {
		return nil, domain.NewValidationError("orgID", "organization id is required")
	}
	if err := validators.ValidateStringEmpty(req.Username, "username").Err(); err != nil {
		return nil, err
	}
	if err := validators.ValidateStringEmpty(req.Name, "name").Err(); err != nil {
		return nil, err
	}

	userID := c.newID()
	_, err := c.push(ctx, 0, &domain.Command{
		InstanceID:    cctx.InstanceID,
		AggregateType: domain.AggregateTypeUser,
		AggregateID:   userID,
		ResourceOwner: cctx.OrgID,
		EventType:     domain.UserMachineAddedType,
		Editor:        cctx.editor(),
		Revision:      1,
		Payload: domain.MachineAddedPayload{
			Username:    req.Username,
			Name:        req.Name,
			Description: req.Description,
		},
		UniqueConstraints: []*domain.UniqueConstraint{
			domain.NewClaim(uniqueUsernames, usernameClaimValue(cctx.OrgID, req.Username), "username"),
		},
	})
	if err != nil {
		return nil, err
	}
	return &UserResult{UserID: userID}, nil
}

// ChangeProfile updates the human profile; nil fields stay untouched.
type ChangeProfile struct {
	FirstName         *string
	LastName          *string
	DisplayName       *string
	PreferredLanguage *string
	Gender            *domain.Gender
}

func (p ChangeProfile) isEmpty() bool {
	return p.FirstName == nil && p.LastName == nil && p.DisplayName == nil &&
		p.PreferredLanguage == nil && p.Gender == nil
}

func (c *Commands) ChangeProfile(ctx context.Context, cctx Context, userID string, req ChangeProfile) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	if req.isEmpty() {
		return domain.NewValidationError("profile", "at least one field must change")
	}
	wm, err := c.userWriteModelByID(ctx, cctx.InstanceID, userID)
	if err != nil {
		return err
	}
	if !wm.exists() || wm.machine {
		return domain.NewNotFoundError("user")
	}
	_, err = c.push(ctx, wm.version, &domain.Command{
		InstanceID:    cctx.InstanceID,
		AggregateType: domain.AggregateTypeUser,
		AggregateID:   userID,
		ResourceOwner: wm.resourceOwner,
		EventType:     domain.UserHumanProfileChangedType,
		Editor:        cctx.editor(),
		Revision:      1,
		Payload: domain.HumanProfileChangedPayload{
			FirstName:         req.FirstName,
			LastName:          req.LastName,
			DisplayName:       req.DisplayName,
			PreferredLanguage: req.PreferredLanguage,
			Gender:            req.Gender,
		},
	})
	return err
}

func (c *Commands) ChangeEmail(ctx context.Context, cctx Context, userID, email string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	if err := validators.ValidateEmail("email", email).Err(); err != nil {
		return err
	}
	wm, err := c.userWriteModelByID(ctx, cctx.InstanceID, userID)
	if err != nil {
		return err
	}
	if !wm.exists() || wm.machine {
		return domain.NewNotFoundError("user")
	}
	if wm.email == email {
		return domain.NewValidationError("email", "email is unchanged")
	}
	_, err = c.push(ctx, wm.version, &domain.Command{
		InstanceID:    cctx.InstanceID,
		AggregateType: domain.AggregateTypeUser,
		AggregateID:   userID,
		ResourceOwner: wm.resourceOwner,
		EventType:     domain.UserHumanEmailChangedType,
		Editor:        cctx.editor(),
		Revision:      1,
		Payload:       domain.HumanEmailChangedPayload{Email: email},
	})
	return err
}

func (c *Commands) VerifyEmail(ctx context.Context, cctx Context, userID string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.userWriteModelByID(ctx, cctx.InstanceID, userID)
	if err != nil {
		return err
	}
	if !wm.exists() || wm.machine {
		return domain.NewNotFoundError("user")
	}
	_, err = c.push(ctx, wm.version, &domain.Command{
		InstanceID:    cctx.InstanceID,
		AggregateType: domain.AggregateTypeUser,
		AggregateID:   userID,
		ResourceOwner: wm.resourceOwner,
		EventType:     domain.UserHumanEmailVerifiedType,
		Editor:        cctx.editor(),
		Revision:      1,
	})
	return err
}

func (c *Commands) ChangeUsername(ctx context.Context, cctx Context, userID, username string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	if err := validators.ValidateStringEmpty(username, "username").Err(); err != nil {
		return err
	}
	wm, err := c.userWriteModelByID(ctx, cctx.InstanceID, userID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("user")
	}
	if wm.username == username {
		return domain.NewValidationError("username", "username is unchanged")
	}
	_, err = c.push(ctx, wm.version, &domain.Command{
		InstanceID:    cctx.InstanceID,
		AggregateType: domain.AggregateTypeUser,
		AggregateID:   userID,
		ResourceOwner: wm.resourceOwner,
		EventType:     domain.UserUsernameChangedType,
		Editor:        cctx.editor(),
		Revision:      1,
		Payload:       domain.UsernameChangedPayload{Username: username},
		UniqueConstraints: []*domain.UniqueConstraint{
			domain.NewRelease(uniqueUsernames, usernameClaimValue(wm.resourceOwner, wm.username)),
			domain.NewClaim(uniqueUsernames, usernameClaimValue(wm.resourceOwner, username), "username"),
		},
	})
	return err
}

func (c *Commands) ChangeUserPhone(ctx context.Context, cctx Context, userID, phone string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	if err := validators.ValidateStringEmpty(phone, "phone").Err(); err != nil {
		return err
	}
	wm, err := c.userWriteModelByID(ctx, cctx.InstanceID, userID)
	if err != nil {
		return err
	}
	if !wm.exists() || wm.machine {
		return domain.NewNotFoundError("user")
	}
	_, err = c.push(ctx, wm.version, &domain.Command{
		InstanceID:    cctx.InstanceID,
		AggregateType: domain.AggregateTypeUser,
		AggregateID:   userID,
		ResourceOwner: wm.resourceOwner,
		EventType:     domain.UserHumanPhoneChangedType,
		Editor:        cctx.editor(),
		Revision:      1,
		Payload:       domain.HumanPhoneChangedPayload{Phone: phone},
	})
	return err
}

func (c *Commands) RemoveUserPhone(ctx context.Context, cctx Context, userID string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.userWriteModelByID(ctx, cctx.InstanceID, userID)
	if err != nil {
		return err
	}
	if !wm.exists() || wm.machine {
		return domain.NewNotFoundError("user")
	}
	if wm.phone == "" {
		return domain.NewNotFoundError("phone")
	}
	_, err = c.push(ctx, wm.version, &domain.Command{
		InstanceID:    cctx.InstanceID,
		AggregateType: domain.AggregateTypeUser,
		AggregateID:   userID,
		ResourceOwner: wm.resourceOwner,
		EventType:     domain.UserHumanPhoneRemovedType,
		Editor:        cctx.editor(),
		Revision:      1,
	})
	return err
}

// userStateTransition writes one lifecycle event after checking the current
// state admits it.
func (c *Commands) userStateTransition(ctx context.Context, cctx Context, userID string, eventType domain.EventType, allowed func(*userWriteModel) error) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.userWriteModelByID(ctx, cctx.InstanceID, userID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("user")
	}
	if err := allowed(wm); err != nil {
		return err
	}
	_, err = c.push(ctx, wm.version, &domain.Command{
		InstanceID:    cctx.InstanceID,
		AggregateType: domain.AggregateTypeUser,
		AggregateID:   userID,
		ResourceOwner: wm.resourceOwner,
		EventType:     eventType,
		Editor:        cctx.editor(),
		Revision:      1,
	})
	return err
}

func (c *Commands) DeactivateUser(ctx context.Context, cctx Context, userID string) error {
	return c.userStateTransition(ctx, cctx, userID, domain.UserDeactivatedType, func(wm *userWriteModel) error {
		if wm.state != domain.UserStateActive {
			return domain.NewValidationError("state", "only active users can be deactivated")
		}
		return nil
	})
}

func (c *Commands) ReactivateUser(ctx context.Context, cctx Context, userID string) error {
	return c.userStateTransition(ctx, cctx, userID, domain.UserReactivatedType, func(wm *userWriteModel) error {
		if wm.state != domain.UserStateInactive {
			return domain.NewValidationError("state", "only inactive users can be reactivated")
		}
		return nil
	})
}

func (c *Commands) LockUser(ctx context.Context, cctx Context, userID string) error {
	return c.userStateTransition(ctx, cctx, userID, domain.UserLockedType, func(wm *userWriteModel) error {
		if wm.state == domain.UserStateLocked {
			return domain.NewValidationError("state", "user is already locked")
		}
		return nil
	})
}

func (c *Commands) UnlockUser(ctx context.Context, cctx Context, userID string) error {
	return c.userStateTransition(ctx, cctx, userID, domain.UserUnlockedType, func(wm *userWriteModel) error {
		if wm.state != domain.UserStateLocked {
			return domain.NewValidationError("state", "user is not locked")
		}
		return nil
	})
}

func (c *Commands) RemoveUser(ctx context.Context, cctx Context, userID string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.userWriteModelByID(ctx, cctx.InstanceID, userID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("user")
	}
	_, err = c.push(ctx, wm.version, &domain.Command{
		InstanceID:    cctx.InstanceID,
		AggregateType: domain.AggregateTypeUser,
		AggregateID:   userID,
		ResourceOwner: wm.resourceOwner,
		EventType:     domain.UserRemovedType,
		Editor:        cctx.editor(),
		Revision:      1,
		UniqueConstraints: []*domain.UniqueConstraint{
			domain.NewRelease(uniqueUsernames, usernameClaimValue(wm.resourceOwner, wm.username)),
		},
	})
	return err
}

func (c *Commands) ChangePassword(ctx context.Context, cctx Context, userID, newPassword string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	if err := auth.ValidatePassword(c.policy, newPassword); err != nil {
		return err
	}
	wm, err := c.userWriteModelByID(ctx, cctx.InstanceID, userID)
	if err != nil {
		return err
	}
	if !wm.exists() || wm.machine {
		return domain.NewNotFoundError("user")
	}
	hash, err := password.Hash(newPassword)
	if err != nil {
		return err
	}
	_, err = c.push(ctx, wm.version, &domain.Command{
		InstanceID:    cctx.InstanceID,
		AggregateType: domain.AggregateTypeUser,
		AggregateID:   userID,
		ResourceOwner: wm.resourceOwner,
		EventType:     domain.UserHumanPasswordChangedType,
		Editor:        cctx.editor(),
		Revision:      1,
		Payload:       domain.HumanPasswordChangedPayload{PasswordHash: hash},
	})
	return err
}

// AddOTP stores the enrollment secret; it becomes effective on VerifyOTP.
func (c *Commands) AddOTP(ctx context.Context, cctx Context, userID, secret string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	if secret == "" {
		return domain.NewValidationError("secret", "otp secret is required")
	}
	wm, err := c.userWriteModelByID(ctx, cctx.InstanceID, userID)
	if err != nil {
		return err
	}
	if !wm.exists() || wm.machine {
		return domain.NewNotFoundError("user")
	}
	if wm.otpVerified {
		return domain.NewValidationError("otp", "otp is already configured")
	}
	_, err = c.push(ctx, wm.version, &domain.Command{
		InstanceID:    cctx.InstanceID,
		AggregateType: domain.AggregateTypeUser,
		AggregateID:   userID,
		ResourceOwner: wm.resourceOwner,
		EventType:     domain.UserHumanOTPAddedType,
		Editor:        cctx.editor(),
		Revision:      1,
		Payload:       domain.HumanOTPAddedPayload{Secret: secret},
	})
	return err
}

func (c *Commands) VerifyOTP(ctx context.Context, cctx Context, userID string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.userWriteModelByID(ctx, cctx.InstanceID, userID)
	if err != nil {
		return err
	}
	if !wm.exists() || wm.machine {
		return domain.NewNotFoundError("user")
	}
	if wm.otpSecret == "" {
		return domain.NewNotFoundError("otp enrollment")
	}
	if wm.otpVerified {
		return domain.NewValidationError("otp", "otp is already verified")
	}
	_, err = c.push(ctx, wm.version, &domain.Command{
		InstanceID:    cctx.InstanceID,
		AggregateType: domain.AggregateTypeUser,
		AggregateID:   userID,
		ResourceOwner: wm.resourceOwner,
		EventType:     domain.UserHumanOTPVerifiedType,
		Editor:        cctx.editor(),
		Revision:      1,
	})
	return err
}

func (c *Commands) RemoveOTP(ctx context.Context, cctx Context, userID string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.userWriteModelByID(ctx, cctx.InstanceID, userID)
	if err != nil {
		return err
	}
	if !wm.exists() || wm.machine {
		return domain.NewNotFoundError("user")
	}
	if wm.otpSecret == "" {
		return domain.NewNotFoundError("otp enrollment")
	}
	_, err = c.push(ctx, wm.version, &domain.Command{
		InstanceID:    cctx.InstanceID,
		AggregateType: domain.AggregateTypeUser,
		AggregateID:   userID,
		ResourceOwner: wm.resourceOwner,
		EventType:     domain.UserHumanOTPRemovedType,
		Editor:        cctx.editor(),
		Revision:      1,
	})
	return err
}

// AddMachineKey registers an authentication key on a machine user.
type AddMachineKey struct {
	Type           string
	ExpirationDate time.Time
	PublicKey      []byte
}

// MachineKeyResult carries the generated key id.
type MachineKeyResult struct {
	KeyID string
}

func (c *Commands) AddMachineKey(ctx context.Context, cctx Context, userID string, req AddMachineKey) (*MachineKeyResult, error) {
	if err := cctx.validate(); err != nil {
		return nil, err
	}
	if req.ExpirationDate.IsZero() {
		return nil, domain.NewValidationError("expirationDate", "expiration date is required")
	}
	if len(req.PublicKey) == 0 {
		return nil, domain.NewValidationError("publicKey", "public key is required")
	}
	wm, err := c.userWriteModelByID(ctx, cctx.InstanceID, userID)
	if err != nil {
		return nil, err
	}
	if !wm.exists() || !wm.machine {
		return nil, domain.NewNotFoundError("machine user")
	}
	keyID := c.newID()
	_, err = c.push(ctx, wm.version, &domain.Command{
		InstanceID:    cctx.InstanceID,
		AggregateType: domain.AggregateTypeUser,
		AggregateID:   userID,
		ResourceOwner: wm.resourceOwner,
		EventType:     domain.UserMachineKeyAddedType,
		Editor:        cctx.editor(),
		Revision:      1,
		Payload: domain.MachineKeyAddedPayload{
			KeyID:          keyID,
			Type:           req.Type,
			ExpirationDate: req.ExpirationDate,
			PublicKey:      req.PublicKey,
		},
	})
	if err != nil {
		return nil, err
	}
	return &MachineKeyResult{KeyID: keyID}, nil
}

func (c *Commands) RemoveMachineKey(ctx context.Context, cctx Context, userID, keyID string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.userWriteModelByID(ctx, cctx.InstanceID, userID)
	if err != nil {
		return err
	}
	if !wm.exists() || !wm.machine {
		return domain.NewNotFoundError("machine user")
	}
	if _, ok := wm.machineKeys[keyID]; !ok {
		return domain.NewNotFoundError("machine key")
	}
	_, err = c.push(ctx, wm.version, &domain.Command{
		InstanceID:    cctx.InstanceID,
		AggregateType: domain.AggregateTypeUser,
		AggregateID:   userID,
		ResourceOwner: wm.resourceOwner,
		EventType:     domain.UserMachineKeyRemovedType,
		Editor:        cctx.editor(),
		Revision:      1,
		Payload:       domain.MachineKeyRemovedPayload{KeyID: keyID},
	})
	return err
}
