package domain

import "time"

// User aggregate event types.
const (
	UserHumanAddedType           EventType = "user.human.added"
	UserHumanProfileChangedType  EventType = "user.human.profile.changed"
	UserHumanEmailChangedType    EventType = "user.human.email.changed"
	UserHumanEmailVerifiedType   EventType = "user.human.email.verified"
	UserHumanPhoneChangedType    EventType = "user.human.phone.changed"
	UserHumanPhoneRemovedType    EventType = "user.human.phone.removed"
	UserUsernameChangedType      EventType = "user.username.changed"
	UserDeactivatedType          EventType = "user.deactivated"
	UserReactivatedType          EventType = "user.reactivated"
	UserLockedType               EventType = "user.locked"
	UserUnlockedType             EventType = "user.unlocked"
	UserRemovedType              EventType = "user.removed"
	UserHumanPasswordChangedType EventType = "user.human.password.changed"
	UserHumanOTPAddedType        EventType = "user.human.mfa.otp.added"
	UserHumanOTPVerifiedType     EventType = "user.human.mfa.otp.verified"
	UserHumanOTPRemovedType      EventType = "user.human.mfa.otp.removed"
	UserMachineAddedType         EventType = "user.machine.added"
	UserMachineKeyAddedType      EventType = "user.machine.key.added"
	UserMachineKeyRemovedType    EventType = "user.machine.key.removed"
)

// HumanAddedPayload is revision 1 of user.human.added.
type HumanAddedPayload struct {
	Username          string `json:"username"`
	FirstName         string `json:"firstName"`
	LastName          string `json:"lastName"`
	DisplayName       string `json:"displayName,omitempty"`
	PreferredLanguage string `json:"preferredLanguage,omitempty"`
	Gender            Gender `json:"gender,omitempty"`
	Email             string `json:"email"`
	EmailVerified     bool   `json:"emailVerified,omitempty"`
	Phone             string `json:"phone,omitempty"`
	PasswordHash      string `json:"passwordHash,omitempty"`
}

type HumanProfileChangedPayload struct {
	FirstName         *string `json:"firstName,omitempty"`
	LastName          *string `json:"lastName,omitempty"`
	DisplayName       *string `json:"displayName,omitempty"`
	PreferredLanguage *string `json:"preferredLanguage,omitempty"`
	Gender            *Gender `json:"gender,omitempty"`
}

type HumanEmailChangedPayload struct {
	Email string `json:"email"`
}

type HumanPhoneChangedPayload struct {
	Phone string `json:"phone"`
}

type UsernameChangedPayload struct {
	Username string `json:"username"`
}

type HumanPasswordChangedPayload struct {
	PasswordHash string `json:"passwordHash"`
}

// HumanOTPAddedPayload carries the TOTP secret until verification.
type HumanOTPAddedPayload struct {
	Secret string `json:"secret"`
}

type MachineAddedPayload struct {
	Username    string `json:"username"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type MachineKeyAddedPayload struct {
	KeyID          string    `json:"keyId"`
	Type           string    `json:"type"`
	ExpirationDate time.Time `json:"expirationDate"`
	PublicKey      []byte    `json:"publicKey"`
}

type MachineKeyRemovedPayload struct {
	KeyID string `json:"keyId"`
}
