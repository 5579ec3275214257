package domain

// Instance aggregate event types. Instance members and SMTP configuration are
// instance-scoped: the aggregate id is the instance id itself.
const (
	InstanceMemberAddedType   EventType = "instance.member.added"
	InstanceMemberChangedType EventType = "instance.member.changed"
	InstanceMemberRemovedType EventType = "instance.member.removed"

	InstanceSMTPConfigAddedType       EventType = "instance.smtp.config.added"
	InstanceSMTPConfigChangedType     EventType = "instance.smtp.config.changed"
	InstanceSMTPConfigActivatedType   EventType = "instance.smtp.config.activated"
	InstanceSMTPConfigDeactivatedType EventType = "instance.smtp.config.deactivated"
	InstanceSMTPConfigRemovedType     EventType = "instance.smtp.config.removed"
)

type SMTPConfigAddedPayload struct {
	ConfigID       string `json:"configId"`
	Description    string `json:"description,omitempty"`
	SenderAddress  string `json:"senderAddress"`
	SenderName     string `json:"senderName,omitempty"`
	ReplyToAddress string `json:"replyToAddress,omitempty"`
	Host           string `json:"host"`
	User           string `json:"user,omitempty"`
	// Password is stored encrypted by the command layer; never in clear.
	Password string `json:"password,omitempty"`
	TLS      bool   `json:"tls,omitempty"`
}

type SMTPConfigChangedPayload struct {
	ConfigID       string  `json:"configId"`
	Description    *string `json:"description,omitempty"`
	SenderAddress  *string `json:"senderAddress,omitempty"`
	SenderName     *string `json:"senderName,omitempty"`
	ReplyToAddress *string `json:"replyToAddress,omitempty"`
	Host           *string `json:"host,omitempty"`
	User           *string `json:"user,omitempty"`
	Password       *string `json:"password,omitempty"`
	TLS            *bool   `json:"tls,omitempty"`
}

type SMTPConfigIDPayload struct {
	ConfigID string `json:"configId"`
}
