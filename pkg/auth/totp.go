package auth

import (
	"github.com/pquerna/otp/totp"

	"github.com/plaenen/iamcore/pkg/domain"
)

// TOTPSecret is a freshly generated TOTP enrollment.
type TOTPSecret struct {
	Secret string
	URL    string
}

// GenerateTOTPSecret creates a TOTP secret for enrollment. The URL is the
// otpauth:// provisioning string authenticator apps consume.
func GenerateTOTPSecret(issuer, accountName string) (*TOTPSecret, error) {
	if issuer == "" || accountName == "" {
		return nil, domain.NewValidationError("totp", "issuer and account name required")
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
	})
	if err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	return &TOTPSecret{Secret: key.Secret(), URL: key.URL()}, nil
}

// VerifyTOTPCode checks a 6-digit code against the secret.
func VerifyTOTPCode(secret, code string) bool {
	return totp.Validate(code, secret)
}
