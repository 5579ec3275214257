package auth

import (
	"unicode"

	"github.com/plaenen/iamcore/pkg/domain"
	"github.com/plaenen/iamcore/pkg/password"
)

// Policy is the password policy enforced on set/change.
type Policy struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireNumber    bool
	RequireSymbol    bool
}

// DefaultPolicy matches common IAM defaults.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:        8,
		RequireUppercase: true,
		RequireLowercase: true,
		RequireNumber:    true,
		RequireSymbol:    false,
	}
}

// ValidatePassword checks the candidate against the policy and the entropy
// floor. All violations are reported together.
func ValidatePassword(policy Policy, candidate string) error {
	var violations []string
	if len(candidate) < policy.MinLength {
		violations = append(violations, "too short")
	}

	var hasUpper, hasLower, hasNumber, hasSymbol bool
	for _, r := range candidate {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsNumber(r):
			hasNumber = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	if policy.RequireUppercase && !hasUpper {
		violations = append(violations, "missing uppercase letter")
	}
	if policy.RequireLowercase && !hasLower {
		violations = append(violations, "missing lowercase letter")
	}
	if policy.RequireNumber && !hasNumber {
		violations = append(violations, "missing number")
	}
	if policy.RequireSymbol && !hasSymbol {
		violations = append(violations, "missing symbol")
	}

	if err := password.ValidateStrength(candidate); err != nil {
		violations = append(violations, err.Error())
	}

	if len(violations) > 0 {
		return domain.NewPasswordPolicyError(violations)
	}
	return nil
}
