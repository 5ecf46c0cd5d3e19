package identity

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidTenant = errors.New("identity: invalid tenant")
	ErrInvalidNumber = errors.New("identity: invalid number")
)

const (
	// StaffPrefix namespaces tenants owned by privileged operators.
	StaffPrefix = "staff:"

	MinNumberDigits = 8
	MaxNumberDigits = 15
)

// Identity is the unique (tenant, number) key for one sender session.
type Identity struct {
	Tenant string
	Number string
}

// New validates and normalizes a tenant/number pair into an Identity.
// The number may arrive with formatting noise (+, spaces, dashes); it is
// reduced to digits before validation.
func New(tenant, rawNumber string) (Identity, error) {
	tenant = strings.TrimSpace(tenant)
	if err := ValidateTenant(tenant); err != nil {
		return Identity{}, err
	}
	number := NormalizeNumber(rawNumber)
	if err := ValidateNumber(number); err != nil {
		return Identity{}, err
	}
	return Identity{Tenant: tenant, Number: number}, nil
}

// NormalizeNumber strips everything except ASCII digits.
func NormalizeNumber(raw string) string {
	var b strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] >= '0' && raw[i] <= '9' {
			b.WriteByte(raw[i])
		}
	}
	return b.String()
}

// ValidateNumber enforces the normalized identity-number format:
// digits only, no leading zero, 8 to 15 digits.
func ValidateNumber(number string) error {
	if len(number) < MinNumberDigits || len(number) > MaxNumberDigits {
		return fmt.Errorf("%w: %q must be %d-%d digits", ErrInvalidNumber, number, MinNumberDigits, MaxNumberDigits)
	}
	if number[0] == '0' {
		return fmt.Errorf("%w: %q has a leading zero", ErrInvalidNumber, number)
	}
	for i := 0; i < len(number); i++ {
		if number[i] < '0' || number[i] > '9' {
			return fmt.Errorf("%w: %q contains non-digit characters", ErrInvalidNumber, number)
		}
	}
	return nil
}

// ValidateTenant enforces a tenant key safe for use as a directory segment.
func ValidateTenant(tenant string) error {
	if tenant == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTenant)
	}
	name := strings.TrimPrefix(tenant, StaffPrefix)
	if name == "" {
		return fmt.Errorf("%w: %q has an empty name", ErrInvalidTenant, tenant)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		isLower := c >= 'a' && c <= 'z'
		isUpper := c >= 'A' && c <= 'Z'
		isDigit := c >= '0' && c <= '9'
		isSep := c == '.' || c == '-' || c == '_'
		if !(isLower || isUpper || isDigit || isSep) {
			return fmt.Errorf("%w: %q contains invalid character %q", ErrInvalidTenant, tenant, c)
		}
	}
	return nil
}

// IsStaff reports whether the tenant belongs to the privileged operator namespace.
func IsStaff(tenant string) bool {
	return strings.HasPrefix(tenant, StaffPrefix)
}

// String renders the identity for logs.
func (id Identity) String() string {
	return id.Tenant + "/" + id.Number
}
