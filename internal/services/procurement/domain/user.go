package domain

import (
	"strings"
	"time"

	apperrors "github.com/louisbranch/supplyflow/internal/platform/errors"
)

// User is a registered participant identified by their external messaging id.
type User struct {
	Identifier string
	Name       string
	Phone      string
	Role       Role
	Approved   bool
	Site       string
	Location   string
	// RegisteredAt marks the latest registration; identity notifications are
	// de-duplicated per registration.
	RegisteredAt time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	// RejectedAt is set when an admin rejected the registration.
	RejectedAt *time.Time
}

// Rejected reports whether the user carries a rejection tombstone.
func (u User) Rejected() bool {
	return u.RejectedAt != nil
}

// Active reports whether the user is approved, not rejected, and holds one
// of the given roles. No roles means any role.
func (u User) Active(roles ...Role) bool {
	if !u.Approved || u.Rejected() {
		return false
	}
	if len(roles) == 0 {
		return true
	}
	for _, role := range roles {
		if u.Role == role {
			return true
		}
	}
	return false
}

// NormalizeIdentifier trims an external identifier and rejects blanks.
func NormalizeIdentifier(raw string) (string, error) {
	identifier := strings.TrimSpace(raw)
	if identifier == "" {
		return "", apperrors.New(apperrors.CodeUserIdentifierRequired, "user identifier is required")
	}
	return identifier, nil
}

// NormalizePhone converts the accepted Uzbek phone forms into the
// international "+998" form. Every character other than digits and '+' is
// dropped first. Accepted: "+998" plus nine digits, "998" plus nine digits,
// or a nine-digit local number starting with 0 (kept as-is after "+998").
func NormalizePhone(raw string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r == '+' || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, raw)

	var local string
	switch {
	case strings.HasPrefix(cleaned, "+998") && len(cleaned) == 13:
		local = cleaned[4:]
	case strings.HasPrefix(cleaned, "998") && len(cleaned) == 12:
		local = cleaned[3:]
	case strings.HasPrefix(cleaned, "0") && len(cleaned) == 9:
		local = cleaned
	default:
		return "", invalidPhone(raw)
	}
	if !allDigits(local) {
		return "", invalidPhone(raw)
	}
	return "+998" + local, nil
}

func invalidPhone(raw string) error {
	return apperrors.WithMetadata(apperrors.CodeUserPhoneInvalid, "phone number format is invalid", map[string]string{"Phone": raw})
}

func allDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return value != ""
}

// NormalizeSite canonicalizes a site name for matching.
func NormalizeSite(site string) string {
	return strings.ToLower(strings.Join(strings.Fields(site), " "))
}

// SameSite reports whether two site names refer to the same place.
func SameSite(a, b string) bool {
	left := NormalizeSite(a)
	return left != "" && left == NormalizeSite(b)
}
