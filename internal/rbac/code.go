package rbac

import (
	"fmt"
	"strings"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Wildcard is the segment value matching anything in its position.
const Wildcard = "*"

// Code identifies a protectable action as a module.resource.action
// triplet. Any segment may be the wildcard. A Code is always well
// formed: the only way to obtain one is ParseCode.
type Code struct {
	Module   string
	Resource string
	Action   string
}

// ParseCode validates and normalises a permission code string.
// Segments are lowercased; allowed characters are a-z, 0-9, '_' and
// '-', or the single literal '*'.
func ParseCode(s string) (Code, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), ".")
	if len(parts) != 3 {
		return Code{}, fmt.Errorf("rbac: code %q must have exactly 3 segments: %w", s, shared.ErrValidation)
	}
	for _, p := range parts {
		if !validSegment(p) {
			return Code{}, fmt.Errorf("rbac: code %q has invalid segment %q: %w", s, p, shared.ErrValidation)
		}
	}
	return Code{Module: parts[0], Resource: parts[1], Action: parts[2]}, nil
}

func validSegment(s string) bool {
	if s == Wildcard {
		return true
	}
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

// String renders the canonical dotted form.
func (c Code) String() string {
	return c.Module + "." + c.Resource + "." + c.Action
}

// IsWildcard reports whether any segment is the wildcard.
func (c Code) IsWildcard() bool {
	return c.Module == Wildcard || c.Resource == Wildcard || c.Action == Wildcard
}

// Effect is the verdict attached to one group-permission pair.
type Effect string

// The two recognised effects.
const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// ParseEffect accepts exactly "allow" or "deny".
func ParseEffect(s string) (Effect, error) {
	switch Effect(strings.ToLower(strings.TrimSpace(s))) {
	case EffectAllow:
		return EffectAllow, nil
	case EffectDeny:
		return EffectDeny, nil
	}
	return "", fmt.Errorf("rbac: effect %q must be allow or deny: %w", s, shared.ErrValidation)
}

// IsAllow reports whether the effect grants access.
func (e Effect) IsAllow() bool { return e == EffectAllow }

// IsDeny reports whether the effect revokes access.
func (e Effect) IsDeny() bool { return e == EffectDeny }
