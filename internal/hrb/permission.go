package hrb

import (
	"encoding/json"
	"fmt"
)

// Permission controls who may see a collection entry without owning it.
// The underlying byte is the prefix character of the backend entry encoding.
type Permission byte

const (
	Private Permission = ' '
	Shared  Permission = '+'
	Public  Permission = '*'
)

// PermissionFromChar converts a backend prefix character.
func PermissionFromChar(c byte) (Permission, bool) {
	switch p := Permission(c); p {
	case Private, Shared, Public:
		return p, true
	default:
		return Private, false
	}
}

// ParsePermission converts a description ("private", "shared", "public").
// Unknown descriptions yield Private.
func ParsePermission(desc string) Permission {
	switch desc {
	case "public":
		return Public
	case "shared":
		return Shared
	default:
		return Private
	}
}

// String returns the description used in the JSON form.
func (p Permission) String() string {
	switch p {
	case Public:
		return "public"
	case Shared:
		return "shared"
	case Private:
		return "private"
	default:
		return fmt.Sprintf("Permission(%q)", byte(p))
	}
}

// Char returns the backend prefix character.
func (p Permission) Char() byte {
	return byte(p)
}

// Allow reports whether requester may see an entry owned by owner.
// An empty requester is an anonymous visitor.
func (p Permission) Allow(requester, owner string) bool {
	switch p {
	case Public:
		return true
	case Shared:
		return requester != ""
	default:
		return requester != "" && requester == owner
	}
}

func (p Permission) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Permission) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("permission must be a string: %w", err)
	}
	*p = ParsePermission(s)
	return nil
}
