// Package identity classifies login identities into email and phone shapes.
package identity

import "strings"

// CountryPrefix is prepended to phone identities in signatures and login grants.
const CountryPrefix = "+91"

// Kind is the shape of a login identity.
type Kind uint8

const (
	KindPhone Kind = iota
	KindEmail
)

func (k Kind) String() string {
	if k == KindEmail {
		return "email"
	}
	return "phone"
}

// Classify returns KindEmail when id contains "@", KindPhone otherwise.
func Classify(id string) Kind {
	if IsEmail(id) {
		return KindEmail
	}
	return KindPhone
}

// IsEmail reports whether id is routed through the email channel.
func IsEmail(id string) bool {
	return strings.Contains(id, "@")
}

// Blank reports whether id is empty after trimming whitespace.
func Blank(id string) bool {
	return strings.TrimSpace(id) == ""
}
