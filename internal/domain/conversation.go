package domain

import "strings"

// UserID is the stable, opaque identifier of a platform account. It keys all
// per-user state.
type UserID string

// Valid reports whether the identifier is usable as a state key.
func (u UserID) Valid() bool {
	return strings.TrimSpace(string(u)) != ""
}

func (u UserID) String() string {
	return string(u)
}
