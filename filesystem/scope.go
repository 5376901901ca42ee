package filesystem

import (
	"strings"

	"github.com/pkg/errors"
)

// Scope decides which instances are automatically attached to a filesystem
type Scope int

const (
	// ScopeInstance filesystems are only attached explicitly
	ScopeInstance Scope = iota + 1
	// ScopeProject filesystems follow every live instance of the owning project
	ScopeProject
	// ScopeGlobal filesystems follow every live instance of the deployment
	ScopeGlobal
)

var scopeNames = map[Scope]string{
	ScopeInstance: "instance",
	ScopeProject:  "project",
	ScopeGlobal:   "global",
}

// ParseScope accepts only the closed set of scope names
func ParseScope(s string) (Scope, error) {
	for scope, name := range scopeNames {
		if s == name {
			return scope, nil
		}
	}
	return 0, errors.Wrapf(ErrInvalidScope, "got %q", s)
}

func (s Scope) String() string {
	if name, ok := scopeNames[s]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether s is one of the declared scopes
func (s Scope) Valid() bool {
	_, ok := scopeNames[s]
	return ok
}

// AutoAttach reports whether instance lifecycle events reconcile this scope
func (s Scope) AutoAttach() bool {
	switch s {
	case ScopeProject, ScopeGlobal:
		return true
	case ScopeInstance:
		return false
	default:
		return false
	}
}

// MarshalText encodes the scope by name
func (s Scope) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, errors.Wrapf(ErrInvalidScope, "got %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a scope name, tolerating surrounding blanks
func (s *Scope) UnmarshalText(text []byte) error {
	scope, err := ParseScope(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*s = scope
	return nil
}
