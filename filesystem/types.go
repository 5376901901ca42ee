// Package filesystem holds the shared filesystem data model: scopes, ledger
// records, instance references and the error taxonomy shared by every layer.
package filesystem

import (
	"regexp"
	"time"

	"github.com/pkg/errors"
)

var nameRegexp = regexp.MustCompile(`^[-_.[:alnum:]]+$`)

// Filesystem is the ledger record of a shared filesystem. Scope and Project
// never change after creation.
type Filesystem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Scope     Scope     `json:"scope"`
	Project   string    `json:"project"`
	Size      int       `json:"size"` // GB, 0 means the backend minimum
	CreatedAt time.Time `json:"created_at"`
}

// ValidName reports whether s is usable as a filesystem or project name.
// Both end up as path elements on brick hosts.
func ValidName(s string) bool {
	return nameRegexp.MatchString(s) && s != "." && s != ".."
}

// Validate checks a record before it is written anywhere
func (f Filesystem) Validate() error {
	if !ValidName(f.Name) {
		return errors.Wrapf(ErrInvalidRequest, "invalid filesystem name %q", f.Name)
	}
	if f.Project != "" && !ValidName(f.Project) {
		return errors.Wrapf(ErrInvalidRequest, "invalid project %q for filesystem %s", f.Project, f.Name)
	}
	if !f.Scope.Valid() {
		return errors.Wrapf(ErrInvalidScope, "filesystem %s", f.Name)
	}
	if f.Scope != ScopeGlobal && f.Project == "" {
		return errors.Wrapf(ErrInvalidRequest, "filesystem %s with scope %s requires an owning project", f.Name, f.Scope)
	}
	if f.Size < 0 {
		return errors.Wrapf(ErrInvalidRequest, "filesystem %s has negative size %d", f.Name, f.Size)
	}
	return nil
}

// Instance is a compute instance as seen through the instance directory
type Instance struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Project string `json:"project" yaml:"project"`
}

// VolumeInfo is what the backend knows about one volume
type VolumeInfo struct {
	Name string
	Size string // usage quota as reported by the backend
}
