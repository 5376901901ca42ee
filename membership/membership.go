// Package membership computes which instances a filesystem should be attached
// to, from its scope and owner, using an injected instance directory.
package membership

import (
	"context"

	"github.com/flaviostutz/sharedfs/filesystem"
)

// Directory looks up live instances in the compute service.
// GetInstance and FindByAddress fail with filesystem.ErrNotFound.
type Directory interface {
	ListInstances(ctx context.Context) ([]filesystem.Instance, error)
	ListProjectInstances(ctx context.Context, project string) ([]filesystem.Instance, error)
	GetInstance(ctx context.Context, id string) (*filesystem.Instance, error)
	Addresses(ctx context.Context, id string) ([]string, error)
	FindByAddress(ctx context.Context, address string) (*filesystem.Instance, error)
}

// ProjectDirectory resolves project ids to display names
type ProjectDirectory interface {
	ProjectName(ctx context.Context, id string) (string, error)
}

// Resolver turns a scope policy into a set of instances
type Resolver struct {
	directory Directory
}

// NewResolver returns a Resolver reading from directory
func NewResolver(directory Directory) *Resolver {
	return &Resolver{directory: directory}
}

// Resolve returns every live instance for global scope, the owner's live
// instances for project scope and nothing for instance scope.
func (r *Resolver) Resolve(ctx context.Context, scope filesystem.Scope, owner string) ([]filesystem.Instance, error) {
	switch scope {
	case filesystem.ScopeGlobal:
		return r.directory.ListInstances(ctx)
	case filesystem.ScopeProject:
		return r.directory.ListProjectInstances(ctx, owner)
	case filesystem.ScopeInstance:
		return nil, nil
	default:
		return nil, filesystem.ErrInvalidScope
	}
}
