// Package ledger is the authoritative record of shared filesystems and their
// attachment policy. The backend owns the physical volumes; the ledger only
// owns names, scopes and owners.
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/flaviostutz/sharedfs/filesystem"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Ledger stores filesystem records. Create fails with filesystem.ErrDuplicateName
// for a taken name and filesystem.ErrInvalidScope for a bad scope; Get and Delete
// fail with filesystem.ErrNotFound. List returns records in insertion order.
type Ledger interface {
	Create(ctx context.Context, fs filesystem.Filesystem) (*filesystem.Filesystem, error)
	Get(ctx context.Context, name string) (*filesystem.Filesystem, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]filesystem.Filesystem, error)
	Close() error
}

// Open picks the store from the dsn scheme: sqlite:///path or bolt:///path
func Open(ctx context.Context, dsn string) (Ledger, error) {
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		return NewSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"))
	case strings.HasPrefix(dsn, "bolt://"):
		return NewBolt(strings.TrimPrefix(dsn, "bolt://"))
	default:
		return nil, errors.Errorf("unsupported ledger dsn %q (use sqlite:///path or bolt:///path)", dsn)
	}
}

// prepare fills the fields the store owns and validates what the caller gave
func prepare(fs filesystem.Filesystem) (filesystem.Filesystem, error) {
	if !fs.Scope.Valid() {
		return fs, errors.Wrapf(filesystem.ErrInvalidScope, "filesystem %s", fs.Name)
	}
	if err := fs.Validate(); err != nil {
		return fs, err
	}
	if fs.ID == "" {
		fs.ID = uuid.New().String()
	}
	if fs.CreatedAt.IsZero() {
		fs.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	return fs, nil
}
