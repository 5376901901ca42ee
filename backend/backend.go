// Package backend defines what a volume backend must provide to the
// reconciliation engine. The backend is the source of truth for the current
// attachment state of a volume.
package backend

import (
	"context"

	"github.com/flaviostutz/sharedfs/filesystem"
)

// AdminAddress is always present in a volume allow-list for administrative
// access. It is never an instance address.
const AdminAddress = "localhost"

// Backend provisions volumes and grants network addresses access to them.
//
// CreateVolume fails with filesystem.ErrUnauthorized without admin rights and
// filesystem.ErrBackendUnavailable on infrastructure failure; it is safe to
// retry after ErrBackendUnavailable since nothing partial is listed.
// DeleteVolume fails with filesystem.ErrNotFound for unknown volumes.
// Attach and Detach are idempotent: attaching a present address or detaching
// an absent one succeeds without change.
// ListAttached returns the raw allow-list, AdminAddress included.
type Backend interface {
	CreateVolume(ctx context.Context, name, owner string, size int) error
	DeleteVolume(ctx context.Context, name, owner string) error
	ListVolumes(ctx context.Context) ([]filesystem.VolumeInfo, error)
	Attach(ctx context.Context, name, address string) error
	Detach(ctx context.Context, name, address string) error
	ListAttached(ctx context.Context, name string) ([]string, error)
}

// FilterAdmin drops AdminAddress from an allow-list
func FilterAdmin(addresses []string) []string {
	result := make([]string, 0, len(addresses))
	for _, address := range addresses {
		if address == AdminAddress {
			continue
		}
		result = append(result, address)
	}
	return result
}
