package filesystem

import "github.com/pkg/errors"

var (
	// ErrNotFound is returned for unknown filesystems, volumes or instances
	ErrNotFound = errors.New("not found")
	// ErrDuplicateName is returned when creating a filesystem whose name is taken
	ErrDuplicateName = errors.New("filesystem name already exists")
	// ErrUnauthorized is returned when the backend or ledger denies an operation
	ErrUnauthorized = errors.New("operation not permitted")
	// ErrInvalidScope is returned for scope values outside instance, project and global
	ErrInvalidScope = errors.New("scope must be one of instance, project or global")
	// ErrInvalidRequest is returned for malformed requests, rejected before any mutation
	ErrInvalidRequest = errors.New("invalid request")
	// ErrBackendUnavailable is returned on infrastructure or transport failures
	ErrBackendUnavailable = errors.New("backend unavailable")
)
