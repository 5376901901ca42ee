// Package reconciletest provides in-memory collaborators for tests of the
// engine and of the surfaces built on it.
package reconciletest

import (
	"context"
	"sort"
	"sync"

	"github.com/flaviostutz/sharedfs/backend"
	"github.com/flaviostutz/sharedfs/filesystem"
	"github.com/pkg/errors"
)

// Call is one recorded backend invocation
type Call struct {
	Op      string
	Name    string
	Address string
}

// Backend keeps volumes and their allow-lists in memory and records calls
type Backend struct {
	m         sync.Mutex
	volumes   map[string]map[string]bool
	order     []string
	calls     []Call
	FailOn    map[string]error // address -> error returned by Attach and Detach
	FailFor   map[string]error // volume name -> error returned by Attach and Detach
	CreateErr error
	DeleteErr error
}

var _ backend.Backend = &Backend{}

func NewBackend() *Backend {
	return &Backend{volumes: map[string]map[string]bool{}, FailOn: map[string]error{}, FailFor: map[string]error{}}
}

// AddVolume creates a volume without recording a call
func (b *Backend) AddVolume(name string) {
	b.m.Lock()
	defer b.m.Unlock()
	b.addVolume(name)
}

func (b *Backend) addVolume(name string) {
	b.volumes[name] = map[string]bool{backend.AdminAddress: true}
	b.order = append(b.order, name)
}

// Calls returns the recorded calls and forgets them
func (b *Backend) Calls() []Call {
	b.m.Lock()
	defer b.m.Unlock()
	calls := b.calls
	b.calls = nil
	return calls
}

// Allowed returns the allow-list of a volume without recording a call, admin address excluded
func (b *Backend) Allowed(name string) []string {
	b.m.Lock()
	defer b.m.Unlock()
	result := []string{}
	for a := range b.volumes[name] {
		if a != backend.AdminAddress {
			result = append(result, a)
		}
	}
	sort.Strings(result)
	return result
}

func (b *Backend) record(op, name, address string) {
	b.calls = append(b.calls, Call{Op: op, Name: name, Address: address})
}

func (b *Backend) CreateVolume(ctx context.Context, name, owner string, size int) error {
	b.m.Lock()
	defer b.m.Unlock()
	b.record("create", name, "")
	if b.CreateErr != nil {
		return b.CreateErr
	}
	b.addVolume(name)
	return nil
}

func (b *Backend) DeleteVolume(ctx context.Context, name, owner string) error {
	b.m.Lock()
	defer b.m.Unlock()
	b.record("delete", name, "")
	if b.DeleteErr != nil {
		return b.DeleteErr
	}
	if _, found := b.volumes[name]; !found {
		return errors.Wrapf(filesystem.ErrNotFound, "volume %s", name)
	}
	delete(b.volumes, name)
	for i, n := range b.order {
		if n == name {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return nil
}

func (b *Backend) ListVolumes(ctx context.Context) ([]filesystem.VolumeInfo, error) {
	b.m.Lock()
	defer b.m.Unlock()
	b.record("list", "", "")
	result := make([]filesystem.VolumeInfo, 0, len(b.order))
	for _, name := range b.order {
		result = append(result, filesystem.VolumeInfo{Name: name, Size: "100MB"})
	}
	return result, nil
}

func (b *Backend) Attach(ctx context.Context, name, address string) error {
	return b.change("attach", name, address, true)
}

func (b *Backend) Detach(ctx context.Context, name, address string) error {
	return b.change("detach", name, address, false)
}

func (b *Backend) change(op, name, address string, allow bool) error {
	b.m.Lock()
	defer b.m.Unlock()
	b.record(op, name, address)
	if err := b.FailOn[address]; err != nil {
		return err
	}
	if err := b.FailFor[name]; err != nil {
		return err
	}
	acl, found := b.volumes[name]
	if !found {
		return errors.Wrapf(filesystem.ErrNotFound, "volume %s", name)
	}
	if allow {
		acl[address] = true
	} else {
		delete(acl, address)
	}
	return nil
}

func (b *Backend) ListAttached(ctx context.Context, name string) ([]string, error) {
	b.m.Lock()
	defer b.m.Unlock()
	b.record("listattached", name, "")
	acl, found := b.volumes[name]
	if !found {
		return nil, errors.Wrapf(filesystem.ErrNotFound, "volume %s", name)
	}
	result := make([]string, 0, len(acl))
	for a := range acl {
		result = append(result, a)
	}
	sort.Strings(result)
	return result, nil
}

// Directory is a fixed set of live instances
type Directory struct {
	Instances []filesystem.Instance
	Addrs     map[string][]string // instance id -> addresses
	FailAddr  map[string]error    // instance id -> error returned by Addresses
}

func NewDirectory() *Directory {
	return &Directory{Addrs: map[string][]string{}, FailAddr: map[string]error{}}
}

// Add registers a live instance with its addresses
func (d *Directory) Add(id, project string, addresses ...string) {
	d.Instances = append(d.Instances, filesystem.Instance{ID: id, Name: id, Project: project})
	d.Addrs[id] = addresses
}

func (d *Directory) ListInstances(ctx context.Context) ([]filesystem.Instance, error) {
	return append([]filesystem.Instance(nil), d.Instances...), nil
}

func (d *Directory) ListProjectInstances(ctx context.Context, project string) ([]filesystem.Instance, error) {
	result := []filesystem.Instance{}
	for _, i := range d.Instances {
		if i.Project == project {
			result = append(result, i)
		}
	}
	return result, nil
}

func (d *Directory) GetInstance(ctx context.Context, id string) (*filesystem.Instance, error) {
	for _, i := range d.Instances {
		if i.ID == id {
			instance := i
			return &instance, nil
		}
	}
	return nil, errors.Wrapf(filesystem.ErrNotFound, "instance %s", id)
}

func (d *Directory) Addresses(ctx context.Context, id string) ([]string, error) {
	if err := d.FailAddr[id]; err != nil {
		return nil, err
	}
	if _, err := d.GetInstance(ctx, id); err != nil {
		return nil, err
	}
	return d.Addrs[id], nil
}

func (d *Directory) FindByAddress(ctx context.Context, address string) (*filesystem.Instance, error) {
	for _, i := range d.Instances {
		for _, a := range d.Addrs[i.ID] {
			if a == address {
				instance := i
				return &instance, nil
			}
		}
	}
	return nil, errors.Wrapf(filesystem.ErrNotFound, "no instance with address %s", address)
}

// AllAddresses returns the sorted addresses of the instances matching keep
func (d *Directory) AllAddresses(keep func(filesystem.Instance) bool) []string {
	result := []string{}
	for _, i := range d.Instances {
		if keep(i) {
			result = append(result, d.Addrs[i.ID]...)
		}
	}
	sort.Strings(result)
	return result
}
