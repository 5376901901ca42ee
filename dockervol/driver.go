// Package dockervol exposes shared filesystems as a Docker volume plugin.
//
// The plugin creates a UNIX socket that accepts Volume Driver requests (JSON
// HTTP POSTs) from Docker Engine. Volumes are created and removed through the
// reconciliation engine, so scope policies apply to them like to any other
// filesystem. The daemon host mounts volumes through the admin address, which
// is always present in the volume allow-list.
//
// System Requirements:
//   - requires mount.glusterfs (glusterfs-client) on the host
//
// % docker volume create -d sharedfs -o scope=project -o project=<id> -o size=10 myfs
// % docker run --volume-driver=sharedfs -v myfs:/mnt/dir IMAGE [CMD]
package dockervol

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-plugins-helpers/volume"
	"github.com/flaviostutz/sharedfs/backend"
	"github.com/flaviostutz/sharedfs/filesystem"
	"github.com/flaviostutz/sharedfs/reconcile"
	"github.com/flaviostutz/sharedfs/shell"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var spaceDelimitedFieldsRegexp = regexp.MustCompile(`([^\s]+)`)

// Config holds the plugin defaults for 'docker volume create' options
type Config struct {
	RootMountDir   string
	Server         string // host the volumes are mounted from, defaults to the admin address
	DefaultScope   filesystem.Scope
	DefaultProject string
	DefaultSizeGB  int
	Timeout        time.Duration
}

// Driver implements volume.Driver
type Driver struct {
	cfg    Config
	engine *reconcile.Engine
	runner shell.Runner
	m      *sync.Mutex
	mounts map[string]map[string]bool // volume name -> mount caller ids
}

var _ volume.Driver = &Driver{}

// NewDriver returns a plugin driver creating volumes through engine
func NewDriver(cfg Config, engine *reconcile.Engine, runner shell.Runner) *Driver {
	if cfg.Server == "" {
		cfg.Server = backend.AdminAddress
	}
	if !cfg.DefaultScope.Valid() {
		cfg.DefaultScope = filesystem.ScopeInstance
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = shell.DefaultTimeout
	}
	return &Driver{
		cfg:    cfg,
		engine: engine,
		runner: runner,
		m:      &sync.Mutex{},
		mounts: make(map[string]map[string]bool),
	}
}

func (d *Driver) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d.cfg.Timeout)
}

// Capabilities
// Scope: global - volumes live in the gluster pool and are reachable from every host
func (d *Driver) Capabilities() *volume.CapabilitiesResponse {
	return &volume.CapabilitiesResponse{
		Capabilities: volume.Capability{
			Scope: "global",
		},
	}
}

// Create provisions a filesystem.
//
// Docker Volume Create Options:
//
//	size    - in GB
//	scope   - instance, project or global
//	project - owning project
func (d *Driver) Create(r *volume.CreateRequest) error {
	logrus.Infof(">>> DOCKER API CREATE(%q)", r.Name)
	ctx, cancel := d.context()
	defer cancel()

	size := d.cfg.DefaultSizeGB
	if r.Options["size"] != "" {
		var err error
		size, err = strconv.Atoi(r.Options["size"])
		if err != nil {
			return fmt.Errorf("unable to parse int from %s: %s", r.Options["size"], err)
		}
	}
	scope := d.cfg.DefaultScope
	if r.Options["scope"] != "" {
		var err error
		scope, err = filesystem.ParseScope(r.Options["scope"])
		if err != nil {
			return err
		}
	}
	project := d.cfg.DefaultProject
	if r.Options["project"] != "" {
		project = r.Options["project"]
	}

	result, err := d.engine.Create(ctx, r.Name, scope, project, size)
	if err != nil {
		logrus.Errorf("error creating volume %s: %s", r.Name, err)
		return err
	}
	for _, f := range result.Failures {
		logrus.Warnf("volume %s created without access for instance %s address %s: %s", r.Name, f.Instance, f.Address, f.Err)
	}
	return nil
}

// Remove deletes the filesystem. Volumes still mounted on this host are refused.
func (d *Driver) Remove(r *volume.RemoveRequest) error {
	logrus.Infof(">>> DOCKER API REMOVE(%q)", r.Name)
	d.m.Lock()
	inUse := len(d.mounts[r.Name])
	d.m.Unlock()
	if inUse > 0 {
		return fmt.Errorf("volume %s is still mounted by %d containers", r.Name, inUse)
	}

	ctx, cancel := d.context()
	defer cancel()
	if _, err := d.engine.Delete(ctx, r.Name); err != nil {
		logrus.Errorf("error removing volume %s: %s", r.Name, err)
		return err
	}
	return nil
}

// List returns every filesystem, with its mountpoint when mounted on this host
func (d *Driver) List() (*volume.ListResponse, error) {
	logrus.Infof(">>> DOCKER API LIST")
	ctx, cancel := d.context()
	defer cancel()

	entries, _, err := d.engine.List(ctx)
	if err != nil {
		return nil, err
	}
	mounted, err := d.currentMounts(ctx)
	if err != nil {
		return nil, err
	}

	var vols []*volume.Volume
	for _, e := range entries {
		v := &volume.Volume{Name: e.Name}
		if mp := d.mountpoint(e.Name); mounted[mp] != "" {
			v.Mountpoint = mp
		}
		vols = append(vols, v)
	}
	logrus.Debugf("Volumes found: %d", len(vols))
	return &volume.ListResponse{Volumes: vols}, nil
}

func (d *Driver) Get(r *volume.GetRequest) (*volume.GetResponse, error) {
	logrus.Infof(">>> DOCKER API GET(%q)", r.Name)
	all, err := d.List()
	if err != nil {
		return nil, err
	}
	for _, v := range all.Volumes {
		if v.Name == r.Name {
			return &volume.GetResponse{Volume: v}, nil
		}
	}
	return nil, errors.Wrapf(filesystem.ErrNotFound, "volume %s", r.Name)
}

// Path returns the host mountpoint of a mounted volume
func (d *Driver) Path(r *volume.PathRequest) (*volume.PathResponse, error) {
	logrus.Infof(">>> DOCKER API PATH(%q)", r.Name)
	ctx, cancel := d.context()
	defer cancel()

	mounted, err := d.currentMounts(ctx)
	if err != nil {
		return nil, err
	}
	mp := d.mountpoint(r.Name)
	if mounted[mp] == "" {
		return nil, fmt.Errorf("volume %s not mounted at %s", r.Name, mp)
	}
	return &volume.PathResponse{Mountpoint: mp}, nil
}

// Mount mounts the volume on first use and counts callers by id
func (d *Driver) Mount(r *volume.MountRequest) (*volume.MountResponse, error) {
	logrus.Infof(">>> DOCKER API MOUNT(%q, %q)", r.Name, r.ID)
	d.m.Lock()
	defer d.m.Unlock()
	ctx, cancel := d.context()
	defer cancel()

	mounted, err := d.currentMounts(ctx)
	if err != nil {
		return nil, err
	}
	mp := d.mountpoint(r.Name)
	if mounted[mp] != "" {
		logrus.Infof("Mountpoint %s already exists. Reusing it", mp)
	} else {
		if err := os.MkdirAll(mp, os.ModeDir|os.FileMode(0775)); err != nil {
			return nil, fmt.Errorf("unable to create mountdir %s: %s", mp, err)
		}
		source := fmt.Sprintf("%s:/%s", d.cfg.Server, r.Name)
		if _, err := d.runner.Run(ctx, "mount", "-t", "glusterfs", source, mp); err != nil {
			logrus.Errorf("error mounting %s to %s: %s", source, mp, err)
			return nil, fmt.Errorf("unable to mount volume %s: %s", r.Name, shell.OutputOf(err))
		}
		logrus.Infof("Mount of %s to %s successful", source, mp)
	}

	if d.mounts[r.Name] == nil {
		d.mounts[r.Name] = make(map[string]bool)
	}
	d.mounts[r.Name][r.ID] = true
	return &volume.MountResponse{Mountpoint: mp}, nil
}

// Unmount releases the caller and unmounts when no caller is left
func (d *Driver) Unmount(r *volume.UnmountRequest) error {
	logrus.Infof(">>> DOCKER API UNMOUNT(%q, %q)", r.Name, r.ID)
	d.m.Lock()
	defer d.m.Unlock()

	users := d.mounts[r.Name]
	left := len(users)
	if users[r.ID] {
		left--
	}
	if left > 0 {
		logrus.Infof("skipping unmount... there are still %d users of this mount", left)
		delete(users, r.ID)
		return nil
	}

	ctx, cancel := d.context()
	defer cancel()
	mounted, err := d.currentMounts(ctx)
	if err != nil {
		return err
	}
	mp := d.mountpoint(r.Name)
	if mounted[mp] == "" {
		logrus.Warnf("Volume %s mount not found at %s", r.Name, mp)
		delete(d.mounts, r.Name)
		return fmt.Errorf("volume %s mount not found at %s", r.Name, mp)
	}
	// the caller stays registered until the host mount is gone
	if _, err := d.runner.Run(ctx, "umount", mp); err != nil {
		return fmt.Errorf("error unmounting %s: %s", mp, shell.OutputOf(err))
	}
	delete(d.mounts, r.Name)
	logrus.Debugf("Volume %s unmounted from %s", r.Name, mp)
	return nil
}

func (d *Driver) mountpoint(name string) string {
	return filepath.Join(d.cfg.RootMountDir, name)
}

// currentMounts maps mount paths to their source, from 'mount' output lines
// like 'localhost:/myfs on /mnt/sharedfs/myfs type fuse.glusterfs (rw,...)'
func (d *Driver) currentMounts(ctx context.Context) (map[string]string, error) {
	result, err := d.runner.Run(ctx, "mount")
	if err != nil {
		return nil, errors.Wrap(err, "error getting current mounts")
	}
	mounts := make(map[string]string)
	for _, line := range strings.Split(result, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := spaceDelimitedFieldsRegexp.FindAllStringSubmatch(line, -1)
		if len(fields) < 3 {
			return nil, fmt.Errorf("cannot get mount fields from line %s", line)
		}
		mounts[fields[2][0]] = fields[0][0]
	}
	return mounts, nil
}
