// Package gluster is the GlusterFS volume backend.
//
// All functionality is implemented with the 'gluster' CLI (run locally on a
// pool member) and 'ssh' (to prepare brick directories on each brick host).
//
// System Requirements:
//   - requires gluster CLI binary in PATH, running with rights to manage volumes
//   - requires password-less ssh to every brick host
//
// Access control is the volume 'auth.allow' option: attaching an address
// rewrites that option with the complete list of allowed addresses.
package gluster

import (
	"context"
	"fmt"
	"strings"

	"github.com/flaviostutz/sharedfs/backend"
	"github.com/flaviostutz/sharedfs/filesystem"
	"github.com/flaviostutz/sharedfs/shell"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	authAllowKey  = "auth.allow"
	limitUsageKey = "features.limit-usage"
)

// quotaPath is the volume root, the directory clients mount. A limit on a
// subdirectory such as /data would not bound what clients write there.
const quotaPath = "/"

// Driver implements backend.Backend over a gluster trusted pool
type Driver struct {
	cfg    Config
	bricks []Brick
	runner shell.Runner
}

var _ backend.Backend = &Driver{}

// New validates cfg and returns a driver issuing commands through runner
func New(cfg Config, runner shell.Runner) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bricks, err := cfg.ParseBricks()
	if err != nil {
		return nil, err
	}
	return &Driver{cfg: cfg, bricks: bricks, runner: runner}, nil
}

// CheckSetup verifies the gluster CLI answers
func (d *Driver) CheckSetup(ctx context.Context) error {
	if _, err := d.volumeInfo(ctx); err != nil {
		return errors.Wrap(err, "Glusterfs is not working")
	}
	return nil
}

// CreateVolume prepares one brick directory per brick host, creates the volume,
// sets its quota, starts it and opens it to the admin address only.
func (d *Driver) CreateVolume(ctx context.Context, name, owner string, size int) error {
	if err := checkPathElements(name, owner); err != nil {
		return err
	}
	logrus.Infof("Creating gluster volume name=%s owner=%s size=%d mode=%s", name, owner, size, d.cfg.Mode)

	bricklist, err := d.makeBricks(ctx, name, owner)
	if err != nil {
		return err
	}

	args := []string{"volume", "create", name}
	switch d.cfg.Mode {
	case ModeReplicated:
		args = append(args, "replica", fmt.Sprint(d.cfg.Count))
	case ModeStriped:
		args = append(args, "stripe", fmt.Sprint(d.cfg.Count))
	}
	args = append(args, "transport", d.cfg.transport())
	args = append(args, bricklist...)
	if _, err := d.gluster(ctx, args...); err != nil {
		d.cleanupBricks(ctx, name, owner)
		return classify(err, "error creating volume "+name)
	}

	steps := [][]string{
		{"volume", "quota", name, "enable"},
		{"volume", "quota", name, "limit-usage", quotaPath, glusterSizeStr(size)},
		{"volume", "start", name},
		{"volume", "set", name, authAllowKey, backend.AdminAddress},
	}
	for _, step := range steps {
		if _, err := d.gluster(ctx, step...); err != nil {
			logrus.Errorf("error preparing volume %s (%s): %s. Rolling back", name, strings.Join(step, " "), err)
			d.rollbackVolume(ctx, name, owner)
			return classify(err, "error preparing volume "+name)
		}
	}

	logrus.Infof("Gluster volume %s created successfully", name)
	return nil
}

// DeleteVolume stops and deletes the volume, then removes brick directories.
// Directory cleanup failures are logged and the directories leak.
func (d *Driver) DeleteVolume(ctx context.Context, name, owner string) error {
	if err := checkPathElements(name, owner); err != nil {
		return err
	}
	info, err := d.volumeInfo(ctx)
	if err != nil {
		return err
	}
	if _, found := info[name]; !found {
		return errors.Wrapf(filesystem.ErrNotFound, "gluster volume %s", name)
	}

	logrus.Infof("Deleting gluster volume %s", name)
	if _, err := d.gluster(ctx, "volume", "stop", name); err != nil {
		return classify(err, "error stopping volume "+name)
	}
	if _, err := d.gluster(ctx, "volume", "delete", name); err != nil {
		return classify(err, "error deleting volume "+name)
	}
	d.cleanupBricks(ctx, name, owner)
	return nil
}

// ListVolumes returns every volume of the pool with its usage quota
func (d *Driver) ListVolumes(ctx context.Context) ([]filesystem.VolumeInfo, error) {
	info, err := d.volumeInfo(ctx)
	if err != nil {
		return nil, err
	}
	var result []filesystem.VolumeInfo
	for _, name := range info.names() {
		result = append(result, filesystem.VolumeInfo{Name: name, Size: info.size(name)})
	}
	return result, nil
}

// Attach adds address to the volume allow-list
func (d *Driver) Attach(ctx context.Context, name, address string) error {
	attached, err := d.ListAttached(ctx, name)
	if err != nil {
		return err
	}
	for _, a := range attached {
		if a == address {
			logrus.Debugf("address %s already attached to %s", address, name)
			return nil
		}
	}
	return d.setAllowList(ctx, name, append(attached, address))
}

// Detach removes address from the volume allow-list
func (d *Driver) Detach(ctx context.Context, name, address string) error {
	attached, err := d.ListAttached(ctx, name)
	if err != nil {
		return err
	}
	remaining := make([]string, 0, len(attached))
	for _, a := range attached {
		if a != address {
			remaining = append(remaining, a)
		}
	}
	if len(remaining) == len(attached) {
		logrus.Debugf("address %s not attached to %s", address, name)
		return nil
	}
	return d.setAllowList(ctx, name, remaining)
}

// ListAttached returns the volume allow-list
func (d *Driver) ListAttached(ctx context.Context, name string) ([]string, error) {
	info, err := d.volumeInfo(ctx)
	if err != nil {
		return nil, err
	}
	options, found := info[name]
	if !found {
		return nil, errors.Wrapf(filesystem.ErrNotFound, "gluster volume %s", name)
	}
	return splitList(options[authAllowKey]), nil
}

func (d *Driver) setAllowList(ctx context.Context, name string, addresses []string) error {
	if len(addresses) == 0 {
		addresses = []string{backend.AdminAddress}
	}
	newlist := strings.Join(addresses, ",")
	logrus.Debugf("setting %s of %s to %s", authAllowKey, name, newlist)
	if _, err := d.gluster(ctx, "volume", "set", name, authAllowKey, newlist); err != nil {
		return classify(err, "error setting allow-list of volume "+name)
	}
	return nil
}

func (d *Driver) volumeInfo(ctx context.Context) (volumeInfo, error) {
	out, err := d.gluster(ctx, "volume", "info")
	if err != nil {
		return nil, classify(err, "error reading gluster volume info")
	}
	return parseVolumeInfo(out), nil
}

func (d *Driver) rollbackVolume(ctx context.Context, name, owner string) {
	if _, err := d.gluster(ctx, "volume", "stop", name, "force"); err != nil {
		logrus.Debugf("rollback: volume %s not stopped: %s", name, err)
	}
	if _, err := d.gluster(ctx, "volume", "delete", name); err != nil {
		logrus.Warnf("rollback: unable to delete half created volume %s: %s", name, err)
	}
	d.cleanupBricks(ctx, name, owner)
}

// gluster calls the gluster CLI in script mode so it never prompts
func (d *Driver) gluster(ctx context.Context, args ...string) (string, error) {
	return d.runner.Run(ctx, "gluster", append([]string{"--mode=script"}, args...)...)
}

// glusterSizeStr renders a size in GB as a gluster quota value
func glusterSizeStr(sizeInGB int) string {
	if sizeInGB <= 0 {
		return "100MB"
	}
	return fmt.Sprintf("%dGB", sizeInGB)
}

func splitList(value string) []string {
	var result []string
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			result = append(result, item)
		}
	}
	return result
}

// classify maps a failed command to the backend error taxonomy
func classify(err error, msg string) error {
	if _, ok := err.(*shell.TimeoutError); ok {
		return errors.Wrapf(filesystem.ErrBackendUnavailable, "%s: %s", msg, err)
	}
	out := strings.ToLower(shell.OutputOf(err))
	switch {
	case strings.Contains(out, "not permitted"),
		strings.Contains(out, "permission denied"),
		strings.Contains(out, "not authorized"):
		return errors.Wrapf(filesystem.ErrUnauthorized, "%s: %s", msg, shell.OutputOf(err))
	case strings.Contains(out, "does not exist"):
		return errors.Wrapf(filesystem.ErrNotFound, "%s: %s", msg, shell.OutputOf(err))
	default:
		return errors.Wrapf(filesystem.ErrBackendUnavailable, "%s: %s", msg, shell.OutputOf(err))
	}
}
