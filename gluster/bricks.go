package gluster

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/flaviostutz/sharedfs/filesystem"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// brickDir is where a volume lives on a brick: <brick dir>/<owner>/<name>
func brickDir(b Brick, owner, name string) string {
	return path.Join(b.Dir, ownerDirName(owner), name)
}

func ownerDirName(owner string) string {
	if owner == "" {
		return "_global"
	}
	return owner
}

// makeBricks creates the volume directory on every brick host and returns the
// brick list for 'volume create'. Hosts failing mkdir are left out.
func (d *Driver) makeBricks(ctx context.Context, name, owner string) ([]string, error) {
	var bricklist []string
	for _, b := range d.bricks {
		dir := brickDir(b, owner, name)
		out, err := d.ssh(ctx, b.Host, "mkdir -p", dir)
		if err != nil {
			logrus.Warnf("Failed to mkdir %s on %s. That brick will be excluded from filesystem %s. out=%s err=%s", dir, b.Host, name, out, err)
			continue
		}
		brickdef := fmt.Sprintf("%s:%s", b.Host, dir)
		logrus.Debugf("Created brick; adding %s", brickdef)
		bricklist = append(bricklist, brickdef)
	}

	if len(bricklist) == 0 {
		return nil, errors.Wrapf(filesystem.ErrBackendUnavailable, "could not mkdir on a single brick for %s", name)
	}
	return bricklist, nil
}

// cleanupBricks removes the volume directory from every brick host
func (d *Driver) cleanupBricks(ctx context.Context, name, owner string) {
	for _, b := range d.bricks {
		dir := brickDir(b, owner, name)
		if out, err := d.ssh(ctx, b.Host, "rmdir", dir); err != nil {
			logrus.Warnf("Failed to rmdir %s on %s. We leaked a directory. out=%s err=%s", dir, b.Host, out, err)
		}

		// fails quietly while other volumes of the same owner remain
		projdir := path.Join(b.Dir, ownerDirName(owner))
		if _, err := d.ssh(ctx, b.Host, "rmdir", projdir); err != nil {
			logrus.Debugf("owner directory %s on %s kept: %s", projdir, b.Host, err)
		}
	}
}

// checkPathElements rejects names that would leave the brick directory
func checkPathElements(name, owner string) error {
	if !filesystem.ValidName(name) {
		return errors.Wrapf(filesystem.ErrInvalidRequest, "invalid volume name %q", name)
	}
	if owner != "" && !filesystem.ValidName(owner) {
		return errors.Wrapf(filesystem.ErrInvalidRequest, "invalid owner %q for volume %s", owner, name)
	}
	return nil
}

// ssh runs command on host with path as its last argument. The remote shell
// parses the line, so path is single-quoted.
func (d *Driver) ssh(ctx context.Context, host, command, path string) (string, error) {
	target := host
	if d.cfg.SSHUser != "" {
		target = d.cfg.SSHUser + "@" + host
	}
	return d.runner.Run(ctx, "ssh", "-o", "BatchMode=yes", target, command+" "+shellQuote(path))
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
