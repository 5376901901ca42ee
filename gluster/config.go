package gluster

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Distribution modes for new volumes
const (
	ModeNormal     = "normal"
	ModeReplicated = "replicated"
	ModeStriped    = "striped"
)

// Config describes the gluster pool new volumes are carved from
type Config struct {
	Mode      string   // normal, replicated or striped
	Transport string   // tcp or rdma
	Count     int      // replica or stripe count, ignored for normal mode
	Bricks    []string // host:/directory
	SSHUser   string   // user for brick directory management, empty uses ssh defaults
}

// Brick is one host:directory pair of the pool
type Brick struct {
	Host string
	Dir  string
}

// Validate rejects configurations gluster would refuse
func (c Config) Validate() error {
	switch c.Mode {
	case ModeNormal, ModeReplicated, ModeStriped:
	default:
		return fmt.Errorf("Gluster mode must be 'normal', 'replicated', or 'striped'; got '%s'", c.Mode)
	}
	if c.Transport != "" && c.Transport != "tcp" && c.Transport != "rdma" {
		return fmt.Errorf("Gluster transport must be 'tcp' or 'rdma'; got '%s'", c.Transport)
	}
	if len(c.Bricks) == 0 {
		return fmt.Errorf("At least one gluster brick is required")
	}
	if _, err := c.ParseBricks(); err != nil {
		return err
	}
	if c.Mode != ModeNormal {
		if c.Count < 1 {
			return fmt.Errorf("gluster count must be positive for mode %s", c.Mode)
		}
		if len(c.Bricks) < c.Count {
			return fmt.Errorf("gluster count cannot exceed the number of bricks")
		}
		if len(c.Bricks)%c.Count != 0 {
			logrus.Warnf("If the number of gluster bricks is not a multiple of gluster count then some storage space may be wasted")
		}
	}
	return nil
}

// ParseBricks splits every brick definition into host and directory
func (c Config) ParseBricks() ([]Brick, error) {
	bricks := make([]Brick, 0, len(c.Bricks))
	for _, def := range c.Bricks {
		parts := strings.SplitN(def, ":", 2)
		if len(parts) != 2 || parts[0] == "" || !strings.HasPrefix(parts[1], "/") {
			return nil, fmt.Errorf("brick '%s' must be in the form hostname:/location", def)
		}
		bricks = append(bricks, Brick{Host: parts[0], Dir: strings.TrimRight(parts[1], "/")})
	}
	return bricks, nil
}

func (c Config) transport() string {
	if c.Transport == "" {
		return "tcp"
	}
	return c.Transport
}
