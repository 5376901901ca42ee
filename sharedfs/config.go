package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/flaviostutz/sharedfs/backend"
	"github.com/flaviostutz/sharedfs/dockervol"
	"github.com/flaviostutz/sharedfs/events"
	"github.com/flaviostutz/sharedfs/filesystem"
	"github.com/flaviostutz/sharedfs/gluster"
)

// Config is everything the daemon needs to build its components
type Config struct {
	Version  bool
	LogLevel string

	Gluster gluster.Config

	LedgerDSN     string
	Directory     string
	DirectoryFile string

	LockEtcdServers   string
	LockTimeoutMillis uint64

	DeleteLedgerOnBackendFailure bool

	EventAllow []string
	EventDeny  []string

	Listen       string
	DockerSocket string
	MountRoot    string
	DockerScope  filesystem.Scope

	DockerProject string
	DockerSizeGB  int
	DockerServer  string
}

func parseFlags(args []string) (*Config, error) {
	fs := flag.NewFlagSet("sharedfs", flag.ContinueOnError)
	c := &Config{}

	fs.BoolVar(&c.Version, "version", false, "Print version")
	fs.StringVar(&c.LogLevel, "loglevel", "info", "debug, info, warning, error")

	fs.StringVar(&c.Gluster.Mode, "gluster-mode", gluster.ModeNormal, "Distribution of new volumes: normal, replicated or striped")
	fs.StringVar(&c.Gluster.Transport, "gluster-transport", "tcp", "Volume transport: tcp or rdma")
	fs.IntVar(&c.Gluster.Count, "gluster-count", 0, "Replica or stripe count, ignored for normal mode")
	bricks := fs.String("gluster-bricks", "", "Bricks new volumes are carved from. ex.: 192.168.1.1:/gluster,192.168.1.2:/gluster")
	fs.StringVar(&c.Gluster.SSHUser, "gluster-ssh-user", "", "User for creating and removing brick directories over ssh")

	fs.StringVar(&c.LedgerDSN, "ledger", "sqlite:///var/lib/sharedfs/ledger.db", "Ledger store: sqlite:///path or bolt:///path")
	fs.StringVar(&c.Directory, "directory", "nova", "Instance directory: 'nova' (credentials from OS_* env) or 'file'")
	fs.StringVar(&c.DirectoryFile, "directory-file", "", "Inventory yaml used when -directory=file")

	fs.StringVar(&c.LockEtcdServers, "lock-etcd", os.Getenv("ETCD_URL"), "ETCD server addresses used for distributed lock management. ex.: 192.168.1.1:2379,192.168.1.2:2379")
	fs.Uint64Var(&c.LockTimeoutMillis, "lock-timeout", 10*1000, "If a daemon stops sending lock refreshs, its locks are released after this time")

	fs.BoolVar(&c.DeleteLedgerOnBackendFailure, "delete-ledger-on-backend-failure", true, "Remove the ledger record of a filesystem even when the backend could not delete its volume")

	allow := fs.String("event-allow", strings.Join(events.DefaultAllow(), ","), "Event types dispatched to the engine")
	deny := fs.String("event-deny", "", "Event types always dropped, even when allowed")

	fs.StringVar(&c.Listen, "listen", ":8776", "HTTP management address")
	fs.StringVar(&c.DockerSocket, "docker-socket", "", "Docker volume plugin socket, ex.: /run/docker/plugins/sharedfs.sock. Empty disables the plugin")
	fs.StringVar(&c.MountRoot, "mount", "/mnt/sharedfs", "Mount directory for docker volumes on host")
	dockerScope := fs.String("docker-scope", "instance", "Scope of volumes created through docker without a 'scope' option")
	fs.StringVar(&c.DockerProject, "docker-project", os.Getenv("OS_PROJECT_ID"), "Owning project of volumes created through docker without a 'project' option")
	fs.IntVar(&c.DockerSizeGB, "docker-size", 1, "Size in GB of volumes created through docker without a 'size' option")
	fs.StringVar(&c.DockerServer, "docker-server", backend.AdminAddress, "Gluster server docker volumes are mounted from")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	c.Gluster.Bricks = splitList(*bricks)
	c.EventAllow = splitList(*allow)
	if c.EventAllow == nil {
		c.EventAllow = []string{}
	}
	c.EventDeny = splitList(*deny)

	var err error
	c.DockerScope, err = filesystem.ParseScope(*dockerScope)
	if err != nil {
		return nil, err
	}
	if c.DockerSocket != "" && c.DockerScope != filesystem.ScopeGlobal && c.DockerProject == "" {
		return nil, fmt.Errorf("-docker-project (or OS_PROJECT_ID) is required when -docker-scope is %s", c.DockerScope)
	}
	if c.DockerSizeGB < 0 {
		return nil, fmt.Errorf("-docker-size must not be negative; got %d", c.DockerSizeGB)
	}
	if c.Directory != "nova" && c.Directory != "file" {
		return nil, fmt.Errorf("-directory must be 'nova' or 'file'; got '%s'", c.Directory)
	}
	if c.Directory == "file" && c.DirectoryFile == "" {
		return nil, fmt.Errorf("-directory-file is required when -directory=file")
	}
	return c, nil
}

func (c *Config) dockerConfig() dockervol.Config {
	return dockervol.Config{
		RootMountDir:   c.MountRoot,
		Server:         c.DockerServer,
		DefaultScope:   c.DockerScope,
		DefaultProject: c.DockerProject,
		DefaultSizeGB:  c.DockerSizeGB,
	}
}

func (c *Config) lockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMillis) * time.Millisecond
}

func splitList(value string) []string {
	var result []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			result = append(result, v)
		}
	}
	return result
}
