package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/docker/go-plugins-helpers/volume"
	"github.com/flaviostutz/sharedfs/api"
	"github.com/flaviostutz/sharedfs/dockervol"
	"github.com/flaviostutz/sharedfs/events"
	"github.com/flaviostutz/sharedfs/gluster"
	"github.com/flaviostutz/sharedfs/ledger"
	"github.com/flaviostutz/sharedfs/lock"
	"github.com/flaviostutz/sharedfs/membership"
	"github.com/flaviostutz/sharedfs/reconcile"
	"github.com/flaviostutz/sharedfs/shell"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

const VERSION = "1.0.0"

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	switch cfg.LogLevel {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	if cfg.Version {
		logrus.Infof("%s\n", VERSION)
		return
	}

	logrus.Infof("====Starting sharedfs version %s====", VERSION)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		logrus.Errorf("%s", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *Config) error {
	runner := shell.NewRunner(shell.DefaultTimeout)

	logrus.Debugf("Checking gluster pool")
	backend, err := gluster.New(cfg.Gluster, runner)
	if err != nil {
		return err
	}
	if err := backend.CheckSetup(ctx); err != nil {
		return err
	}

	l, err := ledger.Open(ctx, cfg.LedgerDSN)
	if err != nil {
		return err
	}
	defer l.Close()

	directory, projects, err := openDirectory(cfg)
	if err != nil {
		return err
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.LockEtcdServers != "" {
		etcdLocker, err := lock.NewEtcdLocker(cfg.LockEtcdServers, cfg.lockTimeout())
		if err != nil {
			return errors.Wrap(err, "error initializing ETCD lock")
		}
		defer etcdLocker.Close()
		locker = etcdLocker
	} else {
		logrus.Warnf("No -lock-etcd configured. Filesystem locks are local to this daemon")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engine, err := reconcile.New(reconcile.Config{
		Ledger:                       l,
		Backend:                      backend,
		Directory:                    directory,
		Projects:                     projects,
		Locker:                       locker,
		Metrics:                      reconcile.NewMetrics(reg),
		DeleteLedgerOnBackendFailure: cfg.DeleteLedgerOnBackendFailure,
	})
	if err != nil {
		return err
	}
	filter := events.NewFilter(cfg.EventAllow, cfg.EventDeny, engine, reg)

	errs := make(chan error, 2)
	srv := &http.Server{Addr: cfg.Listen, Handler: api.NewServer(engine, filter, reg)}
	go func() {
		logrus.Infof("Listening for HTTP requests at %s", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()

	if cfg.DockerSocket != "" {
		driver := dockervol.NewDriver(cfg.dockerConfig(), engine, runner)
		go func() {
			if err := serveDocker(driver, cfg.DockerSocket); err != nil {
				errs <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logrus.Infof("Shutting down")
	case err = <-errs:
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logrus.Warnf("Error stopping HTTP server: %s", serr)
	}
	return err
}

func openDirectory(cfg *Config) (membership.Directory, membership.ProjectDirectory, error) {
	if cfg.Directory == "file" {
		d, err := membership.NewFileDirectory(cfg.DirectoryFile)
		if err != nil {
			return nil, nil, err
		}
		return d, d, nil
	}

	provider, err := membership.Authenticate()
	if err != nil {
		return nil, nil, err
	}
	directory, err := membership.NewNovaDirectory(provider)
	if err != nil {
		return nil, nil, err
	}
	projects, err := membership.NewNovaProjects(provider)
	if err != nil {
		logrus.Warnf("Project names unavailable: %s", err)
		return directory, nil, nil
	}
	return directory, projects, nil
}

func serveDocker(driver *dockervol.Driver, socketAddress string) error {
	logrus.Debugf("Creating Docker VolumeDriver Handler")
	h := volume.NewHandler(driver)

	logrus.Infof("Opening Socket for Docker to connect at %s gid=%d", socketAddress, currentGid())
	if err := os.MkdirAll(filepath.Dir(socketAddress), os.ModeDir); err != nil {
		logrus.Errorf("Error creating socket directory: %s", err)
	}
	if err := h.ServeUnix(socketAddress, currentGid()); err != nil {
		return errors.Wrap(err, "Unable to create UNIX socket")
	}
	return nil
}

// returns current user gid or 0
func currentGid() int {
	current, err := user.Current()
	if err != nil {
		return 0
	}
	gid, err := strconv.Atoi(current.Gid)
	if err != nil {
		return 0
	}
	return gid
}
