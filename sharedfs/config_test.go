package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/go-plugins-helpers/volume"
	"github.com/flaviostutz/sharedfs/dockervol"
	"github.com/flaviostutz/sharedfs/events"
	"github.com/flaviostutz/sharedfs/filesystem"
	"github.com/flaviostutz/sharedfs/ledger"
	"github.com/flaviostutz/sharedfs/reconcile"
	"github.com/flaviostutz/sharedfs/reconcile/reconciletest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlagsDefaults(t *testing.T) {
	t.Setenv("OS_PROJECT_ID", "")
	cfg, err := parseFlags(nil)
	require.NoError(t, err)
	assert.True(t, cfg.DeleteLedgerOnBackendFailure)
	assert.Equal(t, events.DefaultAllow(), cfg.EventAllow)
	assert.Empty(t, cfg.EventDeny)
	assert.Equal(t, ":8776", cfg.Listen)
	assert.Equal(t, "nova", cfg.Directory)
	assert.Equal(t, filesystem.ScopeInstance, cfg.DockerScope)
	assert.Equal(t, 10*time.Second, cfg.lockTimeout())
	assert.Equal(t, dockervol.Config{
		RootMountDir:  "/mnt/sharedfs",
		Server:        "localhost",
		DefaultScope:  filesystem.ScopeInstance,
		DefaultSizeGB: 1,
	}, cfg.dockerConfig())
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		check   func(t *testing.T, cfg *Config)
		wantErr bool
	}{
		{
			name: "gluster pool",
			args: []string{"-gluster-mode", "replicated", "-gluster-count", "2", "-gluster-bricks", "10.0.0.1:/gluster, 10.0.0.2:/gluster"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "replicated", cfg.Gluster.Mode)
				assert.Equal(t, 2, cfg.Gluster.Count)
				assert.Equal(t, []string{"10.0.0.1:/gluster", "10.0.0.2:/gluster"}, cfg.Gluster.Bricks)
			},
		},
		{
			name: "event lists",
			args: []string{"-event-allow", "", "-event-deny", "compute.instance.delete.start"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []string{}, cfg.EventAllow)
				assert.Equal(t, []string{events.InstanceDeleteStart}, cfg.EventDeny)
			},
		},
		{
			name: "file directory",
			args: []string{"-directory", "file", "-directory-file", "/etc/sharedfs/inventory.yaml", "-delete-ledger-on-backend-failure=false"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/etc/sharedfs/inventory.yaml", cfg.DirectoryFile)
				assert.False(t, cfg.DeleteLedgerOnBackendFailure)
			},
		},
		{
			name: "docker defaults",
			args: []string{"-docker-socket", "/run/docker/plugins/sharedfs.sock", "-docker-project", "project1", "-docker-size", "5", "-docker-server", "gluster1"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, dockervol.Config{
					RootMountDir:   "/mnt/sharedfs",
					Server:         "gluster1",
					DefaultScope:   filesystem.ScopeInstance,
					DefaultProject: "project1",
					DefaultSizeGB:  5,
				}, cfg.dockerConfig())
			},
		},
		{
			name: "docker global scope needs no project",
			args: []string{"-docker-socket", "/run/docker/plugins/sharedfs.sock", "-docker-scope", "global"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, filesystem.ScopeGlobal, cfg.dockerConfig().DefaultScope)
			},
		},
		{name: "docker socket without project", args: []string{"-docker-socket", "/run/docker/plugins/sharedfs.sock"}, wantErr: true},
		{name: "negative docker size", args: []string{"-docker-size", "-1"}, wantErr: true},
		{name: "file directory without inventory", args: []string{"-directory", "file"}, wantErr: true},
		{name: "unknown directory", args: []string{"-directory", "ldap"}, wantErr: true},
		{name: "bad docker scope", args: []string{"-docker-scope", "planet"}, wantErr: true},
		{name: "unknown flag", args: []string{"-cluster", "ceph"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OS_PROJECT_ID", "")
			cfg, err := parseFlags(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestDockerCreateWithoutOptions(t *testing.T) {
	t.Setenv("OS_PROJECT_ID", "project1")
	cfg, err := parseFlags([]string{"-docker-socket", "/run/docker/plugins/sharedfs.sock", "-mount", t.TempDir()})
	require.NoError(t, err)

	l, err := ledger.NewBolt(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	backend := reconciletest.NewBackend()
	engine, err := reconcile.New(reconcile.Config{Ledger: l, Backend: backend, Directory: reconciletest.NewDirectory()})
	require.NoError(t, err)

	driver := dockervol.NewDriver(cfg.dockerConfig(), engine, nil)
	require.NoError(t, driver.Create(&volume.CreateRequest{Name: "myfs"}))

	fs, err := l.Get(context.Background(), "myfs")
	require.NoError(t, err)
	assert.Equal(t, filesystem.ScopeInstance, fs.Scope)
	assert.Equal(t, "project1", fs.Project)
	assert.Equal(t, 1, fs.Size)
}
