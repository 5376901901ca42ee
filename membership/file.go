package membership

import (
	"context"
	"os"
	"sync"

	"github.com/flaviostutz/sharedfs/filesystem"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// FileDirectory serves instances from a static YAML inventory, for
// deployments without a compute API and for local testing.
//
//	projects:
//	  project1: Project One
//	instances:
//	  - id: instance1
//	    name: web-1
//	    project: project1
//	    addresses: [10.10.10.43]
type FileDirectory struct {
	m         sync.RWMutex
	path      string
	projects  map[string]string
	instances []fileInstance
}

type fileInstance struct {
	filesystem.Instance `yaml:",inline"`
	Addresses           []string `yaml:"addresses"`
}

type fileInventory struct {
	Projects  map[string]string `yaml:"projects"`
	Instances []fileInstance    `yaml:"instances"`
}

var _ Directory = &FileDirectory{}
var _ ProjectDirectory = &FileDirectory{}

// NewFileDirectory loads the inventory at path
func NewFileDirectory(path string) (*FileDirectory, error) {
	d := &FileDirectory{path: path}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload reads the inventory file again, replacing the current content
func (d *FileDirectory) Reload() error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return errors.Wrapf(err, "reading instance inventory %s", d.path)
	}
	var inv fileInventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return errors.Wrapf(err, "parsing instance inventory %s", d.path)
	}
	seen := make(map[string]bool)
	for _, i := range inv.Instances {
		if i.ID == "" {
			return errors.Errorf("instance without id in %s", d.path)
		}
		if seen[i.ID] {
			return errors.Errorf("duplicate instance %s in %s", i.ID, d.path)
		}
		seen[i.ID] = true
	}

	d.m.Lock()
	d.projects = inv.Projects
	d.instances = inv.Instances
	d.m.Unlock()
	logrus.Debugf("loaded %d instances from %s", len(inv.Instances), d.path)
	return nil
}

func (d *FileDirectory) ListInstances(ctx context.Context) ([]filesystem.Instance, error) {
	d.m.RLock()
	defer d.m.RUnlock()
	result := make([]filesystem.Instance, 0, len(d.instances))
	for _, i := range d.instances {
		result = append(result, i.Instance)
	}
	return result, nil
}

func (d *FileDirectory) ListProjectInstances(ctx context.Context, project string) ([]filesystem.Instance, error) {
	d.m.RLock()
	defer d.m.RUnlock()
	result := make([]filesystem.Instance, 0)
	for _, i := range d.instances {
		if i.Project == project {
			result = append(result, i.Instance)
		}
	}
	return result, nil
}

func (d *FileDirectory) GetInstance(ctx context.Context, id string) (*filesystem.Instance, error) {
	i, err := d.find(id)
	if err != nil {
		return nil, err
	}
	instance := i.Instance
	return &instance, nil
}

func (d *FileDirectory) Addresses(ctx context.Context, id string) ([]string, error) {
	i, err := d.find(id)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), i.Addresses...), nil
}

func (d *FileDirectory) FindByAddress(ctx context.Context, address string) (*filesystem.Instance, error) {
	d.m.RLock()
	defer d.m.RUnlock()
	for _, i := range d.instances {
		for _, a := range i.Addresses {
			if a == address {
				instance := i.Instance
				return &instance, nil
			}
		}
	}
	return nil, errors.Wrapf(filesystem.ErrNotFound, "no instance with address %s", address)
}

// ProjectName falls back to the id when the inventory has no name for it
func (d *FileDirectory) ProjectName(ctx context.Context, id string) (string, error) {
	d.m.RLock()
	defer d.m.RUnlock()
	if name, ok := d.projects[id]; ok && name != "" {
		return name, nil
	}
	return id, nil
}

func (d *FileDirectory) find(id string) (fileInstance, error) {
	d.m.RLock()
	defer d.m.RUnlock()
	for _, i := range d.instances {
		if i.ID == id {
			return i, nil
		}
	}
	return fileInstance{}, errors.Wrapf(filesystem.ErrNotFound, "instance %s", id)
}
