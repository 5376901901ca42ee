// Package reconcile keeps backend attachment state in line with the scope
// policy recorded in the ledger. Every operation runs to completion or
// reports the addresses it could not reconcile; nothing is persisted between
// passes and a failed pass is retried by re-issuing it.
package reconcile

import (
	"context"

	"github.com/flaviostutz/sharedfs/backend"
	"github.com/flaviostutz/sharedfs/filesystem"
	"github.com/flaviostutz/sharedfs/ledger"
	"github.com/flaviostutz/sharedfs/lock"
	"github.com/flaviostutz/sharedfs/membership"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	opAttach = "attach"
	opDetach = "detach"
)

// Config wires the engine collaborators. Projects, Locker and Metrics are optional.
type Config struct {
	Ledger    ledger.Ledger
	Backend   backend.Backend
	Directory membership.Directory
	Projects  membership.ProjectDirectory
	Locker    lock.Locker
	Metrics   *Metrics

	// DeleteLedgerOnBackendFailure removes the ledger record even when the
	// backend could not delete the volume, which may leak the volume.
	DeleteLedgerOnBackendFailure bool
}

// Engine orchestrates ledger, resolver and backend
type Engine struct {
	cfg      Config
	resolver *membership.Resolver
}

// Attachment is one (filesystem, address) grant
type Attachment struct {
	Filesystem string `json:"filesystem"`
	Instance   string `json:"instance,omitempty"`
	Address    string `json:"address,omitempty"`
}

// Failure is an attachment that could not be applied. Address is empty when
// the instance addresses could not be looked up.
type Failure struct {
	Attachment
	Err error `json:"-"`
}

// Result reports what a pass changed
type Result struct {
	Filesystem *filesystem.Filesystem
	Applied    []Attachment
	Failures   []Failure
}

// Entry is a listed filesystem: a backend volume enriched with its policy
type Entry struct {
	Name        string           `json:"name"`
	Size        string           `json:"size"`
	Scope       filesystem.Scope `json:"scope"`
	Project     string           `json:"project"`
	ProjectName string           `json:"project_name,omitempty"`
}

// IntegrityReport lists filesystems known by only one side. Orphans exist in
// the backend only, ghosts in the ledger only. Neither is repaired.
type IntegrityReport struct {
	Orphans []string `json:"orphans"`
	Ghosts  []string `json:"ghosts"`
}

// New checks cfg and fills the optional collaborators
func New(cfg Config) (*Engine, error) {
	if cfg.Ledger == nil || cfg.Backend == nil || cfg.Directory == nil {
		return nil, errors.New("reconcile engine needs a ledger, a backend and an instance directory")
	}
	if cfg.Locker == nil {
		cfg.Locker = lock.NewLocalLocker()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	return &Engine{cfg: cfg, resolver: membership.NewResolver(cfg.Directory)}, nil
}

// Create records the filesystem, provisions the volume and attaches every
// instance its scope resolves to. Per-address failures are reported in the
// result and do not fail the call.
func (e *Engine) Create(ctx context.Context, name string, scope filesystem.Scope, owner string, size int) (*Result, error) {
	fs := filesystem.Filesystem{Name: name, Scope: scope, Project: owner, Size: size}
	if err := fs.Validate(); err != nil {
		return nil, err
	}

	unlock, err := e.lock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	created, err := e.cfg.Ledger.Create(ctx, fs)
	if err != nil {
		return nil, err
	}

	if err := e.cfg.Backend.CreateVolume(ctx, name, owner, size); err != nil {
		if lerr := e.cfg.Ledger.Delete(ctx, name); lerr != nil {
			logrus.Errorf("Could not roll back ledger record of filesystem %s after backend failure: %s", name, lerr)
		}
		return nil, err
	}

	result := &Result{Filesystem: created}
	if scope.AutoAttach() {
		e.apply(ctx, opAttach, created, result)
	}
	e.cfg.Metrics.passes.WithLabelValues("create").Inc()
	logrus.Infof("Filesystem %s created scope=%s project=%s attached=%d failed=%d", name, scope, owner, len(result.Applied), len(result.Failures))
	return result, nil
}

// Delete detaches the instances the scope resolves to, deletes the volume and
// removes the ledger record. An unknown name fails with filesystem.ErrNotFound
// before any backend call.
func (e *Engine) Delete(ctx context.Context, name string) (*Result, error) {
	unlock, err := e.lock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	fs, err := e.cfg.Ledger.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	result := &Result{Filesystem: fs}
	if fs.Scope.AutoAttach() {
		e.apply(ctx, opDetach, fs, result)
	}
	e.cfg.Metrics.passes.WithLabelValues("delete").Inc()

	if err := e.cfg.Backend.DeleteVolume(ctx, name, fs.Project); err != nil {
		if !e.cfg.DeleteLedgerOnBackendFailure {
			return result, err
		}
		logrus.Warnf("Backend could not delete filesystem %s (%s). Removing ledger record anyway, the volume may leak", name, err)
		if lerr := e.cfg.Ledger.Delete(ctx, name); lerr != nil {
			logrus.Errorf("Could not remove ledger record of filesystem %s: %s", name, lerr)
		}
		return result, err
	}

	if err := e.cfg.Ledger.Delete(ctx, name); err != nil {
		return result, err
	}
	logrus.Infof("Filesystem %s deleted detached=%d failed=%d", name, len(result.Applied), len(result.Failures))
	return result, nil
}

// List returns the backend volumes known to the ledger, enriched with their
// policy. Volumes known to only one side are reported and left alone.
func (e *Engine) List(ctx context.Context) ([]Entry, IntegrityReport, error) {
	report := IntegrityReport{Orphans: []string{}, Ghosts: []string{}}

	volumes, err := e.cfg.Backend.ListVolumes(ctx)
	if err != nil {
		return nil, report, err
	}
	records, err := e.cfg.Ledger.List(ctx)
	if err != nil {
		return nil, report, err
	}

	byName := make(map[string]filesystem.Filesystem, len(records))
	for _, r := range records {
		byName[r.Name] = r
	}

	entries := make([]Entry, 0, len(volumes))
	for _, v := range volumes {
		r, found := byName[v.Name]
		if !found {
			logrus.Warnf("Found filesystem %s that is not recorded in the ledger. Ignoring", v.Name)
			report.Orphans = append(report.Orphans, v.Name)
			continue
		}
		delete(byName, v.Name)
		entries = append(entries, Entry{
			Name:        v.Name,
			Size:        v.Size,
			Scope:       r.Scope,
			Project:     r.Project,
			ProjectName: e.projectName(ctx, r.Project),
		})
	}

	for _, r := range records {
		if _, ghost := byName[r.Name]; ghost {
			report.Ghosts = append(report.Ghosts, r.Name)
		}
	}
	if len(report.Ghosts) > 0 {
		logrus.Warnf("Possible ledger integrity issue. These filesystems are recorded but cannot be located in the backend: %v", report.Ghosts)
	}

	e.cfg.Metrics.divergence.WithLabelValues("orphan").Set(float64(len(report.Orphans)))
	e.cfg.Metrics.divergence.WithLabelValues("ghost").Set(float64(len(report.Ghosts)))
	return entries, report, nil
}

// Attachments returns the ids of the instances currently granted access.
// Addresses no instance owns are logged and skipped.
func (e *Engine) Attachments(ctx context.Context, name string) ([]string, error) {
	addresses, err := e.cfg.Backend.ListAttached(ctx, name)
	if err != nil {
		return nil, err
	}

	ids := []string{}
	seen := map[string]bool{}
	for _, address := range backend.FilterAdmin(addresses) {
		instance, err := e.cfg.Directory.FindByAddress(ctx, address)
		if err != nil {
			if errors.Is(err, filesystem.ErrNotFound) {
				logrus.Warnf("Filesystem %s is attached to a most likely defunct instance with address %s", name, address)
				continue
			}
			return nil, err
		}
		if !seen[instance.ID] {
			seen[instance.ID] = true
			ids = append(ids, instance.ID)
		}
	}
	return ids, nil
}

// AttachInstance grants every address of the instance access to the filesystem.
// The first backend failure aborts.
func (e *Engine) AttachInstance(ctx context.Context, name, instanceID string) error {
	return e.explicit(ctx, opAttach, name, instanceID)
}

// DetachInstance revokes every address of the instance
func (e *Engine) DetachInstance(ctx context.Context, name, instanceID string) error {
	return e.explicit(ctx, opDetach, name, instanceID)
}

func (e *Engine) explicit(ctx context.Context, op, name, instanceID string) error {
	if _, err := e.cfg.Directory.GetInstance(ctx, instanceID); err != nil {
		return err
	}
	addresses, err := e.cfg.Directory.Addresses(ctx, instanceID)
	if err != nil {
		return err
	}
	if len(addresses) == 0 {
		return errors.Wrapf(filesystem.ErrNotFound, "no address for instance %s", instanceID)
	}

	unlock, err := e.lock(ctx, name)
	if err != nil {
		return err
	}
	defer unlock()

	for _, address := range addresses {
		logrus.Debugf("%s address %s of instance %s on filesystem %s", op, address, instanceID, name)
		if err := e.backendOp(ctx, op, name, address); err != nil {
			return err
		}
	}
	return nil
}

// InstanceCreated attaches a new instance to every global filesystem and to
// every project filesystem owned by its project
func (e *Engine) InstanceCreated(ctx context.Context, instanceID, project string) (*Result, error) {
	return e.lifecycle(ctx, opAttach, instanceID, project)
}

// InstanceDeleting detaches an instance about to vanish from the filesystems
// InstanceCreated would have attached it to
func (e *Engine) InstanceDeleting(ctx context.Context, instanceID, project string) (*Result, error) {
	return e.lifecycle(ctx, opDetach, instanceID, project)
}

func (e *Engine) lifecycle(ctx context.Context, op, instanceID, project string) (*Result, error) {
	pass := uuid.New().String()
	log := logrus.WithFields(logrus.Fields{"pass": pass, "instance": instanceID, "op": op})

	records, err := e.cfg.Ledger.List(ctx)
	if err != nil {
		return nil, err
	}
	var targets []filesystem.Filesystem
	for _, fs := range records {
		switch fs.Scope {
		case filesystem.ScopeGlobal:
			targets = append(targets, fs)
		case filesystem.ScopeProject:
			if fs.Project == project {
				targets = append(targets, fs)
			}
		}
	}

	result := &Result{}
	if len(targets) == 0 {
		log.Debugf("No filesystem applies to project %s", project)
		return result, nil
	}

	addresses, err := e.cfg.Directory.Addresses(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	for _, fs := range targets {
		unlock, err := e.lock(ctx, fs.Name)
		if err != nil {
			return result, err
		}
		for _, address := range addresses {
			a := Attachment{Filesystem: fs.Name, Instance: instanceID, Address: address}
			log.WithFields(logrus.Fields{"fs": fs.Name, "address": address}).Debugf("auto %s", op)
			if err := e.backendOp(ctx, op, fs.Name, address); err != nil {
				log.WithFields(logrus.Fields{"fs": fs.Name, "address": address}).Warnf("Could not %s: %s", op, err)
				e.cfg.Metrics.addressFailures.WithLabelValues(op).Inc()
				result.Failures = append(result.Failures, Failure{Attachment: a, Err: err})
				continue
			}
			result.Applied = append(result.Applied, a)
		}
		unlock()
	}
	e.cfg.Metrics.passes.WithLabelValues("instance-" + op).Inc()
	return result, nil
}

// apply runs op for every address of every instance the filesystem scope
// resolves to, collecting failures instead of stopping at them
func (e *Engine) apply(ctx context.Context, op string, fs *filesystem.Filesystem, result *Result) {
	pass := uuid.New().String()
	log := logrus.WithFields(logrus.Fields{"pass": pass, "fs": fs.Name, "op": op})

	instances, err := e.resolver.Resolve(ctx, fs.Scope, fs.Project)
	if err != nil {
		log.Warnf("Could not resolve instances for scope %s: %s", fs.Scope, err)
		e.cfg.Metrics.addressFailures.WithLabelValues(op).Inc()
		result.Failures = append(result.Failures, Failure{Attachment: Attachment{Filesystem: fs.Name}, Err: err})
		return
	}

	for _, instance := range instances {
		addresses, err := e.cfg.Directory.Addresses(ctx, instance.ID)
		if err != nil {
			log.WithField("instance", instance.ID).Warnf("Unable to get address of instance %s: %s", instance.Name, err)
			e.cfg.Metrics.addressFailures.WithLabelValues(op).Inc()
			result.Failures = append(result.Failures, Failure{Attachment: Attachment{Filesystem: fs.Name, Instance: instance.ID}, Err: err})
			continue
		}
		for _, address := range addresses {
			a := Attachment{Filesystem: fs.Name, Instance: instance.ID, Address: address}
			log.WithField("address", address).Debugf("%s instance %s", op, instance.ID)
			if err := e.backendOp(ctx, op, fs.Name, address); err != nil {
				log.WithField("address", address).Warnf("Could not %s instance %s: %s", op, instance.Name, err)
				e.cfg.Metrics.addressFailures.WithLabelValues(op).Inc()
				result.Failures = append(result.Failures, Failure{Attachment: a, Err: err})
				continue
			}
			result.Applied = append(result.Applied, a)
		}
	}
}

func (e *Engine) backendOp(ctx context.Context, op, name, address string) error {
	if op == opDetach {
		return e.cfg.Backend.Detach(ctx, name, address)
	}
	return e.cfg.Backend.Attach(ctx, name, address)
}

func (e *Engine) lock(ctx context.Context, name string) (func(), error) {
	u, err := e.cfg.Locker.Lock(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(filesystem.ErrBackendUnavailable, "locking filesystem %s: %s", name, err)
	}
	return func() {
		if err := u.Unlock(); err != nil {
			logrus.Warnf("Could not unlock filesystem %s: %s", name, err)
		}
	}, nil
}

func (e *Engine) projectName(ctx context.Context, id string) string {
	if e.cfg.Projects == nil || id == "" {
		return ""
	}
	name, err := e.cfg.Projects.ProjectName(ctx, id)
	if err != nil {
		logrus.Debugf("Could not resolve name of project %s: %s", id, err)
		return ""
	}
	return name
}
