// Package events classifies instance lifecycle notifications and hands the
// meaningful ones to the reconciliation engine.
package events

import (
	"context"

	"github.com/flaviostutz/sharedfs/filesystem"
	"github.com/flaviostutz/sharedfs/reconcile"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Event types acted upon. Every other type is discarded.
const (
	InstanceCreateEnd   = "compute.instance.create.end"
	InstanceDeleteStart = "compute.instance.delete.start"
)

const (
	outcomeDenied     = "denied"
	outcomeIgnored    = "ignored"
	outcomeDispatched = "dispatched"
	outcomeFailed     = "failed"
)

// Notification as emitted by the compute service
type Notification struct {
	EventType   string  `json:"event_type"`
	PublisherID string  `json:"publisher_id,omitempty"`
	Payload     Payload `json:"payload"`
}

// Payload carries the instance the notification is about
type Payload struct {
	InstanceID  string `json:"instance_id"`
	TenantID    string `json:"tenant_id"`
	UserID      string `json:"user_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Handler reacts to instance lifecycle changes. *reconcile.Engine implements it.
type Handler interface {
	InstanceCreated(ctx context.Context, instanceID, project string) (*reconcile.Result, error)
	InstanceDeleting(ctx context.Context, instanceID, project string) (*reconcile.Result, error)
}

// DefaultAllow lists the event types the engine understands
func DefaultAllow() []string {
	return []string{InstanceCreateEnd, InstanceDeleteStart}
}

// Filter drops notifications not in the allow list or present in the deny
// list. Deny wins when a type is in both.
type Filter struct {
	allow   map[string]bool
	deny    map[string]bool
	handler Handler
	events  *prometheus.CounterVec
}

// NewFilter builds a filter dispatching to handler. A nil allow list means
// DefaultAllow. Metrics are registered with reg when not nil.
func NewFilter(allow, deny []string, handler Handler, reg prometheus.Registerer) *Filter {
	if allow == nil {
		allow = DefaultAllow()
	}
	f := &Filter{
		allow:   toSet(allow),
		deny:    toSet(deny),
		handler: handler,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sharedfs_events_total",
			Help: "Lifecycle notifications received, by type and outcome",
		}, []string{"event_type", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(f.events)
	}
	return f
}

func toSet(list []string) map[string]bool {
	set := make(map[string]bool, len(list))
	for _, s := range list {
		if s != "" {
			set[s] = true
		}
	}
	return set
}

// Accepts tells whether an event type passes the allow and deny lists
func (f *Filter) Accepts(eventType string) bool {
	if f.deny[eventType] {
		return false
	}
	return f.allow[eventType]
}

// Handle dispatches n when it passes the filter and is one of the handled
// types. It returns whether n was dispatched. Per-filesystem failures are
// logged by the engine and do not fail the notification.
func (f *Filter) Handle(ctx context.Context, n Notification) (bool, error) {
	if !f.Accepts(n.EventType) {
		logrus.Debugf("Discarding %s notification", n.EventType)
		f.count(n.EventType, outcomeDenied)
		return false, nil
	}

	var dispatch func(context.Context, string, string) (*reconcile.Result, error)
	switch n.EventType {
	case InstanceCreateEnd:
		dispatch = f.handler.InstanceCreated
	case InstanceDeleteStart:
		dispatch = f.handler.InstanceDeleting
	default:
		f.count(n.EventType, outcomeIgnored)
		return false, nil
	}

	if n.Payload.InstanceID == "" || n.Payload.TenantID == "" {
		f.count(n.EventType, outcomeFailed)
		return false, errors.Wrapf(filesystem.ErrInvalidRequest, "%s notification without instance_id or tenant_id", n.EventType)
	}

	logrus.Debugf("Handling %s for instance %s (%s) of project %s", n.EventType, n.Payload.InstanceID, n.Payload.DisplayName, n.Payload.TenantID)
	result, err := dispatch(ctx, n.Payload.InstanceID, n.Payload.TenantID)
	if err != nil {
		logrus.Warnf("Could not handle %s for instance %s: %s", n.EventType, n.Payload.InstanceID, err)
		f.count(n.EventType, outcomeFailed)
		return true, err
	}
	if len(result.Failures) > 0 {
		logrus.Warnf("%s for instance %s left %d attachments unreconciled", n.EventType, n.Payload.InstanceID, len(result.Failures))
	}
	f.count(n.EventType, outcomeDispatched)
	return true, nil
}

func (f *Filter) count(eventType, outcome string) {
	f.events.WithLabelValues(eventType, outcome).Inc()
}
