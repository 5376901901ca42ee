package lock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/etcd/clientv3"
	"github.com/coreos/etcd/clientv3/concurrency"
	"github.com/flaviostutz/etcd-lock/etcdlock"
	"github.com/sirupsen/logrus"
)

const etcdLockPrefix = "/sharedfs-lock"

// EtcdLocker takes exclusive etcd-lock mutexes under /sharedfs-lock/<name>.
// A daemon that stops refreshing its session loses its locks after the
// session TTL.
type EtcdLocker struct {
	client  *clientv3.Client
	session *concurrency.Session
	timeout time.Duration
}

// NewEtcdLocker connects to the comma separated etcd endpoints
func NewEtcdLocker(servers string, timeout time.Duration) (*EtcdLocker, error) {
	logrus.Debugf("Setting up ETCD client to %s", servers)
	endpoints := strings.Split(servers, ",")
	cli, err := clientv3.New(clientv3.Config{Endpoints: endpoints, DialTimeout: timeout})
	if err != nil {
		return nil, err
	}
	logrus.Debugf("ETCD client initiated")

	ttl := int(timeout / time.Second)
	if ttl < 1 {
		ttl = 1
	}
	session, err := concurrency.NewSession(cli, concurrency.WithTTL(ttl))
	if err != nil {
		cli.Close()
		return nil, err
	}
	logrus.Debugf("ETCD lock session ok ttl=%ds", ttl)
	return &EtcdLocker{client: cli, session: session, timeout: timeout}, nil
}

// Lock uses RWLock so only one holder exists at a time
func (l *EtcdLocker) Lock(ctx context.Context, name string) (Unlocker, error) {
	mutex := etcdlock.NewRWMutex(l.session, fmt.Sprintf("%s/%s", etcdLockPrefix, name))
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if err := mutex.RWLock(ctx); err != nil {
		return nil, fmt.Errorf("error locking filesystem %s: %s", name, err)
	}
	logrus.Debugf("got RWLock for filesystem %s", name)
	return &etcdUnlocker{name: name, mutex: mutex}, nil
}

// Close ends the session, releasing every lock still held
func (l *EtcdLocker) Close() error {
	if err := l.session.Close(); err != nil {
		logrus.Warnf("error closing etcd lock session: %s", err)
	}
	return l.client.Close()
}

type etcdUnlocker struct {
	name  string
	mutex *etcdlock.RWMutex
}

func (u *etcdUnlocker) Unlock() error {
	if err := u.mutex.Unlock(); err != nil {
		logrus.Errorf("error unlocking filesystem %s: %s", u.name, err)
		return err
	}
	logrus.Debugf("released RWLock for filesystem %s", u.name)
	return nil
}
