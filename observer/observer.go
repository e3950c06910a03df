// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package observer

import (
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/pubsub/v2"
)

const (
	// DefaultStartupTimeout bounds how long a proxy request will wait
	// for the watched service to come up.
	DefaultStartupTimeout = 2 * time.Second

	// ServiceAvailableTopic carries a notification, with the observer
	// as payload, each time the watched service appears on the bus.
	ServiceAvailableTopic = "observer.service-available"

	// ServiceUnavailableTopic is the counterpart for disappearance.
	ServiceUnavailableTopic = "observer.service-unavailable"
)

// Proxy is an opaque handle used to invoke operations on the remote
// service.
type Proxy interface{}

// ProxyGetter acquires a proxy for a named object of the watched
// service. Connection-level errors are propagated unchanged.
type ProxyGetter func(name string) (Proxy, error)

// StartupCheck reports whether the service became ready within the
// given budget. It is typically bound to StartupTask.IsServiceAvailable.
type StartupCheck func(timeout time.Duration) bool

// ServiceObserverConfig holds the dependencies of a ServiceObserver.
type ServiceObserverConfig struct {
	// Service is the bus name being observed.
	Service string

	// StartupCheck confirms service readiness when a proxy is requested
	// before the service has appeared on the bus.
	StartupCheck StartupCheck

	// GetProxy is the underlying proxy-acquisition primitive.
	GetProxy ProxyGetter

	// Timeout is passed to StartupCheck. Zero selects
	// DefaultStartupTimeout.
	Timeout time.Duration

	// Hub carries the availability notifications. A private hub is
	// created when nil.
	Hub *pubsub.SimpleHub
}

// Validate returns an error if the config cannot back an observer.
func (c ServiceObserverConfig) Validate() error {
	if c.Service == "" {
		return errors.NotValidf("empty Service")
	}
	if c.StartupCheck == nil {
		return errors.NotValidf("nil StartupCheck")
	}
	if c.GetProxy == nil {
		return errors.NotValidf("nil GetProxy")
	}
	return nil
}

// ServiceObserver maintains a live boolean belief about whether the
// watched service is currently reachable, fed by bus presence signals,
// and gates proxy acquisition behind a fallible startup check when the
// service is not yet known to be available.
type ServiceObserver struct {
	config ServiceObserverConfig
	hub    *pubsub.SimpleHub

	// available is written only from the two presence callbacks, which
	// the name watcher invokes from a single dispatch goroutine. Reads
	// elsewhere are deliberately unlocked: a proxy request racing a
	// presence signal may observe a belief that is stale by one signal,
	// in which case it simply takes the startup-check path.
	available bool
}

// NewServiceObserver returns an observer that initially believes the
// service to be unavailable.
func NewServiceObserver(config ServiceObserverConfig) (*ServiceObserver, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultStartupTimeout
	}
	hub := config.Hub
	if hub == nil {
		hub = pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{
			Logger: loggo.GetLogger("installkit.observer.hub"),
		})
	}
	return &ServiceObserver{
		config: config,
		hub:    hub,
	}, nil
}

// IsServiceAvailable reports the current belief about reachability of
// the watched service.
func (o *ServiceObserver) IsServiceAvailable() bool {
	return o.available
}

// Hub exposes the notification hub so interested parties can subscribe
// to the availability topics.
func (o *ServiceObserver) Hub() *pubsub.SimpleHub {
	return o.hub
}

// ServiceAppeared is invoked by the bus layer when the watched name
// gains an owner. It flips the belief to available and notifies the
// available topic exactly once; the unavailable topic is untouched.
func (o *ServiceObserver) ServiceAppeared() {
	logger.Debugf("service %q appeared on the bus", o.config.Service)
	o.available = true
	// Wait for subscribers so each transition is fully delivered
	// before the next one is processed.
	o.hub.Publish(ServiceAvailableTopic, o)()
}

// ServiceVanished is the mirror image of ServiceAppeared.
func (o *ServiceObserver) ServiceVanished() {
	logger.Debugf("service %q vanished from the bus", o.config.Service)
	o.available = false
	o.hub.Publish(ServiceUnavailableTopic, o)()
}

// GetProxy returns a proxy for the named object of the watched service.
// When the service is already known to be available the underlying
// primitive is used directly. Otherwise the startup check is consulted,
// at most once per call, with the configured timeout: success yields
// the proxy, failure a NewNotAvailableError. The proxy primitive is
// never invoked for a service that failed the check.
func (o *ServiceObserver) GetProxy(name string) (Proxy, error) {
	if !o.available {
		if !o.config.StartupCheck(o.config.Timeout) {
			return nil, NewNotAvailableError(o.config.Service)
		}
	}
	proxy, err := o.config.GetProxy(name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return proxy, nil
}
