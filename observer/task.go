// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package observer tracks the availability of a remote service on the
// system bus and coordinates a one-shot startup attempt for it.
//
// A StartupTask starts the service unit in the background and answers
// readiness queries with a bounded wait. A ServiceObserver keeps a live
// belief about whether the service is reachable, fed by bus presence
// signals from a NameWatcher, and gates proxy acquisition behind the
// task's outcome when the service is not yet known to be up.
package observer

import (
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
)

var logger = loggo.GetLogger("installkit.observer")

// StartService is the service-manager start primitive. It returns the
// integer status of the start request; zero means the unit started.
type StartService func(unit string) int

// ConfigProxy is the management surface used for one-time configuration
// of a freshly started service.
type ConfigProxy interface {
	Set(property string, value interface{}) error
}

// StartupTaskConfig holds the dependencies of a StartupTask.
type StartupTaskConfig struct {
	// Unit is the name of the service unit to start.
	Unit string

	// Start asks the service manager to start Unit.
	Start StartService

	// ConfigProxy returns the configuration proxy of the started
	// service. It is only called after a successful start.
	ConfigProxy func() (ConfigProxy, error)

	// Property and Value are set on the configuration proxy once the
	// unit is up.
	Property string
	Value    interface{}

	// Clock is used for the bounded wait in IsServiceAvailable.
	Clock clock.Clock
}

// Validate returns an error if the config cannot drive a task.
func (c StartupTaskConfig) Validate() error {
	if c.Unit == "" {
		return errors.NotValidf("empty Unit")
	}
	if c.Start == nil {
		return errors.NotValidf("nil Start")
	}
	if c.ConfigProxy == nil {
		return errors.NotValidf("nil ConfigProxy")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	return nil
}

// StartupTask performs, once, the side-effecting sequence needed to
// bring a service unit to a ready state. The attempt runs on its own
// goroutine; any number of callers may then query the outcome, with an
// optional bounded wait for an attempt still in flight.
type StartupTask struct {
	config StartupTaskConfig

	// done is closed after result and err have been written, so any
	// reader that observes the close also observes a settled outcome.
	done chan struct{}

	mu      sync.Mutex
	started bool
	result  bool
	err     error
}

// NewStartupTask returns a task ready to be started.
func NewStartupTask(config StartupTaskConfig) (*StartupTask, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &StartupTask{
		config: config,
		done:   make(chan struct{}),
	}, nil
}

// Start launches the startup attempt in the background. The caller does
// not block. Subsequent calls are no-ops; the attempt is never rerun.
func (t *StartupTask) Start() {
	go func() {
		if _, err := t.Run(); err != nil {
			logger.Errorf("startup of %q failed: %v", t.config.Unit, err)
		}
	}()
}

// Run performs the startup attempt and records its terminal state. A
// failure of the start primitive is an expected outcome and is reported
// as false with a nil error; a failure to configure the started service
// is unexpected and surfaces as an error.
func (t *StartupTask) Run() (bool, error) {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return t.Result(), t.Err()
	}
	t.started = true
	t.mu.Unlock()

	ok, err := t.run()

	t.mu.Lock()
	t.result = ok
	t.err = err
	t.mu.Unlock()
	close(t.done)

	return ok, err
}

func (t *StartupTask) run() (bool, error) {
	if status := t.config.Start(t.config.Unit); status != 0 {
		logger.Warningf("unit %q failed to start (status %d)", t.config.Unit, status)
		return false, nil
	}
	proxy, err := t.config.ConfigProxy()
	if err != nil {
		return false, errors.Trace(err)
	}
	if err := proxy.Set(t.config.Property, t.config.Value); err != nil {
		return false, errors.Annotatef(err, "setting %q on %q", t.config.Property, t.config.Unit)
	}
	return true, nil
}

// IsServiceAvailable reports whether the startup attempt brought the
// unit to a ready state. If the attempt has finished the stored outcome
// is returned immediately. If it is still running the call blocks until
// the attempt finishes or timeout elapses, whichever comes first; an
// expired timeout with the attempt still in flight reports false. A
// zero (or negative) timeout polls the current state without blocking.
// A task that was never started reports false.
func (t *StartupTask) IsServiceAvailable(timeout time.Duration) bool {
	select {
	case <-t.done:
		return t.Result()
	default:
	}

	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if !started || timeout <= 0 {
		return false
	}

	select {
	case <-t.done:
	case <-t.config.Clock.After(timeout):
	}

	// Re-sample after the wait returns: the attempt may have finished
	// while we were blocked on the timer.
	select {
	case <-t.done:
		return t.Result()
	default:
		return false
	}
}

// Result returns the stored outcome of a finished attempt, or false
// while the attempt has not reached its terminal state.
func (t *StartupTask) Result() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// Err returns the fatal error of a finished attempt, if any. Expected
// negative outcomes (the unit refusing to start) are not errors.
func (t *StartupTask) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
