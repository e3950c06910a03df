// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package systemd drives service units on the local systemd instance
// over its D-Bus API.
package systemd

import (
	"github.com/coreos/go-systemd/v22/dbus"
	"github.com/juju/errors"
	"github.com/juju/loggo"
)

var logger = loggo.GetLogger("installkit.service.systemd")

// DBusAPI exposes the parts of the systemd manager API used here.
type DBusAPI interface {
	ListUnits() ([]dbus.UnitStatus, error)
	StartUnit(name string, mode string, ch chan<- string) (int, error)
	StopUnit(name string, mode string, ch chan<- string) (int, error)
	Close()
}

// DBusAPIFactory is how a Manager obtains fresh connections.
type DBusAPIFactory = func() (DBusAPI, error)

// NewDBusAPI connects to the running systemd instance.
var NewDBusAPI = func() (DBusAPI, error) {
	return dbus.New()
}

// Manager provides visibility into and control over systemd services.
type Manager struct {
	newDBus DBusAPIFactory
}

// NewManager returns a Manager talking to the local systemd instance.
func NewManager() *Manager {
	return &Manager{newDBus: NewDBusAPI}
}

// NewManagerWithAPI returns a Manager using the given connection
// factory. It exists for tests and callers with private connections.
func NewManagerWithAPI(factory DBusAPIFactory) *Manager {
	return &Manager{newDBus: factory}
}

func (m *Manager) newConn() (DBusAPI, error) {
	conn, err := m.newDBus()
	if err != nil {
		logger.Errorf("failed to connect to dbus: %v", err)
	}
	return conn, err
}

// StartUnit asks systemd to start the named unit and waits for the
// queued job to finish. The returned status is zero when the job
// completed and non-zero otherwise; callers that need to branch on an
// expected failure get an integer rather than an error.
func (m *Manager) StartUnit(name string) int {
	if err := m.startUnit(name); err != nil {
		logger.Errorf("service %q failed to start: %v", name, err)
		return 1
	}
	logger.Debugf("service %q successfully started", name)
	return 0
}

func (m *Manager) startUnit(name string) error {
	conn, err := m.newConn()
	if err != nil {
		return errors.Trace(err)
	}
	defer conn.Close()

	statusCh := make(chan string, 1)
	if _, err := conn.StartUnit(name, "fail", statusCh); err != nil {
		return errors.Annotatef(err, "dbus start request for %q", name)
	}

	// The only status indicating a completed job is "done"; anything
	// else ("canceled", "timeout", "failed", "dependency", "skipped")
	// means the unit did not come up.
	if status := <-statusCh; status != "done" {
		return errors.Errorf("failed to start %q (API status %q)", name, status)
	}
	return nil
}

// StopUnit asks systemd to stop the named unit and waits for the
// queued job to finish.
func (m *Manager) StopUnit(name string) error {
	conn, err := m.newConn()
	if err != nil {
		return errors.Trace(err)
	}
	defer conn.Close()

	statusCh := make(chan string, 1)
	if _, err := conn.StopUnit(name, "fail", statusCh); err != nil {
		return errors.Annotatef(err, "dbus stop request for %q", name)
	}
	if status := <-statusCh; status != "done" {
		return errors.Errorf("failed to stop %q (API status %q)", name, status)
	}
	logger.Debugf("service %q successfully stopped", name)
	return nil
}

// Running reports whether the named unit is loaded and active.
func (m *Manager) Running(name string) (bool, error) {
	conn, err := m.newConn()
	if err != nil {
		return false, errors.Trace(err)
	}
	defer conn.Close()

	units, err := conn.ListUnits()
	if err != nil {
		return false, errors.Annotate(err, "failed to query services from dbus")
	}

	for _, unit := range units {
		if unit.Name == name {
			running := unit.LoadState == "loaded" && unit.ActiveState == "active"
			return running, nil
		}
	}
	return false, nil
}
