// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package observer

import (
	"github.com/godbus/dbus/v5"
	"github.com/juju/errors"
	"gopkg.in/tomb.v2"
)

const (
	busService   = "org.freedesktop.DBus"
	busInterface = "org.freedesktop.DBus"

	nameOwnerChangedSignal = busInterface + ".NameOwnerChanged"
	nameHasOwnerMethod     = busInterface + ".NameHasOwner"
)

// SignalBus is the subset of a message-bus connection used to watch a
// name for presence changes.
type SignalBus interface {
	AddMatchSignal(options ...dbus.MatchOption) error
	RemoveMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	NameHasOwner(name string) (bool, error)
}

// NewSystemBus connects to the system message bus.
func NewSystemBus() (SignalBus, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, errors.Annotate(err, "connecting to the system bus")
	}
	return &signalBus{conn}, nil
}

// NewSignalBus wraps an existing bus connection as a SignalBus, so one
// connection can serve both signal watching and proxy calls.
func NewSignalBus(conn *dbus.Conn) SignalBus {
	return &signalBus{conn}
}

type signalBus struct {
	*dbus.Conn
}

func (b *signalBus) NameHasOwner(name string) (bool, error) {
	var owned bool
	err := b.BusObject().Call(nameHasOwnerMethod, 0, name).Store(&owned)
	if err != nil {
		return false, errors.Trace(err)
	}
	return owned, nil
}

// NameWatcherConfig holds the dependencies of a NameWatcher.
type NameWatcherConfig struct {
	// Bus is the connection carrying the presence signals.
	Bus SignalBus

	// Name is the bus name to watch.
	Name string

	// Appeared and Vanished are invoked, from the watcher's dispatch
	// goroutine, when Name gains or loses its owner.
	Appeared func()
	Vanished func()
}

// Validate returns an error if the config cannot back a watcher.
func (c NameWatcherConfig) Validate() error {
	if c.Bus == nil {
		return errors.NotValidf("nil Bus")
	}
	if c.Name == "" {
		return errors.NotValidf("empty Name")
	}
	if c.Appeared == nil {
		return errors.NotValidf("nil Appeared")
	}
	if c.Vanished == nil {
		return errors.NotValidf("nil Vanished")
	}
	return nil
}

// NameWatcher subscribes to NameOwnerChanged for a single bus name and
// dispatches appearance and disappearance callbacks. It implements
// worker.Worker; Kill then Wait tears the subscription down.
type NameWatcher struct {
	tomb    tomb.Tomb
	config  NameWatcherConfig
	signals chan *dbus.Signal
}

// NewNameWatcher starts watching the configured name.
func NewNameWatcher(config NameWatcherConfig) (*NameWatcher, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	w := &NameWatcher{
		config:  config,
		signals: make(chan *dbus.Signal, 16),
	}
	if err := config.Bus.AddMatchSignal(w.matchOptions()...); err != nil {
		return nil, errors.Annotatef(err, "subscribing to presence signals for %q", config.Name)
	}
	config.Bus.Signal(w.signals)
	w.tomb.Go(w.loop)
	return w, nil
}

// Kill is part of the worker.Worker interface.
func (w *NameWatcher) Kill() {
	w.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *NameWatcher) Wait() error {
	return w.tomb.Wait()
}

func (w *NameWatcher) matchOptions() []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchSender(busService),
		dbus.WithMatchInterface(busInterface),
		dbus.WithMatchMember("NameOwnerChanged"),
		dbus.WithMatchArg(0, w.config.Name),
	}
}

func (w *NameWatcher) loop() error {
	defer func() {
		w.config.Bus.RemoveSignal(w.signals)
		if err := w.config.Bus.RemoveMatchSignal(w.matchOptions()...); err != nil {
			logger.Warningf("removing presence match for %q: %v", w.config.Name, err)
		}
	}()

	// Prime from the current owner so a service that is already up is
	// reported without waiting for a signal.
	owned, err := w.config.Bus.NameHasOwner(w.config.Name)
	if err != nil {
		return errors.Trace(err)
	}
	if owned {
		w.config.Appeared()
	}

	for {
		select {
		case <-w.tomb.Dying():
			return tomb.ErrDying
		case sig, ok := <-w.signals:
			if !ok {
				return errors.Errorf("signal channel for %q closed", w.config.Name)
			}
			w.handle(sig)
		}
	}
}

func (w *NameWatcher) handle(sig *dbus.Signal) {
	if sig.Name != nameOwnerChangedSignal || len(sig.Body) != 3 {
		return
	}
	name, _ := sig.Body[0].(string)
	if name != w.config.Name {
		return
	}
	oldOwner, _ := sig.Body[1].(string)
	newOwner, _ := sig.Body[2].(string)
	switch {
	case oldOwner == "" && newOwner != "":
		w.config.Appeared()
	case oldOwner != "" && newOwner == "":
		w.config.Vanished()
	default:
		// Owner handover; the name never left the bus.
	}
}
