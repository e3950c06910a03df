// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// installkit runs the post-installation support steps: it starts and
// observes the managed installer service on the system bus, provisions
// users and groups on the target system and installs the boot loader.
package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo"
	"github.com/juju/retry"
	"github.com/juju/worker/v4"

	"github.com/installkit/installkit/bootloader"
	"github.com/installkit/installkit/config"
	"github.com/installkit/installkit/kernelargs"
	"github.com/installkit/installkit/observer"
	"github.com/installkit/installkit/service/systemd"
	"github.com/installkit/installkit/sysroot"
)

var logger = loggo.GetLogger("installkit.cmd.installkit")

func main() {
	os.Exit(Main(os.Args[1:]))
}

// Main runs the command and returns the process exit code.
func Main(args []string) int {
	f := gnuflag.NewFlagSetWithFlagKnownAs("installkit", gnuflag.ContinueOnError, "option")
	var (
		configPath    string
		provisionPath string
		loggingConfig string
	)
	f.StringVar(&configPath, "config", "", "installer configuration file")
	f.StringVar(&provisionPath, "provision", "", "provisioning data file")
	f.StringVar(&loggingConfig, "logging-config", "<root>=INFO", "loggo logging configuration")
	if err := f.Parse(true, args); err != nil {
		if err == gnuflag.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if err := loggo.ConfigureLoggers(loggingConfig); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if err := run(configPath, provisionPath); err != nil {
		logger.Errorf("installation support failed: %v", err)
		return 1
	}
	return 0
}

func run(configPath, provisionPath string) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return errors.Trace(err)
		}
	}

	args, err := kernelargs.Read()
	if err != nil {
		logger.Warningf("cannot read kernel command line: %v", err)
	}
	runner := sysroot.NewRunner()

	if cfg.Service.Unit != "" {
		obs, watcher, err := startObserver(cfg)
		if err != nil {
			return errors.Trace(err)
		}
		defer func() {
			watcher.Kill()
			if err := watcher.Wait(); err != nil {
				logger.Warningf("stopping presence watcher: %v", err)
			}
		}()

		// Give the service its startup budget before provisioning
		// touches the target.
		if _, err := obs.GetProxy(cfg.Service.ObjectPath); err != nil {
			if !observer.IsNotAvailable(err) {
				return errors.Trace(err)
			}
			logger.Warningf("service %q is not available, continuing without it", cfg.Service.BusName)
		}
	}

	if provisionPath == "" {
		return nil
	}
	prov, err := loadProvision(provisionPath)
	if err != nil {
		return errors.Trace(err)
	}
	for _, task := range prov.tasks(cfg, runner) {
		logger.Infof("running %q", task.Name())
		if err := task.Run(); err != nil {
			return errors.Annotatef(err, "%s", task.Name())
		}
	}
	if prov.Stage1 != nil {
		loader := newBootLoader(cfg, args, runner)
		if err := loader.Write(prov.Stage1.device()); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// startObserver connects to the system bus, launches the startup task
// for the managed service and wires a ServiceObserver to the bus name's
// presence signals.
func startObserver(cfg *config.Config) (*observer.ServiceObserver, worker.Worker, error) {
	var conn *dbus.Conn
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			var err error
			conn, err = dbus.SystemBus()
			return err
		},
		NotifyFunc: func(err error, attempt int) {
			logger.Debugf("system bus connect attempt %d: %v", attempt, err)
		},
		Attempts: 5,
		Delay:    500 * time.Millisecond,
		Clock:    clock.WallClock,
	})
	if err != nil {
		return nil, nil, errors.Annotate(err, "connecting to the system bus")
	}

	manager := systemd.NewManager()
	task, err := observer.NewStartupTask(observer.StartupTaskConfig{
		Unit:        cfg.Service.Unit,
		Start:       manager.StartUnit,
		ConfigProxy: configProxyFor(conn, cfg.Service),
		Property:    cfg.Service.ConfigProperty,
		Value:       cfg.Service.ConfigValue,
		Clock:       clock.WallClock,
	})
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	obs, err := observer.NewServiceObserver(observer.ServiceObserverConfig{
		Service:      cfg.Service.BusName,
		StartupCheck: task.IsServiceAvailable,
		GetProxy:     observer.NewBusProxyGetter(conn, cfg.Service.BusName),
		Timeout:      cfg.Service.StartupTimeout(),
	})
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	task.Start()
	watcher, err := observer.NewNameWatcher(observer.NameWatcherConfig{
		Bus:      observer.NewSignalBus(conn),
		Name:     cfg.Service.BusName,
		Appeared: obs.ServiceAppeared,
		Vanished: obs.ServiceVanished,
	})
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	return obs, watcher, nil
}

func configProxyFor(conn *dbus.Conn, svc config.ServiceConfig) func() (observer.ConfigProxy, error) {
	if svc.ConfigProperty == "" {
		return func() (observer.ConfigProxy, error) {
			return nopConfigProxy{}, nil
		}
	}
	return func() (observer.ConfigProxy, error) {
		return observer.NewBusConfigProxy(conn, svc.BusName, svc.ObjectPath, svc.Interface)
	}
}

// nopConfigProxy satisfies the post-start configuration step for
// services that need none.
type nopConfigProxy struct{}

func (nopConfigProxy) Set(property string, value interface{}) error {
	return nil
}

// newBootLoader picks the EFI loader variant for the build architecture.
func newBootLoader(cfg *config.Config, args kernelargs.Cmdline, runner sysroot.Runner) *bootloader.EFIGRUB {
	switch runtime.GOARCH {
	case "arm64":
		return bootloader.NewAarch64EFIGRUB(cfg, args, runner)
	case "arm":
		return bootloader.NewArmEFIGRUB(cfg, args, runner)
	default:
		return bootloader.NewEFIGRUB(cfg, args, runner)
	}
}
