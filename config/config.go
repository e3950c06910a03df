// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package config loads the installer configuration.
package config

import (
	"os"
	"time"

	"github.com/juju/errors"
	"gopkg.in/yaml.v2"
)

// Config is the top-level installer configuration.
type Config struct {
	Product    ProductConfig    `yaml:"product"`
	Target     TargetConfig     `yaml:"target"`
	Bootloader BootloaderConfig `yaml:"bootloader"`
	Service    ServiceConfig    `yaml:"service"`
}

// ProductConfig identifies the product being installed.
type ProductConfig struct {
	// Name is the full product name; its leading dash-separated token
	// labels firmware boot entries.
	Name string `yaml:"name"`
}

// TargetConfig describes the installation target.
type TargetConfig struct {
	// SystemRoot is where the target system tree is mounted.
	SystemRoot string `yaml:"system_root"`

	// PhysicalRoot is the mount point of the physical root device,
	// which SystemRoot may be layered over.
	PhysicalRoot string `yaml:"physical_root"`

	// IsHardware is false for image and directory installations, where
	// firmware calls make no sense.
	IsHardware bool `yaml:"is_hardware"`
}

// BootloaderConfig holds bootloader installation settings.
type BootloaderConfig struct {
	// EFIDir is the distribution directory on the EFI system partition.
	EFIDir string `yaml:"efi_dir"`

	// KeepBootOrder leaves existing firmware boot entries alone.
	KeepBootOrder bool `yaml:"keep_boot_order"`

	// Skip disables bootloader installation entirely.
	Skip bool `yaml:"skip"`
}

// ServiceConfig names the managed service the installer coordinates
// with during installation.
type ServiceConfig struct {
	// Unit is the systemd unit to start.
	Unit string `yaml:"unit"`

	// BusName is the well-known name the service claims on the system
	// bus once it is up.
	BusName string `yaml:"bus_name"`

	// ObjectPath and Interface locate the service's configuration
	// object on the bus.
	ObjectPath string `yaml:"object_path"`
	Interface  string `yaml:"interface"`

	// ConfigProperty and ConfigValue are applied to the configuration
	// object once the unit is up.
	ConfigProperty string `yaml:"config_property"`
	ConfigValue    string `yaml:"config_value"`

	// StartupTimeoutSeconds bounds how long proxy requests wait for the
	// service to come up.
	StartupTimeoutSeconds int `yaml:"startup_timeout_seconds"`
}

// StartupTimeout returns the configured startup timeout as a duration.
func (c ServiceConfig) StartupTimeout() time.Duration {
	return time.Duration(c.StartupTimeoutSeconds) * time.Second
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Product: ProductConfig{
			Name: "Linux",
		},
		Target: TargetConfig{
			SystemRoot:   "/mnt/sysroot",
			PhysicalRoot: "/mnt/sysimage",
			IsHardware:   true,
		},
		Bootloader: BootloaderConfig{
			EFIDir: "linux",
		},
		Service: ServiceConfig{
			StartupTimeoutSeconds: 2,
		},
	}
}

// Load reads the configuration at path, filling in defaults for any
// setting the file leaves unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotate(err, "reading installer configuration")
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Annotatef(err, "parsing %q", path)
	}
	if cfg.Product.Name == "" {
		cfg.Product.Name = "Linux"
	}
	if cfg.Target.SystemRoot == "" {
		cfg.Target.SystemRoot = "/mnt/sysroot"
	}
	if cfg.Target.PhysicalRoot == "" {
		cfg.Target.PhysicalRoot = "/mnt/sysimage"
	}
	if cfg.Bootloader.EFIDir == "" {
		cfg.Bootloader.EFIDir = "linux"
	}
	if cfg.Service.StartupTimeoutSeconds <= 0 {
		cfg.Service.StartupTimeoutSeconds = 2
	}
	return cfg, nil
}
