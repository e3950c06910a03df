// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package bootloader

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/juju/errors"

	"github.com/installkit/installkit/config"
	"github.com/installkit/installkit/kernelargs"
	"github.com/installkit/installkit/sysroot"
)

var sysFwPlatformSize = "/sys/firmware/efi/fw_platform_size"

// slotIDRegexp validates the hex identifier embedded in efibootmgr's
// "BootXXXX*" entries.
var slotIDRegexp = regexp.MustCompile("^[0-9a-fA-F]+$")

// EFIGRUB installs GRUB2 on an EFI system. The bulk of the work happens
// inside the target system root; firmware boot entries are maintained
// with efibootmgr.
type EFIGRUB struct {
	config *config.Config
	args   kernelargs.Cmdline
	runner sysroot.Runner

	efiBinary string
}

// NewEFIGRUB returns the boot loader for x86 EFI systems, picking the
// loader binary for the detected firmware word size.
func NewEFIGRUB(cfg *config.Config, args kernelargs.Cmdline, runner sysroot.Runner) *EFIGRUB {
	binary := "\\BOOTx64.efi"
	if is32BitFirmware() {
		binary = "\\BOOTia32.efi"
	}
	return &EFIGRUB{config: cfg, args: args, runner: runner, efiBinary: binary}
}

// NewAarch64EFIGRUB returns the boot loader for 64-bit ARM EFI systems.
func NewAarch64EFIGRUB(cfg *config.Config, args kernelargs.Cmdline, runner sysroot.Runner) *EFIGRUB {
	return &EFIGRUB{config: cfg, args: args, runner: runner, efiBinary: "\\BOOTAA64.efi"}
}

// NewArmEFIGRUB returns the boot loader for 32-bit ARM EFI systems.
func NewArmEFIGRUB(cfg *config.Config, args kernelargs.Cmdline, runner sysroot.Runner) *EFIGRUB {
	return &EFIGRUB{config: cfg, args: args, runner: runner, efiBinary: "\\grubarm.efi"}
}

func is32BitFirmware() bool {
	data, err := os.ReadFile(sysFwPlatformSize)
	if err != nil {
		logger.Infof("reading %s failed, defaulting to 64-bit install", sysFwPlatformSize)
		return false
	}
	return strings.TrimSpace(string(data)) == "32"
}

// productLabel is the firmware boot entry label: the leading
// dash-separated token of the product name.
func (e *EFIGRUB) productLabel() string {
	return strings.SplitN(e.config.Product.Name, "-", 2)[0]
}

// loaderPath is the loader argument for efibootmgr, in the EFI system
// partition's backslashed notation.
func (e *EFIGRUB) loaderPath() string {
	return "\\EFI\\" + e.config.Bootloader.EFIDir + e.efiBinary
}

// skipFirmwareCalls reports whether efibootmgr must not be run: image
// and directory installs have no firmware, and "noefi" on the kernel
// command line means the firmware tables are unusable.
func (e *EFIGRUB) skipFirmwareCalls() bool {
	if !e.config.Target.IsHardware {
		logger.Infof("skipping efibootmgr for image/directory install")
		return true
	}
	if e.args.Contains("noefi") {
		logger.Infof("skipping efibootmgr for noefi")
		return true
	}
	return false
}

func (e *EFIGRUB) efibootmgr(args ...string) (int, error) {
	if e.skipFirmwareCalls() {
		return 0, nil
	}
	code, err := e.runner.Run(e.config.Target.SystemRoot, "efibootmgr", args...)
	return code, errors.Trace(err)
}

func (e *EFIGRUB) efibootmgrCapture() (string, error) {
	if e.skipFirmwareCalls() {
		return "", nil
	}
	out, _, err := e.runner.RunCapture(e.config.Target.SystemRoot, "efibootmgr")
	return out, errors.Trace(err)
}

// AddBootTargets creates firmware boot entries for the stage-1 device.
func (e *EFIGRUB) AddBootTargets(dev Device) error {
	switch dev.Type {
	case "partition":
		return errors.Trace(e.addBootTarget(dev))
	case "mdarray":
		for _, parent := range dev.Parents {
			if err := e.addBootTarget(parent); err != nil {
				return errors.Trace(err)
			}
		}
		return nil
	default:
		return errors.NotSupportedf("stage1 device type %q", dev.Type)
	}
}

func (e *EFIGRUB) addBootTarget(dev Device) error {
	code, err := e.efibootmgr(
		"-c", "-w", "-L", e.productLabel(),
		"-d", dev.Disk, "-p", strconv.Itoa(dev.Partition),
		"-l", e.loaderPath(),
	)
	if err != nil {
		return errors.Trace(err)
	}
	if code != 0 {
		return NewBootLoaderError("failed to set new efi boot target; " +
			"this is most likely a kernel or firmware bug")
	}
	return nil
}

// RemoveBootTargets deletes the firmware boot entries labelled with the
// product name. Entries whose slot cannot be parsed are logged and left
// alone.
func (e *EFIGRUB) RemoveBootTargets() error {
	out, err := e.efibootmgrCapture()
	if err != nil {
		return errors.Trace(err)
	}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		slot, product := fields[0], strings.Join(fields[1:], " ")
		if product != e.productLabel() {
			continue
		}
		if len(slot) < 8 || !slotIDRegexp.MatchString(slot[4:8]) {
			logger.Warningf("failed to parse efi boot slot (%s)", slot)
			continue
		}
		code, err := e.efibootmgr("-b", slot[4:8], "-B")
		if err != nil {
			return errors.Trace(err)
		}
		if code != 0 {
			return NewBootLoaderError("failed to remove old efi boot entry; " +
				"this is most likely a kernel or firmware bug")
		}
	}
	return nil
}

// EnsureBootEntries refreshes the firmware boot entries for the stage-1
// device, first dropping stale ones unless the configuration asks for
// the existing boot order to be preserved.
func (e *EFIGRUB) EnsureBootEntries(dev Device) error {
	if !e.config.Bootloader.KeepBootOrder {
		if err := e.RemoveBootTargets(); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(e.AddBootTargets(dev))
}

// InstallGRUB runs grub2-install and the config regeneration inside the
// target system root. The distribution patches GRUB2 to keep its real
// config under /boot/grub2 and write a minimal chain-load config on the
// EFI system partition, so grub2-install has to run in the chroot.
func (e *EFIGRUB) InstallGRUB() error {
	logger.Infof("installing grub2 in EFI mode")
	code, err := e.runner.Run(e.config.Target.SystemRoot, "grub2-install")
	if err != nil {
		return errors.Trace(err)
	}
	if code != 0 {
		return NewBootLoaderError("bootloader install (grub2-install) in EFI mode failed")
	}
	code, err = e.runner.Run(e.config.Target.SystemRoot, "update-grub2")
	if err != nil {
		return errors.Trace(err)
	}
	if code != 0 {
		return NewBootLoaderError("bootloader config update (update-grub2) in EFI mode failed")
	}
	return nil
}

// Write installs the boot loader onto the target system: GRUB2 into the
// system root, then the firmware boot entries for the stage-1 device.
func (e *EFIGRUB) Write(dev Device) error {
	if e.config.Bootloader.Skip {
		logger.Infof("bootloader installation is disabled")
		return nil
	}
	if err := e.InstallGRUB(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(e.EnsureBootEntries(dev))
}
