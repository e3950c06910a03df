// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package bootloader installs the boot loader onto the target system
// and maintains the firmware boot entries that point at it.
package bootloader

import (
	"github.com/juju/errors"
	"github.com/juju/loggo"
)

var logger = loggo.GetLogger("installkit.bootloader")

// Device describes the stage-1 boot device, normally the EFI system
// partition. An "mdarray" device mirrors the boot entry onto each of
// its parents.
type Device struct {
	Type      string // "partition" or "mdarray"
	Disk      string
	Partition int
	Parents   []Device
}

// bootLoaderError reports a failed boot loader installation step.
type bootLoaderError struct {
	errors.Err
}

// NewBootLoaderError returns a boot loader installation error.
func NewBootLoaderError(format string, args ...interface{}) error {
	err := &bootLoaderError{errors.NewErr(format, args...)}
	err.SetLocation(1)
	return err
}

// IsBootLoaderError reports whether err was created by
// NewBootLoaderError.
func IsBootLoaderError(err error) bool {
	_, ok := errors.Cause(err).(*bootLoaderError)
	return ok
}
