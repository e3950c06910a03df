// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package observer

import (
	"github.com/juju/errors"
)

// notAvailableError reports that the watched service is not reachable on
// the bus and did not come up within the startup timeout.
type notAvailableError struct {
	errors.Err
}

// NewNotAvailableError returns an error reporting that the named service
// is not available.
func NewNotAvailableError(service string) error {
	err := &notAvailableError{errors.NewErr("service %q is not available", service)}
	err.SetLocation(1)
	return err
}

// IsNotAvailable reports whether err was created by NewNotAvailableError.
// It lets callers tell "the service will not be ready in time" apart from
// connection-level failures.
func IsNotAvailable(err error) bool {
	_, ok := errors.Cause(err).(*notAvailableError)
	return ok
}
