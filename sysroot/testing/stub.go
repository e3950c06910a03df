// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package testing provides a recording sysroot.Runner for use in tests.
package testing

import (
	"github.com/juju/testing"
)

// StubRunner records every command it is asked to run. Exit codes are
// popped from Codes (zero once exhausted), captured output from
// Outputs; errors come from the embedded Stub's error queue.
type StubRunner struct {
	*testing.Stub

	Codes   []int
	Outputs []string
}

func (r *StubRunner) nextCode() int {
	if len(r.Codes) == 0 {
		return 0
	}
	code := r.Codes[0]
	r.Codes = r.Codes[1:]
	return code
}

func (r *StubRunner) nextOutput() string {
	if len(r.Outputs) == 0 {
		return ""
	}
	out := r.Outputs[0]
	r.Outputs = r.Outputs[1:]
	return out
}

// Run is part of the sysroot.Runner interface.
func (r *StubRunner) Run(root, name string, args ...string) (int, error) {
	r.AddCall("Run", root, name, args)
	return r.nextCode(), r.NextErr()
}

// RunCapture is part of the sysroot.Runner interface.
func (r *StubRunner) RunCapture(root, name string, args ...string) (string, int, error) {
	r.AddCall("RunCapture", root, name, args)
	return r.nextOutput(), r.nextCode(), r.NextErr()
}

// RunInput is part of the sysroot.Runner interface.
func (r *StubRunner) RunInput(root, input, name string, args ...string) (int, error) {
	r.AddCall("RunInput", root, input, name, args)
	return r.nextCode(), r.NextErr()
}
