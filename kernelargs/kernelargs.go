// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package kernelargs gives access to the kernel command line the
// installer environment was booted with.
package kernelargs

import (
	"os"
	"strings"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

var procCmdline = "/proc/cmdline"

// Cmdline holds the parsed kernel command line.
type Cmdline struct {
	flags  set.Strings
	values map[string]string
}

// Parse builds a Cmdline from raw command-line text. Arguments are
// whitespace separated; "key=value" arguments keep their value, bare
// arguments become flags.
func Parse(raw string) Cmdline {
	c := Cmdline{
		flags:  set.NewStrings(),
		values: make(map[string]string),
	}
	for _, field := range strings.Fields(raw) {
		if key, value, ok := strings.Cut(field, "="); ok {
			c.values[key] = value
		} else {
			c.flags.Add(field)
		}
	}
	return c
}

// Read parses the running kernel's command line.
func Read() (Cmdline, error) {
	data, err := os.ReadFile(procCmdline)
	if err != nil {
		return Cmdline{}, errors.Annotate(err, "reading kernel command line")
	}
	return Parse(string(data)), nil
}

// Contains reports whether the argument is present, with or without a
// value.
func (c Cmdline) Contains(name string) bool {
	if c.flags.Contains(name) {
		return true
	}
	_, ok := c.values[name]
	return ok
}

// Get returns the value of a "key=value" argument.
func (c Cmdline) Get(name string) (string, bool) {
	value, ok := c.values[name]
	return value, ok
}
