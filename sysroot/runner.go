// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package sysroot runs external commands for the installer, either on
// the host or chrooted inside the installation target.
package sysroot

import (
	"os/exec"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo"
)

var logger = loggo.GetLogger("installkit.sysroot")

// Runner executes commands against a system root. An empty or "/" root
// runs on the host; anything else runs chrooted. The integer result is
// the command's exit status: expected non-zero exits are data for the
// caller to branch on, not errors. An error is only returned when the
// command could not be run at all.
type Runner interface {
	// Run executes the command, logging its combined output.
	Run(root, name string, args ...string) (int, error)

	// RunCapture executes the command and returns its combined output.
	RunCapture(root, name string, args ...string) (string, int, error)

	// RunInput executes the command with input on its stdin.
	RunInput(root, input, name string, args ...string) (int, error)
}

// NewRunner returns a Runner backed by os/exec.
func NewRunner() Runner {
	return &execRunner{}
}

type execRunner struct{}

func (execRunner) Run(root, name string, args ...string) (int, error) {
	out, code, err := run(root, "", name, args)
	if err != nil {
		return code, errors.Trace(err)
	}
	if trimmed := strings.TrimSpace(out); trimmed != "" {
		logger.Debugf("%s output: %s", name, trimmed)
	}
	return code, nil
}

func (execRunner) RunCapture(root, name string, args ...string) (string, int, error) {
	return run(root, "", name, args)
}

func (execRunner) RunInput(root, input, name string, args ...string) (int, error) {
	_, code, err := run(root, input, name, args)
	return code, errors.Trace(err)
}

func run(root, input, name string, args []string) (string, int, error) {
	cmdName, cmdArgs := name, args
	if root != "" && root != "/" {
		cmdArgs = append([]string{root, name}, args...)
		cmdName = "chroot"
	}
	logger.Debugf("running %s %s", cmdName, strings.Join(cmdArgs, " "))

	cmd := exec.Command(cmdName, cmdArgs...)
	if input != "" {
		cmd.Stdin = strings.NewReader(input)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return string(out), exitErr.ExitCode(), nil
		}
		return string(out), -1, errors.Annotatef(err, "running %q", name)
	}
	return string(out), 0, nil
}
