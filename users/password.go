// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package users

import (
	"github.com/juju/errors"

	"github.com/installkit/installkit/sysroot"
)

// SetRootPasswordTask sets and optionally locks the root password on
// the target system.
type SetRootPasswordTask struct {
	sysroot  string
	runner   sysroot.Runner
	password string
	crypted  bool
	locked   bool
}

// NewSetRootPasswordTask returns a task configuring the root password
// under the system root.
func NewSetRootPasswordTask(root string, runner sysroot.Runner, password string, crypted, locked bool) *SetRootPasswordTask {
	return &SetRootPasswordTask{
		sysroot:  root,
		runner:   runner,
		password: password,
		crypted:  crypted,
		locked:   locked,
	}
}

// Name is part of the installation task interface.
func (t *SetRootPasswordTask) Name() string {
	return "configure root password"
}

// Run sets the password, then locks the account if requested.
func (t *SetRootPasswordTask) Run() error {
	if t.password != "" {
		if err := setPassword(t.runner, t.sysroot, "root", t.password, t.crypted); err != nil {
			return errors.Trace(err)
		}
	}
	if t.locked {
		code, err := t.runner.Run(t.sysroot, "passwd", "-l", "root")
		if err != nil {
			return errors.Trace(err)
		}
		if code != 0 {
			return errors.Errorf("locking root password failed with status %d", code)
		}
	}
	return nil
}
