// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package users

import (
	"strconv"
	"strings"

	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/installkit/installkit/sysroot"
)

// CreateUsersTask creates user accounts on the target system with
// useradd and sets their passwords with chpasswd.
type CreateUsersTask struct {
	sysroot string
	runner  sysroot.Runner
	users   []UserData
}

// NewCreateUsersTask returns a task creating the given users under the
// system root.
func NewCreateUsersTask(root string, runner sysroot.Runner, users []UserData) *CreateUsersTask {
	return &CreateUsersTask{sysroot: root, runner: runner, users: users}
}

// Name is part of the installation task interface.
func (t *CreateUsersTask) Name() string {
	return "create users"
}

// Run removes the live session account left over from the installation
// medium, then creates each user. Without the removal the first created
// account would land one UID past the default. A user that already
// exists on the target is logged and skipped.
func (t *CreateUsersTask) Run() error {
	if len(t.users) == 0 {
		return nil
	}

	// The live user or group may well be absent, ignore failures.
	if _, err := t.runner.Run(t.sysroot, "userdel", "-r", "live"); err != nil {
		return errors.Trace(err)
	}
	if _, err := t.runner.Run(t.sysroot, "groupdel", "live"); err != nil {
		return errors.Trace(err)
	}

	for _, user := range t.users {
		if err := t.createUser(user); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (t *CreateUsersTask) createUser(user UserData) error {
	args := []string{"-m"}
	if user.HomeDir != "" {
		args = append(args, "-d", user.HomeDir)
	}
	if user.UID != IDNotSet {
		args = append(args, "-u", strconv.Itoa(user.UID))
	}
	if user.GID != IDNotSet {
		args = append(args, "-g", strconv.Itoa(user.GID))
	}
	if len(user.Groups) > 0 {
		groups := set.NewStrings(user.Groups...)
		args = append(args, "-G", strings.Join(groups.SortedValues(), ","))
	}
	if user.Shell != "" {
		args = append(args, "-s", user.Shell)
	}
	if user.Gecos != "" {
		args = append(args, "-c", user.Gecos)
	}
	args = append(args, user.Name)

	code, err := t.runner.Run(t.sysroot, "useradd", args...)
	if err != nil {
		return errors.Trace(err)
	}
	switch code {
	case 0:
	case exitNameInUse:
		logger.Warningf("user %q already exists on the target system", user.Name)
		return nil
	default:
		return errors.Errorf("useradd for %q failed with status %d", user.Name, code)
	}

	if user.Password != "" {
		if err := setPassword(t.runner, t.sysroot, user.Name, user.Password, user.IsCrypted); err != nil {
			return errors.Trace(err)
		}
	}
	if user.Lock {
		code, err := t.runner.Run(t.sysroot, "passwd", "-l", user.Name)
		if err != nil {
			return errors.Trace(err)
		}
		if code != 0 {
			return errors.Errorf("locking password for %q failed with status %d", user.Name, code)
		}
	}
	return nil
}

// setPassword feeds a name:password pair to chpasswd inside the system
// root, with -e when the password is already crypted.
func setPassword(runner sysroot.Runner, root, name, password string, crypted bool) error {
	var args []string
	if crypted {
		args = append(args, "-e")
	}
	input := name + ":" + password + "\n"
	code, err := runner.RunInput(root, input, "chpasswd", args...)
	if err != nil {
		return errors.Trace(err)
	}
	if code != 0 {
		return errors.Errorf("setting password for %q failed with status %d", name, code)
	}
	return nil
}
