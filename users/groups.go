// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package users

import (
	"strconv"

	"github.com/juju/errors"

	"github.com/installkit/installkit/sysroot"
)

// groupadd and useradd report a name already in use with exit status 9.
const exitNameInUse = 9

// CreateGroupsTask creates groups on the target system with groupadd.
type CreateGroupsTask struct {
	sysroot string
	runner  sysroot.Runner
	groups  []GroupData
}

// NewCreateGroupsTask returns a task creating the given groups under
// the system root.
func NewCreateGroupsTask(root string, runner sysroot.Runner, groups []GroupData) *CreateGroupsTask {
	return &CreateGroupsTask{sysroot: root, runner: runner, groups: groups}
}

// Name is part of the installation task interface.
func (t *CreateGroupsTask) Name() string {
	return "create groups"
}

// Run creates each group in turn. A group that already exists on the
// target is logged and skipped.
func (t *CreateGroupsTask) Run() error {
	for _, group := range t.groups {
		var args []string
		if group.GID != IDNotSet {
			args = append(args, "-g", strconv.Itoa(group.GID))
		}
		args = append(args, group.Name)

		code, err := t.runner.Run(t.sysroot, "groupadd", args...)
		if err != nil {
			return errors.Trace(err)
		}
		switch code {
		case 0:
		case exitNameInUse:
			logger.Warningf("group %q already exists on the target system", group.Name)
		default:
			return errors.Errorf("groupadd for %q failed with status %d", group.Name, code)
		}
	}
	return nil
}
