// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package users

import (
	"os"
	"path/filepath"
	"regexp"

	"github.com/juju/errors"
)

const (
	// denyUsersPath is read by the target's PAM sshd configuration for
	// the list of users refused SSH login.
	denyUsersPath  = "etc/ssh/denyusers"
	sshdConfigPath = "etc/ssh/sshd_config"
)

var (
	denyRootRegexp        = regexp.MustCompile(`(?m)^root$`)
	permitRootLoginRegexp = regexp.MustCompile(`(?m)^#PermitRootLogin.*$`)
)

// ConfigureRootPasswordSSHLoginTask optionally overrides the target's
// OpenSSH defaults to let root log in over SSH with a password.
type ConfigureRootPasswordSSHLoginTask struct {
	sysroot         string
	passwordAllowed bool
}

// NewConfigureRootPasswordSSHLoginTask returns a task adjusting the SSH
// configuration under the system root. With passwordAllowed false the
// default OpenSSH behaviour is left alone.
func NewConfigureRootPasswordSSHLoginTask(root string, passwordAllowed bool) *ConfigureRootPasswordSSHLoginTask {
	return &ConfigureRootPasswordSSHLoginTask{sysroot: root, passwordAllowed: passwordAllowed}
}

// Name is part of the installation task interface.
func (t *ConfigureRootPasswordSSHLoginTask) Name() string {
	return "configure optional root password SSH login"
}

// Run comments root out of the SSH deny list and uncomments the first
// PermitRootLogin directive as "yes".
func (t *ConfigureRootPasswordSSHLoginTask) Run() error {
	if !t.passwordAllowed {
		logger.Debugf("not force-allowing root login with password via SSH")
		return nil
	}

	err := editFile(filepath.Join(t.sysroot, denyUsersPath), func(content string) string {
		return replaceFirst(denyRootRegexp, content,
			"# Uncomment to block root SSH logins\n#root")
	})
	if err != nil {
		return errors.Trace(err)
	}

	err = editFile(filepath.Join(t.sysroot, sshdConfigPath), func(content string) string {
		return replaceFirst(permitRootLoginRegexp, content, "PermitRootLogin yes")
	})
	return errors.Trace(err)
}

// editFile rewrites a file in place, keeping its mode.
func editFile(path string, transform func(string) string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.Trace(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(os.WriteFile(path, []byte(transform(string(data))), info.Mode()))
}

// replaceFirst substitutes only the first match, which Go's regexp
// replacement functions cannot express directly.
func replaceFirst(re *regexp.Regexp, content, replacement string) string {
	loc := re.FindStringIndex(content)
	if loc == nil {
		return content
	}
	return content[:loc[0]] + replacement + content[loc[1]:]
}
