// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package users

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/utils/v4/ssh"
)

// SetSSHKeysTask installs authorized SSH public keys into user home
// directories on the target system.
type SetSSHKeysTask struct {
	sysroot string
	keys    []SSHKeyData
}

// NewSetSSHKeysTask returns a task writing the given keys under the
// system root.
func NewSetSSHKeysTask(root string, keys []SSHKeyData) *SetSSHKeysTask {
	return &SetSSHKeysTask{sysroot: root, keys: keys}
}

// Name is part of the installation task interface.
func (t *SetSSHKeysTask) Name() string {
	return "set SSH keys"
}

// Run writes an authorized_keys file for every user that has keys. All
// keys for a user end up in a single file, replacing whatever was
// there.
func (t *SetSSHKeysTask) Run() error {
	var order []string
	perUser := make(map[string][]string)
	for _, key := range t.keys {
		if _, err := ssh.ParseAuthorisedKey(key.Key); err != nil {
			return errors.Annotatef(err, "invalid SSH key for user %q", key.Username)
		}
		if _, ok := perUser[key.Username]; !ok {
			order = append(order, key.Username)
		}
		perUser[key.Username] = append(perUser[key.Username], key.Key)
	}

	for _, username := range order {
		if err := t.writeUserKeys(username, perUser[username]); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (t *SetSSHKeysTask) writeUserKeys(username string, keys []string) error {
	entry, err := lookupPasswd(t.sysroot, username)
	if err != nil {
		return errors.Trace(err)
	}

	sshDir := filepath.Join(t.sysroot, entry.home, ".ssh")
	if err := os.MkdirAll(sshDir, 0700); err != nil {
		return errors.Trace(err)
	}
	path := filepath.Join(sshDir, "authorized_keys")
	content := strings.Join(keys, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return errors.Trace(err)
	}

	// Chown can fail when running unprivileged, the keys are still in
	// place so carry on.
	for _, p := range []string{sshDir, path} {
		if err := os.Chown(p, entry.uid, entry.gid); err != nil {
			logger.Warningf("cannot chown %s to %d:%d: %v", p, entry.uid, entry.gid, err)
		}
	}
	logger.Debugf("wrote %d SSH keys for user %q", len(keys), username)
	return nil
}

type passwdEntry struct {
	uid  int
	gid  int
	home string
}

// lookupPasswd finds a user in the target system's /etc/passwd. The
// host's user database is irrelevant here.
func lookupPasswd(root, username string) (passwdEntry, error) {
	data, err := os.ReadFile(filepath.Join(root, "etc/passwd"))
	if err != nil {
		return passwdEntry{}, errors.Trace(err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Split(line, ":")
		if len(fields) < 7 || fields[0] != username {
			continue
		}
		uid, err := strconv.Atoi(fields[2])
		if err != nil {
			return passwdEntry{}, errors.Annotatef(err, "parsing passwd entry for %q", username)
		}
		gid, err := strconv.Atoi(fields[3])
		if err != nil {
			return passwdEntry{}, errors.Annotatef(err, "parsing passwd entry for %q", username)
		}
		return passwdEntry{uid: uid, gid: gid, home: fields[5]}, nil
	}
	return passwdEntry{}, errors.NotFoundf("user %q on the target system", username)
}
