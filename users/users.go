// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package users provisions groups, users and SSH access on the
// installed system. Each task runs the standard shadow-utils tools
// chrooted into the target system root.
package users

import (
	"github.com/juju/loggo"
)

var logger = loggo.GetLogger("installkit.users")

// IDNotSet marks a UID or GID the administrator left unspecified, so
// the tools pick the next free one.
const IDNotSet = -1

// UserData describes a user account to create on the target system.
type UserData struct {
	Name      string
	Password  string
	IsCrypted bool
	Lock      bool
	HomeDir   string
	UID       int
	GID       int
	Groups    []string
	Shell     string
	Gecos     string
}

// GroupData describes a group to create on the target system.
type GroupData struct {
	Name string
	GID  int
}

// SSHKeyData is a public key to authorize for a user on the target
// system.
type SSHKeyData struct {
	Username string
	Key      string
}
