// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"os"

	"github.com/juju/errors"
	"gopkg.in/yaml.v2"

	"github.com/installkit/installkit/bootloader"
	"github.com/installkit/installkit/config"
	"github.com/installkit/installkit/sysroot"
	"github.com/installkit/installkit/users"
)

// task is the common shape of the provisioning steps.
type task interface {
	Name() string
	Run() error
}

// provision describes what to set up on the installed system.
type provision struct {
	Groups  []groupSpec  `yaml:"groups"`
	Users   []userSpec   `yaml:"users"`
	SSHKeys []sshKeySpec `yaml:"ssh_keys"`

	RootPassword *rootPasswordSpec `yaml:"root_password"`

	// RootPasswordSSHLogin permits root SSH logins with a password on
	// the installed system.
	RootPasswordSSHLogin bool `yaml:"root_password_ssh_login"`

	// Stage1 is the device to point firmware boot entries at. Without it
	// no boot loader is installed.
	Stage1 *deviceSpec `yaml:"stage1"`
}

type groupSpec struct {
	Name string `yaml:"name"`
	GID  *int   `yaml:"gid"`
}

type userSpec struct {
	Name      string   `yaml:"name"`
	Password  string   `yaml:"password"`
	IsCrypted bool     `yaml:"is_crypted"`
	Lock      bool     `yaml:"lock"`
	HomeDir   string   `yaml:"home_dir"`
	UID       *int     `yaml:"uid"`
	GID       *int     `yaml:"gid"`
	Groups    []string `yaml:"groups"`
	Shell     string   `yaml:"shell"`
	Gecos     string   `yaml:"gecos"`
}

type sshKeySpec struct {
	Username string `yaml:"username"`
	Key      string `yaml:"key"`
}

type rootPasswordSpec struct {
	Password  string `yaml:"password"`
	IsCrypted bool   `yaml:"is_crypted"`
	Lock      bool   `yaml:"lock"`
}

type deviceSpec struct {
	Type      string       `yaml:"type"`
	Disk      string       `yaml:"disk"`
	Partition int          `yaml:"partition"`
	Parents   []deviceSpec `yaml:"parents"`
}

func loadProvision(path string) (*provision, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotate(err, "reading provisioning data")
	}
	var prov provision
	if err := yaml.UnmarshalStrict(data, &prov); err != nil {
		return nil, errors.Annotatef(err, "parsing %q", path)
	}
	return &prov, nil
}

// tasks returns the provisioning steps in execution order.
func (p *provision) tasks(cfg *config.Config, runner sysroot.Runner) []task {
	root := cfg.Target.SystemRoot
	var tasks []task
	if len(p.Groups) > 0 {
		tasks = append(tasks, users.NewCreateGroupsTask(root, runner, p.groupData()))
	}
	if len(p.Users) > 0 {
		tasks = append(tasks, users.NewCreateUsersTask(root, runner, p.userData()))
	}
	if p.RootPassword != nil {
		tasks = append(tasks, users.NewSetRootPasswordTask(
			root, runner, p.RootPassword.Password, p.RootPassword.IsCrypted, p.RootPassword.Lock))
	}
	if len(p.SSHKeys) > 0 {
		tasks = append(tasks, users.NewSetSSHKeysTask(root, p.sshKeyData()))
	}
	tasks = append(tasks, users.NewConfigureRootPasswordSSHLoginTask(root, p.RootPasswordSSHLogin))
	return tasks
}

func (p *provision) groupData() []users.GroupData {
	var groups []users.GroupData
	for _, spec := range p.Groups {
		groups = append(groups, users.GroupData{
			Name: spec.Name,
			GID:  idOrNotSet(spec.GID),
		})
	}
	return groups
}

func (p *provision) userData() []users.UserData {
	var list []users.UserData
	for _, spec := range p.Users {
		list = append(list, users.UserData{
			Name:      spec.Name,
			Password:  spec.Password,
			IsCrypted: spec.IsCrypted,
			Lock:      spec.Lock,
			HomeDir:   spec.HomeDir,
			UID:       idOrNotSet(spec.UID),
			GID:       idOrNotSet(spec.GID),
			Groups:    spec.Groups,
			Shell:     spec.Shell,
			Gecos:     spec.Gecos,
		})
	}
	return list
}

func (p *provision) sshKeyData() []users.SSHKeyData {
	var keys []users.SSHKeyData
	for _, spec := range p.SSHKeys {
		keys = append(keys, users.SSHKeyData{Username: spec.Username, Key: spec.Key})
	}
	return keys
}

func idOrNotSet(id *int) int {
	if id == nil {
		return users.IDNotSet
	}
	return *id
}

func (d *deviceSpec) device() bootloader.Device {
	dev := bootloader.Device{
		Type:      d.Type,
		Disk:      d.Disk,
		Partition: d.Partition,
	}
	for _, parent := range d.Parents {
		dev.Parents = append(dev.Parents, parent.device())
	}
	return dev
}
