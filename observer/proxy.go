// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package observer

import (
	"github.com/godbus/dbus/v5"
	"github.com/juju/errors"
)

// NewBusProxyGetter returns a ProxyGetter resolving object paths of the
// given service on conn. The returned proxies are godbus bus objects.
func NewBusProxyGetter(conn *dbus.Conn, service string) ProxyGetter {
	return func(name string) (Proxy, error) {
		path := dbus.ObjectPath(name)
		if !path.IsValid() {
			return nil, errors.NotValidf("object path %q", name)
		}
		return conn.Object(service, path), nil
	}
}

// busConfigProxy drives the configuration object a managed service
// exposes on the bus. The remote Set takes a property name, a variant
// value and a locale string, which is left empty.
type busConfigProxy struct {
	obj    dbus.BusObject
	method string
}

// NewBusConfigProxy returns a ConfigProxy for the configuration object
// of service at path, speaking the given interface.
func NewBusConfigProxy(conn *dbus.Conn, service, path, iface string) (ConfigProxy, error) {
	objPath := dbus.ObjectPath(path)
	if !objPath.IsValid() {
		return nil, errors.NotValidf("object path %q", path)
	}
	return &busConfigProxy{
		obj:    conn.Object(service, objPath),
		method: iface + ".Set",
	}, nil
}

// Set implements ConfigProxy.
func (p *busConfigProxy) Set(property string, value interface{}) error {
	call := p.obj.Call(p.method, 0, property, dbus.MakeVariant(value), "")
	return errors.Annotatef(call.Err, "setting %q", property)
}
