package session

import (
	"fmt"
	"net/url"
	"strings"
)

type details struct {
	serverAddress string
	adapterSet    string
	user          string
	password      string
}

// ConnectionDetails is the live view of the server coordinates and
// credentials of an Engine, plus the values echoed by the server.
type ConnectionDetails struct {
	e *Engine
}

func (d ConnectionDetails) set(name string, apply func(*details)) {
	e := d.e
	e.mu.Lock()
	defer e.mu.Unlock()
	apply(&e.details)
	e.propertyChanged(name)
}

func (d ConnectionDetails) get() details {
	d.e.mu.Lock()
	defer d.e.mu.Unlock()
	return d.e.details
}

// ValidateServerAddress checks that addr is an absolute http or https URL
// without query or fragment.
func ValidateServerAddress(addr string) error {
	u, err := url.Parse(addr)
	if err != nil {
		return fmt.Errorf("%w: server address %q: %v", ErrInvalidArgument, addr, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: server address %q must use http or https", ErrInvalidArgument, addr)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: server address %q has no host", ErrInvalidArgument, addr)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("%w: server address %q must not have a query or fragment", ErrInvalidArgument, addr)
	}
	return nil
}

// ServerAddress returns the configured server URL.
func (d ConnectionDetails) ServerAddress() string { return d.get().serverAddress }

// SetServerAddress sets the server URL used by the next session.
func (d ConnectionDetails) SetServerAddress(addr string) error {
	if err := ValidateServerAddress(addr); err != nil {
		return err
	}
	addr = strings.TrimRight(addr, "/")
	d.set(PropServerAddress, func(det *details) { det.serverAddress = addr })
	return nil
}

// AdapterSet returns the adapter set name.
func (d ConnectionDetails) AdapterSet() string { return d.get().adapterSet }

// SetAdapterSet sets the adapter set used by the next session.
func (d ConnectionDetails) SetAdapterSet(name string) {
	d.set(PropAdapterSet, func(det *details) { det.adapterSet = name })
}

// User returns the user name.
func (d ConnectionDetails) User() string { return d.get().user }

// SetUser sets the user name used by the next session.
func (d ConnectionDetails) SetUser(user string) {
	d.set(PropUser, func(det *details) { det.user = user })
}

// SetPassword sets the password used by the next session. There is no
// getter.
func (d ConnectionDetails) SetPassword(password string) {
	d.set(PropPassword, func(det *details) { det.password = password })
}

// SessionID returns the id of the current session, "" when none.
func (d ConnectionDetails) SessionID() string {
	d.e.mu.Lock()
	defer d.e.mu.Unlock()
	return d.e.sessionID
}

// ServerInstanceAddress returns the address control requests are sent to.
func (d ConnectionDetails) ServerInstanceAddress() string {
	e := d.e
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.instanceAddress()
}

// ServerSocketName returns the server socket name echoed by the server.
func (d ConnectionDetails) ServerSocketName() string {
	d.e.mu.Lock()
	defer d.e.mu.Unlock()
	return d.e.serverSocket
}

// ClientIP returns the client address seen by the server.
func (d ConnectionDetails) ClientIP() string {
	d.e.mu.Lock()
	defer d.e.mu.Unlock()
	return d.e.clientIP
}
