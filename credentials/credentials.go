// Package credentials persists the local-control credentials of the selected device.
// Only the (ip, token) pair is stored; the cloud session is never persisted.
package credentials

import (
	"errors"
	"strings"
)

var (
	ErrNotFound = errors.New("device credentials not found")
	ErrInvalid  = errors.New("device credentials incomplete")
)

// DeviceCredentials is what direct LAN control of a device needs.
type DeviceCredentials struct {
	IP    string `json:"ip"`
	Token string `json:"token"`
}

// Validate checks that both fields are present.
func (c *DeviceCredentials) Validate() error {
	if c == nil || strings.TrimSpace(c.IP) == "" || strings.TrimSpace(c.Token) == "" {
		return ErrInvalid
	}
	return nil
}

// Repo stores at most one DeviceCredentials value.
type Repo interface {
	// Load returns ErrNotFound when nothing is stored
	Load() (*DeviceCredentials, error)

	// Save replaces the stored credentials
	Save(creds *DeviceCredentials) error

	// Delete removes the stored credentials; deleting nothing is not an error
	Delete() error
}
