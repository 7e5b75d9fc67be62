package cloud

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// ID is an identifier the cloud sends either as a JSON string or as a JSON number.
// The raw form is kept so it can be echoed back exactly as received.
type ID struct {
	raw json.RawMessage
}

// NewID wraps a string identifier.
func NewID(s string) ID {
	raw, _ := json.Marshal(s)
	return ID{raw: raw}
}

// IsZero reports whether the id was never set or was null.
func (id ID) IsZero() bool {
	return id.String() == ""
}

// String returns the id without JSON quoting.
func (id ID) String() string {
	if len(id.raw) == 0 {
		return ""
	}
	if id.raw[0] == '"' {
		s, err := strconv.Unquote(string(id.raw))
		if err == nil {
			return s
		}
	}
	if bytes.Equal(id.raw, []byte("null")) {
		return ""
	}
	return string(id.raw)
}

// UnmarshalJSON keeps the raw JSON value, string or number.
func (id *ID) UnmarshalJSON(b []byte) error {
	id.raw = append(id.raw[:0], b...)
	return nil
}

// MarshalJSON writes the id back in the form it was received; an unset id is null.
func (id ID) MarshalJSON() ([]byte, error) {
	if len(id.raw) == 0 {
		return []byte("null"), nil
	}
	return id.raw, nil
}

// QRChallenge is the result of the first login step.
type QRChallenge struct {
	ImageURL    string // QR image to show the user
	LongPollURL string // polled until the code is scanned
	LoginURL    string // browser fallback for the QR code
}

// Home is one entry of the account's home list.
type Home struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// Device describes a device bound to a home. LocalIP and Token are what local
// (non-cloud) control needs.
type Device struct {
	DID      string `json:"did"`
	Name     string `json:"name"`
	Model    string `json:"model"`
	LocalIP  string `json:"localip"`
	Token    string `json:"token"`
	MAC      string `json:"mac"`
	SSID     string `json:"ssid"`
	IsOnline bool   `json:"isOnline"`
	ParentID string `json:"parent_id"`
}

// HasLocalCredentials reports whether the device can be controlled on the LAN.
func (d Device) HasLocalCredentials() bool {
	return d.LocalIP != "" && d.Token != ""
}

// FirstLocalDevice returns the first device that carries both a local ip and a token.
func FirstLocalDevice(devices []Device) (Device, bool) {
	for _, d := range devices {
		if d.HasLocalCredentials() {
			return d, true
		}
	}
	return Device{}, false
}
