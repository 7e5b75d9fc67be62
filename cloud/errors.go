package cloud

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned when an authenticated call is attempted before the
	// session holds userId, ssecurity and serviceToken.
	ErrConfiguration = errors.New("missing xiaomi session context")

	// ErrTransport covers network failures and non-2xx responses.
	ErrTransport = errors.New("transport error")

	// ErrProtocol is returned when a well-formed response lacks the fields the login
	// flow depends on.
	ErrProtocol = errors.New("authentication error")

	// ErrDecryption is returned when a decrypted response body is not valid JSON.
	// It usually means the session keys do not match the server's.
	ErrDecryption = errors.New("decrypted response is not valid json")

	// ErrHandshakeOrder is returned when a login step runs before the one it depends on.
	ErrHandshakeOrder = errors.New("login step out of order")

	// ErrServiceToken is returned by Login when the scan succeeded but the service
	// token exchange did not.
	ErrServiceToken = errors.New("service token exchange failed")
)

// StatusError records a non-2xx HTTP response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return ErrTransport
}
