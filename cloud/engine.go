// Package cloud implements the Xiaomi cloud QR login and the signed, RC4-encrypted
// API calls made with the resulting session.
//
// An Engine is single-owner: every method blocks and none of them are safe to call
// concurrently. Callers run the login on a worker goroutine and cancel through the
// context they pass in.
package cloud

import (
	"crypto/rand"
	"io"
	mrand "math/rand/v2"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultRequestTimeout     = 30 * time.Second
	defaultPollAttemptTimeout = 10 * time.Second
	defaultPollInterval       = time.Second
	locale                    = "en_GB"
)

// Engine drives the login handshake and owns the resulting session.
type Engine struct {
	identity  Identity
	client    *http.Client
	apiClient *http.Client // client without the cookie jar; API cookies come from the session only
	caBundle  string
	logger    zerolog.Logger
	rng       *mrand.Rand
	entropy   io.Reader        // nonce randomness (injectable for testing)
	nowFunc   func() time.Time // clock (injectable for testing)

	loginEndpoint      string
	requestTimeout     time.Duration
	pollAttemptTimeout time.Duration
	pollInterval       time.Duration

	state   State
	session session
}

// EngineOption modifies an Engine during construction.
type EngineOption func(*Engine)

// WithHTTPClient replaces the default client. The client is reused for every call.
func WithHTTPClient(client *http.Client) EngineOption {
	return func(e *Engine) {
		e.client = client
	}
}

// WithCABundle points the default client at a PEM trust bundle.
func WithCABundle(path string) EngineOption {
	return func(e *Engine) {
		e.caBundle = path
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithRand sets the random source the identity is drawn from.
func WithRand(r *mrand.Rand) EngineOption {
	return func(e *Engine) {
		e.rng = r
	}
}

// WithEntropy sets the reader nonce bytes are drawn from.
func WithEntropy(r io.Reader) EngineOption {
	return func(e *Engine) {
		e.entropy = r
	}
}

// WithNowFunc sets the clock (primarily for testing).
func WithNowFunc(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.nowFunc = now
	}
}

// WithTimeouts overrides the per-request timeout and the per-attempt poll timeout.
func WithTimeouts(request, pollAttempt time.Duration) EngineOption {
	return func(e *Engine) {
		e.requestTimeout = request
		e.pollAttemptTimeout = pollAttempt
	}
}

// WithPollInterval sets the pause between two failed poll attempts.
func WithPollInterval(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.pollInterval = d
	}
}

// NewEngine creates an Engine with a freshly generated identity.
func NewEngine(options ...EngineOption) (*Engine, error) {
	e := &Engine{
		logger:             log.Logger,
		entropy:            rand.Reader,
		nowFunc:            time.Now,
		loginEndpoint:      loginURLEndpoint,
		requestTimeout:     defaultRequestTimeout,
		pollAttemptTimeout: defaultPollAttemptTimeout,
		pollInterval:       defaultPollInterval,
		state:              StateInit,
	}
	for _, opt := range options {
		opt(e)
	}

	if e.rng == nil {
		e.rng = mrand.New(mrand.NewPCG(mrand.Uint64(), mrand.Uint64()))
	}
	if e.client == nil {
		client, err := NewHTTPClient(e.caBundle)
		if err != nil {
			return nil, errors.Wrap(err, "[NewEngine] http client")
		}
		e.client = client
	}
	api := *e.client
	api.Jar = nil
	e.apiClient = &api

	e.identity = NewIdentity(e.rng)
	e.logger = e.logger.With().Str("component", "cloud").Str("device_id", e.identity.DeviceID).Logger()
	return e, nil
}

// Identity returns the user agent and device id generated for this engine.
func (e *Engine) Identity() Identity {
	return e.identity
}

// State returns the current handshake state.
func (e *Engine) State() State {
	return e.state
}

// LoginURL returns the browser fallback link from the last QR challenge.
func (e *Engine) LoginURL() string {
	return e.session.loginURL
}

// UserID returns the account id once the QR code has been scanned.
func (e *Engine) UserID() string {
	return e.session.userID.String()
}
