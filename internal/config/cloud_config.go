package config

import (
	"time"

	"github.com/rs/zerolog/log"
)

const (
	caBundleVar      = "MIHOME_CA_BUNDLE"
	loginDeadlineVar = "MIHOME_LOGIN_DEADLINE"
)

type CloudConfig interface {
	GetRequestTimeout() time.Duration
	GetPollAttemptTimeout() time.Duration
	GetPollInterval() time.Duration
	GetLoginDeadline() time.Duration
	GetCABundle() string
}

type Cloud struct{}

var _ CloudConfig = Cloud{}

func (Cloud) GetRequestTimeout() time.Duration {
	return 30 * time.Second
}

func (Cloud) GetPollAttemptTimeout() time.Duration {
	return 10 * time.Second
}

func (Cloud) GetPollInterval() time.Duration {
	return time.Second
}

// GetLoginDeadline bounds how long the QR scan is waited for. Zero means no limit.
func (Cloud) GetLoginDeadline() time.Duration {
	raw := GetEnv(loginDeadlineVar, "")
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		log.Warn().Str("value", raw).Msg("ignoring invalid " + loginDeadlineVar)
		return 0
	}
	return d
}

// GetCABundle returns a PEM trust bundle that replaces the roots compiled into the
// binary.
func (Cloud) GetCABundle() string {
	return GetEnv(caBundleVar, "")
}
