package config_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/mihome-cloud/internal/config"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	for _, v := range []string{"APP_NAME", "LOG_LEVEL", "MIHOME_COUNTRY", "MIHOME_LOGIN_DEADLINE", "MIHOME_CREDENTIALS_STORE", "MIHOME_CA_BUNDLE"} {
		t.Setenv(v, "")
	}
	c := config.New()

	require.Equal(t, "Mi Home Login", c.GetAppName())
	require.Equal(t, "info", c.GetLogLevel())
	require.Equal(t, config.DefaultCountry, c.GetCountry())
	require.Equal(t, 30*time.Second, c.GetRequestTimeout())
	require.Equal(t, 10*time.Second, c.GetPollAttemptTimeout())
	require.Zero(t, c.GetLoginDeadline())
	require.Equal(t, config.FileStore, c.GetCredentialsStore())
	require.Empty(t, c.GetCABundle())
}

func TestConfig_Overrides(t *testing.T) {
	t.Setenv("MIHOME_COUNTRY", "DE")
	t.Setenv("MIHOME_LOGIN_DEADLINE", "2m")
	t.Setenv("MIHOME_CREDENTIALS_STORE", "Keyring")
	t.Setenv("MIHOME_CONFIG_FILE", "/tmp/creds.json")
	c := config.New()

	require.Equal(t, "de", c.GetCountry())
	require.Equal(t, 2*time.Minute, c.GetLoginDeadline())
	require.Equal(t, config.KeyringStore, c.GetCredentialsStore())
	require.Equal(t, "/tmp/creds.json", c.GetConfigFile())

	t.Run("invalid deadline means unbounded", func(t *testing.T) {
		t.Setenv("MIHOME_LOGIN_DEADLINE", "soon")
		require.Zero(t, config.New().GetLoginDeadline())
	})
}
