package cloud_test

import (
	"context"
	"io"
	mrand "math/rand/v2"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jrsteele09/mihome-cloud/cloud"
	"github.com/jrsteele09/mihome-cloud/cloud/cloudfake"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testSSecurity = "c3NlY3VyaXR5"
	testGetHome   = "https://sg.api.io.mi.com/app/v2/homeroom/gethome"
	testDeviceURL = "https://sg.api.io.mi.com/app/v2/home/home_device_list"
)

// newTestEngine builds an engine routed through fake with a seeded identity.
func newTestEngine(t *testing.T, fake *cloudfake.FakeCloud, options ...cloud.EngineOption) *cloud.Engine {
	t.Helper()

	base := []cloud.EngineOption{
		cloud.WithHTTPClient(fake.Client()),
		cloud.WithPollInterval(time.Millisecond),
		cloud.WithRand(mrand.New(mrand.NewPCG(1, 2))),
		cloud.WithLogger(zerolog.Nop()),
	}
	e, err := cloud.NewEngine(append(base, options...)...)
	require.NoError(t, err)
	return e
}

// loggedInEngine runs the whole handshake against fake.
func loggedInEngine(t *testing.T, fake *cloudfake.FakeCloud, options ...cloud.EngineOption) *cloud.Engine {
	t.Helper()

	e := newTestEngine(t, fake, options...)
	require.NoError(t, e.Login(context.Background(), nil))
	require.Equal(t, cloud.StateAuthenticated, e.State())
	return e
}

func textResponse(req *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}
}
