package cloud_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jrsteele09/mihome-cloud/cloud"
	"github.com/jrsteele09/mihome-cloud/cloud/cloudfake"
	"github.com/stretchr/testify/require"
)

func TestLogin_EndToEnd(t *testing.T) {
	fake := cloudfake.New()
	e := newTestEngine(t, fake)
	ctx := context.Background()

	challenge, err := e.RequestQRCode(ctx)
	require.NoError(t, err)
	require.Equal(t, cloud.QRChallenge{ImageURL: "http://img", LongPollURL: "http://poll", LoginURL: "http://login"}, challenge)
	require.Equal(t, "http://login", e.LoginURL())
	require.Equal(t, cloud.StateQRIssued, e.State())

	image, err := e.DownloadQRImage(ctx, challenge.ImageURL)
	require.NoError(t, err)
	require.Equal(t, fake.QRImage, image)

	require.NoError(t, e.WaitForScan(ctx, challenge.LongPollURL))
	require.Equal(t, 3, fake.Polls(), "two 404s are retried")
	require.Equal(t, cloud.StateScanned, e.State())
	require.Equal(t, "42", e.UserID())

	ok, err := e.ExchangeServiceToken(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, cloud.StateAuthenticated, e.State())

	devices, err := e.ListDevices(ctx, "sg")
	require.NoError(t, err)
	require.Len(t, devices, 1)

	var homeCall *cloudfake.Request
	for _, r := range fake.Requests() {
		if r.Method == http.MethodPost {
			r := r
			homeCall = &r
			break
		}
	}
	require.NotNil(t, homeCall)
	require.Contains(t, homeCall.URL, testGetHome+"?")
	require.Equal(t, "42", homeCall.Cookies["userId"])
	require.Equal(t, "abc123", homeCall.Cookies["serviceToken"])
	require.Equal(t, "en_GB", homeCall.Cookies["locale"])
	require.Equal(t, e.Identity().Agent, homeCall.Header.Get("User-Agent"))
	require.Equal(t, "application/x-www-form-urlencoded", homeCall.Header.Get("Content-Type"))
	require.Equal(t, "PROTOCAL-HTTP2", homeCall.Header.Get("x-xiaomi-protocal-flag-cli"))
	require.Equal(t, "ENCRYPT-RC4", homeCall.Header.Get("MIOT-ENCRYPT-ALGORITHM"))
	require.Equal(t, cloud.Params{{Key: "data", Value: `{"fg":true,"limit":100}`}}, homeCall.Decrypted)
}

func TestRequestQRCode_Query(t *testing.T) {
	fake := cloudfake.New()
	now := time.UnixMilli(1700000000123)
	e := newTestEngine(t, fake, cloud.WithNowFunc(func() time.Time { return now }))

	_, err := e.RequestQRCode(context.Background())
	require.NoError(t, err)

	reqs := fake.Requests()
	require.Len(t, reqs, 1)
	want := map[string]string{
		"_qrsize":  "240",
		"qs":       "%3Fsid%3Dxiaomiio%26_json%3Dtrue",
		"callback": "https://sts.api.io.mi.com/sts",
		"_hasLogo": "false",
		"sid":      "xiaomiio",
		"_locale":  "en_GB",
		"_dc":      "1700000000123",
	}
	for k, v := range want {
		got, ok := reqs[0].Params.Get(k)
		require.True(t, ok, k)
		require.Equal(t, v, got, k)
	}
}

func TestRequestQRCode_SentinelStripped(t *testing.T) {
	fake := cloudfake.New()
	fake.LoginBody = `{"qr":"x","lp":"y","loginUrl":"z"}`
	e := newTestEngine(t, fake)

	challenge, err := e.RequestQRCode(context.Background())
	require.NoError(t, err)
	require.Equal(t, "x", challenge.ImageURL)
	require.Equal(t, "y", challenge.LongPollURL)
	require.Equal(t, "z", e.LoginURL())
}

func TestRequestQRCode_MissingFields(t *testing.T) {
	for name, body := range map[string]string{
		"no qr":    `{"lp":"y","loginUrl":"z"}`,
		"no lp":    `{"qr":"x","loginUrl":"z"}`,
		"not json": `<html>`,
	} {
		t.Run(name, func(t *testing.T) {
			fake := cloudfake.New()
			fake.LoginBody = body
			e := newTestEngine(t, fake)

			_, err := e.RequestQRCode(context.Background())
			require.ErrorIs(t, err, cloud.ErrProtocol)
			require.NotEqual(t, cloud.StateQRIssued, e.State())

			err = e.WaitForScan(context.Background(), "http://poll")
			require.ErrorIs(t, err, cloud.ErrHandshakeOrder)
			require.Zero(t, fake.Polls())
		})
	}
}

func TestRequestQRCode_TransportStatus(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return textResponse(req, http.StatusServiceUnavailable, ""), nil
	})}
	e := newTestEngine(t, cloudfake.New(), cloud.WithHTTPClient(client))

	_, err := e.RequestQRCode(context.Background())
	require.ErrorIs(t, err, cloud.ErrTransport)
	require.NotErrorIs(t, err, cloud.ErrProtocol)

	var statusErr *cloud.StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
}

func TestDownloadQRImage_NotFound(t *testing.T) {
	e := newTestEngine(t, cloudfake.New())

	_, err := e.DownloadQRImage(context.Background(), "http://missing")
	require.ErrorIs(t, err, cloud.ErrTransport)

	var statusErr *cloud.StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestWaitForScan_NumericUserID(t *testing.T) {
	fake := cloudfake.New()
	fake.PollFailures = 0
	fake.ScanBody = `{"userId":42,"ssecurity":"c3NlY3VyaXR5","location":"http://loc"}`
	e := newTestEngine(t, fake)
	ctx := context.Background()

	challenge, err := e.RequestQRCode(ctx)
	require.NoError(t, err)
	require.NoError(t, e.WaitForScan(ctx, challenge.LongPollURL))
	require.Equal(t, "42", e.UserID())
}

func TestWaitForScan_MissingKeys(t *testing.T) {
	for name, body := range map[string]string{
		"no userId":    `{"ssecurity":"c3NlY3VyaXR5","location":"http://loc"}`,
		"no ssecurity": `{"userId":"42","location":"http://loc"}`,
		"no location":  `{"userId":"42","ssecurity":"c3NlY3VyaXR5"}`,
	} {
		t.Run(name, func(t *testing.T) {
			fake := cloudfake.New()
			fake.ScanBody = body
			e := newTestEngine(t, fake)
			ctx := context.Background()

			challenge, err := e.RequestQRCode(ctx)
			require.NoError(t, err)
			err = e.WaitForScan(ctx, challenge.LongPollURL)
			require.ErrorIs(t, err, cloud.ErrProtocol)
			require.Equal(t, cloud.StateQRIssued, e.State())
		})
	}
}

func TestWaitForScan_Deadline(t *testing.T) {
	fake := cloudfake.New()
	fake.PollFailures = 1 << 30
	e := newTestEngine(t, fake)

	challenge, err := e.RequestQRCode(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = e.WaitForScan(ctx, challenge.LongPollURL)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Greater(t, fake.Polls(), 1)
	require.Equal(t, cloud.StateQRIssued, e.State())
}

func TestWaitForScan_TransportErrorsAreRetried(t *testing.T) {
	fake := cloudfake.New()
	fake.PollFailures = 0
	failures := 0
	client := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.String() == cloudfake.PollURL && failures < 2 {
			failures++
			return nil, errors.New("connection reset")
		}
		return fake.RoundTrip(req)
	})}
	e := newTestEngine(t, fake, cloud.WithHTTPClient(client))
	ctx := context.Background()

	challenge, err := e.RequestQRCode(ctx)
	require.NoError(t, err)
	require.NoError(t, e.WaitForScan(ctx, challenge.LongPollURL))
	require.Equal(t, 2, failures)
	require.Equal(t, cloud.StateScanned, e.State())
}

func TestExchangeServiceToken(t *testing.T) {
	scanned := func(t *testing.T, fake *cloudfake.FakeCloud) *cloud.Engine {
		t.Helper()
		e := newTestEngine(t, fake)
		challenge, err := e.RequestQRCode(context.Background())
		require.NoError(t, err)
		require.NoError(t, e.WaitForScan(context.Background(), challenge.LongPollURL))
		return e
	}

	t.Run("non-200 is false and retryable", func(t *testing.T) {
		fake := cloudfake.New()
		fake.TokenStatus = http.StatusInternalServerError
		e := scanned(t, fake)

		ok, err := e.ExchangeServiceToken(context.Background())
		require.NoError(t, err)
		require.False(t, ok)
		require.Equal(t, cloud.StateScanned, e.State())

		fake.TokenStatus = http.StatusOK
		ok, err = e.ExchangeServiceToken(context.Background())
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, cloud.StateAuthenticated, e.State())
	})

	t.Run("missing cookie is false", func(t *testing.T) {
		fake := cloudfake.New()
		fake.ServiceToken = ""
		e := scanned(t, fake)

		ok, err := e.ExchangeServiceToken(context.Background())
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("location is single use", func(t *testing.T) {
		fake := cloudfake.New()
		e := scanned(t, fake)

		ok, err := e.ExchangeServiceToken(context.Background())
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = e.ExchangeServiceToken(context.Background())
		require.ErrorIs(t, err, cloud.ErrHandshakeOrder)
		require.False(t, ok)
	})

	t.Run("before scan", func(t *testing.T) {
		fake := cloudfake.New()
		e := newTestEngine(t, fake)

		ok, err := e.ExchangeServiceToken(context.Background())
		require.ErrorIs(t, err, cloud.ErrHandshakeOrder)
		require.False(t, ok)
		require.Empty(t, fake.Requests())
	})
}

func TestLogin_ServiceTokenFailure(t *testing.T) {
	fake := cloudfake.New()
	fake.ServiceToken = ""
	e := newTestEngine(t, fake)

	var shown cloud.QRChallenge
	var image []byte
	err := e.Login(context.Background(), func(c cloud.QRChallenge, img []byte) {
		shown = c
		image = img
	})
	require.ErrorIs(t, err, cloud.ErrServiceToken)
	require.Equal(t, "http://login", shown.LoginURL)
	require.Equal(t, fake.QRImage, image)
	require.Equal(t, cloud.StateScanned, e.State())
}

func TestLogin_RestartDiscardsSession(t *testing.T) {
	fake := cloudfake.New()
	e := loggedInEngine(t, fake)

	_, err := e.RequestQRCode(context.Background())
	require.NoError(t, err)
	require.Equal(t, cloud.StateQRIssued, e.State())

	_, err = e.ListDevices(context.Background(), "sg")
	require.ErrorIs(t, err, cloud.ErrConfiguration)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
