package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

const (
	loginURLEndpoint = "https://account.xiaomi.com/longPolling/loginUrl"
	loginCallback    = "https://sts.api.io.mi.com/sts"
	loginQS          = "%3Fsid%3Dxiaomiio%26_json%3Dtrue"
	loginSID         = "xiaomiio"
	qrSize           = "240"
	responseSentinel = "&&&START&&&"
	serviceTokenName = "serviceToken"
)

// State is the position of an Engine in the login handshake.
type State int

const (
	StateInit          State = iota // nothing requested yet
	StateQRIssued                   // QR challenge obtained, waiting for the scan
	StateScanned                    // userId, ssecurity and location known
	StateAuthenticated              // service token obtained
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateQRIssued:
		return "qr_issued"
	case StateScanned:
		return "scanned"
	case StateAuthenticated:
		return "authenticated"
	}
	return "unknown(" + strconv.Itoa(int(s)) + ")"
}

// session holds the credentials collected during the handshake.
type session struct {
	loginURL     string
	userID       ID
	ssecurity    string
	location     string // single use, cleared once the service token is obtained
	serviceToken string
}

func (s session) authenticated() bool {
	return !s.userID.IsZero() && s.ssecurity != "" && s.serviceToken != ""
}

// QRHandler receives the QR challenge and the downloaded image while Login waits for
// the scan.
type QRHandler func(challenge QRChallenge, image []byte)

// Login runs the complete handshake: QR challenge, image download, scan polling and
// service token exchange. onQR may be nil. The poll honours ctx; with a context that
// never ends Login waits for the scan indefinitely.
func (e *Engine) Login(ctx context.Context, onQR QRHandler) error {
	challenge, err := e.RequestQRCode(ctx)
	if err != nil {
		return err
	}
	image, err := e.DownloadQRImage(ctx, challenge.ImageURL)
	if err != nil {
		return err
	}
	if onQR != nil {
		onQR(challenge, image)
	}
	if err := e.WaitForScan(ctx, challenge.LongPollURL); err != nil {
		return err
	}
	ok, err := e.ExchangeServiceToken(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrServiceToken
	}
	return nil
}

// RequestQRCode fetches a new QR login challenge. Starting a new challenge discards
// any session collected so far.
func (e *Engine) RequestQRCode(ctx context.Context) (QRChallenge, error) {
	q := url.Values{}
	q.Set("_qrsize", qrSize)
	q.Set("qs", loginQS)
	q.Set("callback", loginCallback)
	q.Set("_hasLogo", "false")
	q.Set("sid", loginSID)
	q.Set("_locale", locale)
	q.Set("_dc", strconv.FormatInt(e.nowFunc().UnixMilli(), 10))

	endpoint := e.loginEndpoint + "?" + q.Encode()
	resp, body, err := e.get(ctx, endpoint, e.requestTimeout)
	if err != nil {
		return QRChallenge{}, errors.Wrap(err, "[RequestQRCode]")
	}
	if err := checkStatus(http.MethodGet, e.loginEndpoint, resp); err != nil {
		return QRChallenge{}, errors.Wrap(err, "[RequestQRCode]")
	}

	var payload struct {
		QR       string `json:"qr"`
		LP       string `json:"lp"`
		LoginURL string `json:"loginUrl"`
	}
	if err := json.Unmarshal(stripSentinel(body), &payload); err != nil {
		return QRChallenge{}, fmt.Errorf("[RequestQRCode] %w: %w", ErrProtocol, err)
	}

	e.session = session{loginURL: payload.LoginURL}
	e.state = StateInit
	if payload.QR == "" || payload.LP == "" {
		return QRChallenge{}, errors.Wrap(ErrProtocol, "[RequestQRCode] failed to obtain QR login information")
	}
	e.state = StateQRIssued
	e.logger.Debug().Str("state", e.state.String()).Msg("QR challenge issued")

	return QRChallenge{
		ImageURL:    payload.QR,
		LongPollURL: payload.LP,
		LoginURL:    payload.LoginURL,
	}, nil
}

// DownloadQRImage returns the raw QR image bytes.
func (e *Engine) DownloadQRImage(ctx context.Context, imageURL string) ([]byte, error) {
	resp, body, err := e.get(ctx, imageURL, e.requestTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "[DownloadQRImage]")
	}
	if err := checkStatus(http.MethodGet, imageURL, resp); err != nil {
		return nil, errors.Wrap(err, "[DownloadQRImage]")
	}
	return body, nil
}

// WaitForScan polls longPollURL until the server answers 200, then records userId,
// ssecurity and location. Failed attempts are retried until ctx ends; there is no
// retry cap.
func (e *Engine) WaitForScan(ctx context.Context, longPollURL string) error {
	if e.state != StateQRIssued {
		return errors.Wrapf(ErrHandshakeOrder, "[WaitForScan] state is %s", e.state)
	}

	var body []byte
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "[WaitForScan] polling stopped")
		}
		resp, b, err := e.get(ctx, longPollURL, e.pollAttemptTimeout)
		if err == nil && resp.StatusCode == http.StatusOK {
			body = b
			break
		}
		ev := e.logger.Debug().Int("attempt", attempt)
		if err != nil {
			ev = ev.Err(err)
		} else {
			ev = ev.Int("status", resp.StatusCode)
		}
		ev.Msg("QR code not scanned yet")

		if err := sleepCtx(ctx, e.pollInterval); err != nil {
			return errors.Wrap(err, "[WaitForScan] polling stopped")
		}
	}

	var payload struct {
		UserID    ID     `json:"userId"`
		SSecurity string `json:"ssecurity"`
		Location  string `json:"location"`
	}
	if err := json.Unmarshal(stripSentinel(body), &payload); err != nil {
		return fmt.Errorf("[WaitForScan] %w: %w", ErrProtocol, err)
	}
	switch {
	case payload.UserID.IsZero():
		return errors.Wrap(ErrProtocol, "[WaitForScan] userId missing")
	case payload.SSecurity == "":
		return errors.Wrap(ErrProtocol, "[WaitForScan] ssecurity missing")
	case payload.Location == "":
		return errors.Wrap(ErrProtocol, "[WaitForScan] location missing")
	}

	e.session.userID = payload.UserID
	e.session.ssecurity = payload.SSecurity
	e.session.location = payload.Location
	e.state = StateScanned
	e.logger.Info().Str("user_id", payload.UserID.String()).Msg("QR code scanned")
	return nil
}

// ExchangeServiceToken follows the location recorded by WaitForScan and stores the
// serviceToken cookie it returns. A non-200 answer or a missing cookie yields false
// without an error; the location stays available so the exchange can be retried.
func (e *Engine) ExchangeServiceToken(ctx context.Context) (bool, error) {
	if e.state != StateScanned || e.session.location == "" {
		return false, errors.Wrapf(ErrHandshakeOrder, "[ExchangeServiceToken] state is %s", e.state)
	}

	location := e.session.location
	resp, _, err := e.get(ctx, location, e.requestTimeout)
	if err != nil {
		return false, errors.Wrap(err, "[ExchangeServiceToken]")
	}
	if resp.StatusCode != http.StatusOK {
		e.logger.Warn().Int("status", resp.StatusCode).Msg("service token exchange rejected")
		return false, nil
	}

	token := e.serviceTokenFrom(resp, location)
	if token == "" {
		e.logger.Warn().Msg("service token cookie missing")
		return false, nil
	}

	e.session.serviceToken = token
	e.session.location = ""
	e.state = StateAuthenticated
	e.logger.Info().Msg("cloud session authenticated")
	return true, nil
}

func (e *Engine) serviceTokenFrom(resp *http.Response, location string) string {
	for _, c := range resp.Cookies() {
		if c.Name == serviceTokenName && c.Value != "" {
			return c.Value
		}
	}
	if e.client.Jar == nil {
		return ""
	}
	u, err := url.Parse(location)
	if err != nil {
		return ""
	}
	for _, c := range e.client.Jar.Cookies(u) {
		if c.Name == serviceTokenName && c.Value != "" {
			return c.Value
		}
	}
	return ""
}

// get issues a GET bounded by timeout and returns the fully read body. Non-2xx
// statuses are not errors here.
func (e *Engine) get(ctx context.Context, rawURL string, timeout time.Duration) (*http.Response, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "http.NewRequest")
	}
	return do(e.client, req)
}

func do(client *http.Client, req *http.Request) (*http.Response, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: %w: %w", req.Method, req.URL.Redacted(), ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s response: %w: %w", req.URL.Redacted(), ErrTransport, err)
	}
	return resp, body, nil
}

func checkStatus(method, rawURL string, resp *http.Response) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: method, URL: rawURL, StatusCode: resp.StatusCode}
	}
	return nil
}

func stripSentinel(body []byte) []byte {
	return bytes.ReplaceAll(body, []byte(responseSentinel), nil)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
