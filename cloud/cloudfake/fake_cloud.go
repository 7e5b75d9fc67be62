// Package cloudfake is an in-memory stand-in for the Xiaomi login and API hosts. It
// plugs into an http.Client as its RoundTripper, so the engine's fixed production
// URLs are served without network access.
package cloudfake

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/jrsteele09/mihome-cloud/cloud"
)

const (
	LoginHost   = "account.xiaomi.com"
	ImageURL    = "http://img"
	PollURL     = "http://poll"
	LoginURL    = "http://login"
	LocationURL = "http://loc"
	sentinel    = "&&&START&&&"
)

// Request is one call the fake received. For encrypted API calls Decrypted holds the
// plaintext params, in the order they were sent.
type Request struct {
	Method    string
	URL       string
	Header    http.Header
	Cookies   map[string]string
	Params    cloud.Params
	Decrypted cloud.Params
}

var _ http.RoundTripper = (*FakeCloud)(nil)

// FakeCloud serves the QR login flow and the two home/device endpoints.
type FakeCloud struct {
	LoginBody    string // raw step 1 body; defaults to a valid challenge
	QRImage      []byte
	PollFailures int    // 404 answers before the scan succeeds
	ScanBody     string // raw step 3 body; defaults to UserID/SSecurity/location
	UserID       string
	SSecurity    string
	ServiceToken string // empty means the location answer carries no cookie
	TokenStatus  int    // status of the location answer, 200 by default
	HomeList     string // JSON array for result.homelist
	DeviceInfo   string // JSON array for result.device_info
	APIStatus    int    // status of API answers, 200 by default

	mu       sync.Mutex
	requests []Request
	polls    int
}

// New returns a fake holding the values used throughout the tests.
func New() *FakeCloud {
	return &FakeCloud{
		QRImage:      []byte("\x89PNG-fake"),
		PollFailures: 2,
		UserID:       "42",
		SSecurity:    "c3NlY3VyaXR5",
		ServiceToken: "abc123",
		HomeList:     `[{"id":"1001","name":"Home"}]`,
		DeviceInfo:   `[{"did":"123","name":"Air Purifier","model":"zhimi.airp.mb5","localip":"192.168.1.20","token":"00112233445566778899aabbccddeeff","isOnline":true}]`,
	}
}

// Client returns an http.Client routed through the fake.
func (f *FakeCloud) Client() *http.Client {
	return &http.Client{Transport: f}
}

// Requests returns a copy of the calls received so far.
func (f *FakeCloud) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Request, len(f.requests))
	copy(out, f.requests)
	return out
}

// Polls returns how many times the long-poll URL was hit.
func (f *FakeCloud) Polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func (f *FakeCloud) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
	rec := Request{
		Method:  req.Method,
		URL:     req.URL.String(),
		Header:  req.Header.Clone(),
		Cookies: map[string]string{},
		Params:  parseOrderedQuery(req.URL.RawQuery),
	}
	for _, c := range req.Cookies() {
		rec.Cookies[c.Name] = c.Value
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var resp *http.Response
	switch {
	case req.URL.Host == LoginHost && req.URL.Path == "/longPolling/loginUrl":
		body := f.LoginBody
		if body == "" {
			body = fmt.Sprintf(`{"qr":%q,"lp":%q,"loginUrl":%q}`, ImageURL, PollURL, LoginURL)
		}
		resp = respond(req, http.StatusOK, sentinel+body)
	case req.URL.String() == ImageURL:
		resp = respond(req, http.StatusOK, string(f.QRImage))
	case req.URL.String() == PollURL:
		f.polls++
		if f.polls <= f.PollFailures {
			resp = respond(req, http.StatusNotFound, "")
			break
		}
		body := f.ScanBody
		if body == "" {
			body = fmt.Sprintf(`{"userId":%q,"ssecurity":%q,"location":%q}`, f.UserID, f.SSecurity, LocationURL)
		}
		resp = respond(req, http.StatusOK, sentinel+body)
	case req.URL.String() == LocationURL:
		status := f.TokenStatus
		if status == 0 {
			status = http.StatusOK
		}
		resp = respond(req, status, "ok")
		if f.ServiceToken != "" {
			resp.Header.Add("Set-Cookie", (&http.Cookie{Name: "serviceToken", Value: f.ServiceToken, Path: "/"}).String())
		}
	case strings.HasSuffix(req.URL.Host, "api.io.mi.com"):
		resp = f.serveAPI(req, &rec)
	default:
		resp = respond(req, http.StatusNotFound, "")
	}

	f.requests = append(f.requests, rec)
	return resp, nil
}

// serveAPI checks both signatures of an encrypted call and answers with an
// encrypted body. Verification failures are answered with 403.
func (f *FakeCloud) serveAPI(req *http.Request, rec *Request) *http.Response {
	if f.APIStatus != 0 && f.APIStatus != http.StatusOK {
		return respond(req, f.APIStatus, "")
	}

	nonce, _ := rec.Params.Get("_nonce")
	signature, _ := rec.Params.Get("signature")
	signedNonce, err := cloud.SignedNonce(f.SSecurity, nonce)
	if err != nil {
		return respond(req, http.StatusForbidden, err.Error())
	}

	endpoint := req.URL.Scheme + "://" + req.URL.Host + req.URL.Path
	var encrypted cloud.Params
	for _, kv := range rec.Params {
		switch kv.Key {
		case "signature", "ssecurity", "_nonce":
			continue
		}
		encrypted = append(encrypted, kv)
	}
	if cloud.GenerateSignature(endpoint, req.Method, signedNonce, encrypted) != signature {
		return respond(req, http.StatusForbidden, "bad signature")
	}

	var plain cloud.Params
	rc4Hash := ""
	for _, kv := range encrypted {
		v, err := cloud.DecryptRC4(signedNonce, kv.Value)
		if err != nil {
			return respond(req, http.StatusForbidden, err.Error())
		}
		if kv.Key == "rc4_hash__" {
			rc4Hash = string(v)
			continue
		}
		plain = append(plain, cloud.Param{Key: kv.Key, Value: string(v)})
	}
	if cloud.GenerateSignature(endpoint, req.Method, signedNonce, plain) != rc4Hash {
		return respond(req, http.StatusForbidden, "bad rc4_hash__")
	}
	rec.Decrypted = plain

	var result string
	switch {
	case strings.HasSuffix(req.URL.Path, "/v2/homeroom/gethome"):
		result = fmt.Sprintf(`{"code":0,"result":{"homelist":%s}}`, orNull(f.HomeList))
	case strings.HasSuffix(req.URL.Path, "/v2/home/home_device_list"):
		result = fmt.Sprintf(`{"code":0,"result":{"device_info":%s}}`, orNull(f.DeviceInfo))
	default:
		return respond(req, http.StatusNotFound, "")
	}
	if !json.Valid([]byte(result)) {
		return respond(req, http.StatusInternalServerError, "fake misconfigured")
	}
	body, err := cloud.EncryptRC4(signedNonce, result)
	if err != nil {
		return respond(req, http.StatusInternalServerError, err.Error())
	}
	return respond(req, http.StatusOK, body)
}

func orNull(s string) string {
	if s == "" {
		return "null"
	}
	return s
}

func respond(req *http.Request, status int, body string) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{},
		Body:          io.NopCloser(bytes.NewBufferString(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// parseOrderedQuery decodes a raw query string without losing parameter order.
func parseOrderedQuery(raw string) cloud.Params {
	var out cloud.Params
	if raw == "" {
		return out
	}
	for _, pair := range strings.Split(raw, "&") {
		k, v, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			key = k
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			value = v
		}
		out = append(out, cloud.Param{Key: key, Value: value})
	}
	return out
}
