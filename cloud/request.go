package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ExecuteEncrypted signs and encrypts params, POSTs them to rawURL and returns the
// decrypted JSON body. The session must be authenticated.
func (e *Engine) ExecuteEncrypted(ctx context.Context, rawURL string, params Params) (json.RawMessage, error) {
	if !e.session.authenticated() {
		return nil, errors.Wrapf(ErrConfiguration, "[ExecuteEncrypted] state is %s", e.state)
	}

	nonce, err := GenerateNonce(e.entropy, e.nowFunc())
	if err != nil {
		return nil, errors.Wrap(err, "[ExecuteEncrypted]")
	}
	signedNonce, err := SignedNonce(e.session.ssecurity, nonce)
	if err != nil {
		return nil, errors.Wrap(err, "[ExecuteEncrypted]")
	}
	fields, err := EncryptParams(rawURL, http.MethodPost, signedNonce, nonce, e.session.ssecurity, params)
	if err != nil {
		return nil, errors.Wrap(err, "[ExecuteEncrypted]")
	}

	requestID := uuid.New().String()
	logger := e.logger.With().Str("request_id", requestID).Str("url", rawURL).Logger()

	ctx, cancel := context.WithTimeout(ctx, e.requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL+"?"+fields.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "[ExecuteEncrypted] http.NewRequest")
	}
	e.decorate(req)

	logger.Debug().Msg("encrypted call")
	resp, body, err := do(e.apiClient, req)
	if err != nil {
		return nil, errors.Wrap(err, "[ExecuteEncrypted]")
	}
	if err := checkStatus(http.MethodPost, rawURL, resp); err != nil {
		logger.Warn().Int("status", resp.StatusCode).Msg("encrypted call failed")
		return nil, errors.Wrap(err, "[ExecuteEncrypted]")
	}

	// The response is keyed on the nonce this request carried.
	sentNonce, _ := fields.Get(nonceParam)
	responseKey, err := SignedNonce(e.session.ssecurity, sentNonce)
	if err != nil {
		return nil, errors.Wrap(err, "[ExecuteEncrypted]")
	}
	plain, err := DecryptRC4(responseKey, strings.TrimSpace(string(body)))
	if err != nil {
		return nil, fmt.Errorf("[ExecuteEncrypted] %w: %w", ErrDecryption, err)
	}
	plain = bytes.TrimSpace(plain)
	if !json.Valid(plain) {
		return nil, errors.Wrap(ErrDecryption, "[ExecuteEncrypted]")
	}
	logger.Debug().Int("status", resp.StatusCode).Int("bytes", len(plain)).Msg("encrypted call done")
	return json.RawMessage(plain), nil
}

func (e *Engine) decorate(req *http.Request) {
	req.Header.Set("User-Agent", e.identity.Agent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("x-xiaomi-protocal-flag-cli", "PROTOCAL-HTTP2")
	req.Header.Set("MIOT-ENCRYPT-ALGORITHM", "ENCRYPT-RC4")
	req.AddCookie(&http.Cookie{Name: "userId", Value: e.session.userID.String()})
	req.AddCookie(&http.Cookie{Name: "serviceToken", Value: e.session.serviceToken})
	req.AddCookie(&http.Cookie{Name: "locale", Value: locale})
}
