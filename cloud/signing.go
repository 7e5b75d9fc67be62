package cloud

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	nonceRandomLength = 8
	nonceLength       = nonceRandomLength + 4

	rc4HashParam    = "rc4_hash__"
	signatureParam  = "signature"
	ssecurityParam  = "ssecurity"
	nonceParam      = "_nonce"
	millisPerMinute = 60000
)

// GenerateNonce returns base64(8 random bytes || uint32be(minutes since epoch)).
func GenerateNonce(entropy io.Reader, now time.Time) (string, error) {
	b := make([]byte, nonceLength)
	if _, err := io.ReadFull(entropy, b[:nonceRandomLength]); err != nil {
		return "", errors.Wrap(err, "read nonce entropy")
	}
	binary.BigEndian.PutUint32(b[nonceRandomLength:], uint32(now.UnixMilli()/millisPerMinute))
	return base64.StdEncoding.EncodeToString(b), nil
}

// SignedNonce derives the per-request key base64(sha256(ssecurity || nonce)).
func SignedNonce(ssecurity, nonce string) (string, error) {
	if ssecurity == "" {
		return "", errors.Wrap(ErrConfiguration, "ssecurity missing")
	}
	secret, err := base64.StdEncoding.DecodeString(ssecurity)
	if err != nil {
		return "", errors.Wrap(err, "decode ssecurity")
	}
	rawNonce, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil {
		return "", errors.Wrap(err, "decode nonce")
	}
	h := sha256.New()
	h.Write(secret)
	h.Write(rawNonce)
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// signaturePath mirrors the backend's view of the endpoint: everything between the
// first and second "com" in the URL, with "/app/" collapsed to "/".
func signaturePath(rawURL string) string {
	parts := strings.Split(rawURL, "com")
	if len(parts) < 2 {
		return ""
	}
	return strings.ReplaceAll(parts[1], "/app/", "/")
}

// SignaturePayload builds "METHOD&path&k1=v1&...&signedNonce" with params in order.
func SignaturePayload(rawURL, method, signedNonce string, params Params) string {
	parts := make([]string, 0, len(params)+3)
	parts = append(parts, strings.ToUpper(method), signaturePath(rawURL))
	for _, kv := range params {
		parts = append(parts, kv.Key+"="+kv.Value)
	}
	parts = append(parts, signedNonce)
	return strings.Join(parts, "&")
}

// GenerateSignature returns base64(sha1(SignaturePayload(...))).
func GenerateSignature(rawURL, method, signedNonce string, params Params) string {
	sum := sha1.Sum([]byte(SignaturePayload(rawURL, method, signedNonce, params)))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Sign returns a copy of params with rc4_hash__ appended, computed over the
// plaintext values.
func Sign(rawURL, method, signedNonce string, params Params) Params {
	out := params.Clone()
	return out.Set(rc4HashParam, GenerateSignature(rawURL, method, signedNonce, params))
}

// Encrypt returns a copy of params with every value RC4-encrypted independently
// under signedNonce. Keys and order are unchanged.
func Encrypt(signedNonce string, params Params) (Params, error) {
	out := params.Clone()
	for i := range out {
		enc, err := EncryptRC4(signedNonce, out[i].Value)
		if err != nil {
			return nil, errors.Wrapf(err, "encrypt param %q", out[i].Key)
		}
		out[i].Value = enc
	}
	return out, nil
}

// EncryptParams produces the final field set of an encrypted call: the plaintext
// signature is added as rc4_hash__, all values are encrypted, then a second signature
// over the ciphertext is attached together with ssecurity and the unsigned nonce.
func EncryptParams(rawURL, method, signedNonce, nonce, ssecurity string, params Params) (Params, error) {
	encrypted, err := Encrypt(signedNonce, Sign(rawURL, method, signedNonce, params))
	if err != nil {
		return nil, err
	}
	signature := GenerateSignature(rawURL, method, signedNonce, encrypted)
	encrypted = encrypted.Set(signatureParam, signature)
	encrypted = encrypted.Set(ssecurityParam, ssecurity)
	encrypted = encrypted.Set(nonceParam, nonce)
	return encrypted, nil
}
