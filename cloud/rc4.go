package cloud

import (
	"crypto/rc4"
	"encoding/base64"

	"github.com/pkg/errors"
)

// rc4Drop is the amount of keystream the backend discards before real payload bytes.
const rc4Drop = 1024

func newDroppedRC4(key string) (*rc4.Cipher, error) {
	rawKey, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, errors.Wrap(err, "decode rc4 key")
	}
	c, err := rc4.NewCipher(rawKey)
	if err != nil {
		return nil, errors.Wrap(err, "rc4.NewCipher")
	}
	warmup := make([]byte, rc4Drop)
	c.XORKeyStream(warmup, warmup)
	return c, nil
}

// EncryptRC4 encrypts payload with the base64 key and returns base64 ciphertext.
func EncryptRC4(key, payload string) (string, error) {
	c, err := newDroppedRC4(key)
	if err != nil {
		return "", err
	}
	out := []byte(payload)
	c.XORKeyStream(out, out)
	return base64.StdEncoding.EncodeToString(out), nil
}

// DecryptRC4 decrypts base64 ciphertext with the base64 key.
func DecryptRC4(key, payload string) ([]byte, error) {
	c, err := newDroppedRC4(key)
	if err != nil {
		return nil, err
	}
	out, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, errors.Wrap(err, "decode rc4 payload")
	}
	c.XORKeyStream(out, out)
	return out, nil
}
