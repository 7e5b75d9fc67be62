package cloud

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"net/http/cookiejar"
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/x509roots/fallback/bundle"
)

// LoadCertPool returns the trust store used for cloud TLS. A non-empty caBundle
// names a PEM file shipped with the application and is used exclusively; otherwise
// the NSS roots compiled into the binary are used. The host's certificate store is
// never consulted.
func LoadCertPool(caBundle string) (*x509.CertPool, error) {
	if caBundle == "" {
		return bundledCertPool()
	}
	pem, err := os.ReadFile(caBundle)
	if err != nil {
		return nil, errors.Wrapf(err, "read ca bundle %s", caBundle)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.Errorf("ca bundle %s holds no certificates", caBundle)
	}
	return pool, nil
}

func bundledCertPool() (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	n := 0
	for root := range bundle.Roots() {
		cert, err := x509.ParseCertificate(root.Certificate)
		if err != nil {
			return nil, errors.Wrap(err, "parse bundled root")
		}
		if root.Constraint == nil {
			pool.AddCert(cert)
		} else {
			pool.AddCertWithConstraint(cert, root.Constraint)
		}
		n++
	}
	if n == 0 {
		return nil, errors.New("bundled root store is empty")
	}
	return pool, nil
}

// NewHTTPClient builds the client an Engine reuses for every call. It keeps a cookie
// jar so cookies set during the QR flow follow the login across hosts.
func NewHTTPClient(caBundle string) (*http.Client, error) {
	pool, err := LoadCertPool(caBundle)
	if err != nil {
		return nil, err
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Wrap(err, "cookiejar.New")
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}
	transport.IdleConnTimeout = 90 * time.Second
	return &http.Client{Transport: transport, Jar: jar}, nil
}
