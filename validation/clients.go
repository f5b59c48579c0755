package validation

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"sync"

	"github.com/digitorus/pades/revocation"
)

var errNoStoredData = errors.New("no stored revocation data for certificate")

// OCSPResponseLister is implemented by OCSP clients that hold several
// responses. RevocationDataValidator uses every response they return.
type OCSPResponseLister interface {
	ListEncoded(cert *x509.Certificate) [][]byte
}

// ValidationOCSPClient serves OCSP responses collected from a document, such
// as its DSS or the revocation attribute of a CMS container.
type ValidationOCSPClient struct {
	mu        sync.RWMutex
	responses [][]byte
}

// AddResponse stores a DER encoded OCSP response.
func (c *ValidationOCSPClient) AddResponse(raw []byte) *ValidationOCSPClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.responses {
		if bytes.Equal(r, raw) {
			return c
		}
	}
	c.responses = append(c.responses, raw)
	return c
}

// ListEncoded returns every stored response concerning cert.
func (c *ValidationOCSPClient) ListEncoded(cert *x509.Certificate) [][]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out [][]byte
	for _, raw := range c.responses {
		if _, err := revocation.ParseOCSP(raw, cert); err == nil {
			out = append(out, raw)
		}
	}
	return out
}

// GetEncoded returns the first stored response concerning cert.
func (c *ValidationOCSPClient) GetEncoded(_ context.Context, cert, _ *x509.Certificate, _ string) ([]byte, error) {
	if list := c.ListEncoded(cert); len(list) > 0 {
		return list[0], nil
	}
	return nil, errNoStoredData
}

// ValidationCRLClient serves CRLs collected from a document.
type ValidationCRLClient struct {
	mu   sync.RWMutex
	crls [][]byte
}

// AddCRL stores a DER encoded CRL. Unparsable data is kept so that the
// validator can report it.
func (c *ValidationCRLClient) AddCRL(raw []byte) *ValidationCRLClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.crls {
		if bytes.Equal(r, raw) {
			return c
		}
	}
	c.crls = append(c.crls, raw)
	return c
}

// GetEncoded returns the stored CRLs issued under the name of cert's issuer,
// and those that cannot be parsed.
func (c *ValidationCRLClient) GetEncoded(_ context.Context, cert *x509.Certificate, _ string) ([][]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out [][]byte
	for _, raw := range c.crls {
		crl, err := x509.ParseRevocationList(raw)
		if err != nil || cert == nil || bytes.Equal(crl.RawIssuer, cert.RawIssuer) {
			out = append(out, raw)
		}
	}
	return out, nil
}
