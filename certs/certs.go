// Package certs locates issuer certificates in trust stores, known
// certificates and Authority Information Access locations.
package certs

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"strings"

	"github.com/digitorus/pades/internal/httpfetch"
	"github.com/digitorus/pkcs7"
)

// ErrNoCertificates is returned when a payload holds no certificate.
var ErrNoCertificates = errors.New("no certificates found")

// Fetcher downloads the payload behind an AIA caIssuers URI.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, uri string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, uri string) ([]byte, error) {
	return f(ctx, uri)
}

// HTTPFetcher fetches certificates over HTTP(S).
type HTTPFetcher struct {
	*httpfetch.Fetcher
}

// NewHTTPFetcher returns a fetcher with the default timeout and no rate limit.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{Fetcher: httpfetch.New(0, 0)}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		return nil, errors.New("unsupported AIA location: " + uri)
	}
	var hf *httpfetch.Fetcher
	if f != nil {
		hf = f.Fetcher
	}
	return hf.Get(ctx, "aia", uri)
}

// ParseCertificates accepts PEM, concatenated DER and degenerate PKCS#7
// (.p7b/.p7c) payloads.
func ParseCertificates(data []byte) ([]*x509.Certificate, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrNoCertificates
	}

	if bytes.HasPrefix(data, []byte("-----BEGIN")) {
		var out []*x509.Certificate
		for {
			var block *pem.Block
			block, data = pem.Decode(data)
			if block == nil {
				break
			}
			switch block.Type {
			case "CERTIFICATE":
				cert, err := x509.ParseCertificate(block.Bytes)
				if err != nil {
					return nil, err
				}
				out = append(out, cert)
			case "PKCS7":
				p7, err := pkcs7.Parse(block.Bytes)
				if err != nil {
					return nil, err
				}
				out = append(out, p7.Certificates...)
			}
		}
		if len(out) == 0 {
			return nil, ErrNoCertificates
		}
		return out, nil
	}

	if certs, err := x509.ParseCertificates(data); err == nil {
		if len(certs) == 0 {
			return nil, ErrNoCertificates
		}
		return certs, nil
	}
	p7, err := pkcs7.Parse(data)
	if err != nil {
		return nil, err
	}
	if len(p7.Certificates) == 0 {
		return nil, ErrNoCertificates
	}
	return p7.Certificates, nil
}

// IsSelfSigned reports whether cert names itself as issuer and its own key
// verifies the signature.
func IsSelfSigned(cert *x509.Certificate) bool {
	if cert == nil || !bytes.Equal(cert.RawIssuer, cert.RawSubject) {
		return false
	}
	return cert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature) == nil
}

// IsIssuer reports whether candidate's subject and key match cert's issuer.
// CA constraints are not checked.
func IsIssuer(candidate, cert *x509.Certificate) bool {
	if candidate == nil || cert == nil || !bytes.Equal(candidate.RawSubject, cert.RawIssuer) {
		return false
	}
	return candidate.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature) == nil
}

// orderByIssuer returns the certificates of pool that chain up from start,
// closest issuer first. Unrelated certificates are dropped.
func orderByIssuer(start *x509.Certificate, pool []*x509.Certificate) []*x509.Certificate {
	var out []*x509.Certificate
	used := make([]bool, len(pool))
	last := start
	for {
		found := -1
		for i, c := range pool {
			if !used[i] && IsIssuer(c, last) && !c.Equal(last) {
				found = i
				break
			}
		}
		if found < 0 {
			return out
		}
		used[found] = true
		last = pool[found]
		out = append(out, last)
		if IsSelfSigned(last) {
			return out
		}
	}
}

func contains(list []*x509.Certificate, cert *x509.Certificate) bool {
	for _, c := range list {
		if c.Equal(cert) {
			return true
		}
	}
	return false
}
