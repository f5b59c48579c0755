package certs

import (
	"context"
	"crypto/x509"
	"errors"

	"github.com/digitorus/pades/internal/logging"
)

// UnableToParseAIACert is logged when AIA certificates cannot be retrieved.
const UnableToParseAIACert = "Unable to parse certificates coming from authority info access extension. Those won't be included into the certificate chain."

// MissingCertificatesClient completes signing chains with the certificates
// published at the caIssuers locations of each certificate.
type MissingCertificatesClient struct {
	Fetcher Fetcher
}

// NewMissingCertificatesClient returns a client fetching over HTTP.
func NewMissingCertificatesClient() *MissingCertificatesClient {
	return &MissingCertificatesClient{Fetcher: NewHTTPFetcher()}
}

// RetrieveMissingCertificates walks from chain[0] towards a self-signed
// certificate. The next chain entry is used when it issued the last
// certificate, otherwise the AIA certificates of the last certificate are
// inserted. On failure the certificates collected so far are returned
// followed by the unused chain entries.
func (c *MissingCertificatesClient) RetrieveMissingCertificates(ctx context.Context, chain []*x509.Certificate) []*x509.Certificate {
	if len(chain) == 0 {
		return nil
	}
	out := []*x509.Certificate{chain[0]}
	last := chain[0]
	i := 1
	for !IsSelfSigned(last) {
		if i < len(chain) && IsIssuer(chain[i], last) {
			out = append(out, chain[i])
			last = chain[i]
			i++
			continue
		}
		if len(last.IssuingCertificateURL) == 0 {
			break
		}
		fetched, err := c.fetch(ctx, last)
		if err != nil {
			logging.WithComponent("certs").WithError(err).
				WithField("subject", last.Subject.String()).
				Warn(UnableToParseAIACert)
			break
		}
		ordered := orderByIssuer(last, fetched)
		if len(ordered) == 0 || contains(out, ordered[0]) {
			break
		}
		out = append(out, ordered...)
		last = out[len(out)-1]
	}
	for _, rest := range chain[i:] {
		if !contains(out, rest) {
			out = append(out, rest)
		}
	}
	return out
}

func (c *MissingCertificatesClient) fetch(ctx context.Context, cert *x509.Certificate) ([]*x509.Certificate, error) {
	fetcher := c.Fetcher
	if fetcher == nil {
		fetcher = NewHTTPFetcher()
	}
	var errs []error
	for _, uri := range cert.IssuingCertificateURL {
		data, err := fetcher.Fetch(ctx, uri)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		certs, err := ParseCertificates(data)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return certs, nil
	}
	return nil, errors.Join(errs...)
}
