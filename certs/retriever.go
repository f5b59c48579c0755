package certs

import (
	"bytes"
	"context"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"sync"

	"github.com/digitorus/pades/internal/logging"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ocsp"
)

// IssuingCertificateRetriever finds issuers among trusted certificates, known
// certificates and the AIA locations of a certificate. It is safe for
// concurrent use.
type IssuingCertificateRetriever struct {
	Fetcher Fetcher

	mu      sync.RWMutex
	trusted []*x509.Certificate
	known   []*x509.Certificate
}

// NewIssuingCertificateRetriever returns a retriever fetching AIA over HTTP.
func NewIssuingCertificateRetriever() *IssuingCertificateRetriever {
	return &IssuingCertificateRetriever{Fetcher: NewHTTPFetcher()}
}

// SetTrustedCertificates replaces the trust store.
func (r *IssuingCertificateRetriever) SetTrustedCertificates(certs []*x509.Certificate) *IssuingCertificateRetriever {
	r.mu.Lock()
	r.trusted = nil
	r.mu.Unlock()
	return r.AddTrustedCertificates(certs)
}

// AddTrustedCertificates adds certificates to the trust store.
func (r *IssuingCertificateRetriever) AddTrustedCertificates(certs []*x509.Certificate) *IssuingCertificateRetriever {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range certs {
		if c != nil && !contains(r.trusted, c) {
			r.trusted = append(r.trusted, c)
		}
	}
	return r
}

// AddKnownCertificates adds untrusted certificates that may be used to
// build chains, such as the certificates of a CMS container or a DSS.
func (r *IssuingCertificateRetriever) AddKnownCertificates(certs []*x509.Certificate) *IssuingCertificateRetriever {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range certs {
		if c != nil && !contains(r.known, c) {
			r.known = append(r.known, c)
		}
	}
	return r
}

// TrustedCertificates returns a copy of the trust store.
func (r *IssuingCertificateRetriever) TrustedCertificates() []*x509.Certificate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*x509.Certificate(nil), r.trusted...)
}

// KnownCertificates returns a copy of the known certificates.
func (r *IssuingCertificateRetriever) KnownCertificates() []*x509.Certificate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*x509.Certificate(nil), r.known...)
}

// IsCertificateTrusted reports whether cert is in the trust store.
func (r *IssuingCertificateRetriever) IsCertificateTrusted(cert *x509.Certificate) bool {
	if r == nil || cert == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return contains(r.trusted, cert)
}

func (r *IssuingCertificateRetriever) candidates() []*x509.Certificate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*x509.Certificate, 0, len(r.trusted)+len(r.known))
	out = append(out, r.trusted...)
	return append(out, r.known...)
}

// RetrieveIssuerCertificate returns the issuer of cert, or nil when it is
// self-signed or no issuer can be found. A certificate whose name matches
// but whose key does not verify cert is returned when nothing better exists,
// so callers can report the signature failure.
func (r *IssuingCertificateRetriever) RetrieveIssuerCertificate(ctx context.Context, cert *x509.Certificate) *x509.Certificate {
	if r == nil || cert == nil || IsSelfSigned(cert) {
		return nil
	}

	var nameMatch *x509.Certificate
	for _, c := range r.candidates() {
		if !bytes.Equal(c.RawSubject, cert.RawIssuer) || c.Equal(cert) {
			continue
		}
		if IsIssuer(c, cert) {
			return c
		}
		if nameMatch == nil {
			nameMatch = c
		}
	}

	if issuer := r.fetchIssuer(ctx, cert); issuer != nil {
		return issuer
	}
	return nameMatch
}

func (r *IssuingCertificateRetriever) fetchIssuer(ctx context.Context, cert *x509.Certificate) *x509.Certificate {
	if r.Fetcher == nil {
		return nil
	}
	log := logging.WithComponent("certs").WithField("subject", cert.Subject.String())
	for _, uri := range cert.IssuingCertificateURL {
		data, err := r.Fetcher.Fetch(ctx, uri)
		if err != nil {
			log.WithError(err).WithField("url", uri).Warn("unable to fetch issuer certificate")
			continue
		}
		fetched, err := ParseCertificates(data)
		if err != nil {
			log.WithError(err).WithField("url", uri).Warn("unable to parse issuer certificate")
			continue
		}
		r.AddKnownCertificates(fetched)
		for _, c := range fetched {
			if IsIssuer(c, cert) {
				return c
			}
		}
	}
	return nil
}

// RetrieveMissingCertificates completes chain from chain[0] up to a
// self-signed certificate using the given chain, the stores and AIA. When the
// chain cannot be completed the certificates collected so far are returned
// followed by the remaining entries of chain.
func (r *IssuingCertificateRetriever) RetrieveMissingCertificates(ctx context.Context, chain []*x509.Certificate) []*x509.Certificate {
	if len(chain) == 0 {
		return nil
	}
	r.AddKnownCertificates(chain[1:])

	out := []*x509.Certificate{chain[0]}
	for last := chain[0]; !IsSelfSigned(last); {
		issuer := r.RetrieveIssuerCertificate(ctx, last)
		if issuer == nil || !IsIssuer(issuer, last) || contains(out, issuer) {
			break
		}
		out = append(out, issuer)
		last = issuer
	}
	for _, c := range chain[1:] {
		if !contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}

// RetrieveOCSPResponderCertificate returns the certificate that signed resp:
// the embedded responder certificate, or a trusted or known certificate
// matching the responder name or key hash.
func (r *IssuingCertificateRetriever) RetrieveOCSPResponderCertificate(resp *ocsp.Response) *x509.Certificate {
	if resp == nil {
		return nil
	}
	if resp.Certificate != nil {
		return resp.Certificate
	}
	if r == nil {
		return nil
	}

	var match *x509.Certificate
	for _, c := range r.candidates() {
		if !responderMatches(resp, c) {
			continue
		}
		if resp.CheckSignatureFrom(c) == nil {
			return c
		}
		if match == nil {
			match = c
		}
	}
	return match
}

func responderMatches(resp *ocsp.Response, cert *x509.Certificate) bool {
	if len(resp.RawResponderName) > 0 {
		return bytes.Equal(resp.RawResponderName, cert.RawSubject)
	}
	if len(resp.ResponderKeyHash) > 0 {
		var spki struct {
			Algorithm pkix.AlgorithmIdentifier
			PublicKey asn1.BitString
		}
		if _, err := asn1.Unmarshal(cert.RawSubjectPublicKeyInfo, &spki); err != nil {
			return false
		}
		h := sha1.Sum(spki.PublicKey.RightAlign())
		return bytes.Equal(h[:], resp.ResponderKeyHash)
	}
	return false
}

// RetrieveCRLIssuerCertificate returns the certificate named as issuer of crl,
// preferring one whose key verifies the CRL signature.
func (r *IssuingCertificateRetriever) RetrieveCRLIssuerCertificate(crl *x509.RevocationList) *x509.Certificate {
	if r == nil || crl == nil {
		return nil
	}
	var match *x509.Certificate
	for _, c := range r.candidates() {
		if !bytes.Equal(c.RawSubject, crl.RawIssuer) {
			continue
		}
		if c.CheckSignature(crl.SignatureAlgorithm, crl.RawTBSRevocationList, crl.Signature) == nil {
			return c
		}
		if match == nil {
			match = c
		}
	}
	if match == nil {
		logging.WithComponent("certs").WithFields(logrus.Fields{
			"issuer": crl.Issuer.String(),
		}).Debug("no certificate found for CRL issuer")
	}
	return match
}
