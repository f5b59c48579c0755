package validation

import (
	"context"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/digitorus/pades/certs"
	"github.com/digitorus/pades/report"
	"github.com/digitorus/pades/revocation"
	"golang.org/x/crypto/ocsp"
)

// OCSPValidator checks a single OCSP response about a certificate.
type OCSPValidator struct {
	retriever *certs.IssuingCertificateRetriever
	chain     *CertificateChainValidator
	freshness time.Duration
}

func NewOCSPValidator(retriever *certs.IssuingCertificateRetriever) *OCSPValidator {
	return &OCSPValidator{retriever: retriever, freshness: DefaultFreshness}
}

// SetFreshness sets how old thisUpdate may be relative to the validation
// date. A negative value requires thisUpdate to lie after the date.
func (v *OCSPValidator) SetFreshness(d time.Duration) *OCSPValidator {
	v.freshness = d
	return v
}

// SetCertificateChainValidator sets the validator used for responder
// certificates.
func (v *OCSPValidator) SetCertificateChainValidator(c *CertificateChainValidator) *OCSPValidator {
	v.chain = c
	return v
}

func (v *OCSPValidator) chainValidator() *CertificateChainValidator {
	if v.chain == nil {
		v.chain = NewCertificateChainValidator(v.retriever)
	}
	return v.chain
}

// Validate records in r whether resp proves that cert was not revoked at date.
func (v *OCSPValidator) Validate(ctx context.Context, r *report.ValidationReport, cert *x509.Certificate, resp *revocation.OCSPResponse, date time.Time) {
	if certs.IsSelfSigned(cert) {
		r.AddReportItem(report.NewItem(cert, OCSPCheck, SelfSignedCertificate, report.Info))
		return
	}

	issuer := v.retriever.RetrieveIssuerCertificate(ctx, cert)
	if issuer == nil {
		r.AddReportItem(report.NewItem(cert, OCSPCheck, UnableToRetrieveIssuer, report.Indeterminate))
		return
	}
	if !resp.IssuedBy(issuer) {
		r.AddReportItem(report.NewItem(cert, OCSPCheck, IssuersDoNotMatch, report.Indeterminate))
		return
	}

	if resp.ThisUpdate.Before(date.Add(-v.freshness)) {
		r.AddReportItem(report.NewItem(cert, OCSPCheck,
			fmt.Sprintf(OCSPFreshnessCheck, formatDate(resp.ThisUpdate), formatDate(date), v.freshness),
			report.Indeterminate))
		return
	}
	if !resp.NextUpdate.IsZero() && resp.NextUpdate.Before(date) {
		r.AddReportItem(report.NewItem(cert, OCSPCheck,
			fmt.Sprintf(OCSPIsNoLongerValid, formatDate(date), formatDate(resp.NextUpdate)),
			report.Indeterminate))
		return
	}
	if cert.NotAfter.Before(date) && (resp.ArchiveCutoff.IsZero() || cert.NotAfter.Before(resp.ArchiveCutoff)) {
		r.AddReportItem(report.NewItem(cert, OCSPCheck,
			fmt.Sprintf(CertIsExpired, formatDate(cert.NotAfter)), report.Indeterminate))
		return
	}

	switch {
	case resp.Status == ocsp.Good:
		v.verifyResponder(ctx, r, resp, issuer)
	case resp.Status == ocsp.Revoked && resp.RevokedAt.After(date):
		r.AddReportItem(report.NewItem(cert, OCSPCheck,
			fmt.Sprintf(ValidCertificateRevoked, formatDate(resp.RevokedAt)), report.Info))
		v.verifyResponder(ctx, r, resp, issuer)
	case resp.Status == ocsp.Revoked:
		r.AddReportItem(report.NewItem(cert, OCSPCheck, CertIsRevoked, report.Invalid))
	default:
		r.AddReportItem(report.NewItem(cert, OCSPCheck, CertStatusIsUnknown, report.Indeterminate))
	}
}

// verifyResponder checks the response signature and validates the chain of
// the certificate that produced it at producedAt.
func (v *OCSPValidator) verifyResponder(ctx context.Context, r *report.ValidationReport, resp *revocation.OCSPResponse, issuer *x509.Certificate) {
	responder := v.retriever.RetrieveOCSPResponderCertificate(resp.Response)
	if responder == nil && resp.CheckSignatureFrom(issuer) == nil {
		responder = issuer
	}
	if responder == nil || resp.CheckSignatureFrom(responder) != nil {
		r.AddReportItem(report.NewItem(responder, OCSPCheck, OCSPCouldNotBeVerified, report.Indeterminate))
		return
	}

	if !responder.Equal(issuer) && !certs.IsIssuer(issuer, responder) && !v.retriever.IsCertificateTrusted(responder) {
		r.AddReportItem(report.NewItem(responder, OCSPCheck, InvalidOCSP, report.Indeterminate))
		return
	}
	v.chainValidator().Validate(ctx, r, responder, resp.ProducedAt)
}
