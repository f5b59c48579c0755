package validation

import (
	"context"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/digitorus/pades/certs"
	"github.com/digitorus/pades/report"
)

// CertificateChainValidator validates a certificate and its issuers up to a
// trusted certificate, including the revocation status of each.
type CertificateChainValidator struct {
	retriever  *certs.IssuingCertificateRetriever
	revocation *RevocationDataValidator
}

// NewCertificateChainValidator returns a chain validator with a default
// RevocationDataValidator.
func NewCertificateChainValidator(retriever *certs.IssuingCertificateRetriever) *CertificateChainValidator {
	return NewRevocationDataValidator(retriever).CertificateChainValidator()
}

// RevocationDataValidator returns the validator used for revocation checks.
func (v *CertificateChainValidator) RevocationDataValidator() *RevocationDataValidator {
	return v.revocation
}

// IssuingCertificateRetriever returns the retriever holding the trust store.
func (v *CertificateChainValidator) IssuingCertificateRetriever() *certs.IssuingCertificateRetriever {
	return v.retriever
}

type inProgressKey struct{}

// inProgress reports whether cert is already being validated further up
// the call stack, and returns a context recording it otherwise.
func inProgress(ctx context.Context, cert *x509.Certificate) (context.Context, bool) {
	stack, _ := ctx.Value(inProgressKey{}).([]*x509.Certificate)
	for _, c := range stack {
		if c.Equal(cert) {
			return ctx, true
		}
	}
	next := make([]*x509.Certificate, len(stack), len(stack)+1)
	copy(next, stack)
	return context.WithValue(ctx, inProgressKey{}, append(next, cert)), false
}

// Validate records in r whether cert chains to a trusted certificate and is
// unrevoked at date.
func (v *CertificateChainValidator) Validate(ctx context.Context, r *report.ValidationReport, cert *x509.Certificate, date time.Time) {
	if cert == nil {
		return
	}
	if v.retriever.IsCertificateTrusted(cert) {
		r.AddReportItem(report.NewItem(cert, CertificateCheck, fmt.Sprintf(CertificateTrusted, subject(cert)), report.Info))
		return
	}

	ctx, seen := inProgress(ctx, cert)
	if seen {
		return
	}

	if date.After(cert.NotAfter) {
		r.AddReportItem(report.NewItem(cert, CertificateCheck, fmt.Sprintf(ExpiredCertificate, subject(cert)), report.Invalid))
	} else if date.Before(cert.NotBefore) {
		r.AddReportItem(report.NewItem(cert, CertificateCheck, fmt.Sprintf(NotYetValidCertificate, subject(cert)), report.Invalid))
	}

	v.revocation.Validate(ctx, r, cert, date)

	issuer := v.retriever.RetrieveIssuerCertificate(ctx, cert)
	if issuer == nil {
		r.AddReportItem(report.NewItem(cert, CertificateCheck, fmt.Sprintf(IssuerMissing, subject(cert)), report.Indeterminate))
		return
	}
	if err := issuer.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature); err != nil {
		r.AddReportItem(report.NewItem(cert, CertificateCheck,
			fmt.Sprintf(IssuerCannotBeVerified, subject(issuer), subject(cert)), report.Invalid))
		return
	}
	if !issuer.BasicConstraintsValid || !issuer.IsCA {
		r.AddReportItem(report.NewItem(issuer, ExtensionsCheck, fmt.Sprintf(ExtensionMissing, "BasicConstraints"), report.Invalid))
	}
	if issuer.KeyUsage != 0 && issuer.KeyUsage&x509.KeyUsageCertSign == 0 {
		r.AddReportItem(report.NewItem(issuer, ExtensionsCheck, fmt.Sprintf(ExtensionMissing, "KeyUsage"), report.Invalid))
	}

	v.Validate(ctx, r, issuer, date)
}
