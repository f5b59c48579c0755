package validation

import (
	"context"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/digitorus/pades/certs"
	"github.com/digitorus/pades/report"
)

// CRLValidator checks a single CRL for a certificate.
type CRLValidator struct {
	retriever *certs.IssuingCertificateRetriever
	chain     *CertificateChainValidator
	freshness time.Duration
}

func NewCRLValidator(retriever *certs.IssuingCertificateRetriever) *CRLValidator {
	return &CRLValidator{retriever: retriever, freshness: DefaultFreshness}
}

// SetFreshness sets how old thisUpdate may be relative to the validation
// date. A negative value requires thisUpdate to lie after the date.
func (v *CRLValidator) SetFreshness(d time.Duration) *CRLValidator {
	v.freshness = d
	return v
}

// SetCertificateChainValidator sets the validator used for CRL issuers.
func (v *CRLValidator) SetCertificateChainValidator(c *CertificateChainValidator) *CRLValidator {
	v.chain = c
	return v
}

func (v *CRLValidator) chainValidator() *CertificateChainValidator {
	if v.chain == nil {
		v.chain = NewCertificateChainValidator(v.retriever)
	}
	return v.chain
}

// Validate records in r whether crl proves that cert was not revoked at date.
func (v *CRLValidator) Validate(ctx context.Context, r *report.ValidationReport, cert *x509.Certificate, crl *x509.RevocationList, date time.Time) {
	if crl.ThisUpdate.Before(date.Add(-v.freshness)) {
		r.AddReportItem(report.NewItem(cert, CRLCheck,
			fmt.Sprintf(CRLFreshnessCheck, formatDate(crl.ThisUpdate), formatDate(date), v.freshness),
			report.Indeterminate))
		return
	}
	if !crl.NextUpdate.IsZero() && crl.NextUpdate.Before(date) {
		r.AddReportItem(report.NewItem(cert, CRLCheck,
			fmt.Sprintf(UpdateDateBeforeCheckDate, formatDate(crl.NextUpdate), formatDate(date)),
			report.Indeterminate))
		return
	}

	issuer := v.retriever.RetrieveCRLIssuerCertificate(crl)
	if issuer == nil {
		issuer = v.retriever.RetrieveIssuerCertificate(ctx, cert)
		if issuer != nil && string(issuer.RawSubject) != string(crl.RawIssuer) {
			issuer = nil
		}
	}
	if issuer == nil {
		r.AddReportItem(report.NewItem(cert, CRLCheck, CRLIssuerNotFound, report.Indeterminate))
		return
	}
	if err := issuer.CheckSignature(crl.SignatureAlgorithm, crl.RawTBSRevocationList, crl.Signature); err != nil {
		r.AddReportItem(report.NewItem(cert, CRLCheck, CRLInvalid, report.Invalid))
		return
	}

	issuerDate := crl.ThisUpdate
	msg := CRLThisUpdateAsDate
	if !crl.NextUpdate.IsZero() {
		issuerDate = crl.NextUpdate
		msg = CRLNextUpdateAsDate
	}
	r.AddReportItem(report.NewItem(issuer, CRLCheck, msg, report.Info))
	v.chainValidator().Validate(ctx, r, issuer, issuerDate)

	for _, entry := range crl.RevokedCertificateEntries {
		if entry.SerialNumber.Cmp(cert.SerialNumber) != 0 {
			continue
		}
		if entry.RevocationTime.After(date) {
			r.AddReportItem(report.NewItem(cert, CRLCheck,
				fmt.Sprintf(ValidCertificateRevoked, formatDate(entry.RevocationTime)), report.Info))
		} else {
			r.AddReportItem(report.NewItem(cert, CRLCheck,
				fmt.Sprintf(CertificateRevoked, subject(issuer), formatDate(entry.RevocationTime)),
				report.Invalid))
		}
		return
	}
}
