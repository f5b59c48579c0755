package validation

import (
	"crypto/x509"
	"time"
)

// Check names.
const (
	RevocationDataCheck = "Revocation data check."
	OCSPCheck           = "OCSP response check."
	CRLCheck            = "CRL response check."
	CertificateCheck    = "Certificate check."
	ExtensionsCheck     = "Required certificate extensions check."
)

// Report messages. Placeholders are filled with fmt verbs.
const (
	NoRevocationData      = "Certificate revocation status cannot be checked: no revocation data available or the status cannot be determined."
	CRLParsingError       = "CRL is incorrectly formatted."
	OCSPClientFailure     = "Unexpected exception occurred in OCSP client \"%s\"."
	CRLClientFailure      = "Unexpected exception occurred in CRL client \"%s\"."
	SelfSignedCertificate = "Certificate is self-signed. Revocation data check will be skipped."
	TrustedOCSPResponder  = "Authorized OCSP Responder certificate has id-pkix-ocsp-nocheck extension so it is trusted by definition."
	ValidityAssured       = "Certificate is trusted due to validity assured - short term extension."

	CertIsExpired           = "Certificate is expired on %s. Its revocation status could have been removed from the database, so the OCSP response status could be falsely valid."
	CertIsRevoked           = "Certificate status is revoked."
	CertStatusIsUnknown     = "Certificate status is unknown."
	InvalidOCSP             = "OCSP response is invalid."
	IssuersDoNotMatch       = "OCSP: Issuers don't match."
	OCSPFreshnessCheck      = "OCSP response is not fresh enough: this update: %s, validation date: %s, freshness: %s."
	OCSPCouldNotBeVerified  = "OCSP response could not be verified: it does not contain responder in the certificate chain and response is not signed by issuer certificate or any from the trusted store."
	OCSPIsNoLongerValid     = "OCSP is no longer valid: %s after %s"
	UnableToRetrieveIssuer  = "OCSP response could not be verified: Unexpected exception occurred while retrieving issuer"
	ValidCertificateRevoked = "The certificate was valid on the verification date, but has been revoked since %s."

	CertificateRevoked        = "Certificate was revoked by %s on %s."
	CRLIssuerNotFound         = "Unable to validate CRL response: no issuer certificate found."
	CRLInvalid                = "CRL response is invalid."
	CRLFreshnessCheck         = "CRL response is not fresh enough: this update: %s, validation date: %s, freshness: %s."
	UpdateDateBeforeCheckDate = "nextUpdate: %s of CRLResponse is before validation date %s."
	CRLNextUpdateAsDate       = "Using crl nextUpdate date as validation date"
	CRLThisUpdateAsDate       = "Using crl thisUpdate date as validation date"

	CertificateTrusted     = "Certificate %s is trusted, revocation data checks are not required."
	ExpiredCertificate     = "Certificate %s is expired."
	NotYetValidCertificate = "Certificate %s is not yet valid."
	IssuerMissing          = "Certificate %s isn't trusted and issuer certificate isn't provided."
	IssuerCannotBeVerified = "Issuer certificate %s for subject certificate %s cannot be mathematically verified."
	ExtensionMissing       = "Required extension %s is missing or incorrect."
)

func formatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func subject(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	return cert.Subject.String()
}
