package revocation

import (
	"crypto/x509"
	"encoding/asn1"

	"golang.org/x/crypto/ocsp"
)

// InfoArchival is the adbe-revocationInfoArchival signed attribute
// (1.2.840.113583.1.1.8) holding the CRLs and OCSP responses of a signature.
type InfoArchival struct {
	CRL   CRL   `asn1:"tag:0,optional,explicit"`
	OCSP  OCSP  `asn1:"tag:1,optional,explicit"`
	Other Other `asn1:"tag:2,optional,explicit"`
}

// OIDInfoArchival identifies the adbe-revocationInfoArchival attribute.
var OIDInfoArchival = asn1.ObjectIdentifier{1, 2, 840, 113583, 1, 1, 8}

// AddCRL embeds the DER bytes of a CRL.
func (r *InfoArchival) AddCRL(b []byte) error {
	if _, err := x509.ParseRevocationList(b); err != nil {
		return err
	}
	r.CRL = append(r.CRL, asn1.RawValue{FullBytes: b})
	return nil
}

// AddOCSP embeds the DER bytes of an OCSP response.
func (r *InfoArchival) AddOCSP(b []byte) error {
	if _, err := ocsp.ParseResponse(b, nil); err != nil {
		return err
	}
	r.OCSP = append(r.OCSP, asn1.RawValue{FullBytes: b})
	return nil
}

// CRLs returns the raw CRLs.
func (r *InfoArchival) CRLs() [][]byte {
	out := make([][]byte, 0, len(r.CRL))
	for _, raw := range r.CRL {
		out = append(out, raw.FullBytes)
	}
	return out
}

// OCSPResponses returns the raw OCSP responses.
func (r *InfoArchival) OCSPResponses() [][]byte {
	out := make([][]byte, 0, len(r.OCSP))
	for _, raw := range r.OCSP {
		out = append(out, raw.FullBytes)
	}
	return out
}

// CRL contains the raw bytes of a pkix.CertificateList.
type CRL []asn1.RawValue

// OCSP contains the raw bytes of OCSP responses.
type OCSP []asn1.RawValue

// Other is the OtherRevInfo structure.
type Other struct {
	Type  asn1.ObjectIdentifier
	Value []byte
}
