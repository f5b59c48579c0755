package revocation

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"math/big"
	"time"

	"golang.org/x/crypto/ocsp"
)

var (
	// OIDOCSPNoCheck is id-pkix-ocsp-nocheck.
	OIDOCSPNoCheck = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 1, 5}
	// OIDArchiveCutoff is id-pkix-ocsp-archive-cutoff.
	OIDArchiveCutoff = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 1, 6}
	// OIDBasicOCSPResponse is id-pkix-ocsp-basic.
	OIDBasicOCSPResponse = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 1, 1}
)

// OCSPResponse is a parsed OCSP response about a single certificate, with
// the CertID and archive cutoff that x/crypto/ocsp does not expose.
type OCSPResponse struct {
	*ocsp.Response
	Raw []byte

	IssuerNameHash []byte
	IssuerKeyHash  []byte
	CertIDHash     crypto.Hash
	ArchiveCutoff  time.Time
}

// The structures below mirror RFC 6960 far enough to reach the CertID and
// the response extensions.
type responseASN1 struct {
	Status   asn1.Enumerated
	Response responseBytes `asn1:"explicit,tag:0,optional"`
}

type responseBytes struct {
	ResponseType asn1.ObjectIdentifier
	Response     []byte
}

type basicResponse struct {
	TBSResponseData    responseData
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Signature          asn1.BitString
	Certificates       []asn1.RawValue `asn1:"explicit,tag:0,optional"`
}

type responseData struct {
	Raw                asn1.RawContent
	Version            int `asn1:"optional,default:0,explicit,tag:0"`
	RawResponderID     asn1.RawValue
	ProducedAt         time.Time `asn1:"generalized"`
	Responses          []singleResponse
	ResponseExtensions []pkix.Extension `asn1:"explicit,tag:1,optional"`
}

type singleResponse struct {
	CertID           certID
	Good             asn1.Flag        `asn1:"tag:0,optional"`
	Revoked          revokedInfo      `asn1:"tag:1,optional"`
	Unknown          asn1.Flag        `asn1:"tag:2,optional"`
	ThisUpdate       time.Time        `asn1:"generalized"`
	NextUpdate       time.Time        `asn1:"generalized,explicit,tag:0,optional"`
	SingleExtensions []pkix.Extension `asn1:"explicit,tag:1,optional"`
}

type revokedInfo struct {
	RevocationTime time.Time       `asn1:"generalized"`
	Reason         asn1.Enumerated `asn1:"explicit,tag:0,optional"`
}

type certID struct {
	HashAlgorithm pkix.AlgorithmIdentifier
	NameHash      []byte
	IssuerKeyHash []byte
	SerialNumber  *big.Int
}

var certIDHashes = map[string]crypto.Hash{
	"1.3.14.3.2.26":          crypto.SHA1,
	"2.16.840.1.101.3.4.2.1": crypto.SHA256,
	"2.16.840.1.101.3.4.2.2": crypto.SHA384,
	"2.16.840.1.101.3.4.2.3": crypto.SHA512,
}

// ParseOCSP parses raw and returns the single response concerning cert. The
// response signature is only checked when the responder certificate is
// embedded; callers verify the responder themselves.
func ParseOCSP(raw []byte, cert *x509.Certificate) (*OCSPResponse, error) {
	resp, err := ocsp.ParseResponseForCert(raw, cert, nil)
	if err != nil {
		return nil, err
	}
	out := &OCSPResponse{Response: resp, Raw: raw}

	var outer responseASN1
	if _, err := asn1.Unmarshal(raw, &outer); err != nil {
		return nil, err
	}
	if !outer.Response.ResponseType.Equal(OIDBasicOCSPResponse) {
		return nil, errors.New("unsupported OCSP response type")
	}
	var basic basicResponse
	if _, err := asn1.Unmarshal(outer.Response.Response, &basic); err != nil {
		return nil, err
	}

	for _, single := range basic.TBSResponseData.Responses {
		if cert.SerialNumber.Cmp(single.CertID.SerialNumber) != 0 {
			continue
		}
		out.IssuerNameHash = single.CertID.NameHash
		out.IssuerKeyHash = single.CertID.IssuerKeyHash
		out.CertIDHash = certIDHashes[single.CertID.HashAlgorithm.Algorithm.String()]
		out.ArchiveCutoff = archiveCutoff(single.SingleExtensions)
		break
	}
	if out.ArchiveCutoff.IsZero() {
		out.ArchiveCutoff = archiveCutoff(basic.TBSResponseData.ResponseExtensions)
	}
	return out, nil
}

func archiveCutoff(exts []pkix.Extension) time.Time {
	for _, ext := range exts {
		if !ext.Id.Equal(OIDArchiveCutoff) {
			continue
		}
		var t time.Time
		if _, err := asn1.UnmarshalWithParams(ext.Value, &t, "generalized"); err == nil {
			return t
		}
	}
	return time.Time{}
}

// IssuedBy reports whether the CertID of the response names issuer.
func (r *OCSPResponse) IssuedBy(issuer *x509.Certificate) bool {
	if issuer == nil || !r.CertIDHash.Available() {
		return false
	}
	var spki struct {
		Algorithm pkix.AlgorithmIdentifier
		PublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(issuer.RawSubjectPublicKeyInfo, &spki); err != nil {
		return false
	}
	h := r.CertIDHash.New()
	h.Write(issuer.RawSubject)
	nameHash := h.Sum(nil)
	h.Reset()
	h.Write(spki.PublicKey.RightAlign())
	keyHash := h.Sum(nil)
	return bytes.Equal(nameHash, r.IssuerNameHash) && bytes.Equal(keyHash, r.IssuerKeyHash)
}

// ThisUpdateTime is the time used to order responses.
func (r *OCSPResponse) ThisUpdateTime() time.Time {
	return r.ThisUpdate
}

// HasNoCheck reports whether cert carries id-pkix-ocsp-nocheck.
func HasNoCheck(cert *x509.Certificate) bool {
	return hasExtension(cert, OIDOCSPNoCheck)
}

func hasExtension(cert *x509.Certificate, oid asn1.ObjectIdentifier) bool {
	if cert == nil {
		return false
	}
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(oid) {
			return true
		}
	}
	return false
}
