package cms

import (
	"bytes"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"time"

	"github.com/digitorus/pades/revocation"
	"github.com/digitorus/pkcs7"
	"github.com/digitorus/timestamp"
)

var (
	ErrNoTimestamp          = errors.New("cms: signature has no time-stamp token")
	ErrTimestampMismatch    = errors.New("cms: time-stamp imprint does not match")
	ErrDigestMismatch       = errors.New("cms: document digest does not match")
	ErrMissingMessageDigest = errors.New("cms: message digest attribute is missing")
)

// SignatureData is the CMS part of a PDF signature or document time-stamp.
type SignatureData struct {
	*Container

	// DocumentTimestamp is set for ETSI.RFC3161 signatures, where the
	// container is itself a time-stamp token.
	DocumentTimestamp bool
	// Timestamp is the signature time-stamp, or the token of a document
	// time-stamp.
	Timestamp *timestamp.Timestamp
	// RevocationInfo holds the adbe-revocationInfoArchival attribute.
	RevocationInfo revocation.InfoArchival

	raw []byte
}

// ParseSignatureData parses the /Contents of a signature dictionary.
// Trailing zero padding is ignored.
func ParseSignatureData(contents []byte, documentTimestamp bool) (*SignatureData, error) {
	c, err := Parse(contents)
	if err != nil {
		return nil, err
	}
	s := &SignatureData{Container: c, DocumentTimestamp: documentTimestamp, raw: contents}

	if documentTimestamp {
		ts, err := timestamp.Parse(contents)
		if err != nil {
			return nil, fmt.Errorf("cms: parse document time-stamp: %w", err)
		}
		s.Timestamp = ts
		return s, nil
	}

	if token := c.TimestampToken(); token != nil {
		ts, err := timestamp.Parse(token)
		if err != nil {
			return nil, fmt.Errorf("cms: parse signature time-stamp: %w", err)
		}
		s.Timestamp = ts
	}
	if raw, ok := c.SignedAttribute(OIDAttributeRevocationArchival); ok {
		if _, err := asn1.Unmarshal(raw, &s.RevocationInfo); err != nil {
			return nil, fmt.Errorf("cms: parse revocation archival: %w", err)
		}
	}
	return s, nil
}

// Verify checks that the container signs the given document bytes.
func (s *SignatureData) Verify(signed []byte) error {
	p7, err := pkcs7.Parse(s.raw)
	if err != nil {
		return fmt.Errorf("cms: %w", err)
	}
	if s.DocumentTimestamp {
		h := s.Timestamp.HashAlgorithm.New()
		h.Write(signed)
		if !bytes.Equal(h.Sum(nil), s.Timestamp.HashedMessage) {
			return ErrDigestMismatch
		}
		return p7.Verify()
	}

	digest := s.MessageDigest()
	if digest == nil {
		return ErrMissingMessageDigest
	}
	h := s.DigestAlgorithm.New()
	h.Write(signed)
	if !bytes.Equal(h.Sum(nil), digest) {
		return ErrDigestMismatch
	}
	p7.Content = signed
	return p7.Verify()
}

// VerifyTimestampImprint checks that the signature time-stamp covers the
// signature value.
func (s *SignatureData) VerifyTimestampImprint() error {
	if s.DocumentTimestamp || s.Timestamp == nil {
		return ErrNoTimestamp
	}
	h := s.Timestamp.HashAlgorithm.New()
	h.Write(s.Signature)
	if !bytes.Equal(h.Sum(nil), s.Timestamp.HashedMessage) {
		return ErrTimestampMismatch
	}
	return nil
}

// TimestampDate returns the time asserted by the time-stamp token.
func (s *SignatureData) TimestampDate() (time.Time, bool) {
	if s.Timestamp == nil {
		return time.Time{}, false
	}
	return s.Timestamp.Time, true
}

// TimestampCertificates returns the certificates embedded in the time-stamp
// token.
func (s *SignatureData) TimestampCertificates() []*x509.Certificate {
	if s.Timestamp == nil {
		return nil
	}
	return s.Timestamp.Certificates
}

// AllCRLs returns the CRLs of the container and of the archival attribute.
func (s *SignatureData) AllCRLs() [][]byte {
	out := append([][]byte(nil), s.Container.CRLs...)
	return append(out, s.RevocationInfo.CRLs()...)
}

// OCSPResponses returns the OCSP responses of the archival attribute.
func (s *SignatureData) OCSPResponses() [][]byte {
	return s.RevocationInfo.OCSPResponses()
}
