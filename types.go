package pades

import (
	"fmt"
	"strings"
	"time"

	"github.com/digitorus/pades/sign"
)

// Profile is a PAdES baseline level. Each level includes the previous one.
type Profile int

const (
	// PAdES_B (Baseline-Basic) holds the signer's certificate chain and the
	// signed hash.
	PAdES_B Profile = iota

	// PAdES_B_T (Baseline-Timestamp) adds a signature time-stamp from a
	// Time Stamping Authority, proving the signature existed at that time.
	PAdES_B_T

	// PAdES_B_LT (Baseline-Long-Term) adds a Document Security Store with
	// the certificates, OCSP responses and CRLs needed to validate the
	// signature later, even when the CA services are offline.
	PAdES_B_LT

	// PAdES_B_LTA (Baseline-Long-Term-Availability) protects the validation
	// material with a document time-stamp.
	PAdES_B_LTA
)

func (p Profile) String() string {
	switch p {
	case PAdES_B:
		return "B-B"
	case PAdES_B_T:
		return "B-T"
	case PAdES_B_LT:
		return "B-LT"
	case PAdES_B_LTA:
		return "B-LTA"
	}
	return "unknown"
}

// ParseProfile accepts B, T, LT and LTA, optionally prefixed with "B-".
func ParseProfile(s string) (Profile, error) {
	switch strings.TrimPrefix(strings.ToUpper(s), "B-") {
	case "B":
		return PAdES_B, nil
	case "T":
		return PAdES_B_T, nil
	case "LT":
		return PAdES_B_LT, nil
	case "LTA":
		return PAdES_B_LTA, nil
	}
	return 0, fmt.Errorf("unknown PAdES profile %q", s)
}

// needsTimestamp reports whether the profile requires a TSA client.
func (p Profile) needsTimestamp() bool { return p >= PAdES_B_T }

// SignerProperties describes the signature field and the signature
// dictionary of a new signature.
type SignerProperties struct {
	// FieldName selects an existing empty signature field or names the new
	// one. Empty picks the next free name: Signature1, Signature2...
	FieldName string

	// PageNumber is 1-based; zero selects the first page.
	PageNumber int
	// PageRect places a visible signature. An empty rectangle gives an
	// invisible signature.
	PageRect sign.Rectangle
	// Appearance is the content of a visible signature field.
	Appearance *sign.Appearance

	SignerName  string
	Reason      string
	Location    string
	ContactInfo string
	// ClaimedSignDate is written to /M. Zero means the time of signing.
	ClaimedSignDate time.Time
}

func (p SignerProperties) options() sign.SignatureOptions {
	return sign.SignatureOptions{
		FieldName:   p.FieldName,
		Name:        p.SignerName,
		Reason:      p.Reason,
		Location:    p.Location,
		ContactInfo: p.ContactInfo,
		SigningTime: p.ClaimedSignDate,
		Page:        p.PageNumber,
		Rect:        p.PageRect,
		Appearance:  p.Appearance,
	}
}

// StampingProperties controls how the signed revision is appended.
type StampingProperties struct {
	// CertificationLevel makes the first signature of a document a
	// certification signature with the given DocMDP permissions.
	CertificationLevel sign.CertificationLevel
}

const (
	// PDF coordinates are defined in "user space units". By default, one unit
	// corresponds to one "point" (1/72 of an inch).

	// Millimeter represents the number of PDF user space units in one millimeter.
	Millimeter = 72.0 / 25.4
	// Centimeter represents the number of PDF user space units in one centimeter.
	Centimeter = 72.0 / 2.54
	// Inch represents the number of PDF user space units in one inch.
	Inch = 72.0
)
