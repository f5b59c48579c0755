package sign

import "time"

// SubFilter values written to signature dictionaries.
const (
	SubFilterCAdES   = "ETSI.CAdES.detached"
	SubFilterRFC3161 = "ETSI.RFC3161"
	SubFilterPKCS7   = "adbe.pkcs7.detached"
)

// DefaultContentsSize is the /Contents reservation used when no estimate is
// given.
const DefaultContentsSize = 8192

// DefaultFieldPrefix names new signature fields Signature1, Signature2...
const DefaultFieldPrefix = "Signature"

// CertificationLevel is the DocMDP permission of a certification signature.
type CertificationLevel int

const (
	NotCertified CertificationLevel = iota
	CertifiedNoChangesAllowed
	CertifiedFormFilling
	CertifiedFormFillingAndAnnotations
)

func (l CertificationLevel) String() string {
	switch l {
	case NotCertified:
		return "NOT_CERTIFIED"
	case CertifiedNoChangesAllowed:
		return "CERTIFIED_NO_CHANGES_ALLOWED"
	case CertifiedFormFilling:
		return "CERTIFIED_FORM_FILLING"
	case CertifiedFormFillingAndAnnotations:
		return "CERTIFIED_FORM_FILLING_AND_ANNOTATIONS"
	}
	return "UNKNOWN"
}

// Rectangle is a widget position in default user space: the lower left
// corner and the size.
type Rectangle struct {
	X, Y          float64
	Width, Height float64
}

// IsEmpty reports whether the rectangle has no area.
func (r Rectangle) IsEmpty() bool { return r.Width <= 0 || r.Height <= 0 }

func (r Rectangle) pdfArray() string {
	return "[" + formatNumber(r.X) + " " + formatNumber(r.Y) + " " + formatNumber(r.X+r.Width) + " " + formatNumber(r.Y+r.Height) + "]"
}

// SignatureOptions controls the signature field and dictionary written by
// Prepare.
type SignatureOptions struct {
	// FieldName selects an existing empty signature field or names a new
	// one. Empty picks the next free Signature<n> name.
	FieldName string
	// DocumentTimestamp writes a /DocTimeStamp dictionary instead of a
	// /Sig dictionary.
	DocumentTimestamp bool
	// SubFilter defaults to ETSI.CAdES.detached, or ETSI.RFC3161 for
	// document time-stamps.
	SubFilter string

	Name        string
	Reason      string
	Location    string
	ContactInfo string
	// SigningTime is written to /M. Zero means now.
	SigningTime time.Time

	CertificationLevel CertificationLevel

	// Page is 1-based and defaults to the first page.
	Page int
	// Rect places a visible widget. An empty rectangle makes the
	// signature invisible.
	Rect       Rectangle
	Appearance *Appearance

	// ContentsSize is the number of bytes reserved for the signature
	// container.
	ContentsSize int
}
