package sign

import (
	"crypto/sha1"
	"encoding/asn1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/digitorus/pdf"
)

// Signature is a signed signature field of a document.
type Signature struct {
	FieldName   string
	Type        string
	SubFilter   string
	Name        string
	Reason      string
	Location    string
	ContactInfo string
	// SigningTime is the /M entry, zero when absent or malformed.
	SigningTime time.Time
	ByteRange   [4]int64
	// Contents is the raw /Contents value including its zero padding.
	Contents []byte
}

// IsDocumentTimestamp reports whether the signature is an RFC 3161
// document time-stamp.
func (s *Signature) IsDocumentTimestamp() bool {
	return s.Type == "DocTimeStamp" || s.SubFilter == SubFilterRFC3161
}

// SignedBytes returns the bytes of data covered by the signature.
func (s *Signature) SignedBytes(data []byte) ([]byte, error) {
	br := s.ByteRange
	size := int64(len(data))
	if br[0] < 0 || br[1] < 0 || br[0]+br[1] > size || br[2] < br[0]+br[1] || br[3] < 0 || br[2]+br[3] > size {
		return nil, fmt.Errorf("byte range %v exceeds the file size %d", br, size)
	}
	out := make([]byte, 0, br[1]+br[3])
	out = append(out, data[br[0]:br[0]+br[1]]...)
	return append(out, data[br[2]:br[2]+br[3]]...), nil
}

// CoversWholeDocument reports whether the byte range ends at the end of a
// file of the given size.
func (s *Signature) CoversWholeDocument(size int64) bool {
	return s.ByteRange[0] == 0 && s.ByteRange[2]+s.ByteRange[3] == size
}

// VRIKey returns the key of the validation related information of the
// signature: the uppercase hex SHA-1 of /Contents. For document time-stamps
// the padding is removed first.
func (s *Signature) VRIKey() string {
	b := s.Contents
	if s.IsDocumentTimestamp() {
		var raw asn1.RawValue
		if rest, err := asn1.Unmarshal(b, &raw); err == nil {
			b = b[:len(b)-len(rest)]
		}
	}
	sum := sha1.Sum(b)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// Signatures returns the signed signature fields, ordered by the end of
// their byte range so that the signature covering the whole document comes
// last.
func (d *Document) Signatures() ([]Signature, error) {
	var out []Signature
	for _, f := range d.Fields() {
		if !f.IsSignature() || !f.IsSigned() {
			continue
		}
		v := f.Value.Key("V")
		br, err := readByteRange(v)
		if err != nil {
			return nil, fmt.Errorf("signature %s: %w", f.Name, err)
		}
		s := Signature{
			FieldName:   f.Name,
			Type:        v.Key("Type").Name(),
			SubFilter:   v.Key("SubFilter").Name(),
			Name:        v.Key("Name").Text(),
			Reason:      v.Key("Reason").Text(),
			Location:    v.Key("Location").Text(),
			ContactInfo: v.Key("ContactInfo").Text(),
			ByteRange:   br,
			Contents:    []byte(v.Key("Contents").RawString()),
		}
		if m := v.Key("M"); m.Kind() == pdf.String {
			if t, err := parsePDFDate(m.Text()); err == nil {
				s.SigningTime = t
			}
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ByteRange[2]+out[i].ByteRange[3] < out[j].ByteRange[2]+out[j].ByteRange[3]
	})
	return out, nil
}
