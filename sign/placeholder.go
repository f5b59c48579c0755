package sign

import (
	"bytes"
	"crypto"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/digitorus/pdf"
)

const signatureByteRangePlaceholder = "/ByteRange[0 ********** ********** **********]"

var (
	// ErrSignatureTooLarge is returned by Embed when the encoded signature
	// does not fit the space reserved in /Contents.
	ErrSignatureTooLarge  = errors.New("signature does not fit the reserved space")
	ErrInvalidPlaceholder = errors.New("signature placeholder is malformed")
)

// Prepared is a document with a signature dictionary whose /Contents is a
// zero filled placeholder. The byte range is final; only /Contents may
// change.
type Prepared struct {
	Data      []byte
	ByteRange [4]int64
	FieldName string
}

// writeSignaturePlaceholder writes the /ByteRange and /Contents entries of a
// signature dictionary and reports where they start within buf.
func writeSignaturePlaceholder(buf *bytes.Buffer, contentsSize int) (byteRangeAt, contentsAt int) {
	buf.WriteString(" ")
	byteRangeAt = buf.Len()
	buf.WriteString(signatureByteRangePlaceholder)
	buf.WriteString(" /Contents")
	contentsAt = buf.Len()
	buf.WriteString("<")
	buf.Write(bytes.Repeat([]byte("0"), hex.EncodedLen(contentsSize)))
	buf.WriteString(">")
	return byteRangeAt, contentsAt
}

// finishPlaceholder computes the byte range of a finished update and writes
// it over the placeholder.
func finishPlaceholder(data []byte, byteRangeAt, contentsAt int64, contentsSize int) (*Prepared, error) {
	contentsEnd := contentsAt + int64(hex.EncodedLen(contentsSize)) + 2
	if data[contentsAt] != '<' || data[contentsEnd-1] != '>' {
		return nil, ErrInvalidPlaceholder
	}

	br := [4]int64{0, contentsAt, contentsEnd, int64(len(data)) - contentsEnd}
	value := fmt.Sprintf("/ByteRange[%d %d %d %d]", br[0], br[1], br[2], br[3])
	if len(value) > len(signatureByteRangePlaceholder) {
		return nil, fmt.Errorf("byte range %q exceeds the placeholder", value)
	}
	value += strings.Repeat(" ", len(signatureByteRangePlaceholder)-len(value))
	copy(data[byteRangeAt:], value)

	return &Prepared{Data: data, ByteRange: br}, nil
}

// Capacity returns the number of bytes available for the signature value.
func (p *Prepared) Capacity() int {
	return int(p.ByteRange[2]-p.ByteRange[1]-2) / 2
}

// SignedBytes returns the two parts of the document covered by the
// signature.
func (p *Prepared) SignedBytes() []byte {
	out := make([]byte, 0, p.ByteRange[1]+p.ByteRange[3])
	out = append(out, p.Data[p.ByteRange[0]:p.ByteRange[0]+p.ByteRange[1]]...)
	return append(out, p.Data[p.ByteRange[2]:p.ByteRange[2]+p.ByteRange[3]]...)
}

// Digest hashes the signed bytes.
func (p *Prepared) Digest(h crypto.Hash) []byte {
	d := h.New()
	d.Write(p.Data[p.ByteRange[0] : p.ByteRange[0]+p.ByteRange[1]])
	d.Write(p.Data[p.ByteRange[2] : p.ByteRange[2]+p.ByteRange[3]])
	return d.Sum(nil)
}

// Embed writes contents into the placeholder. The remainder stays zero
// padded.
func (p *Prepared) Embed(contents []byte) error {
	if len(contents) > p.Capacity() {
		return fmt.Errorf("%w: %d bytes, %d reserved", ErrSignatureTooLarge, len(contents), p.Capacity())
	}
	dst := p.Data[p.ByteRange[1]+1 : p.ByteRange[2]-1]
	for i := range dst {
		dst[i] = '0'
	}
	copy(dst, strings.ToUpper(hex.EncodeToString(contents)))
	return nil
}

// FindPlaceholder locates the unsigned placeholder of a signature field in
// a prepared document.
func FindPlaceholder(data []byte, fieldName string) (*Prepared, error) {
	doc, err := Open(data)
	if err != nil {
		return nil, err
	}
	f, ok := doc.Field(fieldName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSignatureFieldNotFound, fieldName)
	}
	if !f.IsSignature() {
		return nil, fmt.Errorf("%w: %s", ErrNotASignatureField, fieldName)
	}
	v := f.Value.Key("V")
	if v.Kind() != pdf.Dict {
		return nil, fmt.Errorf("%w: field %s has no signature dictionary", ErrInvalidPlaceholder, fieldName)
	}

	br, err := readByteRange(v)
	if err != nil {
		return nil, err
	}
	if br[0] != 0 || br[1] <= 0 || br[2] <= br[1]+1 || br[2]+br[3] != int64(len(data)) {
		return nil, fmt.Errorf("%w: byte range %v does not cover the file", ErrInvalidPlaceholder, br)
	}
	if data[br[1]] != '<' || data[br[2]-1] != '>' {
		return nil, ErrInvalidPlaceholder
	}
	if len(bytes.Trim(data[br[1]+1:br[2]-1], "0")) != 0 {
		return nil, ErrFieldAlreadySigned
	}

	out := make([]byte, len(data))
	copy(out, data)
	return &Prepared{Data: out, ByteRange: br, FieldName: fieldName}, nil
}

func readByteRange(v pdf.Value) ([4]int64, error) {
	var br [4]int64
	arr := v.Key("ByteRange")
	if arr.Len() != 4 {
		return br, fmt.Errorf("%w: /ByteRange must have four entries", ErrInvalidPlaceholder)
	}
	for i := range br {
		br[i] = arr.Index(i).Int64()
		if br[i] < 0 {
			return br, fmt.Errorf("%w: negative /ByteRange entry", ErrInvalidPlaceholder)
		}
	}
	return br, nil
}
