package sign

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/digitorus/pdf"
)

var (
	ErrEncryptedDocument      = errors.New("encrypted documents cannot be signed")
	ErrNoCatalog              = errors.New("document has no catalog")
	ErrPageNotFound           = errors.New("page not found")
	ErrSignatureFieldNotFound = errors.New("signature field not found")
	ErrNotASignatureField     = errors.New("field is not a signature field")
	ErrFieldAlreadySigned     = errors.New("Field has been already signed.")
)

// Document is a PDF revision that incremental updates are appended to.
type Document struct {
	data   []byte
	reader *pdf.Reader
}

// Open parses a complete PDF file held in memory.
func Open(data []byte) (*Document, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		if bytes.Contains(data, []byte("/Encrypt")) {
			return nil, ErrEncryptedDocument
		}
		return nil, fmt.Errorf("failed to read PDF: %w", err)
	}
	if !r.Trailer().Key("Encrypt").IsNull() {
		return nil, ErrEncryptedDocument
	}
	if r.Trailer().Key("Root").Kind() != pdf.Dict {
		return nil, ErrNoCatalog
	}
	return &Document{data: data, reader: r}, nil
}

// ReadDocument reads r fully and opens it.
func ReadDocument(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return Open(data)
}

// Bytes returns the file contents. The slice must not be modified.
func (d *Document) Bytes() []byte { return d.data }

// Reader returns the object reader of the document.
func (d *Document) Reader() *pdf.Reader { return d.reader }

func (d *Document) trailer() pdf.Value { return d.reader.Trailer() }

// Catalog returns the document catalog.
func (d *Document) Catalog() pdf.Value { return d.trailer().Key("Root") }

// NumPages returns the page count.
func (d *Document) NumPages() int { return d.reader.NumPage() }

// Page returns the page dictionary of the 1-based page number.
func (d *Document) Page(n int) (pdf.Value, error) {
	if n < 1 || n > d.reader.NumPage() {
		return pdf.Value{}, fmt.Errorf("%w: %d of %d", ErrPageNotFound, n, d.reader.NumPage())
	}
	page := d.reader.Page(n)
	if page.V.IsNull() {
		return pdf.Value{}, fmt.Errorf("%w: %d", ErrPageNotFound, n)
	}
	return page.V, nil
}

// Field is a terminal AcroForm field.
type Field struct {
	// Name is the fully qualified field name.
	Name string
	// Type is the field type, inherited from parents when absent.
	Type  string
	Value pdf.Value
}

// IsSignature reports whether the field is a signature field.
func (f Field) IsSignature() bool { return f.Type == "Sig" }

// IsSigned reports whether the field carries a signature dictionary.
func (f Field) IsSigned() bool { return f.Value.Key("V").Kind() == pdf.Dict }

// Fields lists the terminal fields of the interactive form.
func (d *Document) Fields() []Field {
	var out []Field
	fields := d.Catalog().Key("AcroForm").Key("Fields")
	seen := map[ref]bool{}
	for i := 0; i < fields.Len(); i++ {
		walkField(fields.Index(i), "", "", seen, &out)
	}
	return out
}

func walkField(v pdf.Value, parent, fieldType string, seen map[ref]bool, out *[]Field) {
	if v.Kind() != pdf.Dict {
		return
	}
	if r := refOf(v); r.id != 0 {
		if seen[r] {
			return
		}
		seen[r] = true
	}

	name := parent
	if t := v.Key("T"); !t.IsNull() {
		if name != "" {
			name += "."
		}
		name += t.Text()
	}
	if ft := v.Key("FT").Name(); ft != "" {
		fieldType = ft
	}

	// Kids without a partial name are widgets of this field.
	kids := v.Key("Kids")
	terminal := true
	for i := 0; i < kids.Len(); i++ {
		kid := kids.Index(i)
		if kid.Key("T").IsNull() {
			continue
		}
		terminal = false
		walkField(kid, name, fieldType, seen, out)
	}
	if terminal {
		*out = append(*out, Field{Name: name, Type: fieldType, Value: v})
	}
}

// Field returns the terminal field with the fully qualified name.
func (d *Document) Field(name string) (Field, bool) {
	for _, f := range d.Fields() {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// NextFieldName returns prefix followed by the lowest positive number that
// is not yet used as a field name.
func (d *Document) NextFieldName(prefix string) string {
	used := map[string]bool{}
	for _, f := range d.Fields() {
		used[f.Name] = true
	}
	for i := 1; ; i++ {
		name := prefix + strconv.Itoa(i)
		if !used[name] {
			return name
		}
	}
}

// checkSignatureField resolves an existing field that a new signature will
// be written to. A missing field is reported with ErrSignatureFieldNotFound.
func (d *Document) checkSignatureField(name string) (Field, error) {
	f, ok := d.Field(name)
	if !ok {
		return Field{}, fmt.Errorf("%w: %s", ErrSignatureFieldNotFound, name)
	}
	if !f.IsSignature() {
		return Field{}, fmt.Errorf("%w: %s", ErrNotASignatureField, name)
	}
	if f.IsSigned() {
		return Field{}, ErrFieldAlreadySigned
	}
	return f, nil
}

// version returns the header version, e.g. "1.7".
func (d *Document) version() string {
	header := d.data
	if len(header) > 16 {
		header = header[:16]
	}
	s := string(header)
	if i := strings.Index(s, "%PDF-"); i >= 0 && len(s) >= i+8 {
		return s[i+5 : i+8]
	}
	return ""
}
