package sign

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/digitorus/pades/internal/logging"
	"github.com/digitorus/pdf"
	"github.com/sirupsen/logrus"
)

var ErrCertificationNotFirst = errors.New("a certification signature must be the first signature of the document")

// Prepare appends an incremental update holding a signature field and a
// signature dictionary with an empty /Contents placeholder.
func Prepare(doc *Document, opts SignatureOptions) (*Prepared, error) {
	if opts.ContentsSize <= 0 {
		opts.ContentsSize = DefaultContentsSize
	}
	if opts.SigningTime.IsZero() {
		opts.SigningTime = time.Now()
	}
	if opts.Page == 0 {
		opts.Page = 1
	}
	if opts.SubFilter == "" {
		opts.SubFilter = SubFilterCAdES
		if opts.DocumentTimestamp {
			opts.SubFilter = SubFilterRFC3161
		}
	}
	if opts.DocumentTimestamp {
		opts.CertificationLevel = NotCertified
	}

	if opts.CertificationLevel != NotCertified {
		sigs, err := doc.Signatures()
		if err != nil {
			return nil, err
		}
		if len(sigs) > 0 {
			return nil, ErrCertificationNotFirst
		}
	}

	var existing *Field
	if opts.FieldName == "" {
		opts.FieldName = doc.NextFieldName(DefaultFieldPrefix)
	} else if _, ok := doc.Field(opts.FieldName); ok {
		f, err := doc.checkSignatureField(opts.FieldName)
		if err != nil {
			return nil, err
		}
		existing = &f
	}

	u, err := doc.NewUpdate()
	if err != nil {
		return nil, err
	}

	sigRef := u.Allocate()
	body, byteRangeAt, contentsAt := signatureDictionary(opts)
	offset, err := u.WriteObject(sigRef, body)
	if err != nil {
		return nil, fmt.Errorf("failed to add signature object: %w", err)
	}

	values := templateValues{Name: opts.Name, Date: opts.SigningTime, Reason: opts.Reason, Location: opts.Location}
	if existing != nil {
		err = u.fillField(*existing, sigRef, opts, values)
	} else {
		err = u.addField(doc, sigRef, opts, values)
	}
	if err != nil {
		return nil, err
	}

	if err := u.updateCatalog(doc, func(cat *dict) error {
		if opts.CertificationLevel != NotCertified {
			perms := inlineDict(doc.Catalog().Key("Perms"), refOf(doc.Catalog()))
			perms.Set("DocMDP", sigRef.String())
			cat.Set("Perms", perms.String())
		}
		if opts.DocumentTimestamp {
			addESICExtension(cat, doc)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to update catalog: %w", err)
	}

	data, err := u.Finish()
	if err != nil {
		return nil, err
	}

	p, err := finishPlaceholder(data, offset+int64(byteRangeAt), offset+int64(contentsAt), opts.ContentsSize)
	if err != nil {
		return nil, err
	}
	p.FieldName = opts.FieldName

	logging.WithComponent("sign").WithFields(logrus.Fields{
		"field":     opts.FieldName,
		"subfilter": opts.SubFilter,
		"reserved":  opts.ContentsSize,
	}).Debug("prepared signature placeholder")
	return p, nil
}

func signatureDictionary(opts SignatureOptions) (body []byte, byteRangeAt, contentsAt int) {
	var buf bytes.Buffer
	if opts.DocumentTimestamp {
		buf.WriteString("<< /Type /DocTimeStamp")
	} else {
		buf.WriteString("<< /Type /Sig")
	}
	buf.WriteString(" /Filter /Adobe.PPKLite")
	buf.WriteString(" /SubFilter " + pdfName(opts.SubFilter))

	byteRangeAt, contentsAt = writeSignaturePlaceholder(&buf, opts.ContentsSize)

	if !opts.DocumentTimestamp {
		if opts.CertificationLevel != NotCertified {
			buf.WriteString(" /Reference [<< /Type /SigRef /TransformMethod /DocMDP")
			buf.WriteString(" /TransformParams << /Type /TransformParams /P " + strconv.Itoa(int(opts.CertificationLevel)) + " /V /1.2 >>")
			buf.WriteString(" >>]")
		}
		if opts.Name != "" {
			buf.WriteString(" /Name " + pdfString(opts.Name))
		}
		if opts.Location != "" {
			buf.WriteString(" /Location " + pdfString(opts.Location))
		}
		if opts.Reason != "" {
			buf.WriteString(" /Reason " + pdfString(opts.Reason))
		}
		if opts.ContactInfo != "" {
			buf.WriteString(" /ContactInfo " + pdfString(opts.ContactInfo))
		}
		buf.WriteString(" /M " + pdfDateTime(opts.SigningTime))
	}
	buf.WriteString(" >>")
	return buf.Bytes(), byteRangeAt, contentsAt
}

// addField creates a widget annotation merged with a new signature field
// and registers it on the page and in the AcroForm.
func (u *Update) addField(doc *Document, sigRef ref, opts SignatureOptions, values templateValues) error {
	page, err := doc.Page(opts.Page)
	if err != nil {
		return err
	}
	pageRef := refOf(page)

	rect := opts.Rect
	var appearance *Appearance
	if !rect.IsEmpty() && !opts.DocumentTimestamp {
		appearance = opts.Appearance
		if appearance == nil {
			appearance = &Appearance{}
		}
	} else {
		rect = Rectangle{}
	}
	ap, err := u.addAppearance(appearance, rect.Width, rect.Height, values)
	if err != nil {
		return fmt.Errorf("failed to create appearance: %w", err)
	}

	widget := newDict().
		Set("Type", "/Annot").
		Set("Subtype", "/Widget").
		Set("FT", "/Sig").
		Set("T", pdfString(opts.FieldName)).
		Set("F", "132").
		Set("Rect", rect.pdfArray()).
		Set("P", pageRef.String()).
		Set("V", sigRef.String()).
		Set("AP", "<< /N "+ap.String()+" >>")
	widgetRef, err := u.AddObject([]byte(widget.String()))
	if err != nil {
		return fmt.Errorf("failed to add signature field: %w", err)
	}

	var arrayErr error
	if err := u.UpdateDict(page, func(d *dict) {
		arrayErr = u.appendRef(d, page.Key("Annots"), pageRef, "Annots", widgetRef)
	}); err != nil {
		return fmt.Errorf("failed to update page: %w", err)
	}
	if arrayErr != nil {
		return fmt.Errorf("failed to update page annotations: %w", arrayErr)
	}

	return u.updateAcroForm(&widgetRef)
}

// fillField points an existing empty signature field at the new signature
// dictionary.
func (u *Update) fillField(f Field, sigRef ref, opts SignatureOptions, values templateValues) error {
	var ap *ref
	if opts.Appearance != nil && !opts.DocumentTimestamp {
		rect := f.Value.Key("Rect")
		if rect.Len() == 4 {
			width := rect.Index(2).Float64() - rect.Index(0).Float64()
			height := rect.Index(3).Float64() - rect.Index(1).Float64()
			r, err := u.addAppearance(opts.Appearance, abs(width), abs(height), values)
			if err != nil {
				return fmt.Errorf("failed to create appearance: %w", err)
			}
			ap = &r
		}
	}
	if err := u.UpdateDict(f.Value, func(d *dict) {
		d.Set("V", sigRef.String())
		if ap != nil {
			d.Set("AP", "<< /N "+ap.String()+" >>")
		}
	}); err != nil {
		return fmt.Errorf("failed to update signature field: %w", err)
	}
	return u.updateAcroForm(nil)
}

// updateAcroForm sets the signature flags and appends a new field to the
// field list.
func (u *Update) updateAcroForm(field *ref) error {
	catalog := u.doc.Catalog()
	owner := refOf(catalog)
	af := catalog.Key("AcroForm")

	edit := func(d *dict, afOwner ref) error {
		if field != nil {
			if err := u.appendRef(d, af.Key("Fields"), afOwner, "Fields", *field); err != nil {
				return err
			}
		}
		d.Set("SigFlags", "3")
		return nil
	}

	if af.Kind() == pdf.Dict && isIndirect(af, owner) {
		r := refOf(af)
		d := dictOf(af, r)
		if err := edit(d, r); err != nil {
			return err
		}
		_, err := u.WriteObject(r, []byte(d.String()))
		return err
	}

	d := inlineDict(af, owner)
	if err := edit(d, owner); err != nil {
		return err
	}
	u.catalogEdits = append(u.catalogEdits, func(cat *dict) error {
		cat.Set("AcroForm", d.String())
		return nil
	})
	return nil
}

// appendRef appends item to the array stored under key. Indirect arrays are
// rewritten in place, direct ones are replaced in d.
func (u *Update) appendRef(d *dict, arr pdf.Value, owner ref, key string, item ref) error {
	if arr.Kind() == pdf.Array && isIndirect(arr, owner) {
		r := refOf(arr)
		items := append(arrayItems(arr, r), item.String())
		_, err := u.WriteObject(r, []byte("["+strings.Join(items, " ")+"]"))
		return err
	}
	var items []string
	if arr.Kind() == pdf.Array {
		items = arrayItems(arr, owner)
	}
	d.Set(key, "["+strings.Join(append(items, item.String()), " ")+"]")
	return nil
}

// updateCatalog rewrites the catalog with the queued edits and edit.
func (u *Update) updateCatalog(doc *Document, edit func(cat *dict) error) error {
	var editErr error
	err := u.UpdateDict(doc.Catalog(), func(d *dict) {
		for _, e := range append(u.catalogEdits, edit) {
			if err := e(d); err != nil && editErr == nil {
				editErr = err
			}
		}
	})
	u.catalogEdits = nil
	if err != nil {
		return err
	}
	return editErr
}

// inlineDict copies v, direct or indirect, for use as a direct value of
// owner. Non dictionaries give an empty dictionary.
func inlineDict(v pdf.Value, owner ref) *dict {
	if v.Kind() != pdf.Dict {
		return newDict()
	}
	if isIndirect(v, owner) {
		owner = refOf(v)
	}
	return dictOf(v, owner)
}

// addESICExtension declares the ETSI PAdES extension on documents older
// than PDF 2.0.
func addESICExtension(cat *dict, doc *Document) {
	if v := doc.version(); v == "" || v >= "2.0" {
		return
	}
	catalog := doc.Catalog()
	ext := inlineDict(catalog.Key("Extensions"), refOf(catalog))
	ext.Set("ESIC", "<< /BaseVersion /1.7 /ExtensionLevel 5 >>")
	cat.Set("Extensions", ext.String())
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// EmbedSignature writes contents into the placeholder of fieldName in a
// prepared document and returns the signed document.
func EmbedSignature(data []byte, fieldName string, contents []byte) ([]byte, error) {
	p, err := FindPlaceholder(data, fieldName)
	if err != nil {
		return nil, err
	}
	if err := p.Embed(contents); err != nil {
		return nil, err
	}
	return p.Data, nil
}
