package sign

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/digitorus/pdf"
)

// DSS is the content of a Document Security Store: certificates, OCSP
// responses and CRLs, plus per signature validation related information.
type DSS struct {
	Certs [][]byte
	OCSPs [][]byte
	CRLs  [][]byte
	// VRI is keyed by Signature.VRIKey.
	VRI map[string]*VRI
}

// VRI lists the validation data of one signature.
type VRI struct {
	Certs [][]byte
	OCSPs [][]byte
	CRLs  [][]byte
}

func NewDSS() *DSS {
	return &DSS{VRI: map[string]*VRI{}}
}

func appendUnique(list [][]byte, item []byte) [][]byte {
	for _, b := range list {
		if bytes.Equal(b, item) {
			return list
		}
	}
	return append(list, item)
}

func (d *DSS) AddCertificate(der []byte) { d.Certs = appendUnique(d.Certs, der) }
func (d *DSS) AddOCSP(der []byte)        { d.OCSPs = appendUnique(d.OCSPs, der) }
func (d *DSS) AddCRL(der []byte)         { d.CRLs = appendUnique(d.CRLs, der) }

// Entry returns the VRI entry for key, creating it when needed.
func (d *DSS) Entry(key string) *VRI {
	if d.VRI == nil {
		d.VRI = map[string]*VRI{}
	}
	v, ok := d.VRI[key]
	if !ok {
		v = &VRI{}
		d.VRI[key] = v
	}
	return v
}

// AddCertificate adds der to the VRI entry and to the store.
func (v *VRI) AddCertificate(d *DSS, der []byte) {
	v.Certs = appendUnique(v.Certs, der)
	d.AddCertificate(der)
}

func (v *VRI) AddOCSP(d *DSS, der []byte) {
	v.OCSPs = appendUnique(v.OCSPs, der)
	d.AddOCSP(der)
}

func (v *VRI) AddCRL(d *DSS, der []byte) {
	v.CRLs = appendUnique(v.CRLs, der)
	d.AddCRL(der)
}

// IsEmpty reports whether the store holds no data.
func (d *DSS) IsEmpty() bool {
	return len(d.Certs) == 0 && len(d.OCSPs) == 0 && len(d.CRLs) == 0 && len(d.VRI) == 0
}

func streamData(v pdf.Value) ([]byte, error) {
	if v.Kind() != pdf.Stream {
		return nil, fmt.Errorf("expected a stream, got %v", v.Kind())
	}
	rc := v.Reader()
	defer rc.Close()
	return io.ReadAll(rc)
}

func readStreams(arr pdf.Value) ([][]byte, error) {
	var out [][]byte
	for i := 0; i < arr.Len(); i++ {
		data, err := streamData(arr.Index(i))
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

// DSS reads the Document Security Store. A document without one returns an
// empty store.
func (d *Document) DSS() (*DSS, error) {
	out := NewDSS()
	v := d.Catalog().Key("DSS")
	if v.Kind() != pdf.Dict {
		return out, nil
	}

	var err error
	if out.Certs, err = readStreams(v.Key("Certs")); err != nil {
		return nil, fmt.Errorf("DSS certificates: %w", err)
	}
	if out.OCSPs, err = readStreams(v.Key("OCSPs")); err != nil {
		return nil, fmt.Errorf("DSS OCSP responses: %w", err)
	}
	if out.CRLs, err = readStreams(v.Key("CRLs")); err != nil {
		return nil, fmt.Errorf("DSS CRLs: %w", err)
	}

	vri := v.Key("VRI")
	for _, key := range vri.Keys() {
		e := vri.Key(key)
		entry := out.Entry(key)
		if entry.Certs, err = readStreams(e.Key("Cert")); err != nil {
			return nil, fmt.Errorf("VRI %s: %w", key, err)
		}
		if entry.OCSPs, err = readStreams(e.Key("OCSP")); err != nil {
			return nil, fmt.Errorf("VRI %s: %w", key, err)
		}
		if entry.CRLs, err = readStreams(e.Key("CRL")); err != nil {
			return nil, fmt.Errorf("VRI %s: %w", key, err)
		}
	}
	return out, nil
}

// dssWriter writes each distinct blob once, reusing the streams already
// referenced by the existing store.
type dssWriter struct {
	u     *Update
	known map[string]ref
}

func (w *dssWriter) learn(arr pdf.Value) error {
	for i := 0; i < arr.Len(); i++ {
		item := arr.Index(i)
		data, err := streamData(item)
		if err != nil {
			return err
		}
		w.known[string(data)] = refOf(item)
	}
	return nil
}

func (w *dssWriter) refs(list [][]byte) ([]ref, error) {
	out := make([]ref, 0, len(list))
	for _, data := range list {
		r, ok := w.known[string(data)]
		if !ok {
			var err error
			if r, err = w.u.AddStream(nil, data, true); err != nil {
				return nil, err
			}
			w.known[string(data)] = r
		}
		out = append(out, r)
	}
	return out, nil
}

// AddDSS appends an incremental update that merges additions into the
// Document Security Store and returns the updated file.
func AddDSS(doc *Document, additions *DSS) ([]byte, error) {
	existing, err := doc.DSS()
	if err != nil {
		return nil, err
	}

	u, err := doc.NewUpdate()
	if err != nil {
		return nil, err
	}

	w := &dssWriter{u: u, known: map[string]ref{}}
	current := doc.Catalog().Key("DSS")
	for _, key := range []string{"Certs", "OCSPs", "CRLs"} {
		if err := w.learn(current.Key(key)); err != nil {
			return nil, fmt.Errorf("failed to read DSS: %w", err)
		}
	}
	for _, key := range current.Key("VRI").Keys() {
		e := current.Key("VRI").Key(key)
		for _, sub := range []string{"Cert", "OCSP", "CRL"} {
			if err := w.learn(e.Key(sub)); err != nil {
				return nil, fmt.Errorf("failed to read DSS: %w", err)
			}
		}
	}

	merged := existing
	for _, c := range additions.Certs {
		merged.AddCertificate(c)
	}
	for _, o := range additions.OCSPs {
		merged.AddOCSP(o)
	}
	for _, c := range additions.CRLs {
		merged.AddCRL(c)
	}
	for key, v := range additions.VRI {
		merged.VRI[key] = v
	}

	d := newDict()
	for _, entry := range []struct {
		key  string
		list [][]byte
	}{{"Certs", merged.Certs}, {"OCSPs", merged.OCSPs}, {"CRLs", merged.CRLs}} {
		if len(entry.list) == 0 {
			continue
		}
		refs, err := w.refs(entry.list)
		if err != nil {
			return nil, fmt.Errorf("failed to write DSS: %w", err)
		}
		d.Set(entry.key, refArray(refs))
	}

	if len(merged.VRI) > 0 {
		keys := make([]string, 0, len(merged.VRI))
		for key := range merged.VRI {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		vri := newDict()
		for _, key := range keys {
			v := merged.VRI[key]
			e := newDict()
			for _, entry := range []struct {
				key  string
				list [][]byte
			}{{"Cert", v.Certs}, {"OCSP", v.OCSPs}, {"CRL", v.CRLs}} {
				if len(entry.list) == 0 {
					continue
				}
				refs, err := w.refs(entry.list)
				if err != nil {
					return nil, fmt.Errorf("failed to write VRI: %w", err)
				}
				e.Set(entry.key, refArray(refs))
			}
			vri.Set(strings.ToUpper(key), e.String())
		}
		d.Set("VRI", vri.String())
	}

	dssRef, err := u.AddObject([]byte(d.String()))
	if err != nil {
		return nil, fmt.Errorf("failed to write DSS: %w", err)
	}
	if err := u.updateCatalog(doc, func(cat *dict) error {
		cat.Set("DSS", dssRef.String())
		addESICExtension(cat, doc)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to update catalog: %w", err)
	}
	return u.Finish()
}
