package sign

import (
	"strconv"
	"strings"

	"github.com/digitorus/pdf"
)

// ref identifies an indirect object.
type ref struct {
	id  uint32
	gen uint16
}

func (r ref) String() string {
	return strconv.FormatUint(uint64(r.id), 10) + " " + strconv.FormatUint(uint64(r.gen), 10) + " R"
}

func refOf(v pdf.Value) ref {
	p := v.GetPtr()
	return ref{id: uint32(p.GetID()), gen: uint16(p.GetGen())}
}

// isIndirect reports whether v was reached through a reference from the
// object owner. Direct values share the pointer of their enclosing object.
func isIndirect(v pdf.Value, owner ref) bool {
	r := refOf(v)
	return r.id != 0 && r != owner
}

// serialize writes v back in PDF syntax. Values owned by other objects are
// written as references.
func serialize(v pdf.Value, owner ref) string {
	if isIndirect(v, owner) {
		return refOf(v).String()
	}

	switch v.Kind() {
	case pdf.Bool:
		return strconv.FormatBool(v.Bool())
	case pdf.Integer:
		return strconv.FormatInt(v.Int64(), 10)
	case pdf.Real:
		return formatNumber(v.Float64())
	case pdf.String:
		return pdfHexString([]byte(v.RawString()))
	case pdf.Name:
		return pdfName(v.Name())
	case pdf.Array:
		return "[" + strings.Join(arrayItems(v, owner), " ") + "]"
	case pdf.Dict:
		return dictOf(v, owner).String()
	case pdf.Stream:
		// Streams are always indirect, a direct one cannot be written inline.
		return refOf(v).String()
	}
	return "null"
}

func arrayItems(v pdf.Value, owner ref) []string {
	items := make([]string, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		items = append(items, serialize(v.Index(i), owner))
	}
	return items
}

// dict is an editable dictionary whose values are kept in PDF syntax.
type dict struct {
	keys   []string
	values map[string]string
}

func newDict() *dict {
	return &dict{values: map[string]string{}}
}

// dictOf copies the entries of a dictionary or stream dictionary.
func dictOf(v pdf.Value, owner ref) *dict {
	d := newDict()
	for _, key := range v.Keys() {
		d.Set(key, serialize(v.Key(key), owner))
	}
	return d
}

func (d *dict) Set(key, value string) *dict {
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
	return d
}

func (d *dict) Get(key string) (string, bool) {
	v, ok := d.values[key]
	return v, ok
}

func (d *dict) Delete(key string) {
	if _, ok := d.values[key]; !ok {
		return
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

func (d *dict) String() string {
	var b strings.Builder
	b.WriteString("<<")
	for _, key := range d.keys {
		b.WriteString(" ")
		b.WriteString(pdfName(key))
		b.WriteString(" ")
		b.WriteString(d.values[key])
	}
	b.WriteString(" >>")
	return b.String()
}

func refArray(refs []ref) string {
	items := make([]string, len(refs))
	for i, r := range refs {
		items[i] = r.String()
	}
	return "[" + strings.Join(items, " ") + "]"
}
