package sign

import (
	"bytes"
	"compress/zlib"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/digitorus/pdf"
	"github.com/mattetti/filebuffer"
)

type xrefEntry struct {
	ID     uint32
	Offset int64
}

// Update appends one incremental update to a document. Objects are written
// as they are added; Finish writes the cross-reference section and trailer.
type Update struct {
	doc     *Document
	buf     *filebuffer.Buffer
	nextID  uint32
	entries []xrefEntry
	root    ref

	// catalogEdits are applied when the catalog is rewritten.
	catalogEdits []func(cat *dict) error
}

// NewUpdate starts an incremental update of d.
func (d *Document) NewUpdate() (*Update, error) {
	buf := filebuffer.New([]byte{})
	if _, err := buf.Write(d.data); err != nil {
		return nil, err
	}
	// The previous revision may end without an end of line.
	if _, err := buf.Write([]byte("\n")); err != nil {
		return nil, err
	}

	size := d.trailer().Key("Size").Int64()
	if size <= 0 {
		size = d.reader.XrefInformation.ItemCount
	}
	return &Update{
		doc:    d,
		buf:    buf,
		nextID: uint32(size),
		root:   refOf(d.Catalog()),
	}, nil
}

// Len returns the number of bytes written so far.
func (u *Update) Len() int64 { return int64(u.buf.Buff.Len()) }

// Allocate reserves a new object number.
func (u *Update) Allocate() ref {
	r := ref{id: u.nextID}
	u.nextID++
	return r
}

// AddObject writes body as a new object.
func (u *Update) AddObject(body []byte) (ref, error) {
	r := u.Allocate()
	if _, err := u.WriteObject(r, body); err != nil {
		return ref{}, err
	}
	return r, nil
}

// AddStream writes a stream object with the given dictionary entries. The
// data is compressed with FlateDecode when compress is set.
func (u *Update) AddStream(d *dict, data []byte, compress bool) (ref, error) {
	if d == nil {
		d = newDict()
	}
	if compress {
		var b bytes.Buffer
		w := zlib.NewWriter(&b)
		if _, err := w.Write(data); err != nil {
			return ref{}, err
		}
		if err := w.Close(); err != nil {
			return ref{}, err
		}
		data = b.Bytes()
		d.Set("Filter", "/FlateDecode")
	}
	d.Set("Length", strconv.Itoa(len(data)))

	var body bytes.Buffer
	body.WriteString(d.String())
	body.WriteString("\nstream\n")
	body.Write(data)
	body.WriteString("\nendstream")
	return u.AddObject(body.Bytes())
}

// WriteObject writes body as object r, replacing an earlier revision of it
// when r already exists. It returns the offset of body in the output.
func (u *Update) WriteObject(r ref, body []byte) (int64, error) {
	start := u.Len()
	header := strconv.FormatUint(uint64(r.id), 10) + " " + strconv.FormatUint(uint64(r.gen), 10) + " obj\n"
	if _, err := u.buf.Write([]byte(header)); err != nil {
		return 0, fmt.Errorf("failed to write object %d: %w", r.id, err)
	}
	offset := u.Len()
	if _, err := u.buf.Write(body); err != nil {
		return 0, fmt.Errorf("failed to write object %d: %w", r.id, err)
	}
	if _, err := u.buf.Write([]byte("\nendobj\n")); err != nil {
		return 0, fmt.Errorf("failed to write object %d: %w", r.id, err)
	}

	for i, e := range u.entries {
		if e.ID == r.id {
			u.entries[i].Offset = start
			return offset, nil
		}
	}
	u.entries = append(u.entries, xrefEntry{ID: r.id, Offset: start})
	return offset, nil
}

// UpdateDict rewrites the dictionary object v after edit has changed it.
func (u *Update) UpdateDict(v pdf.Value, edit func(d *dict)) error {
	r := refOf(v)
	if r.id == 0 {
		return fmt.Errorf("cannot update a direct object")
	}
	d := dictOf(v, r)
	edit(d)
	_, err := u.WriteObject(r, []byte(d.String()))
	return err
}

// Finish writes the cross-reference section and the trailer and returns the
// complete file.
func (u *Update) Finish() ([]byte, error) {
	var err error
	if u.doc.reader.XrefInformation.Type == "stream" {
		err = u.writeXrefStream()
	} else {
		err = u.writeXrefTable()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write xref: %w", err)
	}
	return u.buf.Buff.Bytes(), nil
}

// sections groups sorted entries into consecutive runs.
func sections(entries []xrefEntry) [][]xrefEntry {
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	var out [][]xrefEntry
	for i, e := range entries {
		if i == 0 || e.ID != entries[i-1].ID+1 {
			out = append(out, nil)
		}
		out[len(out)-1] = append(out[len(out)-1], e)
	}
	return out
}

func (u *Update) writeXrefTable() error {
	xrefStart := u.Len()

	var b bytes.Buffer
	b.WriteString("xref\n")
	for _, section := range sections(u.entries) {
		fmt.Fprintf(&b, "%d %d\n", section[0].ID, len(section))
		for _, e := range section {
			fmt.Fprintf(&b, "%010d 00000 n\r\n", e.Offset)
		}
	}

	trailer := u.trailerDict()
	b.WriteString("trailer\n")
	b.WriteString(trailer.String())
	fmt.Fprintf(&b, "\nstartxref\n%d\n%%%%EOF\n", xrefStart)

	_, err := u.buf.Write(b.Bytes())
	return err
}

func (u *Update) writeXrefStream() error {
	self := u.Allocate()
	xrefStart := u.Len()
	u.entries = append(u.entries, xrefEntry{ID: self.id, Offset: xrefStart})

	var rows bytes.Buffer
	var index []string
	for _, section := range sections(u.entries) {
		index = append(index, strconv.FormatUint(uint64(section[0].ID), 10), strconv.Itoa(len(section)))
		for _, e := range section {
			rows.WriteByte(1)
			var offset [4]byte
			binary.BigEndian.PutUint32(offset[:], uint32(e.Offset))
			rows.Write(offset[:])
			rows.WriteByte(0)
		}
	}

	var compressed bytes.Buffer
	w := zlib.NewWriter(&compressed)
	if _, err := w.Write(rows.Bytes()); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	d := u.trailerDict()
	d.Set("Type", "/XRef")
	d.Set("W", "[1 4 1]")
	d.Set("Index", "["+strings.Join(index, " ")+"]")
	d.Set("Filter", "/FlateDecode")
	d.Set("Length", strconv.Itoa(compressed.Len()))

	var b bytes.Buffer
	fmt.Fprintf(&b, "%d 0 obj\n", self.id)
	b.WriteString(d.String())
	b.WriteString("\nstream\n")
	b.Write(compressed.Bytes())
	b.WriteString("\nendstream\nendobj\n")
	fmt.Fprintf(&b, "startxref\n%d\n%%%%EOF\n", xrefStart)

	_, err := u.buf.Write(b.Bytes())
	return err
}

func (u *Update) trailerDict() *dict {
	t := u.doc.trailer()
	d := newDict()
	d.Set("Size", strconv.FormatUint(uint64(u.nextID), 10))
	d.Set("Root", u.root.String())
	if info := t.Key("Info"); !info.IsNull() {
		d.Set("Info", serialize(info, ref{}))
	}
	d.Set("Prev", strconv.FormatInt(u.doc.reader.XrefInformation.StartPos, 10))

	id := t.Key("ID")
	if id.Len() == 2 {
		d.Set("ID", "["+pdfHexString([]byte(id.Index(0).RawString()))+" "+pdfHexString([]byte(id.Index(1).RawString()))+"]")
	} else {
		sum := md5.Sum([]byte(time.Now().String() + strconv.Itoa(len(u.doc.data))))
		d.Set("ID", "["+pdfHexString(sum[:])+" "+pdfHexString(sum[:])+"]")
	}
	return d
}
