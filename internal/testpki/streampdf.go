package testpki

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// StreamXrefPDF builds a single page PDF 1.7 document whose cross-reference
// section is an uncompressed xref stream.
func StreamXrefPDF() []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")

	content := "BT /F1 18 Tf 72 720 Td (Cross reference stream) Tj ET"
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	offsets := make([]int, 0, len(objects)+1)
	for i, body := range objects {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}

	xrefID := len(objects) + 1
	xrefOffset := buf.Len()
	offsets = append(offsets, xrefOffset)

	var rows bytes.Buffer
	writeRow := func(kind byte, field2 uint32, field3 uint16) {
		rows.WriteByte(kind)
		var b4 [4]byte
		binary.BigEndian.PutUint32(b4[:], field2)
		rows.Write(b4[:])
		var b2 [2]byte
		binary.BigEndian.PutUint16(b2[:], field3)
		rows.Write(b2[:])
	}
	writeRow(0, 0, 65535)
	for _, off := range offsets {
		writeRow(1, uint32(off), 0)
	}

	fmt.Fprintf(&buf, "%d 0 obj\n<< /Type /XRef /Size %d /W [1 4 2] /Root 1 0 R /ID [<8f1e0a8cbbf14c1b9a3c2d4e5f607182><8f1e0a8cbbf14c1b9a3c2d4e5f607182>] /Length %d >>\nstream\n",
		xrefID, xrefID+1, rows.Len())
	buf.Write(rows.Bytes())
	buf.WriteString("\nendstream\nendobj\n")
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)

	return buf.Bytes()
}
