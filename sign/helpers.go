package sign

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// pdfString encodes text as a PDF text string. Non ASCII text is written as
// UTF-16BE with a byte order mark in hexadecimal form.
func pdfString(text string) string {
	if !isASCII(text) {
		enc := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewEncoder()
		res, _, err := transform.String(enc, text)
		if err == nil {
			return pdfHexString([]byte(res))
		}
	}

	text = strings.ReplaceAll(text, "\\", "\\\\")
	text = strings.ReplaceAll(text, ")", "\\)")
	text = strings.ReplaceAll(text, "(", "\\(")
	text = strings.ReplaceAll(text, "\r", "\\r")
	return "(" + text + ")"
}

// pdfHexString writes raw bytes as a hexadecimal string.
func pdfHexString(b []byte) string {
	return "<" + strings.ToUpper(hex.EncodeToString(b)) + ">"
}

// pdfName writes a name object, escaping delimiters with #xx.
func pdfName(name string) string {
	var b strings.Builder
	b.WriteByte('/')
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < '!' || c > '~' || strings.IndexByte("#()<>[]{}/%", c) >= 0 {
			fmt.Fprintf(&b, "#%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// pdfDateTime formats a date as D:YYYYMMDDHHmmSS+HH'mm'.
func pdfDateTime(date time.Time) string {
	_, offset := date.Zone()
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	return pdfString(fmt.Sprintf("D:%s%s%02d'%02d'", date.Format("20060102150405"), sign, offset/3600, (offset%3600)/60))
}

// parsePDFDate parses the date format written by pdfDateTime and its
// shortened variants.
func parsePDFDate(s string) (time.Time, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "D:")
	s = strings.ReplaceAll(s, "'", "")
	if len(s) < 4 {
		return time.Time{}, fmt.Errorf("invalid PDF date %q", s)
	}

	digits := len(s)
	for i, c := range s {
		if c < '0' || c > '9' {
			digits = i
			break
		}
	}
	stamp, zone := s[:digits], s[digits:]
	if len(stamp) > 14 {
		stamp = stamp[:14]
	}
	// Missing fields default to the start of the period.
	stamp += "0101000000"[min(10, max(0, len(stamp)-4)):]

	t, err := time.Parse("20060102150405", stamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid PDF date %q: %w", s, err)
	}

	switch {
	case zone == "" || zone == "Z":
		return t, nil
	case zone[0] == '+' || zone[0] == '-':
		offset, err := parseZoneOffset(zone[1:])
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid PDF date zone %q", s)
		}
		if zone[0] == '-' {
			offset = -offset
		}
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.FixedZone("", offset)), nil
	}
	return time.Time{}, fmt.Errorf("invalid PDF date zone %q", s)
}

func parseZoneOffset(hhmm string) (int, error) {
	hhmm = (hhmm + "0000")[:4]
	hours, err := strconv.Atoi(hhmm[:2])
	if err != nil {
		return 0, err
	}
	minutes, err := strconv.Atoi(hhmm[2:])
	if err != nil {
		return 0, err
	}
	return hours*3600 + minutes*60, nil
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > '\u007F' {
			return false
		}
	}
	return true
}
