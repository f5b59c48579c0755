// Package fonts provides the fonts and glyph metrics used to lay out the
// text of visible signature appearances.
//
// Appearance text is written with WinAnsiEncoding, so metrics are kept per
// WinAnsi code (32 to 255) in the 1000 unit glyph space of PDF font
// dictionaries.
package fonts

import (
	"fmt"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/encoding/charmap"
)

const (
	firstChar = 32
	lastChar  = 255

	defaultWidth = 500
)

// StandardType is one of the standard Type 1 fonts every PDF reader
// provides without embedding.
type StandardType int

const (
	Helvetica StandardType = iota
	HelveticaBold
	TimesRoman
	TimesBold
	Courier
	CourierBold
)

// Average advance widths of the standard fonts. Only Courier is exact.
var standardFonts = map[StandardType]struct {
	name  string
	width int
}{
	Helvetica:     {"Helvetica", 556},
	HelveticaBold: {"Helvetica-Bold", 611},
	TimesRoman:    {"Times-Roman", 500},
	TimesBold:     {"Times-Bold", 520},
	Courier:       {"Courier", 600},
	CourierBold:   {"Courier-Bold", 600},
}

// Font is a font for appearance text. A Font without Data refers to a
// standard font.
type Font struct {
	Name    string // PostScript name
	Data    []byte // TrueType program, embedded as FontFile2
	Metrics *Metrics
}

// Standard returns a standard font. Unknown types return Helvetica.
func Standard(t StandardType) *Font {
	sf, ok := standardFonts[t]
	if !ok {
		sf = standardFonts[Helvetica]
	}
	m := &Metrics{Ascent: 718, Descent: -207, CapHeight: 718, BBox: [4]int{-166, -225, 1000, 931}}
	for i := range m.widths {
		m.widths[i] = sf.width
	}
	m.missing = sf.width
	return &Font{Name: sf.name, Metrics: m}
}

// Metrics holds glyph widths and font descriptor values in 1000 unit
// glyph space.
type Metrics struct {
	Ascent    int
	Descent   int
	CapHeight int
	BBox      [4]int // llx lly urx ury

	widths  [lastChar - firstChar + 1]int
	missing int
}

// TrueType parses a TrueType or OpenType font with TrueType outlines for
// embedding.
func TrueType(data []byte) (*Font, error) {
	f, err := sfnt.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	var buf sfnt.Buffer

	name, err := f.Name(&buf, sfnt.NameIDPostScript)
	if err != nil || name == "" {
		name = "EmbeddedFont"
	}

	upem := f.UnitsPerEm()
	if upem == 0 {
		return nil, fmt.Errorf("font %s has no units per em", name)
	}
	// At a ppem of unitsPerEm, advances and bounds come back in font units.
	ppem := fixed.Int26_6(upem) << 6
	scale := func(v fixed.Int26_6) int {
		return int(math.Round(float64(v) / 64 * 1000 / float64(upem)))
	}

	m := &Metrics{missing: defaultWidth}
	fm, err := f.Metrics(&buf, ppem, font.HintingNone)
	if err != nil {
		return nil, fmt.Errorf("failed to read metrics of %s: %w", name, err)
	}
	m.Ascent = scale(fm.Ascent)
	m.Descent = -scale(fm.Descent)
	m.CapHeight = scale(fm.CapHeight)
	if m.CapHeight == 0 {
		m.CapHeight = m.Ascent
	}

	// sfnt bounds have y pointing down.
	if b, err := f.Bounds(&buf, ppem, font.HintingNone); err == nil {
		m.BBox = [4]int{scale(b.Min.X), -scale(b.Max.Y), scale(b.Max.X), -scale(b.Min.Y)}
	}

	for c := firstChar; c <= lastChar; c++ {
		m.widths[c-firstChar] = m.missing
		idx, err := f.GlyphIndex(&buf, charmap.Windows1252.DecodeByte(byte(c)))
		if err != nil || idx == 0 {
			continue
		}
		advance, err := f.GlyphAdvance(&buf, idx, ppem, font.HintingNone)
		if err != nil {
			continue
		}
		m.widths[c-firstChar] = scale(advance)
	}

	return &Font{Name: name, Data: data, Metrics: m}, nil
}

// Width returns the advance width of r. Runes without a WinAnsi code get
// the missing width.
func (m *Metrics) Width(r rune) int {
	if m == nil {
		return defaultWidth
	}
	b, ok := charmap.Windows1252.EncodeRune(r)
	if !ok || int(b) < firstChar {
		return m.missing
	}
	return m.widths[int(b)-firstChar]
}

// StringWidth returns the width of text in points at size.
func (m *Metrics) StringWidth(text string, size float64) float64 {
	var total int
	for _, r := range text {
		total += m.Width(r)
	}
	return float64(total) / 1000 * size
}

// Widths returns the /Widths array for FirstChar 32 and LastChar 255.
func (m *Metrics) Widths() []int {
	out := make([]int, len(m.widths))
	copy(out, m.widths[:])
	return out
}
