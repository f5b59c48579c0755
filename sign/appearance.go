package sign

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG format
	_ "image/png"  // register PNG format
	"regexp"
	"strings"
	"time"

	"github.com/digitorus/pades/fonts"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

const (
	appearanceMargin  = 2.0
	appearanceLeading = 1.2
	maxAutoFontSize   = 12.0
)

// Appearance describes the visible part of a signature field.
type Appearance struct {
	// Text is drawn top down, one line per newline. The variables {{Name}},
	// {{Date}}, {{Reason}}, {{Location}} and {{Initials}} are expanded.
	Text string
	// Font defaults to Helvetica.
	Font *fonts.Font
	// FontSize zero selects the largest size, up to 12pt, that fits.
	FontSize float64
	// Image is a JPEG or PNG drawn behind the text, scaled to fit.
	Image []byte
}

// templateValues feeds the template variables of Appearance.Text.
type templateValues struct {
	Name     string
	Date     time.Time
	Reason   string
	Location string
}

var templateVarRegex = regexp.MustCompile(`\{\{(\w+)\}\}`)

func expandTemplate(text string, v templateValues) string {
	return templateVarRegex.ReplaceAllStringFunc(text, func(match string) string {
		switch match[2 : len(match)-2] {
		case "Name":
			return v.Name
		case "Date":
			return v.Date.Format("2006-01-02")
		case "Reason":
			return v.Reason
		case "Location":
			return v.Location
		case "Initials":
			return initials(v.Name)
		}
		return match
	})
}

// initials returns "JD" for "John Doe".
func initials(name string) string {
	var b strings.Builder
	for _, part := range strings.Fields(name) {
		for _, r := range part {
			b.WriteRune(r)
			break
		}
	}
	return strings.ToUpper(b.String())
}

// defaultAppearanceText is used for visible signatures without text.
func defaultAppearanceText(v templateValues) string {
	lines := []string{}
	if v.Name != "" {
		lines = append(lines, "Digitally signed by "+v.Name)
	}
	lines = append(lines, "Date: "+v.Date.Format("2006.01.02 15:04:05 -07'00'"))
	if v.Reason != "" {
		lines = append(lines, "Reason: "+v.Reason)
	}
	if v.Location != "" {
		lines = append(lines, "Location: "+v.Location)
	}
	return strings.Join(lines, "\n")
}

// addAppearance writes the normal appearance form XObject of a widget with
// the given size. A nil appearance produces an empty form.
func (u *Update) addAppearance(a *Appearance, width, height float64, values templateValues) (ref, error) {
	form := newDict().
		Set("Type", "/XObject").
		Set("Subtype", "/Form").
		Set("BBox", fmt.Sprintf("[0 0 %s %s]", formatNumber(width), formatNumber(height)))

	if a == nil || width <= 0 || height <= 0 {
		form.Set("Resources", "<< >>")
		return u.AddStream(form, nil, false)
	}

	resources := newDict()
	var content bytes.Buffer

	if len(a.Image) > 0 {
		img, w, h, err := u.addImage(a.Image)
		if err != nil {
			return ref{}, err
		}
		resources.Set("XObject", "<< /Im1 "+img.String()+" >>")
		drawImage(&content, width, height, float64(w), float64(h))
	}

	text := a.Text
	if text == "" {
		text = defaultAppearanceText(values)
	}
	text = expandTemplate(text, values)

	font := a.Font
	if font == nil {
		font = fonts.Standard(fonts.Helvetica)
	}
	fontRef, err := u.addFont(font)
	if err != nil {
		return ref{}, err
	}
	resources.Set("Font", "<< /F1 "+fontRef.String()+" >>")

	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	size := a.FontSize
	if size <= 0 {
		size = fitFontSize(lines, font.Metrics, width, height)
	}
	drawText(&content, lines, size, height)

	form.Set("Resources", resources.String())
	return u.AddStream(form, content.Bytes(), true)
}

// fitFontSize returns the largest font size at which every line fits the
// rectangle.
func fitFontSize(lines []string, m *fonts.Metrics, width, height float64) float64 {
	size := maxAutoFontSize
	available := width - 2*appearanceMargin
	for _, line := range lines {
		if w := m.StringWidth(line, 1); w > 0 && available/w < size {
			size = available / w
		}
	}
	if byHeight := (height - 2*appearanceMargin) / (float64(len(lines)) * appearanceLeading); byHeight < size {
		size = byHeight
	}
	if size < 1 {
		size = 1
	}
	return size
}

var winAnsi = encoding.ReplaceUnsupported(charmap.Windows1252.NewEncoder())

func drawText(buf *bytes.Buffer, lines []string, size, height float64) {
	leading := size * appearanceLeading
	buf.WriteString("q BT\n")
	fmt.Fprintf(buf, "/F1 %s Tf\n", formatNumber(size))
	fmt.Fprintf(buf, "%s TL\n", formatNumber(leading))
	fmt.Fprintf(buf, "%s %s Td\n", formatNumber(appearanceMargin), formatNumber(height-appearanceMargin-size))
	for i, line := range lines {
		if i > 0 {
			buf.WriteString("T*\n")
		}
		encoded, err := winAnsi.String(line)
		if err != nil {
			encoded = line
		}
		fmt.Fprintf(buf, "%s Tj\n", pdfHexString([]byte(encoded)))
	}
	buf.WriteString("ET Q\n")
}

// drawImage scales the image to fit the rectangle and centers it.
func drawImage(buf *bytes.Buffer, width, height, imgWidth, imgHeight float64) {
	scale := width / imgWidth
	if s := height / imgHeight; s < scale {
		scale = s
	}
	w, h := imgWidth*scale, imgHeight*scale
	fmt.Fprintf(buf, "q %s 0 0 %s %s %s cm /Im1 Do Q\n",
		formatNumber(w), formatNumber(h), formatNumber((width-w)/2), formatNumber((height-h)/2))
}

// addImage writes an image XObject. JPEG data without transparency is
// embedded as is, anything else is re-encoded with FlateDecode and an SMask.
func (u *Update) addImage(data []byte) (ref, int, int, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return ref{}, 0, 0, fmt.Errorf("failed to decode image: %w", err)
	}
	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	var rgb, alpha bytes.Buffer
	hasAlpha := false
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := src.At(x, y).RGBA()
			if a>>8 < 255 {
				hasAlpha = true
			}
			rgb.Write([]byte{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)})
			alpha.WriteByte(uint8(a >> 8))
		}
	}

	d := newDict().
		Set("Type", "/XObject").
		Set("Subtype", "/Image").
		Set("Width", fmt.Sprint(width)).
		Set("Height", fmt.Sprint(height)).
		Set("ColorSpace", "/DeviceRGB").
		Set("BitsPerComponent", "8")

	if hasAlpha {
		smask := newDict().
			Set("Type", "/XObject").
			Set("Subtype", "/Image").
			Set("Width", fmt.Sprint(width)).
			Set("Height", fmt.Sprint(height)).
			Set("ColorSpace", "/DeviceGray").
			Set("BitsPerComponent", "8")
		smaskRef, err := u.AddStream(smask, alpha.Bytes(), true)
		if err != nil {
			return ref{}, 0, 0, err
		}
		d.Set("SMask", smaskRef.String())
	}

	if format == "jpeg" && !hasAlpha {
		d.Set("Filter", "/DCTDecode")
		r, err := u.AddStream(d, data, false)
		return r, width, height, err
	}
	r, err := u.AddStream(d, rgb.Bytes(), true)
	return r, width, height, err
}

// addFont writes a font dictionary. Fonts with data are embedded as
// TrueType, the others refer to a standard Type 1 font.
func (u *Update) addFont(f *fonts.Font) (ref, error) {
	if len(f.Data) == 0 {
		return u.AddObject([]byte(newDict().
			Set("Type", "/Font").
			Set("Subtype", "/Type1").
			Set("BaseFont", pdfName(f.Name)).
			Set("Encoding", "/WinAnsiEncoding").
			String()))
	}

	m := f.Metrics
	if m == nil {
		return ref{}, fmt.Errorf("font %s has no metrics", f.Name)
	}
	file, err := u.AddStream(newDict().Set("Length1", fmt.Sprint(len(f.Data))), f.Data, true)
	if err != nil {
		return ref{}, err
	}
	descriptor, err := u.AddObject([]byte(newDict().
		Set("Type", "/FontDescriptor").
		Set("FontName", pdfName(f.Name)).
		Set("Flags", "32").
		Set("FontBBox", fmt.Sprintf("[%d %d %d %d]", m.BBox[0], m.BBox[1], m.BBox[2], m.BBox[3])).
		Set("ItalicAngle", "0").
		Set("Ascent", fmt.Sprint(m.Ascent)).
		Set("Descent", fmt.Sprint(m.Descent)).
		Set("CapHeight", fmt.Sprint(m.CapHeight)).
		Set("StemV", "80").
		Set("FontFile2", file.String()).
		String()))
	if err != nil {
		return ref{}, err
	}

	widths := m.Widths()
	items := make([]string, len(widths))
	for i, w := range widths {
		items[i] = fmt.Sprint(w)
	}
	return u.AddObject([]byte(newDict().
		Set("Type", "/Font").
		Set("Subtype", "/TrueType").
		Set("BaseFont", pdfName(f.Name)).
		Set("FirstChar", "32").
		Set("LastChar", "255").
		Set("Widths", "["+strings.Join(items, " ")+"]").
		Set("Encoding", "/WinAnsiEncoding").
		Set("FontDescriptor", descriptor.String()).
		String()))
}
