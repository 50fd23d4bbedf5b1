// Package pdftest builds small but well-formed PDF documents for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math/rand"

	"github.com/disintegration/imaging"
)

// Options controls what goes into a generated document.
type Options struct {
	Pages    int
	Title    string
	Author   string
	Subject  string
	Keywords string
	Creator  string
	// XMP adds a /Metadata stream to the catalog.
	XMP bool
	// Image embeds a DCT encoded photo-like image on every page.
	Image        bool
	ImageWidth   int
	ImageHeight  int
	ImageQuality int
	// Gray encodes the image with a single component.
	Gray bool
}

// Simple is a one page document without images.
func Simple() []byte {
	return Build(Options{Pages: 1, Title: "Quarterly Report", Author: "Finance"})
}

// WithImage is a one page document carrying a large high quality JPEG.
func WithImage() []byte {
	return Build(Options{
		Pages:        1,
		Title:        "Scanned Report",
		Author:       "Scanner",
		Image:        true,
		ImageWidth:   640,
		ImageHeight:  480,
		ImageQuality: 100,
	})
}

type builder struct {
	buf     bytes.Buffer
	offsets []int
}

func (b *builder) object(body string) int {
	b.offsets = append(b.offsets, b.buf.Len())
	nr := len(b.offsets)
	fmt.Fprintf(&b.buf, "%d 0 obj\n%s\nendobj\n", nr, body)
	return nr
}

func (b *builder) stream(dict string, data []byte) int {
	b.offsets = append(b.offsets, b.buf.Len())
	nr := len(b.offsets)
	fmt.Fprintf(&b.buf, "%d 0 obj\n<< %s /Length %d >>\nstream\n", nr, dict, len(data))
	b.buf.Write(data)
	b.buf.WriteString("\nendstream\nendobj\n")
	return nr
}

// reserve returns the number the next object will get.
func (b *builder) reserve(n int) int {
	return len(b.offsets) + n
}

// Build renders a document. Object numbers are assigned in a fixed order so
// the cross reference table can be computed while writing.
func Build(opts Options) []byte {
	if opts.Pages < 1 {
		opts.Pages = 1
	}
	if opts.ImageWidth == 0 {
		opts.ImageWidth = 320
	}
	if opts.ImageHeight == 0 {
		opts.ImageHeight = 240
	}
	if opts.ImageQuality == 0 {
		opts.ImageQuality = 95
	}

	b := &builder{}
	b.buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")

	// 1 catalog, 2 page tree, then per page: page, contents, [image].
	perPage := 2
	if opts.Image {
		perPage = 3
	}
	firstPage := 3
	metadataNr := firstPage + opts.Pages*perPage
	infoNr := metadataNr
	if opts.XMP {
		infoNr++
	}

	catalog := "<< /Type /Catalog /Pages 2 0 R"
	if opts.XMP {
		catalog += fmt.Sprintf(" /Metadata %d 0 R", metadataNr)
	}
	b.object(catalog + " >>")

	kids := ""
	for i := 0; i < opts.Pages; i++ {
		kids += fmt.Sprintf("%d 0 R ", firstPage+i*perPage)
	}
	b.object(fmt.Sprintf("<< /Type /Pages /Kids [ %s] /Count %d >>", kids, opts.Pages))

	var jpg []byte
	if opts.Image {
		jpg = JPEG(opts.ImageWidth, opts.ImageHeight, opts.ImageQuality, opts.Gray)
	}

	for i := 0; i < opts.Pages; i++ {
		pageNr := b.reserve(1)
		contentsNr := pageNr + 1
		resources := "<< >>"
		content := fmt.Sprintf("0 0 0 RG 2 w 72 %d m 540 %d l S", 700-i, 700-i)
		if opts.Image {
			resources = fmt.Sprintf("<< /XObject << /Im1 %d 0 R >> >>", pageNr+2)
			content = fmt.Sprintf("q %d 0 0 %d 72 300 cm /Im1 Do Q\n%s", opts.ImageWidth/2, opts.ImageHeight/2, content)
		}
		b.object(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources %s /Contents %d 0 R >>", resources, contentsNr))
		b.stream("", []byte(content))
		if opts.Image {
			cs := "/DeviceRGB"
			if opts.Gray {
				cs = "/DeviceGray"
			}
			b.stream(fmt.Sprintf("/Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace %s /BitsPerComponent 8 /Filter /DCTDecode",
				opts.ImageWidth, opts.ImageHeight, cs), jpg)
		}
	}

	if opts.XMP {
		xmp := `<?xpacket begin="" id="W5M0MpCehiHzreSzNTczkc9d"?>` +
			`<x:xmpmeta xmlns:x="adobe:ns:meta/"><rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">` +
			`<rdf:Description rdf:about="" xmlns:dc="http://purl.org/dc/elements/1.1/"><dc:title>` + opts.Title + `</dc:title></rdf:Description>` +
			`</rdf:RDF></x:xmpmeta><?xpacket end="w"?>`
		b.stream("/Type /Metadata /Subtype /XML", []byte(xmp))
	}

	info := "<<"
	for _, kv := range [][2]string{
		{"Title", opts.Title},
		{"Author", opts.Author},
		{"Subject", opts.Subject},
		{"Keywords", opts.Keywords},
		{"Creator", opts.Creator},
		{"Producer", "pdftest"},
	} {
		if kv[1] != "" {
			info += fmt.Sprintf(" /%s (%s)", kv[0], kv[1])
		}
	}
	b.object(info + " >>")

	xref := b.buf.Len()
	size := len(b.offsets) + 1
	fmt.Fprintf(&b.buf, "xref\n0 %d\n0000000000 65535 f \n", size)
	for _, off := range b.offsets {
		fmt.Fprintf(&b.buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b.buf, "trailer\n<< /Size %d /Root 1 0 R /Info %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", size, infoNr, xref)

	return b.buf.Bytes()
}

// JPEG returns a deterministic noisy gradient encoded at quality. Noise keeps
// the image from compressing trivially so that lower qualities are visibly
// smaller.
func JPEG(width, height, quality int, gray bool) []byte {
	rng := rand.New(rand.NewSource(42))

	var img image.Image
	if gray {
		g := image.NewGray(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				v := (x*255/width + y*255/height) / 2
				g.SetGray(x, y, color.Gray{Y: uint8(clamp(v + rng.Intn(64) - 32))})
			}
		}
		img = g
	} else {
		rgba := image.NewNRGBA(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				rgba.SetNRGBA(x, y, color.NRGBA{
					R: uint8(clamp(x*255/width + rng.Intn(64) - 32)),
					G: uint8(clamp(y*255/height + rng.Intn(64) - 32)),
					B: uint8(clamp(128 + rng.Intn(64) - 32)),
					A: 255,
				})
			}
		}
		img = rgba
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
