// Package pdftest builds tiny, valid PDFs for tests and probes them with go-fitz.
// Each page gets its own width so page order survives any round trip.
package pdftest

import (
	"bytes"
	"fmt"

	fitz "github.com/gen2brain/go-fitz"
)

// PageHeight is shared by every generated page.
const PageHeight = 200

// Build returns a PDF with one page per width, in order.
func Build(widths ...int) []byte {
	var buf bytes.Buffer
	offsets := []int{0}
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets)-1, body)
	}

	buf.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")

	n := len(widths)
	kids := ""
	for i := 0; i < n; i++ {
		kids += fmt.Sprintf("%d 0 R ", 3+2*i)
	}
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, n))
	for i, w := range widths {
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d %d] /Contents %d 0 R /Resources << >> >>",
			w, PageHeight, 4+2*i))
		content := fmt.Sprintf("0 0 1 rg 10 10 %d 20 re f", w/2)
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets))
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets[1:] {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets), xref)
	return buf.Bytes()
}

// Widths opens data with go-fitz and reports every page width in points.
func Widths(data []byte) ([]int, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, err
	}
	defer doc.Close()
	out := make([]int, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		r, err := doc.Bound(i)
		if err != nil {
			return nil, fmt.Errorf("bound page %d: %w", i+1, err)
		}
		out = append(out, r.Dx())
	}
	return out, nil
}
