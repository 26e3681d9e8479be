package assembler

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFCPU implements Engine with pdfcpu.
type PDFCPU struct {
	conf *model.Configuration
}

func NewPDFCPU() *PDFCPU {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFCPU{conf: conf}
}

type pdfcpuDoc struct {
	ctx  *model.Context
	conf *model.Configuration
}

func (p *PDFCPU) Open(data []byte) (Doc, error) {
	ctx, err := api.ReadContext(bytes.NewReader(data), p.conf)
	if err != nil {
		return nil, fmt.Errorf("read PDF context: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("count pages: %w", err)
	}
	return &pdfcpuDoc{ctx: ctx, conf: p.conf}, nil
}

func (d *pdfcpuDoc) PageCount() int { return d.ctx.PageCount }

// ExtractPage writes a standalone single-page PDF for the 1-based page.
func (d *pdfcpuDoc) ExtractPage(page int) ([]byte, error) {
	if page < 1 || page > d.ctx.PageCount {
		return nil, fmt.Errorf("page %d out of range 1..%d", page, d.ctx.PageCount)
	}
	out, err := pdfcpu.ExtractPages(d.ctx, []int{page}, false)
	if err != nil {
		return nil, fmt.Errorf("extract page %d: %w", page, err)
	}
	var buf bytes.Buffer
	if err := api.WriteContext(out, &buf); err != nil {
		return nil, fmt.Errorf("write page %d: %w", page, err)
	}
	return buf.Bytes(), nil
}

// Merge concatenates the given PDFs in slice order.
func (p *PDFCPU) Merge(parts [][]byte) ([]byte, error) {
	switch len(parts) {
	case 0:
		return nil, fmt.Errorf("nothing to merge")
	case 1:
		return parts[0], nil
	}
	readers := make([]io.ReadSeeker, 0, len(parts))
	for _, part := range parts {
		readers = append(readers, bytes.NewReader(part))
	}
	var buf bytes.Buffer
	if err := api.MergeRaw(readers, &buf, false, p.conf); err != nil {
		return nil, fmt.Errorf("merge %d pages: %w", len(parts), err)
	}
	return buf.Bytes(), nil
}
