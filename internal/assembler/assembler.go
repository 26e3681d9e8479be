// Package assembler builds one PDF out of an ordered list of (document, page) picks.
// Output order always equals the order of the surviving picks; nothing is
// deduplicated or grouped by source.
package assembler

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/local/notesync/internal/blob"
	"github.com/local/notesync/internal/metrics"
)

// ErrNoValidPages is the only hard failure: every selection was dropped.
var ErrNoValidPages = errors.New("no valid pages selected")

// ErrUnknownSource is returned by Sources when an id does not resolve.
var ErrUnknownSource = errors.New("unknown source document")

// Selection picks one 1-based page of a source document.
type Selection struct {
	MaterialID string `json:"material_id"`
	Page       int    `json:"page_num"`
}

// Source is what the assembler needs to know about a document.
type Source struct {
	ID        string
	Key       string
	PageCount int
}

// Sources resolves selection ids to documents.
type Sources interface {
	Source(ctx context.Context, id string) (Source, error)
}

// PageCountRecorder is optionally implemented by Sources to cache page counts.
type PageCountRecorder interface {
	RecordPageCount(ctx context.Context, id string, pages int) error
}

// Engine is the PDF toolkit.
type Engine interface {
	Open(data []byte) (Doc, error)
	Merge(parts [][]byte) ([]byte, error)
}

// Doc is an opened source PDF.
type Doc interface {
	PageCount() int
	ExtractPage(page int) ([]byte, error)
}

// Provenance maps one output page back to its origin.
type Provenance struct {
	OutputPage int    `json:"output_page"`
	MaterialID string `json:"material_id"`
	SourcePage int    `json:"source_page"`
}

// Skip records why a selection was dropped.
type Skip struct {
	Index      int    `json:"index"`
	MaterialID string `json:"material_id"`
	Page       int    `json:"page_num"`
	Reason     string `json:"reason"`
}

const (
	SkipUnresolved = "unresolved"
	SkipUnreadable = "unreadable"
	SkipOutOfRange = "out_of_range"
	SkipExtract    = "extract_failed"
)

// Result is the merged PDF with per-page provenance in output order.
type Result struct {
	PDF     []byte
	Pages   []Provenance
	Skipped []Skip
}

type Assembler struct {
	sources Sources
	store   blob.Store
	engine  Engine
}

func New(sources Sources, store blob.Store, engine Engine) *Assembler {
	return &Assembler{sources: sources, store: store, engine: engine}
}

type opened struct {
	doc Doc
	err error
	why string
}

// Assemble extracts each selected page and merges them in the given order.
// Bad selections are logged and dropped.
func (a *Assembler) Assemble(ctx context.Context, selections []Selection) (*Result, error) {
	res := &Result{}
	parts := make([][]byte, 0, len(selections))
	docs := make(map[string]*opened)

	skip := func(i int, s Selection, reason string, err error) {
		res.Skipped = append(res.Skipped, Skip{Index: i, MaterialID: s.MaterialID, Page: s.Page, Reason: reason})
		metrics.IncSelectionDropped(reason)
		ev := log.Warn().Int("index", i).Str("material_id", s.MaterialID).Int("page", s.Page).Str("reason", reason)
		if err != nil {
			ev = ev.Err(err)
		}
		ev.Msg("dropping page selection")
	}

	for i, s := range selections {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		o, ok := docs[s.MaterialID]
		if !ok {
			o = a.open(ctx, s.MaterialID)
			docs[s.MaterialID] = o
		}
		if o.err != nil {
			skip(i, s, o.why, o.err)
			continue
		}
		if s.Page < 1 || s.Page > o.doc.PageCount() {
			skip(i, s, SkipOutOfRange, nil)
			continue
		}
		page, err := o.doc.ExtractPage(s.Page)
		if err != nil {
			skip(i, s, SkipExtract, err)
			continue
		}
		parts = append(parts, page)
		res.Pages = append(res.Pages, Provenance{OutputPage: len(parts), MaterialID: s.MaterialID, SourcePage: s.Page})
	}

	if len(parts) == 0 {
		metrics.IncAssembly("no_valid_pages")
		return nil, ErrNoValidPages
	}

	merged, err := a.engine.Merge(parts)
	if err != nil {
		metrics.IncAssembly("failed")
		return nil, fmt.Errorf("merge composite: %w", err)
	}
	res.PDF = merged
	metrics.IncAssembly("ok")
	log.Info().
		Int("requested", len(selections)).
		Int("pages", len(res.Pages)).
		Int("skipped", len(res.Skipped)).
		Msg("assembled composite PDF")
	return res, nil
}

func (a *Assembler) open(ctx context.Context, id string) *opened {
	src, err := a.sources.Source(ctx, id)
	if err != nil {
		return &opened{err: err, why: SkipUnresolved}
	}
	data, err := a.store.Get(ctx, src.Key)
	if err != nil {
		return &opened{err: err, why: SkipUnresolved}
	}
	doc, err := a.engine.Open(data)
	if err != nil {
		return &opened{err: err, why: SkipUnreadable}
	}
	if n := doc.PageCount(); n != src.PageCount {
		if rec, ok := a.sources.(PageCountRecorder); ok {
			if err := rec.RecordPageCount(ctx, id, n); err != nil {
				log.Warn().Err(err).Str("material_id", id).Msg("failed to record page count")
			}
		}
	}
	return &opened{doc: doc}
}
