// Package pageasset memoizes the rasterized page images of a source document.
//
// Pages live under thumbnails/{document}/page_{n}.jpg with a manifest written
// last. A set counts as present only when the manifest exists and every page
// from 1 to the manifest's count is listed; anything else is treated as absent
// and rebuilt.
package pageasset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/local/notesync/internal/blob"
	"github.com/local/notesync/internal/filetype"
	"github.com/local/notesync/internal/metrics"
)

const manifestName = "manifest.json"

// Document identifies a source PDF. Key is opaque.
type Document struct {
	ID  string
	Key string
}

// Ref points at one stored page image. Page is 1-based.
type Ref struct {
	DocumentID string `json:"document_id"`
	Page       int    `json:"page"`
	Key        string `json:"key"`
}

// Rasterizer renders every page of a PDF into encoded images, in page order.
type Rasterizer interface {
	RenderAll(ctx context.Context, pdf []byte) ([][]byte, error)
}

// RasterizationFailure means the document cannot be paged. Callers should not retry it automatically.
type RasterizationFailure struct {
	DocumentID string
	Err        error
}

func (e *RasterizationFailure) Error() string {
	return fmt.Sprintf("rasterize document %s: %v", e.DocumentID, e.Err)
}

func (e *RasterizationFailure) Unwrap() error { return e.Err }

type manifest struct {
	DocumentID string    `json:"document_id"`
	Pages      int       `json:"pages"`
	DPI        int       `json:"dpi"`
	Quality    int       `json:"quality"`
	CreatedAt  time.Time `json:"created_at"`
}

// Options records the render parameters in each manifest.
type Options struct {
	DPI     int
	Quality int
}

// Cache is the only writer under the page-asset prefix.
type Cache struct {
	store  blob.Store
	raster Rasterizer
	sniff  *filetype.Detector
	opts   Options
	group  singleflight.Group
	now    func() time.Time
}

func New(store blob.Store, raster Rasterizer, opts Options) *Cache {
	return &Cache{
		store:  store,
		raster: raster,
		sniff:  filetype.New(),
		opts:   opts,
		now:    time.Now,
	}
}

func pageKey(documentID string, page int) string {
	return fmt.Sprintf("%spage_%d.jpg", blob.PageAssetPrefix(documentID), page)
}

func manifestKey(documentID string) string {
	return blob.PageAssetPrefix(documentID) + manifestName
}

// Rasterize returns the ordered page refs for doc, building them on a miss.
// Concurrent calls for the same document share one build.
func (c *Cache) Rasterize(ctx context.Context, doc Document) ([]Ref, error) {
	if doc.ID == "" {
		return nil, &RasterizationFailure{DocumentID: doc.ID, Err: errors.New("empty document id")}
	}
	refs, ok, err := c.lookup(ctx, doc.ID)
	if err != nil {
		metrics.IncRasterize("failed")
		return nil, &RasterizationFailure{DocumentID: doc.ID, Err: err}
	}
	if ok {
		metrics.IncRasterize("hit")
		return refs, nil
	}

	v, err, shared := c.group.Do(doc.ID, func() (interface{}, error) {
		if refs, ok, err := c.lookup(ctx, doc.ID); err == nil && ok {
			return refs, nil
		}
		return c.build(ctx, doc)
	})
	if err != nil {
		metrics.IncRasterize("failed")
		var rf *RasterizationFailure
		if errors.As(err, &rf) {
			return nil, rf
		}
		return nil, &RasterizationFailure{DocumentID: doc.ID, Err: err}
	}
	if !shared {
		metrics.IncRasterize("miss")
	}
	out := v.([]Ref)
	return append([]Ref(nil), out...), nil
}

func (c *Cache) lookup(ctx context.Context, documentID string) ([]Ref, bool, error) {
	raw, err := c.store.Get(ctx, manifestKey(documentID))
	if errors.Is(err, blob.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil || m.Pages < 0 {
		log.Warn().Str("document_id", documentID).Msg("unreadable page manifest, rebuilding")
		return nil, false, nil
	}

	keys, err := c.store.List(ctx, blob.PageAssetPrefix(documentID))
	if err != nil {
		return nil, false, fmt.Errorf("list pages: %w", err)
	}
	present := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		present[k] = struct{}{}
	}
	refs := make([]Ref, 0, m.Pages)
	for p := 1; p <= m.Pages; p++ {
		k := pageKey(documentID, p)
		if _, ok := present[k]; !ok {
			log.Warn().Str("document_id", documentID).Int("page", p).Msg("page set incomplete, rebuilding")
			return nil, false, nil
		}
		refs = append(refs, Ref{DocumentID: documentID, Page: p, Key: k})
	}
	return refs, true, nil
}

func (c *Cache) build(ctx context.Context, doc Document) ([]Ref, error) {
	start := c.now()
	fail := func(err error) error {
		return &RasterizationFailure{DocumentID: doc.ID, Err: err}
	}

	src, err := c.store.Get(ctx, doc.Key)
	if err != nil {
		return nil, fail(fmt.Errorf("fetch source: %w", err))
	}
	if err := c.sniff.RequirePDF(src); err != nil {
		return nil, fail(err)
	}
	images, err := c.raster.RenderAll(ctx, src)
	if err != nil {
		return nil, fail(err)
	}

	// a stale manifest must not vouch for pages that are about to be replaced
	if err := c.store.Delete(ctx, manifestKey(doc.ID)); err != nil {
		return nil, fail(fmt.Errorf("clear manifest: %w", err))
	}

	written := make([]string, 0, len(images))
	rollback := func() {
		// the caller's context may already be cancelled
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		for _, k := range written {
			if err := c.store.Delete(cctx, k); err != nil {
				log.Error().Err(err).Str("key", k).Msg("failed to remove partial page asset")
			}
		}
	}

	refs := make([]Ref, 0, len(images))
	for i, img := range images {
		page := i + 1
		k := pageKey(doc.ID, page)
		if err := c.store.Put(ctx, k, img, filetype.MIMEJPEG); err != nil {
			rollback()
			return nil, fail(fmt.Errorf("store page %d: %w", page, err))
		}
		written = append(written, k)
		refs = append(refs, Ref{DocumentID: doc.ID, Page: page, Key: k})
	}

	m, _ := json.Marshal(manifest{
		DocumentID: doc.ID,
		Pages:      len(images),
		DPI:        c.opts.DPI,
		Quality:    c.opts.Quality,
		CreatedAt:  c.now().UTC(),
	})
	if err := c.store.Put(ctx, manifestKey(doc.ID), m, "application/json"); err != nil {
		rollback()
		return nil, fail(fmt.Errorf("store manifest: %w", err))
	}

	dur := c.now().Sub(start)
	metrics.ObserveRasterize(dur)
	log.Info().
		Str("document_id", doc.ID).
		Int("pages", len(refs)).
		Dur("took", dur).
		Msg("rasterized document")
	return refs, nil
}

// Images loads the stored bytes for refs, in order.
func (c *Cache) Images(ctx context.Context, refs []Ref) ([][]byte, error) {
	out := make([][]byte, 0, len(refs))
	for _, r := range refs {
		data, err := c.store.Get(ctx, r.Key)
		if err != nil {
			return nil, fmt.Errorf("load page %d of %s: %w", r.Page, r.DocumentID, err)
		}
		out = append(out, data)
	}
	return out, nil
}

// Page loads a single page image by 1-based index, rasterizing the document if needed.
func (c *Cache) Page(ctx context.Context, doc Document, page int) ([]byte, error) {
	refs, err := c.Rasterize(ctx, doc)
	if err != nil {
		return nil, err
	}
	if page < 1 || page > len(refs) {
		return nil, fmt.Errorf("page %d out of range 1..%d: %w", page, len(refs), blob.ErrNotFound)
	}
	return c.store.Get(ctx, refs[page-1].Key)
}
