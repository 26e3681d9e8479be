// Package scoring grades lecture-note page images with a vision model.
package scoring

import (
	"context"
)

// Sub-score names returned for every page, each on a 0-10 scale.
const (
	Readability  = "readability"
	Completeness = "completeness"
	Organization = "organization"
)

// SubScores lists the names every page score carries.
var SubScores = []string{Readability, Completeness, Organization}

// PageImage is one rendered page, 1-based.
type PageImage struct {
	Page int
	MIME string
	Data []byte
}

// PageScore is the model's verdict on one page.
type PageScore struct {
	Page         int                `json:"page"`
	Scores       map[string]float64 `json:"scores"`
	Feedback     string             `json:"feedback,omitempty"`
	Strengths    []string           `json:"strengths,omitempty"`
	Improvements []string           `json:"improvements,omitempty"`
}

// Scorer grades an ordered set of pages. Any error means no usable score.
type Scorer interface {
	ScorePages(ctx context.Context, pages []PageImage) ([]PageScore, error)
}

// Provider grades a single page against one backend model.
type Provider interface {
	Name() string
	Model() string
	ScorePage(ctx context.Context, page PageImage) (PageScore, error)
}
