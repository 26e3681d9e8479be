package evaluation

import (
	"errors"

	"github.com/local/notesync/internal/pageasset"
	"github.com/local/notesync/internal/scoring"
)

// Kind classifies what happened to one submission during a run.
type Kind string

const (
	KindScored        Kind = "scored"
	KindAlreadyScored Kind = "already_scored"
	KindSkipped       Kind = "skipped"
	KindTimeout       Kind = "timeout"
	KindMalformed     Kind = "malformed_response"
	KindUnavailable   Kind = "backend_unavailable"
	KindRateLimited   Kind = "rate_limited"
	KindRejected      Kind = "rejected"
	KindRasterization Kind = "rasterization"
	KindStorage       Kind = "storage"
	KindCanceled      Kind = "canceled"
	KindUnknown       Kind = "unknown"
)

// Outcome is the typed result for one submission. Err is set for every failure kind.
type Outcome struct {
	MaterialID string   `json:"material_id"`
	UploaderID string   `json:"uploader_id"`
	Kind       Kind     `json:"kind"`
	Score      *float64 `json:"score,omitempty"`
	Attempts   int      `json:"attempts,omitempty"`
	Abandoned  bool     `json:"abandoned,omitempty"`
	Err        error    `json:"-"`
}

// Failed reports whether the submission is still unscored because of an error.
func (o Outcome) Failed() bool {
	switch o.Kind {
	case KindScored, KindAlreadyScored, KindSkipped:
		return false
	}
	return true
}

func kindFromScoring(err error) Kind {
	switch scoring.Classify(err) {
	case scoring.ReasonTimeout:
		return KindTimeout
	case scoring.ReasonMalformed:
		return KindMalformed
	case scoring.ReasonUnavailable:
		return KindUnavailable
	case scoring.ReasonRateLimited:
		return KindRateLimited
	case scoring.ReasonRejected:
		return KindRejected
	case scoring.ReasonCanceled:
		return KindCanceled
	}
	return KindUnknown
}

func kindFromRaster(err error) Kind {
	var rf *pageasset.RasterizationFailure
	if errors.As(err, &rf) {
		return KindRasterization
	}
	return KindStorage
}
