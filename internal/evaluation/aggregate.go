package evaluation

import (
	"math"
	"strings"

	"github.com/local/notesync/internal/scoring"
)

// DefaultFeedbackLimit caps each feedback list shown to a student.
const DefaultFeedbackLimit = 5

// Summary is the aggregate verdict on one submission. It is stored as JSON next to the score.
type Summary struct {
	Score        float64   `json:"score"`
	Pages        int       `json:"pages"`
	PageMeans    []float64 `json:"page_means"`
	Feedback     []string  `json:"feedback"`
	Strengths    []string  `json:"strengths"`
	Improvements []string  `json:"improvements"`
}

// Aggregate computes round2(mean over pages of the mean of each page's sub-scores).
// Zero pages yields a zero score. Feedback lists keep first-seen order, drop
// duplicates and stop at limit entries.
func Aggregate(pages []scoring.PageScore, limit int) Summary {
	if limit <= 0 {
		limit = DefaultFeedbackLimit
	}
	s := Summary{
		Pages:        len(pages),
		PageMeans:    make([]float64, 0, len(pages)),
		Feedback:     []string{},
		Strengths:    []string{},
		Improvements: []string{},
	}
	if len(pages) == 0 {
		return s
	}

	feedback := newCapped(limit)
	strengths := newCapped(limit)
	improvements := newCapped(limit)
	var total float64
	for _, p := range pages {
		m := pageMean(p)
		s.PageMeans = append(s.PageMeans, round2(m))
		total += m
		feedback.add(p.Feedback)
		for _, v := range p.Strengths {
			strengths.add(v)
		}
		for _, v := range p.Improvements {
			improvements.add(v)
		}
	}
	s.Score = round2(total / float64(len(pages)))
	s.Feedback = feedback.items
	s.Strengths = strengths.items
	s.Improvements = improvements.items
	return s
}

func pageMean(p scoring.PageScore) float64 {
	if len(p.Scores) == 0 {
		return 0
	}
	var sum float64
	for _, v := range p.Scores {
		sum += v
	}
	return sum / float64(len(p.Scores))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

type capped struct {
	limit int
	seen  map[string]struct{}
	items []string
}

func newCapped(limit int) *capped {
	return &capped{limit: limit, seen: make(map[string]struct{}), items: []string{}}
}

func (c *capped) add(v string) {
	v = strings.TrimSpace(v)
	if v == "" || len(c.items) >= c.limit {
		return
	}
	if _, dup := c.seen[v]; dup {
		return
	}
	c.seen[v] = struct{}{}
	c.items = append(c.items, v)
}
