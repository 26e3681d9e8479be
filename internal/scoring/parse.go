package scoring

import (
	"encoding/json"
	"fmt"
	"strings"
)

const systemPrompt = `You grade a single page of a student's handwritten or typed university lecture notes.
Rate each criterion from 0 to 10:
1. readability: is the writing legible and tidy?
2. completeness: are the key points of the lecture present?
3. organization: is the content logically structured with a clear layout?
Reply with a JSON object only, shaped like:
{"readability": 9.0, "completeness": 8.0, "organization": 8.5,
 "feedback": "one or two sentences",
 "strengths": ["short phrase"], "improvements": ["short phrase"]}`

func userPrompt(page int) string {
	return fmt.Sprintf("Page %d of the notes. Grade it and return JSON.", page)
}

type pagePayload struct {
	Readability  *float64 `json:"readability"`
	Completeness *float64 `json:"completeness"`
	Organization *float64 `json:"organization"`
	Feedback     string   `json:"feedback"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
}

// parsePageScore decodes a model reply, tolerating markdown code fences around the JSON.
func parsePageScore(page int, content string) (PageScore, error) {
	body := stripFences(content)
	var p pagePayload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return PageScore{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if p.Readability == nil || p.Completeness == nil || p.Organization == nil {
		return PageScore{}, fmt.Errorf("%w: missing sub-score", ErrMalformedResponse)
	}
	return PageScore{
		Page: page,
		Scores: map[string]float64{
			Readability:  clamp(*p.Readability),
			Completeness: clamp(*p.Completeness),
			Organization: clamp(*p.Organization),
		},
		Feedback:     strings.TrimSpace(p.Feedback),
		Strengths:    trimAll(p.Strengths),
		Improvements: trimAll(p.Improvements),
	}, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		s = strings.TrimSpace(rest)
	}
	return s
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
