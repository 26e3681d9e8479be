package scoring

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const anthropicURL = "https://api.anthropic.com/v1/messages"

type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	URL       string
}

// Anthropic talks to the messages API directly.
type Anthropic struct {
	http   *http.Client
	cfg    AnthropicConfig
	tracer trace.Tracer
}

func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-sonnet-latest"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.URL == "" {
		cfg.URL = anthropicURL
	}
	return &Anthropic{
		http:   &http.Client{},
		cfg:    cfg,
		tracer: otel.Tracer("github.com/local/notesync/internal/scoring/anthropic"),
	}, nil
}

func (c *Anthropic) Name() string  { return "anthropic" }
func (c *Anthropic) Model() string { return c.cfg.Model }

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicBlock struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicMsgReq struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMsgResp struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (c *Anthropic) ScorePage(parent context.Context, page PageImage) (PageScore, error) {
	ctx, span := c.tracer.Start(parent, "anthropic.score_page", trace.WithAttributes(
		attribute.String("model", c.cfg.Model),
		attribute.Int("page", page.Page),
	))
	defer span.End()

	score, err := c.do(ctx, page)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return score, err
}

func (c *Anthropic) do(ctx context.Context, page PageImage) (PageScore, error) {
	mime := page.MIME
	if mime == "" {
		mime = "image/jpeg"
	}
	payload := anthropicMsgReq{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		System:    systemPrompt,
		Messages: []anthropicMessage{{
			Role: "user",
			Content: []anthropicBlock{
				{Type: "image", Source: &anthropicSource{Type: "base64", MediaType: mime, Data: base64.StdEncoding.EncodeToString(page.Data)}},
				{Type: "text", Text: userPrompt(page.Page)},
			},
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return PageScore{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return PageScore{}, err
	}
	httpReq.Header.Set("x-api-key", c.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return PageScore{}, fmt.Errorf("anthropic: %w", ctx.Err())
		}
		return PageScore{}, fmt.Errorf("anthropic: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return PageScore{}, &HTTPError{Provider: c.Name(), StatusCode: resp.StatusCode, Body: string(snippet)}
	}
	var r anthropicMsgResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return PageScore{}, fmt.Errorf("%w: decode anthropic body: %v", ErrMalformedResponse, err)
	}
	for _, block := range r.Content {
		if block.Type == "text" || block.Type == "" {
			return parsePageScore(page.Page, block.Text)
		}
	}
	return PageScore{}, fmt.Errorf("%w: no text content", ErrMalformedResponse)
}
