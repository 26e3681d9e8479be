package scoring

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OpenAIConfig defines configuration options for the OpenAI provider.
type OpenAIConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	BaseURL   string
}

// OpenAI grades pages with a vision-capable chat completion model.
type OpenAI struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
}

func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/local/notesync/internal/scoring/openai"),
	}, nil
}

func (o *OpenAI) Name() string  { return "openai" }
func (o *OpenAI) Model() string { return o.cfg.Model }

func (o *OpenAI) ScorePage(parent context.Context, page PageImage) (PageScore, error) {
	ctx, span := o.tracer.Start(parent, "openai.score_page", trace.WithAttributes(
		attribute.String("model", o.cfg.Model),
		attribute.Int("page", page.Page),
	))
	defer span.End()

	mime := page.MIME
	if mime == "" {
		mime = "image/jpeg"
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(page.Data))
	req := openai.ChatCompletionRequest{
		Model:       o.cfg.Model,
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: userPrompt(page.Page)},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
						URL:    dataURL,
						Detail: openai.ImageURLDetailAuto,
					}},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		err = o.mapError(ctx, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return PageScore{}, err
	}
	if len(resp.Choices) == 0 {
		err := fmt.Errorf("%w: no choices returned from openai", ErrMalformedResponse)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return PageScore{}, err
	}
	score, err := parsePageScore(page.Page, resp.Choices[0].Message.Content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return PageScore{}, err
	}
	span.SetAttributes(attribute.Int("tokens_in", resp.Usage.PromptTokens), attribute.Int("tokens_out", resp.Usage.CompletionTokens))
	return score, nil
}

func (o *OpenAI) mapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("openai: %w", ctx.Err())
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &HTTPError{Provider: o.Name(), StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &HTTPError{Provider: o.Name(), StatusCode: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	}
	return fmt.Errorf("openai: %w", err)
}
