package statuscheck

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Pinger models the minimal capability we need for status checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Checker aggregates health checks for external dependencies.
type Checker struct {
	database     Pinger
	redis        Pinger
	blob         Pinger
	blobBackend  string
	httpClient   *http.Client
	openAIKey    string
	openAIURL    string
	anthropicKey string
	anthropicURL string
	probe        bool
}

// Options configures the Checker. Nil pingers are reported as not configured.
type Options struct {
	Database     Pinger
	Redis        Pinger
	Blob         Pinger
	BlobBackend  string
	HTTPClient   *http.Client
	OpenAIKey    string
	OpenAIURL    string
	AnthropicKey string
	AnthropicURL string
	// ProbeProviders calls the provider model listings instead of only checking keys.
	ProbeProviders bool
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK       bool   `json:"ok"`
	Required bool   `json:"required"`
	Message  string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
	Database  Status `json:"database"`
	Redis     Status `json:"redis"`
	Blob      Status `json:"blob"`
	OpenAI    Status `json:"openai"`
	Anthropic Status `json:"anthropic"`
}

// Ready reports whether every required subsystem is up.
func (s Summary) Ready() bool {
	for _, st := range []Status{s.Database, s.Redis, s.Blob, s.OpenAI, s.Anthropic} {
		if st.Required && !st.OK {
			return false
		}
	}
	return true
}

func New(opts Options) *Checker {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	openAIURL := opts.OpenAIURL
	if openAIURL == "" {
		openAIURL = "https://api.openai.com/v1/models?limit=1"
	}
	anthropicURL := opts.AnthropicURL
	if anthropicURL == "" {
		anthropicURL = "https://api.anthropic.com/v1/models"
	}
	return &Checker{
		database:     opts.Database,
		redis:        opts.Redis,
		blob:         opts.Blob,
		blobBackend:  opts.BlobBackend,
		httpClient:   client,
		openAIKey:    strings.TrimSpace(opts.OpenAIKey),
		openAIURL:    openAIURL,
		anthropicKey: strings.TrimSpace(opts.AnthropicKey),
		anthropicURL: anthropicURL,
		probe:        opts.ProbeProviders,
	}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	s := Summary{
		Database:  c.ping(ctx, c.database, true, "Connected"),
		Redis:     c.ping(ctx, c.redis, false, "Connected"),
		Blob:      c.ping(ctx, c.blob, true, "Reachable"),
		OpenAI:    c.checkOpenAI(ctx),
		Anthropic: c.checkAnthropic(ctx),
	}
	if c.blobBackend != "" && s.Blob.OK {
		s.Blob.Message = fmt.Sprintf("%s (%s)", s.Blob.Message, c.blobBackend)
	}
	return s
}

func (c *Checker) ping(ctx context.Context, p Pinger, required bool, okMsg string) Status {
	if p == nil {
		return Status{OK: false, Required: required, Message: "not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return Status{OK: false, Required: true, Message: trimError(err)}
	}
	return Status{OK: true, Required: true, Message: okMsg}
}

func (c *Checker) checkOpenAI(ctx context.Context) Status {
	if c.openAIKey == "" {
		return Status{OK: false, Message: "API key missing"}
	}
	if !c.probe {
		return Status{OK: true, Message: "API key configured"}
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, c.openAIURL, nil)
	req.Header.Set("Authorization", "Bearer "+c.openAIKey)
	return c.do(req)
}

func (c *Checker) checkAnthropic(ctx context.Context) Status {
	if c.anthropicKey == "" {
		return Status{OK: false, Message: "API key missing"}
	}
	if !c.probe {
		return Status{OK: true, Message: "API key configured"}
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, c.anthropicURL, nil)
	req.Header.Set("x-api-key", c.anthropicKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	return c.do(req)
}

func (c *Checker) do(req *http.Request) Status {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Status{OK: false, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	return Status{OK: true, Message: "Available"}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
