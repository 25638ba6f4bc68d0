package assistant

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Wire formats understood by LLMGenerator.
const (
	FormatOpenAI    = "openai"
	FormatAnthropic = "anthropic"

	anthropicVersion = "2023-06-01"
)

// LLMConfig configures an LLM-backed generator.
type LLMConfig struct {
	Format      string        `yaml:"format"` // openai (default) or anthropic
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Enabled reports whether enough is configured to call a model.
func (c LLMConfig) Enabled() bool {
	return c.APIKey != "" && c.Model != ""
}

// LLMGenerator streams replies from an OpenAI-compatible or Anthropic endpoint.
type LLMGenerator struct {
	cfg    LLMConfig
	client *http.Client
	parser ChunkParser
	logger *slog.Logger
}

// NewLLMGenerator creates a generator. A nil client uses one with cfg.Timeout.
func NewLLMGenerator(cfg LLMConfig, client *http.Client, logger *slog.Logger) *LLMGenerator {
	if cfg.Format == "" {
		cfg.Format = FormatOpenAI
	}
	if cfg.BaseURL == "" {
		if cfg.Format == FormatAnthropic {
			cfg.BaseURL = "https://api.anthropic.com/v1"
		} else {
			cfg.BaseURL = "https://api.openai.com/v1"
		}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 300
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMGenerator{cfg: cfg, client: client, parser: GetParser(cfg.Format), logger: logger}
}

// Generate implements Generator.
func (g *LLMGenerator) Generate(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		httpReq, err := g.newRequest(ctx, req)
		if err != nil {
			yield("", err)
			return
		}

		resp, err := g.client.Do(httpReq)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
				err = fmt.Errorf("%w: %v", ctxErr, err)
			}
			yield("", fmt.Errorf("llm request: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			yield("", fmt.Errorf("llm request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
			return
		}

		for chunk, err := range ReadChunks(ctx, resp.Body, g.parser) {
			if !yield(chunk, err) || err != nil {
				return
			}
		}
	}
}

func (g *LLMGenerator) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	var (
		url  string
		body any
	)
	messages := buildMessages(req)

	switch g.cfg.Format {
	case FormatAnthropic:
		url = g.cfg.BaseURL + "/messages"
		body = map[string]any{
			"model":       g.cfg.Model,
			"system":      messages[0].Content,
			"messages":    messages[1:],
			"max_tokens":  g.cfg.MaxTokens,
			"temperature": g.cfg.Temperature,
			"stream":      true,
		}
	default:
		url = g.cfg.BaseURL + "/chat/completions"
		body = map[string]any{
			"model":       g.cfg.Model,
			"messages":    messages,
			"max_tokens":  g.cfg.MaxTokens,
			"temperature": g.cfg.Temperature,
			"stream":      true,
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal llm request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create llm request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if g.cfg.Format == FormatAnthropic {
		httpReq.Header.Set("x-api-key", g.cfg.APIKey)
		httpReq.Header.Set("anthropic-version", anthropicVersion)
	} else {
		httpReq.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}
	if req.TraceID != "" {
		httpReq.Header.Set("X-Trace-Id", req.TraceID)
	}
	return httpReq, nil
}
