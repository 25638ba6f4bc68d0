package assistant

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/dinescout/pkg/types"
)

func sampleResult() *types.SearchResult {
	open := true
	return &types.SearchResult{
		RequestID: "req-1",
		Query:     "pizza",
		Restaurants: []types.Restaurant{
			{ID: "1", Name: "Slice", Rating: 4.1, ReviewCount: 120, Cuisines: []string{"pizza"}},
			{ID: "2", Name: "Forno", Rating: 4.7, OpenNow: &open},
		},
	}
}

func TestBuildRequest(t *testing.T) {
	job := &types.Job{RequestID: "req-1", TraceID: "trace-1", Query: "pizza tonight"}
	req := BuildRequest(types.MessageSummary, "he", job, sampleResult())

	assert.Equal(t, "req-1", req.RequestID)
	assert.Equal(t, "trace-1", req.TraceID)
	assert.Equal(t, "pizza tonight", req.Query)
	assert.Len(t, req.TopRestaurants(), 2)

	req = BuildRequest(types.MessageSummary, "en", nil, sampleResult())
	assert.Equal(t, "pizza", req.Query, "falls back to the stored query")
}

func TestBuildPrompt(t *testing.T) {
	system, user := BuildPrompt(BuildRequest(types.MessageSummary, "fr", nil, sampleResult()))
	assert.Contains(t, system, "French")
	assert.Contains(t, user, "1. Slice (rating 4.1, 120 reviews) - pizza")
	assert.Contains(t, user, "2. Forno (rating 4.7) - open now")

	result := &types.SearchResult{Clarification: &types.Clarification{Question: "Which city?"}}
	_, user = BuildPrompt(BuildRequest(types.MessageClarify, "en", &types.Job{Query: "food"}, result))
	assert.Contains(t, user, "Suggested question: Which city?")

	result = &types.SearchResult{StopReason: "not food related"}
	_, user = BuildPrompt(BuildRequest(types.MessageStopped, "en", &types.Job{Query: "weather"}, result))
	assert.Contains(t, user, "Reason: not food related")
}

func TestTemplateGenerator(t *testing.T) {
	gen := NewTemplateGenerator()

	text, err := collect(gen.Generate(context.Background(), BuildRequest(types.MessageSummary, "en", nil, sampleResult())))
	require.NoError(t, err)
	assert.Equal(t, `I found 2 places for "pizza". My top pick is Forno, rated 4.7.`, text)

	text, err = collect(gen.Generate(context.Background(), BuildRequest(types.MessageSummary, "es-MX", nil, &types.SearchResult{Query: "tacos"})))
	require.NoError(t, err)
	assert.Contains(t, text, "No encontré")

	clarify := &types.SearchResult{Clarification: &types.Clarification{Question: "Which city?"}}
	assert.Equal(t, "Which city?", gen.Render(BuildRequest(types.MessageClarify, "en", nil, clarify)))
	assert.Equal(t, templates["he"].stopped, gen.Render(BuildRequest(types.MessageStopped, "he", nil, nil)))
	assert.Equal(t, templates["en"].clarify, gen.Render(BuildRequest(types.MessageClarify, "de", nil, nil)))
}

func TestTemplateGenerator_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := collect(NewTemplateGenerator().Generate(ctx, BuildRequest(types.MessageSummary, "en", nil, sampleResult())))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLLMGenerator_OpenAI(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Forno ", "is ", "great."} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	gen := NewLLMGenerator(LLMConfig{BaseURL: server.URL + "/v1/", APIKey: "sk-test", Model: "gpt-test"}, nil, nil)
	text, err := collect(gen.Generate(context.Background(), BuildRequest(types.MessageSummary, "en", nil, sampleResult())))
	require.NoError(t, err)
	assert.Equal(t, "Forno is great.", text)
	assert.Equal(t, "gpt-test", got["model"])
	assert.Equal(t, true, got["stream"])
}

func TestLLMGenerator_Anthropic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		fmt.Fprint(w, "event: content_block_delta\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Bonjour\"}}\n\n")
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	}))
	defer server.Close()

	gen := NewLLMGenerator(LLMConfig{Format: FormatAnthropic, BaseURL: server.URL, APIKey: "key", Model: "m"}, nil, nil)
	text, err := collect(gen.Generate(context.Background(), BuildRequest(types.MessageSummary, "fr", nil, nil)))
	require.NoError(t, err)
	assert.Equal(t, "Bonjour", text)
}

func TestLLMGenerator_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"quota exceeded"}}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	gen := NewLLMGenerator(LLMConfig{BaseURL: server.URL, APIKey: "k", Model: "m"}, nil, nil)
	_, err := collect(gen.Generate(context.Background(), BuildRequest(types.MessageSummary, "en", nil, nil)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestLLMGenerator_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	gen := NewLLMGenerator(LLMConfig{BaseURL: server.URL, APIKey: "k", Model: "m"}, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := collect(gen.Generate(ctx, BuildRequest(types.MessageSummary, "en", nil, nil)))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLLMConfig_Enabled(t *testing.T) {
	assert.False(t, LLMConfig{}.Enabled())
	assert.False(t, LLMConfig{APIKey: "k"}.Enabled())
	assert.True(t, LLMConfig{APIKey: "k", Model: "m"}.Enabled())
	assert.True(t, strings.HasPrefix(NewLLMGenerator(LLMConfig{}, nil, nil).cfg.BaseURL, "https://api.openai.com"))
}
