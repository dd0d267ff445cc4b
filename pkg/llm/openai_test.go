package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(handler http.HandlerFunc) (*OpenAIProvider, *httptest.Server) {
	server := httptest.NewServer(handler)
	return NewOpenAIProvider(OpenAIConfig{
		BaseURL:    server.URL,
		APIKey:     "test-key",
		MaxRetries: 1,
	}), server
}

func TestGenerateParsesUsageSplit(t *testing.T) {
	provider, server := newTestProvider(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-fast", req.Model)
		assert.False(t, req.Stream)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"model": "gpt-fast-2026-01",
			"choices": [{"message": {"role": "assistant", "content": "hello back"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 100, "completion_tokens": 20, "total_tokens": 120,
			          "prompt_tokens_details": {"cached_tokens": 60}}
		}`)
	})
	defer server.Close()

	resp, err := provider.Generate(context.Background(), Request{
		ModelAlias:    "fast-1",
		ProviderModel: "gpt-fast",
		Messages:      []Message{{Role: RoleUser, Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello back", resp.Text)
	assert.Equal(t, "gpt-fast-2026-01", resp.ProviderModel)
	assert.Equal(t, 40, resp.Usage.FreshTokens)
	assert.Equal(t, 60, resp.Usage.CachedTokens)
	assert.Equal(t, 20, resp.Usage.OutputTokens)
	assert.Equal(t, 120, resp.Usage.TotalTokens)
	assert.False(t, resp.Usage.Estimated)
}

func TestGenerateSendsStopSequences(t *testing.T) {
	provider, server := newTestProvider(func(w http.ResponseWriter, r *http.Request) {
		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"\n\n---", "END"}, req.Stop)

		fmt.Fprint(w, `{"choices": [{"message": {"role": "assistant", "content": "ok"}}]}`)
	})
	defer server.Close()

	_, err := provider.Generate(context.Background(), Request{
		ProviderModel: "gpt-fast",
		Messages:      []Message{{Role: RoleUser, Content: "hello"}},
		Stop:          []string{"\n\n---", "END"},
	})
	require.NoError(t, err)
}

func TestGenerateEstimatesWhenUsageMissing(t *testing.T) {
	provider, server := newTestProvider(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices": [{"message": {"role": "assistant", "content": "four char."}}]}`)
	})
	defer server.Close()

	resp, err := provider.Generate(context.Background(), Request{
		ProviderModel: "gpt-fast",
		Messages:      []Message{{Role: RoleUser, Content: "abcdefgh"}},
	})
	require.NoError(t, err)
	assert.True(t, resp.Usage.Estimated)
	assert.Equal(t, 3, resp.Usage.FreshTokens) // ceil(8/4*1.25)
	assert.Equal(t, 4, resp.Usage.OutputTokens)
	assert.Equal(t, 7, resp.Usage.TotalTokens)
}

func TestGenerateReturnsToolCalls(t *testing.T) {
	provider, server := newTestProvider(func(w http.ResponseWriter, r *http.Request) {
		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Tools, 1)
		assert.Equal(t, "search", req.Tools[0].Function.Name)

		fmt.Fprint(w, `{
			"choices": [{"message": {"role": "assistant", "content": "",
				"tool_calls": [{"id": "call_1", "type": "function",
					"function": {"name": "search", "arguments": "{\"query\":\"go\"}"}}]}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`)
	})
	defer server.Close()

	resp, err := provider.Generate(context.Background(), Request{
		ProviderModel: "gpt-fast",
		Messages:      []Message{{Role: RoleUser, Content: "search go"}},
		Tools: []ToolDefinition{{
			Name:        "search",
			Description: "Web search",
			Parameters:  map[string]interface{}{"type": "object"},
		}},
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "search", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"query":"go"}`, resp.ToolCalls[0].Arguments)
}

func TestGenerateSurfacesAPIError(t *testing.T) {
	provider, server := newTestProvider(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": {"message": "bad model", "type": "invalid_request_error", "code": "model_not_found"}}`)
	})
	defer server.Close()

	_, err := provider.Generate(context.Background(), Request{ProviderModel: "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad model")
	assert.Contains(t, err.Error(), "model_not_found")
}

func TestGenerateStream(t *testing.T) {
	provider, server := newTestProvider(func(w http.ResponseWriter, r *http.Request) {
		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		require.NotNil(t, req.StreamOptions)
		assert.True(t, req.StreamOptions.IncludeUsage)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"model\":\"gpt-fast-2026-01\",\"choices\":[{\"delta\":{\"content\":\"hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":8,\"completion_tokens\":2,\"total_tokens\":10,\"prompt_tokens_details\":{\"cached_tokens\":3}}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	defer server.Close()

	ch, err := provider.GenerateStream(context.Background(), Request{
		ModelAlias:    "fast-1",
		ProviderModel: "gpt-fast",
		Messages:      []Message{{Role: RoleUser, Content: "hello"}},
	})
	require.NoError(t, err)

	var text string
	var usage *Usage
	var providerModel string
	var done bool
	for chunk := range ch {
		switch chunk.Type {
		case ChunkText:
			text += chunk.Text
		case ChunkUsage:
			usage = chunk.Usage
			providerModel = chunk.ProviderModel
		case ChunkDone:
			done = true
		case ChunkError:
			t.Fatalf("unexpected stream error: %v", chunk.Err)
		}
	}

	assert.Equal(t, "hello", text)
	assert.True(t, done)
	require.NotNil(t, usage)
	assert.Equal(t, 5, usage.FreshTokens)
	assert.Equal(t, 3, usage.CachedTokens)
	assert.Equal(t, 2, usage.OutputTokens)
	assert.Equal(t, "gpt-fast-2026-01", providerModel)
}

func TestGenerateStreamAccumulatesToolCallDeltas(t *testing.T) {
	idx := 0
	provider, server := newTestProvider(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":%d,\"id\":\"call_1\",\"function\":{\"name\":\"search\",\"arguments\":\"{\\\"que\"}}]}}]}\n\n", idx)
		fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":%d,\"function\":{\"arguments\":\"ry\\\":\\\"go\\\"}\"}}]}}]}\n\n", idx)
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	defer server.Close()

	ch, err := provider.GenerateStream(context.Background(), Request{
		ProviderModel: "gpt-fast",
		Messages:      []Message{{Role: RoleUser, Content: "search go"}},
	})
	require.NoError(t, err)

	var calls []ToolCall
	for chunk := range ch {
		if chunk.Type == ChunkToolCall {
			calls = append(calls, *chunk.ToolCall)
		}
	}
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, "search", calls[0].Name)
	assert.JSONEq(t, `{"query":"go"}`, calls[0].Arguments)
}

func TestCatalog(t *testing.T) {
	catalog, err := NewCatalog([]ModelSpec{
		{Alias: "fast-1", Provider: "openai", ProviderModel: "gpt-fast", ContextLimit: 16384, MaxOutput: 4096},
		{Alias: "smart-1", Provider: "openai", ProviderModel: "gpt-smart", ContextLimit: 131072, MaxOutput: 8192},
	})
	require.NoError(t, err)

	spec := catalog.Resolve("smart-1")
	assert.Equal(t, "gpt-smart", spec.ProviderModel)
	assert.Equal(t, 131072, spec.ContextLimit)

	// Unregistered aliases go to the provider as-is.
	spec = catalog.Resolve("nope")
	assert.Equal(t, "nope", spec.ProviderModel)
	assert.Equal(t, DefaultContextLimit, spec.ContextLimit)

	assert.Equal(t, []string{"fast-1", "smart-1"}, catalog.Aliases())
}

func TestCatalogRejectsInvalidSpecs(t *testing.T) {
	_, err := NewCatalog([]ModelSpec{{Alias: "", ContextLimit: 100}})
	require.Error(t, err)

	_, err = NewCatalog([]ModelSpec{{Alias: "a", ContextLimit: 0}})
	require.Error(t, err)

	_, err = NewCatalog([]ModelSpec{
		{Alias: "a", ContextLimit: 100},
		{Alias: "a", ContextLimit: 200},
	})
	require.Error(t, err)
}
