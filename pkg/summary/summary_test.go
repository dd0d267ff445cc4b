package summary

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atriumhq/atrium/pkg/llm"
)

type fakeGateway struct {
	responses []*llm.Response
	errs      []error
	requests  []llm.Request
}

func (f *fakeGateway) Provider() string { return "fake" }

func (f *fakeGateway) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.requests = append(f.requests, req)
	i := len(f.requests) - 1
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return &llm.Response{Text: ""}, nil
}

func (f *fakeGateway) GenerateStream(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk)
	close(ch)
	return ch, nil
}

func newPipeline(t *testing.T, gw llm.Gateway) *Pipeline {
	t.Helper()
	catalog, err := llm.NewCatalog([]llm.ModelSpec{
		{Alias: "fast-1", Provider: "fake", ProviderModel: "fake-fast", ContextLimit: 16384},
	})
	require.NoError(t, err)
	return NewPipeline(gw, catalog, nil)
}

func TestGenerateParsesStrictJSON(t *testing.T) {
	gw := &fakeGateway{responses: []*llm.Response{{
		Text:  `{"summary_text": "We agreed on sqlite for tests."}`,
		Usage: llm.Usage{FreshTokens: 50, OutputTokens: 10, TotalTokens: 60},
	}}}
	p := newPipeline(t, gw)

	result := p.Generate(context.Background(), "long raw history", "fast-1")
	assert.Equal(t, "We agreed on sqlite for tests.", result.SummaryText)
	assert.False(t, result.UsedFallback)
	require.Len(t, result.Usage, 1)
	assert.Equal(t, 60, result.Usage[0].TotalTokens)

	require.Len(t, gw.requests, 1)
	assert.Equal(t, "fake-fast", gw.requests[0].ProviderModel)
	assert.Equal(t, 512, gw.requests[0].MaxOutputTokens)
}

func TestGenerateAcceptsFencedJSON(t *testing.T) {
	gw := &fakeGateway{responses: []*llm.Response{{
		Text: "```json\n{\"summary_text\": \"fenced\"}\n```",
	}}}
	p := newPipeline(t, gw)

	result := p.Generate(context.Background(), "raw", "fast-1")
	assert.Equal(t, "fenced", result.SummaryText)
	assert.False(t, result.UsedFallback)
}

func TestGenerateFallsBackOnGatewayError(t *testing.T) {
	gw := &fakeGateway{errs: []error{assert.AnError}}
	p := newPipeline(t, gw)

	result := p.Generate(context.Background(), "the raw text", "fast-1")
	assert.True(t, result.UsedFallback)
	assert.Equal(t, "the raw text", result.SummaryText)
	assert.Empty(t, result.Usage)
}

func TestGenerateFallsBackOnBadJSONAndTruncates(t *testing.T) {
	gw := &fakeGateway{responses: []*llm.Response{{Text: "not json at all"}}}
	p := newPipeline(t, gw)

	raw := strings.Repeat("abcde ", 400) // 2400 chars
	result := p.Generate(context.Background(), raw, "fast-1")
	assert.True(t, result.UsedFallback)
	assert.LessOrEqual(t, len(result.SummaryText), fallbackMaxChars)
	assert.True(t, strings.HasPrefix(result.SummaryText, "abcde"))
	// usage from the failed parse attempt is still metered
	assert.Len(t, result.Usage, 1)
}

func TestGenerateUnknownAliasPassesThrough(t *testing.T) {
	gw := &fakeGateway{responses: []*llm.Response{{
		Text:  `{"summary_text": "still works"}`,
		Usage: llm.Usage{TotalTokens: 10},
	}}}
	p := newPipeline(t, gw)

	result := p.Generate(context.Background(), "raw", "missing")
	assert.False(t, result.UsedFallback)
	assert.Equal(t, "still works", result.SummaryText)
	require.Len(t, gw.requests, 1)
	assert.Equal(t, "missing", gw.requests[0].ProviderModel)
}

func TestExtractCleansLists(t *testing.T) {
	gw := &fakeGateway{responses: []*llm.Response{{
		Text:  `{"key_facts": [" fact one ", "", "fact two"], "decisions": ["use Go"], "open_questions": [], "action_items": ["  "]}`,
		Usage: llm.Usage{TotalTokens: 30},
	}}}
	p := newPipeline(t, gw)

	result := p.Extract(context.Background(), "summary text", "fast-1")
	assert.Equal(t, []string{"fact one", "fact two"}, result.KeyFacts)
	assert.Equal(t, []string{"use Go"}, result.Decisions)
	assert.Empty(t, result.OpenQuestions)
	assert.Empty(t, result.ActionItems)
	assert.Len(t, result.Usage, 1)

	require.Len(t, gw.requests, 1)
	require.NotNil(t, gw.requests[0].ResponseSchema)
	assert.Equal(t, "session_summary_notes", gw.requests[0].ResponseSchema.Name)
}

func TestExtractNeverFails(t *testing.T) {
	gw := &fakeGateway{errs: []error{assert.AnError}}
	p := newPipeline(t, gw)

	result := p.Extract(context.Background(), "summary", "fast-1")
	assert.NotNil(t, result.KeyFacts)
	assert.Empty(t, result.KeyFacts)
	assert.Empty(t, result.Decisions)

	gw = &fakeGateway{responses: []*llm.Response{{Text: "garbage"}}}
	p = newPipeline(t, gw)
	result = p.Extract(context.Background(), "summary", "fast-1")
	assert.Empty(t, result.KeyFacts)
}

func TestStructuredSchemaShape(t *testing.T) {
	schema := structuredSchema()
	assert.Equal(t, "object", schema["type"])
	props, ok := schema["properties"].(map[string]interface{})
	require.True(t, ok)
	for _, field := range []string{"key_facts", "decisions", "open_questions", "action_items"} {
		assert.Contains(t, props, field)
	}
}
