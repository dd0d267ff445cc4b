// Package summary turns aging conversation history into compact session
// summaries: a rewrite pass that produces the summary text and an extraction
// pass that pulls structured facts out of it. Neither pass ever fails a turn;
// the pipeline degrades to deterministic fallbacks.
package summary

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/atriumhq/atrium/pkg/llm"
)

const (
	generateMaxTokens = 512
	fallbackMaxChars  = 1200
)

const generatePrompt = `Summarize the conversation below for future context. Keep decisions, facts, names and numbers. Respond with strict JSON: {"summary_text": "<the summary>"} and nothing else.`

const extractPrompt = `From the session summary below, extract structured notes. Respond with JSON containing string arrays "key_facts", "decisions", "open_questions" and "action_items". Use empty arrays when nothing applies.`

// Structured is the extraction result. Field order matters only for the
// schema presented to the model.
type Structured struct {
	KeyFacts      []string `json:"key_facts"`
	Decisions     []string `json:"decisions"`
	OpenQuestions []string `json:"open_questions"`
	ActionItems   []string `json:"action_items"`
}

// GenerateResult carries the summary text plus the gateway usage incurred
// producing it, so the turn can meter it.
type GenerateResult struct {
	SummaryText  string
	UsedFallback bool
	Usage        []llm.Usage
}

// Pipeline drives both passes against the model catalog.
type Pipeline struct {
	gateway llm.Gateway
	catalog *llm.Catalog
	logger  *slog.Logger
}

func NewPipeline(gateway llm.Gateway, catalog *llm.Catalog, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{gateway: gateway, catalog: catalog, logger: logger}
}

// Generate rewrites raw history text into a summary using the given model
// alias. On any gateway or parse failure it falls back to a truncation of the
// raw text.
func (p *Pipeline) Generate(ctx context.Context, rawText, alias string) GenerateResult {
	result := GenerateResult{}

	spec := p.catalog.Resolve(alias)
	resp, err := p.gateway.Generate(ctx, llm.Request{
		ModelAlias:      alias,
		ProviderModel:   spec.ProviderModel,
		MaxOutputTokens: generateMaxTokens,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: generatePrompt},
			{Role: llm.RoleUser, Content: rawText},
		},
	})
	if err != nil {
		p.logger.Warn("summary generate failed, using fallback", "alias", alias, "error", err)
		return p.fallback(rawText, result)
	}
	result.Usage = append(result.Usage, resp.Usage)

	var parsed struct {
		SummaryText string `json:"summary_text"`
	}
	if err := json.Unmarshal([]byte(llm.StripFences(resp.Text)), &parsed); err != nil || strings.TrimSpace(parsed.SummaryText) == "" {
		p.logger.Warn("summary generate: unparseable response, using fallback", "alias", alias)
		return p.fallback(rawText, result)
	}

	result.SummaryText = strings.TrimSpace(parsed.SummaryText)
	return result
}

func (p *Pipeline) fallback(rawText string, result GenerateResult) GenerateResult {
	text := strings.TrimSpace(rawText)
	if len(text) > fallbackMaxChars {
		text = strings.TrimSpace(text[:fallbackMaxChars])
	}
	result.SummaryText = text
	result.UsedFallback = true
	return result
}

// ExtractResult carries the structured fields plus gateway usage.
type ExtractResult struct {
	Structured
	Usage []llm.Usage
}

// Extract pulls structured notes out of a summary. Parse failures yield empty
// arrays, never an error.
func (p *Pipeline) Extract(ctx context.Context, summaryText, alias string) ExtractResult {
	result := ExtractResult{Structured: emptyStructured()}

	spec := p.catalog.Resolve(alias)
	resp, err := p.gateway.Generate(ctx, llm.Request{
		ModelAlias:      alias,
		ProviderModel:   spec.ProviderModel,
		MaxOutputTokens: generateMaxTokens,
		ResponseSchema: &llm.ResponseSchema{
			Name:   "session_summary_notes",
			Schema: structuredSchema(),
		},
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: extractPrompt},
			{Role: llm.RoleUser, Content: summaryText},
		},
	})
	if err != nil {
		p.logger.Warn("summary extract failed", "alias", alias, "error", err)
		return result
	}
	result.Usage = append(result.Usage, resp.Usage)

	var parsed Structured
	if err := json.Unmarshal([]byte(llm.StripFences(resp.Text)), &parsed); err != nil {
		p.logger.Warn("summary extract: unparseable response", "alias", alias)
		return result
	}

	result.Structured = Structured{
		KeyFacts:      cleanList(parsed.KeyFacts),
		Decisions:     cleanList(parsed.Decisions),
		OpenQuestions: cleanList(parsed.OpenQuestions),
		ActionItems:   cleanList(parsed.ActionItems),
	}
	return result
}

func emptyStructured() Structured {
	return Structured{
		KeyFacts:      []string{},
		Decisions:     []string{},
		OpenQuestions: []string{},
		ActionItems:   []string{},
	}
}

func cleanList(in []string) []string {
	out := []string{}
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// structuredSchema reflects Structured into an inline JSON schema for strict
// structured output.
func structuredSchema() map[string]interface{} {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(&Structured{})

	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]interface{}{"type": "object"}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]interface{}{"type": "object"}
	}
	delete(out, "$schema")
	return out
}
