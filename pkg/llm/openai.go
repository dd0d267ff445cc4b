package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/atriumhq/atrium/pkg/httpclient"
	"github.com/atriumhq/atrium/pkg/observability"
	"github.com/atriumhq/atrium/pkg/tokens"
)

// OpenAIConfig configures one OpenAI-compatible endpoint.
type OpenAIConfig struct {
	Name       string // provider name for logs and events, e.g. "openai"
	BaseURL    string
	APIKey     string
	Timeout    int // seconds
	MaxRetries int
	RetryDelay int // seconds
}

func (c *OpenAIConfig) SetDefaults() {
	if c.Name == "" {
		c.Name = "openai"
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Timeout == 0 {
		c.Timeout = 120
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 2
	}
}

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	config     OpenAIConfig
	httpClient *httpclient.Client
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	cfg.SetDefaults()
	return &OpenAIProvider{
		config: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
			httpclient.WithHeaderParser(httpclient.ParseRateLimitHeaders),
		),
	}
}

func (p *OpenAIProvider) Provider() string { return p.config.Name }

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	MaxTokens      *int                  `json:"max_tokens,omitempty"`
	Temperature    *float64              `json:"temperature,omitempty"`
	Stream         bool                  `json:"stream"`
	StreamOptions  *openAIStreamOptions  `json:"stream_options,omitempty"`
	Tools          []openAITool          `json:"tools,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
	Stop           []string              `json:"stop,omitempty"`
}

type openAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAITool struct {
	Type     string             `json:"type"`
	Function openAIToolFunction `json:"function"`
}

type openAIToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type openAIToolCall struct {
	Index    *int               `json:"index,omitempty"`
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIResponseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *openAIJSONSchema `json:"json_schema,omitempty"`
}

type openAIJSONSchema struct {
	Name   string                 `json:"name"`
	Schema map[string]interface{} `json:"schema"`
	Strict bool                   `json:"strict"`
}

type openAIUsage struct {
	PromptTokens        int `json:"prompt_tokens"`
	CompletionTokens    int `json:"completion_tokens"`
	TotalTokens         int `json:"total_tokens"`
	PromptTokensDetails *struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details,omitempty"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage"`
	Error *openAIError `json:"error,omitempty"`
}

type openAIStreamResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content   string           `json:"content,omitempty"`
			Reasoning string           `json:"reasoning,omitempty"`
			ToolCalls []openAIToolCall `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage,omitempty"`
	Error *openAIError `json:"error,omitempty"`
}

// ---------------------------------------------------------------------------
// Request building
// ---------------------------------------------------------------------------

func (p *OpenAIProvider) buildRequest(req Request, stream bool) openAIRequest {
	out := openAIRequest{
		Model:       req.ProviderModel,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if stream {
		out.StreamOptions = &openAIStreamOptions{IncludeUsage: true}
	}
	if req.MaxOutputTokens > 0 {
		n := req.MaxOutputTokens
		out.MaxTokens = &n
	}
	if len(req.Stop) > 0 {
		out.Stop = req.Stop
	}

	for _, m := range req.Messages {
		om := openAIMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openAIToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openAIFunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out.Messages = append(out.Messages, om)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openAITool{
			Type: "function",
			Function: openAIToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	if req.ResponseSchema != nil {
		out.ResponseFormat = &openAIResponseFormat{
			Type: "json_schema",
			JSONSchema: &openAIJSONSchema{
				Name:   req.ResponseSchema.Name,
				Schema: req.ResponseSchema.Schema,
				Strict: true,
			},
		}
	}

	return out
}

// usageFrom converts provider usage to the split accounting, estimating from
// message text when the provider reported nothing.
func usageFrom(wire *openAIUsage, req Request, outputText string) Usage {
	if wire != nil && wire.TotalTokens > 0 {
		cached := 0
		if wire.PromptTokensDetails != nil {
			cached = wire.PromptTokensDetails.CachedTokens
		}
		fresh := wire.PromptTokens - cached
		if fresh < 0 {
			fresh = 0
		}
		return Usage{
			FreshTokens:  fresh,
			CachedTokens: cached,
			OutputTokens: wire.CompletionTokens,
			TotalTokens:  wire.TotalTokens,
		}
	}

	fresh := 0
	for _, m := range req.Messages {
		fresh += tokens.Estimate(m.Content)
	}
	output := 0
	if outputText != "" {
		output = tokens.Estimate(outputText)
	}
	return Usage{
		FreshTokens:  fresh,
		OutputTokens: output,
		TotalTokens:  fresh + output,
		Estimated:    true,
	}
}

// ---------------------------------------------------------------------------
// Generate
// ---------------------------------------------------------------------------

func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	startTime := time.Now()

	tracer := observability.GetTracer("atrium.llm")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrModelAlias, req.ModelAlias),
			attribute.String(observability.AttrProviderModel, req.ProviderModel),
			attribute.Bool("streaming", false),
		),
	)
	defer span.End()

	response, err := p.makeRequest(ctx, p.buildRequest(req, false))
	duration := time.Since(startTime)

	if err == nil && response.Error != nil {
		err = fmt.Errorf("provider error: %s (type: %s, code: %s)",
			response.Error.Message, response.Error.Type, response.Error.Code)
	}
	if err == nil && len(response.Choices) == 0 {
		err = ErrNoChoices
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if m := observability.GetGlobalMetrics(); m != nil {
			m.RecordLLMCall(req.ModelAlias, duration, 0, 0, 0, err)
		}
		return nil, err
	}

	choice := response.Choices[0]
	usage := usageFrom(response.Usage, req, choice.Message.Content)

	out := &Response{
		Text:          choice.Message.Content,
		ProviderModel: response.Model,
		Usage:         usage,
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	span.SetAttributes(
		attribute.Int(observability.AttrTokensInput, usage.FreshTokens+usage.CachedTokens),
		attribute.Int(observability.AttrTokensOutput, usage.OutputTokens),
		attribute.Int("llm.tool_calls", len(out.ToolCalls)),
	)
	span.SetStatus(codes.Ok, "success")

	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordLLMCall(req.ModelAlias, duration, usage.FreshTokens, usage.CachedTokens, usage.OutputTokens, nil)
	}

	return out, nil
}

func (p *OpenAIProvider) makeRequest(ctx context.Context, request openAIRequest) (*openAIResponse, error) {
	resp, err := p.post(ctx, request)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var response openAIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &response, nil
}

func (p *OpenAIProvider) post(ctx context.Context, request openAIRequest) (*http.Response, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.config.BaseURL+"/chat/completions", bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(requestBody)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.httpClient.Do(req)
	if resp != nil && resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if apiErr := parseErrorResponse(body); apiErr != nil {
			return nil, fmt.Errorf("API request failed with status %d: %s (type: %s, code: %s)",
				resp.StatusCode, apiErr.Message, apiErr.Type, apiErr.Code)
		}
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("HTTP request failed: no response received")
	}
	return resp, nil
}

func parseErrorResponse(body []byte) *openAIError {
	var wrapper struct {
		Error *openAIError `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil
	}
	return wrapper.Error
}

// ---------------------------------------------------------------------------
// Streaming
// ---------------------------------------------------------------------------

// GenerateStream emits text chunks as they arrive, then exactly one
// ChunkUsage carrying token accounting and the provider model, then
// ChunkDone. Tool-call deltas are accumulated and emitted whole.
func (p *OpenAIProvider) GenerateStream(ctx context.Context, req Request) (<-chan Chunk, error) {
	outputCh := make(chan Chunk, 100)

	go func() {
		defer close(outputCh)
		if err := p.streamRequest(ctx, req, outputCh); err != nil {
			outputCh <- Chunk{Type: ChunkError, Err: err}
			return
		}
		outputCh <- Chunk{Type: ChunkDone}
	}()

	return outputCh, nil
}

func (p *OpenAIProvider) streamRequest(ctx context.Context, req Request, outputCh chan<- Chunk) error {
	startTime := time.Now()

	resp, err := p.post(ctx, p.buildRequest(req, true))
	if err != nil {
		if m := observability.GetGlobalMetrics(); m != nil {
			m.RecordLLMCall(req.ModelAlias, time.Since(startTime), 0, 0, 0, err)
		}
		return err
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	toolCalls := make(map[int]*ToolCall)
	var wireUsage *openAIUsage
	var outputText bytes.Buffer
	providerModel := req.ProviderModel

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("failed to read stream: %w", err)
		}

		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		line = line[6:]
		if bytes.Equal(line, []byte("[DONE]")) {
			break
		}

		var streamResp openAIStreamResponse
		if err := json.Unmarshal(line, &streamResp); err != nil {
			continue
		}
		if streamResp.Error != nil {
			return fmt.Errorf("provider error: %s", streamResp.Error.Message)
		}
		if streamResp.Model != "" {
			providerModel = streamResp.Model
		}
		if streamResp.Usage != nil {
			wireUsage = streamResp.Usage
		}
		if len(streamResp.Choices) == 0 {
			continue
		}

		choice := streamResp.Choices[0]
		if choice.Delta.Reasoning != "" {
			outputCh <- Chunk{Type: ChunkThinking, Text: choice.Delta.Reasoning}
		}
		if choice.Delta.Content != "" {
			outputText.WriteString(choice.Delta.Content)
			outputCh <- Chunk{Type: ChunkText, Text: choice.Delta.Content}
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			acc, ok := toolCalls[idx]
			if !ok {
				acc = &ToolCall{}
				toolCalls[idx] = acc
			}
			if tc.ID != "" {
				acc.ID = tc.ID
			}
			if tc.Function.Name != "" {
				acc.Name = tc.Function.Name
			}
			acc.Arguments += tc.Function.Arguments
		}
	}

	for i := 0; i < len(toolCalls); i++ {
		if tc, ok := toolCalls[i]; ok {
			outputCh <- Chunk{Type: ChunkToolCall, ToolCall: tc}
		}
	}

	usage := usageFrom(wireUsage, req, outputText.String())
	outputCh <- Chunk{Type: ChunkUsage, Usage: &usage, ProviderModel: providerModel}

	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordLLMCall(req.ModelAlias, time.Since(startTime),
			usage.FreshTokens, usage.CachedTokens, usage.OutputTokens, nil)
	}
	return nil
}
