// Package llm is the LLM Gateway: the single chat-completion primitive all
// other subsystems call through. It is grounded on the teacher's
// common/llm/client.go — same openai-go wiring, same invopop/jsonschema
// response-format construction, same retry classification — generalized
// from a single fixed model to the gateway's {model, reasoningEffort, tag}
// call shape spec.md §4.1 requires.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"taleforge.dev/engine/common/logger"
	"taleforge.dev/engine/internal/engerr"
)

// Effort is the reasoning-effort hint callers attach to a request. Default
// is Low except where a caller specifies otherwise (spec.md §4.1).
type Effort string

const (
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
)

// Options recognizes the fields spec.md §4.1 lists for a chat call.
type Options struct {
	Model               string
	ReasoningEffort     Effort
	MaxCompletionTokens int
	Tag                 string
	Schema              any
	SchemaName          string
	BookID              string
}

// Gateway exposes the single operation chat(messages, opts) -> text.
type Gateway interface {
	Chat(ctx context.Context, systemPrompt, userPrompt string, opts Options) (string, *Usage, error)
}

// Usage mirrors the token accounting the usage ledger records per call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Config is process-wide, set once at startup (spec.md §9 "global mutable
// state" note: only the gateway's default model/base URL are global).
type Config struct {
	APIKey    string
	BaseURL   string
	FastModel string // used for EffortLow callers (suggestions, verification)
	BigModel  string // used for EffortMedium/EffortHigh callers (planning, adaptation)
}

type gateway struct {
	openai    openai.Client
	fastModel string
	bigModel  string
}

func New(cfg Config) (Gateway, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: API key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	fast := cfg.FastModel
	if fast == "" {
		fast = "gpt-4o-mini"
	}
	big := cfg.BigModel
	if big == "" {
		big = fast
	}

	return &gateway{
		openai:    openai.NewClient(opts...),
		fastModel: fast,
		bigModel:  big,
	}, nil
}

func (g *gateway) modelFor(opts Options) string {
	if opts.Model != "" {
		return opts.Model
	}
	switch opts.ReasoningEffort {
	case EffortMedium, EffortHigh:
		return g.bigModel
	default:
		return g.fastModel
	}
}

func (g *gateway) Chat(ctx context.Context, systemPrompt, userPrompt string, opts Options) (string, *Usage, error) {
	model := g.modelFor(opts)
	maxTokens := opts.MaxCompletionTokens
	if maxTokens == 0 {
		maxTokens = 2000
	}

	params := openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		MaxTokens: openai.Int(int64(maxTokens)),
	}
	if opts.Schema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        opts.SchemaName,
					Description: openai.String("structured response schema"),
					Schema:      opts.Schema,
					Strict:      openai.Bool(true),
				},
			},
		}
	}

	start := time.Now()
	resp, err := g.openai.Chat.Completions.New(ctx, params)
	duration := time.Since(start)

	fields := logger.LogFields{Component: "llm.gateway"}
	logCtx := logger.WithLogFields(ctx, fields)
	if err != nil {
		slog.WarnContext(logCtx, "llm chat failed",
			"tag", opts.Tag, "model", model, "duration_ms", duration.Milliseconds(), "error", err)
		return "", nil, classify(err)
	}

	if len(resp.Choices) == 0 {
		return "", nil, engerr.ErrSchema
	}

	usage := &Usage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
	}

	slog.DebugContext(logCtx, "llm chat completed",
		"tag", opts.Tag,
		"model", model,
		"duration_ms", duration.Milliseconds(),
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens)

	return resp.Choices[0].Message.Content, usage, nil
}

// classify maps an openai-go error into the gateway's error taxonomy,
// following the teacher's IsRetryable status-code switch.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return engerr.ErrTransport
		}
		return engerr.NewHTTPError(apiErr.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return engerr.ErrTimeout
	}
	return engerr.ErrTransport
}

// DecodeJSON unmarshals a gateway response into result, reporting
// ErrNonJSON (never a raw json error) on failure, per spec.md §4.1/§4.2.
func DecodeJSON(raw string, result any) error {
	if err := json.Unmarshal([]byte(raw), result); err != nil {
		return engerr.ErrNonJSON
	}
	return nil
}

// GenerateSchema reflects a Go type into the JSON schema the gateway sends
// as its strict response_format, reusing the teacher's invopop/jsonschema
// reflector configuration.
func GenerateSchema[T any]() any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}
