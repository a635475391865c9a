// Package generator – OpenAI draft generator
//
// This package adapts an OpenAI-compatible chat completion endpoint to the
// consensus.Generator contract. The current document and the pending group
// messages are rendered into a single user prompt; the model's reply becomes
// the proposed content of the next draft.
//
// Retries are disabled on the client: a failed call is reported upward as
// consensus.ErrGenerationFailed and the state machine re-buffers the
// messages instead.
package generator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tbourn/groupwrite/internal/consensus"
)

// DefaultSystemPrompt instructs the model to merge new messages into the
// existing document.
const DefaultSystemPrompt = `You maintain a shared document written by a group chat.
You receive the current document and a batch of new chat messages.
Rewrite the document so it reflects the consensus of the group, integrating
the new input into the existing content. Preserve points that were not
contradicted. Reply with the full updated document only.`

// Config configures an OpenAI generator.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	Temperature  float64
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// OpenAI is a consensus.Generator backed by the chat completions API.
type OpenAI struct {
	client openai.Client
	model  openai.ChatModel
	system string
	temp   float64
}

// NewOpenAI builds the generator. Model defaults to gpt-4o-mini.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("generator: api key is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	opts = append(opts, option.WithHTTPClient(hc))

	g := &OpenAI{
		client: openai.NewClient(opts...),
		model:  openai.ChatModel(cfg.Model),
		system: cfg.SystemPrompt,
		temp:   cfg.Temperature,
	}
	if g.model == "" {
		g.model = openai.ChatModelGPT4oMini
	}
	if g.system == "" {
		g.system = DefaultSystemPrompt
	}
	return g, nil
}

// Generate implements consensus.Generator.
func (g *OpenAI) Generate(ctx context.Context, current consensus.Document, pending []consensus.Message) (string, error) {
	ctx, span := otel.Tracer("generator/openai").Start(ctx, "Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", string(g.model)),
		attribute.Int("document.version", current.Version),
		attribute.Int("messages.count", len(pending)),
	)

	params := openai.ChatCompletionNewParams{
		Model: g.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(g.system),
			openai.UserMessage(BuildPrompt(current, pending)),
		},
	}
	if g.temp > 0 {
		params.Temperature = openai.Float(g.temp)
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return "", fmt.Errorf("%w: %w", consensus.ErrGenerationFailed, err)
	}
	if len(resp.Choices) == 0 {
		span.SetStatus(codes.Error, "no choices")
		return "", fmt.Errorf("%w: empty completion", consensus.ErrGenerationFailed)
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		span.SetStatus(codes.Error, "empty content")
		return "", fmt.Errorf("%w: empty completion", consensus.ErrGenerationFailed)
	}
	return out, nil
}

// BuildPrompt renders the user prompt for one generation call.
func BuildPrompt(current consensus.Document, pending []consensus.Message) string {
	var b strings.Builder
	b.WriteString("Current document")
	if current.Version > 0 {
		fmt.Fprintf(&b, " (version %d)", current.Version)
	}
	b.WriteString(":\n")
	if strings.TrimSpace(current.Content) == "" {
		b.WriteString("(empty)\n")
	} else {
		b.WriteString(current.Content)
		b.WriteString("\n")
	}
	b.WriteString("\nNew messages:\n")
	for _, m := range pending {
		fmt.Fprintf(&b, "- %s: %s\n", m.SenderID, strings.TrimSpace(m.Text))
	}
	return b.String()
}
