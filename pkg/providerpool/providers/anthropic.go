// Package providers holds the concrete LLM provider plug-ins registered
// into the Provider Pool: anthropic (Claude via the Anthropic API) and
// bedrock (Claude and other foundation models via AWS Bedrock). See
// spec.md §4.E/§6.
package providers

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	rerrors "github.com/resolvecore/resolver/pkg/obs/errors"
	"github.com/resolvecore/resolver/pkg/providerpool"
)

// Anthropic is a providerpool.Provider backed by the Anthropic Messages API.
type Anthropic struct {
	client anthropic.Client
}

// NewAnthropic constructs an Anthropic provider with apiKey.
func NewAnthropic(apiKey string) *Anthropic {
	return &Anthropic{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

func (a *Anthropic) Complete(ctx context.Context, messages []providerpool.Message, model string, maxTokens int, temperature float64) (string, providerpool.Usage, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(temperature),
		Messages:    toAnthropicMessages(messages),
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", providerpool.Usage{}, classifyAnthropicError(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	usage := providerpool.Usage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}
	return text.String(), usage, nil
}

func (a *Anthropic) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	return nil, rerrors.New(rerrors.KindInvalidInput, "embed", "anthropic_provider", model, nil)
}

func (a *Anthropic) Probe(ctx context.Context) error {
	_, _, err := a.Complete(ctx, []providerpool.Message{{Role: "user", Content: "ping"}}, string(anthropic.ModelClaude3_5HaikuLatest), 1, 0)
	return err
}

func toAnthropicMessages(messages []providerpool.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(block))
			continue
		}
		out = append(out, anthropic.NewUserMessage(block))
	}
	return out
}

// classifyAnthropicError distinguishes permanent failures (auth, bad
// request) from transient ones, since the Dispatcher (spec.md §4.F step 2e)
// must not fall back on a permanent failure.
func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if ok := asAnthropicError(err, &apiErr); ok {
		switch apiErr.StatusCode {
		case 401, 403, 400:
			return rerrors.New(rerrors.KindInvalidInput, "complete", "anthropic_provider", "", err)
		case 429:
			return rerrors.New(rerrors.KindRateLimited, "complete", "anthropic_provider", "", err)
		}
	}
	return rerrors.New(rerrors.KindProviderUnavailable, "complete", "anthropic_provider", "", err)
}

func asAnthropicError(err error, target **anthropic.Error) bool {
	apiErr, ok := err.(*anthropic.Error)
	if ok {
		*target = apiErr
	}
	return ok
}
