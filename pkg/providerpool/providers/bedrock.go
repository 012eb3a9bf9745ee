package providers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	rerrors "github.com/resolvecore/resolver/pkg/obs/errors"
	"github.com/resolvecore/resolver/pkg/providerpool"
)

// Bedrock is a providerpool.Provider backed by the AWS Bedrock Converse API,
// covering Claude and other foundation models hosted on Bedrock.
type Bedrock struct {
	client *bedrockruntime.Client
}

// NewBedrock loads AWS credentials from the default chain for region and
// constructs a Bedrock provider.
func NewBedrock(ctx context.Context, region string) (*Bedrock, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, rerrors.New(rerrors.KindInternal, "load aws config", "bedrock_provider", "", err)
	}
	return &Bedrock{client: bedrockruntime.NewFromConfig(cfg)}, nil
}

func (b *Bedrock) Complete(ctx context.Context, messages []providerpool.Message, model string, maxTokens int, temperature float64) (string, providerpool.Usage, error) {
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(model),
		Messages: toBedrockMessages(messages),
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(int32(maxTokens)),
			Temperature: aws.Float32(float32(temperature)),
		},
	}

	out, err := b.client.Converse(ctx, input)
	if err != nil {
		return "", providerpool.Usage{}, classifyBedrockError(err)
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", providerpool.Usage{}, rerrors.New(rerrors.KindInvalidModelOutput, "complete", "bedrock_provider", model, nil)
	}
	var text string
	for _, block := range msg.Value.Content {
		if tb, ok := block.(*types.ContentBlockMemberText); ok {
			text += tb.Value
		}
	}

	usage := providerpool.Usage{}
	if out.Usage != nil {
		usage.PromptTokens = int(aws.ToInt32(out.Usage.InputTokens))
		usage.CompletionTokens = int(aws.ToInt32(out.Usage.OutputTokens))
	}
	return text, usage, nil
}

func (b *Bedrock) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		body, err := json.Marshal(map[string]string{"inputText": t})
		if err != nil {
			return nil, rerrors.New(rerrors.KindInternal, "marshal embed request", "bedrock_provider", model, err)
		}
		resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(model),
			ContentType: aws.String("application/json"),
			Body:        body,
		})
		if err != nil {
			return nil, classifyBedrockError(err)
		}
		var parsed struct {
			Embedding []float32 `json:"embedding"`
		}
		if err := json.Unmarshal(resp.Body, &parsed); err != nil {
			return nil, rerrors.New(rerrors.KindInvalidModelOutput, "embed", "bedrock_provider", model, err)
		}
		out[i] = parsed.Embedding
	}
	return out, nil
}

func (b *Bedrock) Probe(ctx context.Context) error {
	_, err := b.client.ListFoundationModels(ctx, nil)
	if err != nil {
		return rerrors.New(rerrors.KindProviderUnavailable, "probe", "bedrock_provider", "", err)
	}
	return nil
}

func toBedrockMessages(messages []providerpool.Message) []types.Message {
	out := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		role := types.ConversationRoleUser
		if m.Role == "assistant" {
			role = types.ConversationRoleAssistant
		}
		out = append(out, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
		})
	}
	return out
}

// classifyBedrockError maps throttling to RateLimited, validation and
// access-denied errors to InvalidInput (permanent from the Dispatcher's
// perspective), and everything else to ProviderUnavailable (transient).
func classifyBedrockError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "ThrottlingException"):
		return rerrors.New(rerrors.KindRateLimited, "complete", "bedrock_provider", "", err)
	case strings.Contains(msg, "ValidationException"), strings.Contains(msg, "AccessDeniedException"):
		return rerrors.New(rerrors.KindInvalidInput, "complete", "bedrock_provider", "", err)
	default:
		return rerrors.New(rerrors.KindProviderUnavailable, "complete", "bedrock_provider", "", err)
	}
}
