package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/memoh-platform/convoy/internal/apperr"
)

// BedrockClient is the fallback LLMClient implementation, used when the
// primary Anthropic call fails or its circuit breaker is open.
type BedrockClient struct {
	client *bedrockruntime.Client
	model  string
}

// NewBedrockClient loads the default AWS credential chain (env vars, shared
// config, IAM role) and targets the given Bedrock model ID.
func NewBedrockClient(ctx context.Context, region, model string) (*BedrockClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if model == "" {
		model = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}
	return &BedrockClient{
		client: bedrockruntime.NewFromConfig(cfg),
		model:  model,
	}, nil
}

func (c *BedrockClient) Name() string { return "bedrock" }

type bedrockAnthropicRequest struct {
	AnthropicVersion string            `json:"anthropic_version"`
	MaxTokens        int               `json:"max_tokens"`
	System           string            `json:"system,omitempty"`
	Messages         []bedrockMessage  `json:"messages"`
}

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockAnthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *BedrockClient) Complete(ctx context.Context, req Request) (Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	msgs := make([]bedrockMessage, 0, len(req.History))
	for _, m := range req.History {
		msgs = append(msgs, bedrockMessage{Role: m.Role, Content: m.Content})
	}

	payload, err := json.Marshal(bedrockAnthropicRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		System:           req.SystemPrompt,
		Messages:         msgs,
	})
	if err != nil {
		return Response{}, fmt.Errorf("encode bedrock request: %w", err)
	}

	out, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.model),
		ContentType: aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return Response{}, apperr.Wrap(apperr.KindTransient, true, "bedrock_call_failed", fmt.Errorf("bedrock invoke: %w", err))
	}

	var parsed bedrockAnthropicResponse
	if err := json.NewDecoder(bytes.NewReader(out.Body)).Decode(&parsed); err != nil {
		return Response{}, fmt.Errorf("decode bedrock response: %w", err)
	}

	var text string
	for _, block := range parsed.Content {
		text += block.Text
	}

	return Response{
		Text:         text,
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
		Model:        c.model,
	}, nil
}
