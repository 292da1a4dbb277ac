package model

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/docsift/docsift/internal/config"
)

// GeneratorClient produces answers through an OpenAI-compatible chat
// completions endpoint, the surface exposed by the local generation
// server.
type GeneratorClient struct {
	client       *openai.Client
	model        string
	systemPrompt string
}

var _ Generator = (*GeneratorClient)(nil)

// NewGeneratorClient builds the client from configuration.
func NewGeneratorClient(cfg config.GeneratorConfig) (*GeneratorClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("generator endpoint is required")
	}

	clientCfg := openai.DefaultConfig("")
	clientCfg.BaseURL = cfg.Endpoint
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient.Timeout = cfg.Timeout
	} else {
		clientCfg.HTTPClient.Timeout = 120 * time.Second
	}

	return &GeneratorClient{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
	}, nil
}

// Generate sends the prompt as a user message under the configured
// system prompt and returns the completion text. Chat completions never
// include the prompt in the output.
func (c *GeneratorClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	temperature := opts.Temperature
	if temperature == 0 {
		// The client omits a zero temperature from the request body, which
		// would fall back to the server default; the smallest non-zero
		// value keeps sampling effectively greedy.
		temperature = math.SmallestNonzeroFloat32
	}

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   opts.MaxNewTokens,
		Temperature: temperature,
		TopP:        opts.TopP,
		Stop:        opts.Stop,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: generation request: %v", ErrModel, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: generation returned no choices", ErrModel)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
