// Package openai structures free text with an OpenAI-compatible chat
// completions endpoint using a JSON-schema response format.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"chatrelay/pkg/config"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	defaultAPIKeyEnv = "OPENAI_API_KEY"
	schemaName       = "bridge_request"

	systemPrompt = "Convert the user's message into the requested JSON object. " +
		"Copy the text to process into originalText and list any steering keywords in tags. " +
		"If the message contains nothing to process, set originalText to <UNKNOWN>."
)

type Client struct {
	client         osdk.Client
	model          string
	requestTimeout time.Duration
}

func New(cfg config.StructuringConfig) (*Client, error) {
	apiKey := resolveAPIKey(cfg)
	if apiKey == "" {
		return nil, errors.New("structuring.api_key_env is required or OPENAI_API_KEY must be set")
	}

	model, err := normalizeModel(cfg.Model)
	if err != nil {
		return nil, err
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	requestTimeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if requestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(requestTimeout))
	}

	return &Client{
		client:         osdk.NewClient(opts...),
		model:          model,
		requestTimeout: requestTimeout,
	}, nil
}

// Structure asks the model for an object matching schema.
func (c *Client) Structure(ctx context.Context, prompt string, schema map[string]any) (map[string]any, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := structurerLogger().With("operation", "structure")
	startedAt := time.Now()

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, errors.New("prompt is required")
	}
	log.Debug("structurer request started", "model", c.model, "prompt_length", len(prompt))

	completion, err := c.client.Chat.Completions.New(ctx, osdk.ChatCompletionNewParams{
		Model: c.model,
		Messages: []osdk.ChatCompletionMessageParamUnion{
			osdk.SystemMessage(systemPrompt),
			osdk.UserMessage(prompt),
		},
		ResponseFormat: osdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &osdk.ResponseFormatJSONSchemaParam{
				JSONSchema: osdk.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   schemaName,
					Schema: schema,
					Strict: osdk.Bool(true),
				},
			},
		},
	})
	if err != nil {
		log.Debug("structurer request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return nil, fmt.Errorf("structure failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("structure succeeded but returned no choices")
	}

	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	if content == "" {
		log.Debug("structurer request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", "no output text")
		return nil, errors.New("structure succeeded but returned no content")
	}

	var output map[string]any
	if err := json.Unmarshal([]byte(content), &output); err != nil {
		return nil, fmt.Errorf("decode structured output: %w", err)
	}
	log.Debug("structurer request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "response_length", len(content))

	return output, nil
}

func structurerLogger() *slog.Logger {
	return slog.Default().With("component", "structuring.openai")
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.requestTimeout)
}

func resolveAPIKey(cfg config.StructuringConfig) string {
	if apiKeyEnv := strings.TrimSpace(cfg.APIKeyEnv); apiKeyEnv != "" {
		if apiKey := strings.TrimSpace(os.Getenv(apiKeyEnv)); apiKey != "" {
			return apiKey
		}
	}

	return strings.TrimSpace(os.Getenv(defaultAPIKeyEnv))
}

func normalizeModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("structuring.model is required")
	}

	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 {
		return model, nil
	}

	providerID := strings.TrimSpace(parts[0])
	modelID := strings.TrimSpace(parts[1])
	if providerID == "" || modelID == "" {
		return "", errors.New("model is invalid")
	}
	if providerID != "openai" {
		return "", fmt.Errorf("model provider %q is not supported by openai structurer", providerID)
	}

	return modelID, nil
}
