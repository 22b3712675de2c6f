package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ErrGenerationFailed wraps any backend failure during text generation.
var ErrGenerationFailed = errors.New("ai text generation failed")

// Params are per-call decoding parameters. Pointers distinguish unset from zero.
type Params struct {
	Temperature *float64
	MaxTokens   *int
	TopP        *float64
}

// Client generates text from a system prompt and user input.
// One implementation exists per backend; stages receive a Client at
// construction time rather than consulting global configuration.
type Client interface {
	GenerateText(ctx context.Context, systemPrompt, userInput string, params Params) (string, error)
	GenerateTextStream(ctx context.Context, systemPrompt, userInput string, params Params, chunkHandler func(string) error) error
}

// Config selects and configures the generation backend.
type Config struct {
	ClientType string // "openai" or "ollama"
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
}

// NewClient builds a Client for the configured backend.
func NewClient(cfg Config, logger *zap.Logger) (Client, error) {
	switch strings.ToLower(cfg.ClientType) {
	case "openai":
		openaiConfig := openaigo.DefaultConfig(cfg.APIKey)
		openaiConfig.BaseURL = cfg.BaseURL
		openaiConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
		client := openaigo.NewClientWithConfig(openaiConfig)
		logger.Info("OpenAI client created",
			zap.String("baseURL", cfg.BaseURL),
			zap.String("model", cfg.Model),
			zap.Duration("timeout", cfg.Timeout))
		return &openAIClient{client: client, model: cfg.Model, logger: logger.Named("openai")}, nil
	case "ollama":
		return newOllamaClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown AI client type: %q", cfg.ClientType)
	}
}

// --- OpenAI implementation ---

type openAIClient struct {
	client *openaigo.Client
	model  string
	logger *zap.Logger
}

func (c *openAIClient) GenerateText(ctx context.Context, systemPrompt, userInput string, params Params) (string, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		requestsTotal.WithLabelValues(c.model, "error").Inc()
		return "", fmt.Errorf("%w: empty system prompt", ErrGenerationFailed)
	}

	startTime := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model:       c.model,
		Messages:    chatMessages(systemPrompt, userInput),
		Temperature: float32Val(params.Temperature),
		MaxTokens:   intVal(params.MaxTokens),
		TopP:        float32Val(params.TopP),
	})
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Warn("OpenAI request failed", zap.Duration("duration", duration), zap.Error(err))
		requestsTotal.WithLabelValues(c.model, "error").Inc()
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		requestsTotal.WithLabelValues(c.model, "error_empty_response").Inc()
		return "", fmt.Errorf("%w: empty response", ErrGenerationFailed)
	}

	requestsTotal.WithLabelValues(c.model, "success").Inc()
	requestDuration.WithLabelValues(c.model).Observe(duration.Seconds())
	if resp.Usage.TotalTokens > 0 {
		totalTokens.WithLabelValues(c.model).Observe(float64(resp.Usage.TotalTokens))
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *openAIClient) GenerateTextStream(ctx context.Context, systemPrompt, userInput string, params Params, chunkHandler func(string) error) error {
	if strings.TrimSpace(systemPrompt) == "" {
		return fmt.Errorf("%w: empty system prompt", ErrGenerationFailed)
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, openaigo.ChatCompletionRequest{
		Model:       c.model,
		Messages:    chatMessages(systemPrompt, userInput),
		Stream:      true,
		Temperature: float32Val(params.Temperature),
		MaxTokens:   intVal(params.MaxTokens),
		TopP:        float32Val(params.TopP),
	})
	if err != nil {
		requestsTotal.WithLabelValues(c.model, "error_stream_init").Inc()
		return fmt.Errorf("%w: stream init: %v", ErrGenerationFailed, err)
	}
	defer stream.Close()

	startTime := time.Now()
	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			requestsTotal.WithLabelValues(c.model, "error_stream_read").Inc()
			return fmt.Errorf("%w: stream read: %v", ErrGenerationFailed, err)
		}
		if len(response.Choices) > 0 {
			if chunk := response.Choices[0].Delta.Content; chunk != "" && chunkHandler != nil {
				if err := chunkHandler(chunk); err != nil {
					return fmt.Errorf("stream chunk handler: %w", err)
				}
			}
		}
	}

	requestsTotal.WithLabelValues(c.model, "success_stream").Inc()
	requestDuration.WithLabelValues(c.model).Observe(time.Since(startTime).Seconds())
	return nil
}

// --- Ollama implementation ---

type ollamaClient struct {
	client  *api.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

func newOllamaClient(cfg Config, logger *zap.Logger) (Client, error) {
	// The native ollama API wants the URL without a /v1 suffix.
	base := strings.TrimSuffix(strings.TrimSuffix(cfg.BaseURL, "/v1"), "/")
	parsedURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ollama base URL %q: %w", base, err)
	}
	client := api.NewClient(parsedURL, &http.Client{Timeout: cfg.Timeout})
	logger.Info("Ollama client created",
		zap.String("baseURL", base),
		zap.String("model", cfg.Model),
		zap.Duration("timeout", cfg.Timeout))
	return &ollamaClient{client: client, model: cfg.Model, timeout: cfg.Timeout, logger: logger.Named("ollama")}, nil
}

func (c *ollamaClient) GenerateText(ctx context.Context, systemPrompt, userInput string, params Params) (string, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		requestsTotal.WithLabelValues(c.model, "error").Inc()
		return "", fmt.Errorf("%w: empty system prompt", ErrGenerationFailed)
	}

	req := &api.ChatRequest{
		Model:    c.model,
		Messages: ollamaMessages(systemPrompt, userInput),
		Stream:   boolPtr(false),
		Options: map[string]interface{}{
			"temperature": params.Temperature,
			"top_p":       params.TopP,
			"num_predict": intVal(params.MaxTokens),
		},
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	startTime := time.Now()
	var resp api.ChatResponse
	err := c.client.Chat(requestCtx, req, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Warn("Ollama request failed", zap.Duration("duration", duration), zap.Error(err))
		requestsTotal.WithLabelValues(c.model, "error").Inc()
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if resp.Message.Content == "" {
		requestsTotal.WithLabelValues(c.model, "error_empty_response").Inc()
		return "", fmt.Errorf("%w: empty response", ErrGenerationFailed)
	}

	requestsTotal.WithLabelValues(c.model, "success").Inc()
	requestDuration.WithLabelValues(c.model).Observe(duration.Seconds())
	if total := resp.PromptEvalCount + resp.EvalCount; total > 0 {
		totalTokens.WithLabelValues(c.model).Observe(float64(total))
	}
	return resp.Message.Content, nil
}

func (c *ollamaClient) GenerateTextStream(ctx context.Context, systemPrompt, userInput string, params Params, chunkHandler func(string) error) error {
	if strings.TrimSpace(systemPrompt) == "" {
		return fmt.Errorf("%w: empty system prompt", ErrGenerationFailed)
	}

	req := &api.ChatRequest{
		Model:    c.model,
		Messages: ollamaMessages(systemPrompt, userInput),
		Stream:   boolPtr(true),
		Options: map[string]interface{}{
			"temperature": params.Temperature,
			"top_p":       params.TopP,
			"num_predict": intVal(params.MaxTokens),
		},
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	startTime := time.Now()
	err := c.client.Chat(requestCtx, req, func(resp api.ChatResponse) error {
		if resp.Message.Content != "" && chunkHandler != nil {
			if err := chunkHandler(resp.Message.Content); err != nil {
				return fmt.Errorf("stream chunk handler: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		requestsTotal.WithLabelValues(c.model, "error_stream").Inc()
		return fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	requestsTotal.WithLabelValues(c.model, "success_stream").Inc()
	requestDuration.WithLabelValues(c.model).Observe(time.Since(startTime).Seconds())
	return nil
}

// --- helpers ---

func chatMessages(systemPrompt, userInput string) []openaigo.ChatCompletionMessage {
	messages := []openaigo.ChatCompletionMessage{
		{Role: openaigo.ChatMessageRoleSystem, Content: systemPrompt},
	}
	if userInput != "" {
		messages = append(messages, openaigo.ChatCompletionMessage{Role: openaigo.ChatMessageRoleUser, Content: userInput})
	}
	return messages
}

func ollamaMessages(systemPrompt, userInput string) []api.Message {
	messages := []api.Message{{Role: "system", Content: systemPrompt}}
	if userInput != "" {
		messages = append(messages, api.Message{Role: "user", Content: userInput})
	}
	return messages
}

func float32Val(f64 *float64) float32 {
	if f64 == nil {
		return 1.0
	}
	return float32(*f64)
}

func intVal(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}

func boolPtr(b bool) *bool { return &b }
