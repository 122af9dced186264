package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"docchat/internal/config"
	"docchat/internal/domain"
)

// Embedder produces one vector per input text, preserving input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Completer generates an answer for a chat transcript.
type Completer interface {
	Complete(ctx context.Context, messages []domain.Message) (string, error)
}

// Client talks to an OpenAI-compatible provider (OpenAI, Mistral, Ollama...)
// for both embeddings and chat completions.
type Client struct {
	api        *openai.Client
	embedModel string
	chatModel  string
}

// NewClient creates a provider client from configuration.
func NewClient(cfg config.LLMConfig) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	return &Client{
		api:        openai.NewClientWithConfig(apiCfg),
		embedModel: cfg.EmbeddingModel,
		chatModel:  cfg.ChatModel,
	}
}

// Embed returns one embedding per text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.embedModel),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// Complete generates an answer for the transcript.
func (c *Client) Complete(ctx context.Context, messages []domain.Message) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.chatModel,
		Messages:    msgs,
		Temperature: 0.1,
		MaxTokens:   1024,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
