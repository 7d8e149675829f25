// Package llm wraps the OpenAI-compatible chat and embeddings APIs behind
// small interfaces so the planner, specialists, and report synthesizer can be
// tested against fakes.
package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/finsight-ai/finsight/pkg/models"
)

// Client is the chat completion surface used across the codebase.
type Client interface {
	// Generate returns the full completion for the given system prompt and
	// message history.
	Generate(ctx context.Context, system string, messages []models.Message) (string, error)

	// GenerateStream streams the completion, calling onToken for each text
	// delta, and returns the accumulated text.
	GenerateStream(ctx context.Context, system string, messages []models.Message, onToken func(string)) (string, error)
}

// Embedder produces fixed-dimension embeddings for memory storage and search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAIClient implements Client against any OpenAI-compatible endpoint.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient creates a chat client. baseURL is optional; empty means the
// OpenAI production endpoint.
func NewOpenAIClient(apiKey, baseURL, model string) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIClient{client: openai.NewClient(opts...), model: model}
}

func (c *OpenAIClient) params(system string, messages []models.Message) openai.ChatCompletionNewParams {
	history := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if system != "" {
		history = append(history, openai.SystemMessage(system))
	}
	for _, m := range messages {
		switch m.Role {
		case models.RoleAssistant:
			history = append(history, openai.AssistantMessage(m.Content))
		case models.RoleSystem:
			history = append(history, openai.SystemMessage(m.Content))
		default:
			history = append(history, openai.UserMessage(m.Content))
		}
	}
	return openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: history,
	}
}

// Generate implements Client.
func (c *OpenAIClient) Generate(ctx context.Context, system string, messages []models.Message) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, c.params(system, messages))
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateStream implements Client.
func (c *OpenAIClient) GenerateStream(ctx context.Context, system string, messages []models.Message, onToken func(string)) (string, error) {
	stream := c.client.Chat.Completions.NewStreaming(ctx, c.params(system, messages))
	defer stream.Close()

	var full string
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full += delta
		if onToken != nil {
			onToken(delta)
		}
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("chat completion stream: %w", err)
	}
	return full, nil
}

// EmbeddingDimensions is the fixed width of every stored embedding. The
// vector store schema depends on this value.
const EmbeddingDimensions = 384

// OpenAIEmbedder implements Embedder using the embeddings endpoint with the
// dimensions parameter pinned to EmbeddingDimensions.
type OpenAIEmbedder struct {
	client openai.Client
	model  string
}

// NewOpenAIEmbedder creates an embedder.
func NewOpenAIEmbedder(apiKey, baseURL, model string) *OpenAIEmbedder {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIEmbedder{client: openai.NewClient(opts...), model: model}
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model:      openai.EmbeddingModel(e.model),
		Input:      openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Dimensions: openai.Int(EmbeddingDimensions),
	})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embed: empty response")
	}
	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
