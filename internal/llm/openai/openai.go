// Package openai implements llm.Embedder and llm.Generator on top of any
// OpenAI-compatible HTTP endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"math"

	openai "github.com/sashabaranov/go-openai"
)

const defaultBatchSize = 64

// NewClient builds a client for apiKey, pointing at baseURL when non-empty
// (e.g. a local vLLM or Ollama server).
func NewClient(apiKey, baseURL string) (*openai.Client, error) {
	if apiKey == "" && baseURL == "" {
		return nil, errors.New("openai: API key is required when no base URL is set")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg), nil
}

// Embedder calls the embeddings endpoint in batches.
type Embedder struct {
	client    *openai.Client
	model     string
	batchSize int
}

func NewEmbedder(client *openai.Client, model string, batchSize int) *Embedder {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Embedder{client: client, model: model, batchSize: batchSize}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(e.model),
			Input: texts[start:end],
		})
		if err != nil {
			return nil, fmt.Errorf("openai embeddings: %w", err)
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("openai embeddings: got %d rows for %d inputs", len(resp.Data), end-start)
		}
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= end-start {
				return nil, fmt.Errorf("openai embeddings: row index %d out of range", d.Index)
			}
			row := make([]float32, len(d.Embedding))
			for i := range d.Embedding {
				row[i] = float32(d.Embedding[i])
			}
			out[start+d.Index] = row
		}
	}
	return out, nil
}

// Generator calls the chat completions endpoint with a single user message.
type Generator struct {
	client *openai.Client
	model  string
}

func NewGenerator(client *openai.Client, model string) *Generator {
	return &Generator{client: client, model: model}
}

func (g *Generator) Generate(ctx context.Context, prompt string, maxLength int) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens: maxLength,
		// A literal 0 is dropped by omitempty and the server default (1.0)
		// would apply.
		Temperature: math.SmallestNonzeroFloat32,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai chat completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
