package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/lyceum/internal/apierr"
	"github.com/pavelanni/lyceum/internal/model"
)

const embedBatchSize = 64

// Config selects the OpenAI-compatible endpoint and models.
type Config struct {
	BaseURL     string
	APIKey      string
	ChatModel   string
	EmbedModel  string
	EmbedDim    int
	Temperature float32
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api         *openai.Client
	model       string
	embedModel  string
	embedDim    int
	temperature float32
}

// New creates a new LLM client.
func New(cfg Config) *Client {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return &Client{
		api:         openai.NewClientWithConfig(config),
		model:       cfg.ChatModel,
		embedModel:  cfg.EmbedModel,
		embedDim:    cfg.EmbedDim,
		temperature: cfg.Temperature,
	}
}

// Ping checks that the endpoint answers and lists models.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// Message is one turn passed to Complete.
type Message struct {
	Role    model.ChatRole
	Content string
}

func toChatMessages(system string, msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range msgs {
		role := openai.ChatMessageRoleUser
		if m.Role == model.ChatAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

// Complete returns the model's plain-text reply to a conversation.
func (c *Client) Complete(ctx context.Context, msgs []Message) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toChatMessages("", msgs),
		Temperature: c.temperature,
	})
	if err != nil {
		return "", apierr.Upstream("LLM", fmt.Errorf("LLM API call: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", apierr.Upstream("LLM", errors.New("LLM returned no choices"))
	}
	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM completion", "raw", raw)
	return raw, nil
}

// Generate sends a composed prompt and decodes the reply strictly into out.
// A reply that does not match out's schema is a parse error; there is no retry.
func (c *Client) Generate(ctx context.Context, prompt string, out Schema) error {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You reply with a single JSON object and nothing else."},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: c.temperature,
	})
	if err != nil {
		return apierr.Upstream("LLM", fmt.Errorf("LLM API call: %w", err))
	}
	if len(resp.Choices) == 0 {
		return apierr.Upstream("LLM", errors.New("LLM returned no choices"))
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)

	if err := Decode(raw, out); err != nil {
		slog.Warn("LLM output rejected", "error", err, "raw", truncate(raw, 500))
		return apierr.Parse(err)
	}
	return nil
}

// Embed returns one vector per input text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		end := min(start+embedBatchSize, len(texts))
		req := openai.EmbeddingRequest{
			Input: texts[start:end],
			Model: openai.EmbeddingModel(c.embedModel),
		}
		if c.embedDim > 0 {
			req.Dimensions = c.embedDim
		}
		resp, err := c.api.CreateEmbeddings(ctx, req)
		if err != nil {
			return nil, apierr.Upstream("embedding", fmt.Errorf("embeddings API call: %w", err))
		}
		if len(resp.Data) != end-start {
			return nil, apierr.Upstream("embedding",
				fmt.Errorf("embeddings API returned %d vectors for %d inputs", len(resp.Data), end-start))
		}
		data := resp.Data
		sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
		for _, d := range data {
			out = append(out, d.Embedding)
		}
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "") + "..."
}
