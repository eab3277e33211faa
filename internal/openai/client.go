package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout   = 60 * time.Second
	streamingTimeout = 300 * time.Second
)

// Message is a single role-tagged chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client talks to an Azure OpenAI deployment for embeddings and chat
// completions. Construction fails if the key, endpoint, or either model
// name is missing; a half-configured client must never be handed out.
type Client struct {
	apiKey     string
	baseURL    string
	apiVersion string
	chatModel  string
	embedModel string
	httpClient *http.Client
}

// Options configures a Client. All fields except APIVersion are required.
type Options struct {
	APIKey     string
	APIBase    string
	APIVersion string
	ChatModel  string
	EmbedModel string
}

// NewClient validates the options and returns a ready Client.
func NewClient(opts Options) (*Client, error) {
	switch {
	case opts.APIKey == "":
		return nil, fmt.Errorf("API key is required but not provided")
	case opts.APIBase == "":
		return nil, fmt.Errorf("API base is required but not provided")
	case opts.ChatModel == "":
		return nil, fmt.Errorf("chat model name is required but not provided")
	case opts.EmbedModel == "":
		return nil, fmt.Errorf("embedding model name is required but not provided")
	}
	version := opts.APIVersion
	if version == "" {
		version = "2024-02-01"
	}
	return &Client{
		apiKey:     opts.APIKey,
		baseURL:    strings.TrimRight(opts.APIBase, "/"),
		apiVersion: version,
		chatModel:  opts.ChatModel,
		embedModel: opts.EmbedModel,
		httpClient: &http.Client{
			Timeout: 0,
		},
	}, nil
}

// ChatModel returns the configured chat deployment name.
func (c *Client) ChatModel() string { return c.chatModel }

func (c *Client) endpoint(deployment, operation string) string {
	return fmt.Sprintf("%s/openai/deployments/%s/%s?api-version=%s",
		c.baseURL, url.PathEscape(deployment), operation, url.QueryEscape(c.apiVersion))
}

// embedRequest is the JSON body for the embeddings endpoint.
type embedRequest struct {
	Input []string `json:"input"`
}

// embedResponse mirrors the embeddings endpoint JSON.
type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector for a single text. One input, one
// vector; batching is handled by callers.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	body, err := json.Marshal(embedRequest{Input: []string{text}})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(c.embedModel, "embeddings"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating embed request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embed: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding embed response: %w", err)
	}
	if len(result.Data) != 1 {
		return nil, fmt.Errorf("embed: got %d vectors for one input", len(result.Data))
	}
	return result.Data[0].Embedding, nil
}

// chatRequest is the JSON body for the chat completions endpoint.
type chatRequest struct {
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// chatResponse is the non-streaming chat completions JSON.
type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Chat sends messages and returns the complete assistant response text.
func (c *Client) Chat(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{Messages: messages})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(c.chatModel, "chat/completions"), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating chat request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("chat: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("chat: empty choices array")
	}
	return result.Choices[0].Message.Content, nil
}

// ChatStream sends messages with streaming enabled and returns the chunk
// stream. The caller must drain the stream to completion and Close it;
// the stream cannot be restarted.
func (c *Client) ChatStream(ctx context.Context, messages []Message) (ChunkStream, error) {
	streamCtx, cancel := context.WithTimeout(ctx, streamingTimeout)

	body, err := json.Marshal(chatRequest{Messages: messages, Stream: true})
	if err != nil {
		cancel()
		return nil, err
	}

	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, c.endpoint(c.chatModel, "chat/completions"), bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating chat stream request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("chat stream request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("chat stream: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return newSSEStream(resp.Body, cancel), nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.apiKey)
}
