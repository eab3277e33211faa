package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// ChunkStream is a lazy, finite, non-restartable sequence of response text
// chunks. Recv returns io.EOF once the stream is exhausted; the consumer
// must drain it fully before treating the response as complete text.
type ChunkStream interface {
	Recv() (string, error)
	Close() error
}

// sseStream reads OpenAI-style server-sent events and yields the content
// deltas. The cancel func releases the request timeout context on Close.
type sseStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	cancel context.CancelFunc
	done   bool
}

func newSSEStream(body io.ReadCloser, cancel context.CancelFunc) *sseStream {
	return &sseStream{
		body:   body,
		reader: bufio.NewReader(body),
		cancel: cancel,
	}
}

// streamChunk mirrors one streamed chat completion event.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Recv returns the next non-empty content delta, or io.EOF when the
// upstream signals completion.
func (s *sseStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			s.done = true
			if err == io.EOF {
				return "", io.EOF
			}
			return "", fmt.Errorf("reading stream: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			s.done = true
			return "", io.EOF
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return "", fmt.Errorf("decoding stream chunk: %w", err)
		}
		// Azure sends housekeeping events with no choices; skip them.
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		return chunk.Choices[0].Delta.Content, nil
	}
}

func (s *sseStream) Close() error {
	err := s.body.Close()
	if s.cancel != nil {
		s.cancel()
	}
	return err
}

// Collect drains a stream to completion, invoking onChunk (when non-nil)
// for each delta, and returns the accumulated response text.
func Collect(stream ChunkStream, onChunk func(string)) (string, error) {
	var sb strings.Builder
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(chunk)
		if onChunk != nil {
			onChunk(chunk)
		}
	}
}
