// Package session holds per-session conversation state and routes each user
// utterance to SQL generation, insight generation or plain chat.
package session

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/insightgenix/insightgenix/internal/composer"
	"github.com/insightgenix/insightgenix/internal/executor"
	"github.com/insightgenix/insightgenix/internal/openai"
	"github.com/insightgenix/insightgenix/internal/training"
)

// Greeting opens every fresh conversation.
const Greeting = "InsightGenix: Your expert guide through the relational database maze. How can I assist you today with your database queries?"

// noGroundedResultReply answers an insight request when no prior query
// result exists anywhere in history.
const noGroundedResultReply = "I'm sorry, but without knowing specifically which data you are referring to, I am unable to provide a description. Could you please ask the question again?"

const (
	queryPrefix   = "query:"
	insightPrefix = "insight:"
)

// sqlBlockPattern captures the first fenced sql block; the greedy body
// match extends to the final closing fence in the response.
var sqlBlockPattern = regexp.MustCompile("(?s)```sql\n(.*)\n```")

// Message is one conversation turn. Result and ResultSample are set only on
// assistant messages whose generated query executed successfully; ExecError
// records a failed execution without aborting the turn.
type Message struct {
	Role         string
	Content      string
	Result       *executor.Table
	ResultSample string
	ExecError    string
}

// Completer produces chat completions. Streaming turns use ChatStream;
// turns with no chunk consumer use the cheaper whole-response Chat.
type Completer interface {
	Chat(ctx context.Context, messages []openai.Message) (string, error)
	ChatStream(ctx context.Context, messages []openai.Message) (openai.ChunkStream, error)
}

// Retriever serves the three similarity lookups that ground SQL generation.
type Retriever interface {
	SimilarExamples(ctx context.Context, question string) ([]training.Example, error)
	RelatedSchema(ctx context.Context, question string) ([]string, error)
	RelatedDocumentation(ctx context.Context, question string) ([]string, error)
}

type execFunc func(ctx context.Context, dbPath, query string) (*executor.Table, error)

// Session serializes turns: one utterance is fully processed before the
// next is accepted.
type Session struct {
	mu        sync.Mutex
	completer Completer
	retriever Retriever
	dbPath    string
	execute   execFunc
	messages  []Message
}

// New creates a session whose generated queries run against the SQLite
// database at dbPath. History starts with the fixed greeting.
func New(completer Completer, retriever Retriever, dbPath string) *Session {
	return &Session{
		completer: completer,
		retriever: retriever,
		dbPath:    dbPath,
		execute:   executor.Execute,
		messages:  []Message{{Role: "assistant", Content: Greeting}},
	}
}

// History returns a copy of the conversation so far.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Reset discards all conversation state and restores the greeting.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = []Message{{Role: "assistant", Content: Greeting}}
}

// Handle processes one utterance to completion and returns the assistant
// message appended to history. onChunk, when non-nil, receives incremental
// response text as it streams. A returned error means the turn halted
// before an assistant message was produced.
func (s *Session) Handle(ctx context.Context, utterance string, onChunk func(string)) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, Message{Role: "user", Content: utterance})

	var reply Message
	var err error
	switch {
	case strings.HasPrefix(utterance, queryPrefix):
		reply, err = s.handleQuery(ctx, utterance, onChunk)
	case strings.HasPrefix(utterance, insightPrefix):
		reply, err = s.handleInsight(ctx, utterance, onChunk)
	default:
		reply, err = s.handleChat(ctx, onChunk)
	}
	if err != nil {
		return Message{}, err
	}

	s.messages = append(s.messages, reply)
	return reply, nil
}

// handleQuery grounds the utterance with the three retrieval lookups,
// streams a completion, extracts the first fenced sql block and executes
// it. A response with no sql block completes the turn as plain text; a
// failed execution records the error inline and the turn still completes.
func (s *Session) handleQuery(ctx context.Context, utterance string, onChunk func(string)) (Message, error) {
	// The literal prefixed text is the retrieval query.
	examples, err := s.retriever.SimilarExamples(ctx, utterance)
	if err != nil {
		return Message{}, err
	}
	schema, err := s.retriever.RelatedSchema(ctx, utterance)
	if err != nil {
		return Message{}, err
	}
	docs, err := s.retriever.RelatedDocumentation(ctx, utterance)
	if err != nil {
		return Message{}, err
	}

	prompt := composer.BuildSQLPrompt(utterance, examples, schema, docs)
	response, err := s.complete(ctx, prompt, onChunk)
	if err != nil {
		return Message{}, err
	}

	reply := Message{Role: "assistant", Content: response}

	query, ok := extractSQL(response)
	if !ok {
		return reply, nil
	}

	table, err := s.execute(ctx, s.dbPath, query)
	if err != nil {
		reply.ExecError = err.Error()
		return reply, nil
	}
	reply.Result = table
	reply.ResultSample = table.Sample()
	return reply, nil
}

// handleInsight grounds the request on the most recent result-bearing turn
// and its originating question. With no grounded result anywhere in
// history it answers with the fixed clarifying reply and makes no
// completion call.
func (s *Session) handleInsight(ctx context.Context, utterance string, onChunk func(string)) (Message, error) {
	question, sample, ok := s.latestGroundedResult()
	if !ok {
		return Message{Role: "assistant", Content: noGroundedResultReply}, nil
	}

	prompt := composer.BuildInsightPrompt(utterance, question, sample)
	response, err := s.complete(ctx, prompt, onChunk)
	if err != nil {
		return Message{}, err
	}
	return Message{Role: "assistant", Content: response}, nil
}

// handleChat replays the visible history, roles and content only, with no
// injected system instruction.
func (s *Session) handleChat(ctx context.Context, onChunk func(string)) (Message, error) {
	prompt := make([]openai.Message, len(s.messages))
	for i, m := range s.messages {
		prompt[i] = openai.Message{Role: m.Role, Content: m.Content}
	}

	response, err := s.complete(ctx, prompt, onChunk)
	if err != nil {
		return Message{}, err
	}
	return Message{Role: "assistant", Content: response}, nil
}

func (s *Session) complete(ctx context.Context, prompt []openai.Message, onChunk func(string)) (string, error) {
	if onChunk == nil {
		response, err := s.completer.Chat(ctx, prompt)
		if err != nil {
			return "", fmt.Errorf("completing: %w", err)
		}
		return response, nil
	}
	stream, err := s.completer.ChatStream(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("starting completion: %w", err)
	}
	defer stream.Close()
	response, err := openai.Collect(stream, onChunk)
	if err != nil {
		return "", fmt.Errorf("streaming completion: %w", err)
	}
	return response, nil
}

// latestGroundedResult scans history backward, skipping the in-flight user
// utterance, for the most recent assistant message carrying a result
// sample, then backward again for the user question that produced it.
func (s *Session) latestGroundedResult() (question, sample string, ok bool) {
	for i := len(s.messages) - 2; i >= 0; i-- {
		m := s.messages[i]
		if m.Role != "assistant" || m.ResultSample == "" {
			continue
		}
		for j := i - 1; j >= 0; j-- {
			if s.messages[j].Role == "user" {
				return s.messages[j].Content, m.ResultSample, true
			}
		}
		return "", "", false
	}
	return "", "", false
}

// extractSQL returns the statement inside the first fenced sql block, or
// false when the response carries none.
func extractSQL(response string) (string, bool) {
	match := sqlBlockPattern.FindStringSubmatch(response)
	if match == nil {
		return "", false
	}
	return match[1], true
}
