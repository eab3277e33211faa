package session

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/insightgenix/insightgenix/internal/openai"
	"github.com/insightgenix/insightgenix/internal/training"
	"github.com/insightgenix/insightgenix/internal/vector"
)

type chunkStream struct {
	chunks []string
	pos    int
}

func (c *chunkStream) Recv() (string, error) {
	if c.pos >= len(c.chunks) {
		return "", io.EOF
	}
	chunk := c.chunks[c.pos]
	c.pos++
	return chunk, nil
}

func (c *chunkStream) Close() error { return nil }

// fakeCompleter returns canned responses in order and records every prompt
// it was asked to complete, counting the streaming and whole-response calls
// separately.
type fakeCompleter struct {
	responses   []string
	prompts     [][]openai.Message
	chatCalls   int
	streamCalls int
}

func (f *fakeCompleter) next(messages []openai.Message) (string, error) {
	f.prompts = append(f.prompts, messages)
	if len(f.responses) == 0 {
		return "", errors.New("no canned response left")
	}
	response := f.responses[0]
	f.responses = f.responses[1:]
	return response, nil
}

func (f *fakeCompleter) Chat(_ context.Context, messages []openai.Message) (string, error) {
	f.chatCalls++
	return f.next(messages)
}

func (f *fakeCompleter) ChatStream(_ context.Context, messages []openai.Message) (openai.ChunkStream, error) {
	f.streamCalls++
	response, err := f.next(messages)
	if err != nil {
		return nil, err
	}

	// Split mid-response to exercise chunk accumulation.
	mid := len(response) / 2
	return &chunkStream{chunks: []string{response[:mid], response[mid:]}}, nil
}

type stubRetriever struct {
	examples []training.Example
	schema   []string
	docs     []string
	err      error
}

func (r *stubRetriever) SimilarExamples(context.Context, string) ([]training.Example, error) {
	return r.examples, r.err
}

func (r *stubRetriever) RelatedSchema(context.Context, string) ([]string, error) {
	return r.schema, r.err
}

func (r *stubRetriever) RelatedDocumentation(context.Context, string) ([]string, error) {
	return r.docs, r.err
}

type testEmbedder struct{}

func (testEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	var sum float32
	for _, r := range text {
		sum += float32(r % 17)
	}
	return []float32{1, sum / 50, float32(len(text)) / 50}, nil
}

func seedCustomers(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "customers.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("opening seed database: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE customers (name TEXT, sales INTEGER)`); err != nil {
		t.Fatalf("creating table: %v", err)
	}
	for i := 1; i <= 10; i++ {
		if _, err := db.Exec(`INSERT INTO customers (name, sales) VALUES (?, ?)`,
			"customer", i*100); err != nil {
			t.Fatalf("seeding row %d: %v", i, err)
		}
	}
	return path
}

func TestHandle_QueryTurn(t *testing.T) {
	dbPath := seedCustomers(t)

	embedder := testEmbedder{}
	store, err := vector.Open(":memory:", embedder)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer store.Close()
	manager := training.NewManager(store, embedder)

	ctx := context.Background()
	if _, err := manager.Train(ctx, training.Request{SQL: &training.SQLExample{
		Question: "top 5 customers by sales",
		Query:    "SELECT name, sales FROM customers ORDER BY sales DESC LIMIT 5",
	}}); err != nil {
		t.Fatalf("Train: %v", err)
	}

	completer := &fakeCompleter{responses: []string{
		"Of course, here is your query:\n```sql\nSELECT name, sales FROM customers ORDER BY sales DESC LIMIT 5\n```",
	}}
	s := New(completer, manager, dbPath)

	var streamed strings.Builder
	onChunk := func(chunk string) { streamed.WriteString(chunk) }
	reply, err := s.Handle(ctx, "query: top 5 customers by sales", onChunk)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if !strings.Contains(reply.Content, "```sql") {
		t.Errorf("reply missing fenced block: %q", reply.Content)
	}
	if streamed.String() != reply.Content {
		t.Errorf("streamed %q, reply %q", streamed.String(), reply.Content)
	}
	if reply.Result == nil {
		t.Fatal("reply has no result table")
	}
	if got := len(reply.Result.Rows); got != 5 {
		t.Errorf("got %d result rows, want 5", got)
	}
	// Descending sales.
	if reply.Result.Rows[0][1] != "1000" || reply.Result.Rows[4][1] != "600" {
		t.Errorf("rows not ordered by sales desc: %v", reply.Result.Rows)
	}
	if !strings.HasPrefix(reply.ResultSample, "name|sales\n") {
		t.Errorf("sample = %q, want pipe-delimited header first", reply.ResultSample)
	}

	// The trained example was replayed as a few-shot pair.
	prompt := completer.prompts[0]
	var sawQuestion bool
	for _, m := range prompt {
		if m.Role == "user" && m.Content == "top 5 customers by sales" {
			sawQuestion = true
		}
	}
	if !sawQuestion {
		t.Error("prompt missing the trained example question")
	}
	if prompt[len(prompt)-1].Content != "query: top 5 customers by sales" {
		t.Errorf("last prompt message = %q, want live prefixed question", prompt[len(prompt)-1].Content)
	}
}

func TestHandle_InsightAfterQuery(t *testing.T) {
	dbPath := seedCustomers(t)
	completer := &fakeCompleter{responses: []string{
		"Of course, here is your query:\n```sql\nSELECT name, sales FROM customers ORDER BY sales DESC LIMIT 5\n```",
		"The top customer drives most of the revenue.",
	}}
	s := New(completer, &stubRetriever{}, dbPath)
	ctx := context.Background()

	if _, err := s.Handle(ctx, "query: top 5 customers by sales", nil); err != nil {
		t.Fatalf("query turn: %v", err)
	}
	reply, err := s.Handle(ctx, "insight: summarize this", nil)
	if err != nil {
		t.Fatalf("insight turn: %v", err)
	}
	if reply.Content != "The top customer drives most of the revenue." {
		t.Errorf("reply = %q", reply.Content)
	}

	insightPrompt := completer.prompts[1]
	if len(insightPrompt) != 2 {
		t.Fatalf("insight prompt has %d messages, want 2", len(insightPrompt))
	}
	user := insightPrompt[1].Content
	if !strings.Contains(user, "query: top 5 customers by sales") {
		t.Error("insight prompt missing the originating question")
	}
	if !strings.Contains(user, "name|sales\n") {
		t.Error("insight prompt missing the pipe-delimited result sample")
	}
}

func TestHandle_InsightFirstTurn(t *testing.T) {
	completer := &fakeCompleter{}
	s := New(completer, &stubRetriever{}, "unused.db")

	reply, err := s.Handle(context.Background(), "insight: summarize this", nil)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reply.Content != noGroundedResultReply {
		t.Errorf("reply = %q, want the fixed clarifying message", reply.Content)
	}
	if len(completer.prompts) != 0 {
		t.Errorf("completion service called %d times, want 0", len(completer.prompts))
	}
}

func TestHandle_CompletionPathFollowsChunkConsumer(t *testing.T) {
	completer := &fakeCompleter{responses: []string{"first", "second"}}
	s := New(completer, &stubRetriever{}, "unused.db")
	ctx := context.Background()

	if _, err := s.Handle(ctx, "no consumer here", nil); err != nil {
		t.Fatalf("non-streaming turn: %v", err)
	}
	if completer.chatCalls != 1 || completer.streamCalls != 0 {
		t.Errorf("after nil-onChunk turn: chat=%d stream=%d, want 1/0",
			completer.chatCalls, completer.streamCalls)
	}

	if _, err := s.Handle(ctx, "stream this one", func(string) {}); err != nil {
		t.Fatalf("streaming turn: %v", err)
	}
	if completer.chatCalls != 1 || completer.streamCalls != 1 {
		t.Errorf("after streaming turn: chat=%d stream=%d, want 1/1",
			completer.chatCalls, completer.streamCalls)
	}
}

func TestHandle_QueryWithoutSQLBlock(t *testing.T) {
	completer := &fakeCompleter{responses: []string{
		"This operation is prohibited by the admin. Please contact them for further assistance.",
	}}
	s := New(completer, &stubRetriever{}, "unused.db")

	reply, err := s.Handle(context.Background(), "query: drop the customers table", nil)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reply.Result != nil || reply.ResultSample != "" {
		t.Errorf("no-block turn produced a result: %+v", reply)
	}
	if reply.ExecError != "" {
		t.Errorf("no-block turn recorded an exec error: %q", reply.ExecError)
	}
	if !strings.Contains(reply.Content, "prohibited") {
		t.Errorf("reply = %q, want raw response text", reply.Content)
	}
}

func TestHandle_QueryExecutionError(t *testing.T) {
	dbPath := seedCustomers(t)
	completer := &fakeCompleter{responses: []string{
		"```sql\nSELECT missing_column FROM customers\n```",
	}}
	s := New(completer, &stubRetriever{}, dbPath)

	reply, err := s.Handle(context.Background(), "query: something off", nil)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reply.ExecError == "" {
		t.Error("expected an execution error recorded on the reply")
	}
	if reply.ResultSample != "" {
		t.Errorf("sample = %q, want empty after failed execution", reply.ResultSample)
	}

	// The failed turn keeps the session usable: an insight request now
	// finds no grounded result and degrades to the clarifying message.
	reply, err = s.Handle(context.Background(), "insight: what happened", nil)
	if err != nil {
		t.Fatalf("insight after failure: %v", err)
	}
	if reply.Content != noGroundedResultReply {
		t.Errorf("reply = %q, want clarifying message", reply.Content)
	}
}

func TestHandle_RetrievalFailureHaltsTurn(t *testing.T) {
	completer := &fakeCompleter{responses: []string{"should not be used"}}
	s := New(completer, &stubRetriever{err: errors.New("store unreachable")}, "unused.db")

	if _, err := s.Handle(context.Background(), "query: anything", nil); err == nil {
		t.Fatal("expected retrieval failure to surface")
	}
	if len(completer.prompts) != 0 {
		t.Errorf("completion service called %d times before retrieval succeeded, want 0", len(completer.prompts))
	}
}

func TestHandle_PlainChatReplaysHistory(t *testing.T) {
	completer := &fakeCompleter{responses: []string{"hello there"}}
	s := New(completer, &stubRetriever{}, "unused.db")

	reply, err := s.Handle(context.Background(), "good morning", nil)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reply.Content != "hello there" {
		t.Errorf("reply = %q", reply.Content)
	}

	prompt := completer.prompts[0]
	// Greeting plus the new user turn, no injected system instruction.
	if len(prompt) != 2 {
		t.Fatalf("prompt has %d messages, want 2", len(prompt))
	}
	if prompt[0].Role != "assistant" || prompt[0].Content != Greeting {
		t.Errorf("prompt[0] = %+v, want the greeting", prompt[0])
	}
	if prompt[1].Role != "user" || prompt[1].Content != "good morning" {
		t.Errorf("prompt[1] = %+v", prompt[1])
	}
}

func TestReset(t *testing.T) {
	completer := &fakeCompleter{responses: []string{"ok"}}
	s := New(completer, &stubRetriever{}, "unused.db")

	if _, err := s.Handle(context.Background(), "hi", nil); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := len(s.History()); got != 3 {
		t.Fatalf("history length = %d, want 3", got)
	}

	s.Reset()
	history := s.History()
	if len(history) != 1 || history[0].Content != Greeting {
		t.Errorf("history after reset = %+v, want just the greeting", history)
	}
}

func TestExtractSQL(t *testing.T) {
	cases := []struct {
		name     string
		response string
		want     string
		ok       bool
	}{
		{
			name:     "single block",
			response: "Of course:\n```sql\nSELECT 1\n```",
			want:     "SELECT 1",
			ok:       true,
		},
		{
			name:     "multiline statement",
			response: "```sql\nSELECT a\nFROM t\n```",
			want:     "SELECT a\nFROM t",
			ok:       true,
		},
		{
			name:     "no block",
			response: "I cannot help with that.",
			ok:       false,
		},
		{
			name:     "unfenced sql",
			response: "SELECT 1",
			ok:       false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := extractSQL(tc.response)
			if ok != tc.ok || got != tc.want {
				t.Errorf("extractSQL(%q) = (%q, %v), want (%q, %v)", tc.response, got, ok, tc.want, tc.ok)
			}
		})
	}
}
