package composer

import (
	"strings"
	"testing"

	"github.com/insightgenix/insightgenix/internal/training"
)

func TestBuildSQLPrompt_Shape(t *testing.T) {
	examples := []training.Example{
		{Question: "top customers", SQL: "SELECT * FROM customers LIMIT 10"},
		{Question: "no sql"},                  // skipped
		{SQL: "SELECT 1"},                     // skipped
		{Question: "count rows", SQL: "SELECT COUNT(*) FROM customers"},
	}
	schema := []string{"CREATE TABLE customers (name TEXT, sales INTEGER)"}
	docs := []string{"Sales are in dollars."}

	messages := BuildSQLPrompt("top 5 customers by sales", examples, schema, docs)

	// system + 2 complete example pairs + live question.
	if len(messages) != 6 {
		t.Fatalf("got %d messages, want 6", len(messages))
	}
	if messages[0].Role != "system" {
		t.Errorf("messages[0].Role = %q, want system", messages[0].Role)
	}
	if !strings.Contains(messages[0].Content, "CREATE TABLE customers") {
		t.Error("system message missing schema section")
	}
	if !strings.Contains(messages[0].Content, "Sales are in dollars.") {
		t.Error("system message missing documentation section")
	}
	if !strings.Contains(messages[0].Content, "```sql") {
		t.Error("system message missing fenced output format instruction")
	}

	if messages[1].Role != "user" || messages[1].Content != "top customers" {
		t.Errorf("messages[1] = %+v, want first example question", messages[1])
	}
	if messages[2].Role != "assistant" || messages[2].Content != "SELECT * FROM customers LIMIT 10" {
		t.Errorf("messages[2] = %+v, want first example sql", messages[2])
	}
	if messages[3].Content != "count rows" || messages[4].Content != "SELECT COUNT(*) FROM customers" {
		t.Errorf("second pair = %+v / %+v", messages[3], messages[4])
	}

	last := messages[len(messages)-1]
	if last.Role != "user" || last.Content != "top 5 customers by sales" {
		t.Errorf("last message = %+v, want live question", last)
	}
}

func TestBuildSQLPrompt_NoContext(t *testing.T) {
	messages := BuildSQLPrompt("anything", nil, nil, nil)
	if len(messages) != 2 {
		t.Fatalf("got %d messages, want system + question", len(messages))
	}
	if messages[1].Content != "anything" {
		t.Errorf("question = %q", messages[1].Content)
	}
}

func TestJoinWithinBudget(t *testing.T) {
	// Each item is 400 chars = 100 tokens; with the separator each
	// appended item contributes a bit over 100 tokens.
	item := strings.Repeat("x", 400)
	items := make([]string, 10)
	for i := range items {
		items[i] = item
	}

	rendered := joinWithinBudget(items, 300)
	if got := EstimateTokens(rendered); got >= 300 {
		t.Errorf("rendered section estimates %d tokens, want < 300", got)
	}
	if got := strings.Count(rendered, item); got != 2 {
		t.Errorf("included %d items, want 2", got)
	}
}

func TestJoinWithinBudget_Monotonic(t *testing.T) {
	items := []string{
		strings.Repeat("a", 200),
		strings.Repeat("b", 2000),
		strings.Repeat("c", 200),
	}

	full := joinWithinBudget(items, 600)
	// Removing an included item must yield a prefix of the original
	// inclusion set, never a reordering.
	without := joinWithinBudget(items[1:], 600)
	if !strings.HasPrefix(full, joinWithinBudget(items[:1], 600)) {
		t.Error("first item not a prefix of the full rendering")
	}
	if !strings.Contains(without, strings.Repeat("b", 2000)) {
		t.Error("expected second item to fit once the first was removed")
	}
}

func TestJoinWithinBudget_NeverTruncates(t *testing.T) {
	big := strings.Repeat("y", 100000)
	rendered := joinWithinBudget([]string{big, "small"}, sectionTokenBudget)
	if strings.Contains(rendered, "y") {
		t.Error("oversized item was partially included")
	}
}

func TestBuildInsightPrompt(t *testing.T) {
	messages := BuildInsightPrompt(
		"insight: summarize this",
		"top 5 customers by sales",
		"name|sales\nalice|1000\n",
	)

	if len(messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(messages))
	}
	if messages[0].Role != "system" || !strings.Contains(messages[0].Content, "Data Analysis Insight Brief") {
		t.Errorf("system message = %+v", messages[0])
	}
	user := messages[1].Content
	if !strings.Contains(user, "insight: summarize this") {
		t.Error("user message missing the request")
	}
	if !strings.Contains(user, "**Question:** top 5 customers by sales") {
		t.Error("user message missing the prior question")
	}
	if !strings.Contains(user, "name|sales\nalice|1000") {
		t.Error("user message missing the result sample")
	}
}
