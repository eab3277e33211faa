// Package training manages the three kinds of grounding material the SQL
// generator retrieves from: prior question/SQL example pairs, schema DDL
// statements and free-text documentation.
package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/insightgenix/insightgenix/internal/vector"
)

// ErrMalformedItem reports a training payload with a required field absent.
// Malformed items are rejected individually and never abort a batch.
var ErrMalformedItem = errors.New("malformed training item")

// sqlAnswerPrefix wraps a trained SQL statement so a retrieved example can
// be replayed verbatim as an assistant turn, teaching the model its own
// required output format.
const sqlAnswerPrefix = "Of course, here is your query:\n"

// SQLExample is a question with its known-good SQL answer. The legacy
// boundary field name for the statement is "query".
type SQLExample struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Query    string `json:"query"`
}

// SchemaStatement is a DDL statement describing one table.
type SchemaStatement struct {
	ID        string `json:"id"`
	TableName string `json:"table_name,omitempty"`
	DDL       string `json:"ddl_statement"`
}

// DocumentationEntry is free-text documentation about the data.
type DocumentationEntry struct {
	ID   string `json:"id"`
	Text string `json:"documentation"`
}

// Request is a tagged training payload: exactly one variant should be set.
// When several are set, documentation wins over sql, which wins over ddl.
type Request struct {
	SQL           *SQLExample         `json:"sql,omitempty"`
	DDL           *SchemaStatement    `json:"ddl,omitempty"`
	Documentation *DocumentationEntry `json:"documentation,omitempty"`
}

// Row is one entry of the unified training-data listing. Question is nil
// for schema and documentation rows.
type Row struct {
	ID       string  `json:"id"`
	Question *string `json:"question"`
	Content  string  `json:"content"`
	Type     string  `json:"training_data_type"`
}

// Example is a parsed question/SQL pair as stored in the sql collection.
type Example struct {
	Question string `json:"question"`
	SQL      string `json:"sql"`
}

// Manager dispatches training items into the vector store's collections and
// serves the retrieval lookups the prompt builder consumes.
type Manager struct {
	store    *vector.Store
	embedder vector.Embedder
}

func NewManager(store *vector.Store, embedder vector.Embedder) *Manager {
	return &Manager{store: store, embedder: embedder}
}

// Train stores one item and returns its persisted identifier, which carries
// a type suffix ("-sql", "-ddl" or "-doc") that later routes deletion.
func (m *Manager) Train(ctx context.Context, req Request) (string, error) {
	switch {
	case req.Documentation != nil:
		return m.addDocumentation(ctx, req.Documentation)
	case req.SQL != nil:
		return m.addSQLExample(ctx, req.SQL)
	case req.DDL != nil:
		return m.addSchemaStatement(ctx, req.DDL)
	default:
		return "", fmt.Errorf("no training payload provided: %w", ErrMalformedItem)
	}
}

func (m *Manager) addSQLExample(ctx context.Context, item *SQLExample) (string, error) {
	if item.Question == "" || item.Query == "" {
		return "", fmt.Errorf("sql example requires question and query: %w", ErrMalformedItem)
	}

	document, err := json.Marshal(Example{
		Question: item.Question,
		SQL:      sqlAnswerPrefix + "```sql" + item.Query + "```",
	})
	if err != nil {
		return "", fmt.Errorf("encoding sql example: %w", err)
	}

	return m.insert(ctx, vector.CollectionSQL, item.ID, "sql", string(document))
}

func (m *Manager) addSchemaStatement(ctx context.Context, item *SchemaStatement) (string, error) {
	if item.DDL == "" {
		return "", fmt.Errorf("schema statement requires ddl_statement: %w", ErrMalformedItem)
	}
	return m.insert(ctx, vector.CollectionDDL, item.ID, "ddl", item.DDL)
}

func (m *Manager) addDocumentation(ctx context.Context, item *DocumentationEntry) (string, error) {
	if item.Text == "" {
		return "", fmt.Errorf("documentation entry requires documentation text: %w", ErrMalformedItem)
	}
	return m.insert(ctx, vector.CollectionDocumentation, item.ID, "doc", item.Text)
}

func (m *Manager) insert(ctx context.Context, col vector.Collection, id, suffix, document string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}

	embedding, err := m.embedder.Embed(ctx, document)
	if err != nil {
		return "", fmt.Errorf("embedding training document: %w", err)
	}

	fullID := id + "-" + suffix
	if err := m.store.Insert(ctx, col, fullID, document, embedding); err != nil {
		return "", err
	}
	return fullID, nil
}

// TrainDocumentationBatch stores several documentation entries in one call,
// embedding them concurrently, and returns the persisted identifiers in
// input order. Any blank text rejects the whole batch before anything is
// stored.
func (m *Manager) TrainDocumentationBatch(ctx context.Context, texts []string) ([]string, error) {
	for i, text := range texts {
		if text == "" {
			return nil, fmt.Errorf("documentation entry %d is empty: %w", i, ErrMalformedItem)
		}
	}

	embeddings, err := vector.EmbedBatch(ctx, m.embedder, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding documentation batch: %w", err)
	}

	ids := make([]string, len(texts))
	for i, text := range texts {
		id := uuid.NewString() + "-doc"
		if err := m.store.Insert(ctx, vector.CollectionDocumentation, id, text, embeddings[i]); err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

// GetTrainingData unions all three collections into one listing, sql rows
// first, then ddl, then documentation.
func (m *Manager) GetTrainingData(ctx context.Context) ([]Row, error) {
	var rows []Row

	sqlRecords, err := m.store.ListAll(ctx, vector.CollectionSQL)
	if err != nil {
		return nil, fmt.Errorf("listing sql examples: %w", err)
	}
	for _, r := range sqlRecords {
		var example Example
		if err := json.Unmarshal([]byte(r.Document), &example); err != nil {
			return nil, fmt.Errorf("decoding sql example %s: %w", r.ID, err)
		}
		question := example.Question
		rows = append(rows, Row{ID: r.ID, Question: &question, Content: example.SQL, Type: "sql"})
	}

	ddlRecords, err := m.store.ListAll(ctx, vector.CollectionDDL)
	if err != nil {
		return nil, fmt.Errorf("listing schema statements: %w", err)
	}
	for _, r := range ddlRecords {
		rows = append(rows, Row{ID: r.ID, Content: r.Document, Type: "ddl"})
	}

	docRecords, err := m.store.ListAll(ctx, vector.CollectionDocumentation)
	if err != nil {
		return nil, fmt.Errorf("listing documentation: %w", err)
	}
	for _, r := range docRecords {
		rows = append(rows, Row{ID: r.ID, Content: r.Document, Type: "documentation"})
	}

	return rows, nil
}

// Remove deletes one training item, routed by its id suffix. An
// unrecognized suffix returns false without touching any collection.
func (m *Manager) Remove(ctx context.Context, id string) (bool, error) {
	var col vector.Collection
	switch {
	case strings.HasSuffix(id, "-sql"):
		col = vector.CollectionSQL
	case strings.HasSuffix(id, "-ddl"):
		col = vector.CollectionDDL
	case strings.HasSuffix(id, "-doc"):
		col = vector.CollectionDocumentation
	default:
		return false, nil
	}

	if err := m.store.Delete(ctx, col, id); err != nil {
		return false, err
	}
	return true, nil
}

// ResetCollection empties one collection by name ("sql", "ddl" or
// "documentation"), for full retraining of that material.
func (m *Manager) ResetCollection(ctx context.Context, name string) error {
	col := vector.Collection(name)
	if !col.Valid() {
		return fmt.Errorf("unknown collection %q (want sql, ddl or documentation)", name)
	}
	return m.store.Reset(ctx, col)
}

// SimilarExamples retrieves stored question/SQL pairs most similar to the
// question. Pairs whose stored document cannot be decoded are skipped.
func (m *Manager) SimilarExamples(ctx context.Context, question string) ([]Example, error) {
	docs, err := m.store.Search(ctx, vector.CollectionSQL, question, 0)
	if err != nil {
		return nil, fmt.Errorf("retrieving similar examples: %w", err)
	}

	examples := make([]Example, 0, len(docs))
	for _, d := range docs {
		var example Example
		if err := json.Unmarshal([]byte(d.Document), &example); err != nil {
			continue
		}
		examples = append(examples, example)
	}
	return examples, nil
}

// RelatedSchema retrieves the DDL statements most relevant to the question.
func (m *Manager) RelatedSchema(ctx context.Context, question string) ([]string, error) {
	docs, err := m.store.Search(ctx, vector.CollectionDDL, question, 0)
	if err != nil {
		return nil, fmt.Errorf("retrieving related schema: %w", err)
	}
	return documents(docs), nil
}

// RelatedDocumentation retrieves the documentation entries most relevant to
// the question.
func (m *Manager) RelatedDocumentation(ctx context.Context, question string) ([]string, error) {
	docs, err := m.store.Search(ctx, vector.CollectionDocumentation, question, 0)
	if err != nil {
		return nil, fmt.Errorf("retrieving related documentation: %w", err)
	}
	return documents(docs), nil
}

func documents(docs []vector.ScoredDocument) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Document
	}
	return out
}
