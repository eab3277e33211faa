package vector

import (
	"context"
	"errors"
	"time"
)

// Collection names one of the three typed collections in a Store.
type Collection string

const (
	CollectionSQL           Collection = "sql"
	CollectionDDL           Collection = "ddl"
	CollectionDocumentation Collection = "documentation"
)

// Collections lists every collection a Store owns, in display order.
var Collections = []Collection{CollectionSQL, CollectionDDL, CollectionDocumentation}

// Valid reports whether c is one of the known collections.
func (c Collection) Valid() bool {
	for _, known := range Collections {
		if c == known {
			return true
		}
	}
	return false
}

// defaultTopK is the per-collection similarity search default. SQL examples
// benefit from more candidates because the prompt's few-shot slots filter
// them downstream; schema and documentation lookups stay narrow since only
// the top matches feed the bounded prompt sections.
func (c Collection) defaultTopK() int {
	if c == CollectionSQL {
		return 10
	}
	return 3
}

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateID is returned when inserting an id that already exists
	// in the target collection.
	ErrDuplicateID = errors.New("duplicate id")
)

// Record is a stored document with its embedding.
type Record struct {
	ID        string
	Document  string
	Embedding []float32
	CreatedAt time.Time
}

// ScoredDocument is a search hit. Distance is cosine distance: smaller
// means more similar.
type ScoredDocument struct {
	ID       string
	Document string
	Distance float32
}

// Embedder turns text into a fixed-dimension vector. Any provider that can
// do that plugs in here; the store never assumes a concrete client type.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
