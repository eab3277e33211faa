package vector

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type failingEmbedder struct {
	failOn string
}

func (f *failingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if text == f.failOn {
		return nil, errors.New("provider unavailable")
	}
	return []float32{float32(len(text)), 0}, nil
}

func TestEmbedBatch_PreservesInputOrder(t *testing.T) {
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff", "ggggggg", "hhhhhhhh"}

	vectors, err := EmbedBatch(context.Background(), &failingEmbedder{}, texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vectors) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vectors), len(texts))
	}
	for i, text := range texts {
		if vectors[i][0] != float32(len(text)) {
			t.Errorf("vectors[%d][0] = %f, want %d", i, vectors[i][0], len(text))
		}
	}
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	vectors, err := EmbedBatch(context.Background(), &failingEmbedder{}, nil)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if vectors != nil {
		t.Errorf("vectors = %v, want nil", vectors)
	}
}

func TestEmbedBatch_PropagatesFailure(t *testing.T) {
	texts := []string{"fine", "broken", "also fine"}

	_, err := EmbedBatch(context.Background(), &failingEmbedder{failOn: "broken"}, texts)
	if err == nil {
		t.Fatal("expected the failing text to surface an error")
	}
	if !strings.Contains(err.Error(), "embedding text 1") {
		t.Errorf("error = %v, want the failing index named", err)
	}
}
