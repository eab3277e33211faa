package ingest

import "strings"

// DefaultChunkSize bounds each documentation chunk so a handful of retrieved
// chunks fit comfortably inside the documentation prompt section.
const DefaultChunkSize = 4000

// Chunks splits extracted text into pieces of at most maxChars characters,
// preferring paragraph boundaries. A single paragraph longer than maxChars
// is split mid-text. Returns nil for blank input.
func Chunks(text string, maxChars int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxChars <= 0 {
		maxChars = DefaultChunkSize
	}

	var chunks []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		for len(para) > maxChars {
			flush()
			chunks = append(chunks, para[:maxChars])
			para = para[maxChars:]
		}
		if current.Len() > 0 && current.Len()+2+len(para) > maxChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()
	return chunks
}
