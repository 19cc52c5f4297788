// Package retrieval exposes one query contract over two knowledge-base
// backends: a bleve lexical index (always buildable from the chunk
// artifact) and an optional dense embedding index. The backend is chosen
// once at startup and fixed for the process lifetime.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
)

// Source identifies which backend produced a passage.
type Source string

const (
	SourceLexical Source = "lexical"
	SourceDense   Source = "dense"
)

// Passage is one retrieved knowledge-base chunk, ordered by descending
// score, ties broken by ascending doc id.
type Passage struct {
	DocID  string  `json:"doc_id"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
	Source Source  `json:"source"`
}

// Index answers read-only, side-effect-free queries. Querying an empty or
// unloaded index returns an empty slice, never an error.
type Index interface {
	Query(ctx context.Context, text string, k int) ([]Passage, error)
	Name() string
}

// Chunk is one pre-split knowledge-base window, produced offline by the
// index subcommand.
type Chunk struct {
	DocID  string `json:"doc_id"`
	Source string `json:"source"`
	Text   string `json:"text"`
}

// LoadChunks reads the chunk artifact. A missing file yields an empty
// corpus, which is a degradation, not an error.
func LoadChunks(path string) ([]Chunk, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading chunk artifact: %w", err)
	}
	var chunks []Chunk
	if err := json.Unmarshal(raw, &chunks); err != nil {
		return nil, fmt.Errorf("decoding chunk artifact: %w", err)
	}
	return chunks, nil
}

// Select makes the startup backend decision: the dense index when its
// artifact loads and an embedder is available, otherwise lexical.
func Select(chunksPath, densePath string, embedder Embedder, logger *log.Logger) (Index, error) {
	if densePath != "" && embedder != nil {
		dense, err := LoadDense(densePath, embedder)
		if err == nil {
			logger.Printf("retrieval backend: dense (%s, %d chunks)", densePath, dense.Len())
			return dense, nil
		}
		logger.Printf("dense index unavailable (%v), falling back to lexical", err)
	}

	chunks, err := LoadChunks(chunksPath)
	if err != nil {
		logger.Printf("lexical chunk artifact unreadable (%v), serving empty corpus", err)
		chunks = nil
	}
	lex, err := NewLexical(chunks)
	if err != nil {
		return nil, fmt.Errorf("building lexical index: %w", err)
	}
	logger.Printf("retrieval backend: lexical (%d chunks)", len(chunks))
	return lex, nil
}

// sortPassages orders by descending score, ties by ascending doc id, and
// truncates to k.
func sortPassages(passages []Passage, k int) []Passage {
	sort.SliceStable(passages, func(i, j int) bool {
		if passages[i].Score != passages[j].Score {
			return passages[i].Score > passages[j].Score
		}
		return passages[i].DocID < passages[j].DocID
	})
	if k >= 0 && len(passages) > k {
		passages = passages[:k]
	}
	return passages
}
