package retrieval

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve"
)

// Lexical is the always-available backend: a mem-only bleve index over
// the knowledge-base chunks.
type Lexical struct {
	index  bleve.Index
	chunks map[string]Chunk
}

type lexicalDoc struct {
	Text string `json:"text"`
}

// NewLexical builds the in-memory index. An empty chunk list is valid and
// produces an index that answers every query with no results.
func NewLexical(chunks []Chunk) (*Lexical, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Chunk, len(chunks))
	for _, c := range chunks {
		if c.DocID == "" {
			return nil, fmt.Errorf("chunk with empty doc id")
		}
		byID[c.DocID] = c
		if err := idx.Index(c.DocID, lexicalDoc{Text: c.Text}); err != nil {
			return nil, fmt.Errorf("indexing chunk %s: %w", c.DocID, err)
		}
	}
	return &Lexical{index: idx, chunks: byID}, nil
}

func (l *Lexical) Name() string { return string(SourceLexical) }

// Query runs a match query over the chunk text. User text goes through
// bleve's analyzer, so punctuation and casing are irrelevant.
func (l *Lexical) Query(ctx context.Context, text string, k int) ([]Passage, error) {
	if k <= 0 || len(l.chunks) == 0 || text == "" {
		return nil, nil
	}
	q := bleve.NewMatchQuery(text)
	req := bleve.NewSearchRequestOptions(q, k*3, 0, false)
	res, err := l.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	passages := make([]Passage, 0, len(res.Hits))
	for _, hit := range res.Hits {
		c, ok := l.chunks[hit.ID]
		if !ok {
			continue
		}
		passages = append(passages, Passage{
			DocID:  hit.ID,
			Text:   c.Text,
			Score:  hit.Score,
			Source: SourceLexical,
		})
	}
	return sortPassages(passages, k), nil
}
