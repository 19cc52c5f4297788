package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Embedder turns query text into a fixed-dimension vector. The KB chunks
// themselves are embedded offline; only the query is embedded at runtime.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// DenseArtifact is the offline-built embedding index file: overlapping
// chunk windows, each with a vector of the declared dimension.
type DenseArtifact struct {
	Version string       `json:"version"`
	Dim     int          `json:"dim"`
	Chunks  []DenseChunk `json:"chunks"`
}

// DenseChunk is one embedded window.
type DenseChunk struct {
	DocID  string    `json:"doc_id"`
	Source string    `json:"source"`
	Text   string    `json:"text"`
	Vector []float32 `json:"vector"`
}

// Dense is the optional semantic backend: exact cosine nearest-neighbor
// over the artifact vectors.
type Dense struct {
	artifact DenseArtifact
	embedder Embedder
}

// LoadDense reads and validates the dense artifact.
func LoadDense(path string, embedder Embedder) (*Dense, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dense artifact: %w", err)
	}
	var art DenseArtifact
	if err := json.Unmarshal(raw, &art); err != nil {
		return nil, fmt.Errorf("decoding dense artifact: %w", err)
	}
	if art.Dim <= 0 {
		return nil, fmt.Errorf("dense artifact declares dimension %d", art.Dim)
	}
	for _, c := range art.Chunks {
		if len(c.Vector) != art.Dim {
			return nil, fmt.Errorf("chunk %s has %d dims, artifact declares %d", c.DocID, len(c.Vector), art.Dim)
		}
	}
	return &Dense{artifact: art, embedder: embedder}, nil
}

func (d *Dense) Name() string { return string(SourceDense) }

// Len returns the number of embedded chunks.
func (d *Dense) Len() int { return len(d.artifact.Chunks) }

// Query embeds the text and ranks chunks by cosine similarity. Embedding
// failures degrade to an empty result set rather than failing the turn.
func (d *Dense) Query(ctx context.Context, text string, k int) ([]Passage, error) {
	if k <= 0 || len(d.artifact.Chunks) == 0 || text == "" {
		return nil, nil
	}
	vecs, err := d.embedder.CreateEmbedding(ctx, []string{text})
	if err != nil || len(vecs) == 0 {
		return nil, nil
	}
	q := vecs[0]
	passages := make([]Passage, 0, len(d.artifact.Chunks))
	for _, c := range d.artifact.Chunks {
		passages = append(passages, Passage{
			DocID:  c.DocID,
			Text:   c.Text,
			Score:  cosine(q, c.Vector),
			Source: SourceDense,
		})
	}
	return sortPassages(passages, k), nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
