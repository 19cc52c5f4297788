package retrieval

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// Chunking constants for the offline KB build: fixed-size overlapping
// character windows, cut back to whitespace boundaries.
const (
	ChunkSize    = 256
	ChunkOverlap = 32
)

// BuildChunks walks dir for .md and .html knowledge-base documents and
// splits them into overlapping windows. HTML is reduced to readable text
// first. Output order is deterministic: files sorted by name, windows in
// document order.
func BuildChunks(dir string) ([]Chunk, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading kb dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".md" || ext == ".html" || ext == ".htm" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var chunks []Chunk
	for _, name := range names {
		text, err := documentText(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", name, err)
		}
		for i, window := range splitWindows(text, ChunkSize, ChunkOverlap) {
			chunks = append(chunks, Chunk{
				DocID:  fmt.Sprintf("%s#%04d", name, i),
				Source: name,
				Text:   window,
			})
		}
	}
	return chunks, nil
}

// WriteChunks persists the chunk artifact.
func WriteChunks(chunks []Chunk, path string) error {
	raw, err := json.MarshalIndent(chunks, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

func documentText(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".html" || ext == ".htm" {
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer f.Close()
		u, _ := url.Parse("file:///" + filepath.Base(path))
		article, err := readability.FromReader(f, u)
		if err != nil {
			return "", fmt.Errorf("extracting readable text: %w", err)
		}
		return article.TextContent, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// splitWindows cuts text into windows of at most size runes with the
// given overlap, trimming each cut back to a whitespace boundary when one
// is reasonably close.
func splitWindows(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}
	var out []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else {
			cut := end
			for cut > start+size/2 && !isSpace(runes[cut-1]) {
				cut--
			}
			if cut > start+size/2 {
				end = cut
			}
		}
		window := strings.TrimSpace(string(runes[start:end]))
		if window != "" {
			out = append(out, window)
		}
		if end == len(runes) {
			break
		}
		start = end - overlap
		if start < 0 {
			start = 0
		}
	}
	return out
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}
