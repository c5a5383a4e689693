// Package chunker splits extracted page text into fixed-size overlapping
// chunks for embedding.
package chunker

import (
	"strings"

	"github.com/tabsense/tabsense/internal/core/domain"
)

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the default number of overlapping characters.
const DefaultChunkOverlap = 200

// Processor splits text into fixed-size chunks.
type Processor struct {
	chunkSize int
	overlap   int
}

// Option configures the chunker processor.
type Option func(*Processor)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) Option {
	return func(p *Processor) {
		if size > 0 {
			p.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between chunks in characters.
func WithOverlap(overlap int) Option {
	return func(p *Processor) {
		if overlap >= 0 {
			p.overlap = overlap
		}
	}
}

// New creates a new chunker processor with the given options.
func New(opts ...Option) *Processor {
	p := &Processor{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}

	for _, opt := range opts {
		opt(p)
	}

	// Ensure overlap doesn't exceed chunk size
	if p.overlap >= p.chunkSize {
		p.overlap = p.chunkSize / 4
	}

	return p
}

// Chunk splits text into overlapping chunks. Sizes count runes, not bytes,
// so multi-byte text never splits mid-character. The title is attached to
// every chunk as its source label.
func (p *Processor) Chunk(text, title string) []domain.TextChunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	total := len(runes)

	step := p.chunkSize - p.overlap
	estimated := total/step + 1
	chunks := make([]domain.TextChunk, 0, estimated)

	index := 0
	for start := 0; start < total; start += step {
		end := start + p.chunkSize
		if end > total {
			end = total
		}

		chunks = append(chunks, domain.TextChunk{
			Index:       index,
			Text:        string(runes[start:end]),
			SourceLabel: title,
		})
		index++

		if end == total {
			break
		}
	}

	return chunks
}
