package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNew(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		p := New()
		if p.chunkSize != DefaultChunkSize {
			t.Errorf("expected chunkSize %d, got %d", DefaultChunkSize, p.chunkSize)
		}
		if p.overlap != DefaultChunkOverlap {
			t.Errorf("expected overlap %d, got %d", DefaultChunkOverlap, p.overlap)
		}
	})

	t.Run("custom chunk size", func(t *testing.T) {
		p := New(WithChunkSize(500))
		if p.chunkSize != 500 {
			t.Errorf("expected chunkSize 500, got %d", p.chunkSize)
		}
	})

	t.Run("overlap exceeds chunk size", func(t *testing.T) {
		p := New(WithChunkSize(100), WithOverlap(150))
		if p.overlap >= p.chunkSize {
			t.Error("overlap should be reduced when it exceeds chunk size")
		}
	})

	t.Run("zero values ignored", func(t *testing.T) {
		p := New(WithChunkSize(0), WithOverlap(-1))
		if p.chunkSize != DefaultChunkSize {
			t.Errorf("expected default chunkSize, got %d", p.chunkSize)
		}
		if p.overlap != DefaultChunkOverlap {
			t.Errorf("expected default overlap, got %d", p.overlap)
		}
	})
}

func TestChunk_EmptyText(t *testing.T) {
	p := New()
	if chunks := p.Chunk("", "title"); len(chunks) != 0 {
		t.Errorf("expected 0 chunks for empty text, got %d", len(chunks))
	}
	if chunks := p.Chunk("   \n\t  ", "title"); len(chunks) != 0 {
		t.Errorf("expected 0 chunks for whitespace text, got %d", len(chunks))
	}
}

func TestChunk_SmallText(t *testing.T) {
	p := New(WithChunkSize(100), WithOverlap(20))

	chunks := p.Chunk("This is a small piece of content.", "Example Page")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk for small text, got %d", len(chunks))
	}
	if chunks[0].Text != "This is a small piece of content." {
		t.Errorf("expected chunk text to match input")
	}
	if chunks[0].Index != 0 {
		t.Errorf("expected index 0, got %d", chunks[0].Index)
	}
	if chunks[0].SourceLabel != "Example Page" {
		t.Errorf("expected source label 'Example Page', got '%s'", chunks[0].SourceLabel)
	}
}

func TestChunk_LargeText(t *testing.T) {
	p := New(WithChunkSize(100), WithOverlap(20))

	chunks := p.Chunk(strings.Repeat("x", 250), "t")
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	// Indexes are sequential.
	for i, chunk := range chunks {
		if chunk.Index != i {
			t.Errorf("expected index %d, got %d", i, chunk.Index)
		}
	}

	// First chunk is full size.
	if len(chunks[0].Text) != 100 {
		t.Errorf("expected first chunk size 100, got %d", len(chunks[0].Text))
	}
}

func TestChunk_Overlap(t *testing.T) {
	p := New(WithChunkSize(10), WithOverlap(3))

	// With size 10 and overlap 3, step is 7: 0-9, 7-16, 14-19
	chunks := p.Chunk("0123456789ABCDEFGHIJ", "t")
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if chunks[0].Text != "0123456789" {
		t.Errorf("unexpected first chunk: %q", chunks[0].Text)
	}
	if chunks[1].Text != "789ABCDEFG" {
		t.Errorf("unexpected second chunk: %q", chunks[1].Text)
	}
	if chunks[2].Text != "EFGHIJ" {
		t.Errorf("unexpected third chunk: %q", chunks[2].Text)
	}
}

func TestChunk_ExactChunkSize(t *testing.T) {
	p := New(WithChunkSize(50), WithOverlap(0))

	chunks := p.Chunk(strings.Repeat("a", 100), "t")
	if len(chunks) != 2 {
		t.Errorf("expected 2 chunks, got %d", len(chunks))
	}
}

func TestChunk_MultiByteText(t *testing.T) {
	p := New(WithChunkSize(4), WithOverlap(1))

	// Sizes count runes: no chunk may split a multi-byte character.
	chunks := p.Chunk("héllo wörld ünïcode", "t")
	for _, chunk := range chunks {
		if !utf8.ValidString(chunk.Text) {
			t.Errorf("chunk %d is not valid UTF-8: %q", chunk.Index, chunk.Text)
		}
		if n := utf8.RuneCountInString(chunk.Text); n > 4 {
			t.Errorf("chunk %d has %d runes, want at most 4", chunk.Index, n)
		}
	}
}
