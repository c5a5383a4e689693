package local

import (
	"context"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tabsense/tabsense/internal/core/domain"
	"github.com/tabsense/tabsense/internal/vecmath"
)

const testDim = 8

// testClusters groups vocabulary words whose vectors should point the same
// way, so similarity tests behave like a (tiny) semantic model.
var testClusters = [][]string{
	{"cat", "cats", "feline", "kitten"},
	{"night", "nocturnal", "dark"},
	{"dog", "dogs", "bark", "puppy"},
	{"the", "on", "at", "are", "a"},
	{"sat", "mat", "hunters", "behavior", "##s", "##ing"},
}

// buildTestModel constructs a deterministic model whose vocabulary falls
// into the clusters above.
func buildTestModel(t *testing.T) *Model {
	t.Helper()

	r := rand.New(rand.NewSource(99))
	var vocab []string
	var rows []float32

	for c, words := range testClusters {
		base := make([]float32, testDim)
		base[c%testDim] = 1
		for _, word := range words {
			vocab = append(vocab, word)
			row := make([]float32, testDim)
			copy(row, base)
			// Small unique perturbation keeps words distinguishable.
			for d := range row {
				row[d] += float32(r.NormFloat64()) * 0.05
			}
			vecmath.Normalize(row)
			rows = append(rows, row...)
		}
	}

	const buckets = 16
	for i := 0; i < buckets; i++ {
		row := make([]float32, testDim)
		for d := range row {
			row[d] = float32(r.NormFloat64())
		}
		vecmath.Normalize(row)
		rows = append(rows, row...)
	}

	m, err := NewModel(testDim, buckets, vocab, rows)
	require.NoError(t, err)
	return m
}

// staticSource implements ArtifactSource over fixed bytes.
type staticSource struct {
	payload []byte
	err     error
	calls   atomic.Int32
}

func (s *staticSource) FetchModel(_ context.Context, _ domain.ModelConfig) ([]byte, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.payload, nil
}

// testSource marshals the test model into an artifact source.
func testSource(t *testing.T) *staticSource {
	t.Helper()
	payload, err := buildTestModel(t).MarshalBinary()
	require.NoError(t, err)
	return &staticSource{payload: payload}
}

// testModelConfig is the model configuration used across engine tests.
func testModelConfig() domain.ModelConfig {
	return domain.ModelConfig{
		Preset:    "test-minilm",
		Version:   "1",
		Dimension: testDim,
		URL:       "https://models.example.com/test-minilm-1.bin",
	}
}
