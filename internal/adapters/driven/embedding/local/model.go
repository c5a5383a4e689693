package local

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/tabsense/tabsense/internal/core/domain"
)

// Model artifact binary layout, little-endian:
//
//	magic "TSEM", version uint16, dim int32, vocabSize int32, buckets int32,
//	vocabSize x (tokenLen uint16, token bytes),
//	(vocabSize + buckets) x dim float32 embedding rows.
//
// Out-of-vocabulary tokens hash into the bucket rows, so every token always
// resolves to a row.
const (
	modelMagic   = "TSEM"
	modelVersion = uint16(1)
)

// Model holds the loaded embedding table of one artifact.
type Model struct {
	dim     int
	buckets int
	tokens  map[string]int32
	vocab   []string
	rows    []float32 // (len(vocab)+buckets) * dim, row-major
}

// LoadModel parses a model artifact.
func LoadModel(data []byte) (*Model, error) {
	r := bytes.NewReader(data)

	magic := make([]byte, len(modelMagic))
	if _, err := r.Read(magic); err != nil || string(magic) != modelMagic {
		return nil, fmt.Errorf("%w: bad magic", domain.ErrArtifactCorrupt)
	}

	var version uint16
	var dim, vocabSize, buckets int32
	for _, v := range []any{&version, &dim, &vocabSize, &buckets} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("%w: header: %v", domain.ErrArtifactCorrupt, err)
		}
	}
	if version != modelVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", domain.ErrArtifactCorrupt, version)
	}
	if dim <= 0 || vocabSize < 0 || buckets <= 0 {
		return nil, fmt.Errorf("%w: implausible header", domain.ErrArtifactCorrupt)
	}

	m := &Model{
		dim:     int(dim),
		buckets: int(buckets),
		tokens:  make(map[string]int32, vocabSize),
		vocab:   make([]string, vocabSize),
	}

	for i := int32(0); i < vocabSize; i++ {
		var tokenLen uint16
		if err := binary.Read(r, binary.LittleEndian, &tokenLen); err != nil {
			return nil, fmt.Errorf("%w: vocab entry %d: %v", domain.ErrArtifactCorrupt, i, err)
		}
		token := make([]byte, tokenLen)
		if _, err := r.Read(token); err != nil {
			return nil, fmt.Errorf("%w: vocab entry %d: %v", domain.ErrArtifactCorrupt, i, err)
		}
		m.tokens[string(token)] = i
		m.vocab[i] = string(token)
	}

	rowCount := (int(vocabSize) + int(buckets)) * int(dim)
	m.rows = make([]float32, rowCount)
	for i := range m.rows {
		var bits uint32
		if err := binary.Read(r, binary.LittleEndian, &bits); err != nil {
			return nil, fmt.Errorf("%w: embedding table truncated at %d", domain.ErrArtifactCorrupt, i)
		}
		m.rows[i] = math.Float32frombits(bits)
	}

	return m, nil
}

// Dimension returns the embedding vector length.
func (m *Model) Dimension() int {
	return m.dim
}

// VocabSize returns the number of known tokens.
func (m *Model) VocabSize() int {
	return len(m.vocab)
}

// Lookup returns the id of a known token.
func (m *Model) Lookup(token string) (int32, bool) {
	id, ok := m.tokens[token]
	return id, ok
}

// BucketID maps an out-of-vocabulary token to one of the bucket rows.
func (m *Model) BucketID(token string) int32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	return int32(len(m.vocab)) + int32(h.Sum32()%uint32(m.buckets))
}

// Row returns the embedding row for a token id.
func (m *Model) Row(id int32) []float32 {
	start := int(id) * m.dim
	return m.rows[start : start+m.dim]
}

// MarshalBinary serialises the model into the artifact format. Used by the
// model packaging tool and test fixtures.
func (m *Model) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(modelMagic)
	write := func(v any) {
		_ = binary.Write(&buf, binary.LittleEndian, v)
	}

	write(modelVersion)
	write(int32(m.dim))
	write(int32(len(m.vocab)))
	write(int32(m.buckets))

	for _, token := range m.vocab {
		write(uint16(len(token)))
		buf.WriteString(token)
	}
	for _, f := range m.rows {
		write(math.Float32bits(f))
	}
	return buf.Bytes(), nil
}

// NewModel builds a model from a vocabulary and its embedding rows.
// rows must hold (len(vocab)+buckets)*dim values.
func NewModel(dim, buckets int, vocab []string, rows []float32) (*Model, error) {
	if dim <= 0 || buckets <= 0 {
		return nil, fmt.Errorf("model: dim and buckets must be positive")
	}
	if len(rows) != (len(vocab)+buckets)*dim {
		return nil, fmt.Errorf("model: got %d row values, want %d", len(rows), (len(vocab)+buckets)*dim)
	}

	m := &Model{
		dim:     dim,
		buckets: buckets,
		tokens:  make(map[string]int32, len(vocab)),
		vocab:   vocab,
		rows:    rows,
	}
	for i, token := range vocab {
		m.tokens[token] = int32(i)
	}
	return m, nil
}
