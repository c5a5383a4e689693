package ann

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Binary layout of a serialised graph. Little-endian throughout. The format
// carries tombstones and the entry point so a reload resumes exactly where
// the previous process stopped.
const (
	graphMagic   = "TSG1"
	graphVersion = uint16(1)
)

var errBadGraphBlob = errors.New("ann: malformed graph blob")

// MarshalBinary serialises the full graph, tombstones included.
func (g *Graph) MarshalBinary() ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var buf bytes.Buffer
	buf.WriteString(graphMagic)
	write := func(v any) {
		_ = binary.Write(&buf, binary.LittleEndian, v)
	}

	write(graphVersion)
	write(int32(g.cfg.Dimension))
	write(int32(g.cfg.MaxElements))
	write(int32(g.cfg.M))
	write(int32(g.cfg.EfConstruction))
	write(int32(g.cfg.EfSearch))
	write(g.entry)
	write(int32(g.maxLevel))
	write(uint32(len(g.nodes)))

	for _, n := range g.nodes {
		write(n.label)
		write(int32(n.level))
		var deleted byte
		if n.deleted {
			deleted = 1
		}
		write(deleted)
		for _, f := range n.vector {
			write(math.Float32bits(f))
		}
		for l := 0; l <= n.level; l++ {
			write(uint32(len(n.neighbors[l])))
			for _, nb := range n.neighbors[l] {
				write(nb)
			}
		}
	}

	return buf.Bytes(), nil
}

// Load reconstructs a graph from a serialised blob.
func Load(data []byte) (*Graph, error) {
	r := bytes.NewReader(data)

	magic := make([]byte, len(graphMagic))
	if _, err := r.Read(magic); err != nil || string(magic) != graphMagic {
		return nil, fmt.Errorf("%w: bad magic", errBadGraphBlob)
	}

	read := func(v any) error {
		return binary.Read(r, binary.LittleEndian, v)
	}

	var version uint16
	if err := read(&version); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadGraphBlob, err)
	}
	if version != graphVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", errBadGraphBlob, version)
	}

	var dim, maxElements, m, efC, efS, maxLevel int32
	var entry int64
	var count uint32
	for _, v := range []any{&dim, &maxElements, &m, &efC, &efS, &entry, &maxLevel, &count} {
		if err := read(v); err != nil {
			return nil, fmt.Errorf("%w: header: %v", errBadGraphBlob, err)
		}
	}

	g, err := New(Config{
		Dimension:      int(dim),
		MaxElements:    int(maxElements),
		M:              int(m),
		EfConstruction: int(efC),
		EfSearch:       int(efS),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadGraphBlob, err)
	}
	if entry < -1 || maxLevel < 0 {
		return nil, fmt.Errorf("%w: header out of range", errBadGraphBlob)
	}
	g.entry = entry
	g.maxLevel = int(maxLevel)

	for i := uint32(0); i < count; i++ {
		var label uint64
		var level int32
		var deleted byte
		if err := read(&label); err != nil {
			return nil, fmt.Errorf("%w: node %d: %v", errBadGraphBlob, i, err)
		}
		if err := read(&level); err != nil {
			return nil, fmt.Errorf("%w: node %d: %v", errBadGraphBlob, i, err)
		}
		if err := read(&deleted); err != nil {
			return nil, fmt.Errorf("%w: node %d: %v", errBadGraphBlob, i, err)
		}
		if level < 0 || level > maxLevel {
			return nil, fmt.Errorf("%w: node %d: level %d out of range", errBadGraphBlob, i, level)
		}

		vec := make([]float32, dim)
		for j := range vec {
			var bits uint32
			if err := read(&bits); err != nil {
				return nil, fmt.Errorf("%w: node %d vector: %v", errBadGraphBlob, i, err)
			}
			vec[j] = math.Float32frombits(bits)
		}

		n := &node{
			label:     label,
			vector:    vec,
			level:     int(level),
			deleted:   deleted == 1,
			neighbors: make([][]uint32, level+1),
		}
		for l := int32(0); l <= level; l++ {
			var nbCount uint32
			if err := read(&nbCount); err != nil {
				return nil, fmt.Errorf("%w: node %d links: %v", errBadGraphBlob, i, err)
			}
			if nbCount > count {
				return nil, fmt.Errorf("%w: node %d: %d links exceed node count", errBadGraphBlob, i, nbCount)
			}
			nbs := make([]uint32, nbCount)
			for j := range nbs {
				if err := read(&nbs[j]); err != nil {
					return nil, fmt.Errorf("%w: node %d links: %v", errBadGraphBlob, i, err)
				}
				if nbs[j] >= count {
					return nil, fmt.Errorf("%w: node %d: link target %d out of range", errBadGraphBlob, i, nbs[j])
				}
			}
			n.neighbors[l] = nbs
		}

		g.byLabel[label] = uint32(len(g.nodes))
		g.nodes = append(g.nodes, n)
		if n.deleted {
			g.tombs++
		}
	}

	if g.entry >= int64(len(g.nodes)) {
		return nil, fmt.Errorf("%w: entry point out of range", errBadGraphBlob)
	}

	return g, nil
}
