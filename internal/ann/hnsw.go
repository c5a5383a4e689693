package ann

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/tabsense/tabsense/internal/vecmath"
)

// Default construction parameters, matching common HNSW practice.
const (
	DefaultM              = 16
	DefaultEfConstruction = 200
	DefaultEfSearch       = 50
	DefaultMaxElements    = 10000
)

var (
	// ErrDuplicateLabel is returned when a label is inserted twice.
	ErrDuplicateLabel = errors.New("ann: label already present")

	// ErrUnknownLabel is returned for operations on labels not in the graph.
	ErrUnknownLabel = errors.New("ann: unknown label")
)

// Config holds the construction parameters of a graph. They are fixed for
// the lifetime of the graph and persisted with it.
type Config struct {
	// Dimension is the vector length every inserted vector must have.
	Dimension int

	// MaxElements is the advisory capacity used for preallocation.
	MaxElements int

	// M is the number of bidirectional links per node above layer zero.
	M int

	// EfConstruction is the candidate list size during insertion.
	EfConstruction int

	// EfSearch is the candidate list size during queries.
	EfSearch int
}

func (c *Config) applyDefaults() {
	if c.MaxElements <= 0 {
		c.MaxElements = DefaultMaxElements
	}
	if c.M <= 0 {
		c.M = DefaultM
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = DefaultEfConstruction
	}
	if c.EfSearch <= 0 {
		c.EfSearch = DefaultEfSearch
	}
}

// Hit is one nearest-neighbour result.
type Hit struct {
	// Label is the graph identity of the matched vector.
	Label uint64

	// Distance is the cosine distance (0 identical, 2 opposite).
	Distance float32
}

// node is one graph slot. Slots are append-only; deletion only sets the
// tombstone flag.
type node struct {
	label     uint64
	vector    []float32
	level     int
	deleted   bool
	neighbors [][]uint32 // per level, internal ids
}

// Graph is an HNSW index over cosine distance.
type Graph struct {
	mu        sync.RWMutex
	cfg       Config
	nodes     []*node
	byLabel   map[uint64]uint32
	entry     int64 // internal id of the entry point, -1 when empty
	maxLevel  int
	levelMult float64
	rng       *rand.Rand
	tombs     int
}

// New creates an empty graph.
func New(cfg Config) (*Graph, error) {
	if cfg.Dimension <= 0 {
		return nil, errors.New("ann: dimension must be positive")
	}
	cfg.applyDefaults()

	return &Graph{
		cfg:       cfg,
		nodes:     make([]*node, 0, cfg.MaxElements),
		byLabel:   make(map[uint64]uint32, cfg.MaxElements),
		entry:     -1,
		levelMult: 1 / math.Log(float64(cfg.M)),
		rng:       rand.New(rand.NewSource(1)), // deterministic level assignment
	}, nil
}

// Config returns the construction parameters.
func (g *Graph) Config() Config {
	return g.cfg
}

// Len returns the number of slots used, tombstones included.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// LiveCount returns the number of non-tombstoned vectors.
func (g *Graph) LiveCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes) - g.tombs
}

// MaxLabel returns the highest label ever inserted and whether one exists.
// Used to resume label allocation after a mapping loss.
func (g *Graph) MaxLabel() (uint64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var maxLabel uint64
	found := false
	for label := range g.byLabel {
		if !found || label > maxLabel {
			maxLabel = label
			found = true
		}
	}
	return maxLabel, found
}

// Contains reports whether label occupies a slot, tombstoned or not.
func (g *Graph) Contains(label uint64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.byLabel[label]
	return ok
}

// distance returns the cosine distance between two vectors.
func distance(a, b []float32) float32 {
	sim, err := vecmath.CosineSimilarity(a, b)
	if err != nil {
		// Lengths are validated before any vector enters the graph.
		return 2
	}
	d := 1 - sim
	if d < 0 {
		d = 0
	}
	if d > 2 {
		d = 2
	}
	return float32(d)
}

// Add inserts a vector under label. The vector is copied.
func (g *Graph) Add(label uint64, vector []float32) error {
	if len(vector) != g.cfg.Dimension {
		return fmt.Errorf("ann: vector length %d, want %d", len(vector), g.cfg.Dimension)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.byLabel[label]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateLabel, label)
	}

	vec := make([]float32, len(vector))
	copy(vec, vector)

	level := g.randomLevel()
	n := &node{
		label:     label,
		vector:    vec,
		level:     level,
		neighbors: make([][]uint32, level+1),
	}
	id := uint32(len(g.nodes))
	g.nodes = append(g.nodes, n)
	g.byLabel[label] = id

	if g.entry < 0 {
		g.entry = int64(id)
		g.maxLevel = level
		return nil
	}

	curr := uint32(g.entry)

	// Greedy descent through the layers above the new node's level.
	for l := g.maxLevel; l > level; l-- {
		curr = g.greedyClosest(vector, curr, l)
	}

	// Insert with full candidate search on the shared layers.
	top := level
	if g.maxLevel < top {
		top = g.maxLevel
	}
	for l := top; l >= 0; l-- {
		candidates := g.searchLayer(vector, curr, g.cfg.EfConstruction, l)
		neighbors := g.selectClosest(candidates, g.maxNeighbors(l))

		n.neighbors[l] = make([]uint32, 0, len(neighbors))
		for _, c := range neighbors {
			n.neighbors[l] = append(n.neighbors[l], c.id)
			g.link(c.id, id, l)
		}
		if len(candidates) > 0 {
			curr = candidates[0].id
		}
	}

	if level > g.maxLevel {
		g.maxLevel = level
		g.entry = int64(id)
	}
	return nil
}

// MarkDeleted tombstones a label. The slot stays in the graph and keeps
// routing searches; only result collection skips it.
func (g *Graph) MarkDeleted(label uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, ok := g.byLabel[label]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownLabel, label)
	}
	if !g.nodes[id].deleted {
		g.nodes[id].deleted = true
		g.tombs++
	}
	return nil
}

// IsDeleted reports whether label is tombstoned.
func (g *Graph) IsDeleted(label uint64) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	id, ok := g.byLabel[label]
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrUnknownLabel, label)
	}
	return g.nodes[id].deleted, nil
}

// Search returns up to k nearest live labels for the query vector.
// An empty graph yields an empty result.
func (g *Graph) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != g.cfg.Dimension {
		return nil, fmt.Errorf("ann: query length %d, want %d", len(query), g.cfg.Dimension)
	}
	if k <= 0 {
		return nil, nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.entry < 0 {
		return nil, nil
	}

	curr := uint32(g.entry)
	for l := g.maxLevel; l > 0; l-- {
		curr = g.greedyClosest(query, curr, l)
	}

	ef := g.cfg.EfSearch
	if ef < k {
		ef = k
	}
	// Tombstones still route but never surface; widen the candidate pool so
	// k live results remain reachable.
	if g.tombs > 0 {
		ef += g.tombs
	}

	candidates := g.searchLayer(query, curr, ef, 0)

	hits := make([]Hit, 0, k)
	for _, c := range candidates {
		n := g.nodes[c.id]
		if n.deleted {
			continue
		}
		hits = append(hits, Hit{Label: n.label, Distance: c.dist})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// randomLevel draws a level from the standard geometric distribution.
func (g *Graph) randomLevel() int {
	return int(math.Floor(-math.Log(g.rng.Float64()) * g.levelMult))
}

// maxNeighbors returns the link budget for a layer.
func (g *Graph) maxNeighbors(level int) int {
	if level == 0 {
		return g.cfg.M * 2
	}
	return g.cfg.M
}

// greedyClosest walks a layer towards the query, one best neighbour at a time.
func (g *Graph) greedyClosest(query []float32, start uint32, level int) uint32 {
	curr := start
	currDist := distance(query, g.nodes[curr].vector)
	for {
		improved := false
		for _, nb := range g.neighborsAt(curr, level) {
			d := distance(query, g.nodes[nb].vector)
			if d < currDist {
				curr = nb
				currDist = d
				improved = true
			}
		}
		if !improved {
			return curr
		}
	}
}

// candidate pairs an internal id with its distance to the current query.
type candidate struct {
	id   uint32
	dist float32
}

// searchLayer runs the ef-bounded best-first search on one layer and returns
// candidates sorted by ascending distance.
func (g *Graph) searchLayer(query []float32, start uint32, ef, level int) []candidate {
	visited := map[uint32]bool{start: true}
	startDist := distance(query, g.nodes[start].vector)

	frontier := &minHeap{{id: start, dist: startDist}}
	results := &maxHeap{{id: start, dist: startDist}}

	for frontier.Len() > 0 {
		c := frontier.pop()
		if results.Len() >= ef && c.dist > results.peek().dist {
			break
		}
		for _, nb := range g.neighborsAt(c.id, level) {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			d := distance(query, g.nodes[nb].vector)
			if results.Len() < ef || d < results.peek().dist {
				frontier.push(candidate{id: nb, dist: d})
				results.push(candidate{id: nb, dist: d})
				if results.Len() > ef {
					results.pop()
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = results.pop()
	}
	return out
}

// selectClosest keeps the m nearest candidates.
func (g *Graph) selectClosest(candidates []candidate, m int) []candidate {
	if len(candidates) <= m {
		return candidates
	}
	return candidates[:m]
}

// link adds a backlink from to to from on level, pruning to the link budget.
func (g *Graph) link(from, to uint32, level int) {
	n := g.nodes[from]
	if level > n.level {
		return
	}
	n.neighbors[level] = append(n.neighbors[level], to)

	budget := g.maxNeighbors(level)
	if len(n.neighbors[level]) <= budget {
		return
	}

	// Keep the closest links to this node's own vector.
	nbs := n.neighbors[level]
	sort.Slice(nbs, func(i, j int) bool {
		return distance(n.vector, g.nodes[nbs[i]].vector) < distance(n.vector, g.nodes[nbs[j]].vector)
	})
	n.neighbors[level] = nbs[:budget]
}

// neighborsAt returns the neighbour list of id at level, or nil when the
// node does not reach that level.
func (g *Graph) neighborsAt(id uint32, level int) []uint32 {
	n := g.nodes[id]
	if level > n.level {
		return nil
	}
	return n.neighbors[level]
}
