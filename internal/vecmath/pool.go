package vecmath

import "sync"

// scratchPool reuses float32 buffers across SimilarityMatrix calls.
// Buffers only grow; a buffer too small for a request is reallocated.
var scratchPool = sync.Pool{
	New: func() any {
		b := make([]float32, 0, 64)
		return &b
	},
}

func getScratch(n int) []float32 {
	p := scratchPool.Get().(*[]float32)
	if cap(*p) < n {
		*p = make([]float32, n)
	}
	return (*p)[:n]
}

func putScratch(b []float32) {
	b = b[:0]
	scratchPool.Put(&b)
}
