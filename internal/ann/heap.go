package ann

import "container/heap"

// minHeap orders candidates by ascending distance (search frontier).
type minHeap []candidate

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)         { *h = append(*h, x.(candidate)) }
func (h *minHeap) Pop() any           { old := *h; n := len(old); c := old[n-1]; *h = old[:n-1]; return c }
func (h *minHeap) push(c candidate)   { heap.Push(h, c) }
func (h *minHeap) pop() candidate     { return heap.Pop(h).(candidate) }

// maxHeap orders candidates by descending distance (bounded result set;
// the root is the current worst result).
type maxHeap []candidate

func (h maxHeap) Len() int           { return len(h) }
func (h maxHeap) Less(i, j int) bool { return h[i].dist > h[j].dist }
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *maxHeap) Pop() any          { old := *h; n := len(old); c := old[n-1]; *h = old[:n-1]; return c }
func (h *maxHeap) push(c candidate)  { heap.Push(h, c) }
func (h *maxHeap) pop() candidate    { return heap.Pop(h).(candidate) }
func (h maxHeap) peek() candidate    { return h[0] }
