package local

import (
	"fmt"
	"sync"

	"github.com/tabsense/tabsense/internal/vecmath"
)

// requestKind tags the messages accepted by the inference worker.
type requestKind uint8

const (
	reqInit requestKind = iota + 1
	reqEmbed
	reqShutdown
)

// responseStatus tags the worker's replies. Dispatchers match on it
// exhaustively; statusNotInitialized is the recoverable case the shared
// proxy retries on.
type responseStatus uint8

const (
	statusOK responseStatus = iota + 1
	statusNotInitialized
	statusError
)

// workerRequest is one message to the worker. The id correlates the reply.
type workerRequest struct {
	id    uint64
	kind  requestKind
	model *Model
	batch [][]int32
	reply chan workerResponse
}

// workerResponse carries the reply for the request with the same id.
type workerResponse struct {
	id      uint64
	status  responseStatus
	vectors [][]float32
	err     error
}

// worker runs neural inference in an isolated goroutine. All model state is
// confined to the run loop; the only way in or out is the requests channel.
type worker struct {
	requests chan workerRequest
	stopped  chan struct{}

	mu     sync.Mutex
	closed bool

	// Loop-owned buffers, resized only on growth to avoid per-call
	// allocation churn.
	model    *Model
	tokenBuf []int32
	maskBuf  []int32
}

// newWorker starts the inference loop.
func newWorker(queueDepth int) *worker {
	if queueDepth <= 0 {
		queueDepth = 16
	}
	w := &worker{
		requests: make(chan workerRequest, queueDepth),
		stopped:  make(chan struct{}),
	}
	go w.run()
	return w
}

// submit enqueues a request and reports whether the worker accepted it; a
// stopped worker accepts nothing. The send happens under the mutex, and stop
// flips closed under the same mutex before enqueueing the shutdown message,
// so every accepted request is ordered ahead of shutdown and gets a reply.
// The caller owns the reply channel.
func (w *worker) submit(req workerRequest) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	w.requests <- req
	return true
}

// run is the worker loop. Every request kind is handled explicitly. The
// requests channel is never closed; the loop exits on reqShutdown.
func (w *worker) run() {
	defer close(w.stopped)
	for req := range w.requests {
		switch req.kind {
		case reqInit:
			w.model = req.model
			req.reply <- workerResponse{id: req.id, status: statusOK}

		case reqEmbed:
			if w.model == nil {
				req.reply <- workerResponse{id: req.id, status: statusNotInitialized}
				continue
			}
			vectors, err := w.embedBatch(req.batch)
			if err != nil {
				req.reply <- workerResponse{id: req.id, status: statusError, err: err}
				continue
			}
			req.reply <- workerResponse{id: req.id, status: statusOK, vectors: vectors}

		case reqShutdown:
			req.reply <- workerResponse{id: req.id, status: statusOK}
			return

		default:
			req.reply <- workerResponse{
				id:     req.id,
				status: statusError,
				err:    fmt.Errorf("worker: unknown request kind %d", req.kind),
			}
		}
	}
}

// stop shuts the worker down and waits for the loop to exit. Safe to call
// more than once.
func (w *worker) stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.stopped
		return
	}
	w.closed = true
	w.mu.Unlock()

	reply := make(chan workerResponse, 1)
	w.requests <- workerRequest{kind: reqShutdown, reply: reply}
	<-reply
	<-w.stopped
}

// embedBatch computes one embedding per token sequence: sequences are padded
// to the batch maximum, masked, mean-pooled over the model rows and
// L2-normalised.
func (w *worker) embedBatch(batch [][]int32) ([][]float32, error) {
	maxLen := 0
	for _, seq := range batch {
		if len(seq) > maxLen {
			maxLen = len(seq)
		}
	}
	if maxLen == 0 {
		maxLen = 1
	}

	// Grow the padded token/mask buffers if this batch needs more room.
	need := len(batch) * maxLen
	if cap(w.tokenBuf) < need {
		w.tokenBuf = make([]int32, need)
		w.maskBuf = make([]int32, need)
	}
	tokens := w.tokenBuf[:need]
	mask := w.maskBuf[:need]

	for i, seq := range batch {
		base := i * maxLen
		for j := 0; j < maxLen; j++ {
			if j < len(seq) {
				tokens[base+j] = seq[j]
				mask[base+j] = 1
			} else {
				tokens[base+j] = 0
				mask[base+j] = 0
			}
		}
	}

	dim := w.model.Dimension()
	out := make([][]float32, len(batch))
	for i := range batch {
		vec := make([]float32, dim)
		base := i * maxLen
		var count float32
		for j := 0; j < maxLen; j++ {
			if mask[base+j] == 0 {
				continue
			}
			row := w.model.Row(tokens[base+j])
			for d := 0; d < dim; d++ {
				vec[d] += row[d]
			}
			count++
		}
		if count > 0 {
			inv := 1 / count
			for d := range vec {
				vec[d] *= inv
			}
		}
		vecmath.Normalize(vec)
		out[i] = vec
	}
	return out, nil
}
