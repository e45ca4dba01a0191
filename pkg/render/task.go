package render

import "time"

// Result is the worker's reply for one task. On success URL carries a
// presigned link to the freshly written artifact.
type Result struct {
	URL string
	OK  bool
}

// Task is one unit of render work. The handler that enqueued it waits
// on Done; the worker answers at most once.
type Task struct {
	Bucket  string
	Request Request
	Path    string        // precomputed blob path
	Settle  time.Duration // extra wait after navigation (pdf only)

	EnqueuedAt time.Time

	done chan Result
}

// NewTask wraps a request for the queue. path must come from
// Request.Path so handler and worker agree on the artifact location.
func NewTask(bucket string, req Request, path string, settle time.Duration) *Task {
	return &Task{
		Bucket:     bucket,
		Request:    req,
		Path:       path,
		Settle:     settle,
		EnqueuedAt: time.Now(),
		done:       make(chan Result, 1),
	}
}

// Done returns the reply channel. It receives exactly one Result.
func (t *Task) Done() <-chan Result {
	return t.done
}

// Finish delivers the result. The channel is buffered and extra
// deliveries are dropped, so Finish never blocks even when the
// enqueuing handler has gone away.
func (t *Task) Finish(res Result) {
	select {
	case t.done <- res:
	default:
	}
}
