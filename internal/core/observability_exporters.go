package core

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var expvarSeq atomic.Uint64

// ExpvarMetricsRecorder publishes per-operation counters under one expvar map:
// "<op>.success", "<op>.error" and "<op>.duration_ms".
type ExpvarMetricsRecorder struct {
	name string
	vars *expvar.Map
}

// NewExpvarMetricsRecorder publishes a recorder under name. An empty name picks
// a unique "hospitalcore_operations_<n>".
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = fmt.Sprintf("hospitalcore_operations_%d", expvarSeq.Add(1))
	}
	return &ExpvarMetricsRecorder{name: name, vars: expvar.NewMap(name)}
}

// Name returns the expvar key.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Count returns the number of observations of operation with the outcome.
func (r *ExpvarMetricsRecorder) Count(operation string, success bool) int64 {
	v, ok := r.vars.Get(counterKey(operation, success)).(*expvar.Int)
	if !ok {
		return 0
	}
	return v.Value()
}

// Observe implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.vars.Add(counterKey(operation, success), 1)
	r.vars.AddFloat(operation+".duration_ms", float64(duration)/float64(time.Millisecond))
}

func counterKey(operation string, success bool) string {
	if success {
		return operation + ".success"
	}
	return operation + ".error"
}

// TraceEntry is one finished span.
type TraceEntry struct {
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	Remote     bool      `json:"remote_failure,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// JSONTracer writes finished spans as JSON lines and keeps them for Entries.
// Spans of operations that committed locally but failed to persist are marked
// remote_failure.
type JSONTracer struct {
	mu      sync.Mutex
	entries []TraceEntry
	enc     *json.Encoder
}

// NewJSONTracer writes to w; a nil writer only retains entries.
func NewJSONTracer(w io.Writer) *JSONTracer {
	t := &JSONTracer{}
	if w != nil {
		t.enc = json.NewEncoder(w)
	}
	return t
}

// Entries returns a copy of the finished spans in end order.
func (t *JSONTracer) Entries() []TraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TraceEntry(nil), t.entries...)
}

// Start implements Tracer.
func (t *JSONTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonSpan{tracer: t, operation: operation, started: time.Now().UTC()}
}

type jsonSpan struct {
	tracer    *JSONTracer
	operation string
	started   time.Time
	ended     atomic.Bool
}

func (s *jsonSpan) End(err error) {
	if !s.ended.CompareAndSwap(false, true) {
		return
	}
	ended := time.Now().UTC()
	entry := TraceEntry{
		Operation:  s.operation,
		Status:     "success",
		DurationMS: float64(ended.Sub(s.started)) / float64(time.Millisecond),
		StartedAt:  s.started,
		EndedAt:    ended,
	}
	if err != nil {
		entry.Status = "error"
		entry.Error = err.Error()
		entry.Remote = isRemote(err)
	}
	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	s.tracer.entries = append(s.tracer.entries, entry)
	if s.tracer.enc != nil {
		_ = s.tracer.enc.Encode(entry)
	}
}
