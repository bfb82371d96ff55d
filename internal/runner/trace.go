package runner

import (
	"sync"
	"time"

	"github.com/reflow-sh/reflow/pkg/schema"
)

// traceLogger accumulates the ordered trace of one run. The instrumented
// text drives it through the logger host object; operation dispatch drives
// it directly. A call-site stack makes nested and re-entrant method traces
// attributable to the right site.
type traceLogger struct {
	mu     sync.Mutex
	events []schema.TraceEvent
	stack  []string
	opDur  map[int]int64
}

func newTraceLogger() *traceLogger {
	return &traceLogger{opDur: make(map[int]int64)}
}

func (t *traceLogger) emit(ev schema.TraceEvent) {
	ev.Timestamp = time.Now()
	t.mu.Lock()
	t.events = append(t.events, ev)
	t.mu.Unlock()
}

func (t *traceLogger) pushCallSite(key string) {
	t.mu.Lock()
	t.stack = append(t.stack, key)
	t.mu.Unlock()
}

func (t *traceLogger) popCallSite() {
	t.mu.Lock()
	if n := len(t.stack); n > 0 {
		t.stack = t.stack[:n-1]
	}
	t.mu.Unlock()
}

func (t *traceLogger) currentCallSite() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := len(t.stack); n > 0 {
		return t.stack[n-1]
	}
	return ""
}

func (t *traceLogger) callStarted(method string, args []any, key string) {
	t.emit(schema.TraceEvent{
		Type:        schema.TraceCallStarted,
		Method:      method,
		CallSiteKey: key,
		Args:        args,
	})
}

func (t *traceLogger) callCompleted(method string, durMs int64, key string) {
	t.emit(schema.TraceEvent{
		Type:        schema.TraceCallCompleted,
		Method:      method,
		CallSiteKey: key,
		DurationMs:  durMs,
	})
}

func (t *traceLogger) line(line int, kind string) {
	t.emit(schema.TraceEvent{
		Type:     schema.TraceLine,
		Line:     line,
		StmtKind: kind,
	})
}

func (t *traceLogger) opStarted(id int, typ string) {
	t.emit(schema.TraceEvent{
		Type:        schema.TraceOpStarted,
		OpID:        id,
		OpType:      typ,
		CallSiteKey: t.currentCallSite(),
	})
}

func (t *traceLogger) opCompleted(id int, typ string, durMs int64) {
	t.mu.Lock()
	t.opDur[id] += durMs
	t.mu.Unlock()
	t.emit(schema.TraceEvent{
		Type:        schema.TraceOpCompleted,
		OpID:        id,
		OpType:      typ,
		DurationMs:  durMs,
		CallSiteKey: t.currentCallSite(),
	})
}

func (t *traceLogger) opFailed(id int, typ string, durMs int64) {
	t.emit(schema.TraceEvent{
		Type:        schema.TraceOpFailed,
		OpID:        id,
		OpType:      typ,
		DurationMs:  durMs,
		CallSiteKey: t.currentCallSite(),
	})
}

// summary freezes the accumulated trace into an execution summary.
func (t *traceLogger) summary(started, completed time.Time) *schema.ExecutionSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	events := make([]schema.TraceEvent, len(t.events))
	copy(events, t.events)
	durations := make(map[int]int64, len(t.opDur))
	for id, ms := range t.opDur {
		durations[id] = ms
	}
	return &schema.ExecutionSummary{
		Trace:       events,
		OpDurations: durations,
		StartedAt:   started,
		CompletedAt: completed,
		TotalMs:     completed.Sub(started).Milliseconds(),
	}
}
