package hrb

import "sync/atomic"

// AggregatedCallback wraps a final callback that must run once after a known
// number of independent operations have each reported completion. Calls may
// arrive in any order and from any goroutine.
type AggregatedCallback struct {
	expected int64
	count    atomic.Int64
	fn       func()
}

// NewAggregatedCallback returns an AggregatedCallback that invokes fn on the
// expected-th call to Done. With expected <= 0, fn is never invoked by Done;
// callers dispatching nothing must finish on their own.
func NewAggregatedCallback(expected int, fn func()) *AggregatedCallback {
	return &AggregatedCallback{expected: int64(expected), fn: fn}
}

// Done records one completed operation. Calls beyond the expected count are
// ignored.
func (a *AggregatedCallback) Done() {
	if a.count.Add(1) == a.expected {
		a.fn()
	}
}

// Count returns the number of Done calls so far.
func (a *AggregatedCallback) Count() int {
	return int(a.count.Load())
}
