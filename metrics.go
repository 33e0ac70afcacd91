package bbq

import "sync/atomic"

// Counters is a point-in-time snapshot of a Metrics collector.
type Counters struct {
	Added       uint64
	Done        uint64
	Failed      uint64
	Expired     uint64
	Rebroadcast uint64
	Dispatched  uint64
}

// Metrics accumulates activity counters for a Dispatcher. Safe for
// concurrent use. Grounded on Tushkiz-go-tiny-queue/internal/metrics.
type Metrics struct {
	added       atomic.Uint64
	done        atomic.Uint64
	failed      atomic.Uint64
	expired     atomic.Uint64
	rebroadcast atomic.Uint64
	dispatched  atomic.Uint64
}

func (m *Metrics) incAdded()       { m.added.Add(1) }
func (m *Metrics) incDone()        { m.done.Add(1) }
func (m *Metrics) incFailed()      { m.failed.Add(1) }
func (m *Metrics) incExpired()     { m.expired.Add(1) }
func (m *Metrics) incRebroadcast() { m.rebroadcast.Add(1) }
func (m *Metrics) incDispatched()  { m.dispatched.Add(1) }

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() Counters {
	return Counters{
		Added:       m.added.Load(),
		Done:        m.done.Load(),
		Failed:      m.failed.Load(),
		Expired:     m.expired.Load(),
		Rebroadcast: m.rebroadcast.Load(),
		Dispatched:  m.dispatched.Load(),
	}
}
