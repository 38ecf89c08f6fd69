package timesync

import (
	"sync"
	"sync/atomic"
	"time"
)

// Policy controls whether and how often the offset is recalculated.
type Policy struct {
	Enabled               bool
	RecalculationInterval time.Duration
}

// DefaultPolicy synchronizes once per hour.
func DefaultPolicy() Policy {
	return Policy{Enabled: true, RecalculationInterval: time.Hour}
}

// State is the clock offset of one API client. It must not be shared between
// clients. Offset and LastSync are safe to read at any time; they are only
// written by a Coordinator holding the gate.
type State struct {
	gate         sync.Mutex
	busy         atomic.Bool
	offset       atomic.Int64
	lastSync     atomic.Pointer[time.Time]
	measurements atomic.Int64
}

// NewState returns a state that has never been synchronized.
func NewState() *State {
	return &State{}
}

// Offset is the estimated server time minus local time.
func (s *State) Offset() time.Duration {
	return time.Duration(s.offset.Load())
}

// LastSync returns when the offset was last stored, the zero time if never.
func (s *State) LastSync() time.Time {
	if at := s.lastSync.Load(); at != nil {
		return *at
	}
	return time.Time{}
}

// Syncing reports whether a synchronization currently holds the gate.
func (s *State) Syncing() bool {
	return s.busy.Load()
}

func (s *State) tryAcquire() bool {
	if !s.gate.TryLock() {
		return false
	}
	s.busy.Store(true)
	return true
}

func (s *State) release() {
	s.busy.Store(false)
	s.gate.Unlock()
}

func (s *State) store(offset time.Duration, at time.Time) {
	s.offset.Store(int64(offset))
	s.lastSync.Store(&at)
}
