package logic

import (
	"sync"
	"time"
)

// Default rearm intervals observed on the two channels. They differ on
// purpose and are configured independently.
const (
	DefaultRearmUp   = 500 * time.Millisecond
	DefaultRearmDown = 1000 * time.Millisecond
)

// record is the mutable switch record of one channel. desired and
// lastChange only ever change together under mu.
type record struct {
	mu          sync.Mutex
	desired     bool
	applied     bool
	lastChange  time.Time
	lastSource  Source
	minInterval time.Duration
	counts      ChannelCounts
}

// Store is the shared switch state of all channels. Every producer (touch,
// remote, IR, MQTT) holds the same *Store and only goes through its methods.
// Each channel has its own lock so unrelated channels never contend.
type Store struct {
	records [NumChannels]*record
}

// NewStore creates a store with per-channel rearm intervals and initial
// states. Missing entries default to DefaultRearmUp/DefaultRearmDown and off.
// The initial state is treated as already applied.
func NewStore(intervals []time.Duration, initial []bool) *Store {
	defaults := [NumChannels]time.Duration{DefaultRearmUp, DefaultRearmDown}
	s := &Store{}
	for i := range s.records {
		r := &record{minInterval: defaults[i]}
		if i < len(intervals) {
			r.minInterval = intervals[i]
		}
		if i < len(initial) {
			r.desired = initial[i]
			r.applied = initial[i]
		}
		s.records[i] = r
	}
	return s
}

// RequestChange asks for channel c to become state. The request is rejected
// (returns false, nothing mutated) when state already is the desired state
// or when less than the channel's rearm interval has passed since the last
// accepted change. On acceptance desired state and change time are updated
// together.
func (s *Store) RequestChange(c Channel, state bool, at time.Time, src Source) bool {
	if !c.Valid() {
		return false
	}
	r := s.records[c]
	r.mu.Lock()
	defer r.mu.Unlock()

	if state == r.desired {
		r.counts.Rejected++
		return false
	}
	if !r.lastChange.IsZero() && at.Sub(r.lastChange) < r.minInterval {
		r.counts.Rejected++
		return false
	}

	r.desired = state
	r.lastChange = at
	r.lastSource = src
	if state {
		r.counts.On++
	} else {
		r.counts.Off++
	}
	return true
}

// Toggle requests the inverse of the channel's current desired state.
// The read and the request happen under one lock so two concurrent
// toggles cannot both flip from the same starting state.
func (s *Store) Toggle(c Channel, at time.Time, src Source) (bool, bool) {
	if !c.Valid() {
		return false, false
	}
	r := s.records[c]
	r.mu.Lock()
	defer r.mu.Unlock()

	target := !r.desired
	if !r.lastChange.IsZero() && at.Sub(r.lastChange) < r.minInterval {
		r.counts.Rejected++
		return target, false
	}
	r.desired = target
	r.lastChange = at
	r.lastSource = src
	if target {
		r.counts.On++
	} else {
		r.counts.Off++
	}
	return target, true
}

// Commit records that channel c has been physically actuated to applied.
// Only the actuation scheduler calls this.
func (s *Store) Commit(c Channel, applied bool) {
	if !c.Valid() {
		return
	}
	r := s.records[c]
	r.mu.Lock()
	r.applied = applied
	r.mu.Unlock()
}

// Snapshot returns a consistent copy of channel c's record.
func (s *Store) Snapshot(c Channel) Record {
	if !c.Valid() {
		return Record{}
	}
	r := s.records[c]
	r.mu.Lock()
	defer r.mu.Unlock()
	return Record{
		Desired:    r.desired,
		Applied:    r.applied,
		LastChange: r.lastChange,
		Source:     r.lastSource,
	}
}

// Desired returns the desired state of channel c.
func (s *Store) Desired(c Channel) bool {
	return s.Snapshot(c).Desired
}

// Applied returns the applied state of channel c.
func (s *Store) Applied(c Channel) bool {
	return s.Snapshot(c).Applied
}

// AppliedStates returns the applied state of every channel, in channel order.
func (s *Store) AppliedStates() []bool {
	states := make([]bool, NumChannels)
	for i := range states {
		states[i] = s.Applied(Channel(i))
	}
	return states
}

// MinInterval returns the rearm interval of channel c.
func (s *Store) MinInterval(c Channel) time.Duration {
	if !c.Valid() {
		return 0
	}
	r := s.records[c]
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.minInterval
}

// Counts returns a snapshot of accepted and rejected requests per channel.
func (s *Store) Counts() EventCounts {
	var out EventCounts
	for i, r := range s.records {
		r.mu.Lock()
		out[i] = r.counts
		r.mu.Unlock()
	}
	return out
}
