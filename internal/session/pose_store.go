// Package session holds the live tracking-session state: the latest pose per
// frame relationship, the latest module event, and the ingestor that routes
// module callbacks into both.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/meridian-robotics/areatrack/internal/tracker"
)

// NoPoseSentinel is returned by DisplayString before any sample has arrived
// for a relationship.
const NoPoseSentinel = "no pose received"

// PoseSample is one retained pose plus its local arrival time.
type PoseSample struct {
	Pose       tracker.Pose
	ReceivedAt time.Time
	Seen       bool
}

// PoseSnapshot is a value copy of the three retained samples and the derived
// relocalization flag. The samples are independently latest-per-relationship,
// not a joint observation; callers must not assume a shared timestamp.
type PoseSnapshot struct {
	StartToDevice PoseSample
	AreaToDevice  PoseSample
	AreaToStart   PoseSample
	Relocalized   bool
}

// Sample returns the snapshot's sample for pair.
func (s PoseSnapshot) Sample(pair tracker.FramePair) PoseSample {
	switch pair {
	case tracker.StartToDevice:
		return s.StartToDevice
	case tracker.AreaToDevice:
		return s.AreaToDevice
	case tracker.AreaToStart:
		return s.AreaToStart
	default:
		return PoseSample{}
	}
}

// PoseStore retains the latest pose sample per tracked frame relationship.
// Writes come from the module callback path, reads from the query path; both
// go through the store's own mutex and hold it only for a value copy.
type PoseStore struct {
	mu          sync.Mutex
	samples     [3]PoseSample
	relocalized bool
	ignored     uint64
}

// NewPoseStore returns an empty store.
func NewPoseStore() *PoseStore {
	return &PoseStore{}
}

// UpdatePose overwrites the retained sample for the pose's relationship.
// Samples for unrecognized pairs are counted and dropped; the callback path
// must never fail on bad input.
func (s *PoseStore) UpdatePose(p tracker.Pose) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !p.Pair.Known() {
		s.ignored++
		return
	}
	s.samples[p.Pair] = PoseSample{Pose: p, ReceivedAt: time.Now(), Seen: true}
	if p.Pair == tracker.AreaToDevice && p.Status == tracker.PoseValid {
		// Monotonic within a session; only Reset clears it.
		s.relocalized = true
	}
}

// Snapshot returns a value copy of all retained samples.
func (s *PoseStore) Snapshot() PoseSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return PoseSnapshot{
		StartToDevice: s.samples[tracker.StartToDevice],
		AreaToDevice:  s.samples[tracker.AreaToDevice],
		AreaToStart:   s.samples[tracker.AreaToStart],
		Relocalized:   s.relocalized,
	}
}

// IsRelocalized reports whether a valid area-to-device pose has been observed
// this session.
func (s *PoseStore) IsRelocalized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.relocalized
}

// Reset clears all samples and the relocalization flag. Used on session
// teardown and tracking reset.
func (s *PoseStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = [3]PoseSample{}
	s.relocalized = false
}

// Ignored returns how many samples arrived for unrecognized frame pairs.
func (s *PoseStore) Ignored() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ignored
}

// DisplayString renders the retained sample for pair at fixed precision.
func (s *PoseStore) DisplayString(pair tracker.FramePair) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !pair.Known() || !s.samples[pair].Seen {
		return NoPoseSentinel
	}
	p := s.samples[pair].Pose
	return fmt.Sprintf("%.3f %s %s", p.Timestamp, p.Status, p.Transform)
}
