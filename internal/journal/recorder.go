package journal

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/meridian-robotics/areatrack/internal/monitoring"
	"github.com/meridian-robotics/areatrack/internal/tracker"
)

type entryKind int

const (
	entryPose entryKind = iota
	entryRelocalization
	entryProgress
	entryMapSave
	entryMetadataEdit
)

type entry struct {
	kind     entryKind
	pose     tracker.Pose
	percent  int
	mapUUID  string
	key      string
	value    string
	moduleTS float64
}

// RecorderConfig tunes a Recorder.
type RecorderConfig struct {
	// Buffer is the queue depth between producers and the writer goroutine
	// (default 256).
	Buffer int

	// PoseHz caps journaled pose samples per second. Zero or negative
	// journals every sample.
	PoseHz float64

	// LoadedUUID is stamped on relocalization marks. Empty for sessions
	// that loaded no area description.
	LoadedUUID string
}

// Recorder journals session activity without blocking the stream path.
// Producers enqueue onto a buffered channel; a single goroutine owns the
// database writes. When the queue is full entries are dropped and counted.
type Recorder struct {
	store      *Store
	sessionID  string
	loadedUUID string
	limiter    *rate.Limiter

	entries chan entry

	drops     atomic.Uint64
	relocSeen atomic.Bool
}

// NewRecorder creates a Recorder for one session. Run must be started for
// queued entries to reach the store.
func NewRecorder(store *Store, sessionID string, cfg RecorderConfig) *Recorder {
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 256
	}
	r := &Recorder{
		store:      store,
		sessionID:  sessionID,
		loadedUUID: cfg.LoadedUUID,
		entries:    make(chan entry, buffer),
	}
	if cfg.PoseHz > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.PoseHz), 1)
	}
	return r
}

// RecordPose queues a pose sample, subject to the rate cap. The first valid
// device-in-area pose of the session also queues a relocalization mark,
// regardless of the cap.
func (r *Recorder) RecordPose(p tracker.Pose) {
	if p.Pair == tracker.AreaToDevice && p.Status == tracker.PoseValid &&
		r.relocSeen.CompareAndSwap(false, true) {
		r.enqueue(entry{kind: entryRelocalization, moduleTS: p.Timestamp, mapUUID: r.loadedUUID})
	}
	if r.limiter != nil && !r.limiter.Allow() {
		return
	}
	r.enqueue(entry{kind: entryPose, pose: p})
}

// RecordProgress queues a save-progress percentage.
func (r *Recorder) RecordProgress(percent int) {
	r.enqueue(entry{kind: entryProgress, percent: percent})
}

// MapSaved implements adf.Sink.
func (r *Recorder) MapSaved(uuid string) {
	r.enqueue(entry{kind: entryMapSave, mapUUID: uuid})
}

// MetadataEdited implements adf.Sink.
func (r *Recorder) MetadataEdited(uuid, key, value string) {
	r.enqueue(entry{kind: entryMetadataEdit, mapUUID: uuid, key: key, value: value})
}

// ResetRelocalization re-arms the relocalization mark after a tracking reset.
func (r *Recorder) ResetRelocalization() {
	r.relocSeen.Store(false)
}

// Drops returns how many entries were discarded because the queue was full.
func (r *Recorder) Drops() uint64 {
	return r.drops.Load()
}

func (r *Recorder) enqueue(e entry) {
	select {
	case r.entries <- e:
	default:
		dropped := r.drops.Add(1)
		if dropped == 1 || dropped%100 == 0 {
			monitoring.Logf("[Journal] queue full, dropped %d entries", dropped)
		}
	}
}

// Run writes queued entries until ctx is canceled, then drains whatever is
// already queued before returning.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e := <-r.entries:
					r.write(e)
				default:
					return
				}
			}
		case e := <-r.entries:
			r.write(e)
		}
	}
}

func (r *Recorder) write(e entry) {
	var err error
	switch e.kind {
	case entryPose:
		err = r.store.RecordPose(r.sessionID, e.pose)
	case entryRelocalization:
		err = r.store.RecordRelocalization(r.sessionID, e.moduleTS, e.mapUUID)
	case entryProgress:
		err = r.store.RecordProgress(r.sessionID, e.percent)
	case entryMapSave:
		err = r.store.RecordMapSave(r.sessionID, e.mapUUID)
	case entryMetadataEdit:
		err = r.store.RecordMetadataEdit(r.sessionID, e.mapUUID, e.key, e.value)
	}
	if err != nil {
		monitoring.Logf("[Journal] %v", err)
	}
}
