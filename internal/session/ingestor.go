package session

import (
	"strconv"
	"sync/atomic"

	"github.com/meridian-robotics/areatrack/internal/monitoring"
	"github.com/meridian-robotics/areatrack/internal/tracker"
)

// ProgressSink receives save-progress percentages extracted from module
// events. Implementations must not block: Report is called synchronously from
// the event callback path.
type ProgressSink interface {
	Report(pct int)
}

// IngestorConfig configures an Ingestor. Nil stores are created fresh; a nil
// Progress sink disables progress forwarding.
type IngestorConfig struct {
	Poses    *PoseStore
	Events   *EventStore
	Progress ProgressSink

	// PoseTapSize is the buffer of the optional pose tap channel. Zero means
	// the default of 64; negative disables the tap entirely.
	PoseTapSize int
}

const defaultPoseTapSize = 64

// Ingestor routes module callbacks into the session stores. It satisfies
// tracker.Listener and never blocks the callback path: the pose tap drops on
// a full buffer and progress inspection happens only after the event store
// has released its lock.
type Ingestor struct {
	poses    *PoseStore
	events   *EventStore
	progress ProgressSink

	poseTap   chan tracker.Pose
	tapDrops  atomic.Uint64
	malformed atomic.Uint64
}

var _ tracker.Listener = (*Ingestor)(nil)

// NewIngestor builds an ingestor from cfg, applying defaults for zero values.
func NewIngestor(cfg IngestorConfig) *Ingestor {
	if cfg.Poses == nil {
		cfg.Poses = NewPoseStore()
	}
	if cfg.Events == nil {
		cfg.Events = NewEventStore()
	}
	ing := &Ingestor{
		poses:    cfg.Poses,
		events:   cfg.Events,
		progress: cfg.Progress,
	}
	size := cfg.PoseTapSize
	if size == 0 {
		size = defaultPoseTapSize
	}
	if size > 0 {
		ing.poseTap = make(chan tracker.Pose, size)
	}
	return ing
}

// Poses returns the pose store the ingestor writes into.
func (i *Ingestor) Poses() *PoseStore { return i.poses }

// Events returns the event store the ingestor writes into.
func (i *Ingestor) Events() *EventStore { return i.events }

// PoseTap returns the tap channel, or nil when the tap is disabled. Consumers
// that fall behind lose samples rather than stalling ingestion.
func (i *Ingestor) PoseTap() <-chan tracker.Pose { return i.poseTap }

// TapDrops returns how many samples the tap has dropped.
func (i *Ingestor) TapDrops() uint64 { return i.tapDrops.Load() }

// Malformed returns how many save-progress values failed to parse.
func (i *Ingestor) Malformed() uint64 { return i.malformed.Load() }

// OnPose stores the sample and offers it to the tap without blocking.
func (i *Ingestor) OnPose(p tracker.Pose) {
	i.poses.UpdatePose(p)
	if i.poseTap == nil {
		return
	}
	select {
	case i.poseTap <- p:
	default:
		i.tapDrops.Add(1)
	}
}

// OnEvent stores the event, then inspects it for save progress. The
// inspection runs after UpdateEvent has returned, so the event lock is never
// held across the sink call.
func (i *Ingestor) OnEvent(e tracker.Event) {
	i.events.UpdateEvent(e)

	if !e.IsSaveProgress() {
		return
	}
	pct, ok := parseProgressRatio(e.Value)
	if !ok {
		i.malformed.Add(1)
		monitoring.Logf("[SessionIngestor] malformed save-progress value %q, reporting 0", e.Value)
	}
	if i.progress != nil {
		i.progress.Report(pct)
	}
}

// parseProgressRatio converts a save-progress ratio string ("0.37") into an
// integer percent in [0, 100]. Malformed values report 0 with ok=false. The
// scaled value is truncated, not rounded, so the percent never reaches 100
// before the module says so.
func parseProgressRatio(value string) (pct int, ok bool) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false
	}
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	return int(f * 100), true
}
