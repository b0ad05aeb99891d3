package trackermux

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/num/quat"

	"github.com/meridian-robotics/areatrack/internal/geom"
	"github.com/meridian-robotics/areatrack/internal/monitoring"
	"github.com/meridian-robotics/areatrack/internal/timeutil"
	"github.com/meridian-robotics/areatrack/internal/tracker"
)

const mockVersion = "areatrack-mock 1.2.0"

// MockModuleConfig shapes the scripted module's behaviour. Zero values get
// defaults suitable for interactive dev use.
type MockModuleConfig struct {
	// Catalog preloads stored area descriptions, oldest first.
	Catalog []string
	// Names optionally names preloaded maps.
	Names map[string]string
	// RelocalizeAfter is how long after connect the device relocalizes.
	RelocalizeAfter time.Duration
	// PoseHz is the pose stream rate per frame pair.
	PoseHz int
	// SaveDuration is how long a save takes end to end.
	SaveDuration time.Duration
	// Clock defaults to the real clock. Tests inject a mock to control the
	// stream and save timing.
	Clock timeutil.Clock
}

func (c MockModuleConfig) withDefaults() MockModuleConfig {
	if c.RelocalizeAfter <= 0 {
		c.RelocalizeAfter = 2 * time.Second
	}
	if c.PoseHz <= 0 {
		c.PoseHz = 20
	}
	if c.SaveDuration <= 0 {
		c.SaveDuration = time.Second
	}
	if c.Clock == nil {
		c.Clock = timeutil.RealClock{}
	}
	return c
}

// MockModule is a scripted tracking module behind an in-process pipe. It
// implements Porter: the mux reads a synthetic pose/event stream from it and
// its command handler answers the full map-store protocol from an in-memory
// catalog. The device walks a circle; after RelocalizeAfter it relocalizes
// (learning sessions localize against the description they are building).
type MockModule struct {
	cfg   MockModuleConfig
	clock timeutil.Clock

	out      *io.PipeWriter
	hostSide *io.PipeReader

	writeMu sync.Mutex
	partial bytes.Buffer

	mu         sync.Mutex
	started    time.Time
	catalog    []string
	meta       map[string]*tracker.Metadata
	connected  bool
	learning   bool
	loaded     string
	relocEpoch time.Time
	announced  bool
	walkAngle  float64
	saving     bool
	saveSeq    int
	closed     bool
	streamStop chan struct{}
}

var _ Porter = (*MockModule)(nil)

// NewMockModule builds a scripted module from cfg.
func NewMockModule(cfg MockModuleConfig) *MockModule {
	cfg = cfg.withDefaults()
	r, w := io.Pipe()
	m := &MockModule{
		cfg:      cfg,
		clock:    cfg.Clock,
		out:      w,
		hostSide: r,
		started:  cfg.Clock.Now(),
		meta:     make(map[string]*tracker.Metadata),
	}
	for i, id := range cfg.Catalog {
		m.catalog = append(m.catalog, id)
		meta := tracker.NewMetadata()
		name := cfg.Names[id]
		if name == "" {
			name = fmt.Sprintf("preloaded area %d", i+1)
		}
		meta.Set("name", name)
		m.meta[id] = meta
	}
	return m
}

// NewMockMux wraps a scripted module in a Mux, ready for Monitor.
func NewMockMux(cfg MockModuleConfig) *Mux[*MockModule] {
	return NewMux(NewMockModule(cfg))
}

// Read delivers the module's output stream to the host.
func (m *MockModule) Read(p []byte) (int, error) {
	return m.hostSide.Read(p)
}

// Write receives host command bytes, handling each complete line.
func (m *MockModule) Write(p []byte) (int, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.partial.Write(p)
	for {
		line, err := m.partial.ReadString('\n')
		if err != nil {
			// Partial command, keep it buffered for the next Write.
			m.partial.WriteString(line)
			break
		}
		m.handleCommand(strings.TrimSpace(line))
	}
	return len(p), nil
}

// Close tears down the stream goroutine and both pipe ends.
func (m *MockModule) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	stop := m.streamStop
	m.streamStop = nil
	m.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	m.out.Close()
	return m.hostSide.Close()
}

// now returns seconds on the module clock.
func (m *MockModule) now() float64 {
	return m.clock.Since(m.started).Seconds()
}

// emit writes one line of module output. Callers must not hold m.mu: the
// pipe blocks until the host reads.
func (m *MockModule) emit(line string) {
	if _, err := m.out.Write([]byte(line + "\n")); err != nil && err != io.ErrClosedPipe {
		monitoring.Logf("[MockModule] emit failed: %v", err)
	}
}

func (m *MockModule) emitEvent(typ tracker.EventType, key, value string) {
	m.emit(FormatEventLine(tracker.Event{Type: typ, Key: key, Value: value, Timestamp: m.now()}))
}

func (m *MockModule) handleCommand(line string) {
	if line == "" {
		return
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case "VN":
		m.emit("VN:" + mockVersion)

	case "LS":
		m.mu.Lock()
		blob := strings.Join(m.catalog, ",")
		m.mu.Unlock()
		m.emit("LS:" + blob)

	case "CN":
		m.handleConnect(fields[1:])

	case "DC":
		m.stopStream()
		m.mu.Lock()
		m.connected = false
		m.mu.Unlock()
		m.emitEvent(tracker.EventService, "status", "disconnected")
		m.emit("DC:OK")

	case "RT":
		m.mu.Lock()
		m.walkAngle = 0
		m.relocEpoch = m.clock.Now()
		m.announced = false
		m.mu.Unlock()
		m.emitEvent(tracker.EventService, "status", "tracking reset")
		m.emit("RT:OK")

	case "SV":
		m.mu.Lock()
		switch {
		case !m.connected:
			m.mu.Unlock()
			m.emit("SV:ERR:2")
		case m.saving:
			m.mu.Unlock()
			m.emit("SV:ERR:3")
		default:
			m.saving = true
			m.mu.Unlock()
			go m.runSave()
		}

	case "MG":
		if len(fields) != 2 {
			m.emit("MG:ERR:9")
			return
		}
		m.mu.Lock()
		meta, ok := m.meta[fields[1]]
		var blob string
		if ok {
			blob = EncodeMetadata(meta)
		}
		m.mu.Unlock()
		if !ok {
			m.emit("MG:ERR:1")
			return
		}
		m.emit("MG:OK:" + blob)

	case "MP":
		m.handlePersist(fields[1:])

	case "DL":
		if len(fields) != 2 {
			return
		}
		m.mu.Lock()
		delete(m.meta, fields[1])
		for i, id := range m.catalog {
			if id == fields[1] {
				m.catalog = append(m.catalog[:i], m.catalog[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		// DL has no reply.

	default:
		monitoring.Logf("[MockModule] unknown command %q", line)
	}
}

func (m *MockModule) handleConnect(args []string) {
	var learning bool
	var loaded string
	for _, arg := range args {
		switch {
		case arg == "L=1":
			learning = true
		case arg == "L=0":
			learning = false
		case strings.HasPrefix(arg, "M="):
			loaded = strings.TrimPrefix(arg, "M=")
		case strings.HasPrefix(arg, "F="):
			// The mock always streams all three pairs.
		default:
			m.emit("CN:ERR:9")
			return
		}
	}

	m.mu.Lock()
	if loaded != "" {
		if _, ok := m.meta[loaded]; !ok {
			m.mu.Unlock()
			m.emit("CN:ERR:1")
			return
		}
	}
	m.learning = learning
	m.loaded = loaded
	m.connected = true
	m.relocEpoch = m.clock.Now()
	m.announced = false
	m.mu.Unlock()

	m.startStream()
	m.emitEvent(tracker.EventService, "status", "connected")
	m.emit("CN:OK")
}

func (m *MockModule) handlePersist(args []string) {
	if len(args) == 0 || len(args) > 2 {
		m.emit("MP:ERR:9")
		return
	}
	id := args[0]
	blob := ""
	if len(args) == 2 {
		blob = args[1]
	}
	meta, err := DecodeMetadata(blob)
	if err != nil {
		m.emit("MP:ERR:2")
		return
	}
	m.mu.Lock()
	_, ok := m.meta[id]
	if ok {
		m.meta[id] = meta
	}
	m.mu.Unlock()
	if !ok {
		m.emit("MP:ERR:1")
		return
	}
	m.emit("MP:OK")
}

// runSave stages progress events across SaveDuration, then lands the new
// area description in the catalog and reports its uuid.
func (m *MockModule) runSave() {
	const steps = 10
	stepDur := m.cfg.SaveDuration / steps
	for i := 0; i < steps; i++ {
		m.clock.Sleep(stepDur)
		m.emitEvent(tracker.EventAreaLearning, tracker.EventKeySaveProgress, fmt.Sprintf("%.2f", float64(i)/steps))
	}
	m.emitEvent(tracker.EventAreaLearning, tracker.EventKeySaveProgress, "1.00")

	newID := uuid.NewString()
	m.mu.Lock()
	m.saveSeq++
	meta := tracker.NewMetadata()
	meta.Set("name", fmt.Sprintf("unnamed area %d", m.saveSeq))
	meta.Set("date_ms_since_epoch", fmt.Sprintf("%d", m.clock.Now().UnixMilli()))
	m.meta[newID] = meta
	m.catalog = append(m.catalog, newID)
	m.saving = false
	m.mu.Unlock()

	m.emit("SV:OK:" + newID)
}

func (m *MockModule) startStream() {
	m.mu.Lock()
	if m.streamStop != nil {
		// Already streaming; the new session reuses it.
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	m.streamStop = stop
	m.mu.Unlock()

	interval := time.Second / time.Duration(m.cfg.PoseHz)
	go func() {
		ticker := m.clock.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C():
				for _, line := range m.poseLines() {
					m.emit(line)
				}
			}
		}
	}()
}

func (m *MockModule) stopStream() {
	m.mu.Lock()
	stop := m.streamStop
	m.streamStop = nil
	m.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

// areaFromStart is the fixed drift correction between the loaded area
// description's frame and the service start frame.
var areaFromStart = geom.Transform{
	Translation: [3]float64{0.3, -0.2, 0},
	Orientation: zRotation(0.1),
}

func zRotation(angle float64) quat.Number {
	return quat.Number{Real: math.Cos(angle / 2), Kmag: math.Sin(angle / 2)}
}

// poseLines renders one tick of the synthetic walk: the device circles a
// 1.5 m radius at one revolution per 20 s, facing along the tangent.
func (m *MockModule) poseLines() []string {
	m.mu.Lock()
	m.walkAngle += 2 * math.Pi / (20 * float64(m.cfg.PoseHz))
	angle := m.walkAngle
	relocalized := m.clock.Since(m.relocEpoch) >= m.cfg.RelocalizeAfter &&
		(m.loaded != "" || m.learning)
	announce := relocalized && !m.announced
	if announce {
		m.announced = true
	}
	loaded := m.loaded
	m.mu.Unlock()

	ts := m.now()
	startToDevice := geom.Transform{
		Translation: [3]float64{1.5 * math.Cos(angle), 1.5 * math.Sin(angle), 0},
		Orientation: zRotation(angle + math.Pi/2),
	}

	lines := make([]string, 0, 4)
	if announce {
		target := loaded
		if target == "" {
			target = "learned"
		}
		lines = append(lines, FormatEventLine(tracker.Event{
			Type: tracker.EventAreaLearning, Key: "relocalized", Value: target, Timestamp: ts,
		}))
	}

	lines = append(lines, FormatPoseLine(tracker.Pose{
		Pair: tracker.StartToDevice, Timestamp: ts,
		Transform: startToDevice, Status: tracker.PoseValid,
	}))

	areaPose := tracker.Pose{Pair: tracker.AreaToDevice, Timestamp: ts, Status: tracker.PoseInvalid}
	correction := tracker.Pose{Pair: tracker.AreaToStart, Timestamp: ts, Status: tracker.PoseInvalid}
	if relocalized {
		areaPose.Transform = geom.Compose(areaFromStart, startToDevice)
		areaPose.Status = tracker.PoseValid
		correction.Transform = areaFromStart
		correction.Status = tracker.PoseValid
	} else {
		areaPose.Transform = geom.Identity()
		correction.Transform = geom.Identity()
	}
	return append(lines, FormatPoseLine(areaPose), FormatPoseLine(correction))
}
