package trackermux

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/meridian-robotics/areatrack/internal/monitoring"
	"github.com/meridian-robotics/areatrack/internal/timeutil"
)

// ReplayConfig shapes playback of a captured module line log.
type ReplayConfig struct {
	// Path is the capture file, one module output line per row. Blank rows
	// and rows starting with # are skipped.
	Path string
	// Interval is the pacing between lines. Default 50ms.
	Interval time.Duration
	// Loop restarts playback when the capture ends.
	Loop bool
	// Clock defaults to the real clock.
	Clock timeutil.Clock
}

// ReplayPort implements Porter over a recorded capture: the stream side
// replays the log at a fixed cadence, and a minimal command shim answers the
// session commands so the daemon can start against it. The map store is not
// replayable; saves and metadata edits are refused.
type ReplayPort struct {
	lines    []string
	interval time.Duration
	loop     bool
	clock    timeutil.Clock

	out      *io.PipeWriter
	hostSide *io.PipeReader

	writeMu sync.Mutex
	partial bytes.Buffer

	mu     sync.Mutex
	closed bool
	stop   chan struct{}
}

var _ Porter = (*ReplayPort)(nil)

// OpenReplayPort loads the capture at cfg.Path and starts playback.
func OpenReplayPort(cfg ReplayConfig) (*ReplayPort, error) {
	data, err := os.ReadFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open replay capture: %w", err)
	}

	var lines []string
	for _, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimRight(raw, "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("replay capture %s has no lines", cfg.Path)
	}

	if cfg.Interval <= 0 {
		cfg.Interval = 50 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}

	r, w := io.Pipe()
	p := &ReplayPort{
		lines:    lines,
		interval: cfg.Interval,
		loop:     cfg.Loop,
		clock:    cfg.Clock,
		out:      w,
		hostSide: r,
		stop:     make(chan struct{}),
	}
	go p.play()
	return p, nil
}

func (p *ReplayPort) play() {
	for {
		for _, line := range p.lines {
			p.clock.Sleep(p.interval)
			select {
			case <-p.stop:
				return
			default:
			}
			if _, err := p.out.Write([]byte(line + "\n")); err != nil {
				return
			}
		}
		if !p.loop {
			monitoring.Logf("[Replay] capture finished (%d lines)", len(p.lines))
			<-p.stop
			return
		}
	}
}

// Read delivers replayed lines and shim replies to the host.
func (p *ReplayPort) Read(b []byte) (int, error) {
	return p.hostSide.Read(b)
}

// Write accepts host commands and answers through the shim.
func (p *ReplayPort) Write(b []byte) (int, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.partial.Write(b)
	for {
		line, err := p.partial.ReadString('\n')
		if err != nil {
			p.partial.WriteString(line)
			break
		}
		p.answer(strings.TrimSpace(line))
	}
	return len(b), nil
}

// answer provides just enough of the command protocol for session startup.
func (p *ReplayPort) answer(command string) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return
	}
	var reply string
	switch fields[0] {
	case "VN":
		reply = "VN:replay"
	case "LS":
		reply = "LS:"
	case "CN":
		reply = "CN:OK"
	case "DC":
		reply = "DC:OK"
	case "RT":
		reply = "RT:OK"
	case "SV":
		reply = "SV:ERR:4"
	case "MG":
		reply = "MG:ERR:1"
	case "MP":
		reply = "MP:ERR:1"
	case "DL":
		return
	default:
		monitoring.Logf("[Replay] ignoring command %q", command)
		return
	}
	if _, err := p.out.Write([]byte(reply + "\n")); err != nil && err != io.ErrClosedPipe {
		monitoring.Logf("[Replay] reply failed: %v", err)
	}
}

// Close stops playback and closes both pipe ends.
func (p *ReplayPort) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.stop)
	p.out.Close()
	return p.hostSide.Close()
}
