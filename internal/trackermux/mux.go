// Package trackermux drives the spatial tracking module over its serial
// link: it multiplexes the module's pose/event stream out to a registered
// listener and any debug subscribers, and serializes command round trips
// against the module's map store.
package trackermux

import (
	"bufio"
	"bytes"
	"context"
	crand "crypto/rand"
	"embed"
	"encoding/hex"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"tailscale.com/tsweb"

	"github.com/meridian-robotics/areatrack/internal/monitoring"
	"github.com/meridian-robotics/areatrack/internal/tracker"
)

var ErrWriteFailed = fmt.Errorf("failed to write to tracker link")

//go:embed templates/*
var adminTemplateFS embed.FS

var sendCommandTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/send-command.html.tmpl"))

// MuxInterface is the daemon-facing surface of a module link: the tracker
// service operations plus the lifecycle the daemon drives around them. The
// real, mock, and replay muxes all satisfy it, as does DisabledService.
type MuxInterface interface {
	tracker.Service

	// Monitor reads lines from the module link, routing stream output to
	// the registered listener and tagged replies to the command in flight.
	Monitor(context.Context) error
	// BadLines returns how many unparseable stream lines the monitor has
	// dropped.
	BadLines() uint64
	// Close closes all subscribed channels and closes the module link.
	Close() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// Mux implements tracker.Service over a line-oriented serial link. One
// goroutine runs Monitor to pump the module's output; stream lines go to the
// registered listener, tagged replies to the command in flight. Commands are
// serialized: the module answers one at a time.
type Mux[T Porter] struct {
	port T

	listener   tracker.Listener
	listenerMu sync.Mutex

	subscribers  map[string]chan string
	subscriberMu sync.Mutex

	commandMu sync.Mutex

	replyMu  sync.Mutex
	replyTag string
	replyCh  chan string

	badLines atomic.Uint64

	closing   bool
	closingMu sync.Mutex
}

// NewMux creates a Mux over an open module link.
func NewMux[T Porter](port T) *Mux[T] {
	return &Mux[T]{
		port:        port,
		subscribers: make(map[string]chan string),
	}
}

var _ MuxInterface = (*Mux[Porter])(nil)

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe creates a channel receiving every raw line from the module. The
// ID identifies the channel when unsubscribing. Serves the debug tail; the
// channel is unbuffered and slow receivers miss lines.
func (m *Mux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string)
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	m.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a raw-line subscriber.
func (m *Mux[T]) Unsubscribe(id string) {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
}

// RegisterListener binds the callback receiver. A single listener is
// supported; registering again replaces it.
func (m *Mux[T]) RegisterListener(l tracker.Listener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.listener = l
}

func (m *Mux[T]) currentListener() tracker.Listener {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	return m.listener
}

func (m *Mux[T]) isClosing() bool {
	m.closingMu.Lock()
	defer m.closingMu.Unlock()
	return m.closing
}

// BadLines returns how many unparseable stream lines the monitor has dropped.
func (m *Mux[T]) BadLines() uint64 {
	return m.badLines.Load()
}

// SendCommand writes a raw command line to the module link.
func (m *Mux[T]) SendCommand(command string) error {
	m.commandMu.Lock()
	defer m.commandMu.Unlock()
	return m.send(command)
}

// send writes one command line. Callers hold commandMu.
func (m *Mux[T]) send(command string) error {
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := m.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// roundTrip sends a command and waits for its tagged reply. Stream lines
// keep flowing to the listener while waiting; only ctx bounds the wait, the
// mux imposes no timeout of its own.
func (m *Mux[T]) roundTrip(ctx context.Context, command, tag string) (string, error) {
	m.commandMu.Lock()
	defer m.commandMu.Unlock()

	ch := make(chan string, 1)
	m.replyMu.Lock()
	m.replyTag, m.replyCh = tag, ch
	m.replyMu.Unlock()
	defer func() {
		m.replyMu.Lock()
		m.replyTag, m.replyCh = "", nil
		m.replyMu.Unlock()
	}()

	if err := m.send(command); err != nil {
		return "", err
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Monitor reads the module's output until ctx is cancelled or the link
// fails, routing each line to the listener, the command waiter, or the
// debug subscribers.
func (m *Mux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(m.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking scan.Scan runs in its own goroutine so the outer loop can
	// await lines and context cancellation together.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			if m.isClosing() {
				return nil
			}
			return err

		case line, ok := <-lineChan:
			if !ok {
				if err := scan.Err(); err != nil && !m.isClosing() {
					return err
				}
				return nil
			}
			if m.isClosing() {
				return nil
			}
			m.route(strings.TrimRight(line, "\r"))
		}
	}
}

// route dispatches one line from the module. Bad lines are logged and
// dropped; the read loop must survive any input.
func (m *Mux[T]) route(line string) {
	if line == "" {
		return
	}

	m.subscriberMu.Lock()
	for _, ch := range m.subscribers {
		select {
		case ch <- line:
		default:
			// Skip a full subscriber rather than stall the read loop.
		}
	}
	m.subscriberMu.Unlock()

	switch {
	case strings.HasPrefix(line, "P "):
		p, err := ParsePoseLine(line)
		if err != nil {
			m.badLines.Add(1)
			monitoring.Logf("[TrackerMux] dropped pose line: %v", err)
			return
		}
		if l := m.currentListener(); l != nil {
			l.OnPose(p)
		}

	case strings.HasPrefix(line, "E "):
		e, err := ParseEventLine(line)
		if err != nil {
			m.badLines.Add(1)
			monitoring.Logf("[TrackerMux] dropped event line: %v", err)
			return
		}
		if l := m.currentListener(); l != nil {
			l.OnEvent(e)
		}

	default:
		m.deliverReply(line)
	}
}

func (m *Mux[T]) deliverReply(line string) {
	m.replyMu.Lock()
	defer m.replyMu.Unlock()
	if m.replyCh == nil || !strings.HasPrefix(line, m.replyTag+":") {
		monitoring.Logf("[TrackerMux] unexpected line from module: %q", line)
		return
	}
	select {
	case m.replyCh <- line:
	default:
	}
}

// Initialize probes the module so a dead link fails fast.
func (m *Mux[T]) Initialize(ctx context.Context) error {
	version, err := m.ServiceVersion(ctx)
	if err != nil {
		return fmt.Errorf("%w: version probe failed: %v", tracker.ErrServiceUnavailable, err)
	}
	monitoring.Logf("[TrackerMux] module version %s", version)
	return nil
}

// ServiceVersion queries the module's version string.
func (m *Mux[T]) ServiceVersion(ctx context.Context) (string, error) {
	reply, err := m.roundTrip(ctx, "VN", "VN")
	if err != nil {
		return "", err
	}
	return replyPayload("VN", reply)
}

// Connect starts pose/event streaming with the given session options.
func (m *Mux[T]) Connect(ctx context.Context, opts tracker.ConnectOptions) error {
	reply, err := m.roundTrip(ctx, FormatConnectCommand(opts), "CN")
	if err != nil {
		return err
	}
	if _, err := replyOK("CN", reply); err != nil {
		return fmt.Errorf("connect rejected: %w", err)
	}
	return nil
}

// Disconnect stops streaming. Stored maps survive.
func (m *Mux[T]) Disconnect(ctx context.Context) error {
	reply, err := m.roundTrip(ctx, "DC", "DC")
	if err != nil {
		return err
	}
	if _, err := replyOK("DC", reply); err != nil {
		return fmt.Errorf("disconnect rejected: %w", err)
	}
	return nil
}

// ResetTracking clears the module's motion estimate.
func (m *Mux[T]) ResetTracking(ctx context.Context) error {
	reply, err := m.roundTrip(ctx, "RT", "RT")
	if err != nil {
		return err
	}
	if _, err := replyOK("RT", reply); err != nil {
		return fmt.Errorf("reset rejected: %w", err)
	}
	return nil
}

// ListMapUuids returns the module's catalog blob, empty for no maps.
func (m *Mux[T]) ListMapUuids(ctx context.Context) (string, error) {
	reply, err := m.roundTrip(ctx, "LS", "LS")
	if err != nil {
		return "", err
	}
	return replyPayload("LS", reply)
}

// SaveMap persists the current area description. The module streams
// save-progress events while working, then answers with the new uuid. Only
// ctx bounds the wait.
func (m *Mux[T]) SaveMap(ctx context.Context) (string, error) {
	reply, err := m.roundTrip(ctx, "SV", "SV")
	if err != nil {
		return "", err
	}
	uuid, err := replyOK("SV", reply)
	if err != nil {
		return "", err
	}
	if uuid == "" {
		return "", fmt.Errorf("save reply %q carries no uuid", reply)
	}
	return uuid, nil
}

// GetMapMetadata fetches the metadata handle for uuid.
func (m *Mux[T]) GetMapMetadata(ctx context.Context, uuid string) (*tracker.Metadata, error) {
	reply, err := m.roundTrip(ctx, "MG "+uuid, "MG")
	if err != nil {
		return nil, err
	}
	blob, err := replyOK("MG", reply)
	if err != nil {
		return nil, err
	}
	return DecodeMetadata(blob)
}

// PersistMapMetadata writes a mutated handle back to the module's store.
func (m *Mux[T]) PersistMapMetadata(ctx context.Context, uuid string, meta *tracker.Metadata) error {
	command := "MP " + uuid
	if blob := EncodeMetadata(meta); blob != "" {
		command += " " + blob
	}
	reply, err := m.roundTrip(ctx, command, "MP")
	if err != nil {
		return err
	}
	_, err = replyOK("MP", reply)
	return err
}

// DeleteMap asks the module to remove uuid. The module sends no reply, so
// only a link-level write failure surfaces.
func (m *Mux[T]) DeleteMap(ctx context.Context, uuid string) error {
	return m.SendCommand("DL " + uuid)
}

// Shutdown releases the module link.
func (m *Mux[T]) Shutdown(ctx context.Context) error {
	return m.Close()
}

// Close closes all subscribed channels and the module link.
func (m *Mux[T]) Close() error {
	m.closingMu.Lock()
	m.closing = true
	m.closingMu.Unlock()

	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
	return m.port.Close()
}

// AttachAdminRoutes attaches debugging endpoints under /debug/: a raw
// command console and a live line tail. Not for public exposure.
func (m *Mux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("send-command", "send a raw command to the tracking module", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		if err := sendCommandTemplate.Execute(buf, nil); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		io.Copy(w, buf)
	})

	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := m.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote command %q to tracker link", command))
	})

	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := m.Subscribe()
		defer m.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		w.(http.Flusher).Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				if _, err := w.Write([]byte(fmt.Sprintf("data: %s\n\n", payload))); err != nil {
					return
				}
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	})

	debug.HandleSilentFunc("tail.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Header().Set("Cache-Control", "no-cache")

		f, err := adminTemplateFS.Open("templates/tail.js")
		if err != nil {
			http.Error(w, "Failed to open tail.js", http.StatusInternalServerError)
			return
		}
		defer f.Close()
		io.Copy(w, f)
	})
}
