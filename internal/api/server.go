// Package api is the daemon's HTTP surface: live pose and event queries,
// area-description lifecycle operations, save-progress streaming, and the
// session journal's query endpoints.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/meridian-robotics/areatrack/internal/adf"
	"github.com/meridian-robotics/areatrack/internal/httputil"
	"github.com/meridian-robotics/areatrack/internal/journal"
	"github.com/meridian-robotics/areatrack/internal/progress"
	"github.com/meridian-robotics/areatrack/internal/session"
	"github.com/meridian-robotics/areatrack/internal/tracker"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// DefaultStaleAfter is the pose age past which the query surface flags a
// retained sample as stale.
const DefaultStaleAfter = 500 * time.Millisecond

// LinkStats exposes the module link's drop counters for the status view. The
// trackermux implementations provide it.
type LinkStats interface {
	BadLines() uint64
}

// Config collects the daemon components the HTTP surface exposes. Journal and
// Recorder may be nil when journalling is disabled; the session query
// endpoints answer 503 in that case. Link may be nil.
type Config struct {
	Service       tracker.Service
	Maps          *adf.Manager
	Ingestor      *session.Ingestor
	Reporter      *progress.Reporter
	Journal       *journal.Store
	Recorder      *journal.Recorder
	Link          LinkStats
	SessionID     string
	ModuleVersion string
	StaleAfter    time.Duration
}

// Server serves the daemon API. Map-lifecycle handlers serialize through one
// mutex: the manager expects operations one at a time, and a second request
// during a save answers 409 rather than queueing behind a multi-second store
// call.
type Server struct {
	service  tracker.Service
	maps     *adf.Manager
	ingestor *session.Ingestor
	reporter *progress.Reporter
	journal  *journal.Store
	recorder *journal.Recorder
	link     LinkStats

	sessionID     string
	moduleVersion string
	staleAfter    time.Duration
	started       time.Time

	opMu sync.Mutex
}

// NewServer builds a server from cfg, applying DefaultStaleAfter for a zero
// StaleAfter.
func NewServer(cfg Config) *Server {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	return &Server{
		service:       cfg.Service,
		maps:          cfg.Maps,
		ingestor:      cfg.Ingestor,
		reporter:      cfg.Reporter,
		journal:       cfg.Journal,
		recorder:      cfg.Recorder,
		link:          cfg.Link,
		sessionID:     cfg.SessionID,
		moduleVersion: cfg.ModuleVersion,
		staleAfter:    cfg.StaleAfter,
		started:       time.Now(),
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.homeHandler)
	mux.HandleFunc("/api/pose", s.showPose)
	mux.HandleFunc("/api/event", s.showEvent)
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/maps", s.listMaps)
	mux.HandleFunc("/api/maps/save", s.saveMap)
	mux.HandleFunc("/api/maps/metadata", s.mapMetadata)
	mux.HandleFunc("/api/maps/delete", s.deleteMap)
	mux.HandleFunc("/api/session/reset", s.resetSession)
	mux.HandleFunc("/api/progress", s.showProgress)
	mux.HandleFunc("/api/progress/stream", s.streamProgress)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/sessions/poses", s.listSessionPoses)
	return mux
}

func (s *Server) homeHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		httputil.NotFound(w, "not found")
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Welcome to the AreaTrack daemon!"))
}

// tryOp takes the map-operation lock without blocking. A false return means
// another operation holds it and a 409 has already been written.
func (s *Server) tryOp(w http.ResponseWriter) bool {
	if !s.opMu.TryLock() {
		httputil.Conflict(w, "map operation in progress")
		return false
	}
	return true
}

type poseJSON struct {
	FramePair   string     `json:"frame_pair"`
	Timestamp   float64    `json:"timestamp"`
	Translation [3]float64 `json:"translation"`
	Orientation [4]float64 `json:"orientation"`
	Status      string     `json:"status"`
	Seen        bool       `json:"seen"`
	AgeMS       float64    `json:"age_ms"`
	Stale       bool       `json:"stale"`
	Display     string     `json:"display"`
}

func (s *Server) poseToJSON(pair tracker.FramePair, sample session.PoseSample) poseJSON {
	out := poseJSON{
		FramePair: pair.String(),
		Status:    sample.Pose.Status.String(),
		Seen:      sample.Seen,
		Display:   s.ingestor.Poses().DisplayString(pair),
	}
	if !sample.Seen {
		// Never seen means nothing to age against.
		out.Stale = true
		return out
	}
	q := sample.Pose.Transform.Orientation
	out.Timestamp = sample.Pose.Timestamp
	out.Translation = sample.Pose.Transform.Translation
	out.Orientation = [4]float64{q.Imag, q.Jmag, q.Kmag, q.Real}
	age := time.Since(sample.ReceivedAt)
	out.AgeMS = float64(age.Nanoseconds()) / 1e6
	out.Stale = age > s.staleAfter
	return out
}

func pairFromName(name string) (tracker.FramePair, bool) {
	for _, pair := range tracker.FramePairs() {
		if pair.String() == name {
			return pair, true
		}
	}
	return 0, false
}

func (s *Server) showPose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	snapshot := s.ingestor.Poses().Snapshot()

	poses := map[string]poseJSON{}
	if name := r.URL.Query().Get("pair"); name != "" {
		pair, ok := pairFromName(name)
		if !ok {
			httputil.BadRequest(w, fmt.Sprintf("unknown frame pair %q", name))
			return
		}
		poses[name] = s.poseToJSON(pair, snapshot.Sample(pair))
	} else {
		for _, pair := range tracker.FramePairs() {
			poses[pair.String()] = s.poseToJSON(pair, snapshot.Sample(pair))
		}
	}

	httputil.WriteJSONOK(w, map[string]interface{}{
		"relocalized": snapshot.Relocalized,
		"poses":       poses,
	})
}

type eventJSON struct {
	Type      string  `json:"type"`
	Key       string  `json:"key"`
	Value     string  `json:"value"`
	Timestamp float64 `json:"timestamp"`
	Display   string  `json:"display"`
}

func (s *Server) showEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	events := s.ingestor.Events()
	e, seen := events.Latest()
	if !seen {
		httputil.NotFound(w, session.NoEventSentinel)
		return
	}

	httputil.WriteJSONOK(w, eventJSON{
		Type:      e.Type.String(),
		Key:       e.Key,
		Value:     e.Value,
		Timestamp: e.Timestamp,
		Display:   events.DisplayString(),
	})
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	snapshot := s.ingestor.Poses().Snapshot()

	status := map[string]interface{}{
		"session_id":       s.sessionID,
		"started_at":       s.started.UTC().Format(time.RFC3339),
		"uptime_seconds":   int64(time.Since(s.started).Seconds()),
		"module_version":   s.moduleVersion,
		"map_state":        s.maps.State().String(),
		"active_map":       s.maps.ActiveUUID(),
		"last_saved_map":   s.maps.LastSavedUUID(),
		"relocalized":      snapshot.Relocalized,
		"ignored_poses":    s.ingestor.Poses().Ignored(),
		"malformed_events": s.ingestor.Malformed(),
		"tap_drops":        s.ingestor.TapDrops(),
		"progress_drops":   s.reporter.Dropped(),
	}
	if s.recorder != nil {
		status["journal_drops"] = s.recorder.Drops()
	}
	if s.link != nil {
		status["link_bad_lines"] = s.link.BadLines()
	}
	if pct, ok := s.reporter.Last(); ok {
		status["save_progress"] = pct
	}
	// Best effort: the count is display data, a store hiccup should not take
	// down the whole status view.
	if uuids, err := s.maps.ListUuids(r.Context()); err == nil {
		status["map_count"] = len(uuids)
	}

	httputil.WriteJSONOK(w, status)
}

func (s *Server) listMaps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.tryOp(w) {
		return
	}
	defer s.opMu.Unlock()

	entries, err := s.maps.DescribeCatalog(r.Context())
	if err != nil {
		if errors.Is(err, adf.ErrCatalogUnavailable) {
			httputil.ServiceUnavailable(w, err.Error())
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("failed to list maps: %v", err))
		return
	}

	httputil.WriteJSONOK(w, map[string]interface{}{
		"count": len(entries),
		"maps":  entries,
	})
}

func (s *Server) saveMap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.tryOp(w) {
		return
	}
	defer s.opMu.Unlock()

	uuid, err := s.maps.Save(r.Context())
	if err != nil {
		if errors.Is(err, adf.ErrNotRelocalized) {
			httputil.Conflict(w, err.Error())
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("save failed: %v", err))
		return
	}

	httputil.WriteJSONOK(w, map[string]string{"uuid": uuid})
}

type metadataEditRequest struct {
	UUID  string `json:"uuid"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Server) mapMetadata(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.getMapMetadata(w, r)
	case http.MethodPost:
		s.setMapMetadata(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) getMapMetadata(w http.ResponseWriter, r *http.Request) {
	uuid := r.URL.Query().Get("uuid")
	if uuid == "" {
		httputil.BadRequest(w, "uuid is required")
		return
	}
	if !s.tryOp(w) {
		return
	}
	defer s.opMu.Unlock()

	if key := r.URL.Query().Get("key"); key != "" {
		value, err := s.maps.GetMetadata(r.Context(), uuid, key)
		if err != nil {
			switch {
			case errors.Is(err, adf.ErrKeyNotFound), errors.Is(err, tracker.ErrUnknownMap):
				httputil.NotFound(w, err.Error())
			default:
				httputil.InternalServerError(w, fmt.Sprintf("metadata read failed: %v", err))
			}
			return
		}
		httputil.WriteJSONOK(w, map[string]string{"uuid": uuid, "key": key, "value": value})
		return
	}

	meta, err := s.service.GetMapMetadata(r.Context(), uuid)
	if err != nil {
		if errors.Is(err, tracker.ErrUnknownMap) {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("metadata read failed: %v", err))
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"uuid": uuid, "metadata": meta})
}

func (s *Server) setMapMetadata(w http.ResponseWriter, r *http.Request) {
	var req metadataEditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.UUID == "" {
		httputil.BadRequest(w, "uuid is required")
		return
	}
	if req.Key == "" {
		httputil.BadRequest(w, "key is required")
		return
	}
	if !s.tryOp(w) {
		return
	}
	defer s.opMu.Unlock()

	if err := s.maps.SetMetadata(r.Context(), req.UUID, req.Key, req.Value); err != nil {
		switch {
		case errors.Is(err, tracker.ErrUnknownMap):
			httputil.NotFound(w, err.Error())
		case errors.Is(err, adf.ErrMetaWriteRejected):
			httputil.BadRequest(w, err.Error())
		default:
			httputil.InternalServerError(w, fmt.Sprintf("metadata write failed: %v", err))
		}
		return
	}

	httputil.WriteJSONOK(w, map[string]string{"uuid": req.UUID, "key": req.Key, "value": req.Value})
}

func (s *Server) deleteMap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		httputil.MethodNotAllowed(w)
		return
	}
	uuid := r.URL.Query().Get("uuid")
	if uuid == "" {
		httputil.BadRequest(w, "uuid is required")
		return
	}
	if !s.tryOp(w) {
		return
	}
	defer s.opMu.Unlock()

	// Best effort; the store sends no confirmation for deletes.
	s.maps.Delete(r.Context(), uuid)

	httputil.WriteJSONOK(w, map[string]string{"deleted": uuid})
}

func (s *Server) resetSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	if err := s.service.ResetTracking(r.Context()); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("reset failed: %v", err))
		return
	}

	s.ingestor.Poses().Reset()
	s.ingestor.Events().Reset()
	if s.recorder != nil {
		s.recorder.ResetRelocalization()
	}

	httputil.WriteJSONOK(w, map[string]bool{"reset": true})
}

func (s *Server) showProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	pct, seen := s.reporter.Last()
	httputil.WriteJSONOK(w, map[string]interface{}{
		"percent": pct,
		"seen":    seen,
		"dropped": s.reporter.Dropped(),
	})
}

func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, c := s.reporter.Subscribe()
	defer s.reporter.Unsubscribe(id)

	// Send initial ping to establish connection
	w.Write([]byte(": ping\n\n"))
	w.(http.Flusher).Flush()

	// Seed late subscribers with the last observed value.
	if pct, ok := s.reporter.Last(); ok {
		fmt.Fprintf(w, "data: {\"percent\":%d}\n\n", pct)
		w.(http.Flusher).Flush()
	}

	for {
		select {
		case pct, ok := <-c:
			if !ok {
				// Channel closed, exit gracefully
				return
			}
			_, err := fmt.Fprintf(w, "data: {\"percent\":%d}\n\n", pct)
			if err != nil {
				return
			}
			w.(http.Flusher).Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.journal == nil {
		httputil.ServiceUnavailable(w, "journal not enabled")
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	sessions, err := s.journal.ListSessions(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list sessions: %v", err))
		return
	}

	httputil.WriteJSONOK(w, map[string]interface{}{
		"current":  s.sessionID,
		"sessions": sessions,
	})
}

func (s *Server) listSessionPoses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.journal == nil {
		httputil.ServiceUnavailable(w, "journal not enabled")
		return
	}

	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = s.sessionID
	}
	pair := r.URL.Query().Get("pair")
	if pair != "" {
		if _, ok := pairFromName(pair); !ok {
			httputil.BadRequest(w, fmt.Sprintf("unknown frame pair %q", pair))
			return
		}
	}
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	poses, err := s.journal.RecentPoses(sessionID, pair, limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to read poses: %v", err))
		return
	}

	httputil.WriteJSONOK(w, map[string]interface{}{
		"session": sessionID,
		"poses":   poses,
	})
}
