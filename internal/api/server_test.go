package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gonum.org/v1/gonum/num/quat"

	"github.com/meridian-robotics/areatrack/internal/adf"
	"github.com/meridian-robotics/areatrack/internal/db"
	"github.com/meridian-robotics/areatrack/internal/geom"
	"github.com/meridian-robotics/areatrack/internal/journal"
	"github.com/meridian-robotics/areatrack/internal/progress"
	"github.com/meridian-robotics/areatrack/internal/session"
	"github.com/meridian-robotics/areatrack/internal/testutil"
	"github.com/meridian-robotics/areatrack/internal/tracker"
)

const testSessionID = "sess-api-test"

// fakeService serves canned catalog data and counts lifecycle calls. The
// clone-on-get contract matches the real service: mutations only land via
// persist.
type fakeService struct {
	listBlob string
	listErr  error
	saveUUID string
	saveErr  error
	resetErr error
	meta     map[string]*tracker.Metadata

	saveCalls   int
	resetCalls  int
	deleteCalls int
}

func (f *fakeService) Initialize(context.Context) error { return nil }

func (f *fakeService) RegisterListener(tracker.Listener) {}

func (f *fakeService) Connect(context.Context, tracker.ConnectOptions) error { return nil }

func (f *fakeService) Disconnect(context.Context) error { return nil }

func (f *fakeService) ResetTracking(context.Context) error {
	f.resetCalls++
	return f.resetErr
}

func (f *fakeService) Shutdown(context.Context) error { return nil }

func (f *fakeService) ServiceVersion(context.Context) (string, error) { return "fake-1.0", nil }

func (f *fakeService) ListMapUuids(context.Context) (string, error) {
	return f.listBlob, f.listErr
}

func (f *fakeService) SaveMap(context.Context) (string, error) {
	f.saveCalls++
	return f.saveUUID, f.saveErr
}

func (f *fakeService) GetMapMetadata(_ context.Context, uuid string) (*tracker.Metadata, error) {
	m, ok := f.meta[uuid]
	if !ok {
		return nil, tracker.ErrUnknownMap
	}
	return m.Clone(), nil
}

func (f *fakeService) PersistMapMetadata(_ context.Context, uuid string, meta *tracker.Metadata) error {
	f.meta[uuid] = meta.Clone()
	return nil
}

func (f *fakeService) DeleteMap(_ context.Context, uuid string) error {
	f.deleteCalls++
	return nil
}

func newTestServer(t *testing.T, svc *fakeService, store *journal.Store) *Server {
	t.Helper()
	ingestor := session.NewIngestor(session.IngestorConfig{PoseTapSize: -1})
	reporter := progress.NewReporter(0)
	maps := adf.NewManager(svc, ingestor.Poses(), nil)
	return NewServer(Config{
		Service:       svc,
		Maps:          maps,
		Ingestor:      ingestor,
		Reporter:      reporter,
		Journal:       store,
		SessionID:     testSessionID,
		ModuleVersion: "fake-1.0",
	})
}

func newJournalStore(t *testing.T) *journal.Store {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("failed to open journal db: %v", err)
	}
	t.Cleanup(func() {
		if err := database.Close(); err != nil {
			t.Errorf("failed to close journal db: %v", err)
		}
	})
	return journal.NewStore(database)
}

func validPose(pair tracker.FramePair, ts float64) tracker.Pose {
	return tracker.Pose{
		Pair:      pair,
		Timestamp: ts,
		Transform: geom.Transform{
			Translation: [3]float64{1.5, -2.25, 0.125},
			Orientation: quat.Number{Real: 1},
		},
		Status: tracker.PoseValid,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestHomeHandler(t *testing.T) {
	server := newTestServer(t, &fakeService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	server.homeHandler(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	if !strings.Contains(w.Body.String(), "AreaTrack") {
		t.Errorf("unexpected home body: %s", w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	w = httptest.NewRecorder()
	server.homeHandler(w, req)
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
}

func TestMethodChecks(t *testing.T) {
	server := newTestServer(t, &fakeService{}, nil)

	tests := []struct {
		path    string
		method  string
		handler http.HandlerFunc
	}{
		{"/api/pose", http.MethodPost, server.showPose},
		{"/api/event", http.MethodPost, server.showEvent},
		{"/api/status", http.MethodPost, server.showStatus},
		{"/api/maps", http.MethodPost, server.listMaps},
		{"/api/maps/save", http.MethodGet, server.saveMap},
		{"/api/maps/metadata", http.MethodDelete, server.mapMetadata},
		{"/api/maps/delete", http.MethodGet, server.deleteMap},
		{"/api/session/reset", http.MethodGet, server.resetSession},
		{"/api/progress", http.MethodPost, server.showProgress},
		{"/api/progress/stream", http.MethodPost, server.streamProgress},
		{"/api/sessions", http.MethodPost, server.listSessions},
		{"/api/sessions/poses", http.MethodPost, server.listSessionPoses},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()
			tt.handler(w, req)
			testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
		})
	}
}

func TestShowPose_Empty(t *testing.T) {
	server := newTestServer(t, &fakeService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/pose", nil)
	w := httptest.NewRecorder()
	server.showPose(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var resp struct {
		Relocalized bool                `json:"relocalized"`
		Poses       map[string]poseJSON `json:"poses"`
	}
	testutil.DecodeJSONBody(t, w, &resp)

	if resp.Relocalized {
		t.Error("expected relocalized false before any samples")
	}
	if len(resp.Poses) != 3 {
		t.Fatalf("expected 3 frame pairs, got %d", len(resp.Poses))
	}
	for name, p := range resp.Poses {
		if p.Seen {
			t.Errorf("%s: expected seen false", name)
		}
		if !p.Stale {
			t.Errorf("%s: expected stale true before any samples", name)
		}
		if p.Display != session.NoPoseSentinel {
			t.Errorf("%s: display = %q, want %q", name, p.Display, session.NoPoseSentinel)
		}
	}
}

func TestShowPose_Samples(t *testing.T) {
	server := newTestServer(t, &fakeService{}, nil)
	server.ingestor.OnPose(validPose(tracker.StartToDevice, 12.5))
	server.ingestor.OnPose(validPose(tracker.AreaToDevice, 12.6))

	req := httptest.NewRequest(http.MethodGet, "/api/pose", nil)
	w := httptest.NewRecorder()
	server.showPose(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var resp struct {
		Relocalized bool                `json:"relocalized"`
		Poses       map[string]poseJSON `json:"poses"`
	}
	testutil.DecodeJSONBody(t, w, &resp)

	if !resp.Relocalized {
		t.Error("expected relocalized after a valid area-to-device pose")
	}

	p := resp.Poses["start_to_device"]
	if !p.Seen {
		t.Fatal("expected start_to_device seen")
	}
	if p.Timestamp != 12.5 {
		t.Errorf("timestamp = %v, want 12.5", p.Timestamp)
	}
	if p.Translation != [3]float64{1.5, -2.25, 0.125} {
		t.Errorf("unexpected translation %v", p.Translation)
	}
	if p.Orientation != [4]float64{0, 0, 0, 1} {
		t.Errorf("unexpected orientation %v", p.Orientation)
	}
	if p.Status != "valid" {
		t.Errorf("status = %q, want valid", p.Status)
	}
	if p.Stale {
		t.Error("fresh sample should not be stale")
	}
	if p.Display == session.NoPoseSentinel {
		t.Error("expected a rendered display string")
	}
}

func TestShowPose_PairFilter(t *testing.T) {
	server := newTestServer(t, &fakeService{}, nil)
	server.ingestor.OnPose(validPose(tracker.StartToDevice, 1.0))

	req := httptest.NewRequest(http.MethodGet, "/api/pose?pair=start_to_device", nil)
	w := httptest.NewRecorder()
	server.showPose(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var resp struct {
		Poses map[string]poseJSON `json:"poses"`
	}
	testutil.DecodeJSONBody(t, w, &resp)
	if len(resp.Poses) != 1 {
		t.Fatalf("expected 1 pair, got %d", len(resp.Poses))
	}
	if _, ok := resp.Poses["start_to_device"]; !ok {
		t.Error("expected start_to_device in response")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/pose?pair=bogus", nil)
	w = httptest.NewRecorder()
	server.showPose(w, req)
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
}

func TestShowPose_Staleness(t *testing.T) {
	server := newTestServer(t, &fakeService{}, nil)
	server.staleAfter = 1 * time.Nanosecond
	server.ingestor.OnPose(validPose(tracker.StartToDevice, 1.0))

	// Any schedulable delay exceeds a nanosecond threshold.
	time.Sleep(time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/api/pose?pair=start_to_device", nil)
	w := httptest.NewRecorder()
	server.showPose(w, req)

	var resp struct {
		Poses map[string]poseJSON `json:"poses"`
	}
	testutil.DecodeJSONBody(t, w, &resp)
	p := resp.Poses["start_to_device"]
	if !p.Seen {
		t.Fatal("expected sample to be seen")
	}
	if !p.Stale {
		t.Error("expected sample to be flagged stale")
	}
	if p.AgeMS <= 0 {
		t.Errorf("age_ms = %v, want > 0", p.AgeMS)
	}
}

func TestShowEvent_None(t *testing.T) {
	server := newTestServer(t, &fakeService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/event", nil)
	w := httptest.NewRecorder()
	server.showEvent(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
	if msg := testutil.ErrorMessage(t, w); msg != session.NoEventSentinel {
		t.Errorf("error = %q, want %q", msg, session.NoEventSentinel)
	}
}

func TestShowEvent_Latest(t *testing.T) {
	server := newTestServer(t, &fakeService{}, nil)
	server.ingestor.OnEvent(tracker.Event{
		Type:      tracker.EventAreaLearning,
		Key:       tracker.EventKeySaveProgress,
		Value:     "0.37",
		Timestamp: 41.25,
	})

	req := httptest.NewRequest(http.MethodGet, "/api/event", nil)
	w := httptest.NewRecorder()
	server.showEvent(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var resp eventJSON
	testutil.DecodeJSONBody(t, w, &resp)
	if resp.Type != "area_learning" {
		t.Errorf("type = %q, want area_learning", resp.Type)
	}
	if resp.Key != tracker.EventKeySaveProgress {
		t.Errorf("key = %q, want %q", resp.Key, tracker.EventKeySaveProgress)
	}
	if resp.Value != "0.37" {
		t.Errorf("value = %q, want 0.37", resp.Value)
	}
	if resp.Timestamp != 41.25 {
		t.Errorf("timestamp = %v, want 41.25", resp.Timestamp)
	}
	if !strings.Contains(resp.Display, "save-progress") {
		t.Errorf("display %q should mention the event key", resp.Display)
	}
}

func TestShowStatus(t *testing.T) {
	svc := &fakeService{listBlob: "m1,m2"}
	server := newTestServer(t, svc, nil)
	server.reporter.Report(42)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	server.showStatus(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var resp map[string]interface{}
	testutil.DecodeJSONBody(t, w, &resp)

	if resp["session_id"] != testSessionID {
		t.Errorf("session_id = %v, want %s", resp["session_id"], testSessionID)
	}
	if resp["module_version"] != "fake-1.0" {
		t.Errorf("module_version = %v", resp["module_version"])
	}
	if resp["map_state"] != "unselected" {
		t.Errorf("map_state = %v, want unselected", resp["map_state"])
	}
	if resp["relocalized"] != false {
		t.Errorf("relocalized = %v, want false", resp["relocalized"])
	}
	if resp["map_count"] != float64(2) {
		t.Errorf("map_count = %v, want 2", resp["map_count"])
	}
	if resp["save_progress"] != float64(42) {
		t.Errorf("save_progress = %v, want 42", resp["save_progress"])
	}
	if _, ok := resp["journal_drops"]; ok {
		t.Error("journal_drops should be absent without a recorder")
	}
	if _, ok := resp["link_bad_lines"]; ok {
		t.Error("link_bad_lines should be absent without a module link")
	}
}

func TestShowStatus_CatalogUnreachable(t *testing.T) {
	svc := &fakeService{listErr: tracker.ErrServiceUnavailable}
	server := newTestServer(t, svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	server.showStatus(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var resp map[string]interface{}
	testutil.DecodeJSONBody(t, w, &resp)
	if _, ok := resp["map_count"]; ok {
		t.Error("map_count should be omitted when the catalog is unreachable")
	}
}

func TestListMaps(t *testing.T) {
	meta := tracker.NewMetadata()
	if err := meta.Set("name", "kitchen"); err != nil {
		t.Fatal(err)
	}
	svc := &fakeService{
		listBlob: "m1,m2",
		meta:     map[string]*tracker.Metadata{"m1": meta},
	}
	server := newTestServer(t, svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/maps", nil)
	w := httptest.NewRecorder()
	server.listMaps(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var resp struct {
		Count int `json:"count"`
		Maps  []struct {
			UUID string `json:"uuid"`
			Name string `json:"name"`
		} `json:"maps"`
	}
	testutil.DecodeJSONBody(t, w, &resp)
	if resp.Count != 2 {
		t.Fatalf("count = %d, want 2", resp.Count)
	}
	if resp.Maps[0].UUID != "m1" || resp.Maps[0].Name != "kitchen" {
		t.Errorf("first entry = %+v", resp.Maps[0])
	}
	// m2 has no metadata; it is listed without a name rather than dropped.
	if resp.Maps[1].UUID != "m2" || resp.Maps[1].Name != "" {
		t.Errorf("second entry = %+v", resp.Maps[1])
	}
}

func TestListMaps_CatalogUnavailable(t *testing.T) {
	svc := &fakeService{listErr: tracker.ErrServiceUnavailable}
	server := newTestServer(t, svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/maps", nil)
	w := httptest.NewRecorder()
	server.listMaps(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusServiceUnavailable)
}

func TestSaveMap(t *testing.T) {
	svc := &fakeService{saveUUID: "fresh-uuid"}
	server := newTestServer(t, svc, nil)
	server.ingestor.OnPose(validPose(tracker.AreaToDevice, 3.0))

	req := httptest.NewRequest(http.MethodPost, "/api/maps/save", nil)
	w := httptest.NewRecorder()
	server.saveMap(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var resp map[string]string
	testutil.DecodeJSONBody(t, w, &resp)
	if resp["uuid"] != "fresh-uuid" {
		t.Errorf("uuid = %q, want fresh-uuid", resp["uuid"])
	}
	if svc.saveCalls != 1 {
		t.Errorf("saveCalls = %d, want 1", svc.saveCalls)
	}
	if server.maps.LastSavedUUID() != "fresh-uuid" {
		t.Errorf("LastSavedUUID = %q", server.maps.LastSavedUUID())
	}
}

func TestSaveMap_NotRelocalized(t *testing.T) {
	svc := &fakeService{saveUUID: "fresh-uuid"}
	server := newTestServer(t, svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/maps/save", nil)
	w := httptest.NewRecorder()
	server.saveMap(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusConflict)
	if svc.saveCalls != 0 {
		t.Errorf("store should not be contacted, saveCalls = %d", svc.saveCalls)
	}
}

func TestSaveMap_OperationInProgress(t *testing.T) {
	server := newTestServer(t, &fakeService{}, nil)

	server.opMu.Lock()
	defer server.opMu.Unlock()

	req := httptest.NewRequest(http.MethodPost, "/api/maps/save", nil)
	w := httptest.NewRecorder()
	server.saveMap(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusConflict)
	if msg := testutil.ErrorMessage(t, w); msg != "map operation in progress" {
		t.Errorf("error = %q", msg)
	}
}

func TestMapMetadata_GetValue(t *testing.T) {
	meta := tracker.NewMetadata()
	if err := meta.Set("name", "kitchen"); err != nil {
		t.Fatal(err)
	}
	svc := &fakeService{meta: map[string]*tracker.Metadata{"m1": meta}}
	server := newTestServer(t, svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/maps/metadata?uuid=m1&key=name", nil)
	w := httptest.NewRecorder()
	server.mapMetadata(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var resp map[string]string
	testutil.DecodeJSONBody(t, w, &resp)
	if resp["value"] != "kitchen" {
		t.Errorf("value = %q, want kitchen", resp["value"])
	}

	req = httptest.NewRequest(http.MethodGet, "/api/maps/metadata?uuid=m1&key=missing", nil)
	w = httptest.NewRecorder()
	server.mapMetadata(w, req)
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)

	req = httptest.NewRequest(http.MethodGet, "/api/maps/metadata?uuid=ghost&key=name", nil)
	w = httptest.NewRecorder()
	server.mapMetadata(w, req)
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)

	req = httptest.NewRequest(http.MethodGet, "/api/maps/metadata", nil)
	w = httptest.NewRecorder()
	server.mapMetadata(w, req)
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
}

func TestMapMetadata_GetAll(t *testing.T) {
	meta := tracker.NewMetadata()
	if err := meta.Set("name", "kitchen"); err != nil {
		t.Fatal(err)
	}
	svc := &fakeService{meta: map[string]*tracker.Metadata{"m1": meta}}
	server := newTestServer(t, svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/maps/metadata?uuid=m1", nil)
	w := httptest.NewRecorder()
	server.mapMetadata(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var resp struct {
		UUID     string            `json:"uuid"`
		Metadata map[string]string `json:"metadata"`
	}
	testutil.DecodeJSONBody(t, w, &resp)
	if resp.Metadata["name"] != "kitchen" {
		t.Errorf("metadata = %v", resp.Metadata)
	}
}

func TestMapMetadata_Set(t *testing.T) {
	svc := &fakeService{meta: map[string]*tracker.Metadata{"m1": tracker.NewMetadata()}}
	server := newTestServer(t, svc, nil)

	body := strings.NewReader(`{"uuid":"m1","key":"name","value":"hallway"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/maps/metadata", body)
	w := httptest.NewRecorder()
	server.mapMetadata(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	stored, ok := svc.meta["m1"].Get("name")
	if !ok || stored != "hallway" {
		t.Errorf("persisted name = %q, ok=%v", stored, ok)
	}
}

func TestMapMetadata_SetErrors(t *testing.T) {
	svc := &fakeService{meta: map[string]*tracker.Metadata{"m1": tracker.NewMetadata()}}
	server := newTestServer(t, svc, nil)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"invalid JSON", `{not json`, http.StatusBadRequest},
		{"missing uuid", `{"key":"name","value":"x"}`, http.StatusBadRequest},
		{"missing key", `{"uuid":"m1","value":"x"}`, http.StatusBadRequest},
		{"unknown map", `{"uuid":"ghost","key":"name","value":"x"}`, http.StatusNotFound},
		{"oversized value", `{"uuid":"m1","key":"name","value":"` + strings.Repeat("x", tracker.MaxMetadataValueLen+1) + `"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/maps/metadata", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			server.mapMetadata(w, req)
			testutil.AssertStatusCode(t, w.Code, tt.status)
		})
	}
}

func TestDeleteMap(t *testing.T) {
	svc := &fakeService{meta: map[string]*tracker.Metadata{"m1": tracker.NewMetadata()}}
	server := newTestServer(t, svc, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/maps/delete?uuid=m1", nil)
	w := httptest.NewRecorder()
	server.deleteMap(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var resp map[string]string
	testutil.DecodeJSONBody(t, w, &resp)
	if resp["deleted"] != "m1" {
		t.Errorf("deleted = %q, want m1", resp["deleted"])
	}
	if svc.deleteCalls != 1 {
		t.Errorf("deleteCalls = %d, want 1", svc.deleteCalls)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/maps/delete", nil)
	w = httptest.NewRecorder()
	server.deleteMap(w, req)
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
}

func TestResetSession(t *testing.T) {
	svc := &fakeService{}
	server := newTestServer(t, svc, nil)
	server.ingestor.OnPose(validPose(tracker.AreaToDevice, 5.0))
	server.ingestor.OnEvent(tracker.Event{Type: tracker.EventService, Key: "k", Value: "v"})

	req := httptest.NewRequest(http.MethodPost, "/api/session/reset", nil)
	w := httptest.NewRecorder()
	server.resetSession(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	if svc.resetCalls != 1 {
		t.Errorf("resetCalls = %d, want 1", svc.resetCalls)
	}

	snapshot := server.ingestor.Poses().Snapshot()
	if snapshot.Relocalized {
		t.Error("relocalization flag should be cleared")
	}
	if snapshot.AreaToDevice.Seen {
		t.Error("pose samples should be cleared")
	}
	if _, seen := server.ingestor.Events().Latest(); seen {
		t.Error("event store should be cleared")
	}
}

func TestResetSession_ServiceError(t *testing.T) {
	svc := &fakeService{resetErr: tracker.ErrServiceUnavailable}
	server := newTestServer(t, svc, nil)
	server.ingestor.OnPose(validPose(tracker.AreaToDevice, 5.0))

	req := httptest.NewRequest(http.MethodPost, "/api/session/reset", nil)
	w := httptest.NewRecorder()
	server.resetSession(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusInternalServerError)
	// A failed module reset must not silently clear local state.
	if !server.ingestor.Poses().Snapshot().Relocalized {
		t.Error("pose store should be untouched after a failed reset")
	}
}

func TestShowProgress(t *testing.T) {
	server := newTestServer(t, &fakeService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/progress", nil)
	w := httptest.NewRecorder()
	server.showProgress(w, req)

	var resp struct {
		Percent int  `json:"percent"`
		Seen    bool `json:"seen"`
	}
	testutil.DecodeJSONBody(t, w, &resp)
	if resp.Seen {
		t.Error("expected seen false before any report")
	}

	server.reporter.Report(55)

	w = httptest.NewRecorder()
	server.showProgress(w, httptest.NewRequest(http.MethodGet, "/api/progress", nil))
	testutil.DecodeJSONBody(t, w, &resp)
	if !resp.Seen || resp.Percent != 55 {
		t.Errorf("got percent=%d seen=%v, want 55/true", resp.Percent, resp.Seen)
	}
}

func TestStreamProgress(t *testing.T) {
	server := newTestServer(t, &fakeService{}, nil)
	server.reporter.Report(10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/progress/stream", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		server.streamProgress(w, req)
		close(done)
	}()

	waitFor(t, func() bool { return server.reporter.Subscribers() == 1 })

	// The buffered update is drained before the subscriber channel reports
	// closed, so Close after Report is a deterministic shutdown.
	server.reporter.Report(25)
	server.reporter.Close()
	<-done

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, ": ping\n\n") {
		t.Error("missing initial ping")
	}
	if !strings.Contains(body, "data: {\"percent\":10}\n\n") {
		t.Error("missing seeded last value")
	}
	if !strings.Contains(body, "data: {\"percent\":25}\n\n") {
		t.Error("missing streamed update")
	}
}

func TestListSessions(t *testing.T) {
	store := newJournalStore(t)
	server := newTestServer(t, &fakeService{}, store)

	for _, id := range []string{"sess-1", "sess-2"} {
		if err := store.StartSession(journal.SessionRecord{SessionID: id, StartedAt: time.Now()}); err != nil {
			t.Fatalf("StartSession: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	w := httptest.NewRecorder()
	server.listSessions(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var resp struct {
		Current  string                  `json:"current"`
		Sessions []journal.SessionRecord `json:"sessions"`
	}
	testutil.DecodeJSONBody(t, w, &resp)
	if resp.Current != testSessionID {
		t.Errorf("current = %q, want %s", resp.Current, testSessionID)
	}
	if len(resp.Sessions) != 2 {
		t.Errorf("sessions = %d, want 2", len(resp.Sessions))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/sessions?limit=zero", nil)
	w = httptest.NewRecorder()
	server.listSessions(w, req)
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
}

func TestListSessions_NoJournal(t *testing.T) {
	server := newTestServer(t, &fakeService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	w := httptest.NewRecorder()
	server.listSessions(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusServiceUnavailable)
}

func TestListSessionPoses(t *testing.T) {
	store := newJournalStore(t)
	server := newTestServer(t, &fakeService{}, store)

	if err := store.StartSession(journal.SessionRecord{SessionID: testSessionID, StartedAt: time.Now()}); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := store.RecordPose(testSessionID, validPose(tracker.StartToDevice, float64(i))); err != nil {
			t.Fatalf("RecordPose: %v", err)
		}
	}

	// No session param defaults to the current session.
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/poses", nil)
	w := httptest.NewRecorder()
	server.listSessionPoses(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var resp struct {
		Session string            `json:"session"`
		Poses   []journal.PoseRow `json:"poses"`
	}
	testutil.DecodeJSONBody(t, w, &resp)
	if resp.Session != testSessionID {
		t.Errorf("session = %q, want %s", resp.Session, testSessionID)
	}
	if len(resp.Poses) != 3 {
		t.Errorf("poses = %d, want 3", len(resp.Poses))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/sessions/poses?pair=bogus", nil)
	w = httptest.NewRecorder()
	server.listSessionPoses(w, req)
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)

	req = httptest.NewRequest(http.MethodGet, "/api/sessions/poses?limit=-1", nil)
	w = httptest.NewRecorder()
	server.listSessionPoses(w, req)
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
}

func TestServeMuxRoutes(t *testing.T) {
	server := newTestServer(t, &fakeService{}, nil)
	mux := server.ServeMux()

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
}
