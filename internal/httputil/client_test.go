package httputil

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStandardClientAgainstServer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			io.WriteString(w, `{"ok":true}`)
		case http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			w.WriteHeader(http.StatusCreated)
			w.Write(body)
		}
	}))
	defer srv.Close()

	c := NewStandardClient(nil)

	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	var got struct {
		OK bool `json:"ok"`
	}
	if err := ReadJSON(resp, &got); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if !got.OK {
		t.Error("ok = false, want true")
	}

	resp, err = c.Post(srv.URL, "application/json", strings.NewReader(`{"echo":1}`))
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if err := ReadJSON(resp, nil); err != nil {
		t.Errorf("ReadJSON on 201 = %v, want nil", err)
	}
}

func TestReadJSONServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteJSONError(w, http.StatusConflict, "save in progress")
	}))
	defer srv.Close()

	resp, err := NewStandardClient(nil).Get(srv.URL)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	err = ReadJSON(resp, nil)
	if err == nil {
		t.Fatal("expected error for 409 response")
	}
	if !strings.Contains(err.Error(), "save in progress") {
		t.Errorf("error = %q, want it to carry the server message", err)
	}
	if !strings.Contains(err.Error(), "409") {
		t.Errorf("error = %q, want it to name the status", err)
	}
}

func TestReadJSONNonJSONError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "plain text failure", http.StatusInternalServerError)
	}))
	defer srv.Close()

	resp, err := NewStandardClient(nil).Get(srv.URL)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	err = ReadJSON(resp, nil)
	if err == nil || !strings.Contains(err.Error(), "plain text failure") {
		t.Errorf("error = %v, want raw body included", err)
	}
}

func TestMockClientReplaysResponses(t *testing.T) {
	t.Parallel()

	m := NewMockHTTPClient()
	m.AddResponse(http.StatusOK, `{"n":1}`).
		AddResponse(http.StatusNotFound, `{"error":"unknown map"}`)

	resp, err := m.Get("http://daemon/api/status")
	if err != nil {
		t.Fatalf("first Get failed: %v", err)
	}
	var first struct {
		N int `json:"n"`
	}
	if err := ReadJSON(resp, &first); err != nil || first.N != 1 {
		t.Errorf("first response = %+v, %v; want n=1", first, err)
	}

	resp, err = m.Get("http://daemon/api/maps/metadata?uuid=x")
	if err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	if err := ReadJSON(resp, nil); err == nil || !strings.Contains(err.Error(), "unknown map") {
		t.Errorf("second response error = %v, want unknown map", err)
	}

	// Queue exhausted: default 200 empty.
	resp, err = m.Get("http://daemon/api/status")
	if err != nil {
		t.Fatalf("third Get failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("default status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestMockClientTransportError(t *testing.T) {
	t.Parallel()

	m := NewMockHTTPClient()
	m.AddErrorResponse(errors.New("connection refused"))

	if _, err := m.Get("http://daemon/api/status"); err == nil {
		t.Error("expected transport error")
	}
}

func TestMockClientRecordsRequests(t *testing.T) {
	t.Parallel()

	m := NewMockHTTPClient()
	m.Get("http://daemon/api/maps")
	m.Post("http://daemon/api/maps/save", "application/json", strings.NewReader("{}"))

	if m.RequestCount() != 2 {
		t.Fatalf("RequestCount = %d, want 2", m.RequestCount())
	}
	if req := m.GetRequest(0); req == nil || req.URL.Path != "/api/maps" {
		t.Errorf("first request = %v, want /api/maps", req)
	}
	if req := m.GetRequest(1); req == nil || req.Method != http.MethodPost {
		t.Errorf("second request = %v, want POST", req)
	}
	if req := m.GetRequest(1); req.Header.Get("Content-Type") != "application/json" {
		t.Error("Post did not set content type")
	}
	if m.GetRequest(5) != nil {
		t.Error("out-of-range request should be nil")
	}
}
