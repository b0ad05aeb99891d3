package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/meridian-robotics/areatrack/internal/httputil"
)

func TestDecodeJSONBody(t *testing.T) {
	rec := httptest.NewRecorder()
	httputil.WriteJSONOK(rec, map[string]int{"percent": 60})

	var resp map[string]int
	DecodeJSONBody(t, rec, &resp)
	if resp["percent"] != 60 {
		t.Errorf("percent = %d, want 60", resp["percent"])
	}
}

func TestErrorMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	httputil.BadRequest(rec, "missing uuid")

	if msg := ErrorMessage(t, rec); msg != "missing uuid" {
		t.Errorf("ErrorMessage = %q, want 'missing uuid'", msg)
	}
}

func TestAssertStatusCode(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.WriteHeader(http.StatusTeapot)
	AssertStatusCode(t, rec.Code, http.StatusTeapot)
}
