package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/viper"

	"github.com/meridian-robotics/areatrack/internal/httputil"
)

// apiClient talks to a running areatrackd daemon. Quick calls carry a
// per-request timeout from the config; SaveMap takes the caller's context
// because a save legitimately runs for minutes.
type apiClient struct {
	httpc httputil.HTTPClient
	base  string
}

func newAPIClient(httpc httputil.HTTPClient) *apiClient {
	if httpc == nil {
		httpc = httputil.NewStandardClient(&http.Client{})
	}
	base := viper.GetString("server")
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return &apiClient{httpc: httpc, base: base}
}

func (c *apiClient) endpoint(path string, query url.Values) string {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *apiClient) requestTimeout() time.Duration {
	if d := viper.GetDuration("timeout"); d > 0 {
		return d
	}
	return 10 * time.Second
}

func (c *apiClient) do(method, path string, query url.Values, body []byte, v interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout())
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("contacting daemon: %w", err)
	}
	return httputil.ReadJSON(resp, v)
}

type statusReply struct {
	SessionID       string  `json:"session_id"`
	StartedAt       string  `json:"started_at"`
	UptimeSeconds   int64   `json:"uptime_seconds"`
	ModuleVersion   string  `json:"module_version"`
	MapState        string  `json:"map_state"`
	ActiveMap       string  `json:"active_map"`
	LastSavedMap    string  `json:"last_saved_map"`
	Relocalized     bool    `json:"relocalized"`
	IgnoredPoses    uint64  `json:"ignored_poses"`
	MalformedEvents uint64  `json:"malformed_events"`
	TapDrops        uint64  `json:"tap_drops"`
	ProgressDrops   uint64  `json:"progress_drops"`
	JournalDrops    *uint64 `json:"journal_drops,omitempty"`
	SaveProgress    *int    `json:"save_progress,omitempty"`
	MapCount        *int    `json:"map_count,omitempty"`
}

func (c *apiClient) Status() (*statusReply, error) {
	var reply statusReply
	if err := c.do(http.MethodGet, "/api/status", nil, nil, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

type poseSample struct {
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

type poseReply struct {
	Relocalized bool                  `json:"relocalized"`
	Poses       map[string]poseSample `json:"poses"`
}

func (c *apiClient) Poses(pair string) (*poseReply, error) {
	query := url.Values{}
	if pair != "" {
		query.Set("pair", pair)
	}
	var reply poseReply
	if err := c.do(http.MethodGet, "/api/pose", query, nil, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

type mapEntry struct {
	UUID     string            `json:"uuid"`
	Name     string            `json:"name,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type mapsReply struct {
	Count int        `json:"count"`
	Maps  []mapEntry `json:"maps"`
}

func (c *apiClient) ListMaps() (*mapsReply, error) {
	var reply mapsReply
	if err := c.do(http.MethodGet, "/api/maps", nil, nil, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// SaveMap asks the daemon to persist the current area description and
// returns the new uuid. No timeout: progress is observable on the watch
// stream while this blocks.
func (c *apiClient) SaveMap(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/maps/save", nil), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("contacting daemon: %w", err)
	}
	var reply struct {
		UUID string `json:"uuid"`
	}
	if err := httputil.ReadJSON(resp, &reply); err != nil {
		return "", err
	}
	return reply.UUID, nil
}

func (c *apiClient) MetadataValue(uuid, key string) (string, error) {
	query := url.Values{}
	query.Set("uuid", uuid)
	query.Set("key", key)
	var reply struct {
		Value string `json:"value"`
	}
	if err := c.do(http.MethodGet, "/api/maps/metadata", query, nil, &reply); err != nil {
		return "", err
	}
	return reply.Value, nil
}

func (c *apiClient) Metadata(uuid string) (map[string]string, error) {
	query := url.Values{}
	query.Set("uuid", uuid)
	var reply struct {
		Metadata map[string]string `json:"metadata"`
	}
	if err := c.do(http.MethodGet, "/api/maps/metadata", query, nil, &reply); err != nil {
		return nil, err
	}
	return reply.Metadata, nil
}

type metadataEdit struct {
	UUID  string `json:"uuid"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (c *apiClient) SetMetadata(uuid, key, value string) error {
	payload, err := json.Marshal(metadataEdit{UUID: uuid, Key: key, Value: value})
	if err != nil {
		return err
	}
	return c.do(http.MethodPost, "/api/maps/metadata", nil, payload, nil)
}

func (c *apiClient) DeleteMap(uuid string) error {
	query := url.Values{}
	query.Set("uuid", uuid)
	return c.do(http.MethodDelete, "/api/maps/delete", query, nil, nil)
}

func (c *apiClient) ResetSession() error {
	return c.do(http.MethodPost, "/api/session/reset", nil, nil, nil)
}

type progressReply struct {
	Percent int    `json:"percent"`
	Seen    bool   `json:"seen"`
	Dropped uint64 `json:"dropped"`
}

func (c *apiClient) Progress() (*progressReply, error) {
	var reply progressReply
	if err := c.do(http.MethodGet, "/api/progress", nil, nil, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

type sessionRow struct {
	SessionID     string     `json:"session_id"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	Learning      bool       `json:"learning"`
	LoadedUUID    string     `json:"loaded_uuid,omitempty"`
	ModuleVersion string     `json:"module_version,omitempty"`
}

type sessionsReply struct {
	Current  string       `json:"current"`
	Sessions []sessionRow `json:"sessions"`
}

func (c *apiClient) Sessions(limit int) (*sessionsReply, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}
	var reply sessionsReply
	if err := c.do(http.MethodGet, "/api/sessions", query, nil, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}
