// Package adf orchestrates the area-description lifecycle: listing the
// module's stored maps, choosing one at startup, saving, annotating and
// deleting them. The module's store is the only durable copy; nothing here
// caches catalog or metadata state.
package adf

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/meridian-robotics/areatrack/internal/monitoring"
	"github.com/meridian-robotics/areatrack/internal/tracker"
)

// MetadataKeyName is the conventional metadata key carrying a map's
// human-readable name.
const MetadataKeyName = "name"

// MapState describes the session's relationship to its area description.
type MapState int

const (
	// MapUnselected means no session is active.
	MapUnselected MapState = iota
	// MapLoading means a startup map was selected and the device has not yet
	// relocalized against it.
	MapLoading
	// MapActive means the session is tracking (with or without a loaded map).
	MapActive
	// MapSaving means a save is in flight.
	MapSaving
	// MapSaved means the last save completed; LastSavedUUID carries its uuid.
	MapSaved
)

func (s MapState) String() string {
	switch s {
	case MapUnselected:
		return "unselected"
	case MapLoading:
		return "loading"
	case MapActive:
		return "active"
	case MapSaving:
		return "saving"
	case MapSaved:
		return "saved"
	default:
		return "unknown"
	}
}

// RelocalizationSource answers whether the device has relocalized this
// session. The pose store provides it.
type RelocalizationSource interface {
	IsRelocalized() bool
}

// Sink receives lifecycle outcomes worth recording durably. Implementations
// must not block; the journal recorder provides one.
type Sink interface {
	MapSaved(uuid string)
	MetadataEdited(uuid, key, value string)
}

// CatalogEntry is one stored area description with its metadata, as listed by
// DescribeCatalog.
type CatalogEntry struct {
	UUID     string            `json:"uuid"`
	Name     string            `json:"name,omitempty"`
	Metadata *tracker.Metadata `json:"metadata,omitempty"`
}

// Manager drives map lifecycle operations against the tracking service.
//
// Operations are not serialized against each other; the caller is expected
// to issue map operations one at a time (they are rare and user-initiated).
// The state accessors are safe to read concurrently with an operation in
// flight.
type Manager struct {
	mu            sync.RWMutex
	state         MapState
	activeUUID    string
	lastSavedUUID string

	service tracker.Service
	reloc   RelocalizationSource
	sink    Sink
}

// NewManager returns a manager over service. reloc gates Save; sink may be
// nil to disable durable recording.
func NewManager(service tracker.Service, reloc RelocalizationSource, sink Sink) *Manager {
	return &Manager{
		service: service,
		reloc:   reloc,
		sink:    sink,
	}
}

// ParseUUIDList splits a comma-separated uuid blob into its tokens,
// discarding empty ones. The store's order is preserved; tokens are opaque
// and are not trimmed or validated beyond non-emptiness.
func ParseUUIDList(blob string) []string {
	uuids := []string{}
	for _, tok := range strings.Split(blob, ",") {
		if tok == "" {
			continue
		}
		uuids = append(uuids, tok)
	}
	return uuids
}

// SelectStartupMap picks the map to load at session start: the last entry of
// the store's listing order, which the store keeps most-recently-saved-last.
// ok is false for an empty catalog.
func SelectStartupMap(uuids []string) (uuid string, ok bool) {
	if len(uuids) == 0 {
		return "", false
	}
	return uuids[len(uuids)-1], true
}

// ListUuids queries the store's catalog. A store failure is reported as
// ErrCatalogUnavailable; an empty catalog is an empty slice.
func (m *Manager) ListUuids(ctx context.Context) ([]string, error) {
	blob, err := m.service.ListMapUuids(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	return ParseUUIDList(blob), nil
}

// DescribeCatalog lists the catalog and fetches each map's metadata. A map
// whose metadata cannot be fetched is listed with none rather than dropping
// the whole catalog.
func (m *Manager) DescribeCatalog(ctx context.Context) ([]CatalogEntry, error) {
	uuids, err := m.ListUuids(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]CatalogEntry, 0, len(uuids))
	for _, uuid := range uuids {
		entry := CatalogEntry{UUID: uuid}
		meta, err := m.service.GetMapMetadata(ctx, uuid)
		if err != nil {
			monitoring.Logf("[MapLifecycle] metadata fetch for %s failed: %v", uuid, err)
		} else {
			entry.Metadata = meta
			if name, ok := meta.Get(MetadataKeyName); ok {
				entry.Name = name
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// BeginSession records the session's starting map relationship: Loading when
// a startup map was selected, Active otherwise.
func (m *Manager) BeginSession(loadUUID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeUUID = loadUUID
	if loadUUID != "" {
		m.state = MapLoading
	} else {
		m.state = MapActive
	}
}

// EndSession returns the manager to the unselected state.
func (m *Manager) EndSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = MapUnselected
	m.activeUUID = ""
}

// State returns the current map state. A Loading session reads as Active
// once the device has relocalized; load success is only observable through
// relocalization, the store gives no confirmation.
func (m *Manager) State() MapState {
	m.mu.RLock()
	state := m.state
	m.mu.RUnlock()
	if state == MapLoading && m.reloc != nil && m.reloc.IsRelocalized() {
		return MapActive
	}
	return state
}

// ActiveUUID returns the startup map's uuid, if one was selected.
func (m *Manager) ActiveUUID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeUUID
}

// LastSavedUUID returns the uuid of the most recent successful save.
func (m *Manager) LastSavedUUID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSavedUUID
}

// Save persists the current area description and returns its new uuid.
//
// Saving requires a relocalized device; without one the store is never
// contacted, avoiding degenerate maps. The call blocks for the store-defined
// save duration; interim progress arrives out of band through the
// save-progress event path. There is no cancellation beyond ctx.
func (m *Manager) Save(ctx context.Context) (string, error) {
	if m.reloc == nil || !m.reloc.IsRelocalized() {
		return "", ErrNotRelocalized
	}

	m.mu.Lock()
	prev := m.state
	m.state = MapSaving
	m.mu.Unlock()

	uuid, err := m.service.SaveMap(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.state = prev
		return "", err
	}
	m.state = MapSaved
	m.lastSavedUUID = uuid
	monitoring.Logf("[MapLifecycle] saved area description %s", uuid)
	if m.sink != nil {
		m.sink.MapSaved(uuid)
	}
	return uuid, nil
}

// GetMetadata reads one metadata value. Two phases, independently fallible:
// resolving the handle for uuid, then looking up key in it. A resolution
// failure never attempts the lookup.
func (m *Manager) GetMetadata(ctx context.Context, uuid, key string) (string, error) {
	meta, err := m.service.GetMapMetadata(ctx, uuid)
	if err != nil {
		return "", err
	}
	value, ok := meta.Get(key)
	if !ok {
		return "", fmt.Errorf("%w: %q on %s", ErrKeyNotFound, key, uuid)
	}
	return value, nil
}

// SetMetadata writes one metadata value through the full fetch, mutate,
// persist sequence. Each phase aborts the rest on failure; a persist failure
// loses the in-memory mutation, so the store never holds a partial write.
func (m *Manager) SetMetadata(ctx context.Context, uuid, key, value string) error {
	meta, err := m.service.GetMapMetadata(ctx, uuid)
	if err != nil {
		return err
	}
	if err := meta.Set(key, value); err != nil {
		return fmt.Errorf("%w: %v", ErrMetaWriteRejected, err)
	}
	if err := m.service.PersistMapMetadata(ctx, uuid, meta); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	if m.sink != nil {
		m.sink.MetadataEdited(uuid, key, value)
	}
	return nil
}

// Delete asks the store to remove uuid. Best effort: the store sends no
// confirmation, so a failure is logged rather than surfaced.
func (m *Manager) Delete(ctx context.Context, uuid string) {
	if err := m.service.DeleteMap(ctx, uuid); err != nil {
		monitoring.Logf("[MapLifecycle] delete of %s not confirmed: %v", uuid, err)
	}
}
