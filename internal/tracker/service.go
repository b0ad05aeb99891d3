package tracker

import (
	"context"
	"errors"
	"fmt"
)

// ErrServiceUnavailable indicates the tracking module cannot be reached or is
// not in a state to serve the request.
var ErrServiceUnavailable = errors.New("tracking service unavailable")

// ErrUnknownMap indicates the module's store has no area description for the
// requested uuid.
var ErrUnknownMap = errors.New("unknown area description")

// StoreRejectedError carries the module store's failure code for a rejected
// save or persist request.
type StoreRejectedError struct {
	Code int
}

func (e *StoreRejectedError) Error() string {
	return fmt.Sprintf("area description store rejected request (code %d)", e.Code)
}

// Listener receives the module's asynchronous callbacks. Implementations must
// return quickly: callbacks are delivered on the module link's read loop.
type Listener interface {
	OnPose(Pose)
	OnEvent(Event)
}

// ConnectOptions configures a tracking session at connect time.
type ConnectOptions struct {
	// LearningMode asks the module to extend the loaded area description (or
	// build a new one) while tracking.
	LearningMode bool
	// LoadMapUUID, when set, asks the module to load this area description
	// and relocalize against it.
	LoadMapUUID string
	// FramePairs names the relationships the module should stream. Empty
	// means all three.
	FramePairs []FramePair
}

// Service is the boundary with the spatial tracking module. Implementations
// deliver poses and events to the registered listener from their own
// goroutine. The storage primitives are synchronous and impose no timeouts
// of their own; cancellation is the caller's ctx.
type Service interface {
	// Initialize prepares the module for a session (handshake, version probe).
	Initialize(ctx context.Context) error
	// RegisterListener binds the callback receiver for this session. A single
	// listener is supported; registering again replaces it.
	RegisterListener(l Listener)
	// Connect starts pose/event streaming with the given session options.
	Connect(ctx context.Context, opts ConnectOptions) error
	// Disconnect stops streaming. The module keeps its stored maps.
	Disconnect(ctx context.Context) error
	// ResetTracking clears the module's motion estimate for this session.
	ResetTracking(ctx context.Context) error
	// Shutdown releases the module link. The Service is unusable afterwards.
	Shutdown(ctx context.Context) error

	// ServiceVersion reports the module's firmware/library version string.
	ServiceVersion(ctx context.Context) (string, error)

	// ListMapUuids returns the module's area description catalog as a
	// comma-separated uuid blob, in the store's own order.
	ListMapUuids(ctx context.Context) (string, error)
	// SaveMap persists the current area description and returns its new uuid.
	// Long-running; interim progress arrives as save-progress events.
	SaveMap(ctx context.Context) (string, error)
	// GetMapMetadata fetches the metadata handle for uuid.
	GetMapMetadata(ctx context.Context, uuid string) (*Metadata, error)
	// PersistMapMetadata writes a mutated handle back to the module's store.
	PersistMapMetadata(ctx context.Context, uuid string, meta *Metadata) error
	// DeleteMap removes uuid from the module's store.
	DeleteMap(ctx context.Context, uuid string) error
}
