package trackermux

import (
	"context"
	"net/http"

	"github.com/meridian-robotics/areatrack/internal/tracker"
)

// DisabledService is a no-op tracker.Service used when the tracking module
// is absent (-port ""). The daemon and its HTTP surface run normally; every
// module operation reports ErrServiceUnavailable so callers see a clean 503
// rather than a hang.
type DisabledService struct{}

var _ MuxInterface = DisabledService{}

func NewDisabledService() DisabledService { return DisabledService{} }

func (DisabledService) Initialize(context.Context) error { return nil }

func (DisabledService) RegisterListener(tracker.Listener) {}

func (DisabledService) Connect(context.Context, tracker.ConnectOptions) error {
	return tracker.ErrServiceUnavailable
}

func (DisabledService) Disconnect(context.Context) error { return nil }

func (DisabledService) ResetTracking(context.Context) error {
	return tracker.ErrServiceUnavailable
}

func (DisabledService) Shutdown(context.Context) error { return nil }

func (DisabledService) ServiceVersion(context.Context) (string, error) {
	return "", tracker.ErrServiceUnavailable
}

func (DisabledService) ListMapUuids(context.Context) (string, error) {
	return "", tracker.ErrServiceUnavailable
}

func (DisabledService) SaveMap(context.Context) (string, error) {
	return "", tracker.ErrServiceUnavailable
}

func (DisabledService) GetMapMetadata(context.Context, string) (*tracker.Metadata, error) {
	return nil, tracker.ErrServiceUnavailable
}

func (DisabledService) PersistMapMetadata(context.Context, string, *tracker.Metadata) error {
	return tracker.ErrServiceUnavailable
}

func (DisabledService) DeleteMap(context.Context, string) error {
	return tracker.ErrServiceUnavailable
}

// Monitor blocks until ctx is cancelled, mirroring a live link with no
// traffic.
func (DisabledService) Monitor(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (DisabledService) BadLines() uint64 { return 0 }

func (DisabledService) Close() error { return nil }

func (DisabledService) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/tracker-disabled", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("tracker link disabled"))
	})
}
