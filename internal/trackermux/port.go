package trackermux

import (
	"io"
	"time"
)

// Porter is the minimal interface for the tracking module's serial link.
// The abstraction keeps the mux testable without module hardware.
type Porter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutPorter extends Porter with a read timeout. Optional; real serial
// ports implement it.
type TimeoutPorter interface {
	Porter
	SetReadTimeout(timeout time.Duration) error
}

// PortFactory opens module links. The indirection lets the daemon swap the
// real serial port for a mock or replay source.
type PortFactory interface {
	Open(path string, opts PortOptions) (Porter, error)
}
