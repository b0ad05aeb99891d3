package journal

import (
	"strings"
	"time"
)

const maxBusyRetries = 5

// isSQLiteBusy reports whether err is a transient sqlite lock error.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// retryOnBusy runs fn, retrying with exponential backoff while it returns a
// busy error. Non-busy errors are returned immediately.
func retryOnBusy(fn func() error) error {
	backoff := 10 * time.Millisecond
	var err error
	for attempt := 0; attempt < maxBusyRetries; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt < maxBusyRetries-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return err
}
