// Package monitoring carries the process-wide diagnostic logger.
package monitoring

import "log"

// Logf is the shared diagnostic logger for components whose output tests need
// to capture or mute. It defaults to log.Printf and may be swapped with
// SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
