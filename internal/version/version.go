// Package version exposes build identification set via -ldflags.
package version

var (
	// Version is the daemon release version.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)
