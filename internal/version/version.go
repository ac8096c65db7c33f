// Package version carries the engine version identifiers.
package version

// Data is the version of the data-build pipeline itself. It feeds
// into every context hash and is recorded in the build index, so
// changing it invalidates all build indexes and all cached
// compilation results.
const Data = "0.3.0"

// Set at build time via -ldflags.
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)
