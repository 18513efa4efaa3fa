// Package version carries build metadata set through -ldflags -X.
package version

import (
	"time"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/httpapi"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// Info returns the build metadata in the form served on /info.
func Info() httpapi.BuildInfo {
	build := httpapi.BuildInfo{Version: Version, Revision: Commit}
	if BuildTime != "" && BuildTime != "unknown" {
		if t, err := time.Parse(time.RFC3339, BuildTime); err == nil {
			build.BuiltAt = t
		}
	}
	return build
}
