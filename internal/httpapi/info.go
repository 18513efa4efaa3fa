package httpapi

import (
	"net/http"
	"runtime"
	"time"
)

// BuildInfo describes the compiled binary.
type BuildInfo struct {
	Version  string
	Revision string
	BuiltAt  time.Time
}

type infoResponse struct {
	Version       string `json:"version"`
	Revision      string `json:"rev"`
	BuiltAt       string `json:"built_at,omitempty"`
	Go            string `json:"go"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	StreamClients int    `json:"stream_clients"`
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	clients := len(s.clients)
	s.mu.Unlock()

	resp := infoResponse{
		Version:       s.opts.Build.Version,
		Revision:      s.opts.Build.Revision,
		Go:            runtime.Version(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		StreamClients: clients,
	}
	if !s.opts.Build.BuiltAt.IsZero() {
		resp.BuiltAt = s.opts.Build.BuiltAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}
