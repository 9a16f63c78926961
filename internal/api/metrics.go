package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-dispatch/internal/command/manager"
	"github.com/nerrad567/gray-logic-dispatch/internal/device"
)

// SystemMetrics is the JSON snapshot returned by GET /api/v1/system.
// Prometheus counters live on /metrics; this view is for operators and panels.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	Devices       device.Stats   `json:"devices"`
	Commands      *manager.Stats `json:"commands,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// handleSystemMetrics returns runtime, stream, device and command statistics.
func (s *Server) handleSystemMetrics(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: bytesToMB(mem.Alloc),
			MemoryTotalMB: bytesToMB(mem.Sys),
			NumGC:         mem.NumGC,
		},
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount()},
		Devices:   s.devices.GetStats(),
	}

	if stats, err := s.commands.Stats(r.Context()); err == nil {
		m.Commands = &stats
	} else {
		s.logger.Warn("command stats unavailable", "error", err)
	}

	writeJSON(w, http.StatusOK, m)
}

func bytesToMB(b uint64) float64 {
	return float64(b) / (1024 * 1024)
}
