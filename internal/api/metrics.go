package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/devio-core/internal/device"
	"github.com/nerrad567/devio-core/internal/telemetry"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string               `json:"timestamp"`
	Version       string               `json:"version"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	Runtime       RuntimeMetrics       `json:"runtime"`
	WebSocket     WSMetrics            `json:"websocket"`
	Devices       device.RegistryStats `json:"devices"`
	Telemetry     *telemetry.Counters  `json:"telemetry,omitempty"`
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

// handleMetrics returns runtime, registry, and telemetry counters.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount()},
		Devices:   s.registry.Stats(),
	}
	if s.telemetry != nil {
		c := s.telemetry.Counters()
		metrics.Telemetry = &c
	}

	writeJSON(w, http.StatusOK, metrics)
}
