package api

import (
	"database/sql"
	"net/http"
	"runtime"
	"time"
)

// StatsSource reports connection pool statistics. *sql.DB satisfies it.
type StatsSource interface {
	Stats() sql.DBStats
}

// ConnectionChecker reports whether a broker connection is up.
// *mqtt.Client and *influxdb.Client satisfy it.
type ConnectionChecker interface {
	IsConnected() bool
}

// SystemMetrics is the /metrics document. It carries no tenant data.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	Stream        StreamMetrics  `json:"stream"`
	Store         StoreMetrics   `json:"store"`

	// Links maps each configured outbound link (mqtt, influxdb) to whether
	// it is connected. Disabled links are absent.
	Links map[string]bool `json:"links,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines int     `json:"goroutines"`
	HeapMB     float64 `json:"heap_mb"`
	NumGC      uint32  `json:"num_gc"`
}

// StreamMetrics describes the live event stream.
type StreamMetrics struct {
	Clients int `json:"clients"`
	Tenants int `json:"tenants"`
}

// StoreMetrics is the SQLite pool state. With a single connection, a
// growing WaitCount means units of work are queueing behind each other.
type StoreMetrics struct {
	Open       int   `json:"open"`
	InUse      int   `json:"in_use"`
	WaitCount  int64 `json:"wait_count"`
	WaitMillis int64 `json:"wait_ms"`
}

func (s *Server) collectMetrics() SystemMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines: runtime.NumGoroutine(),
			HeapMB:     float64(mem.HeapAlloc) / (1 << 20),
			NumGC:      mem.NumGC,
		},
		Stream: StreamMetrics{
			Clients: s.hub.ClientCount(),
			Tenants: s.hub.TenantCount(),
		},
	}

	if s.db != nil {
		st := s.db.Stats()
		m.Store = StoreMetrics{
			Open:       st.OpenConnections,
			InUse:      st.InUse,
			WaitCount:  st.WaitCount,
			WaitMillis: st.WaitDuration.Milliseconds(),
		}
	}

	links := map[string]ConnectionChecker{"mqtt": s.mqtt, "influxdb": s.influx}
	for name, link := range links {
		if link == nil {
			continue
		}
		if m.Links == nil {
			m.Links = make(map[string]bool, len(links))
		}
		m.Links[name] = link.IsConnected()
	}
	return m
}

// handleMetrics returns process, store and link state. It needs no token.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.collectMetrics())
}
