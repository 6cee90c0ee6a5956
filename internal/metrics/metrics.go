// Package metrics exposes Prometheus metrics and a /healthz endpoint for
// the streaming pipeline.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	PacketsTotal        prometheus.Counter
	InvalidPacketsTotal prometheus.Counter
	PointsTotal         prometheus.Counter
	Reconnects          prometheus.Counter
	ConnState           prometheus.Gauge // conn.State as a number
	CyclesDroppedTotal  prometheus.Counter
	ComputeDur          prometheus.Histogram
	PersistErrorsTotal  prometheus.Counter
	PersistDropsTotal   prometheus.Counter
	PublishErrorsTotal  prometheus.Counter
}

// NewMetrics registers and returns all pipeline metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		PacketsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamd_packets_total",
			Help: "Valid packets received from the transport",
		}),
		InvalidPacketsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamd_invalid_packets_total",
			Help: "Malformed packets discarded during validation",
		}),
		PointsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamd_points_total",
			Help: "Series points appended to the buffer",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamd_reconnects_total",
			Help: "Automatic reconnection attempts",
		}),
		ConnState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamd_conn_state",
			Help: "Connection state (0=disconnected 1=connecting 2=connected 3=reconnecting 4=failed)",
		}),
		CyclesDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamd_pipeline_cycles_dropped_total",
			Help: "Update cycles dropped because one was already in flight",
		}),
		ComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamd_cycle_duration_seconds",
			Help:    "Full update cycle latency per packet",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
		PersistErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamd_persist_errors_total",
			Help: "Write-behind persistence failures",
		}),
		PersistDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamd_persist_drops_total",
			Help: "Pending persistence batches evicted from a full queue",
		}),
		PublishErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamd_publish_errors_total",
			Help: "Snapshot publish failures",
		}),
	}

	prometheus.MustRegister(
		m.PacketsTotal,
		m.InvalidPacketsTotal,
		m.PointsTotal,
		m.Reconnects,
		m.ConnState,
		m.CyclesDroppedTotal,
		m.ComputeDur,
		m.PersistErrorsTotal,
		m.PersistDropsTotal,
		m.PublishErrorsTotal,
	)
	return m
}

// HealthStatus represents the pipeline health.
type HealthStatus struct {
	mu sync.RWMutex

	ConnState      string    `json:"conn_state"`
	LastPacketTime time.Time `json:"last_packet_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		ConnState: "disconnected",
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetConnState(s string) {
	h.mu.Lock()
	h.ConnState = s
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastPacketTime(t time.Time) {
	h.mu.Lock()
	h.LastPacketTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if h.ConnState != "connected" || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	packetAge := ""
	if !h.LastPacketTime.IsZero() {
		packetAge = time.Since(h.LastPacketTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		ConnState       string  `json:"conn_state"`
		LastPacketTime  string  `json:"last_packet_time"`
		PacketAge       string  `json:"packet_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		ConnState:       h.ConnState,
		LastPacketTime:  h.LastPacketTime.Format(time.RFC3339),
		PacketAge:       packetAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
