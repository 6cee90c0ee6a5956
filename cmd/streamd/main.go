package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"marketstream/config"
	"marketstream/internal/buffer"
	"marketstream/internal/conn"
	"marketstream/internal/indicator"
	"marketstream/internal/logger"
	"marketstream/internal/metrics"
	"marketstream/internal/model"
	"marketstream/internal/pipeline"
	"marketstream/internal/publish"
	sqlitestore "marketstream/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg := config.Load()
	logg := logger.Init("streamd", logger.ParseLevel(cfg.LogLevel))
	logg.Info("starting", slog.String("stream_url", cfg.StreamURL))

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Persistence (write-behind, off hot path) ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	store, err := sqlitestore.Open(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[streamd] sqlite init failed: %v", err)
	}
	defer store.Close()
	health.SetSQLiteOK(true)

	writeBehind := sqlitestore.NewWriteBehind(store, 256)
	writeBehind.OnError = func(error) { prom.PersistErrorsTotal.Inc() }
	writeBehind.OnDrop = func(int) { prom.PersistDropsTotal.Inc() }
	go writeBehind.Run(ctx)

	// ---- Snapshot publisher (optional renderer sink) ----
	var renderer pipeline.Renderer
	var pub *publish.Publisher
	if cfg.RedisAddr != "" {
		pub, err = publish.New(ctx, publish.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Printf("[streamd] WARNING: redis init failed: %v (continuing without publisher)", err)
		} else {
			pub.OnError = func(error) { prom.PublishErrorsTotal.Inc() }
			renderer = pub
			health.SetRedisConnected(true)
			defer pub.Close()
		}
	}

	// ---- Liveness probes ----
	if pub != nil {
		health.StartLivenessChecker(ctx, pub.Client(), store.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, store.DB(), 10*time.Second)
	}

	// ---- Buffer + indicator engine + coordinator ----
	buf := buffer.New(cfg.Capacity)
	fast, slow, signalPeriod := cfg.ParseMACDPeriods()
	eng := indicator.NewEngine(indicator.Config{
		MAPeriods:     cfg.ParseMAPeriods(),
		MACD:          indicator.MACDPeriods{Fast: fast, Slow: slow, Signal: signalPeriod},
		KDJPeriod:     cfg.KDJPeriod,
		PrimarySeries: cfg.PrimarySeries,
		HighSeries:    cfg.HighSeries,
		LowSeries:     cfg.LowSeries,
	})

	coord := pipeline.New(buf, eng, renderer, writeBehind)
	coord.OnDroppedCycle = func() { prom.CyclesDroppedTotal.Inc() }
	coord.OnCycle = func(d time.Duration) { prom.ComputeDur.Observe(d.Seconds()) }

	// ---- Session resume: warm the buffer from stored history ----
	preload(ctx, store, buf, cfg.RetentionMs)

	// ---- Connection manager ----
	groups := cfg.ParseSeriesGroups()
	mgr := conn.NewManager(conn.Config{
		BaseDelay:   time.Duration(cfg.BaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.MaxDelayMs) * time.Millisecond,
		MaxAttempts: cfg.MaxAttempts,
	}, conn.NewWSTransport(cfg.StreamURL), conn.NewValidator(groups))

	mgr.OnReconnect = func() { prom.Reconnects.Inc() }
	mgr.OnInvalidPacket = func() { prom.InvalidPacketsTotal.Inc() }
	mgr.OnPacket = func() {
		prom.PacketsTotal.Inc()
		health.SetLastPacketTime(time.Now())
	}

	mgr.Events().OnStatusChanged(func(s conn.State) {
		prom.ConnState.Set(float64(s))
		health.SetConnState(s.String())
	})
	mgr.Events().OnError(func(err error) {
		if errors.Is(err, conn.ErrRetriesExhausted) {
			logg.Error("retry budget exhausted, manual reconnect required",
				slog.String("error", err.Error()))
		}
	})
	mgr.Events().OnData(func(p model.DataPacket) {
		var n int
		for _, series := range p.Groups {
			for _, points := range series {
				n += len(points)
			}
		}
		prom.PointsTotal.Add(float64(n))
		coord.HandlePacket(p)
	})

	mgr.Connect()
	defer mgr.Close()

	// ---- Periodic retention cleanup ----
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().UnixMilli() - cfg.RetentionMs
				count, err := store.Cleanup(ctx, cutoff)
				if err != nil {
					log.Printf("[streamd] cleanup error: %v", err)
					continue
				}
				if count > 0 {
					log.Printf("[streamd] cleanup removed %d stale points", count)
				}
			}
		}
	}()

	log.Printf("[streamd] pipeline ready: capacity=%d groups=%d metrics=%s",
		cfg.Capacity, len(groups), cfg.MetricsAddr)

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[streamd] shutdown signal received, cleaning up...")
	cancel()
	mgr.Close()
	writeBehind.Wait() // flush pending persistence batches

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	log.Println("[streamd] shutdown complete.")
}

// preload restores recent history from the store so charts and indicators
// resume with warm buffers after a restart.
func preload(ctx context.Context, store *sqlitestore.Store, buf *buffer.Store, retentionMs int64) {
	now := time.Now().UnixMilli()
	records, err := store.Query(ctx, now-retentionMs, now)
	if err != nil {
		log.Printf("[streamd] history preload failed: %v", err)
		return
	}
	if len(records) == 0 {
		return
	}

	bySeries := make(map[string][]model.Point)
	for _, r := range records {
		key := model.SeriesKey(r.Group, r.Series)
		bySeries[key] = append(bySeries[key], model.Point{TS: r.TS, Value: r.Value})
	}
	for key, points := range bySeries {
		buf.AppendMany(key, points)
	}
	log.Printf("[streamd] preloaded %d points across %d series", len(records), len(bySeries))
}
