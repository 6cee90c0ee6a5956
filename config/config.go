package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Transport
	StreamURL string

	// Retry state machine
	BaseDelayMs int
	MaxDelayMs  int
	MaxAttempts int

	// Buffer
	Capacity int

	// Indicators
	MAPeriods     string // comma-separated, e.g. "5,10,20"
	MACDPeriods   string // "fast,slow,signal", e.g. "12,26,9"
	KDJPeriod     int
	PrimarySeries string
	HighSeries    string
	LowSeries     string

	// Declared packet layout: "group:series,series;group:series,..."
	SeriesGroups string

	// Infrastructure
	SQLitePath    string
	RetentionMs   int64
	RedisAddr     string
	RedisPassword string
	MetricsAddr   string
	LogLevel      string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		StreamURL: mustEnv("STREAM_WS_URL"),

		BaseDelayMs: getInt("BASE_DELAY_MS", 1000),
		MaxDelayMs:  getInt("MAX_DELAY_MS", 30000),
		MaxAttempts: getInt("MAX_ATTEMPTS", 10),

		Capacity: getInt("CAPACITY", 1000),

		MAPeriods:     getEnv("MA_PERIODS", "5,10,20"),
		MACDPeriods:   getEnv("MACD_PERIODS", "12,26,9"),
		KDJPeriod:     getInt("KDJ_PERIOD", 9),
		PrimarySeries: getEnv("PRIMARY_SERIES", "price"),
		HighSeries:    getEnv("HIGH_SERIES", "high"),
		LowSeries:     getEnv("LOW_SERIES", "low"),

		SeriesGroups: getEnv("SERIES_GROUPS",
			"trade:price,volume,high,low;depth:bid,ask,bidVolume,askVolume"),

		SQLitePath:    getEnv("SQLITE_PATH", "data/points.db"),
		RetentionMs:   int64(getInt("RETENTION_MS", 24*3600*1000)),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}
}

// ParseMAPeriods parses the MAPeriods string into a slice of periods.
func (c *Config) ParseMAPeriods() []int {
	parts := strings.Split(c.MAPeriods, ",")
	periods := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			log.Printf("[config] skipping invalid MA period: %q", p)
			continue
		}
		periods = append(periods, n)
	}
	return periods
}

// ParseMACDPeriods parses "fast,slow,signal". Missing or invalid entries
// fall back to 12/26/9.
func (c *Config) ParseMACDPeriods() (fast, slow, signal int) {
	fast, slow, signal = 12, 26, 9
	parts := strings.Split(c.MACDPeriods, ",")
	vals := make([]int, 0, 3)
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n <= 0 {
			log.Printf("[config] skipping invalid MACD period: %q", p)
			continue
		}
		vals = append(vals, n)
	}
	if len(vals) == 3 {
		fast, slow, signal = vals[0], vals[1], vals[2]
	}
	return fast, slow, signal
}

// ParseSeriesGroups parses the declared group layout into a map of
// group name to expected series names.
func (c *Config) ParseSeriesGroups() map[string][]string {
	groups := make(map[string][]string)
	for _, g := range strings.Split(c.SeriesGroups, ";") {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		name, list, ok := strings.Cut(g, ":")
		if !ok {
			log.Printf("[config] skipping invalid group declaration: %q", g)
			continue
		}
		var series []string
		for _, s := range strings.Split(list, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				series = append(series, s)
			}
		}
		if len(series) == 0 {
			log.Printf("[config] group %q declares no series, skipping", name)
			continue
		}
		groups[strings.TrimSpace(name)] = series
	}
	return groups
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}
