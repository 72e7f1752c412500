package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type KafkaCfg struct {
	Brokers  string
	ClientID string
}

// BrokerList splits the comma separated broker string.
func (k KafkaCfg) BrokerList() []string {
	var out []string
	for p := range strings.SplitSeq(k.Brokers, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type EventsCfg struct {
	Enabled bool
	Topic   string
}

type InvalidationCfg struct {
	Enabled bool
	Driver  string
	Topic   string
	GroupID string
	// number of recent versions remembered per grid key
	DedupeSize int
}

type PopularityCfg struct {
	HotThreshold       float64
	PreFetchThreshold  float64
	AccessCountWeight  float64
	RecencyWeight      float64
	LocationTypeWeight float64
	DecayPerDay        float64
	DecayMinScore      float64
}

type JobsCfg struct {
	Enabled          bool
	CleanupInterval  time.Duration
	DecayInterval    time.Duration
	PrefetchInterval time.Duration
	PrefetchRPS      float64
	// scheduled pre-fetch skips cells refreshed within this window
	PrefetchRecentWindow time.Duration
	// 0 refreshes every hot cell, not only those close to expiry
	PrefetchExpiringDays int
	// 0 disables low-popularity pruning during cleanup
	PruneBelowScore float64
	PruneIdleDays   int
}

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool
	LogSampleN int

	StoreDriver      string
	RedisAddr        string
	RedisPrefix      string
	RecordStoreURL   string
	RecordCollection string
	StoreOpTimeout   time.Duration

	PVGISURL           string
	NASAPowerURL       string
	ProviderTimeout    time.Duration
	ProviderTimeoutOvr map[string]time.Duration

	CacheTTLDays int
	H3Res        int

	Popularity   PopularityCfg
	Jobs         JobsCfg
	Kafka        KafkaCfg
	Events       EventsCfg
	Invalidation InvalidationCfg

	MetricsEnabled bool
	MetricsAddr    string
	MetricsPath    string
}

func FromEnv() Config {
	res := getint("H3_RES", 7)
	if res < 0 || res > 15 {
		res = 7
	}
	ttl := getint("CACHE_TTL_DAYS", 90)
	if ttl <= 0 {
		ttl = 90
	}

	return Config{
		Addr:       getenv("ADDR", ":8090"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		LogSampleN: getint("LOG_SAMPLE_N", 0),

		StoreDriver:      strings.ToLower(getenv("STORE_DRIVER", "memory")),
		RedisAddr:        getenv("REDIS_ADDR", "localhost:6379"),
		RedisPrefix:      getenv("REDIS_PREFIX", "solar"),
		RecordStoreURL:   getenv("RECORD_STORE_URL", "http://localhost:8091"),
		RecordCollection: getenv("RECORD_STORE_COLLECTION", "solar_cache"),
		StoreOpTimeout:   getduration("STORE_OP_TIMEOUT", 2*time.Second),

		PVGISURL:           getenv("PVGIS_URL", "https://re.jrc.ec.europa.eu/api/v5_2"),
		NASAPowerURL:       getenv("NASA_POWER_URL", "https://power.larc.nasa.gov/api/temporal/climatology/point"),
		ProviderTimeout:    getduration("PROVIDER_TIMEOUT", 15*time.Second),
		ProviderTimeoutOvr: parseDurationMap(getenv("PROVIDER_TIMEOUT_OVERRIDES", "")),

		CacheTTLDays: ttl,
		H3Res:        res,

		Popularity: PopularityCfg{
			HotThreshold:       getfloat("HOT_THRESHOLD", 100),
			PreFetchThreshold:  getfloat("PREFETCH_THRESHOLD", 80),
			AccessCountWeight:  getfloat("ACCESS_COUNT_WEIGHT", 2.0),
			RecencyWeight:      getfloat("RECENCY_WEIGHT", 1.5),
			LocationTypeWeight: getfloat("LOCATION_TYPE_WEIGHT", 1.2),
			DecayPerDay:        getfloat("DECAY_PER_DAY", 0.02),
			DecayMinScore:      getfloat("DECAY_MIN_SCORE", 10),
		},
		Jobs: JobsCfg{
			Enabled:          getbool("JOBS_ENABLED", true),
			CleanupInterval:  getduration("CLEANUP_INTERVAL", 6*time.Hour),
			DecayInterval:    getduration("DECAY_INTERVAL", 24*time.Hour),
			PrefetchInterval: getduration("PREFETCH_INTERVAL", 6*time.Hour),
			PrefetchRPS:      getfloat("PREFETCH_RPS", 1),
			PruneBelowScore:  getfloat("PRUNE_BELOW_SCORE", 0),
			PruneIdleDays:    getint("PRUNE_IDLE_DAYS", 30),

			PrefetchRecentWindow: getduration("PREFETCH_RECENT_WINDOW", time.Hour),
			PrefetchExpiringDays: getint("PREFETCH_EXPIRING_DAYS", 0),
		},
		Kafka: KafkaCfg{
			Brokers:  getenv("KAFKA_BROKERS", "localhost:9092"),
			ClientID: getenv("KAFKA_CLIENT_ID", "solarcache"),
		},
		Events: EventsCfg{
			Enabled: getbool("EVENTS_ENABLED", false),
			Topic:   getenv("EVENTS_TOPIC", "solar-access"),
		},
		Invalidation: InvalidationCfg{
			Enabled:    getbool("INVALIDATION_ENABLED", false),
			Driver:     getenv("INVALIDATION_DRIVER", "none"),
			Topic:      getenv("INVALIDATION_TOPIC", "solar-invalidation"),
			GroupID:    getenv("INVALIDATION_GROUP_ID", "solarcache-invalidator"),
			DedupeSize: getint("INVALIDATION_DEDUPE_SIZE", 4096),
		},

		MetricsEnabled: getbool("METRICS_ENABLED", true),
		MetricsAddr:    getenv("METRICS_ADDR", ":9100"),
		MetricsPath:    getenv("METRICS_PATH", "/metrics"),
	}
}

// TimeoutFor returns the per-provider override, falling back to ProviderTimeout.
func (c Config) TimeoutFor(provider string) time.Duration {
	if d, ok := c.ProviderTimeoutOvr[provider]; ok && d > 0 {
		return d
	}
	return c.ProviderTimeout
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "pvgis=20s,nasa_power=10s" into map
func parseDurationMap(s string) map[string]time.Duration {
	out := map[string]time.Duration{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	for p := range strings.SplitSeq(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			out[k] = d
		}
	}
	return out
}
