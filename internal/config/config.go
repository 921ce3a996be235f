package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/i474232898/coverage-aggregation/internal/geo"
)

type AppConfig struct {
	Port      string
	LogLevel  string
	LogFormat string // json or console

	// Outbound HTTP.
	HTTPTimeout         time.Duration
	ProviderTimeout     time.Duration
	ProviderMinInterval time.Duration

	// Providers enabled, by id. Empty means every provider with a URL.
	Providers         []string
	MTNBusinessURL    string
	MTNConsumerURL    string
	MTNFeasibilityURL string
	MTNFeasibilityKey string
	DFAURL            string

	// Coordinate correction; disabled without ADDRESS_POINTS_URL.
	AddressPointsURL     string
	CorrectionThresholdM float64
	CorrectionRadiusM    float64

	BaseStationsFile string

	CacheTTL           time.Duration
	CacheRadiusM       float64
	CacheMaxEntries    int
	CacheSweepInterval time.Duration

	// In-memory check history retention.
	HistoryMax    int           // 0 = unlimited
	HistoryMaxAge time.Duration // 0 = unlimited

	DatabaseURL string
	// CachePersist stores cache entries in DATABASE_URL when set.
	CachePersist bool

	GoogleGeocodingAPIKey string

	// Scheduled warm-up of hot spots.
	WarmPoints   []geo.Coordinates
	WarmInterval time.Duration

	// Ranking.
	// ProviderPreference orders providers for otherwise exact ties.
	ProviderPreference []string
	WeightConfidence   float64
	WeightSignal       float64
	WeightSpeed        float64

	// Proximity thresholds.
	ProximityHighDistanceM     float64
	ProximityHighUtilization   float64
	ProximityMediumDistanceM   float64
	ProximityMediumUtilization float64
	ProximityLowDistanceM      float64
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		zap.L().Info("config: no .env file loaded", zap.Error(err))
	}
	cfg := &AppConfig{}
	var err error

	cfg.Port = getenvDefault("PORT", "8080")
	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.LogFormat = getenvDefault("LOG_FORMAT", "json")

	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.ProviderTimeout, err = getenvDuration("PROVIDER_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.ProviderMinInterval, err = getenvDuration("PROVIDER_MIN_INTERVAL", 250*time.Millisecond); err != nil {
		return nil, err
	}

	cfg.Providers = splitList(os.Getenv("PROVIDERS"))
	cfg.MTNBusinessURL = os.Getenv("MTN_BUSINESS_URL")
	cfg.MTNConsumerURL = os.Getenv("MTN_CONSUMER_URL")
	cfg.MTNFeasibilityURL = os.Getenv("MTN_FEASIBILITY_URL")
	cfg.MTNFeasibilityKey = os.Getenv("MTN_FEASIBILITY_KEY")
	cfg.DFAURL = os.Getenv("DFA_URL")

	cfg.AddressPointsURL = os.Getenv("ADDRESS_POINTS_URL")
	cfg.CorrectionThresholdM = getenvFloat("CORRECTION_THRESHOLD_M", 30)
	cfg.CorrectionRadiusM = getenvFloat("CORRECTION_RADIUS_M", 500)

	cfg.BaseStationsFile = os.Getenv("BASE_STATIONS_FILE")

	if cfg.CacheTTL, err = getenvDuration("CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	cfg.CacheRadiusM = getenvFloat("CACHE_RADIUS_M", 100)
	cfg.CacheMaxEntries = getenvInt("CACHE_MAX_ENTRIES", 1000)
	if cfg.CacheSweepInterval, err = getenvDuration("CACHE_SWEEP_INTERVAL", time.Minute); err != nil {
		return nil, err
	}

	cfg.HistoryMax = getenvInt("HISTORY_MAX", 100)
	if cfg.HistoryMaxAge, err = getenvDuration("HISTORY_MAX_AGE", 24*time.Hour); err != nil {
		return nil, err
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.CachePersist = getenvBool("CACHE_PERSIST", true)
	cfg.GoogleGeocodingAPIKey = os.Getenv("GOOGLE_GEOCODING_API_KEY")

	if cfg.WarmPoints, err = parsePoints(os.Getenv("WARM_POINTS")); err != nil {
		return nil, err
	}
	if cfg.WarmInterval, err = getenvDuration("WARM_INTERVAL", 15*time.Minute); err != nil {
		return nil, err
	}

	for _, p := range splitList(os.Getenv("PROVIDER_PREFERENCE")) {
		cfg.ProviderPreference = append(cfg.ProviderPreference, strings.ToLower(p))
	}
	cfg.WeightConfidence = getenvFloat("RANK_WEIGHT_CONFIDENCE", 2)
	cfg.WeightSignal = getenvFloat("RANK_WEIGHT_SIGNAL", 1)
	cfg.WeightSpeed = getenvFloat("RANK_WEIGHT_SPEED", 0.5)

	cfg.ProximityHighDistanceM = getenvFloat("PROXIMITY_HIGH_DISTANCE_M", 3000)
	cfg.ProximityHighUtilization = getenvFloat("PROXIMITY_HIGH_UTILIZATION", 0.7)
	cfg.ProximityMediumDistanceM = getenvFloat("PROXIMITY_MEDIUM_DISTANCE_M", 5000)
	cfg.ProximityMediumUtilization = getenvFloat("PROXIMITY_MEDIUM_UTILIZATION", 0.9)
	cfg.ProximityLowDistanceM = getenvFloat("PROXIMITY_LOW_DISTANCE_M", 8000)

	return cfg, nil
}

// ProviderEnabled reports whether id is selected by PROVIDERS.
func (c *AppConfig) ProviderEnabled(id string) bool {
	if len(c.Providers) == 0 {
		return true
	}
	for _, p := range c.Providers {
		if strings.EqualFold(p, id) {
			return true
		}
	}
	return false
}

// InitLogger builds the global zap logger. format is "json" or "console".
func InitLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, eris.Wrapf(err, "config: invalid LOG_LEVEL %q", level)
	}

	var zcfg zap.Config
	switch strings.ToLower(format) {
	case "console", "dev", "development":
		zcfg = zap.NewDevelopmentConfig()
	case "", "json":
		zcfg = zap.NewProductionConfig()
	default:
		return nil, eris.Errorf("config: invalid LOG_FORMAT %q", format)
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// parsePoints reads "lat,lng;lat,lng".
func parsePoints(s string) ([]geo.Coordinates, error) {
	var out []geo.Coordinates
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ",")
		if len(fields) != 2 {
			return nil, eris.Errorf("config: invalid WARM_POINTS entry %q", part)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "config: invalid WARM_POINTS latitude %q", fields[0])
		}
		lng, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "config: invalid WARM_POINTS longitude %q", fields[1])
		}
		c := geo.Coordinates{Lat: lat, Lng: lng}
		if err := c.Validate(); err != nil {
			return nil, eris.Wrapf(err, "config: WARM_POINTS entry %q", part)
		}
		out = append(out, c)
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, eris.Wrapf(err, "invalid %s", key)
	}
	return d, nil
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}
