// README: Config loader with env defaults for HTTP, backends, geo, regions and trips.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendFirebase = "firebase"
)

type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	DatabaseURL     string
}

type GeoConfig struct {
	Backend      string
	RadiusKm     float64
	PollInterval time.Duration
}

type Config struct {
	HTTP struct {
		Addr string
	}
	DB struct {
		DSN string // empty disables trip history
	}
	Redis struct {
		Addr string
	}
	Firebase FirebaseConfig
	Store    struct {
		Backend      string
		PollInterval time.Duration // firebase subscriptions
	}
	Geo    GeoConfig
	Region struct {
		RadiusMeters float64
	}
	Trip struct {
		RequestTimeout time.Duration // zero disables
	}
	Maps struct {
		APIKey string // empty disables ETA
	}
	Log struct {
		Level string
	}
}

func Load() (Config, error) {
	var cfg Config
	cfg.HTTP.Addr = envOrDefault("TRIPFLOW_HTTP_ADDR", ":8080")
	cfg.DB.DSN = os.Getenv("TRIPFLOW_DB_DSN")
	cfg.Redis.Addr = envOrDefault("TRIPFLOW_REDIS_ADDR", "localhost:6379")
	cfg.Firebase.ProjectID = os.Getenv("TRIPFLOW_FIREBASE_PROJECT_ID")
	cfg.Firebase.CredentialsFile = os.Getenv("TRIPFLOW_FIREBASE_CREDENTIALS_FILE")
	cfg.Firebase.DatabaseURL = os.Getenv("TRIPFLOW_FIREBASE_DATABASE_URL")
	cfg.Store.Backend = envOrDefault("TRIPFLOW_STORE_BACKEND", BackendMemory)
	cfg.Store.PollInterval = envOrDefaultDuration("TRIPFLOW_STORE_POLL_INTERVAL", time.Second)
	cfg.Geo.Backend = envOrDefault("TRIPFLOW_GEO_BACKEND", BackendMemory)
	cfg.Geo.RadiusKm = envOrDefaultFloat("TRIPFLOW_GEO_RADIUS_KM", 50)
	cfg.Geo.PollInterval = envOrDefaultDuration("TRIPFLOW_GEO_POLL_INTERVAL", 2*time.Second)
	cfg.Region.RadiusMeters = envOrDefaultFloat("TRIPFLOW_REGION_RADIUS_METERS", 25)
	cfg.Trip.RequestTimeout = envOrDefaultDuration("TRIPFLOW_TRIP_REQUEST_TIMEOUT", 0)
	cfg.Maps.APIKey = os.Getenv("TRIPFLOW_MAPS_API_KEY")
	cfg.Log.Level = envOrDefault("TRIPFLOW_LOG_LEVEL", "info")

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	for name, backend := range map[string]string{"store": c.Store.Backend, "geo": c.Geo.Backend} {
		switch backend {
		case BackendMemory, BackendRedis:
		case BackendFirebase:
			if c.Firebase.DatabaseURL == "" {
				return fmt.Errorf("%s backend %q requires TRIPFLOW_FIREBASE_DATABASE_URL", name, backend)
			}
		default:
			return fmt.Errorf("unknown %s backend %q", name, backend)
		}
	}
	if c.Geo.RadiusKm <= 0 {
		return fmt.Errorf("geo radius must be positive, got %v", c.Geo.RadiusKm)
	}
	if c.Region.RadiusMeters <= 0 {
		return fmt.Errorf("region radius must be positive, got %v", c.Region.RadiusMeters)
	}
	return nil
}

// UsesFirebase reports whether any component needs the Admin SDK clients.
func (c Config) UsesFirebase() bool {
	return c.Store.Backend == BackendFirebase || c.Geo.Backend == BackendFirebase || c.Firebase.ProjectID != ""
}

// UsesRedis reports whether any backend is served by Redis.
func (c Config) UsesRedis() bool {
	return c.Store.Backend == BackendRedis || c.Geo.Backend == BackendRedis
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
