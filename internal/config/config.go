package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr        string
	RedisURL    string
	DatabaseURL string
	DataDir     string
	// Blob storage
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	// Sync tuning
	QuietWindow   time.Duration
	SkewTolerance time.Duration
	// Reachability probe
	ProbeURL      string
	ProbeInterval time.Duration
}

func Load() Config {
	return Config{
		Addr:        getenv("SYNCD_ADDR", ":8687"),
		RedisURL:    getenv("REDIS_URL", "redis://localhost:6379/0"),
		DatabaseURL: getenv("DATABASE_URL", ""),
		DataDir:     getenv("SYNCD_DATA_DIR", "./data/shadow"),
		// MinIO - attachments and export artifacts; in-memory store if unset
		MinioEndpoint:  getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getenv("MINIO_ACCESS_KEY", "fieldchart"),
		MinioSecretKey: getenv("MINIO_SECRET_KEY", "fieldchart-dev-secret"),
		MinioBucket:    getenv("MINIO_BUCKET", "fieldchart-media"),
		MinioUseSSL:    getenv("MINIO_USE_SSL", "false") == "true",
		// Sync tuning - the quiet window coalesces keystroke-rate mutations
		QuietWindow:   time.Duration(getenvInt("SYNCD_QUIET_WINDOW_MS", 2000)) * time.Millisecond,
		SkewTolerance: time.Duration(getenvInt("SYNCD_SKEW_TOLERANCE_MS", 2000)) * time.Millisecond,
		// Probe - empty URL disables probing and the node is assumed reachable
		ProbeURL:      getenv("SYNCD_PROBE_URL", ""),
		ProbeInterval: time.Duration(getenvInt("SYNCD_PROBE_INTERVAL_MS", 5000)) * time.Millisecond,
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
