package config

import (
	"time"
)

// Config holds every recognized environment option for the download
// authorization service, plus the ambient transport/storage settings the
// original source treats as external (database DSN, listen address, ...).
type Config struct {
	// Paths (spec.md §6)
	SQLiteDatabasePath  string // directory of this path is used to place song_cache.db
	SongFileFolderPath  string // root of the on-disk song tree
	SonglistFilePath    string // catalogue JSON path; absence disables catalogue filtering

	SongFileHashPreCalculate bool // hash files eagerly during sync, else lazily on demand

	DownloadTimesLimit        int           // "N per day" per-user quota
	DownloadTimeGapLimit      time.Duration // token validity / prune window
	DownloadLinkPrefix        string        // static URL prefix; empty uses the route-based builder
	DownloadForbidWhenNoItem  bool          // intersect requested songs with entitlements

	FreePackName   string // reserved pack identifier for always-free songs
	SinglePackName string // reserved pack identifier for individually purchased songs

	// Ambient transport/storage (not named by spec.md §6, carried as this
	// service's own deployment surface)
	ListenAddr      string // HTTP listen address
	MetricsAddr     string // address for the /metrics endpoint; "" reuses ListenAddr
	MaxConns        int    // max concurrent in-flight HTTP connections
	DatabaseURL     string // Postgres DSN backing the download_token table
	RedisAddr       string // Redis address for the rate limiter; "" selects the in-process limiter
	HashRatePerSec  float64 // token-bucket rate for MD5 file hashing, during sync and on demand; 0 disables throttling
}

// Load reads every option from the environment. Call LoadEnvFile(".env")
// before Load to source it from a file first.
func Load() *Config {
	c := &Config{
		SQLiteDatabasePath: getEnv("SQLITE_DATABASE_PATH", "./data/primary.db"),
		SongFileFolderPath: getEnv("SONG_FILE_FOLDER_PATH", "./songs"),
		SonglistFilePath:   getEnv("SONGLIST_FILE_PATH", ""),

		SongFileHashPreCalculate: getEnvBool("SONG_FILE_HASH_PRE_CALCULATE", false),

		DownloadTimesLimit:       getEnvInt("DOWNLOAD_TIMES_LIMIT", 6),
		DownloadTimeGapLimit:     getEnvSeconds("DOWNLOAD_TIME_GAP_LIMIT", 1*time.Hour),
		DownloadLinkPrefix:       getEnv("DOWNLOAD_LINK_PREFIX", ""),
		DownloadForbidWhenNoItem: getEnvBool("DOWNLOAD_FORBID_WHEN_NO_ITEM", false),

		FreePackName:   getEnv("FREE_PACK_NAME", "free"),
		SinglePackName: getEnv("SINGLE_PACK_NAME", "single"),

		ListenAddr:     getEnv("SONGDL_LISTEN_ADDR", ":8080"),
		MetricsAddr:    getEnv("SONGDL_METRICS_ADDR", ""),
		MaxConns:       getEnvInt("SONGDL_MAX_CONNS", 256),
		DatabaseURL:    getEnv("SONGDL_DATABASE_URL", ""),
		RedisAddr:      getEnv("SONGDL_REDIS_ADDR", ""),
		HashRatePerSec: getEnvFloat("SONGDL_HASH_RATE_PER_SEC", 0),
	}
	if c.DownloadTimesLimit <= 0 {
		c.DownloadTimesLimit = 6
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 256
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = c.ListenAddr
	}
	return c
}
