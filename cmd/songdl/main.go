// Command songdl serves the song-asset download authorization and cache
// subsystem: it mirrors an on-disk song tree into a local cache, interprets
// a catalogue of entitlements, enforces a per-user daily download quota,
// and issues short-lived download tokens.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/net/netutil"

	"github.com/snapetech/songdl/internal/cache"
	"github.com/snapetech/songdl/internal/catalog"
	"github.com/snapetech/songdl/internal/config"
	"github.com/snapetech/songdl/internal/httpapi"
	"github.com/snapetech/songdl/internal/manifest"
	"github.com/snapetech/songdl/internal/metrics"
	"github.com/snapetech/songdl/internal/ratelimit"
	"github.com/snapetech/songdl/internal/tokens"
)

func main() {
	envFile := flag.String("env-file", "", "optional .env file to source before reading the environment")
	flag.Parse()

	if *envFile != "" {
		if err := config.LoadEnvFile(*envFile); err != nil {
			log.Fatalf("load env file: %v", err)
		}
	}
	cfg := config.Load()

	cacheDBPath := filepath.Join(filepath.Dir(cfg.SQLiteDatabasePath), "song_cache.db")
	store, err := cache.Open(cacheDBPath, cfg.SongFileFolderPath, cfg.SongFileHashPreCalculate, cfg.HashRatePerSec)
	if err != nil {
		log.Fatalf("open cache: %v", err)
	}
	defer store.Close()

	reg := catalog.NewRegistry(cfg.FreePackName, cfg.SinglePackName)
	if cfg.SonglistFilePath != "" {
		if err := reg.Initialize(cfg.SonglistFilePath); err != nil {
			log.Fatalf("load catalogue: %v", err)
		}
		store.SetFilter(reg.Current())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.SyncAll(ctx); err != nil {
		log.Printf("initial cache sync: %v", err)
	}

	var limiter ratelimit.Limiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("connect redis: %v", err)
		}
		limiter = ratelimit.NewRedis(rdb, cfg.DownloadTimesLimit)
	} else {
		limiter = ratelimit.NewMemory(cfg.DownloadTimesLimit)
	}

	var tokenStore *tokens.Store
	if cfg.DatabaseURL != "" {
		tokenStore, err = tokens.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("connect token store: %v", err)
		}
		defer tokenStore.Close()
	} else {
		log.Print("no SONGDL_DATABASE_URL set; download tokens will not be persisted")
	}

	svc := &httpapi.Service{
		Builder: &manifest.Builder{
			Cache:            store,
			FreePackName:     cfg.FreePackName,
			SinglePackName:   cfg.SinglePackName,
			ForbidWhenNoItem: cfg.DownloadForbidWhenNoItem,
		},
		Catalog:    reg,
		Limiter:    limiter,
		Tokens:     tokenStore,
		LinkPrefix: cfg.DownloadLinkPrefix,
		GapLimit:   cfg.DownloadTimeGapLimit,
	}

	r := chi.NewRouter()
	svc.Routes(r)

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && cfg.MetricsAddr != cfg.ListenAddr {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
		go func() {
			log.Printf("metrics listening on %s", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("metrics server: %v", err)
			}
		}()
	} else {
		r.Handle("/metrics", metrics.Handler())
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Fatalf("listen on %s: %v", cfg.ListenAddr, err)
	}
	ln = netutil.LimitListener(ln, cfg.MaxConns)

	server := &http.Server{Handler: r}
	go func() {
		log.Printf("listening on %s (max %d concurrent connections)", cfg.ListenAddr, cfg.MaxConns)
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Print("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
}
