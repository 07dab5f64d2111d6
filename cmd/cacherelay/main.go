// Command cacherelay is the forward HTTP/1.1 caching proxy: it accepts
// client connections, serves cacheable GET responses from memory,
// forwards everything else to origin, and tunnels CONNECT.
package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/brindlefox/cacherelay/pkg/admin"
	"github.com/brindlefox/cacherelay/pkg/cachestore"
	"github.com/brindlefox/cacherelay/pkg/config"
	"github.com/brindlefox/cacherelay/pkg/logging"
	"github.com/brindlefox/cacherelay/pkg/relay"
	"github.com/brindlefox/cacherelay/pkg/server"
	"github.com/brindlefox/cacherelay/pkg/signals"
	"github.com/brindlefox/cacherelay/pkg/sock"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Setup(cfg.LogLevel)

	store := cachestore.New(cfg.CacheMaxEntries)

	reg := prometheus.NewRegistry()
	metrics := admin.NewMetrics(reg, store.Size)

	adminMux := http.NewServeMux()
	adminMux.HandleFunc("/healthz", admin.HandleHealth)
	adminMux.Handle("/metrics", admin.Handler(reg))
	adminMux.HandleFunc("/varz", admin.HandleVarz(cfg))
	adminSrv := &http.Server{Addr: cfg.AdminAddr, Handler: adminMux}
	go func() {
		log.Info().Str("addr", cfg.AdminAddr).Msg("admin HTTP starting")
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("admin HTTP failed")
		}
	}()

	listener, err := sock.Listen(cfg.ListenAddr, cfg.Backlog)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.ListenAddr).Msg("failed to bind listening socket")
	}
	log.Info().Str("addr", cfg.ListenAddr).Int("backlog", cfg.Backlog).Msg("listening")

	relayCfg := relay.Config{
		ReadBufferSize: 8 * 1024,
		ConnectTimeout: cfg.ConnectTimeout,
		Linger:         cfg.Linger,
	}
	pool := server.New(listener, relayCfg, store, metrics, log.Logger.With().Str("id", logging.NoID).Logger())
	go pool.Run()

	ctx := signals.Setup(nil)
	<-ctx.Done()

	log.Info().Msg("shutdown requested")
	_ = pool.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = adminSrv.Shutdown(shutdownCtx)
	log.Info().Msg("cacherelay stopped")
}
