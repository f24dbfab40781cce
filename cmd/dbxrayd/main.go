// dbxrayd — uniform tabular gateway over heterogeneous storage engines.
//
// Usage:
//
//	dbxrayd [--config path] [--addr :8080]
//
// Flags:
//
//	--config  Path to dbxray.yaml (default: configs/dbxray.yaml)
//	--addr    Override server.addr from config
//
// Environment:
//
//	DBXRAY_DSN  Connection string (required if not set in config)
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ruslano69/dbxray/internal/api"
	"github.com/ruslano69/dbxray/internal/config"
	"github.com/ruslano69/dbxray/pkg/adapters"

	// Storage engine adapters self-register on import.
	_ "github.com/ruslano69/dbxray/pkg/adapters/mongodb"
	_ "github.com/ruslano69/dbxray/pkg/adapters/mssql"
	_ "github.com/ruslano69/dbxray/pkg/adapters/mysql"
	_ "github.com/ruslano69/dbxray/pkg/adapters/postgres"
	_ "github.com/ruslano69/dbxray/pkg/adapters/redis"
	_ "github.com/ruslano69/dbxray/pkg/adapters/sqlite"
)

func main() {
	configPath := flag.String("config", "configs/dbxray.yaml", "path to config file")
	addrOverride := flag.String("addr", "", "listen address override (e.g. :8080)")
	flag.Parse()

	// Pretty console log; log.json: true in config switches to JSON
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("config load failed")
	}
	if *addrOverride != "" {
		cfg.Server.Addr = *addrOverride
	}
	if cfg.Log.JSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	if lvl, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	adapter, err := adapters.New(connectCtx, cfg.AdapterConfig())
	if err != nil {
		log.Fatal().Err(err).Str("type", cfg.Database.Type).Msg("engine connect failed")
	}
	defer adapter.Close(context.Background())

	router := api.NewRouter(adapter, log.Logger)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().
			Str("addr", cfg.Server.Addr).
			Str("engine", cfg.Database.Type).
			Str("config", *configPath).
			Msg("dbxrayd started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown error")
	}
	log.Info().Msg("stopped")
}
