package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/collectica/zipserve/internal/admission"
	"github.com/collectica/zipserve/internal/archive"
	"github.com/collectica/zipserve/internal/catalog"
	"github.com/collectica/zipserve/internal/config"
	"github.com/collectica/zipserve/internal/estimate"
	"github.com/collectica/zipserve/internal/fetch"
	"github.com/collectica/zipserve/internal/locator"
	"github.com/collectica/zipserve/internal/logging"
	"github.com/collectica/zipserve/internal/progress"
	"github.com/collectica/zipserve/internal/server"
)

// Exit codes
const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitInvalidArgs  = 2
	ExitConfigError  = 3
	ExitStorageError = 4
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("zipserve", flag.ExitOnError)

	configPath := fs.String("config", "", "Path to YAML configuration file")
	listen := fs.String("listen", "", "Listen address (overrides config)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: zipserve [options]

Serve on-demand zip archives of catalog items over HTTP.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFromFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitConfigError
		}
		cfg = loaded
	}
	if err := cfg.LoadFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfigError
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfigError
	}

	logging.Setup(logging.Config{Format: cfg.Log.Format, Level: cfg.Log.Level})
	log := logging.Component("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received interrupt, shutting down")
		cancel()
	}()

	mediaBucket, err := blob.OpenBucket(ctx, cfg.MediaBucket)
	if err != nil {
		log.Error("open media bucket", "url", cfg.MediaBucket, "error", err)
		return ExitStorageError
	}
	defer mediaBucket.Close()

	stateBucket, err := blob.OpenBucket(ctx, cfg.StateBucket)
	if err != nil {
		log.Error("open state bucket", "url", cfg.StateBucket, "error", err)
		return ExitStorageError
	}
	defer stateBucket.Close()

	fetcher := fetch.NewFetcher(fetch.Options{
		Timeout:      cfg.Fetch.Timeout,
		MaxRedirects: cfg.Fetch.MaxRedirects,
		UserAgent:    cfg.Fetch.UserAgent,
	})
	store := progress.NewStore(stateBucket, cfg.Limits.TTL)
	cat := catalog.NewBlobCatalog(mediaBucket)
	loc := locator.New(mediaBucket, fetcher)
	est := estimate.New(mediaBucket, loc, fetcher)
	// A configured concurrency of zero means drain, which the limit set
	// spells differently because its own zero means default.
	maxConcurrent := cfg.Limits.Concurrent
	if maxConcurrent == 0 {
		maxConcurrent = admission.DrainConcurrent
	}
	adm := admission.New(store, admission.Limits{
		MaxConcurrent:    maxConcurrent,
		MaxDownloadBytes: cfg.Limits.DownloadSize,
		MaxActiveBytes:   cfg.Limits.ActiveSize,
		MaxFiles:         cfg.Limits.Files,
	})
	builder := archive.NewBuilder(mediaBucket, loc, fetcher, store)
	srv := server.New(cat, est, adm, builder, store, server.Options{
		AllowedOrigins: cfg.AllowedOrigins,
	})

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown", "error", err)
		}
	}()

	log.Info("listening", "addr", cfg.Listen,
		"media_bucket", cfg.MediaBucket,
		"max_concurrent", cfg.Limits.Concurrent)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("serve", "error", err)
		return ExitGeneralError
	}
	return ExitSuccess
}
