// Command rclonehubd is the orchestrator daemon: it boots the store, the
// backend-driver adapter, the transfer engine, the scan manager, and the
// JSON service surface, then serves HTTP until signaled to stop. Boot
// sequencing is grounded in the teacher's cmd/115togd/main.go.
package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/rclonehub/rclonehub/internal/api"
	"github.com/rclonehub/rclonehub/internal/config"
	"github.com/rclonehub/rclonehub/internal/driver"
	"github.com/rclonehub/rclonehub/internal/engine"
	"github.com/rclonehub/rclonehub/internal/scan"
	"github.com/rclonehub/rclonehub/internal/store"
)

// openStreamAdapter narrows *driver.Adapter to api.Opener: the adapter's
// own OpenStream returns the concrete *driver.StreamHandle so other
// callers keep its Read/Close methods without an interface box; the
// service surface only needs io.ReadCloser and this is the one seam
// where that gets asserted.
type openStreamAdapter struct{ *driver.Adapter }

func (a openStreamAdapter) OpenStream(ctx context.Context, target string) (io.ReadCloser, error) {
	return a.Adapter.OpenStream(ctx, target)
}

func main() {
	cfg := config.Load()

	log := newLogger(cfg.LogLevel)

	dataDir := defaultDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("create data dir")
	}
	dbPath := filepath.Join(dataDir, "rclone_hub.db")

	st, err := store.Open(dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := st.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrate store")
	}
	if err := st.EnsureDefaultSettings(ctx); err != nil {
		log.Fatal().Err(err).Msg("seed default settings")
	}

	baseFlags, err := driver.ParseArgs(cfg.DriverFlags)
	if err != nil {
		log.Fatal().Err(err).Msg("parse DRIVER_FLAGS")
	}
	sanitized := driver.SanitizeArgs(baseFlags)
	if len(sanitized.Blocked) > 0 {
		log.Warn().Strs("blocked", sanitized.Blocked).Msg("DRIVER_FLAGS contained orchestrator-owned flags; dropped")
	}

	drv := driver.New(driver.Config{
		Binary:     cfg.DriverBinary,
		BaseFlags:  sanitized.Args,
		Timeout:    cfg.DriverTimeout,
		MaxRetries: cfg.DriverMaxRetries,
	}, log)

	verifier := engine.StrictVerifier{Lister: drv}

	settingsFn := func(ctx context.Context) (store.RuntimeSettings, error) {
		return st.RuntimeSettings(ctx)
	}
	eng := engine.New(st, drv, verifier, log, settingsFn)

	// Recover before Start: no worker may pick up a job until every
	// dangling "running" row has been rewritten to "interrupted", per
	// spec.md section 9's ordering guarantee.
	if err := eng.Recover(ctx); err != nil {
		log.Fatal().Err(err).Msg("recover dangling jobs")
	}
	startSettings, err := st.RuntimeSettings(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load runtime settings")
	}
	eng.SetGlobalConcurrency(startSettings.Concurrency)
	eng.Start(ctx)
	defer eng.Stop()

	scanCfg := scan.DefaultConfig()
	scanCfg.SearchHeartbeat = cfg.SearchHeartbeat
	scanCfg.SearchDirTimeout = cfg.SearchDirTimeout
	scanCfg.SizeHeartbeat = cfg.SizeHeartbeat
	scanCfg.SizeDirTimeout = cfg.SizeDirTimeout
	scans := scan.New(drv, scanCfg, log)
	scans.StartJanitor(ctx)
	defer scans.Stop()

	guard, err := api.NewAuthGuard(ctx, st, os.Getenv("HUB_API_TOKEN"))
	if err != nil {
		log.Fatal().Err(err).Msg("init auth guard")
	}

	handler := api.New(st, eng, scans, openStreamAdapter{drv}, guard, log)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		log.Fatal().Err(err).Msg("listen")
	}
	log.Info().Str("addr", srv.Addr).Msg("listening")

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("serve")
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	log.Info().Msg("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger()
}

func defaultDataDir() string {
	if v := os.Getenv("HUB_DATA_DIR"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".rclone-hub"
	}
	return filepath.Join(home, ".rclone-hub")
}

