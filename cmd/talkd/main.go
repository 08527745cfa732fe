// talkd is the nostrtalk backend daemon: it keeps relay sessions alive,
// reconciles the inbound event stream into the local sqlite cache, and
// exposes state changes to collaborator processes through the event hub.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nostrtalk/go-backend/internal/backend"
	"nostrtalk/go-backend/internal/config"
	"nostrtalk/go-backend/internal/identity"
	"nostrtalk/go-backend/internal/platform/privacylog"
	"nostrtalk/go-backend/internal/platform/ratelimiter"
	"nostrtalk/go-backend/internal/relay"
	"nostrtalk/go-backend/internal/storage"
	"nostrtalk/go-backend/pkg/models"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	dataDir := flag.String("data-dir", "", "Directory for local data (optional)")
	keyFile := flag.String("key-file", "", "Path to the sealed key file (optional)")
	flag.Parse()
	if *showVersion {
		fmt.Printf("talkd version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	cfg, err := config.LoadFromPath(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "talkd:", err)
		os.Exit(1)
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *keyFile != "" {
		cfg.KeyFile = *keyFile
	}
	if cfg.KeyFile == "" {
		cfg.KeyFile = filepath.Join(cfg.DataDir, "identity.key")
	}

	log := newLogger(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("talkd failed", "error", err)
		os.Exit(1)
	}
	log.Info("talkd stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	keys, err := loadOrCreateIdentity(cfg.KeyFile, log)
	if err != nil {
		return err
	}
	log.Info("identity ready", "fingerprint", keys.Fingerprint())

	store, err := storage.Open(ctx, filepath.Join(cfg.DataDir, "talkd.db"))
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	pool := relay.NewPool(relay.Options{
		ReconnectInterval: cfg.Network.ReconnectInterval,
		PublishTimeout:    cfg.Network.PublishTimeout,
		Limiter:           ratelimiter.New(cfg.Network.InboundRPS, cfg.Network.InboundBurst, 10*time.Minute),
		Metrics:           relay.NewMetrics(reg),
		Logger:            log,
	})
	defer pool.Close()

	for _, rc := range cfg.Relays {
		read, write := rc.RelayFlags()
		if err := store.UpsertRelay(ctx, models.RelayRecord{
			URL: rc.URL, Read: read, Write: write, LastStatus: models.RelayDisconnected,
		}); err != nil {
			return err
		}
	}

	hub := backend.NewHub(1024)
	rec := backend.NewReconciler(store, keys, pool, hub, log)

	if cfg.Metrics.Addr != "" {
		go serveMetrics(ctx, cfg.Metrics.Addr, reg, log)
	}
	go logHubTraffic(hub, log)

	if err := rec.Dispatch(ctx, backend.ConnectRelays{}); err != nil {
		return err
	}

	log.Info("talkd starting", "relays", len(cfg.Relays))
	rec.Run(ctx)
	return ctx.Err()
}

// loadOrCreateIdentity opens the sealed key file, or creates a fresh
// mnemonic-derived identity on first start. The mnemonic is printed once
// and never stored.
func loadOrCreateIdentity(path string, log *slog.Logger) (*identity.Keys, error) {
	passphrase := strings.TrimSpace(os.Getenv("TALKD_PASSPHRASE"))
	if passphrase == "" {
		return nil, errors.New("TALKD_PASSPHRASE must be set")
	}

	if _, err := os.Stat(path); err == nil {
		return identity.Load(path, passphrase)
	}

	mnemonic, keys, err := identity.CreateWithMnemonic()
	if err != nil {
		return nil, err
	}
	if err := keys.Save(path, passphrase); err != nil {
		return nil, err
	}
	npub, err := keys.Npub()
	if err != nil {
		return nil, err
	}
	fmt.Printf("new identity created: %s\nrecovery mnemonic (write it down, it is not stored):\n%s\n", npub, mnemonic)
	log.Info("identity created", "key_file", path)
	return keys, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(privacylog.Wrap(handler))
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warn("metrics server", "error", err)
	}
}

// logHubTraffic mirrors every emitted event into the log at debug level.
func logHubTraffic(hub *backend.Hub, log *slog.Logger) {
	_, notes, cancel := hub.Subscribe(0)
	defer cancel()
	for note := range notes {
		log.Debug("event", "method", note.Method, "seq", note.Seq)
	}
}
