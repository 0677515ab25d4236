package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"grimm.is/warden/internal/api"
	"grimm.is/warden/internal/capture"
	"grimm.is/warden/internal/config"
	"grimm.is/warden/internal/events"
	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/health"
	"grimm.is/warden/internal/logging"
	"grimm.is/warden/internal/metrics"
	"grimm.is/warden/internal/state"
)

// RunOptions configure the daemon.
type RunOptions struct {
	ConfigFile string
	// LogFile overrides general.log_file.
	LogFile string
	Verbose bool
}

// loadConfig reads and validates path. Warnings are returned alongside a
// usable config; validation errors fail the load.
func loadConfig(path string) (*config.Config, config.ValidationErrors, error) {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, nil, err
	}
	errs := cfg.Validate()
	if errs.HasErrors() {
		return nil, errs, fmt.Errorf("invalid configuration %s: %w", path, errs)
	}
	return cfg, errs.Warnings(), nil
}

func setupLogging(cfg *config.Config, opts RunOptions) *logging.Logger {
	lc := logging.DefaultConfig()
	lc.Level = logging.ParseLevel(cfg.General.LogLevel)
	if opts.Verbose {
		lc.Level = logging.LevelDebug
	}
	lc.JSON = cfg.General.LogJSON
	lc.File = logging.FileConfig{
		Path:       cfg.General.LogFile,
		MaxSizeMB:  cfg.General.LogMaxSizeMB,
		MaxBackups: cfg.General.LogMaxBackups,
		Compress:   true,
	}
	if opts.LogFile != "" {
		lc.File.Path = opts.LogFile
	}
	l := logging.New(lc)
	logging.SetDefault(l)
	return l
}

func openStore(cfg *config.Config) (*state.SQLiteStore, error) {
	if cfg.State == nil || cfg.State.Path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.State.Path), 0o750); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return state.NewSQLiteStore(state.DefaultOptions(cfg.State.Path))
}

func healthChecks(cfg *config.Config, fw *firewall.Firewall, store *state.SQLiteStore) *health.Checker {
	c := health.NewChecker(5*time.Second, nil)
	c.Register("capture", health.Capture(func() (bool, string, string) {
		st := fw.Status()
		return st.Running, st.Source, st.LastError
	}))
	c.Register("rules", health.Rules(func() int { return len(fw.RuleDefects()) }))
	if cfg.General.Capture != "nflog" {
		c.Register("interface", health.Interface(cfg.General.Interface))
	}
	if store != nil {
		c.Register("state", health.Store(func(ctx context.Context) error {
			_, err := store.Get("health", "ping")
			if errors.Is(err, state.ErrNotFound) {
				return nil
			}
			return err
		}))
		c.Register("disk", health.Disk(filepath.Dir(cfg.State.Path)))
	}
	return c
}

// RunDaemon runs the firewall until ctx is done. SIGHUP reloads the
// configuration file.
func RunDaemon(ctx context.Context, opts RunOptions) error {
	cfg, warnings, err := loadConfig(opts.ConfigFile)
	missing := errors.Is(err, fs.ErrNotExist)
	switch {
	case missing:
		cfg = config.Default()
	case err != nil:
		return err
	}

	logger := setupLogging(cfg, opts)
	if missing {
		logger.Warn("no configuration file, using defaults", "path", opts.ConfigFile)
	}
	for _, w := range warnings {
		logger.Warn("configuration warning", "field", w.Field, "message", w.Message)
	}

	settings, err := firewall.SettingsFromConfig(cfg)
	if err != nil {
		return err
	}

	source, err := capture.New(cfg.General.Capture, capture.Options{
		Interface:  cfg.General.Interface,
		NFLogGroup: uint16(cfg.General.NFLogGroup),
		Logger:     logger.WithComponent("capture"),
	})
	if err != nil {
		return err
	}

	hub := events.NewHub()
	hub.OnDrop = metrics.Get().EventsDropped.Inc

	fwOpts := []firewall.Option{
		firewall.WithSource(source),
		firewall.WithHub(hub),
		firewall.WithLogger(logger.WithComponent("firewall")),
		firewall.WithTrafficLog(logging.NewTrafficLog(logger.WithComponent("traffic"))),
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
		fwOpts = append(fwOpts, firewall.WithStore(store))
	}

	fw := firewall.New(settings, fwOpts...)
	if defects := fw.RuleDefects(); len(defects) > 0 {
		logger.Warn("rules with unparseable specifiers will never match", "count", len(defects))
	}

	reload := func() error {
		next, warnings, err := loadConfig(opts.ConfigFile)
		if err != nil {
			metrics.Get().RecordReload(err)
			return err
		}
		for _, w := range warnings {
			logger.Warn("configuration warning", "field", w.Field, "message", w.Message)
		}
		if !opts.Verbose {
			logger.SetLevel(logging.ParseLevel(next.General.LogLevel))
		}
		return fw.Reload(next)
	}

	if err := fw.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.API.Enabled {
		if cfg.API.TokenHash == "" {
			logger.Warn("management API has no token_hash, requests are not authenticated")
		}
		srv := api.NewServer(api.Options{
			Manager:   fw,
			Hub:       hub,
			Logger:    logger.WithComponent("api"),
			TokenHash: cfg.API.TokenHash,
			RateLimit: cfg.API.RateLimit,
			Reload:    reload,
			Health:    healthChecks(cfg, fw, store),
		})
		g.Go(func() error {
			return srv.ListenAndServe(gctx, cfg.API.Listen)
		})
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				logger.Info("SIGHUP received, reloading configuration")
				if err := reload(); err != nil {
					logger.Error("reload failed", "error", err)
				}
			}
		}
	})

	err = g.Wait()
	if stopErr := fw.Stop(); stopErr != nil && !errors.Is(stopErr, firewall.ErrNotRunning) {
		logger.Error("stop failed", "error", stopErr)
	}
	logger.Info("shutdown complete")
	return err
}
