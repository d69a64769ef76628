package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/messcheck/messcheck/internal/api"
	"github.com/messcheck/messcheck/internal/connectivity"
	"github.com/messcheck/messcheck/internal/lockfile"
	"github.com/messcheck/messcheck/internal/models"
	"github.com/messcheck/messcheck/internal/remote"
	"github.com/messcheck/messcheck/internal/replay"
	"github.com/messcheck/messcheck/internal/store"
	"github.com/messcheck/messcheck/internal/token"
	"github.com/messcheck/messcheck/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for MessCheck state data
	DefaultStateDir = "/var/lib/messcheck"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "messcheck.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := run(flags); err != nil {
		slog.Error("MessCheck failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("MessCheck exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir      string
	DbDriver      string
	DatabaseURL   string
	APIAddr       string
	CheckinURL    string
	ProbeURL      string
	TokenTTL      time.Duration
	MaxRetries    int
	ProbeInterval time.Duration
	CacheTTL      time.Duration
}

// Flags holds command line flag values
type Flags struct {
	stateDir   *string
	dbDriver   *string
	dbDSN      *string
	apiAddr    *string
	checkinURL *string
	probeURL   *string
	tokenTTL   time.Duration
	maxRetries int
	probeEvery time.Duration
	cacheTTL   time.Duration
}

// initializeLogger sets up structured logging at the level named by
// MESSCHECK_LOG_LEVEL (debug, info, warn, error; default info).
func initializeLogger() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("MESSCHECK_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:      os.Getenv("MESSCHECK_STATE_DIR"),
		DbDriver:      os.Getenv("MESSCHECK_DB_DRIVER"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		APIAddr:       os.Getenv("MESSCHECK_API_ADDR"),
		CheckinURL:    os.Getenv("MESSCHECK_CHECKIN_URL"),
		ProbeURL:      os.Getenv("MESSCHECK_PROBE_URL"),
		TokenTTL:      util.ParseSecondsEnv("MESSCHECK_TOKEN_TTL_SECONDS", token.DefaultWindow),
		MaxRetries:    util.ParseIntEnv("MESSCHECK_MAX_RETRIES", replay.DefaultMaxRetries),
		ProbeInterval: util.ParseSecondsEnv("MESSCHECK_PROBE_INTERVAL_SECONDS", connectivity.DefaultProbeInterval),
		CacheTTL:      util.ParseSecondsEnv("MESSCHECK_CACHE_TTL_SECONDS", 0),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No MESSCHECK_STATE_DIR set, using default", "stateDir", config.StateDir)
	}

	// The connectivity probe defaults to the check-in service itself, so
	// "online" means the service we actually need is reachable.
	if config.ProbeURL == "" {
		config.ProbeURL = config.CheckinURL
	}

	slog.Debug("environment variables loaded",
		"MESSCHECK_STATE_DIR", config.StateDir,
		"MESSCHECK_DB_DRIVER", config.DbDriver,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"MESSCHECK_API_ADDR", config.APIAddr,
		"MESSCHECK_CHECKIN_URL", config.CheckinURL,
		"MESSCHECK_PROBE_URL", config.ProbeURL,
		"tokenTTL", config.TokenTTL,
		"maxRetries", config.MaxRetries,
		"probeInterval", config.ProbeInterval,
		"cacheTTL", config.CacheTTL)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:   flag.String("state-dir", config.StateDir, "state directory for MessCheck data (overrides $MESSCHECK_STATE_DIR)"),
		dbDriver:   flag.String("db-driver", config.DbDriver, "database driver: sqlite, postgres, or memory (overrides $MESSCHECK_DB_DRIVER)"),
		dbDSN:      flag.String("db-dsn", config.DatabaseURL, "database DSN (overrides $DATABASE_URL)"),
		apiAddr:    flag.String("api-addr", config.APIAddr, "API server address (overrides $MESSCHECK_API_ADDR)"),
		checkinURL: flag.String("checkin-url", config.CheckinURL, "base URL of the remote check-in service (overrides $MESSCHECK_CHECKIN_URL)"),
		probeURL:   flag.String("probe-url", config.ProbeURL, "URL probed to determine connectivity (overrides $MESSCHECK_PROBE_URL)"),
		tokenTTL:   config.TokenTTL,
		maxRetries: config.MaxRetries,
		probeEvery: config.ProbeInterval,
		cacheTTL:   config.CacheTTL,
	}

	flag.Parse()

	// Default to a SQLite file inside the state directory when no DSN is given.
	if *flags.dbDSN == "" {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlitePath", *flags.dbDSN)
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDriver", *flags.dbDriver,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"checkinURL", *flags.checkinURL,
		"probeURL", *flags.probeURL)

	return flags
}

// buildStore selects and opens the storage backend.
func buildStore(flags Flags) (store.Store, error) {
	opts := []store.Option{store.WithDSN(*flags.dbDSN)}
	if flags.cacheTTL > 0 {
		opts = append(opts, store.WithCacheTTL(flags.cacheTTL))
	}

	driver := *flags.dbDriver
	if driver == "" {
		driver = store.DetectDSNType(*flags.dbDSN)
	}

	switch driver {
	case "postgres":
		slog.Debug("buildStore: opening PostgreSQL store")
		return store.NewPostgresStore(opts...)
	case "memory":
		slog.Debug("buildStore: using in-memory store")
		return store.NewInMemoryStore(opts...), nil
	default:
		slog.Debug("buildStore: opening SQLite store", "dbPath", *flags.dbDSN)
		return store.NewSQLiteStore(opts...)
	}
}

// run assembles the pipeline and blocks until shutdown.
func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	submitter, err := remote.NewClient(remote.WithBaseURL(*flags.checkinURL))
	if err != nil {
		return err
	}

	generator := token.NewGenerator(flags.tokenTTL)
	defer generator.Stop()

	// Start pessimistic: the first probe flips us online if the service
	// answers, and that edge triggers the initial drain of anything queued
	// from a previous run.
	monitor := connectivity.NewMonitor(models.ConnectivityOffline)
	coordinator := replay.NewCoordinator(st, submitter, flags.maxRetries)
	detach := coordinator.Attach(ctx, monitor)
	defer detach()

	prober := connectivity.NewProber(monitor, *flags.probeURL, flags.probeEvery)
	prober.ProbeOnce(ctx)
	go prober.Run(ctx)

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(monitor, st, generator, coordinator, submitter, apiOpts...)

	slog.Info("Bootstrapping MessCheck agent",
		"stateDir", *flags.stateDir,
		"checkinURL", *flags.checkinURL,
		"probeURL", *flags.probeURL)
	return server.Run(ctx)
}
