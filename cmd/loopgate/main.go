package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pulsefolio/loopgate/internal/policy"
	"github.com/pulsefolio/loopgate/internal/scheduler"
	"github.com/pulsefolio/loopgate/internal/store"
	"github.com/pulsefolio/loopgate/internal/telegram"
	"github.com/pulsefolio/loopgate/internal/tracker"
	"github.com/pulsefolio/loopgate/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for loopgate state data
	DefaultStateDir = "/var/lib/loopgate"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "loopgate.db"
	// DefaultAuditRetention is how long decision audit records are kept
	DefaultAuditRetention = 7 * 24 * time.Hour
	// auditPruneCron runs the audit prune job daily at 03:10
	auditPruneCron = "10 3 * * *"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	table := loadPolicyTable(*flags.policyFile)
	audit := buildAuditRepo(flags)
	defer audit.Close()

	trk := tracker.New(
		tracker.WithPolicyTable(table),
		tracker.WithHistorySize(*flags.historySize),
		tracker.WithIdleTimeout(*flags.idleTimeout),
		tracker.WithAuditRepo(audit),
	)
	defer trk.Shutdown()

	janitor := tracker.NewJanitor(trk, *flags.sweepInterval)
	janitor.Start()
	defer janitor.Stop()

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob(auditPruneCron, func() {
		cutoff := time.Now().Add(-*flags.auditRetention)
		removed, err := audit.PruneBefore(cutoff)
		if err != nil {
			slog.Error("Audit prune failed", "error", err)
			return
		}
		slog.Info("Audit prune complete", "removed", removed, "cutoff", cutoff)
	}); err != nil {
		slog.Error("Failed to schedule audit prune job", "error", err)
		os.Exit(1)
	}

	dispatcher := telegram.NewDispatcher(trk)
	if err := telegram.RegisterDefaultHandlers(dispatcher); err != nil {
		slog.Error("Failed to register menu handlers", "error", err)
		os.Exit(1)
	}

	svc, err := telegram.NewService(dispatcher,
		telegram.WithToken(*flags.botToken),
		telegram.WithDebug(*flags.debug),
	)
	if err != nil {
		slog.Error("Failed to create Telegram service", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watchPolicyReload(ctx, trk, *flags.policyFile)

	slog.Info("Bootstrapping loopgate", "policies", table.Len(), "idleTimeout", *flags.idleTimeout, "sweepInterval", *flags.sweepInterval)
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("loopgate failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("loopgate exited successfully")
}

// Config holds environment configuration
type Config struct {
	BotToken       string
	DbDriver       string
	DbDSN          string
	StateDir       string
	PolicyFile     string
	IdleTimeout    time.Duration
	SweepInterval  time.Duration
	HistorySize    int
	AuditRetention time.Duration
	Debug          bool
}

// Flags holds command line flag values
type Flags struct {
	botToken       *string
	dbDriver       *string
	dbDSN          *string
	stateDir       *string
	policyFile     *string
	idleTimeout    *time.Duration
	sweepInterval  *time.Duration
	historySize    *int
	auditRetention *time.Duration
	debug          *bool
}

// initializeLogger sets up structured logging with the level from LOOPGATE_LOG_LEVEL
func initializeLogger() {
	level := slog.LevelInfo
	switch os.Getenv("LOOPGATE_LOG_LEVEL") {
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
		BotToken:       os.Getenv("TELEGRAM_BOT_TOKEN"),
		DbDriver:       os.Getenv("LOOPGATE_DB_DRIVER"),
		DbDSN:          os.Getenv("LOOPGATE_DB_DSN"),
		StateDir:       os.Getenv("LOOPGATE_STATE_DIR"),
		PolicyFile:     os.Getenv("LOOPGATE_POLICY_FILE"),
		IdleTimeout:    util.ParseDurationEnv("LOOPGATE_IDLE_TIMEOUT", tracker.DefaultIdleTimeout),
		SweepInterval:  util.ParseDurationEnv("LOOPGATE_SWEEP_INTERVAL", tracker.DefaultSweepInterval),
		HistorySize:    util.ParseIntEnv("LOOPGATE_HISTORY_SIZE", tracker.DefaultHistorySize),
		AuditRetention: util.ParseDurationEnv("LOOPGATE_AUDIT_RETENTION", DefaultAuditRetention),
		Debug:          util.ParseBoolEnv("LOOPGATE_DEBUG", false),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No LOOPGATE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	return config
}

// parseCommandLineFlags parses flags with environment values as defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		botToken:       flag.String("token", config.BotToken, "Telegram bot token"),
		dbDriver:       flag.String("db-driver", config.DbDriver, "audit store driver: sqlite3, postgres, or memory"),
		dbDSN:          flag.String("db-dsn", config.DbDSN, "audit store DSN (file path for sqlite3)"),
		stateDir:       flag.String("state-dir", config.StateDir, "directory for state data"),
		policyFile:     flag.String("policy-file", config.PolicyFile, "JSON policy file (empty uses built-in defaults)"),
		idleTimeout:    flag.Duration("idle-timeout", config.IdleTimeout, "session idle timeout before eviction"),
		sweepInterval:  flag.Duration("sweep-interval", config.SweepInterval, "janitor sweep interval"),
		historySize:    flag.Int("history-size", config.HistorySize, "per-session history ring size"),
		auditRetention: flag.Duration("audit-retention", config.AuditRetention, "how long to keep audit records"),
		debug:          flag.Bool("debug", config.Debug, "enable Telegram API debug logging"),
	}
	flag.Parse()
	return flags
}

// loadPolicyTable loads the policy table from the configured file, falling
// back to the built-in defaults.
func loadPolicyTable(path string) *policy.Table {
	if path == "" {
		slog.Debug("No policy file configured, using built-in table")
		return policy.DefaultTable()
	}
	table, err := policy.LoadFile(path)
	if err != nil {
		slog.Error("Failed to load policy file, using built-in table", "error", err, "path", path)
		return policy.DefaultTable()
	}
	return table
}

// buildAuditRepo constructs the audit store backend from flags.
func buildAuditRepo(flags Flags) store.AuditRepo {
	switch *flags.dbDriver {
	case "postgres":
		repo, err := store.NewPostgresStore(store.WithPostgresDSN(*flags.dbDSN))
		if err != nil {
			slog.Error("Failed to open Postgres audit store, falling back to memory", "error", err)
			return store.NewInMemoryAuditRepo()
		}
		return repo
	case "sqlite3":
		dsn := *flags.dbDSN
		if dsn == "" {
			dsn = *flags.stateDir + "/" + DefaultDBFileName
		}
		repo, err := store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
		if err != nil {
			slog.Error("Failed to open SQLite audit store, falling back to memory", "error", err)
			return store.NewInMemoryAuditRepo()
		}
		return repo
	default:
		slog.Debug("Using in-memory audit store", "driver", *flags.dbDriver)
		return store.NewInMemoryAuditRepo()
	}
}

// watchPolicyReload reloads the policy file on SIGHUP until ctx is done.
func watchPolicyReload(ctx context.Context, trk *tracker.Tracker, path string) {
	if path == "" {
		return
	}
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-ctx.Done():
				signal.Stop(hup)
				return
			case <-hup:
				table, err := policy.LoadFile(path)
				if err != nil {
					slog.Error("Policy reload failed, keeping current table", "error", err, "path", path)
					continue
				}
				trk.ReloadPolicies(table)
			}
		}
	}()
}
