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

	"github.com/pepeccz/atrevete-bot-sub001/internal/actions"
	"github.com/pepeccz/atrevete-bot-sub001/internal/api"
	"github.com/pepeccz/atrevete-bot-sub001/internal/catalog"
	"github.com/pepeccz/atrevete-bot-sub001/internal/engine"
	"github.com/pepeccz/atrevete-bot-sub001/internal/fsm"
	"github.com/pepeccz/atrevete-bot-sub001/internal/genai"
	"github.com/pepeccz/atrevete-bot-sub001/internal/intent"
	"github.com/pepeccz/atrevete-bot-sub001/internal/lockfile"
	"github.com/pepeccz/atrevete-bot-sub001/internal/memory"
	"github.com/pepeccz/atrevete-bot-sub001/internal/ops"
	"github.com/pepeccz/atrevete-bot-sub001/internal/store"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for state data
	DefaultStateDir = "/var/lib/atrevete"
	// DefaultDBFileName is the default SQLite archive filename
	DefaultDBFileName = "atrevete.db"
	// DefaultAPIAddr is the default API listen address
	DefaultAPIAddr = ":8080"
	// DefaultMinLeadTime is the minimum notice before an appointment slot
	DefaultMinLeadTime = time.Hour
	// DefaultArchiveIdleCutoff is how long a conversation may idle before archival
	DefaultArchiveIdleCutoff = 24 * time.Hour
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := run(flags); err != nil {
		slog.Error("atrevete failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("atrevete exited successfully")
}

// Config holds environment configuration
type Config struct {
	RedisAddr     string
	RedisPassword string
	DatabaseURL   string
	StateDir      string
	OpenAIKey     string
	APIAddr       string
}

// Flags holds command line flag values
type Flags struct {
	redisAddr     *string
	redisPassword *string
	dbDSN         *string
	stateDir      *string
	openaiKey     *string
	apiAddr       *string
	recordTTL     *time.Duration
	archiveCutoff *time.Duration
	minLeadTime   *time.Duration
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
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
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		StateDir:      os.Getenv("ATREVETE_STATE_DIR"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		APIAddr:       os.Getenv("API_ADDR"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.APIAddr == "" {
		config.APIAddr = DefaultAPIAddr
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"REDIS_ADDR", config.RedisAddr,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"ATREVETE_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		redisAddr:     flag.String("redis-addr", config.RedisAddr, "Redis address for the hot conversation store (overrides $REDIS_ADDR); empty uses in-memory"),
		redisPassword: flag.String("redis-password", config.RedisPassword, "Redis password (overrides $REDIS_PASSWORD)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseURL, "archive database DSN, Postgres URL or SQLite path (overrides $DATABASE_URL)"),
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for local data (overrides $ATREVETE_STATE_DIR)"),
		openaiKey:     flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		recordTTL:     flag.Duration("record-ttl", store.DefaultTTL, "hot-store TTL for conversation records"),
		archiveCutoff: flag.Duration("archive-cutoff", DefaultArchiveIdleCutoff, "idle duration after which conversations are archived; must be shorter than record-ttl"),
		minLeadTime:   flag.Duration("min-lead-time", DefaultMinLeadTime, "minimum notice before an appointment slot may start"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"redisAddr", *flags.redisAddr,
		"dbDSN_set", *flags.dbDSN != "",
		"stateDir", *flags.stateDir,
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"recordTTL", *flags.recordTTL,
		"archiveCutoff", *flags.archiveCutoff,
		"minLeadTime", *flags.minLeadTime)

	return flags
}

// isPostgresDSN reports whether the DSN looks like a Postgres connection
// string rather than a SQLite file path.
func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=")
}

func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Schedule reservations live in process memory, so only one instance
	// may own the state directory at a time.
	lock, err := lockfile.Acquire(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	// Hot conversation store.
	var hot store.Store
	if *flags.redisAddr != "" {
		redisStore, err := store.NewRedisStore(ctx,
			store.WithDSN(*flags.redisAddr),
			store.WithPassword(*flags.redisPassword),
			store.WithTTL(*flags.recordTTL),
		)
		if err != nil {
			return err
		}
		hot = redisStore
	} else {
		slog.Warn("No REDIS_ADDR configured, using in-memory conversation store")
		hot = store.NewInMemoryStore(store.WithTTL(*flags.recordTTL))
	}
	defer hot.Close()

	// Archive backend, doubling as the durable booking writer.
	var (
		archive store.ArchiveSink
		writer  store.BookingWriter
	)
	if isPostgresDSN(*flags.dbDSN) {
		slog.Debug("Detected PostgreSQL DSN, configuring Postgres archive")
		pg, err := store.NewPostgresArchive(store.WithDSN(*flags.dbDSN))
		if err != nil {
			return err
		}
		archive, writer = pg, pg
	} else {
		slog.Debug("Detected SQLite DSN, configuring SQLite archive", "db_path", *flags.dbDSN)
		lite, err := store.NewSQLiteArchive(store.WithDSN(*flags.dbDSN))
		if err != nil {
			return err
		}
		archive, writer = lite, lite
	}
	defer archive.Close()

	archiver, err := store.NewArchiver(hot, archive, *flags.archiveCutoff, store.DefaultArchiveInterval)
	if err != nil {
		return err
	}
	go archiver.Start(ctx)

	// GenAI client. Without a key the bot degrades to deterministic replies
	// and fallback classification, which is only useful for local poking.
	var genaiClient genai.ClientInterface
	if *flags.openaiKey != "" {
		client, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
		if err != nil {
			return err
		}
		genaiClient = client
	} else {
		slog.Warn("No OPENAI_API_KEY configured, intent classification disabled")
	}

	cat, err := catalog.New(ctx, catalog.DefaultSource())
	if err != nil {
		return err
	}

	schedule := ops.NewScheduleService(ops.WithMinLeadTime(*flags.minLeadTime))
	bookings := ops.NewBookingService(schedule, writer)

	machine := fsm.NewMachine(*flags.minLeadTime)
	classifier := intent.NewClassifier(genaiClient)
	controller := actions.NewController(schedule, bookings, cat)
	formatter := actions.NewFormatter(genaiClient, cat)
	mem := memory.NewManager(genaiClient)

	eng := engine.New(hot, machine, classifier, controller, formatter, mem, cat)

	server := api.NewServer(eng, *flags.apiAddr)
	slog.Info("Bootstrapping atrevete booking bot", "apiAddr", *flags.apiAddr)
	return server.Start(ctx)
}
