package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/outletmedia/leadpipe/internal/api"
	"github.com/outletmedia/leadpipe/internal/breaker"
	"github.com/outletmedia/leadpipe/internal/cache"
	"github.com/outletmedia/leadpipe/internal/crm"
	"github.com/outletmedia/leadpipe/internal/dispatch"
	"github.com/outletmedia/leadpipe/internal/extraction"
	"github.com/outletmedia/leadpipe/internal/gate"
	"github.com/outletmedia/leadpipe/internal/genai"
	"github.com/outletmedia/leadpipe/internal/messaging"
	"github.com/outletmedia/leadpipe/internal/models"
	"github.com/outletmedia/leadpipe/internal/scheduler"
	"github.com/outletmedia/leadpipe/internal/store"
	"github.com/outletmedia/leadpipe/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for LeadPipe state data
	DefaultStateDir = "/var/lib/leadpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "leadpipe.db"
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 15 * time.Second
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	leads, err := buildLeadStore(flags)
	if err != nil {
		slog.Error("Failed to initialize lead store", "error", err)
		os.Exit(1)
	}
	defer leads.Close()

	genaiClient, err := genai.NewClient(
		genai.WithAPIKey(*flags.openaiKey),
		genai.WithModel(*flags.openaiModel),
		genai.WithTemperature(config.Temperature),
	)
	if err != nil {
		slog.Error("Failed to initialize GenAI client", "error", err)
		os.Exit(1)
	}

	crmClient, err := crm.NewClient(
		crm.WithAPIKey(*flags.crmKey),
		crm.WithLocationID(*flags.crmLocation),
	)
	if err != nil {
		slog.Error("Failed to initialize CRM client", "error", err)
		os.Exit(1)
	}

	sender, err := buildSender(flags, crmClient)
	if err != nil {
		slog.Error("Failed to initialize messaging sender", "error", err)
		os.Exit(1)
	}

	dedup := cache.New[struct{}](gate.DedupTTL)
	calendar := cache.New[[]models.Slot](dispatch.CalendarTTL)
	b := breaker.New()

	dispatcher := dispatch.NewDispatcher(crmClient, sender, calendar,
		dispatch.WithCalendarID(*flags.calendarID),
		dispatch.WithPhraser(genaiClient),
	)
	coordinator := extraction.NewCoordinator(extraction.NewGenAIExtractor(genaiClient))
	conversationGate := gate.New(leads, coordinator, dispatcher, b, dedup)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob(scheduler.SweepSchedule, func() {
		dedup.Sweep()
		calendar.Sweep()
	}); err != nil {
		slog.Error("Failed to schedule cache sweep", "error", err)
		os.Exit(1)
	}

	server := api.NewServer(conversationGate, b, dedup, calendar, api.WithAddr(*flags.apiAddr))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	slog.Info("LeadPipe running", "addr", *flags.apiAddr, "store", store.DetectDSNType(*flags.dbDSN))
	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("API server failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Graceful shutdown failed", "error", err)
			os.Exit(1)
		}
	}
	slog.Info("LeadPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL string
	StateDir    string
	OpenAIKey   string
	OpenAIModel string
	Temperature float64
	CRMKey      string
	CRMLocation string
	CalendarID  string
	APIAddr     string
	Channel     string
}

// Flags holds command line flag values
type Flags struct {
	stateDir    *string
	dbDSN       *string
	openaiKey   *string
	openaiModel *string
	crmKey      *string
	crmLocation *string
	calendarID  *string
	apiAddr     *string
	channel     *string
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
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StateDir:    util.GetEnv("LEADPIPE_STATE_DIR", DefaultStateDir),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		OpenAIModel: os.Getenv("OPENAI_MODEL"),
		Temperature: util.ParseFloatEnv("OPENAI_TEMPERATURE", 0),
		CRMKey:      os.Getenv("GHL_API_KEY"),
		CRMLocation: os.Getenv("GHL_LOCATION_ID"),
		CalendarID:  os.Getenv("GHL_CALENDAR_ID"),
		APIAddr:     util.GetEnv("API_ADDR", api.DefaultAddr),
		Channel:     util.GetEnv("MESSAGING_CHANNEL", "crm"),
	}

	// Default to SQLite in the state directory when no database URL is set.
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", os.Getenv("DATABASE_URL") != "",
		"LEADPIPE_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"GHL_API_KEY_SET", config.CRMKey != "",
		"GHL_CALENDAR_ID_SET", config.CalendarID != "",
		"API_ADDR", config.APIAddr,
		"MESSAGING_CHANNEL", config.Channel)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:    flag.String("state-dir", config.StateDir, "state directory for LeadPipe data (overrides $LEADPIPE_STATE_DIR)"),
		dbDSN:       flag.String("db-dsn", config.DatabaseURL, "database DSN: SQLite path, postgres:// or redis:// URL (overrides $DATABASE_URL)"),
		openaiKey:   flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel: flag.String("openai-model", config.OpenAIModel, "OpenAI chat model (overrides $OPENAI_MODEL)"),
		crmKey:      flag.String("crm-api-key", config.CRMKey, "CRM API key (overrides $GHL_API_KEY)"),
		crmLocation: flag.String("crm-location-id", config.CRMLocation, "CRM location ID (overrides $GHL_LOCATION_ID)"),
		calendarID:  flag.String("calendar-id", config.CalendarID, "CRM calendar ID for bookings (overrides $GHL_CALENDAR_ID)"),
		apiAddr:     flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		channel:     flag.String("channel", config.Channel, "outbound messaging channel: crm or twilio (overrides $MESSAGING_CHANNEL)"),
	}

	flag.Parse()

	// Follow an overridden state directory when the DSN was defaulted.
	defaultDSN := filepath.Join(config.StateDir, DefaultDBFileName)
	if *flags.dbDSN == defaultDSN && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"channel", *flags.channel)

	return flags
}

// buildLeadStore selects the storage backend from the DSN.
func buildLeadStore(flags Flags) (store.LeadStore, error) {
	dsn := *flags.dbDSN
	switch store.DetectDSNType(dsn) {
	case "postgres":
		slog.Info("Using PostgreSQL lead store")
		return store.NewPostgresStore(store.WithDSN(dsn))
	case "redis":
		slog.Info("Using Redis lead store")
		return store.NewRedisStoreFromURL(dsn)
	default:
		slog.Info("Using SQLite lead store", "path", dsn)
		return store.NewSQLiteStore(store.WithDSN(dsn))
	}
}

// buildSender selects the outbound messaging channel.
func buildSender(flags Flags, crmClient crm.Service) (messaging.Sender, error) {
	if *flags.channel == "twilio" {
		slog.Info("Using Twilio WhatsApp sender")
		return messaging.NewTwilioSender()
	}
	slog.Info("Using CRM conversations sender")
	return messaging.NewCRMSender(crmClient), nil
}
