package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates the bot's configuration values.
type Config struct {
	Bot     BotConfig
	Store   StoreConfig
	Sheets  SheetsConfig
	Rates   RatesConfig
	Proofs  ProofsConfig
	Logging LoggingConfig

	CatalogPath string
	Location    *time.Location
}

// BotConfig controls how updates reach the bot.
type BotConfig struct {
	Token         string
	Mode          string // poll|webhook
	WebhookURL    string
	WebhookSecret string
	Port          string
}

// StoreConfig selects and locates the operator directory and payment records.
type StoreConfig struct {
	Backend     string // postgres|mongo
	DatabaseURL string
	MaxConns    int
	MongoURI    string
	MongoDB     string
}

type SheetsConfig struct {
	SpreadsheetID   string
	Range           string
	CredentialsJSON []byte
}

type RatesConfig struct {
	URL      string
	TTL      time.Duration
	RedisURL string
}

type ProofsConfig struct {
	Backend       string // gridfs|telegram
	PublicBaseURL string
}

type LoggingConfig struct {
	Level  string
	Format string // json|console
}

const (
	ModePoll    = "poll"
	ModeWebhook = "webhook"

	BackendPostgres = "postgres"
	BackendMongo    = "mongo"

	ProofsGridFS   = "gridfs"
	ProofsTelegram = "telegram"
)

const (
	defaultPort       = "8080"
	defaultMaxConns   = 10
	defaultMongoDB    = "paybot"
	defaultSheetRange = "Payments!A:J"
	defaultRatesURL   = "https://api.frankfurter.app"
	defaultRatesTTL   = 24 * time.Hour
	defaultLogLevel   = "info"
	defaultLogFormat  = "json"
	defaultTimezone   = "UTC"
)

// Load reads .env when present, then the environment, applying defaults.
func Load() (Config, error) {
	LoadDotEnv()
	return FromEnv()
}

// LoadStore reads only the database settings, for commands that never talk
// to Telegram.
func LoadStore() (StoreConfig, error) {
	LoadDotEnv()
	return storeFromEnv()
}

// LoggingFromEnv reads LOG_LEVEL and LOG_FORMAT.
func LoggingFromEnv() LoggingConfig {
	return LoggingConfig{
		Level:  valueOrDefault("LOG_LEVEL", defaultLogLevel),
		Format: valueOrDefault("LOG_FORMAT", defaultLogFormat),
	}
}

// LoadDotEnv copies .env into the environment when the file exists. Variables
// already set win.
func LoadDotEnv() {
	loadDotEnvFile(".env")
}

func loadDotEnvFile(path string) {
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: Error loading %s: %s", path, err)
	}
}

// FromEnv builds the configuration from environment variables only.
func FromEnv() (Config, error) {
	cfg := Config{
		Bot: BotConfig{
			Token:         os.Getenv("BOT_TOKEN"),
			Mode:          strings.ToLower(valueOrDefault("BOT_MODE", ModePoll)),
			WebhookURL:    os.Getenv("WEBHOOK_URL"),
			WebhookSecret: os.Getenv("WEBHOOK_SECRET"),
			Port:          valueOrDefault("PORT", defaultPort),
		},
		Sheets: SheetsConfig{
			SpreadsheetID: os.Getenv("GOOGLE_SHEET_ID"),
			Range:         valueOrDefault("GOOGLE_SHEET_RANGE", defaultSheetRange),
		},
		Rates: RatesConfig{
			URL:      strings.TrimRight(valueOrDefault("RATES_URL", defaultRatesURL), "/"),
			TTL:      defaultRatesTTL,
			RedisURL: os.Getenv("REDIS_URL"),
		},
		Proofs: ProofsConfig{
			PublicBaseURL: strings.TrimRight(os.Getenv("PROOF_PUBLIC_BASE_URL"), "/"),
		},
		Logging:     LoggingFromEnv(),
		CatalogPath: os.Getenv("CATALOG_PATH"),
	}

	if cfg.Bot.Token == "" {
		return Config{}, fmt.Errorf("BOT_TOKEN environment variable not set")
	}
	if cfg.Bot.Mode != ModePoll && cfg.Bot.Mode != ModeWebhook {
		return Config{}, fmt.Errorf("invalid BOT_MODE %q: must be %s or %s", cfg.Bot.Mode, ModePoll, ModeWebhook)
	}
	if cfg.Bot.Mode == ModeWebhook && (cfg.Bot.WebhookURL == "" || cfg.Bot.WebhookSecret == "") {
		return Config{}, fmt.Errorf("webhook mode needs WEBHOOK_URL and WEBHOOK_SECRET")
	}

	store, err := storeFromEnv()
	if err != nil {
		return Config{}, err
	}
	cfg.Store = store

	proofs := strings.ToLower(os.Getenv("BLOB_BACKEND"))
	switch {
	case proofs == "" && cfg.Store.MongoURI != "":
		proofs = ProofsGridFS
	case proofs == "":
		proofs = ProofsTelegram
	case proofs != ProofsGridFS && proofs != ProofsTelegram:
		return Config{}, fmt.Errorf("invalid BLOB_BACKEND %q: must be %s or %s", proofs, ProofsGridFS, ProofsTelegram)
	}
	if proofs == ProofsGridFS && cfg.Store.MongoURI == "" {
		return Config{}, fmt.Errorf("BLOB_BACKEND=%s needs MONGOURI", ProofsGridFS)
	}
	cfg.Proofs.Backend = proofs

	if v := os.Getenv("RATES_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid RATES_TTL: %w", err)
		}
		cfg.Rates.TTL = d
	}

	creds, err := credentials()
	if err != nil {
		return Config{}, err
	}
	cfg.Sheets.CredentialsJSON = creds
	if cfg.Sheets.SpreadsheetID == "" || len(creds) == 0 {
		return Config{}, fmt.Errorf("GOOGLE_SHEET_ID and GOOGLE_JSON or GOOGLE_CREDENTIALS_FILE must be set")
	}

	loc, err := time.LoadLocation(valueOrDefault("TIMEZONE", defaultTimezone))
	if err != nil {
		return Config{}, fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	cfg.Location = loc

	return cfg, nil
}

func storeFromEnv() (StoreConfig, error) {
	s := StoreConfig{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		MongoURI:    os.Getenv("MONGOURI"),
		MongoDB:     valueOrDefault("MONGO_DB", defaultMongoDB),
	}

	maxConns, err := parseIntWithDefault("DB_MAX_CONNS", defaultMaxConns)
	if err != nil {
		return StoreConfig{}, err
	}
	s.MaxConns = maxConns

	backend, err := storeBackend(s)
	if err != nil {
		return StoreConfig{}, err
	}
	s.Backend = backend
	return s, nil
}

func storeBackend(s StoreConfig) (string, error) {
	backend := strings.ToLower(os.Getenv("STORE_BACKEND"))
	if backend == "" {
		backend = BackendPostgres
		if s.DatabaseURL == "" && s.MongoURI != "" {
			backend = BackendMongo
		}
	}
	switch backend {
	case BackendPostgres:
		if s.DatabaseURL == "" {
			return "", fmt.Errorf("DATABASE_URL environment variable not set")
		}
	case BackendMongo:
		if s.MongoURI == "" {
			return "", fmt.Errorf("MONGOURI environment variable not set")
		}
	default:
		return "", fmt.Errorf("invalid STORE_BACKEND %q: must be %s or %s", backend, BackendPostgres, BackendMongo)
	}
	return backend, nil
}

func credentials() ([]byte, error) {
	if v := os.Getenv("GOOGLE_JSON"); v != "" {
		return []byte(v), nil
	}
	path := os.Getenv("GOOGLE_CREDENTIALS_FILE")
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read GOOGLE_CREDENTIALS_FILE: %w", err)
	}
	return raw, nil
}

func valueOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func parseIntWithDefault(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive integer", key, v)
	}
	return n, nil
}
