package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	BotToken       string
	TelegramAPIURL string
	DestinationIDs []int64

	MaxPrice           int
	AllowedRooms       []int
	MinMessageInterval time.Duration
	RetentionDays      int
	SendSummary        bool

	StoreDriver string
	StorePath   string

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	HTTPTimeout     time.Duration
	FetchRetries    int
	CianRegion      int
	YandexRGID      string
	BrowserFallback bool
	ChromeBin       string

	RedisURL string
	LockTTL  time.Duration

	MetricsTextfile string
	RawCSVPath      string
	Daemon          bool
	RunInterval     time.Duration
	StatusAddr      string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		BotToken:       getEnv("TG_BOT_TOKEN", ""),
		TelegramAPIURL: strings.TrimRight(getEnv("TELEGRAM_API_URL", "https://api.telegram.org"), "/"),
		DestinationIDs: getEnvInt64List("CHAT_IDS"),

		MaxPrice:           getEnvInt("MAX_PRICE", 50_000),
		AllowedRooms:       getEnvIntSet("ALLOWED_ROOMS", []int{1}),
		MinMessageInterval: getEnvSeconds("MIN_MESSAGE_INTERVAL", 1.0),
		RetentionDays:      getEnvInt("RETENTION_DAYS", 30),
		SendSummary:        getEnvBool("SEND_SUMMARY", true),

		StoreDriver: getEnv("STORE_DRIVER", "sqlite3"),
		StorePath:   getEnv("STORE_PATH", "offers.db"),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "notifier"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "notifier123"),
		PostgresDB:       getEnv("POSTGRES_DB", "offers"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		HTTPTimeout:     getEnvSeconds("HTTP_TIMEOUT_SEC", 20),
		FetchRetries:    getEnvInt("FETCH_RETRIES", 5),
		CianRegion:      getEnvInt("CIAN_REGION", 1),
		YandexRGID:      getEnv("YANDEX_RGID", "741964"),
		BrowserFallback: getEnvBool("BROWSER_FALLBACK", false),
		ChromeBin:       getEnv("CHROME_BIN", ""),

		RedisURL: getEnv("REDIS_URL", ""),
		LockTTL:  getEnvSeconds("LOCK_TTL_SEC", 600),

		MetricsTextfile: getEnv("METRICS_TEXTFILE", ""),
		RawCSVPath:      getEnv("RAW_CSV_PATH", ""),
		Daemon:          getEnvBool("DAEMON", false),
		RunInterval:     getEnvSeconds("RUN_INTERVAL_SEC", 300),
		StatusAddr:      getEnv("STATUS_ADDR", ""),
	}
}

// Validate reports configuration that would make a run meaningless.
func (c *Config) Validate() error {
	var errs []error
	if c.BotToken == "" {
		errs = append(errs, errors.New("TG_BOT_TOKEN is not set"))
	}
	if len(c.DestinationIDs) == 0 {
		errs = append(errs, errors.New("CHAT_IDS is empty"))
	}
	if len(c.AllowedRooms) == 0 {
		errs = append(errs, errors.New("ALLOWED_ROOMS is empty"))
	}
	if c.MaxPrice <= 0 {
		errs = append(errs, fmt.Errorf("MAX_PRICE must be positive, got %d", c.MaxPrice))
	}
	if c.RetentionDays <= 0 {
		errs = append(errs, fmt.Errorf("RETENTION_DAYS must be positive, got %d", c.RetentionDays))
	}
	if c.MinMessageInterval < 0 {
		errs = append(errs, errors.New("MIN_MESSAGE_INTERVAL must not be negative"))
	}
	if c.Daemon && c.RunInterval <= 0 {
		errs = append(errs, errors.New("RUN_INTERVAL_SEC must be positive in daemon mode"))
	}
	switch c.StoreDriver {
	case "sqlite3", "postgres":
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be sqlite3 or postgres, got %q", c.StoreDriver))
	}
	return errors.Join(errs...)
}

// StoreDSN returns the data source name for the configured store driver.
func (c *Config) StoreDSN() string {
	if c.StoreDriver == "postgres" {
		return c.DSN()
	}
	return c.StorePath
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

// Retention returns the age after which listings are pruned.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func getEnv(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := getEnv(key, ""); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
		log.Printf("[config] %s=%q is not an integer, using %d", key, val, fallback)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	switch strings.ToLower(getEnv(key, "")) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func getEnvSeconds(key string, fallback float64) time.Duration {
	secs := fallback
	if val := getEnv(key, ""); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			secs = f
		} else {
			log.Printf("[config] %s=%q is not a number, using %g", key, val, fallback)
		}
	}
	return time.Duration(secs * float64(time.Second))
}

// getEnvInt64List parses a comma-separated list, keeping order and dropping
// duplicates and unparsable entries.
func getEnvInt64List(key string) []int64 {
	var out []int64
	seen := make(map[int64]struct{})
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			log.Printf("[config] %s: skipping invalid id %q", key, part)
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func getEnvIntSet(key string, fallback []int) []int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	set := make(map[int]struct{})
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			log.Printf("[config] %s: skipping invalid value %q", key, part)
			continue
		}
		set[n] = struct{}{}
	}
	out := make([]int, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}
