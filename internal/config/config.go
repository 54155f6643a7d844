package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds process configuration read from the environment.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	// NodeID seeds the snowflake generator and must differ per process.
	NodeID      int64

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// SchedulerJobs limits which sweeps this process runs. Empty runs all.
	SchedulerJobs []string

	Telegram TelegramConfig
	Admin    AdminConfig
}

type TelegramConfig struct {
	BotToken    string
	APIEndpoint string
	GroupID     int64
	AdminChatID int64
	CallTimeout time.Duration
	// PollTimeout is the long-poll timeout in seconds passed to getUpdates.
	PollTimeout int
}

type AdminConfig struct {
	// APIKeys maps a role to bcrypt hashes of the keys granted that role.
	APIKeys     map[string][]string
	CORSOrigins []string
}

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewMembershipPolicyHolder),
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:      getenv("APP_SERVICE", "trialgate"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		NodeID:       getenvInt64("SNOWFLAKE_NODE_ID", 1),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "trialgate"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 20)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       int(getenvInt64("REDIS_DB", 0)),

		SchedulerJobs: parseList(getenv("SCHEDULER_JOBS", "")),

		Telegram: TelegramConfig{
			BotToken:    strings.TrimSpace(getenv("TELEGRAM_BOT_TOKEN", "")),
			APIEndpoint: strings.TrimSpace(getenv("TELEGRAM_API_ENDPOINT", "")),
			GroupID:     getenvInt64("TELEGRAM_GROUP_ID", 0),
			AdminChatID: getenvInt64("TELEGRAM_ADMIN_CHAT_ID", 0),
			CallTimeout: getenvDuration("TELEGRAM_CALL_TIMEOUT", 10*time.Second),
			PollTimeout: int(getenvInt64("TELEGRAM_POLL_TIMEOUT", 30)),
		},
		Admin: AdminConfig{
			APIKeys:     parseAPIKeys(getenv("ADMIN_API_KEYS", "")),
			CORSOrigins: parseList(getenv("ADMIN_CORS_ORIGINS", "")),
		},
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// parseAPIKeys reads "role:hash,role:hash". Bcrypt hashes contain '$' but
// never ':', so the first colon separates the role.
func parseAPIKeys(raw string) map[string][]string {
	out := map[string][]string{}
	for _, entry := range parseList(raw) {
		role, hash, ok := strings.Cut(entry, ":")
		role = strings.ToLower(strings.TrimSpace(role))
		hash = strings.TrimSpace(hash)
		if !ok || role == "" || hash == "" {
			continue
		}
		out[role] = append(out[role], hash)
	}
	return out
}
