package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Candidate dataset locations, tried in order.
	DatasetSources []string `validate:"min=1,dive,required"`
	SyncTimeout    time.Duration
	MaxRetries     int `validate:"gte=1"`

	PhotoThumbWidth     int    `validate:"gte=16,lte=4096"`
	PhotoMax            int    `validate:"gte=1,lte=10"`
	PhotoProxyURL       string `validate:"omitempty,url"`
	PlaceholderPhotoURL string `validate:"required,url"`

	RedisURL        string
	RedisDatasetKey string
	RedisTTL        time.Duration

	HTTPAddr    string `validate:"required"`
	CORSOrigins []string

	LogLevel  string `validate:"omitempty,oneof=debug info warn warning error"`
	LogFormat string `validate:"omitempty,oneof=text json"`

	CSVOutputPath string
	ChromeBin     string

	SFTPHost      string
	SFTPPort      int
	SFTPUser      string
	SFTPPassword  string
	SFTPRemoteDir string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "broker"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "broker123"),
		PostgresDB:       getEnv("POSTGRES_DB", "realestate"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		DatasetSources: getEnvList("DATASET_SOURCES", []string{"../base.csv", "base.csv", "./src/base.csv"}),
		SyncTimeout:    time.Duration(getEnvInt("SYNC_TIMEOUT_SEC", 30)) * time.Second,
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),

		PhotoThumbWidth:     getEnvInt("PHOTO_THUMB_WIDTH", 800),
		PhotoMax:            getEnvInt("PHOTO_MAX", 10),
		PhotoProxyURL:       getEnv("PHOTO_PROXY_URL", ""),
		PlaceholderPhotoURL: getEnv("PLACEHOLDER_PHOTO_URL", "https://images.unsplash.com/photo-1560448204-e02f11c3d0e2?w=800"),

		RedisURL:        getEnv("REDIS_URL", ""),
		RedisDatasetKey: getEnv("REDIS_DATASET_KEY", "property-sync:dataset"),
		RedisTTL:        time.Duration(getEnvInt("REDIS_TTL_MIN", 60)) * time.Minute,

		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		CORSOrigins: getEnvList("CORS_ORIGINS", []string{"*"}),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		CSVOutputPath: getEnv("CSV_OUTPUT_PATH", "./output/properties.csv"),
		ChromeBin:     getEnv("CHROME_BIN", ""),

		SFTPHost:      getEnv("SFTP_HOST", ""),
		SFTPPort:      getEnvInt("SFTP_PORT", 22),
		SFTPUser:      getEnv("SFTP_USER", ""),
		SFTPPassword:  getEnv("SFTP_PASS", ""),
		SFTPRemoteDir: getEnv("SFTP_REMOTE_DIR", "/"),
	}
}

// Validate checks the loaded values against the struct tags above.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
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

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
