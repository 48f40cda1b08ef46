package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Browser   BrowserConfig
	HTTP      HTTPConfig
	Vault     VaultConfig
	Telegram  TelegramConfig
	API       APIConfig
}

type ServerConfig struct {
	Port int
	Env  string // "development", "production"
}

type DatabaseConfig struct {
	Host    string
	Port    string
	Name    string
	User    string
	Pass    string
	Charset string
}

type RedisConfig struct {
	Addr string
	Pass string
	DB   int
}

type SchedulerConfig struct {
	TickInterval   time.Duration
	MaxConcurrent  int64
	RetryCount     int
	AccountTimeout time.Duration
	TaskTimeout    time.Duration
}

type BrowserConfig struct {
	PoolSize   int64
	WaitWindow time.Duration
	Headless   bool
}

type HTTPConfig struct {
	UserAgent string
	Timeout   time.Duration
}

type VaultConfig struct {
	// Key is the base64 fernet key used for credential columns.
	Key string
}

type TelegramConfig struct {
	Token  string
	ChatID string
}

type APIConfig struct {
	Key string
}

// Load reads configuration from .env file and environment variables.
func Load() (*Config, error) {
	// Load .env file (ignore error if missing)
	_ = godotenv.Load()

	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("APP_PORT", 8080)
	viper.SetDefault("APP_ENV", "production")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "3306")
	viper.SetDefault("DB_CHARSET", "utf8mb4")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("SCHED_TICK_INTERVAL", "5s")
	viper.SetDefault("SCHED_MAX_CONCURRENT", 4)
	viper.SetDefault("SCHED_RETRY_COUNT", 3)
	viper.SetDefault("SCHED_ACCOUNT_TIMEOUT", "30s")
	viper.SetDefault("SCHED_TASK_TIMEOUT", "5m")
	viper.SetDefault("BROWSER_POOL_SIZE", 2)
	viper.SetDefault("BROWSER_WAIT_WINDOW", "45s")
	viper.SetDefault("BROWSER_HEADLESS", true)
	viper.SetDefault("HTTP_USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	viper.SetDefault("HTTP_TIMEOUT", "20s")

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetInt("APP_PORT"),
			Env:  viper.GetString("APP_ENV"),
		},
		Database: DatabaseConfig{
			Host:    viper.GetString("DB_HOST"),
			Port:    viper.GetString("DB_PORT"),
			Name:    viper.GetString("DB_NAME"),
			User:    viper.GetString("DB_USER"),
			Pass:    viper.GetString("DB_PASS"),
			Charset: viper.GetString("DB_CHARSET"),
		},
		Redis: RedisConfig{
			Addr: viper.GetString("REDIS_ADDR"),
			Pass: viper.GetString("REDIS_PASS"),
			DB:   viper.GetInt("REDIS_DB"),
		},
		Scheduler: SchedulerConfig{
			TickInterval:   durationOr("SCHED_TICK_INTERVAL", 5*time.Second),
			MaxConcurrent:  viper.GetInt64("SCHED_MAX_CONCURRENT"),
			RetryCount:     viper.GetInt("SCHED_RETRY_COUNT"),
			AccountTimeout: durationOr("SCHED_ACCOUNT_TIMEOUT", 30*time.Second),
			TaskTimeout:    durationOr("SCHED_TASK_TIMEOUT", 5*time.Minute),
		},
		Browser: BrowserConfig{
			PoolSize:   viper.GetInt64("BROWSER_POOL_SIZE"),
			WaitWindow: durationOr("BROWSER_WAIT_WINDOW", 45*time.Second),
			Headless:   viper.GetBool("BROWSER_HEADLESS"),
		},
		HTTP: HTTPConfig{
			UserAgent: viper.GetString("HTTP_USER_AGENT"),
			Timeout:   durationOr("HTTP_TIMEOUT", 20*time.Second),
		},
		Vault: VaultConfig{
			Key: viper.GetString("VAULT_KEY"),
		},
		Telegram: TelegramConfig{
			Token:  viper.GetString("TELEGRAM_BOT_TOKEN"),
			ChatID: viper.GetString("TELEGRAM_CHAT_ID"),
		},
		API: APIConfig{
			Key: viper.GetString("API_KEY"),
		},
	}

	if cfg.Database.Name == "" {
		log.Println("WARNING: DB_NAME is not set")
	}
	if cfg.Vault.Key == "" {
		log.Println("WARNING: VAULT_KEY is not set, stored credentials cannot be decrypted")
	}

	return cfg, nil
}

// LoadDatabaseOnly reads just the database settings, for maintenance
// commands that must not require a full configuration.
func LoadDatabaseOnly() (*DatabaseConfig, error) {
	_ = godotenv.Load()
	viper.AutomaticEnv()
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "3306")
	viper.SetDefault("DB_CHARSET", "utf8mb4")

	return &DatabaseConfig{
		Host:    viper.GetString("DB_HOST"),
		Port:    viper.GetString("DB_PORT"),
		Name:    viper.GetString("DB_NAME"),
		User:    viper.GetString("DB_USER"),
		Pass:    viper.GetString("DB_PASS"),
		Charset: viper.GetString("DB_CHARSET"),
	}, nil
}

func durationOr(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(viper.GetString(key))
	if err != nil {
		return fallback
	}
	return d
}

// DSN returns the MySQL DSN string for GORM.
func (d *DatabaseConfig) DSN() string {
	return d.User + ":" + d.Pass + "@tcp(" + d.Host + ":" + d.Port + ")/" + d.Name + "?charset=" + d.Charset + "&parseTime=True&loc=Local"
}
