package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"papertrade/internal/models"
)

// Драйверы хранилища
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StorePebble   = "pebble"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server  ServerConfig
	Store   StoreConfig
	Paper   PaperConfig
	Trading Params
	Feed    FeedConfig
	API     APIConfig
	Logging LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// StoreConfig - настройки хранилища состояния брокера
type StoreConfig struct {
	Driver string // memory, postgres, pebble

	// PostgreSQL
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string

	// Pebble
	PebblePath string

	// Retry при открытии хранилища на старте
	MaxRetries   int
	RetryBackoff time.Duration
}

// PaperConfig - риск-параметры бумажного счёта
type PaperConfig struct {
	StartingBalance float64
	Risk            models.RiskConfig
}

// FeedConfig - настройки mock-фида цен
type FeedConfig struct {
	Enabled  bool
	Seeds    map[string]float64 // стартовые цены по символам
	MinPrice float64
	MaxPrice float64
	Step     float64 // максимальный шаг случайного блуждания
}

// APIConfig - настройки HTTP API
type APIConfig struct {
	APIKeyHash     string  // bcrypt хеш API ключа, пусто = без аутентификации
	OrdersPerSec   float64 // лимит размещения ордеров
	OrdersBurst    int
	AllowedOrigins []string
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string // json, text
	Output string // путь к файлу, пусто = stderr
}

// Load загружает конфигурацию из переменных окружения
//
// Если задан envFile и он существует, переменные из него подгружаются
// в окружение (уже заданные переменные не перезаписываются).
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("load env file %s: %w", envFile, err)
			}
		}
	}

	defaults := models.DefaultRiskConfig()
	params := DefaultParams()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Store: StoreConfig{
			Driver:       strings.ToLower(getEnv("STORE_DRIVER", StoreMemory)),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			Name:         getEnv("DB_NAME", "papertrade"),
			User:         getEnv("DB_USER", "user"),
			Password:     getEnv("DB_PASSWORD", "password"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			PebblePath:   getEnv("PEBBLE_PATH", "data/paper"),
			MaxRetries:   getEnvAsInt("STORE_MAX_RETRIES", 3),
			RetryBackoff: getEnvAsDuration("STORE_RETRY_BACKOFF", 500*time.Millisecond),
		},
		Paper: PaperConfig{
			StartingBalance: getEnvAsFloat("PAPER_STARTING_BALANCE", models.StartingBalance),
			Risk: models.RiskConfig{
				MaxPositionSize: getEnvAsFloat("PAPER_MAX_POSITION_SIZE", defaults.MaxPositionSize),
				MaxDailyLoss:    getEnvAsFloat("PAPER_MAX_DAILY_LOSS", defaults.MaxDailyLoss),
				MaxLeverage:     getEnvAsFloat("PAPER_MAX_LEVERAGE", defaults.MaxLeverage),
				SymbolAllowlist: upperAll(getEnvAsList("PAPER_SYMBOL_ALLOWLIST", defaults.SymbolAllowlist)),
				MakerFeeBps:     getEnvAsFloat("PAPER_MAKER_FEE_BPS", defaults.MakerFeeBps),
				TakerFeeBps:     getEnvAsFloat("PAPER_TAKER_FEE_BPS", defaults.TakerFeeBps),
			},
		},
		Feed: FeedConfig{
			Enabled:  getEnvAsBool("FEED_MOCK_ENABLED", true),
			Seeds:    getEnvAsPriceMap("FEED_SEED_PRICES", map[string]float64{"BTCUSDT": 50000, "ETHUSDT": 3000, "ADAUSDT": 1000}),
			MinPrice: getEnvAsFloat("FEED_MIN_PRICE", 1000),
			MaxPrice: getEnvAsFloat("FEED_MAX_PRICE", 100000),
			Step:     getEnvAsFloat("FEED_STEP", 100),
		},
		API: APIConfig{
			APIKeyHash:     getEnv("API_KEY_HASH", ""),
			OrdersPerSec:   getEnvAsFloat("API_ORDERS_PER_SEC", 20),
			OrdersBurst:    getEnvAsInt("API_ORDERS_BURST", 40),
			AllowedOrigins: getEnvAsList("API_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", ""),
		},
	}

	// Торговые параметры: комиссии по умолчанию совпадают с риск-конфигом
	params.MakerBps = cfg.Paper.Risk.MakerFeeBps
	params.TakerBps = cfg.Paper.Risk.TakerFeeBps
	params.MaxSlippageBps = getEnvAsFloat("PAPER_MAX_SLIPPAGE_BPS", params.MaxSlippageBps)
	params.TickSize = getEnvAsFloat("PAPER_TICK_SIZE", params.TickSize)
	params.LotSize = getEnvAsFloat("PAPER_LOT_SIZE", params.LotSize)
	params.StopWatcherMs = getEnvAsFloat("PAPER_STOP_WATCHER_MS", params.StopWatcherMs)
	cfg.Trading = params

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Store.Driver {
	case StoreMemory, StorePebble:
	case StorePostgres:
		if c.Store.Port < 1 || c.Store.Port > 65535 {
			return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Store.Port)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be one of memory, postgres, pebble, got %q", c.Store.Driver)
	}

	if c.Store.MaxRetries < 0 || c.Store.MaxRetries > 10 {
		return fmt.Errorf("STORE_MAX_RETRIES must be between 0 and 10, got %d", c.Store.MaxRetries)
	}

	if c.Paper.StartingBalance <= 0 {
		return fmt.Errorf("PAPER_STARTING_BALANCE must be positive, got %v", c.Paper.StartingBalance)
	}
	if c.Paper.Risk.MaxLeverage <= 0 {
		return fmt.Errorf("PAPER_MAX_LEVERAGE must be positive, got %v", c.Paper.Risk.MaxLeverage)
	}
	if len(c.Paper.Risk.SymbolAllowlist) == 0 {
		return fmt.Errorf("PAPER_SYMBOL_ALLOWLIST must not be empty")
	}

	if c.Trading.TickSize <= 0 {
		return fmt.Errorf("PAPER_TICK_SIZE must be positive, got %v", c.Trading.TickSize)
	}
	if c.Trading.LotSize <= 0 {
		return fmt.Errorf("PAPER_LOT_SIZE must be positive, got %v", c.Trading.LotSize)
	}
	if c.Trading.MakerBps < 0 || c.Trading.TakerBps < 0 || c.Trading.MaxSlippageBps < 0 {
		return fmt.Errorf("fee and slippage bps cannot be negative")
	}
	if c.Trading.StopWatcherMs <= 0 {
		return fmt.Errorf("PAPER_STOP_WATCHER_MS must be positive, got %v", c.Trading.StopWatcherMs)
	}

	if c.Feed.MinPrice <= 0 || c.Feed.MaxPrice <= c.Feed.MinPrice {
		return fmt.Errorf("FEED_MIN_PRICE must be positive and below FEED_MAX_PRICE, got %v..%v", c.Feed.MinPrice, c.Feed.MaxPrice)
	}

	if c.API.OrdersPerSec <= 0 || c.API.OrdersBurst <= 0 {
		return fmt.Errorf("API_ORDERS_PER_SEC and API_ORDERS_BURST must be positive")
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (s StoreConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		s.Host, s.Port, s.User, s.Password, s.Name, s.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (s StoreConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		s.Host, s.Port, s.User, s.Name, s.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList читает список через запятую, пустые элементы отбрасываются
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return append([]string(nil), defaultValue...)
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvAsPriceMap читает пары SYMBOL=PRICE через запятую
func getEnvAsPriceMap(key string, defaultValue map[string]float64) map[string]float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	out := make(map[string]float64)
	for _, pair := range strings.Split(valueStr, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 {
			continue
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil || price <= 0 {
			continue
		}
		out[strings.ToUpper(strings.TrimSpace(parts[0]))] = price
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func upperAll(items []string) []string {
	for i, item := range items {
		items[i] = strings.ToUpper(item)
	}
	return items
}
