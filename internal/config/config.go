package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config содержит всю конфигурацию арбитражного движка
type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	Database   DatabaseConfig
	Exchanges  map[string]ExchangeConfig
	Trading    TradingConfig
	MarketData MarketDataConfig
	Execution  ExecutionConfig
	Funds      FundsConfig
	Telegram   TelegramConfig
	Logging    LoggingConfig
}

// ServerConfig - настройки HTTP сервера микросервиса
type ServerConfig struct {
	Host string
	Port int
}

// RedisConfig - настройки подключения к Redis (кэш рыночных данных)
type RedisConfig struct {
	Host     string
	Port     int
	DB       int
	Password string
}

// Addr возвращает адрес Redis в формате host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// DatabaseConfig - настройки подключения к PostgreSQL
type DatabaseConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// ExchangeConfig - учётные данные и комиссии одной биржи
type ExchangeConfig struct {
	APIKey     string
	APISecret  string
	Passphrase string  // только для OKX
	TakerFee   float64 // комиссия тейкера (доля, 0.001 = 0.1%)
	MakerFee   float64 // комиссия мейкера
}

// TradingConfig - торговые параметры детектора
type TradingConfig struct {
	Pairs []string // отслеживаемые пары BASE/QUOTE

	MinProfitMargin     float64       // минимальная маржа цикла (0.003 = 0.3%)
	MaxCapitalPerTrade  float64       // доля свободного баланса на сделку
	MaxBidAskSpread     float64       // фильтр ликвидности (0.004 = 0.4%)
	VolatilityThreshold float64       // фильтр волатильности (0.03 = 3%)
	VolatilityWindow    time.Duration // окно истории цен
	Slippage            float64       // константа проскальзывания (0.0005 = 0.05%)
	StalenessBound      time.Duration // максимальный возраст тикера в кэше
	DefaultTradeVolume  float64       // fallback объёма, если баланс недоступен
	ScanInterval        time.Duration // целевой период сканирования
	OpportunityTTL      time.Duration // TTL возможности в кэше
}

// MarketDataConfig - настройки сбора рыночных данных
type MarketDataConfig struct {
	TickerInterval       time.Duration // целевой период опроса тикеров (~100ms)
	BookInterval         time.Duration // целевой период опроса стаканов (~1s)
	BookDepth            int           // глубина стакана
	RequestTimeout       time.Duration // дедлайн одного запроса к бирже
	MaxConsecutiveErrors int           // бюджет ошибок до пересоздания адаптера
	MonitorInterval      time.Duration // период монитора соединений
	StaleAfter           time.Duration // отсутствие обновлений → принудительный recycle
	CacheTTL             time.Duration // TTL записей тикеров/стаканов
}

// ExecutionConfig - настройки координатора исполнения
type ExecutionConfig struct {
	OrderTimeout        time.Duration // ожидание исполнения ордера
	FillPollInterval    time.Duration // период опроса статуса ордера
	PriceDriftTolerance float64       // допуск ухода цены (0.005 = 0.5%)
	AutoApproveCapital  float64       // ниже этого объёма (в quote) - без подтверждения
	ApprovalTTL         time.Duration // ожидание ответа канала подтверждений
}

// FundsConfig - настройки роутера переводов
type FundsConfig struct {
	LockTTL         time.Duration // TTL распределённой блокировки
	MonitorInterval time.Duration // период опроса статуса вывода
	MaxTransferTime time.Duration // ограничение ожидания терминального статуса
}

// TelegramConfig - канал подтверждений оператора
type TelegramConfig struct {
	BotToken    string
	AdminChatID int64
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// defaultPairs - топ торговых пар по объёму (как у оригинального бота)
var defaultPairs = []string{
	"BTC/USDT", "ETH/USDT", "BNB/USDT", "XRP/USDT", "SOL/USDT",
	"ADA/USDT", "AVAX/USDT", "DOGE/USDT", "DOT/USDT", "MATIC/USDT",
	"LINK/USDT", "LTC/USDT", "UNI/USDT", "ATOM/USDT", "ETC/USDT",
	"XLM/USDT", "NEAR/USDT", "ALGO/USDT", "FIL/USDT", "APE/USDT",
	"MANA/USDT", "SAND/USDT", "AXS/USDT", "AAVE/USDT", "EGLD/USDT",
	"XMR/USDT", "THETA/USDT", "EOS/USDT", "CAKE/USDT", "XTZ/USDT",
	"ZEC/USDT", "FLOW/USDT", "KCS/USDT", "NEO/USDT", "IOTA/USDT",
	"BTT/USDT", "KLAY/USDT", "BSV/USDT", "DASH/USDT", "MKR/USDT",
	"XEM/USDT", "HNT/USDT", "CHZ/USDT", "BAT/USDT", "ENJ/USDT",
	"ZIL/USDT", "WAVES/USDT", "COMP/USDT", "QTUM/USDT", "OMG/USDT",
}

// Load загружает конфигурацию из переменных окружения.
// portEnv задаёт имя переменной с портом сервиса (у каждого бинаря свой),
// defaultPort - порт по умолчанию.
func Load(portEnv string, defaultPort int) (*Config, error) {
	// .env опционален: в контейнерах окружение приходит снаружи
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnvAsInt(portEnv, defaultPort),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvAsInt("POSTGRES_PORT", 5432),
			Name:     getEnv("POSTGRES_DB", "crypto_arb_bot"),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			SSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),
		},
		Exchanges: loadExchanges(),
		Trading: TradingConfig{
			Pairs:               getEnvAsList("TRADING_PAIRS", defaultPairs),
			MinProfitMargin:     getEnvAsFloat("MIN_PROFIT_MARGIN", 0.003),
			MaxCapitalPerTrade:  getEnvAsFloat("MAX_CAPITAL_PER_TRADE", 0.1),
			MaxBidAskSpread:     getEnvAsFloat("MAX_BID_ASK_SPREAD", 0.004),
			VolatilityThreshold: getEnvAsFloat("VOLATILITY_THRESHOLD", 0.03),
			VolatilityWindow:    getEnvAsDuration("VOLATILITY_WINDOW", 5*time.Minute),
			Slippage:            getEnvAsFloat("SLIPPAGE", 0.0005),
			StalenessBound:      getEnvAsDuration("TICKER_STALENESS_BOUND", 30*time.Second),
			DefaultTradeVolume:  getEnvAsFloat("DEFAULT_TRADE_VOLUME", 1000),
			ScanInterval:        getEnvAsDuration("SCAN_INTERVAL", 200*time.Millisecond),
			OpportunityTTL:      getEnvAsDuration("OPPORTUNITY_TTL", 5*time.Minute),
		},
		MarketData: MarketDataConfig{
			TickerInterval:       getEnvAsDuration("TICKER_INTERVAL", 100*time.Millisecond),
			BookInterval:         getEnvAsDuration("ORDERBOOK_INTERVAL", time.Second),
			BookDepth:            getEnvAsInt("ORDERBOOK_DEPTH", 20),
			RequestTimeout:       getEnvAsDuration("REQUEST_TIMEOUT", 5*time.Second),
			MaxConsecutiveErrors: getEnvAsInt("MAX_CONSECUTIVE_ERRORS", 5),
			MonitorInterval:      getEnvAsDuration("MONITOR_INTERVAL", 30*time.Second),
			StaleAfter:           getEnvAsDuration("CONNECTION_STALE_AFTER", time.Minute),
			CacheTTL:             getEnvAsDuration("MARKET_CACHE_TTL", time.Hour),
		},
		Execution: ExecutionConfig{
			OrderTimeout:        getEnvAsDuration("ORDER_TIMEOUT", time.Minute),
			FillPollInterval:    getEnvAsDuration("FILL_POLL_INTERVAL", time.Second),
			PriceDriftTolerance: getEnvAsFloat("PRICE_DRIFT_TOLERANCE", 0.005),
			AutoApproveCapital:  getEnvAsFloat("AUTO_APPROVE_CAPITAL", 0),
			ApprovalTTL:         getEnvAsDuration("APPROVAL_TTL", 5*time.Minute),
		},
		Funds: FundsConfig{
			LockTTL:         getEnvAsDuration("TRANSFER_LOCK_TTL", 10*time.Second),
			MonitorInterval: getEnvAsDuration("TRANSFER_MONITOR_INTERVAL", 30*time.Second),
			MaxTransferTime: getEnvAsDuration("MAX_TRANSFER_TIME", 30*time.Minute),
		},
		Telegram: TelegramConfig{
			BotToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
			AdminChatID: getEnvAsInt64("TELEGRAM_ADMIN_CHAT_ID", 0),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadExchanges читает учётные данные всех поддерживаемых бирж
func loadExchanges() map[string]ExchangeConfig {
	return map[string]ExchangeConfig{
		"okx": {
			APIKey:     getEnv("OKX_API_KEY", ""),
			APISecret:  getEnv("OKX_API_SECRET", ""),
			Passphrase: getEnv("OKX_PASSWORD", ""),
			TakerFee:   getEnvAsFloat("OKX_TAKER_FEE", 0.001),
			MakerFee:   getEnvAsFloat("OKX_MAKER_FEE", 0.0008),
		},
		"bybit": {
			APIKey:    getEnv("BYBIT_API_KEY", ""),
			APISecret: getEnv("BYBIT_API_SECRET", ""),
			TakerFee:  getEnvAsFloat("BYBIT_TAKER_FEE", 0.001),
			MakerFee:  getEnvAsFloat("BYBIT_MAKER_FEE", 0.0008),
		},
		"htx": {
			APIKey:    getEnv("HTX_API_KEY", ""),
			APISecret: getEnv("HTX_API_SECRET", ""),
			TakerFee:  getEnvAsFloat("HTX_TAKER_FEE", 0.001),
			MakerFee:  getEnvAsFloat("HTX_MAKER_FEE", 0.0008),
		},
	}
}

// validate проверяет числовые диапазоны параметров
func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("service port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		return fmt.Errorf("REDIS_PORT must be between 1 and 65535, got %d", c.Redis.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("POSTGRES_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Trading.MinProfitMargin < 0 {
		return fmt.Errorf("MIN_PROFIT_MARGIN cannot be negative, got %v", c.Trading.MinProfitMargin)
	}

	if c.Trading.MaxCapitalPerTrade <= 0 || c.Trading.MaxCapitalPerTrade > 1 {
		return fmt.Errorf("MAX_CAPITAL_PER_TRADE must be in (0, 1], got %v", c.Trading.MaxCapitalPerTrade)
	}

	if c.Trading.MaxBidAskSpread <= 0 {
		return fmt.Errorf("MAX_BID_ASK_SPREAD must be positive, got %v", c.Trading.MaxBidAskSpread)
	}

	if c.Trading.VolatilityWindow <= 0 {
		return fmt.Errorf("VOLATILITY_WINDOW must be positive, got %v", c.Trading.VolatilityWindow)
	}

	if len(c.Trading.Pairs) == 0 {
		return fmt.Errorf("TRADING_PAIRS must not be empty")
	}
	for _, pair := range c.Trading.Pairs {
		if !strings.Contains(pair, "/") {
			return fmt.Errorf("invalid trading pair %q, want BASE/QUOTE", pair)
		}
	}

	if c.MarketData.TickerInterval <= 0 || c.MarketData.BookInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}

	if c.MarketData.MaxConsecutiveErrors < 1 {
		return fmt.Errorf("MAX_CONSECUTIVE_ERRORS must be at least 1, got %d", c.MarketData.MaxConsecutiveErrors)
	}

	if c.Execution.OrderTimeout <= 0 {
		return fmt.Errorf("ORDER_TIMEOUT must be positive, got %v", c.Execution.OrderTimeout)
	}

	if c.Execution.FillPollInterval <= 0 {
		return fmt.Errorf("FILL_POLL_INTERVAL must be positive, got %v", c.Execution.FillPollInterval)
	}

	if c.Funds.LockTTL <= 0 {
		return fmt.Errorf("TRANSFER_LOCK_TTL must be positive, got %v", c.Funds.LockTTL)
	}

	if c.Funds.MaxTransferTime < c.Funds.MonitorInterval {
		return fmt.Errorf("MAX_TRANSFER_TIME (%v) must not be shorter than TRANSFER_MONITOR_INTERVAL (%v)",
			c.Funds.MaxTransferTime, c.Funds.MonitorInterval)
	}

	return nil
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

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
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

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
