package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"signal-council/internal/adaptive"
	"signal-council/internal/tuner"
)

type Config struct {
	ServerConfig     ServerConfig     `json:"server"`
	AuthConfig       AuthConfig       `json:"auth"`
	LoggingConfig    LoggingConfig    `json:"logging"`
	DatabaseConfig   DatabaseConfig   `json:"database"`
	RedisConfig      RedisConfig      `json:"redis"`
	VaultConfig      VaultConfig      `json:"vault"`
	ScoringConfig    ScoringConfig    `json:"scoring"`
	ThresholdsConfig ThresholdsConfig `json:"thresholds"`
	AdaptiveConfig   AdaptiveConfig   `json:"adaptive"`
	TuningConfig     TuningConfig     `json:"tuning"`
}

// ServerConfig holds the HTTP server settings
type ServerConfig struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	AllowedOrigins  string `json:"allowed_origins"`
	ReadTimeout     int    `json:"read_timeout"`     // seconds
	WriteTimeout    int    `json:"write_timeout"`    // seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // seconds
}

// AuthConfig holds JWT authentication settings for the admin surface
type AuthConfig struct {
	Enabled             bool          `json:"enabled"`
	JWTSecret           string        `json:"jwt_secret"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
	AdminUser           string        `json:"admin_user"`
	AdminPasswordHash   string        `json:"admin_password_hash"` // bcrypt
}

type LoggingConfig struct {
	Level      string `json:"level"`  // DEBUG, INFO, WARN, ERROR
	Output     string `json:"output"` // stdout, stderr, or file path
	JSONFormat bool   `json:"json_format"`
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis settings for the verdict cache
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// VaultConfig holds HashiCorp Vault settings
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// ScoringConfig drives the live scoring engine
type ScoringConfig struct {
	Symbols              []string `json:"symbols"`
	Timeframes           []string `json:"timeframes"`
	BroadcastIntervalSec int      `json:"broadcast_interval_sec"`
	DetectorTimeoutMs    int      `json:"detector_timeout_ms"`
	WorkerCount          int      `json:"worker_count"`
	TelemetryPath        string   `json:"telemetry_path"`
}

// ThresholdsConfig holds the category aggregator thresholds
type ThresholdsConfig struct {
	BuyScore      float64 `json:"buy_score"`
	SellScore     float64 `json:"sell_score"`
	MinConfidence float64 `json:"min_confidence"`
}

// Bounds limits one adaptive weight
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// AdaptiveConfig holds the weight learner settings
type AdaptiveConfig struct {
	Enabled          bool              `json:"enabled"`
	MinSampleSize    int               `json:"min_sample_size"`
	LearningRate     float64           `json:"learning_rate"`
	Decay            float64           `json:"decay"`
	UpdateIntervalMs int               `json:"update_interval_ms"`
	CategoryBounds   map[string]Bounds `json:"category_bounds"`
	DetectorBounds   map[string]Bounds `json:"detector_bounds"`
}

// TuningConfig holds the scoring tuner settings
type TuningConfig struct {
	Enabled         bool     `json:"enabled"`
	Mode            string   `json:"mode"` // "grid" or "genetic"
	MaxCandidates   int      `json:"max_candidates"`
	MaxGenerations  int      `json:"max_generations"`
	PopulationSize  int      `json:"population_size"`
	MutationRate    float64  `json:"mutation_rate"`
	Metric          string   `json:"metric"` // "sharpe", "winRate", "pnl"
	Schedule        string   `json:"schedule"`
	SymbolUniverse  []string `json:"symbol_universe"`
	Timeframe       string   `json:"timeframe"`
	LookbackDays    int      `json:"lookback_days"`
	InitialBalance  float64  `json:"initial_balance"`
	AutoPromote     bool     `json:"auto_promote"`
	TunedConfigPath string   `json:"tuned_config_path"`
}

// Load reads config.json from the working directory, falls back to hardcoded
// defaults when the file is missing or malformed, then applies environment
// overrides. It never fails: a broken config must not stop scoring.
func Load() (*Config, error) {
	return LoadFile("config.json")
}

// LoadFile loads a specific config file with the same fallback behavior.
func LoadFile(path string) (*Config, error) {
	cfg, err := loadFromFile(path)
	if err != nil {
		cfg = &Config{}
	}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg, nil
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return &config, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ServerConfig.Host == "" {
		cfg.ServerConfig.Host = "0.0.0.0"
	}
	if cfg.ServerConfig.Port == 0 {
		cfg.ServerConfig.Port = 8080
	}
	if cfg.ServerConfig.AllowedOrigins == "" {
		cfg.ServerConfig.AllowedOrigins = "*"
	}
	if cfg.ServerConfig.ReadTimeout == 0 {
		cfg.ServerConfig.ReadTimeout = 30
	}
	if cfg.ServerConfig.WriteTimeout == 0 {
		cfg.ServerConfig.WriteTimeout = 30
	}
	if cfg.ServerConfig.ShutdownTimeout == 0 {
		cfg.ServerConfig.ShutdownTimeout = 10
	}

	if cfg.AuthConfig.AccessTokenDuration == 0 {
		cfg.AuthConfig.AccessTokenDuration = 15 * time.Minute
	}

	if cfg.LoggingConfig.Level == "" {
		cfg.LoggingConfig.Level = "INFO"
	}
	if cfg.LoggingConfig.Output == "" {
		cfg.LoggingConfig.Output = "stdout"
	}

	if cfg.DatabaseConfig.SSLMode == "" {
		cfg.DatabaseConfig.SSLMode = "disable"
	}
	if cfg.DatabaseConfig.Port == 0 {
		cfg.DatabaseConfig.Port = 5432
	}

	if len(cfg.ScoringConfig.Symbols) == 0 {
		cfg.ScoringConfig.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	}
	if len(cfg.ScoringConfig.Timeframes) == 0 {
		cfg.ScoringConfig.Timeframes = []string{"5m", "15m", "1h", "4h", "1d"}
	}
	if cfg.ScoringConfig.BroadcastIntervalSec == 0 {
		cfg.ScoringConfig.BroadcastIntervalSec = 60
	}
	if cfg.ScoringConfig.DetectorTimeoutMs == 0 {
		cfg.ScoringConfig.DetectorTimeoutMs = 5000
	}
	if cfg.ScoringConfig.WorkerCount == 0 {
		cfg.ScoringConfig.WorkerCount = 4
	}
	if cfg.ScoringConfig.TelemetryPath == "" {
		cfg.ScoringConfig.TelemetryPath = "telemetry.json"
	}

	if cfg.ThresholdsConfig.BuyScore == 0 {
		cfg.ThresholdsConfig.BuyScore = 0.70
	}
	if cfg.ThresholdsConfig.SellScore == 0 {
		cfg.ThresholdsConfig.SellScore = 0.70
	}

	if cfg.AdaptiveConfig.MinSampleSize == 0 {
		cfg.AdaptiveConfig.MinSampleSize = 30
	}
	if cfg.AdaptiveConfig.LearningRate == 0 {
		cfg.AdaptiveConfig.LearningRate = 0.05
	}
	if cfg.AdaptiveConfig.Decay == 0 {
		cfg.AdaptiveConfig.Decay = 0.90
	}
	if cfg.AdaptiveConfig.UpdateIntervalMs == 0 {
		cfg.AdaptiveConfig.UpdateIntervalMs = 300000
	}

	if cfg.TuningConfig.Mode == "" {
		cfg.TuningConfig.Mode = "grid"
	}
	if cfg.TuningConfig.MaxCandidates == 0 {
		cfg.TuningConfig.MaxCandidates = 40
	}
	if cfg.TuningConfig.MaxGenerations == 0 {
		cfg.TuningConfig.MaxGenerations = 1
	}
	if cfg.TuningConfig.PopulationSize == 0 {
		cfg.TuningConfig.PopulationSize = 20
	}
	if cfg.TuningConfig.MutationRate == 0 {
		cfg.TuningConfig.MutationRate = 0.30
	}
	if cfg.TuningConfig.Metric == "" {
		cfg.TuningConfig.Metric = "sharpe"
	}
	if len(cfg.TuningConfig.SymbolUniverse) == 0 {
		cfg.TuningConfig.SymbolUniverse = cfg.ScoringConfig.Symbols
	}
	if cfg.TuningConfig.Timeframe == "" {
		cfg.TuningConfig.Timeframe = "1h"
	}
	if cfg.TuningConfig.LookbackDays == 0 {
		cfg.TuningConfig.LookbackDays = 30
	}
	if cfg.TuningConfig.InitialBalance == 0 {
		cfg.TuningConfig.InitialBalance = 10000
	}
}

func applyEnvOverrides(cfg *Config) {
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)

	if v := os.Getenv("AUTH_ENABLED"); v != "" {
		cfg.AuthConfig.Enabled = v == "true"
	}
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.AdminUser = getEnvOrDefault("AUTH_ADMIN_USER", cfg.AuthConfig.AdminUser)
	cfg.AuthConfig.AdminPasswordHash = getEnvOrDefault("AUTH_ADMIN_PASSWORD_HASH", cfg.AuthConfig.AdminPasswordHash)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	if v := os.Getenv("LOG_JSON"); v != "" {
		cfg.LoggingConfig.JSONFormat = v == "true"
	}

	if v := os.Getenv("DB_ENABLED"); v != "" {
		cfg.DatabaseConfig.Enabled = v == "true"
	}
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)

	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		cfg.RedisConfig.Enabled = v == "true"
	}
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)

	if v := os.Getenv("VAULT_ENABLED"); v != "" {
		cfg.VaultConfig.Enabled = v == "true"
	}
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.VaultConfig.MountPath)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)

	if v := os.Getenv("SCORING_SYMBOLS"); v != "" {
		cfg.ScoringConfig.Symbols = strings.Split(v, ",")
	}
	cfg.ScoringConfig.TelemetryPath = getEnvOrDefault("TELEMETRY_PATH", cfg.ScoringConfig.TelemetryPath)

	if v := os.Getenv("ADAPTIVE_ENABLED"); v != "" {
		cfg.AdaptiveConfig.Enabled = v == "true"
	}
	if v := os.Getenv("TUNING_ENABLED"); v != "" {
		cfg.TuningConfig.Enabled = v == "true"
	}
	cfg.TuningConfig.Schedule = getEnvOrDefault("TUNING_SCHEDULE", cfg.TuningConfig.Schedule)
}

// ToAdaptiveConfig converts the JSON shape into the learner's config.
func (c *AdaptiveConfig) ToAdaptiveConfig() adaptive.Config {
	out := adaptive.DefaultConfig()
	out.Enabled = c.Enabled
	out.MinSampleSize = c.MinSampleSize
	out.LearningRate = c.LearningRate
	out.Decay = c.Decay
	out.UpdateInterval = time.Duration(c.UpdateIntervalMs) * time.Millisecond
	if len(c.CategoryBounds) > 0 {
		out.CategoryBounds = make(map[string]adaptive.Bounds, len(c.CategoryBounds))
		for k, b := range c.CategoryBounds {
			out.CategoryBounds[k] = adaptive.Bounds{Min: b.Min, Max: b.Max}
		}
	}
	if len(c.DetectorBounds) > 0 {
		out.DetectorBounds = make(map[string]adaptive.Bounds, len(c.DetectorBounds))
		for k, b := range c.DetectorBounds {
			out.DetectorBounds[k] = adaptive.Bounds{Min: b.Min, Max: b.Max}
		}
	}
	return out
}

// ToTunerConfig converts the JSON shape into the tuner's config.
func (c *TuningConfig) ToTunerConfig() tuner.Config {
	return tuner.Config{
		Enabled:        c.Enabled,
		Mode:           tuner.Mode(c.Mode),
		MaxCandidates:  c.MaxCandidates,
		MaxGenerations: c.MaxGenerations,
		PopulationSize: c.PopulationSize,
		MutationRate:   c.MutationRate,
		Metric:         tuner.Metric(c.Metric),
		Schedule:       c.Schedule,
		BacktestDefaults: tuner.BacktestDefaults{
			SymbolUniverse: c.SymbolUniverse,
			Timeframe:      c.Timeframe,
			LookbackDays:   c.LookbackDays,
			InitialBalance: c.InitialBalance,
		},
		Promotion: tuner.Promotion{
			AutoPromote:     c.AutoPromote,
			TunedConfigPath: c.TunedConfigPath,
		},
	}
}

// Manager serves the active config and supports explicit reload from a
// scheduler, never from the scoring hot path.
type Manager struct {
	mu   sync.RWMutex
	path string
	cfg  *Config
}

// NewManager loads the initial config from path.
func NewManager(path string) *Manager {
	cfg, _ := LoadFile(path)
	return &Manager{path: path, cfg: cfg}
}

// Get returns the active config snapshot.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.cfg
}

// Reload re-reads the config file. Invoked by a timer or an admin endpoint;
// a broken file keeps the previous config active.
func (m *Manager) Reload() error {
	fresh, err := loadFromFile(m.path)
	if err != nil {
		return err
	}
	applyDefaults(fresh)
	applyEnvOverrides(fresh)

	m.mu.Lock()
	m.cfg = fresh
	m.mu.Unlock()
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
