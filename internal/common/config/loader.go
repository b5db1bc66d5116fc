// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like DATABASE_POSTGRES_PASSWORD
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment overlay, ignored if not present.
	viper.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = viper.MergeInConfig()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile loads .env from the working directory or the project root,
// so binaries and package tests resolve the same secrets.
func loadEnvFile() {
	possiblePaths := []string{".env", "../.env", "../../.env"}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "solar-salesops"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "development"
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.MetricsAddress == "" {
		cfg.Server.MetricsAddress = ":9090"
	}
	if cfg.Server.RequestTimeout <= 0 {
		cfg.Server.RequestTimeout = 10000
	}
	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 20
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Redis.Address == "" {
		cfg.Database.Redis.Address = "localhost:6379"
	}
	if cfg.Pricing.TaxRate == "" {
		cfg.Pricing.TaxRate = "0"
	}
	if cfg.Pricing.DealerFee == "" {
		cfg.Pricing.DealerFee = "0"
	}
	if cfg.Pricing.BaselinePPW == "" {
		cfg.Pricing.BaselinePPW = "2.50"
	}
	if cfg.Pricing.PanelWatts <= 0 {
		cfg.Pricing.PanelWatts = 400
	}
	if cfg.Pricing.MinPPW == "" {
		cfg.Pricing.MinPPW = "1.50"
	}
	if cfg.Pricing.MaxPPW == "" {
		cfg.Pricing.MaxPPW = "8.00"
	}
	if cfg.Gates.CacheTTLSeconds <= 0 {
		cfg.Gates.CacheTTLSeconds = 86400
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}

	// Pricing rates must parse as decimals and land in sane ranges; a bad
	// dealer fee would corrupt every proposal total.
	for name, raw := range map[string]string{
		"pricing.tax_rate":     cfg.Pricing.TaxRate,
		"pricing.dealer_fee":   cfg.Pricing.DealerFee,
		"pricing.baseline_ppw": cfg.Pricing.BaselinePPW,
		"pricing.min_ppw":      cfg.Pricing.MinPPW,
		"pricing.max_ppw":      cfg.Pricing.MaxPPW,
	} {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("%s: not a decimal: %q", name, raw)
		}
		if d.IsNegative() {
			return fmt.Errorf("%s: must not be negative", name)
		}
	}

	fee, _ := decimal.NewFromString(cfg.Pricing.DealerFee)
	if fee.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("pricing.dealer_fee: must be a fraction below 1")
	}

	minPPW, _ := decimal.NewFromString(cfg.Pricing.MinPPW)
	maxPPW, _ := decimal.NewFromString(cfg.Pricing.MaxPPW)
	if minPPW.GreaterThan(maxPPW) {
		return fmt.Errorf("pricing.min_ppw exceeds pricing.max_ppw")
	}

	if cfg.Notifications.Email.Enabled && cfg.Notifications.Email.FromEmail == "" {
		return fmt.Errorf("notifications.email.from_email required when email is enabled")
	}

	return nil
}
