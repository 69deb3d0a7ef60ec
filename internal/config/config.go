package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Billing    BillingConfig    `yaml:"billing" mapstructure:"billing"`
	MasterData MasterDataConfig `yaml:"masterdata" mapstructure:"masterdata"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// IngestConfig configures timesheet ingestion.
type IngestConfig struct {
	ImportsDir    string `yaml:"imports_dir" mapstructure:"imports_dir"`
	ArchiveDir    string `yaml:"archive_dir" mapstructure:"archive_dir"`
	ProfilePath   string `yaml:"profile_path" mapstructure:"profile_path"`
	Concurrency   int    `yaml:"concurrency" mapstructure:"concurrency"`
	MoveProcessed bool   `yaml:"move_processed" mapstructure:"move_processed"`
}

// BillingConfig configures the billing hand-off.
type BillingConfig struct {
	ExportDir string `yaml:"export_dir" mapstructure:"export_dir"`
}

// MasterDataConfig names the sheets of the master data workbook.
type MasterDataConfig struct {
	ClientSheet   string `yaml:"client_sheet" mapstructure:"client_sheet"`
	ProviderSheet string `yaml:"provider_sheet" mapstructure:"provider_sheet"`
	PayerSheet    string `yaml:"payer_sheet" mapstructure:"payer_sheet"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("BILLING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "billing.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("ingest.imports_dir", "imports")
	v.SetDefault("ingest.archive_dir", "imports/importiert")
	v.SetDefault("ingest.profile_path", "")
	v.SetDefault("ingest.concurrency", 4)
	v.SetDefault("ingest.move_processed", true)
	v.SetDefault("billing.export_dir", "exports")
	v.SetDefault("masterdata.client_sheet", "Klienten")
	v.SetDefault("masterdata.provider_sheet", "Leistungserbringer")
	v.SetDefault("masterdata.payer_sheet", "Kostentraeger")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode needs and reports every
// problem at once. Modes: ingest, billing, masterdata, store.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}
	if c.Store.MaxConns < 0 || c.Store.MinConns < 0 {
		problems = append(problems, "store.max_conns and store.min_conns must be >= 0")
	}

	switch mode {
	case "ingest":
		if c.Ingest.Concurrency < 1 || c.Ingest.Concurrency > 64 {
			problems = append(problems, "ingest.concurrency must be between 1 and 64")
		}
		if c.Ingest.MoveProcessed && c.Ingest.ArchiveDir == "" {
			problems = append(problems, "ingest.archive_dir is required when ingest.move_processed is set")
		}
	case "billing":
		if c.Billing.ExportDir == "" {
			problems = append(problems, "billing.export_dir is required")
		}
	case "masterdata":
		if c.MasterData.ClientSheet == "" || c.MasterData.ProviderSheet == "" || c.MasterData.PayerSheet == "" {
			problems = append(problems, "masterdata sheet names must not be empty")
		}
	case "store":
	default:
		problems = append(problems, fmt.Sprintf("unknown mode %q", mode))
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
