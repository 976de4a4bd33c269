package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration. The mapstructure tags bind the
// snake_case config keys to the struct fields on Unmarshal.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	OCR        OCRConfig        `mapstructure:"ocr"`
	Remote     RemoteConfig     `mapstructure:"remote"`
	Validation ValidationConfig `mapstructure:"validation"`
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

// OCRConfig holds the OCR vendor credentials and extraction options.
type OCRConfig struct {
	APIKey      string `mapstructure:"api_key"`
	SecretKey   string `mapstructure:"secret_key"`
	UseFallback bool   `mapstructure:"use_fallback"`
}

// RemoteConfig holds the table store credentials, the target table, and the
// source table's column names.
type RemoteConfig struct {
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
	TableURL  string `mapstructure:"table_url"`

	UploaderColumn string `mapstructure:"uploader_column"`
	BelongerColumn string `mapstructure:"belonger_column"`
	InvoiceColumn  string `mapstructure:"invoice_column"`
	AmountColumn   string `mapstructure:"amount_column"`
	RemarksColumn  string `mapstructure:"remarks_column"`
}

// ValidationConfig holds the custom rule settings.
type ValidationConfig struct {
	BuyerName          string   `mapstructure:"buyer_name"`
	BuyerNameTolerance int      `mapstructure:"buyer_name_tolerance"`
	ForbiddenKeywords  []string `mapstructure:"forbidden_keywords"`
}

// Load reads configuration from .env, config file and env. Env var overrides
// use prefix INVOICES_; the vendor credential variables keep their
// conventional names so an existing .env keeps working.
func Load() (Config, error) {
	// credentials conventionally live in a local .env
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("database.path", filepath.Join(".", "invoices.db"))
	v.SetDefault("database.migrations_path", "internal/database/migrations")
	v.SetDefault("ocr.api_key", "")
	v.SetDefault("ocr.secret_key", "")
	v.SetDefault("ocr.use_fallback", false)
	v.SetDefault("remote.app_id", "")
	v.SetDefault("remote.app_secret", "")
	v.SetDefault("remote.table_url", "")
	v.SetDefault("remote.uploader_column", "创建人")
	v.SetDefault("remote.belonger_column", "收款人")
	v.SetDefault("remote.invoice_column", "发票")
	v.SetDefault("remote.amount_column", "审批后金额")
	v.SetDefault("remote.remarks_column", "审批备注")
	v.SetDefault("validation.buyer_name", "")
	v.SetDefault("validation.buyer_name_tolerance", 0)
	v.SetDefault("validation.forbidden_keywords", []string{})

	v.SetConfigType("toml")

	cfgPath := os.Getenv("INVOICES_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "invoice-collection"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("INVOICES")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// read config file if present
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// conventional credential variables win over file values
	if s := os.Getenv("BAIDU_API_KEY"); s != "" {
		c.OCR.APIKey = s
	}
	if s := os.Getenv("BAIDU_SECRET_KEY"); s != "" {
		c.OCR.SecretKey = s
	}
	if s := os.Getenv("LARK_APP_ID"); s != "" {
		c.Remote.AppID = s
	}
	if s := os.Getenv("LARK_APP_SECRET"); s != "" {
		c.Remote.AppSecret = s
	}
	return c, nil
}
