// Package config loads the uploader settings from the environment, an
// optional .env file and an optional config file.
//
// Setting names match the environment variables of the deployment, so
// API_URL and a config file key api_url are the same setting.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"transaction-uploader/internal/filesource"
	"transaction-uploader/internal/ledger"
	"transaction-uploader/internal/matcher"
	"transaction-uploader/internal/parsers"
	"transaction-uploader/internal/reconciler"
	"transaction-uploader/internal/reporter"
	"transaction-uploader/pkg/errors"
	"transaction-uploader/pkg/logger"
)

// DefaultSchedule runs an upload every morning.
const DefaultSchedule = "0 7 * * *"

// Settings is the full uploader configuration.
type Settings struct {
	Env      string `mapstructure:"env"`
	Disabled bool   `mapstructure:"uploader_disabled"`
	LogLevel string `mapstructure:"log_level"`

	APIURL          string        `mapstructure:"api_url"`
	APIClientID     string        `mapstructure:"api_client_id"`
	APIClientSecret string        `mapstructure:"api_client_secret"`
	APIUsername     string        `mapstructure:"api_username"`
	APIPassword     string        `mapstructure:"api_password"`
	APITimeout      time.Duration `mapstructure:"api_timeout"`

	AccountCode   string `mapstructure:"account_code"`
	NewFilesDir   string `mapstructure:"ds_new_files_dir"`
	MaxFileSize   int64  `mapstructure:"max_file_size"`
	FileEncoding  string `mapstructure:"file_encoding"`
	MaxLineErrors int    `mapstructure:"max_line_errors"`

	OperatingSortCode              string `mapstructure:"operating_sort_code"`
	OperatingAccountNumber         string `mapstructure:"operating_account_number"`
	SettlementPattern              string `mapstructure:"settlement_pattern"`
	RulesFile                      string `mapstructure:"rules_file"`
	MarkTransactionsAsUnidentified bool   `mapstructure:"mark_transactions_as_unidentified"`
	PageSize                       int    `mapstructure:"page_size"`

	ReportFormat string `mapstructure:"report_format"`
	ReportFile   string `mapstructure:"report_file"`

	Schedule string `mapstructure:"schedule"`
}

// required lists the settings that must not be empty, in the order they are
// reported.
var required = []string{
	"account_code",
	"api_url",
	"api_client_id",
	"api_client_secret",
	"api_username",
	"api_password",
	"ds_new_files_dir",
	"operating_sort_code",
	"operating_account_number",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "local")
	v.SetDefault("uploader_disabled", false)
	v.SetDefault("log_level", string(logger.InfoLevel))

	v.SetDefault("api_url", "http://localhost:8000")
	v.SetDefault("api_client_id", "bank-admin")
	v.SetDefault("api_client_secret", "bank-admin")
	v.SetDefault("api_username", "bank-admin")
	v.SetDefault("api_password", "bank-admin")
	v.SetDefault("api_timeout", "30s")

	v.SetDefault("account_code", "444444")
	v.SetDefault("ds_new_files_dir", "/tmp/ds_new_files")
	v.SetDefault("max_file_size", filesource.DefaultMaxSize)
	v.SetDefault("file_encoding", parsers.EncodingUTF8)
	v.SetDefault("max_line_errors", parsers.DefaultConfig().MaxLineErrors)

	v.SetDefault("operating_sort_code", "")
	v.SetDefault("operating_account_number", "")
	v.SetDefault("settlement_pattern", matcher.DefaultSettlementPattern)
	v.SetDefault("rules_file", "")
	v.SetDefault("mark_transactions_as_unidentified", false)
	v.SetDefault("page_size", reconciler.DefaultPageSize)

	v.SetDefault("report_format", string(reporter.FormatConsole))
	v.SetDefault("report_file", "")

	v.SetDefault("schedule", DefaultSchedule)
}

// LoadDotEnv loads variables from path into the process environment.
// Variables already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "env_file", path, err).
			WithSuggestion("Check the .env file uses KEY=value lines")
	}
	return nil
}

// NewViper returns a viper instance reading the environment and, when
// configFile is set, that file.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "config", configFile, err).
				WithSuggestion("Check the config file exists and is valid YAML, JSON or TOML")
		}
	}
	return v, nil
}

// Load decodes the settings held by v.
func Load(v *viper.Viper) (*Settings, error) {
	var s Settings
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&s, hook); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "settings", nil, err)
	}
	s.AccountCode = strings.TrimSpace(s.AccountCode)
	s.OperatingSortCode = strings.TrimSpace(s.OperatingSortCode)
	s.OperatingAccountNumber = strings.TrimSpace(s.OperatingAccountNumber)
	return &s, nil
}

// Missing returns the environment variable names of required settings that
// are empty.
func Missing(v *viper.Viper) []string {
	var missing []string
	for _, key := range required {
		if strings.TrimSpace(v.GetString(key)) == "" {
			missing = append(missing, strings.ToUpper(key))
		}
	}
	return missing
}

// LoggerConfig returns the logging setup for the deployment environment.
func (s *Settings) LoggerConfig() *logger.Config {
	cfg := logger.ConfigForEnvironment(s.Env)
	if s.LogLevel != "" {
		cfg.Level = logger.Level(strings.ToLower(s.LogLevel))
	}
	return cfg
}

// LedgerConfig returns the ledger connection settings.
func (s *Settings) LedgerConfig() *ledger.Config {
	return &ledger.Config{
		URL:          s.APIURL,
		ClientID:     s.APIClientID,
		ClientSecret: s.APIClientSecret,
		Username:     s.APIUsername,
		Password:     s.APIPassword,
		Timeout:      s.APITimeout,
	}
}

// FileSourceConfig returns the drop directory settings.
func (s *Settings) FileSourceConfig() filesource.Config {
	return filesource.Config{
		Directory:   s.NewFilesDir,
		AccountCode: s.AccountCode,
		MaxSize:     s.MaxFileSize,
	}
}

// ParserConfig returns the settlement file decoder settings.
func (s *Settings) ParserConfig() *parsers.Config {
	return &parsers.Config{
		Encoding:      s.FileEncoding,
		MaxLineErrors: s.MaxLineErrors,
	}
}

// ClassifierConfig returns the classification and upload settings.
func (s *Settings) ClassifierConfig() *reconciler.Config {
	return &reconciler.Config{
		Matcher: &matcher.Config{
			OperatingSortCode:      s.OperatingSortCode,
			OperatingAccountNumber: s.OperatingAccountNumber,
			SettlementPattern:      s.SettlementPattern,
			RulesFile:              s.RulesFile,
		},
		MarkTransactionsAsUnidentified: s.MarkTransactionsAsUnidentified,
		PageSize:                       s.PageSize,
	}
}

// ReportConfig returns the report settings for format, falling back to the
// configured report format when format is empty.
func (s *Settings) ReportConfig(format string) *reporter.ReportConfig {
	if format == "" {
		format = s.ReportFormat
	}
	config := reporter.DefaultReportConfig()
	config.Format = reporter.OutputFormat(strings.ToLower(format))
	if config.Format == reporter.FormatJSON {
		config.IncludeTransactions = true
	}
	return config
}

// Validate checks every derived configuration and reports the first problem.
func (s *Settings) Validate() error {
	checks := []struct {
		setting string
		value   interface{}
		check   func() error
	}{
		{"log_level", s.LogLevel, s.LoggerConfig().Validate},
		{"api_url", s.APIURL, s.LedgerConfig().Validate},
		{"ds_new_files_dir", s.NewFilesDir, func() error { c := s.FileSourceConfig(); return c.Validate() }},
		{"file_encoding", s.FileEncoding, s.ParserConfig().Validate},
		{"classifier", s.OperatingSortCode + "/" + s.OperatingAccountNumber, s.ClassifierConfig().Validate},
		{"report_format", s.ReportFormat, s.ReportConfig("").Validate},
	}
	for _, c := range checks {
		if err := c.check(); err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, c.setting, c.value, err).
				WithSuggestion(fmt.Sprintf("Set %s to a valid value", strings.ToUpper(c.setting)))
		}
	}
	return nil
}
