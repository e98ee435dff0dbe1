package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"transaction-uploader/cmd/uploader/config"
	"transaction-uploader/internal/filesource"
	"transaction-uploader/internal/ledger"
	"transaction-uploader/internal/matcher"
	"transaction-uploader/internal/reconciler"
	"transaction-uploader/internal/reporter"
	"transaction-uploader/pkg/logger"
)

var (
	cfgFile string
	envFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "uploader",
	Short: "Settlement file transaction uploader",
	Long: `Uploader reads the daily settlement files delivered by the bank,
classifies every record on the operating account and posts the resulting
transactions and closing balance to the ledger.

Settings come from the environment (API_URL, ACCOUNT_CODE, ...), an optional
.env file and an optional config file.

Examples:
  uploader upload
  uploader upload --output-format json --output-file run.json
  uploader inspect /tmp/ds_new_files/Y01A.CARS.#D.444444.D050204
  uploader schedule --schedule "0 7 * * *"`,
	Version:       getVersionString(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	return NewCLIErrorHandler().HandleError(err)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "file of KEY=value lines loaded into the environment")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}

// app holds the loaded settings shared by the subcommands.
type app struct {
	mu       sync.RWMutex
	settings *config.Settings
	viper    *viper.Viper
	fs       afero.Fs
	log      logger.Logger
}

// loadApp reads the settings and installs the global logger. Settings are
// not validated yet so that a disabled uploader exits quietly.
func loadApp() (*app, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	v, err := config.NewViper(cfgFile)
	if err != nil {
		return nil, err
	}
	if verbose {
		v.Set("log_level", string(logger.DebugLevel))
	}
	settings, err := config.Load(v)
	if err != nil {
		return nil, err
	}

	log, err := logger.NewLogger(settings.LoggerConfig())
	if err != nil {
		return nil, err
	}
	logger.SetGlobalLogger(log)

	return &app{
		settings: settings,
		viper:    v,
		fs:       afero.NewOsFs(),
		log:      log.WithComponent("cli"),
	}, nil
}

// Settings returns the current settings.
func (a *app) Settings() *config.Settings {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.settings
}

// requireSettings reports every missing required setting at once, then
// validates the rest.
func (a *app) requireSettings() error {
	if missing := config.Missing(a.viper); len(missing) > 0 {
		a.log.Error("Missing environment variables: " + strings.Join(missing, ", "))
		return &missingSettingsError{names: missing}
	}
	return a.Settings().Validate()
}

// reload re-reads the settings after a config file change. Invalid settings
// are logged and the previous ones stay in force.
func (a *app) reload() {
	settings, err := config.Load(a.viper)
	if err == nil {
		err = settings.Validate()
	}
	if err != nil {
		a.log.WithError(err).Warn("Ignoring invalid configuration change")
		return
	}
	a.mu.Lock()
	a.settings = settings
	a.mu.Unlock()
	a.log.Info("Configuration reloaded, applying to the next run")
}

// newUploader wires the pipeline. Offline uploaders have no ledger and
// never resolve settlement batches.
func (a *app) newUploader(ctx context.Context, online bool) (*reconciler.Uploader, *filesource.Source, error) {
	settings := a.Settings()

	rules, err := matcher.LoadRules(a.fs, settings.RulesFile)
	if err != nil {
		return nil, nil, err
	}
	source, err := filesource.NewSource(a.fs, settings.FileSourceConfig())
	if err != nil {
		return nil, nil, err
	}

	var (
		l       reconciler.Ledger
		batches matcher.BatchFinder = matcher.NoBatches{}
	)
	if online {
		client, err := ledger.NewClient(ctx, settings.LedgerConfig())
		if err != nil {
			return nil, nil, err
		}
		l = client
		batches = client
	}

	classifier, err := reconciler.NewClassifier(settings.ClassifierConfig(), rules, batches)
	if err != nil {
		return nil, nil, err
	}
	uploader, err := reconciler.NewUploader(settings.ClassifierConfig(), classifier, l, source, settings.ParserConfig())
	if err != nil {
		return nil, nil, err
	}
	return uploader, source, nil
}

// writeReport renders result to path, or to stdout when path is empty.
func (a *app) writeReport(result *reconciler.RunResult, config *reporter.ReportConfig, path string, stdout io.Writer) error {
	generator, err := reporter.NewSafeReportGenerator(config, a.fs, a.log)
	if err != nil {
		return err
	}
	if path == "" {
		return generator.GenerateReportSafely(result, stdout)
	}
	written, err := generator.WriteFile(result, path)
	if err != nil {
		return err
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "Report written to %s\n", written)
	}
	return nil
}
