package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"transaction-uploader/pkg/errors"
	"transaction-uploader/pkg/logger"
)

var (
	scheduleSpec string
	runNow       bool
)

// scheduleCmd represents the schedule command
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run uploads on a cron schedule",
	Long: `Schedule keeps running and performs an upload at every tick of a cron
schedule. A run that is still going when the next tick arrives makes that
tick skip. With --config the file is watched and changes apply from the
next run.

Examples:
  uploader schedule
  uploader schedule --schedule "30 6 * * 1-5" --run-now`,
	RunE: runSchedule,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)

	scheduleCmd.Flags().StringVar(&scheduleSpec, "schedule", "", "cron expression (default SCHEDULE)")
	scheduleCmd.Flags().BoolVar(&runNow, "run-now", false, "upload once immediately before waiting for the schedule")
	scheduleCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "", "report format: console, json, csv, xlsx (default REPORT_FORMAT)")
	scheduleCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "report file path, rewritten every run (default REPORT_FILE or stdout)")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	if a.Settings().Disabled {
		a.log.Info("Transaction uploader is disabled")
		return nil
	}
	if err := a.requireSettings(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfgFile != "" {
		a.viper.OnConfigChange(func(e fsnotify.Event) {
			a.log.WithField("file", e.Name).Info("Configuration file changed")
			a.reload()
		})
		a.viper.WatchConfig()
	}

	spec := scheduleSpec
	if spec == "" {
		spec = a.Settings().Schedule
	}
	job := func() { a.scheduledRun(ctx) }

	scheduler, err := newScheduler(spec, a.log, job)
	if err != nil {
		return err
	}
	if runNow {
		job()
	}

	scheduler.Start()
	a.log.WithField("schedule", spec).Info("Scheduler started")

	<-ctx.Done()
	a.log.Info("Stopping scheduler, waiting for a running upload to finish")
	<-scheduler.Stop().Done()
	return nil
}

// scheduledRun uploads once. Errors are logged; the scheduler keeps going.
func (a *app) scheduledRun(ctx context.Context) {
	if a.Settings().Disabled {
		a.log.Info("Transaction uploader is disabled")
		return
	}
	result, err := a.upload(ctx, false)
	if err != nil {
		a.log.WithError(err).Error("Upload run failed")
		return
	}
	if err := a.report(result, os.Stdout); err != nil {
		a.log.WithError(err).Error("Report failed")
	}
	if err := result.Err(); err != nil {
		a.log.WithError(err).WithField("run_id", result.RunID).Error("Upload run finished with errors")
	}
}

// newScheduler registers job on spec. Overlapping ticks are skipped.
func newScheduler(spec string, log logger.Logger, job func()) (*cron.Cron, error) {
	cronLog := cronLogger{log: log.WithComponent("scheduler")}
	scheduler := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	if _, err := scheduler.AddFunc(spec, job); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "schedule", spec, err).
			WithSuggestion("Use a five field cron expression such as \"0 7 * * *\"")
	}
	return scheduler, nil
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(keysAndValues []interface{}) logger.Fields {
	f := logger.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			f[key] = keysAndValues[i+1]
		}
	}
	return f
}
