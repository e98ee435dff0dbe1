package cmd

import (
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"transaction-uploader/internal/reconciler"
)

var (
	inspectOnline bool
	inspectFormat string
	inspectOutput string
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Classify a settlement file without uploading it",
	Long: `Inspect decodes one settlement file, checks its control totals and shows
how each operating account record would be classified. Nothing is posted.

Settlement batches are only resolved with --online, which logs in to the
ledger to look them up.

Examples:
  uploader inspect Y01A.CARS.#D.444444.D050204
  uploader inspect --online -f csv -o classified.csv Y01A.CARS.#D.444444.D050204`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().BoolVar(&inspectOnline, "online", false, "look up settlement batches in the ledger")
	inspectCmd.Flags().StringVarP(&inspectFormat, "output-format", "f", "", "report format: console, json, csv, xlsx (default REPORT_FORMAT)")
	inspectCmd.Flags().StringVarP(&inspectOutput, "output-file", "o", "", "report file path (default stdout)")
}

func runInspect(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	if inspectOnline {
		err = a.requireSettings()
	} else {
		err = a.Settings().Validate()
	}
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	uploader, source, err := a.newUploader(ctx, inspectOnline)
	if err != nil {
		return err
	}

	file, rc, err := source.OpenPath(args[0])
	if err != nil {
		return err
	}
	defer rc.Close()

	result := &reconciler.RunResult{RunID: uuid.NewString(), StartedAt: time.Now()}
	fileResult := uploader.Inspect(ctx, file, rc)
	result.Files = append(result.Files, fileResult)
	result.FinishedAt = time.Now()

	config := a.Settings().ReportConfig(inspectFormat)
	config.IncludeTransactions = true
	config.MaxListed = 0
	if err := a.writeReport(result, config, inspectOutput, cmd.OutOrStdout()); err != nil {
		return err
	}
	return fileResult.Err
}
