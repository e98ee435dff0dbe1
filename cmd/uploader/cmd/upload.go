package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"transaction-uploader/internal/reconciler"
	"transaction-uploader/pkg/errors"
	"transaction-uploader/pkg/logger"
)

// Flags shared by the upload and schedule commands
var (
	outputFormat string
	outputFile   string
	showProgress bool
)

// Flags of the upload command only
var (
	uploadFilePath string
	fromPage       int
)

// uploadCmd represents the upload command
var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload new settlement files to the ledger",
	Long: `Upload finds the settlement files dated after the latest transaction held
by the ledger, classifies their records and posts the transactions and the
new closing balance, one file at a time in date order.

A file that cannot be processed is reported and the run moves on to the next
one. The exit code is non-zero when any file failed.

Examples:
  # One run with a console summary
  uploader upload

  # Keep a machine-readable record of the run
  uploader upload --output-format json --output-file /var/log/uploader/run.json

  # Spreadsheet of every uploaded transaction
  uploader upload -f xlsx -o run.xlsx

  # Finish a file a previous run left partially_uploaded
  uploader upload --file /tmp/ds_new_files/Y01A.CARS.#D.444444.D040204 --from-page 2

A file that is only partly posted is reported as partially_uploaded. Later
runs start after its date and never pick it up again, so finish it with
--file and the --from-page given in the error. --file uploads exactly that
file, whatever its date, and then saves its closing balance.`,
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)

	uploadCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "", "report format: console, json, csv, xlsx (default REPORT_FORMAT)")
	uploadCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "report file path (default REPORT_FILE or stdout)")
	uploadCmd.Flags().BoolVar(&showProgress, "progress", false, "show progress indicators")
	uploadCmd.Flags().StringVar(&uploadFilePath, "file", "", "upload this settlement file only, regardless of the ledger's latest date")
	uploadCmd.Flags().IntVar(&fromPage, "from-page", 0, "with --file, first page of transactions to post (default 1)")
}

func runUpload(cmd *cobra.Command, args []string) error {
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

	var result *reconciler.RunResult
	switch {
	case uploadFilePath != "":
		result, err = a.uploadFile(cmd.Context(), uploadFilePath, fromPage)
	case fromPage != 0:
		err = errors.ConfigurationError(errors.CodeInvalidConfig, "from_page", fromPage, nil).
			WithSuggestion("--from-page only applies together with --file")
	default:
		result, err = a.upload(cmd.Context(), showProgress)
	}
	if err != nil {
		return err
	}
	if err := a.report(result, cmd.OutOrStdout()); err != nil {
		return err
	}
	return result.Err()
}

// upload performs one run with the current settings.
func (a *app) upload(ctx context.Context, progress bool) (*reconciler.RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	uploader, _, err := a.newUploader(ctx, true)
	if err != nil {
		return nil, err
	}
	if progress {
		uploader.AddProgressCallback(func(p *reconciler.RunProgress) {
			fmt.Fprintf(os.Stderr, "\r[%d/%d] %s (%.1f%% complete)",
				p.CompletedFiles, p.TotalFiles, p.CurrentFile, p.PercentComplete)
			if p.CompletedFiles == p.TotalFiles {
				fmt.Fprintf(os.Stderr, "\n")
			}
		})
	}
	return uploader.Run(ctx)
}

// uploadFile uploads a single file from page onwards.
func (a *app) uploadFile(ctx context.Context, path string, page int) (*reconciler.RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	uploader, source, err := a.newUploader(ctx, true)
	if err != nil {
		return nil, err
	}
	file, err := source.Stat(path)
	if err != nil {
		return nil, err
	}
	if page == 0 {
		page = 1
	}

	result := &reconciler.RunResult{RunID: uuid.NewString(), StartedAt: time.Now()}
	a.log.WithFields(logger.Fields{
		"run_id":    result.RunID,
		"file":      file.Name,
		"from_page": page,
	}).Info("Uploading a single file")
	result.Files = append(result.Files, uploader.Resume(ctx, file, page))
	result.FinishedAt = time.Now()
	return result, nil
}

func (a *app) report(result *reconciler.RunResult, stdout io.Writer) error {
	settings := a.Settings()
	path := outputFile
	if path == "" {
		path = settings.ReportFile
	}
	return a.writeReport(result, settings.ReportConfig(outputFormat), path, stdout)
}
