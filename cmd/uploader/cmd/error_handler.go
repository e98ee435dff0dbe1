package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"syscall"

	"go.uber.org/multierr"

	"transaction-uploader/pkg/errors"
	"transaction-uploader/pkg/logger"
)

// Exit codes that do not come from an error category.
const (
	exitMissingSettings = 1
	exitUnhandled       = 2
)

// missingSettingsError lists required settings that are not set.
type missingSettingsError struct {
	names []string
}

func (e *missingSettingsError) Error() string {
	return "missing environment variables: " + strings.Join(e.names, ", ")
}

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	logger  logger.Logger
	out     io.Writer
	verbose bool
}

// NewCLIErrorHandler creates a new CLI error handler
func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		out:     os.Stderr,
		verbose: verbose,
	}
}

// HandleError prints err and returns the exit code for it.
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	var missing *missingSettingsError
	if errors.As(err, &missing) {
		// already logged when detected
		return exitMissingSettings
	}

	if errs := multierr.Errors(err); len(errs) > 1 {
		return h.handleRunErrors(errs)
	}

	if uploaderErr, ok := errors.AsUploaderError(err); ok {
		h.logger.WithError(err).Error("Command failed")
		return h.handleUploaderError(uploaderErr)
	}

	h.logger.WithError(err).Error("Unhandled error")
	return h.handleGenericError(err)
}

// handleUploaderError prints an UploaderError with its context
func (h *CLIErrorHandler) handleUploaderError(err *errors.UploaderError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(h.out, "\n%s\n", h.getCategoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

// handleRunErrors summarises the per-file failures of an upload run.
func (h *CLIErrorHandler) handleRunErrors(errs []error) int {
	uploaderErrs := make([]*errors.UploaderError, 0, len(errs))
	for _, err := range errs {
		uploaderErrs = append(uploaderErrs,
			errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeUnexpectedError, "file processing failed"))
	}
	summary := errors.NewErrorSummary(uploaderErrs)
	h.logger.WithField("by_category", summary.ByCategory).Error(summary.Error())

	fmt.Fprintf(h.out, "Error: %s\n", summary.Error())
	for i, err := range summary.Errors {
		fmt.Fprintf(h.out, "  %d. %s\n", i+1, err.Message)
		if i >= 9 && summary.Total > 10 {
			fmt.Fprintf(h.out, "  ... and %d more errors\n", summary.Total-10)
			break
		}
	}
	return summary.GetExitCode()
}

// handleGenericError handles errors without a category
func (h *CLIErrorHandler) handleGenericError(err error) int {
	switch {
	case h.isFileNotFoundError(err):
		fmt.Fprintf(h.out, "Error: File not found\n")
		fmt.Fprintf(h.out, "Suggestion: Check the path and that the drop directory is mounted\n")
	case h.isPermissionError(err):
		fmt.Fprintf(h.out, "Error: Permission denied\n")
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have read access\n")
	case h.isDiskFullError(err):
		fmt.Fprintf(h.out, "Error: Insufficient disk space\n")
		fmt.Fprintf(h.out, "Suggestion: Free up disk space and try again\n")
	default:
		fmt.Fprintf(h.out, "Error: %v\n", err)
	}
	return exitUnhandled
}

// getCategoryHelp returns category-specific help text
func (h *CLIErrorHandler) getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryFile:
		return `File error help:
• Check DS_NEW_FILES_DIR exists and is readable
• Check the file is named Y01A.CARS.#D.<ACCOUNT_CODE>.D<ddmmyy>`

	case errors.CategoryParse:
		return `Parse error help:
• Check the file is a bank settlement export and was not truncated
• Set FILE_ENCODING if the file is not UTF-8`

	case errors.CategoryValidation:
		return `Validation error help:
• The file's control totals do not add up
• Request a fresh copy of the file from the bank`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check the environment variables and the --config file
• Use 'uploader --help' to see the available commands`

	case errors.CategoryLedger:
		return `Ledger error help:
• Check API_URL and the API credentials
• Check the ledger is up
• A failed file is only picked up again while no later file has been uploaded;
  otherwise upload it with 'uploader upload --file <path>'
• Finish a partially uploaded file with 'uploader upload --file <path> --from-page <n>'`

	default:
		return `For more help:
• Use 'uploader --help' for general help
• Run with --verbose for debug logging`
	}
}

func (h *CLIErrorHandler) isFileNotFoundError(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file or directory")
}

func (h *CLIErrorHandler) isPermissionError(err error) bool {
	return os.IsPermission(err) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}

func (h *CLIErrorHandler) isDiskFullError(err error) bool {
	if err == syscall.ENOSPC {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full") ||
		strings.Contains(errStr, "device full")
}
