package reporter

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"transaction-uploader/internal/reconciler"
	"transaction-uploader/pkg/errors"
	"transaction-uploader/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with input validation and
// fallbacks for failed output.
type SafeReportGenerator struct {
	*ReportGenerator
	fs     afero.Fs
	logger logger.Logger
}

// NewSafeReportGenerator creates a generator that writes report files to fs.
func NewSafeReportGenerator(config *ReportConfig, fs afero.Fs, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"report_config",
			config,
			err,
		).WithSuggestion("Check the report format and CSV settings")
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		fs:              fs,
		logger:          log.WithComponent("reporter"),
	}, nil
}

// GenerateReportSafely writes the report to writer. When a structured format
// fails the console format is written instead, preceded by a notice.
func (srg *SafeReportGenerator) GenerateReportSafely(result *reconciler.RunResult, writer io.Writer) error {
	srg.logger.WithFields(logger.Fields{
		"format": srg.config.Format,
		"output": getWriterDescription(writer),
	}).Debug("Starting report generation")

	if err := srg.validateInputs(result, writer); err != nil {
		srg.logger.WithError(err).Error("Report generation failed: input validation")
		return err
	}

	if err := srg.generateWithFallback(result, writer); err != nil {
		srg.logger.WithError(err).Error("Report generation failed")
		return err
	}
	return nil
}

// WriteFile renders the report into path. If path cannot be written the
// report goes to a backup file next to it.
func (srg *SafeReportGenerator) WriteFile(result *reconciler.RunResult, path string) (string, error) {
	if err := srg.validateInputs(result, io.Discard); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := srg.generateWithFallback(result, &buf); err != nil {
		return "", err
	}

	err := afero.WriteFile(srg.fs, path, buf.Bytes(), 0o644)
	if err == nil {
		srg.logger.WithField("file", path).Info("Report written")
		return path, nil
	}
	if !isFileError(err) {
		return "", errors.FileError(errors.CodeDirectoryError, path, err)
	}

	backupPath := generateBackupPath(path)
	srg.logger.WithFields(logger.Fields{
		"original_file": path,
		"backup_file":   backupPath,
	}).WithError(err).Warn("Attempting output fallback")

	if berr := afero.WriteFile(srg.fs, backupPath, buf.Bytes(), 0o644); berr != nil {
		return "", errors.FileError(errors.CodeDirectoryError, path,
			fmt.Errorf("both primary and backup output failed: primary=%v, backup=%v", err, berr))
	}
	return backupPath, nil
}

func (srg *SafeReportGenerator) validateInputs(result *reconciler.RunResult, writer io.Writer) error {
	if result == nil {
		return errors.ValidationError(
			errors.CodeMissingField,
			"result",
			nil,
			nil,
		).WithSuggestion("Provide a run result")
	}
	if writer == nil {
		return errors.ValidationError(
			errors.CodeMissingField,
			"writer",
			nil,
			nil,
		).WithSuggestion("Provide a valid output writer")
	}
	return nil
}

func (srg *SafeReportGenerator) generateWithFallback(result *reconciler.RunResult, writer io.Writer) error {
	// Render into memory first so a failed format leaves nothing half written.
	var buf bytes.Buffer
	err := srg.GenerateReport(result, &buf)
	if err == nil {
		_, werr := writer.Write(buf.Bytes())
		return srg.wrapOutputError(werr)
	}

	srg.logger.WithError(err).Warn("Primary report generation failed, attempting fallback")
	if srg.config.Format == FormatConsole {
		return srg.wrapGenerationError(err)
	}

	fallbackConfig := *srg.config
	fallbackConfig.Format = FormatConsole
	fallbackGenerator, ferr := NewReportGenerator(&fallbackConfig)
	if ferr != nil {
		return srg.wrapGenerationError(err)
	}

	buf.Reset()
	fmt.Fprintf(&buf, "NOTE: Report generated in fallback format due to error with requested format\n")
	fmt.Fprintf(&buf, "Original error: %v\n\n", err)
	if ferr := fallbackGenerator.GenerateReport(result, &buf); ferr != nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_fallback",
			fmt.Errorf("both primary and fallback generation failed: primary=%v, fallback=%v", err, ferr),
		)
	}

	srg.logger.WithField("fallback_format", FormatConsole).Info("Report generated using format fallback")
	_, werr := writer.Write(buf.Bytes())
	return srg.wrapOutputError(werr)
}

func (srg *SafeReportGenerator) wrapOutputError(err error) error {
	if err == nil {
		return nil
	}
	return errors.FileError(errors.CodeDirectoryError, "report output", err)
}

func (srg *SafeReportGenerator) wrapGenerationError(err error) error {
	if uploaderErr, ok := errors.AsUploaderError(err); ok {
		return uploaderErr
	}
	return errors.InternalError(
		errors.CodeUnexpectedError,
		"report_generation",
		err,
	).WithSuggestion("Check the output destination and report format settings")
}

func isFileError(err error) bool {
	return os.IsPermission(err) ||
		os.IsNotExist(err) ||
		os.IsExist(err) ||
		isSpaceError(err)
}

func isSpaceError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no space left") ||
		strings.Contains(msg, "disk full") ||
		strings.Contains(msg, "device full")
}

// generateBackupPath puts the backup in the system temp directory when the
// original directory is the problem.
func generateBackupPath(originalPath string) string {
	base := filepath.Base(originalPath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	return filepath.Join(os.TempDir(), fmt.Sprintf("%s_backup%s", name, ext))
}

func getWriterDescription(writer io.Writer) string {
	switch w := writer.(type) {
	case *os.File:
		if w.Name() != "" {
			return fmt.Sprintf("file:%s", w.Name())
		}
		return "file:unnamed"
	default:
		return fmt.Sprintf("writer:%T", writer)
	}
}
