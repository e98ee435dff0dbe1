package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryFile          ErrorCategory = "file"
	CategoryParse         ErrorCategory = "parse"
	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryLedger        ErrorCategory = "ledger"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// File errors
	CodeFileNotFound   ErrorCode = "file_not_found"
	CodeFileTooLarge   ErrorCode = "file_too_large"
	CodeDirectoryError ErrorCode = "directory_error"

	// Parse errors
	CodeInvalidFormat ErrorCode = "invalid_format"
	CodeInvalidData   ErrorCode = "invalid_data"
	CodeEncodingError ErrorCode = "encoding_error"

	// Validation errors
	CodeControlTotals ErrorCode = "control_totals"
	CodeInvalidDate   ErrorCode = "invalid_date"
	CodeMissingField  ErrorCode = "missing_field"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Ledger errors
	CodeAuthFailed      ErrorCode = "auth_failed"
	CodeRequestFailed   ErrorCode = "request_failed"
	CodeRequestRejected ErrorCode = "request_rejected"
	CodeBalanceNotSaved ErrorCode = "balance_not_saved"
	CodePartialUpload   ErrorCode = "partial_upload"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// UploaderError is the base error type for all application errors
type UploaderError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *UploaderError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *UploaderError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate exit code for the error
func (e *UploaderError) GetExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategoryParse, CategoryValidation:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryInternal:
		return 5
	case CategoryLedger:
		return 6
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *UploaderError) WithContext(key string, value interface{}) *UploaderError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *UploaderError) WithSuggestion(suggestion string) *UploaderError {
	e.Suggestion = suggestion
	return e
}

// New creates a new UploaderError
func New(category ErrorCategory, code ErrorCode, message string) *UploaderError {
	return &UploaderError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with UploaderError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *UploaderError {
	if err == nil {
		return nil
	}

	return &UploaderError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func build(category ErrorCategory, code ErrorCode, message string, err error) *UploaderError {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}

// FileError creates a file-related error
func FileError(code ErrorCode, path string, err error) *UploaderError {
	var message, suggestion string

	switch code {
	case CodeFileNotFound:
		message = fmt.Sprintf("file not found: %s", path)
		suggestion = "check that the drop directory is mounted and the file still exists"
	case CodeFileTooLarge:
		message = fmt.Sprintf("file exceeds size limit: %s", path)
		suggestion = "inspect the file manually, settlement files are normally a few megabytes"
	case CodeDirectoryError:
		message = fmt.Sprintf("directory error: %s", path)
		suggestion = "ensure the directory exists and is readable"
	default:
		message = fmt.Sprintf("file error: %s", path)
		suggestion = "check the file and try again"
	}

	return build(CategoryFile, code, message, err).
		WithSuggestion(suggestion).
		WithContext("file_path", path)
}

// ParseError creates a parsing-related error
func ParseError(code ErrorCode, file string, line int, field string, value string, err error) *UploaderError {
	var message, suggestion string

	switch code {
	case CodeInvalidFormat:
		message = fmt.Sprintf("invalid record format in %s at line %d", file, line)
		suggestion = "check the file is a bank settlement export and was not truncated"
	case CodeInvalidData:
		message = fmt.Sprintf("invalid %s in %s at line %d: '%s'", field, file, line, value)
		suggestion = "correct the data or remove the invalid record"
	case CodeEncodingError:
		message = fmt.Sprintf("encoding error in %s at line %d", file, line)
		suggestion = "set input_encoding to match the file"
	default:
		message = fmt.Sprintf("parse error in %s at line %d", file, line)
		suggestion = "check the file format and data integrity"
	}

	return build(CategoryParse, code, message, err).
		WithSuggestion(suggestion).
		WithContext("file", file).
		WithContext("line", line).
		WithContext("field", field).
		WithContext("value", value)
}

// ValidationError creates a validation-related error
func ValidationError(code ErrorCode, field string, value interface{}, err error) *UploaderError {
	var message, suggestion string

	switch code {
	case CodeControlTotals:
		message = fmt.Sprintf("control totals do not match in %s", field)
		suggestion = "request a fresh copy of the file from the bank"
	case CodeInvalidDate:
		message = fmt.Sprintf("invalid date in field '%s': %v", field, value)
		suggestion = "dates must be real calendar dates"
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	default:
		message = fmt.Sprintf("validation error in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	return build(CategoryValidation, code, message, err).
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *UploaderError {
	var message, suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "set the environment variable or provide it in the config file"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	return build(CategoryConfiguration, code, message, err).
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// LedgerError creates an error for a failed exchange with the ledger service
func LedgerError(code ErrorCode, endpoint string, err error) *UploaderError {
	var message, suggestion string

	switch code {
	case CodeAuthFailed:
		message = fmt.Sprintf("authentication failed against %s", endpoint)
		suggestion = "check the API client and user credentials"
	case CodeRequestFailed:
		message = fmt.Sprintf("request to %s failed", endpoint)
		suggestion = "check network connectivity and that the ledger is up"
	case CodeRequestRejected:
		message = fmt.Sprintf("request to %s was rejected", endpoint)
		suggestion = "inspect the response content logged with this error"
	case CodeBalanceNotSaved:
		message = fmt.Sprintf("closing balance not saved at %s", endpoint)
		suggestion = "post the balance manually before the next run, later balances build on it"
	default:
		message = fmt.Sprintf("ledger error: %s", endpoint)
		suggestion = "try again later"
	}

	return build(CategoryLedger, code, message, err).
		WithSuggestion(suggestion).
		WithContext("endpoint", endpoint)
}

// PartialUploadError reports a file whose transaction pages were only partly
// posted. The unsent pages are not retried by later runs.
func PartialUploadError(path string, pagesPosted, totalPages int, err error) *UploaderError {
	message := fmt.Sprintf("only %d of %d pages posted for %s", pagesPosted, totalPages, path)
	return build(CategoryLedger, CodePartialUpload, message, err).
		WithSuggestion(fmt.Sprintf("resume with: uploader upload --file %s --from-page %d", path, pagesPosted+1)).
		WithContext("file_path", path).
		WithContext("pages_posted", pagesPosted).
		WithContext("total_pages", totalPages)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *UploaderError {
	message := fmt.Sprintf("internal error during %s", operation)
	suggestion := "try again or contact support if the problem persists"
	if code == CodeUnexpectedError {
		message = fmt.Sprintf("unexpected error during %s", operation)
		suggestion = "this is likely a bug, please report it with the error details"
	}

	return build(CategoryInternal, code, message, err).
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total      int                   `json:"total"`
	ByCategory map[ErrorCategory]int `json:"by_category"`
	ByCode     map[ErrorCode]int     `json:"by_code"`
	Errors     []*UploaderError      `json:"errors"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*UploaderError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	if summary.Errors == nil {
		summary.Errors = []*UploaderError{}
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}

	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var categories []string
	for _, category := range []ErrorCategory{
		CategoryFile, CategoryParse, CategoryValidation,
		CategoryConfiguration, CategoryLedger, CategoryInternal,
	} {
		if count := es.ByCategory[category]; count > 0 {
			categories = append(categories, fmt.Sprintf("%s: %d", category, count))
		}
	}

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCategory checks if the summary contains errors of the given category
func (es *ErrorSummary) HasCategory(category ErrorCategory) bool {
	return es.ByCategory[category] > 0
}

// HasCode checks if the summary contains errors with the given code
func (es *ErrorSummary) HasCode(code ErrorCode) bool {
	return es.ByCode[code] > 0
}

// GetExitCode returns the highest priority exit code from all errors
func (es *ErrorSummary) GetExitCode() int {
	if es.Total == 0 {
		return 0
	}

	maxCode := 1
	for _, err := range es.Errors {
		if code := err.GetExitCode(); code > maxCode {
			maxCode = code
		}
	}

	return maxCode
}

// AsUploaderError extracts an UploaderError from an error chain
func AsUploaderError(err error) (*UploaderError, bool) {
	var uploaderErr *UploaderError
	if errors.As(err, &uploaderErr) {
		return uploaderErr, true
	}
	return nil, false
}

// WrapIfNeeded wraps an error if it's not already an UploaderError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *UploaderError {
	if err == nil {
		return nil
	}

	if uploaderErr, ok := AsUploaderError(err); ok {
		return uploaderErr
	}

	return Wrap(err, category, code, message)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
