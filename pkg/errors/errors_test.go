package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestUploaderError(t *testing.T) {
	tests := []struct {
		name       string
		category   ErrorCategory
		code       ErrorCode
		message    string
		cause      error
		expectCode int
	}{
		{
			name:       "file error",
			category:   CategoryFile,
			code:       CodeFileNotFound,
			message:    "file not found",
			cause:      errors.New("no such file"),
			expectCode: 2,
		},
		{
			name:       "parse error",
			category:   CategoryParse,
			code:       CodeInvalidFormat,
			message:    "invalid format",
			expectCode: 3,
		},
		{
			name:       "configuration error",
			category:   CategoryConfiguration,
			code:       CodeMissingConfig,
			message:    "missing API_URL",
			cause:      errors.New("unset"),
			expectCode: 4,
		},
		{
			name:       "ledger error",
			category:   CategoryLedger,
			code:       CodeRequestRejected,
			message:    "rejected",
			expectCode: 6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err *UploaderError
			if tt.cause != nil {
				err = Wrap(tt.cause, tt.category, tt.code, tt.message)
			} else {
				err = New(tt.category, tt.code, tt.message)
			}

			if err.Category != tt.category {
				t.Errorf("expected category %s, got %s", tt.category, err.Category)
			}
			if err.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, err.Code)
			}
			if err.GetExitCode() != tt.expectCode {
				t.Errorf("expected exit code %d, got %d", tt.expectCode, err.GetExitCode())
			}
			if err.Error() != tt.message {
				t.Errorf("expected error string %s, got %s", tt.message, err.Error())
			}
			if tt.cause != nil && err.Unwrap() != tt.cause {
				t.Errorf("expected to unwrap to %v, got %v", tt.cause, err.Unwrap())
			}
			if len(err.StackTrace) == 0 {
				t.Error("expected a stack trace")
			}
		})
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, CategoryFile, CodeFileNotFound, "x") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if WrapIfNeeded(nil, CategoryFile, CodeFileNotFound, "x") != nil {
		t.Error("WrapIfNeeded(nil) should return nil")
	}
}

func TestSpecificErrorConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *UploaderError
		category ErrorCategory
		contains string
		context  string
	}{
		{"file too large", FileError(CodeFileTooLarge, "/drop/a", nil), CategoryFile, "size limit", "file_path"},
		{"parse invalid data", ParseError(CodeInvalidData, "a", 3, "amount", "x1", nil), CategoryParse, "invalid amount in a at line 3", "line"},
		{"control totals", ValidationError(CodeControlTotals, "a", 2, nil), CategoryValidation, "control totals", "field"},
		{"missing config", ConfigurationError(CodeMissingConfig, "API_URL", nil, nil), CategoryConfiguration, "API_URL", "setting"},
		{"balance not saved", LedgerError(CodeBalanceNotSaved, "/balances/", errors.New("500")), CategoryLedger, "closing balance", "endpoint"},
		{"partial upload", PartialUploadError("/drop/a", 1, 3, errors.New("502")), CategoryLedger, "only 1 of 3 pages posted for /drop/a", "pages_posted"},
		{"unexpected", InternalError(CodeUnexpectedError, "upload", nil), CategoryInternal, "unexpected error during upload", "operation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Category != tt.category {
				t.Errorf("expected category %s, got %s", tt.category, tt.err.Category)
			}
			if !strings.Contains(tt.err.Message, tt.contains) {
				t.Errorf("expected message to contain %q, got %q", tt.contains, tt.err.Message)
			}
			if tt.err.Suggestion == "" {
				t.Error("expected a suggestion")
			}
			if _, ok := tt.err.Context[tt.context]; !ok {
				t.Errorf("expected context key %s", tt.context)
			}
		})
	}
}

func TestErrorSummary(t *testing.T) {
	errs := []*UploaderError{
		FileError(CodeFileTooLarge, "a", nil),
		LedgerError(CodeRequestRejected, "/transactions/", nil),
		LedgerError(CodeBalanceNotSaved, "/balances/", nil),
	}
	summary := NewErrorSummary(errs)

	if summary.Total != 3 {
		t.Errorf("expected 3 errors, got %d", summary.Total)
	}
	if !summary.HasCategory(CategoryLedger) || summary.HasCategory(CategoryParse) {
		t.Errorf("unexpected categories: %v", summary.ByCategory)
	}
	if !summary.HasCode(CodeBalanceNotSaved) {
		t.Error("expected balance_not_saved code")
	}
	if summary.GetExitCode() != 6 {
		t.Errorf("expected exit code 6, got %d", summary.GetExitCode())
	}
	if got := summary.Error(); got != "3 errors occurred (file: 1, ledger: 2)" {
		t.Errorf("unexpected summary: %s", got)
	}

	empty := NewErrorSummary(nil)
	if empty.GetExitCode() != 0 || empty.Error() != "no errors" {
		t.Errorf("unexpected empty summary: %d %s", empty.GetExitCode(), empty.Error())
	}
}

func TestAsUploaderError(t *testing.T) {
	base := ConfigurationError(CodeInvalidConfig, "page_size", 0, nil)
	wrapped := fmt.Errorf("loading settings: %w", base)

	got, ok := AsUploaderError(wrapped)
	if !ok || got != base {
		t.Fatalf("expected to find the wrapped error, got %v %v", got, ok)
	}
	if _, ok := AsUploaderError(errors.New("plain")); ok {
		t.Error("plain errors should not match")
	}
	if WrapIfNeeded(wrapped, CategoryInternal, CodeUnexpectedError, "x") != base {
		t.Error("WrapIfNeeded should return the existing UploaderError")
	}
}

func TestRecordErrors(t *testing.T) {
	r := NewRecordErrors()
	if !r.Empty() || r.Err("a") != nil {
		t.Fatal("new collection should be empty")
	}

	r.Addf("account 0", "Monetary total of debit items does not match expected: counted %d, expected %d", 288615, 288610)
	r.Add("account 0", "Monetary total of credit items does not match expected: counted 18741, expected 18732")

	want := "{'account 0': ['Monetary total of debit items does not match expected: counted 288615, expected 288610', " +
		"'Monetary total of credit items does not match expected: counted 18741, expected 18732']}"
	if r.String() != want {
		t.Errorf("unexpected rendering:\n%s", r.String())
	}
	if r.Count() != 2 {
		t.Errorf("expected 2 messages, got %d", r.Count())
	}

	err := r.Err("Y01A.CARS.#D.444444.D050214")
	if err == nil || err.Code != CodeControlTotals || err.GetExitCode() != 3 {
		t.Fatalf("unexpected error: %#v", err)
	}
	if len(err.Context["errors"].(map[string][]string)["account 0"]) != 2 {
		t.Error("expected errors in context")
	}
}
