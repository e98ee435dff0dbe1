package reporter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/xuri/excelize/v2"

	"transaction-uploader/internal/filesource"
	"transaction-uploader/internal/models"
	"transaction-uploader/internal/reconciler"
	"transaction-uploader/pkg/errors"
)

func createSampleRunResult() *reconciler.RunResult {
	started := time.Date(2004, time.February, 6, 6, 0, 0, 0, time.UTC)
	last := time.Date(2004, time.February, 3, 0, 0, 0, 0, time.UTC)
	dob := time.Date(1986, time.December, 9, 0, 0, 0, 0, time.UTC)
	batch := int64(3)
	bank := int64(1330)

	txs := []*models.Transaction{
		{
			Amount:              300,
			Category:            models.CategoryCredit,
			Source:              models.SourceBankTransfer,
			SenderSortCode:      models.StringPtr("608006"),
			SenderAccountNumber: models.StringPtr("29696666"),
			SenderName:          "NORTHERN DIY   E  ",
			Reference:           "A1234BY 09/12/86  ",
			ReceivedAt:          models.MiddayUTC(time.Date(2004, time.February, 4, 0, 0, 0, 0, time.UTC)),
			ProcessorTypeCode:   "99",
			PrisonerNumber:      models.StringPtr("A1234BY"),
			PrisonerDOB:         &dob,
		},
		{
			Amount:            40,
			Category:          models.CategoryCredit,
			Source:            models.SourceAdministrative,
			SenderName:        "WORLDPAY 2209",
			Blocked:           true,
			ReceivedAt:        models.MiddayUTC(time.Date(2004, time.February, 4, 0, 0, 0, 0, time.UTC)),
			ProcessorTypeCode: "84",
			Batch:             &batch,
		},
		{
			Amount:               10,
			Category:             models.CategoryDebit,
			Source:               models.SourceAdministrative,
			Reference:            "Payment refund",
			Blocked:              true,
			IncompleteSenderInfo: true,
			ReceivedAt:           models.MiddayUTC(time.Date(2004, time.February, 4, 0, 0, 0, 0, time.UTC)),
			ProcessorTypeCode:    "03",
		},
	}

	return &reconciler.RunResult{
		RunID:      "6f1c2a9e-0000-4000-8000-000000000001",
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
		LastDate:   &last,
		Files: []*reconciler.FileResult{
			{
				File:         filesource.File{Name: "Y01A.CARS.#D.444444.D040204", Date: time.Date(2004, time.February, 4, 0, 0, 0, 0, time.UTC)},
				Status:       reconciler.StatusUploaded,
				Transactions: txs,
				Credits:      2,
				Debits:       1,
				CreditTotal:  340,
				DebitTotal:   10,
				Posted:       3,
				PagesPosted:  1,
				TotalPages:   1,
				Balance:      &models.Balance{Date: time.Date(2004, time.February, 4, 0, 0, 0, 0, time.UTC), ClosingBalance: 1330},
				BankBalance:  &bank,
			},
			{
				File:   filesource.File{Name: "Y01A.CARS.#D.444444.D050204"},
				Status: reconciler.StatusEmpty,
			},
			{
				File:   filesource.File{Name: "Y01A.CARS.#D.444444.D060204"},
				Status: reconciler.StatusInvalid,
				Err:    fmt.Errorf("control totals do not match"),
			},
		},
	}
}

func TestNewReportGenerator(t *testing.T) {
	tests := []struct {
		name        string
		config      *ReportConfig
		expectError bool
	}{
		{"default config", nil, false},
		{"valid config", DefaultReportConfig(), false},
		{"xlsx", &ReportConfig{Format: FormatXLSX}, false},
		{"invalid format", &ReportConfig{Format: "invalid"}, true},
		{"negative max listed", &ReportConfig{Format: FormatConsole, MaxListed: -1}, true},
		{"csv without delimiter", &ReportConfig{Format: FormatCSV}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator, err := NewReportGenerator(tt.config)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if generator == nil {
				t.Errorf("expected generator but got nil")
			}
		})
	}
}

func TestOutputFormatValidation(t *testing.T) {
	tests := []struct {
		format OutputFormat
		valid  bool
	}{
		{FormatConsole, true},
		{FormatJSON, true},
		{FormatCSV, true},
		{FormatXLSX, true},
		{"invalid", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			if tt.format.IsValid() != tt.valid {
				t.Errorf("expected IsValid() = %v for format %s", tt.valid, tt.format)
			}
		})
	}
}

func TestGenerateReport_NilResult(t *testing.T) {
	generator, _ := NewReportGenerator(nil)
	if err := generator.GenerateReport(nil, &bytes.Buffer{}); err == nil {
		t.Error("expected an error for a nil result")
	}
}

func TestConsoleOutputSections(t *testing.T) {
	config := DefaultReportConfig()
	config.IncludeTransactions = true
	config.MaxListed = 2
	generator, err := NewReportGenerator(config)
	if err != nil {
		t.Fatalf("NewReportGenerator: %v", err)
	}

	var buf bytes.Buffer
	if err := generator.GenerateReport(createSampleRunResult(), &buf); err != nil {
		t.Fatalf("GenerateReport: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"UPLOAD REPORT",
		"Run: 6f1c2a9e-0000-4000-8000-000000000001",
		"Duration: 1.5s",
		"Last uploaded date: 2004-02-03",
		"=== SUMMARY ===",
		"Transactions:   3 uploaded",
		"Credits:        £3.40",
		"=== FILES ===",
		"Y01A.CARS.#D.444444.D040204 [uploaded]",
		"Closing balance: £13.30",
		"=== TRANSACTIONS ===",
		"1. £3.00 credit/bank_transfer from 608006/29696666 for A1234BY",
		"2. £0.40 credit/administrative from / batch 3 BLOCKED",
		"... and 1 more",
		"=== ERRORS ===",
		"Y01A.CARS.#D.444444.D060204: control totals do not match",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("console report missing %q:\n%s", want, out)
		}
	}
}

func TestConsoleOutput_NoFiles(t *testing.T) {
	generator, _ := NewReportGenerator(nil)
	var buf bytes.Buffer
	if err := generator.GenerateReport(&reconciler.RunResult{RunID: "empty"}, &buf); err != nil {
		t.Fatalf("GenerateReport: %v", err)
	}
	if !strings.Contains(buf.String(), "No files processed.") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
	if strings.Contains(buf.String(), "=== ERRORS ===") {
		t.Error("no errors section expected")
	}
}

func TestConsoleOutput_PartiallyUploaded(t *testing.T) {
	result := &reconciler.RunResult{
		RunID: "partial",
		Files: []*reconciler.FileResult{{
			File:        filesource.File{Name: "Y01A.CARS.#D.444444.D040204"},
			Status:      reconciler.StatusPartiallyUploaded,
			Credits:     2,
			CreditTotal: 340,
			Posted:      1,
			PagesPosted: 1,
			TotalPages:  3,
			Err:         fmt.Errorf("only 1 of 3 pages posted"),
		}},
	}

	generator, _ := NewReportGenerator(nil)
	var buf bytes.Buffer
	if err := generator.GenerateReport(result, &buf); err != nil {
		t.Fatalf("GenerateReport: %v", err)
	}
	for _, want := range []string{
		"partially_uploaded: 1",
		"Transactions:   1 uploaded",
		"Pages posted: 1 of 3 (1 transactions)",
	} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("expected %q in output:\n%s", want, buf.String())
		}
	}
}

func TestJSONOutput(t *testing.T) {
	tests := []struct {
		name         string
		transactions bool
	}{
		{"summary only", false},
		{"with transactions", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator, _ := NewReportGenerator(&ReportConfig{Format: FormatJSON, IncludeTransactions: tt.transactions})
			var buf bytes.Buffer
			if err := generator.GenerateReport(createSampleRunResult(), &buf); err != nil {
				t.Fatalf("GenerateReport: %v", err)
			}

			var out struct {
				RunID    string `json:"run_id"`
				LastDate string `json:"last_date"`
				Uploaded int    `json:"uploaded"`
				Files    []struct {
					File struct {
						Name string `json:"name"`
					} `json:"file"`
					Status       string                   `json:"status"`
					Error        string                   `json:"error"`
					CreditTotal  int64                    `json:"credit_total"`
					Transactions []map[string]interface{} `json:"transactions"`
				} `json:"files"`
			}
			if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
				t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
			}
			if out.LastDate != "2004-02-03" || out.Uploaded != 3 || len(out.Files) != 3 {
				t.Errorf("unexpected report %+v", out)
			}
			if out.Files[0].File.Name != "Y01A.CARS.#D.444444.D040204" || out.Files[0].CreditTotal != 340 {
				t.Errorf("unexpected first file %+v", out.Files[0])
			}
			if out.Files[2].Status != "invalid" || out.Files[2].Error != "control totals do not match" {
				t.Errorf("unexpected invalid file %+v", out.Files[2])
			}
			if got := len(out.Files[0].Transactions); (got > 0) != tt.transactions {
				t.Errorf("transactions listed = %d", got)
			}
			if tt.transactions && out.Files[0].Transactions[0]["prisoner_number"] != "A1234BY" {
				t.Errorf("unexpected transaction %v", out.Files[0].Transactions[0])
			}
		})
	}
}

func TestCSVFormatting(t *testing.T) {
	tests := []struct {
		name      string
		delimiter rune
		headers   bool
		rows      int
	}{
		{"comma with headers", ',', true, 4},
		{"semicolon without headers", ';', false, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator, err := NewReportGenerator(&ReportConfig{Format: FormatCSV, CSVDelimiter: tt.delimiter, CSVHeaders: tt.headers})
			if err != nil {
				t.Fatalf("NewReportGenerator: %v", err)
			}
			var buf bytes.Buffer
			if err := generator.GenerateReport(createSampleRunResult(), &buf); err != nil {
				t.Fatalf("GenerateReport: %v", err)
			}

			reader := csv.NewReader(&buf)
			reader.Comma = tt.delimiter
			rows, err := reader.ReadAll()
			if err != nil {
				t.Fatalf("invalid CSV: %v", err)
			}
			if len(rows) != tt.rows {
				t.Fatalf("expected %d rows, got %d", tt.rows, len(rows))
			}

			first := rows[len(rows)-3]
			if first[0] != "Y01A.CARS.#D.444444.D040204" || first[4] != "3.00" || first[10] != "A1234BY" || first[11] != "1986-12-09" {
				t.Errorf("unexpected row %v", first)
			}
			if batchRow := rows[len(rows)-2]; batchRow[14] != "3" || batchRow[12] != "true" {
				t.Errorf("unexpected row %v", batchRow)
			}
		})
	}
}

func TestXLSXOutput(t *testing.T) {
	generator, err := NewReportGenerator(&ReportConfig{Format: FormatXLSX})
	if err != nil {
		t.Fatalf("NewReportGenerator: %v", err)
	}
	var buf bytes.Buffer
	if err := generator.GenerateReport(createSampleRunResult(), &buf); err != nil {
		t.Fatalf("GenerateReport: %v", err)
	}

	book, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer book.Close()

	files, err := book.GetRows(filesSheet)
	if err != nil {
		t.Fatalf("GetRows(%s): %v", filesSheet, err)
	}
	if len(files) != 4 || files[1][2] != "uploaded" || files[3][9] != "control totals do not match" {
		t.Errorf("unexpected file rows %v", files)
	}

	txs, err := book.GetRows(transactionsSheet)
	if err != nil {
		t.Fatalf("GetRows(%s): %v", transactionsSheet, err)
	}
	if len(txs) != 4 || txs[0][0] != "File" || txs[1][3] != "bank_transfer" {
		t.Errorf("unexpected transaction rows %v", txs)
	}
}

func TestSafeReportGenerator(t *testing.T) {
	fs := afero.NewMemMapFs()
	generator, err := NewSafeReportGenerator(&ReportConfig{Format: FormatJSON}, fs, nil)
	if err != nil {
		t.Fatalf("NewSafeReportGenerator: %v", err)
	}

	t.Run("nil result", func(t *testing.T) {
		err := generator.GenerateReportSafely(nil, &bytes.Buffer{})
		uerr, ok := errors.AsUploaderError(err)
		if !ok || uerr.Category != errors.CategoryValidation {
			t.Errorf("expected a validation error, got %v", err)
		}
	})

	t.Run("writer", func(t *testing.T) {
		var buf bytes.Buffer
		if err := generator.GenerateReportSafely(createSampleRunResult(), &buf); err != nil {
			t.Fatalf("GenerateReportSafely: %v", err)
		}
		if !json.Valid(buf.Bytes()) {
			t.Errorf("expected JSON output, got %s", buf.String())
		}
	})

	t.Run("file", func(t *testing.T) {
		path, err := generator.WriteFile(createSampleRunResult(), "/reports/run.json")
		if err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		data, err := afero.ReadFile(fs, path)
		if err != nil || !json.Valid(data) {
			t.Errorf("unexpected file contents %q, %v", data, err)
		}
	})

	t.Run("read only filesystem", func(t *testing.T) {
		readOnly, err := NewSafeReportGenerator(&ReportConfig{Format: FormatJSON}, afero.NewReadOnlyFs(afero.NewMemMapFs()), nil)
		if err != nil {
			t.Fatalf("NewSafeReportGenerator: %v", err)
		}
		if _, err := readOnly.WriteFile(createSampleRunResult(), "/reports/run.json"); err == nil {
			t.Error("expected an error writing to a read-only filesystem")
		}
	})
}

func TestNewSafeReportGenerator_InvalidConfig(t *testing.T) {
	_, err := NewSafeReportGenerator(&ReportConfig{Format: "bogus"}, nil, nil)
	uerr, ok := errors.AsUploaderError(err)
	if !ok || uerr.Category != errors.CategoryConfiguration {
		t.Errorf("expected a configuration error, got %v", err)
	}
}

func TestGenerateBackupPath(t *testing.T) {
	got := generateBackupPath("/var/reports/run.json")
	if !strings.HasSuffix(got, "run_backup.json") {
		t.Errorf("unexpected backup path %s", got)
	}
}
