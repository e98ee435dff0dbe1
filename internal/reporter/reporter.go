// Package reporter renders upload runs and file inspections.
//
// Supported output formats:
//   - Console: human-readable summary for terminal display
//   - JSON: structured data for log shipping and tooling
//   - CSV: one row per classified transaction
//   - XLSX: a workbook with a file sheet and a transaction sheet
//
// Amounts are held in pence and shown in pounds.
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatJSON})
//	if err != nil {
//		return err
//	}
//	err = generator.GenerateReport(result, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"transaction-uploader/internal/models"
	"transaction-uploader/internal/reconciler"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
	FormatXLSX    OutputFormat = "xlsx"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV, FormatXLSX:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// IncludeTransactions lists every classified transaction in console and
	// JSON output. CSV and XLSX always carry them.
	IncludeTransactions bool `json:"include_transactions"`

	// MaxListed caps the transactions listed per file on the console; zero
	// lists all of them.
	MaxListed int `json:"max_listed"`

	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:       FormatConsole,
		MaxListed:    10,
		CSVDelimiter: ',',
		CSVHeaders:   true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxListed < 0 {
		return fmt.Errorf("max listed cannot be negative, got %d", c.MaxListed)
	}
	if c.Format == FormatCSV && (c.CSVDelimiter == 0 || c.CSVDelimiter == '\n' || c.CSVDelimiter == '"') {
		return fmt.Errorf("invalid CSV delimiter: %q", c.CSVDelimiter)
	}
	return nil
}

// ReportGenerator renders run results in the configured format.
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{config: config}, nil
}

// GenerateReport writes a report for result to writer.
func (rg *ReportGenerator) GenerateReport(result *reconciler.RunResult, writer io.Writer) error {
	if result == nil {
		return fmt.Errorf("run result cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(result, writer)
	case FormatJSON:
		return rg.generateJSONReport(result, writer)
	case FormatCSV:
		return rg.generateCSVReport(result, writer)
	case FormatXLSX:
		return rg.generateXLSXReport(result, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) generateConsoleReport(result *reconciler.RunResult, writer io.Writer) error {
	fmt.Fprintf(writer, "UPLOAD REPORT\n")
	fmt.Fprintf(writer, "Run: %s\n", result.RunID)
	if !result.StartedAt.IsZero() {
		fmt.Fprintf(writer, "Started: %s\n", result.StartedAt.Format(time.RFC3339))
	}
	if !result.FinishedAt.IsZero() {
		fmt.Fprintf(writer, "Duration: %v\n", result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))
	}
	if result.LastDate != nil {
		fmt.Fprintf(writer, "Last uploaded date: %s\n", models.FormatDate(*result.LastDate))
	}
	fmt.Fprintf(writer, "\n")

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	rg.printSummary(result, writer)
	fmt.Fprintf(writer, "\n")

	if len(result.Files) == 0 {
		fmt.Fprintf(writer, "No files processed.\n")
		return nil
	}

	fmt.Fprintf(writer, "=== FILES ===\n")
	for _, f := range result.Files {
		rg.printFile(f, writer)
	}

	if rg.config.IncludeTransactions {
		fmt.Fprintf(writer, "\n=== TRANSACTIONS ===\n")
		for _, f := range result.Files {
			if len(f.Transactions) == 0 {
				continue
			}
			fmt.Fprintf(writer, "%s (%d):\n", f.File.Name, len(f.Transactions))
			rg.printTransactionList(f.Transactions, writer)
		}
	}

	if err := result.Err(); err != nil {
		fmt.Fprintf(writer, "\n=== ERRORS ===\n")
		for _, f := range result.Files {
			if f.Err != nil {
				fmt.Fprintf(writer, "  - %s: %s\n", f.File.Name, f.ErrorMessage())
			}
		}
	}
	return nil
}

func (rg *ReportGenerator) printSummary(result *reconciler.RunResult, writer io.Writer) {
	var credits, debits int64
	for _, f := range result.Files {
		credits += f.CreditTotal
		debits += f.DebitTotal
	}

	fmt.Fprintf(writer, "Files:          %d\n", len(result.Files))
	for _, status := range []reconciler.FileStatus{
		reconciler.StatusUploaded,
		reconciler.StatusClassified,
		reconciler.StatusEmpty,
		reconciler.StatusInvalid,
		reconciler.StatusFailed,
		reconciler.StatusBalanceFailed,
		reconciler.StatusPartiallyUploaded,
	} {
		if n := result.Count(status); n > 0 {
			fmt.Fprintf(writer, "  %-14s %d\n", string(status)+":", n)
		}
	}
	fmt.Fprintf(writer, "Transactions:   %d uploaded\n", result.Uploaded())
	fmt.Fprintf(writer, "Credits:        %s\n", pounds(credits))
	fmt.Fprintf(writer, "Debits:         %s\n", pounds(debits))
}

func (rg *ReportGenerator) printFile(f *reconciler.FileResult, writer io.Writer) {
	fmt.Fprintf(writer, "%s [%s]\n", f.File.Name, f.Status)
	if f.Credits+f.Debits > 0 {
		fmt.Fprintf(writer, "  Credits: %d (%s)  Debits: %d (%s)\n",
			f.Credits, pounds(f.CreditTotal), f.Debits, pounds(f.DebitTotal))
	}
	if f.Status == reconciler.StatusPartiallyUploaded {
		fmt.Fprintf(writer, "  Pages posted: %d of %d (%d transactions)\n", f.PagesPosted, f.TotalPages, f.Posted)
	}
	if f.Balance != nil {
		fmt.Fprintf(writer, "  Closing balance: %s\n", pounds(f.Balance.ClosingBalance))
	}
	if f.BankBalance != nil {
		fmt.Fprintf(writer, "  Bank closing balance: %s\n", pounds(*f.BankBalance))
	}
}

func (rg *ReportGenerator) printTransactionList(transactions []*models.Transaction, writer io.Writer) {
	for i, tx := range transactions {
		if rg.config.MaxListed > 0 && i >= rg.config.MaxListed {
			fmt.Fprintf(writer, "  ... and %d more\n", len(transactions)-rg.config.MaxListed)
			break
		}
		fmt.Fprintf(writer, "  %d. %s %s/%s from %s/%s",
			i+1,
			pounds(tx.Amount),
			tx.Category,
			tx.Source,
			value(tx.SenderSortCode),
			value(tx.SenderAccountNumber))
		if tx.SenderRollNumber != nil {
			fmt.Fprintf(writer, " roll %s", *tx.SenderRollNumber)
		}
		if tx.PrisonerNumber != nil {
			fmt.Fprintf(writer, " for %s", *tx.PrisonerNumber)
		}
		if tx.Batch != nil {
			fmt.Fprintf(writer, " batch %d", *tx.Batch)
		}
		if tx.Blocked {
			fmt.Fprintf(writer, " BLOCKED")
		} else if tx.IncompleteSenderInfo {
			fmt.Fprintf(writer, " INCOMPLETE")
		}
		fmt.Fprintf(writer, "\n")
	}
}

type fileOutput struct {
	*reconciler.FileResult
	Error        string                `json:"error,omitempty"`
	Transactions []*models.Transaction `json:"transactions,omitempty"`
}

func (rg *ReportGenerator) filterResultForOutput(result *reconciler.RunResult) map[string]interface{} {
	files := make([]fileOutput, len(result.Files))
	for i, f := range result.Files {
		files[i] = fileOutput{FileResult: f, Error: f.ErrorMessage()}
		if rg.config.IncludeTransactions {
			files[i].Transactions = f.Transactions
		}
	}

	output := map[string]interface{}{
		"run_id":      result.RunID,
		"started_at":  result.StartedAt,
		"finished_at": result.FinishedAt,
		"uploaded":    result.Uploaded(),
		"files":       files,
	}
	if result.LastDate != nil {
		output["last_date"] = models.FormatDate(*result.LastDate)
	}
	return output
}

func (rg *ReportGenerator) generateJSONReport(result *reconciler.RunResult, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rg.filterResultForOutput(result))
}

var transactionHeaders = []string{
	"File",
	"Received_At",
	"Category",
	"Source",
	"Amount",
	"Sender_Sort_Code",
	"Sender_Account_Number",
	"Sender_Roll_Number",
	"Sender_Name",
	"Reference",
	"Prisoner_Number",
	"Prisoner_DOB",
	"Blocked",
	"Incomplete_Sender_Info",
	"Batch",
	"Processor_Type_Code",
}

func transactionRow(file string, tx *models.Transaction) []string {
	dob := ""
	if tx.PrisonerDOB != nil {
		dob = models.FormatDate(*tx.PrisonerDOB)
	}
	batch := ""
	if tx.Batch != nil {
		batch = strconv.FormatInt(*tx.Batch, 10)
	}
	return []string{
		file,
		models.FormatDate(tx.ReceivedAt),
		string(tx.Category),
		string(tx.Source),
		models.MinorToPounds(tx.Amount).StringFixed(2),
		value(tx.SenderSortCode),
		value(tx.SenderAccountNumber),
		value(tx.SenderRollNumber),
		strings.TrimSpace(tx.SenderName),
		strings.TrimSpace(tx.Reference),
		value(tx.PrisonerNumber),
		dob,
		strconv.FormatBool(tx.Blocked),
		strconv.FormatBool(tx.IncompleteSenderInfo),
		batch,
		tx.ProcessorTypeCode,
	}
}

func (rg *ReportGenerator) generateCSVReport(result *reconciler.RunResult, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(transactionHeaders); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}
	for _, f := range result.Files {
		for _, tx := range f.Transactions {
			if err := csvWriter.Write(transactionRow(f.File.Name, tx)); err != nil {
				return fmt.Errorf("failed to write transaction record: %w", err)
			}
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

const (
	filesSheet        = "Files"
	transactionsSheet = "Transactions"
)

var fileHeaders = []interface{}{
	"File", "Date", "Status", "Credits", "Credit_Total", "Debits", "Debit_Total",
	"Closing_Balance", "Bank_Closing_Balance", "Error",
}

func (rg *ReportGenerator) generateXLSXReport(result *reconciler.RunResult, writer io.Writer) error {
	book := excelize.NewFile()
	defer book.Close()

	if err := book.SetSheetName("Sheet1", filesSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := book.SetSheetRow(filesSheet, "A1", &fileHeaders); err != nil {
		return fmt.Errorf("failed to write file headers: %w", err)
	}
	for i, f := range result.Files {
		row := []interface{}{
			f.File.Name,
			models.FormatDate(f.File.Date),
			string(f.Status),
			f.Credits,
			models.MinorToPounds(f.CreditTotal).InexactFloat64(),
			f.Debits,
			models.MinorToPounds(f.DebitTotal).InexactFloat64(),
			"",
			"",
			f.ErrorMessage(),
		}
		if f.Balance != nil {
			row[7] = models.MinorToPounds(f.Balance.ClosingBalance).InexactFloat64()
		}
		if f.BankBalance != nil {
			row[8] = models.MinorToPounds(*f.BankBalance).InexactFloat64()
		}
		if err := setRow(book, filesSheet, i+2, row); err != nil {
			return err
		}
	}

	if _, err := book.NewSheet(transactionsSheet); err != nil {
		return fmt.Errorf("failed to add sheet: %w", err)
	}
	headers := make([]interface{}, len(transactionHeaders))
	for i, h := range transactionHeaders {
		headers[i] = h
	}
	if err := setRow(book, transactionsSheet, 1, headers); err != nil {
		return err
	}
	row := 2
	for _, f := range result.Files {
		for _, tx := range f.Transactions {
			cells := transactionRow(f.File.Name, tx)
			values := make([]interface{}, len(cells))
			for i, c := range cells {
				values[i] = c
			}
			values[4] = models.MinorToPounds(tx.Amount).InexactFloat64()
			if err := setRow(book, transactionsSheet, row, values); err != nil {
				return err
			}
			row++
		}
	}

	if err := book.Write(writer); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func setRow(book *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("invalid row %d: %w", row, err)
	}
	if err := book.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func pounds(amount int64) string {
	return "£" + models.MinorToPounds(amount).StringFixed(2)
}

func value(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
