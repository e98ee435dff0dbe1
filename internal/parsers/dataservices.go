package parsers

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"transaction-uploader/pkg/errors"
	"transaction-uploader/pkg/logger"
)

// TransactionCode is the two character type of a data record.
type TransactionCode string

const (
	CodeBacsCredit      TransactionCode = "99"
	CodeSundryCredit    TransactionCode = "93"
	CodeAutomatedCredit TransactionCode = "84"
	CodeCreditReversal  TransactionCode = "86"

	CodeChequeDebit   TransactionCode = "01"
	CodeSundryDebit   TransactionCode = "03"
	CodeDirectDebit   TransactionCode = "17"
	CodeStandingOrder TransactionCode = "18"
	CodeBacsDebit     TransactionCode = "19"
	CodeChargesDebit  TransactionCode = "22"
	CodeDebitReversal TransactionCode = "23"

	// Contra records closing an account section.
	CodeCreditTotal    TransactionCode = "Z1"
	CodeDebitTotal     TransactionCode = "Z2"
	CodeClosingBalance TransactionCode = "Z9"
)

var (
	creditCodes = map[TransactionCode]bool{
		CodeBacsCredit: true, CodeSundryCredit: true, CodeAutomatedCredit: true, CodeCreditReversal: true,
		CodeCreditTotal: true,
	}
	debitCodes = map[TransactionCode]bool{
		CodeChequeDebit: true, CodeSundryDebit: true, CodeDirectDebit: true, CodeStandingOrder: true,
		CodeBacsDebit: true, CodeChargesDebit: true, CodeDebitReversal: true,
		CodeDebitTotal: true,
	}
)

// Known reports whether code is a recognised transaction code.
func (c TransactionCode) Known() bool {
	return creditCodes[c] || debitCodes[c] || c == CodeClosingBalance
}

// Record is one decoded data record.
type Record struct {
	Line int

	BranchSortCode      string
	BranchAccountNumber string
	AccountType         string
	TransactionCode     TransactionCode

	// SortCode and AccountNumber identify the sender; nil when blank.
	SortCode               *string
	AccountNumber          *string
	OriginatorReference    string
	Amount                 int64
	TransactionDescription string
	ReferenceNumber        string
	BeneficiaryName        string
	Date                   time.Time
}

// IsCredit reports whether money moved into the branch account.
func (r *Record) IsCredit() bool {
	return creditCodes[r.TransactionCode]
}

// IsDebit reports whether money moved out of the branch account.
func (r *Record) IsDebit() bool {
	return debitCodes[r.TransactionCode]
}

// IsTotal reports whether the record is a contra total.
func (r *Record) IsTotal() bool {
	return r.TransactionCode == CodeCreditTotal || r.TransactionCode == CodeDebitTotal
}

// IsBalance reports whether the record carries the bank's closing balance.
func (r *Record) IsBalance() bool {
	return r.TransactionCode == CodeClosingBalance
}

// IsBacsCredit reports a BACS credit.
func (r *Record) IsBacsCredit() bool {
	return r.TransactionCode == CodeBacsCredit
}

// IsSundryCredit reports a sundry credit.
func (r *Record) IsSundryCredit() bool {
	return r.TransactionCode == CodeSundryCredit
}

// Account is one UHL1 section of a file.
type Account struct {
	Index   int
	Records []*Record
}

// Key names the section in validation output.
func (a *Account) Key() string {
	return fmt.Sprintf("account %d", a.Index)
}

// SettlementFile is a decoded settlement file.
type SettlementFile struct {
	Accounts []*Account
	Errors   *errors.RecordErrors
	Lines    int
}

// IsValid reports whether the file decoded cleanly and its totals agree.
func (f *SettlementFile) IsValid() bool {
	return f.Errors.Empty()
}

// Records returns every record of every section in file order.
func (f *SettlementFile) Records() []*Record {
	var out []*Record
	for _, a := range f.Accounts {
		out = append(out, a.Records...)
	}
	return out
}

// ParseDataServices decodes a settlement file. Malformed lines and total
// mismatches are reported through the returned file's Errors; an error is
// returned only when the stream itself cannot be read.
func ParseDataServices(ctx context.Context, r io.Reader, config *Config) (*SettlementFile, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "settlement_parser", config, err)
	}

	pc := NewParseContext(ctx)
	lines, err := newLineReader(r, config, pc)
	if err != nil {
		return nil, err
	}
	log := logger.GetGlobalLogger().WithComponent("settlement_parser")

	file := &SettlementFile{Errors: errors.NewRecordErrors()}
	var current *Account
	lineErrors := 0

	for {
		line, err := lines.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		label := ""
		if len(line) >= labelLength {
			label = string(line[:labelLength])
		}
		switch label {
		case LabelUserHeader:
			current = &Account{Index: len(file.Accounts)}
			file.Accounts = append(file.Accounts, current)
			continue
		case LabelVolume, LabelHeader1, LabelHeader2, LabelUserTrailer, LabelEndOfFile1, LabelEndOfFile2:
			continue
		}

		if current == nil {
			current = &Account{Index: len(file.Accounts)}
			file.Accounts = append(file.Accounts, current)
		}

		record, perr := decodeRecord(line, pc.LineNumber)
		if perr != nil {
			lineErrors++
			if config.MaxLineErrors == 0 || lineErrors <= config.MaxLineErrors {
				file.Errors.Add(current.Key(), perr.Error())
			}
			log.WithFields(logger.Fields{
				"line_number": perr.Line,
				"field":       perr.Field,
			}).Debug(perr.Message)
			continue
		}
		pc.Records++
		current.Records = append(current.Records, record)
	}

	if config.MaxLineErrors > 0 && lineErrors > config.MaxLineErrors {
		file.Errors.Addf("file", "%d further malformed lines not listed", lineErrors-config.MaxLineErrors)
	}

	for _, account := range file.Accounts {
		checkTotals(account, file.Errors)
	}
	file.Lines = pc.Lines

	log.WithFields(logger.Fields{
		"lines":    pc.Lines,
		"records":  pc.Records,
		"accounts": len(file.Accounts),
		"valid":    file.IsValid(),
	}).Debug("Decoded settlement file")

	return file, nil
}

func decodeRecord(line []rune, lineNumber int) (*Record, *ParseError) {
	if len(line) < RecordLength {
		return nil, &ParseError{
			Line:    lineNumber,
			Message: fmt.Sprintf("record too short (%d characters, expected %d)", len(line), RecordLength),
		}
	}

	code := TransactionCode(FieldTransactionCode.Slice(line))
	if !code.Known() {
		return nil, &ParseError{Line: lineNumber, Field: FieldTransactionCode.Name, Value: string(code), Message: "unknown transaction code"}
	}

	amountStr := FieldAmount.Slice(line)
	amount, err := strconv.ParseInt(amountStr, 10, 64)
	if err != nil || amount < 0 {
		return nil, &ParseError{Line: lineNumber, Field: FieldAmount.Name, Value: amountStr, Message: "not a whole number of pence", Err: err}
	}

	dateStr := FieldDate.Slice(line)
	date, err := parseJulianDate(dateStr)
	if err != nil {
		return nil, &ParseError{Line: lineNumber, Field: FieldDate.Name, Value: dateStr, Message: "not a ' yyddd' date", Err: err}
	}

	return &Record{
		Line:                   lineNumber,
		BranchSortCode:         FieldBranchSortCode.Slice(line),
		BranchAccountNumber:    FieldBranchAccountNumber.Slice(line),
		AccountType:            FieldAccountType.Slice(line),
		TransactionCode:        code,
		SortCode:               optional(FieldSortCode.Slice(line)),
		AccountNumber:          optional(FieldAccountNumber.Slice(line)),
		OriginatorReference:    FieldOriginatorReference.Slice(line),
		Amount:                 amount,
		TransactionDescription: FieldDescription.Slice(line),
		ReferenceNumber:        FieldReference.Slice(line),
		BeneficiaryName:        FieldBeneficiaryName.Slice(line),
		Date:                   date,
	}, nil
}

func optional(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

// parseJulianDate reads ' yyddd'. Years below 69 are in the 2000s.
func parseJulianDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) != 5 {
		return time.Time{}, fmt.Errorf("expected 5 digits, got %q", s)
	}
	yy, err := strconv.Atoi(s[:2])
	if err != nil {
		return time.Time{}, err
	}
	ddd, err := strconv.Atoi(s[2:])
	if err != nil {
		return time.Time{}, err
	}

	year := 1900 + yy
	if yy < 69 {
		year = 2000 + yy
	}
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	date := start.AddDate(0, 0, ddd-1)
	if ddd < 1 || date.Year() != year {
		return time.Time{}, fmt.Errorf("day %d out of range for %d", ddd, year)
	}
	return date, nil
}

// checkTotals compares the items of a section against its contra records.
func checkTotals(account *Account, errs *errors.RecordErrors) {
	var credits, debits int64
	var creditTotal, debitTotal *int64

	for _, r := range account.Records {
		switch {
		case r.TransactionCode == CodeCreditTotal:
			amount := r.Amount
			creditTotal = &amount
		case r.TransactionCode == CodeDebitTotal:
			amount := r.Amount
			debitTotal = &amount
		case r.IsCredit():
			credits += r.Amount
		case r.IsDebit():
			debits += r.Amount
		}
	}

	if debitTotal != nil && *debitTotal != debits {
		errs.Addf(account.Key(), "Monetary total of debit items does not match expected: counted %d, expected %d", debits, *debitTotal)
	}
	if creditTotal != nil && *creditTotal != credits {
		errs.Addf(account.Key(), "Monetary total of credit items does not match expected: counted %d, expected %d", credits, *creditTotal)
	}
}
