// Package parserstest builds settlement files for tests.
package parserstest

import (
	"fmt"
	"strings"
	"time"

	"transaction-uploader/internal/parsers"
)

// Line is one data record. Empty sender fields are written blank.
type Line struct {
	BranchSortCode      string
	BranchAccountNumber string
	Code                parsers.TransactionCode
	SortCode            string
	AccountNumber       string
	Amount              int64
	Description         string
	Reference           string
	BeneficiaryName     string
	Date                time.Time
}

// String renders the line in the fixed-width layout.
func (l Line) String() string {
	var b strings.Builder
	b.WriteString(pad(l.BranchSortCode, parsers.FieldBranchSortCode.Length))
	b.WriteString(pad(l.BranchAccountNumber, parsers.FieldBranchAccountNumber.Length))
	b.WriteString("0")
	b.WriteString(pad(string(l.Code), parsers.FieldTransactionCode.Length))
	b.WriteString(pad(l.SortCode, parsers.FieldSortCode.Length))
	b.WriteString(pad(l.AccountNumber, parsers.FieldAccountNumber.Length))
	b.WriteString("0000")
	b.WriteString(fmt.Sprintf("%011d", l.Amount))
	b.WriteString(pad(l.Description, parsers.FieldDescription.Length))
	b.WriteString(pad(l.Reference, parsers.FieldReference.Length))
	b.WriteString(pad(l.BeneficiaryName, parsers.FieldBeneficiaryName.Length))
	b.WriteString(JulianDate(l.Date))
	return b.String()
}

// JulianDate renders ' yyddd'.
func JulianDate(t time.Time) string {
	return fmt.Sprintf(" %02d%03d", t.Year()%100, t.YearDay())
}

func pad(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n])
	}
	return s + strings.Repeat(" ", n-len(r))
}

type section struct {
	sortCode      string
	accountNumber string
	lines         []Line
	creditTotal   *int64
	debitTotal    *int64
	balance       *int64
}

// Builder assembles a settlement file section by section.
type Builder struct {
	date     time.Time
	sections []*section
}

// New starts a file whose records default to date.
func New(date time.Time) *Builder {
	return &Builder{date: date}
}

// Section opens a new account section for the given branch account.
func (b *Builder) Section(sortCode, accountNumber string) *Builder {
	b.sections = append(b.sections, &section{sortCode: sortCode, accountNumber: accountNumber})
	return b
}

func (b *Builder) current() *section {
	if len(b.sections) == 0 {
		b.Section("", "")
	}
	return b.sections[len(b.sections)-1]
}

// Add appends a record to the current section, filling in branch and date.
func (b *Builder) Add(l Line) *Builder {
	s := b.current()
	if l.BranchSortCode == "" {
		l.BranchSortCode = s.sortCode
	}
	if l.BranchAccountNumber == "" {
		l.BranchAccountNumber = s.accountNumber
	}
	if l.Date.IsZero() {
		l.Date = b.date
	}
	s.lines = append(s.lines, l)
	return b
}

// Totals overrides the contra totals of the current section.
func (b *Builder) Totals(credit, debit int64) *Builder {
	s := b.current()
	s.creditTotal = &credit
	s.debitTotal = &debit
	return b
}

// Balance adds a closing balance record to the current section.
func (b *Builder) Balance(amount int64) *Builder {
	b.current().balance = &amount
	return b
}

// String renders the whole file.
func (b *Builder) String() string {
	var out []string
	out = append(out, "VOL1000001", "HDR1A", "HDR2F")
	for _, s := range b.sections {
		out = append(out, "UHL1"+JulianDate(b.date))
		var credits, debits int64
		for _, l := range s.lines {
			out = append(out, l.String())
			rec := parsers.Record{TransactionCode: l.Code}
			switch {
			case rec.IsTotal(), rec.IsBalance():
			case rec.IsCredit():
				credits += l.Amount
			case rec.IsDebit():
				debits += l.Amount
			}
		}
		if s.debitTotal != nil {
			debits = *s.debitTotal
		}
		if s.creditTotal != nil {
			credits = *s.creditTotal
		}
		contra := Line{BranchSortCode: s.sortCode, BranchAccountNumber: s.accountNumber, Date: b.date}
		contra.Code, contra.Amount, contra.Description = parsers.CodeDebitTotal, debits, "CONTRA"
		out = append(out, contra.String())
		contra.Code, contra.Amount = parsers.CodeCreditTotal, credits
		out = append(out, contra.String())
		if s.balance != nil {
			contra.Code, contra.Amount, contra.Description = parsers.CodeClosingBalance, *s.balance, "BALANCE"
			out = append(out, contra.String())
		}
		out = append(out, "UTL1")
	}
	out = append(out, "EOF1", "EOF2")
	return strings.Join(out, "\n") + "\n"
}

// Bytes renders the whole file.
func (b *Builder) Bytes() []byte {
	return []byte(b.String())
}
