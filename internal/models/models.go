package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Category represents the direction of money movement
type Category string

const (
	// CategoryCredit is money received into the operator account
	CategoryCredit Category = "credit"
	// CategoryDebit is money paid out of the operator account
	CategoryDebit Category = "debit"
)

// String returns the string representation of Category
func (c Category) String() string {
	return string(c)
}

// IsValid checks if the category is valid
func (c Category) IsValid() bool {
	return c == CategoryCredit || c == CategoryDebit
}

// Source represents how a transaction reached the operator account
type Source string

const (
	// SourceBankTransfer is a credit sent by a member of the public
	SourceBankTransfer Source = "bank_transfer"
	// SourceAdministrative is any movement initiated by the operator or its processors
	SourceAdministrative Source = "administrative"
)

// String returns the string representation of Source
func (s Source) String() string {
	return string(s)
}

// IsValid checks if the source is valid
func (s Source) IsValid() bool {
	return s == SourceBankTransfer || s == SourceAdministrative
}

const (
	dateLayout       = "2006-01-02"
	receivedAtLayout = "2006-01-02T15:04:05-07:00"
)

// Transaction is a settlement record normalized for the ledger.
//
// Optional fields are pointers and are omitted from the payload when nil.
// Blocked and IncompleteSenderInfo are always sent.
type Transaction struct {
	Amount               int64     `json:"amount"`
	Category             Category  `json:"category"`
	Source               Source    `json:"source"`
	SenderSortCode       *string   `json:"sender_sort_code"`
	SenderAccountNumber  *string   `json:"sender_account_number"`
	SenderRollNumber     *string   `json:"sender_roll_number"`
	SenderName           string    `json:"sender_name"`
	Reference            string    `json:"reference"`
	Blocked              bool      `json:"blocked"`
	IncompleteSenderInfo bool      `json:"incomplete_sender_info"`
	ReceivedAt           time.Time `json:"received_at"`
	ProcessorTypeCode    string    `json:"processor_type_code"`

	PrisonerNumber         *string    `json:"prisoner_number,omitempty"`
	PrisonerDOB            *time.Time `json:"prisoner_dob,omitempty"`
	ReferenceInSenderField *bool      `json:"reference_in_sender_field,omitempty"`
	Batch                  *int64     `json:"batch,omitempty"`
}

// Validate checks the category/source pairing and required fields
func (t *Transaction) Validate() error {
	if !t.Category.IsValid() {
		return fmt.Errorf("invalid category: %s", t.Category)
	}
	if !t.Source.IsValid() {
		return fmt.Errorf("invalid source: %s", t.Source)
	}
	if t.Category == CategoryDebit && t.Source != SourceAdministrative {
		return fmt.Errorf("debits must be administrative, got %s", t.Source)
	}
	if t.ReceivedAt.IsZero() {
		return fmt.Errorf("received_at cannot be zero")
	}
	if t.Amount < 0 {
		return fmt.Errorf("amount cannot be negative: %d", t.Amount)
	}
	return nil
}

// IsCredit checks if the transaction is a credit
func (t *Transaction) IsCredit() bool {
	return t.Category == CategoryCredit
}

// IsDebit checks if the transaction is a debit
func (t *Transaction) IsDebit() bool {
	return t.Category == CategoryDebit
}

// Pounds returns the amount in major units
func (t *Transaction) Pounds() decimal.Decimal {
	return MinorToPounds(t.Amount)
}

// String returns a string representation of the Transaction
func (t *Transaction) String() string {
	return fmt.Sprintf("Transaction{Amount: %s, Category: %s, Source: %s, ReceivedAt: %s}",
		t.Pounds().StringFixed(2), t.Category, t.Source, t.ReceivedAt.Format(dateLayout))
}

// MarshalJSON renders the ledger payload: received_at at second precision
// with a numeric offset, prisoner_dob as a plain date, nil optional keys dropped.
func (t *Transaction) MarshalJSON() ([]byte, error) {
	type Alias Transaction
	var dob *string
	if t.PrisonerDOB != nil {
		s := t.PrisonerDOB.Format(dateLayout)
		dob = &s
	}
	return json.Marshal(&struct {
		*Alias
		SenderSortCode      *string `json:"sender_sort_code,omitempty"`
		SenderAccountNumber *string `json:"sender_account_number,omitempty"`
		SenderRollNumber    *string `json:"sender_roll_number,omitempty"`
		ReceivedAt          string  `json:"received_at"`
		PrisonerDOB         *string `json:"prisoner_dob,omitempty"`
	}{
		Alias:               (*Alias)(t),
		SenderSortCode:      t.SenderSortCode,
		SenderAccountNumber: t.SenderAccountNumber,
		SenderRollNumber:    t.SenderRollNumber,
		ReceivedAt:          t.ReceivedAt.Format(receivedAtLayout),
		PrisonerDOB:         dob,
	})
}

// Balance is the operator account's closing balance on a date
type Balance struct {
	Date           time.Time `json:"date"`
	ClosingBalance int64     `json:"closing_balance"`
}

// MarshalJSON renders the date as YYYY-MM-DD
func (b Balance) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Date           string `json:"date"`
		ClosingBalance int64  `json:"closing_balance"`
	}{b.Date.Format(dateLayout), b.ClosingBalance})
}

// UnmarshalJSON accepts the ledger's date form. The date may be omitted.
func (b *Balance) UnmarshalJSON(data []byte) error {
	aux := struct {
		Date           string `json:"date"`
		ClosingBalance int64  `json:"closing_balance"`
	}{}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	b.Date = time.Time{}
	if aux.Date != "" {
		date, err := ParseDate(aux.Date)
		if err != nil {
			return fmt.Errorf("invalid balance date: %w", err)
		}
		b.Date = date
	}
	b.ClosingBalance = aux.ClosingBalance
	return nil
}

// Batch groups administrative credits settled together by a card processor
type Batch struct {
	ID   int64  `json:"id"`
	Date string `json:"date"`
}

// NewDate returns midnight UTC on the given calendar day
func NewDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses YYYY-MM-DD, ignoring anything after the first ten characters
func ParseDate(s string) (time.Time, error) {
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	return time.Parse(dateLayout, s)
}

// FormatDate renders YYYY-MM-DD
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

// MiddayUTC returns 12:00 UTC on the calendar day of t
func MiddayUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 12, 0, 0, 0, time.UTC)
}

// MinorToPounds converts pence to pounds
func MinorToPounds(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

// StringPtr returns a pointer to s
func StringPtr(s string) *string {
	return &s
}

// BoolPtr returns a pointer to b
func BoolPtr(b bool) *bool {
	return &b
}
