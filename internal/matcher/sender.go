package matcher

import (
	"transaction-uploader/internal/models"
	"transaction-uploader/internal/parsers"
)

// SenderInfo describes the counterparty of a settlement record.
type SenderInfo struct {
	SortCode      *string
	AccountNumber *string
	RollNumber    *string

	// Anonymous is set when the sort code or account number is absent.
	Anonymous bool
	// Correspondence is set for accounts whose payers cannot be identified.
	Correspondence bool
	// Incomplete is set when the sender cannot be fully identified, including
	// a missing roll number the institution requires.
	Incomplete bool
	// Administrative is set for internal movement and processor settlements.
	Administrative bool
}

// Blocked reports whether money from this sender can neither be credited nor
// refunded automatically. A missing roll number alone does not block.
func (s *SenderInfo) Blocked() bool {
	return s.Anonymous || s.Correspondence
}

// SenderExtractor builds SenderInfo from settlement records.
type SenderExtractor struct {
	rollNumbers    *RollNumberRules
	correspondence *CorrespondenceAccounts
	administrative Identifiers
}

// NewSenderExtractor creates an extractor. A nil rules uses DefaultRules.
func NewSenderExtractor(config *Config, rules *Rules) (*SenderExtractor, error) {
	if rules == nil {
		rules = DefaultRules()
	}
	administrative, err := NewAdministrativeIdentifiers(config)
	if err != nil {
		return nil, err
	}
	return &SenderExtractor{
		rollNumbers:    rules.RollNumbers,
		correspondence: rules.Correspondence,
		administrative: administrative,
	}, nil
}

// Extract describes record's sender. When the institution uses roll numbers
// a missing account number is reported as ZeroAccountNumber. The roll number
// is read from the description of credits and the reference of debits.
func (e *SenderExtractor) Extract(record *parsers.Record) SenderInfo {
	info := SenderInfo{
		SortCode:      record.SortCode,
		AccountNumber: record.AccountNumber,
	}

	rollNumberRequired := e.rollNumbers.Required(record.SortCode, record.AccountNumber)
	if rollNumberRequired {
		if info.AccountNumber == nil {
			info.AccountNumber = models.StringPtr(ZeroAccountNumber)
		}
		candidate := record.TransactionDescription
		if record.IsDebit() {
			candidate = record.ReferenceNumber
		}
		if roll, ok := e.rollNumbers.Extract(record.SortCode, record.AccountNumber, candidate); ok {
			info.RollNumber = &roll
		}
	}

	info.Anonymous = info.SortCode == nil || info.AccountNumber == nil
	info.Correspondence = e.correspondence.Matches(info.SortCode, info.AccountNumber)
	info.Incomplete = info.Anonymous || info.Correspondence || (rollNumberRequired && info.RollNumber == nil)
	info.Administrative = e.administrative.MatchesRecord(record)

	return info
}

// RollNumbers exposes the roll-number table in use.
func (e *SenderExtractor) RollNumbers() *RollNumberRules {
	return e.rollNumbers
}
