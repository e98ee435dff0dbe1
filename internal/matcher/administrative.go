package matcher

import (
	"fmt"
	"regexp"

	"transaction-uploader/internal/parsers"
)

// PaymentIdentifier fingerprints one kind of administrative record.
// A nil pattern matches any value; all set patterns must match.
type PaymentIdentifier struct {
	Name          string
	AccountNumber *regexp.Regexp
	SortCode      *regexp.Regexp
	SenderName    *regexp.Regexp
	Reference     *regexp.Regexp
}

func fieldMatches(pattern *regexp.Regexp, value string) bool {
	if pattern == nil {
		return true
	}
	return pattern.MatchString(value)
}

// Matches compares trimmed field values, absent values counting as empty.
func (p *PaymentIdentifier) Matches(accountNumber, sortCode *string, senderName, reference string) bool {
	return fieldMatches(p.AccountNumber, trimmed(accountNumber)) &&
		fieldMatches(p.SortCode, trimmed(sortCode)) &&
		fieldMatches(p.SenderName, trimmed(&senderName)) &&
		fieldMatches(p.Reference, trimmed(&reference))
}

// Identifiers is an ordered list of administrative fingerprints.
type Identifiers []*PaymentIdentifier

// NewAdministrativeIdentifiers builds the fingerprints for the operator's
// own account and for card-processor settlements.
func NewAdministrativeIdentifiers(config *Config) (Identifiers, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	accountNumber, err := compileFieldPattern(regexp.QuoteMeta(config.OperatingAccountNumber))
	if err != nil {
		return nil, fmt.Errorf("operating account number: %w", err)
	}
	sortCode, err := compileFieldPattern(regexp.QuoteMeta(config.OperatingSortCode))
	if err != nil {
		return nil, fmt.Errorf("operating sort code: %w", err)
	}
	settlement, err := config.settlementRegexp()
	if err != nil {
		return nil, err
	}

	return Identifiers{
		{Name: "operating_account", AccountNumber: accountNumber, SortCode: sortCode},
		{Name: "settlement_reference", Reference: settlement},
		{Name: "settlement_sender", SenderName: settlement},
	}, nil
}

// Match returns the first identifier the values satisfy.
func (ids Identifiers) Match(accountNumber, sortCode *string, senderName, reference string) (*PaymentIdentifier, bool) {
	for _, id := range ids {
		if id.Matches(accountNumber, sortCode, senderName, reference) {
			return id, true
		}
	}
	return nil, false
}

// Matches reports whether any identifier is satisfied.
func (ids Identifiers) Matches(accountNumber, sortCode *string, senderName, reference string) bool {
	_, ok := ids.Match(accountNumber, sortCode, senderName, reference)
	return ok
}

// MatchesRecord checks a settlement record's sender fields.
func (ids Identifiers) MatchesRecord(r *parsers.Record) bool {
	return ids.Matches(r.AccountNumber, r.SortCode, r.TransactionDescription, r.ReferenceNumber)
}
