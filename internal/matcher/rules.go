package matcher

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"transaction-uploader/pkg/errors"
)

// RollNumberRuleSpec is the file form of one institution's roll-number rule.
// Exactly one of Pattern (all accounts) or Accounts (per account) is set.
type RollNumberRuleSpec struct {
	Pattern  string            `yaml:"pattern,omitempty"`
	Accounts map[string]string `yaml:"accounts,omitempty"`
}

// CorrespondenceAccountSpec names an account whose payments cannot be
// attributed to a sender. An empty AccountNumber covers the whole sort code.
type CorrespondenceAccountSpec struct {
	SortCode      string `yaml:"sort_code"`
	AccountNumber string `yaml:"account_number,omitempty"`
}

// RulesFile is the YAML layout of a rules file:
//
//	roll_numbers:
//	  "301286":
//	    pattern: '^[0-9]{3}[A-Z] [0-9]{6}[A-Z]$'
//	  "090000":
//	    accounts:
//	      "00000000": '^[0-9]{4}/[0-9]{8}$'
//	correspondence_accounts:
//	  - sort_code: "112233"
//	    account_number: "44556677"
//
// A missing roll_numbers key keeps the built-in table.
type RulesFile struct {
	RollNumbers            map[string]RollNumberRuleSpec `yaml:"roll_numbers"`
	CorrespondenceAccounts []CorrespondenceAccountSpec   `yaml:"correspondence_accounts"`
}

// DefaultRollNumberSpecs is the built-in roll-number table, keyed by the
// sending institution's sort code.
var DefaultRollNumberSpecs = map[string]RollNumberRuleSpec{
	"301286": {Pattern: `^[0-9]{3}[A-Z] [0-9]{6}[A-Z]$`},
	"086001": {Pattern: `^[A-Z][0-9]{8}[A-Z]{3}$`},
	"090000": {Accounts: map[string]string{ZeroAccountNumber: `^[0-9]{4}/[0-9]{8}$`}},
	"235959": {Pattern: `^[0-9]{2}-[0-9]{6}-[0-9]{5}$`},
	"404303": {Pattern: `^[0-9]{10}$`},
	"609242": {Accounts: map[string]string{"20456789": `^[A-Z][0-9]{8}$`}},
	"230580": {Accounts: map[string]string{"28748461": `^[0-9]{10}$`}},
}

// Rules bundles the institution-specific rules used by SenderExtractor.
type Rules struct {
	RollNumbers    *RollNumberRules
	Correspondence *CorrespondenceAccounts
}

// DefaultRules returns the built-in roll-number table and no correspondence accounts.
func DefaultRules() *Rules {
	rollNumbers, err := NewRollNumberRules(DefaultRollNumberSpecs)
	if err != nil {
		panic(fmt.Sprintf("built-in roll number rules: %v", err))
	}
	return &Rules{
		RollNumbers:    rollNumbers,
		Correspondence: NewCorrespondenceAccounts(nil),
	}
}

// ParseRules reads a rules file. Unknown keys are rejected.
func ParseRules(r io.Reader) (*Rules, error) {
	var file RulesFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode rules: %w", err)
	}

	specs := file.RollNumbers
	if specs == nil {
		specs = DefaultRollNumberSpecs
	}
	rollNumbers, err := NewRollNumberRules(specs)
	if err != nil {
		return nil, err
	}

	for i, spec := range file.CorrespondenceAccounts {
		if !sortCodePattern.MatchString(spec.SortCode) {
			return nil, fmt.Errorf("correspondence account %d: sort code must be 6 digits: '%s'", i, spec.SortCode)
		}
		if spec.AccountNumber != "" && !accountNumberPattern.MatchString(spec.AccountNumber) {
			return nil, fmt.Errorf("correspondence account %d: account number must be 8 digits: '%s'", i, spec.AccountNumber)
		}
	}

	return &Rules{
		RollNumbers:    rollNumbers,
		Correspondence: NewCorrespondenceAccounts(file.CorrespondenceAccounts),
	}, nil
}

// LoadRules reads the rules file at path from fs. An empty path yields DefaultRules.
func LoadRules(fs afero.Fs, path string) (*Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
		return nil, errors.FileError(errors.CodeDirectoryError, path, err)
	}

	rules, err := ParseRules(bytes.NewReader(data))
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "rules_file", path, err)
	}
	return rules, nil
}

// CorrespondenceAccounts recognises accounts whose senders cannot be identified.
type CorrespondenceAccounts struct {
	accounts []CorrespondenceAccountSpec
}

// NewCorrespondenceAccounts builds the predicate from specs.
func NewCorrespondenceAccounts(specs []CorrespondenceAccountSpec) *CorrespondenceAccounts {
	return &CorrespondenceAccounts{accounts: append([]CorrespondenceAccountSpec(nil), specs...)}
}

// Matches reports whether the sender account is a correspondence account.
// Absent fields never match.
func (c *CorrespondenceAccounts) Matches(sortCode, accountNumber *string) bool {
	if c == nil || sortCode == nil {
		return false
	}
	for _, a := range c.accounts {
		if a.SortCode != trimmed(sortCode) {
			continue
		}
		if a.AccountNumber == "" {
			return true
		}
		if accountNumber != nil && a.AccountNumber == trimmed(accountNumber) {
			return true
		}
	}
	return false
}

// Len returns the number of configured accounts.
func (c *CorrespondenceAccounts) Len() int {
	if c == nil {
		return 0
	}
	return len(c.accounts)
}
