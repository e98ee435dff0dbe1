// Package matcher works out who sent a settlement record.
//
// Settlement records name their counterparty only loosely: a sort code and
// account number that may be blank, a free-text description and a free-text
// reference. This package turns those fields into facts the ledger can act on:
//   - Roll numbers: some building societies pay from a shared account and
//     identify the saver by a roll number carried in a text field
//   - Administrative records: internal money movement and card-processor
//     settlements are recognised by account and reference fingerprints
//   - Settlement batches: an aggregator settlement carries a truncated date
//     that is resolved back to the batch it pays out
//
// SenderExtractor combines roll-number and administrative matching into a
// SenderInfo describing the counterparty and whether it can be trusted.
//
// Example usage:
//
//	config := matcher.DefaultConfig()
//	config.OperatingSortCode = "123456"
//	config.OperatingAccountNumber = "67175315"
//
//	rules, err := matcher.LoadRules(afero.NewOsFs(), config.RulesFile)
//	if err != nil {
//		return err
//	}
//	extractor, err := matcher.NewSenderExtractor(config, rules)
//	if err != nil {
//		return err
//	}
//	info := extractor.Extract(record)
package matcher

import (
	"fmt"
	"regexp"
)

// DefaultSettlementPattern matches the description of a card-processor
// settlement credit. The date group holds a ddmm or dd fragment.
const DefaultSettlementPattern = `^WORLDPAY\s*(?P<date>[0-9]*)`

const settlementDateGroup = "date"

var (
	sortCodePattern      = regexp.MustCompile(`^[0-9]{6}$`)
	accountNumberPattern = regexp.MustCompile(`^[0-9]{8}$`)
)

// Config holds the fingerprints used to recognise administrative records.
type Config struct {
	// OperatingSortCode and OperatingAccountNumber identify the operator's own
	// account. Records from it are internal movement.
	OperatingSortCode      string `json:"operating_sort_code" mapstructure:"operating_sort_code"`
	OperatingAccountNumber string `json:"operating_account_number" mapstructure:"operating_account_number"`

	// SettlementPattern matches aggregator settlement text, case-insensitively,
	// from the start of the field. It must define a named "date" group.
	SettlementPattern string `json:"settlement_pattern" mapstructure:"settlement_pattern"`

	// RulesFile optionally replaces the built-in roll-number and
	// correspondence account rules.
	RulesFile string `json:"rules_file" mapstructure:"rules_file"`
}

// DefaultConfig returns a configuration with the built-in settlement pattern.
// The operating account has no default and must be set.
func DefaultConfig() *Config {
	return &Config{
		SettlementPattern: DefaultSettlementPattern,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if !sortCodePattern.MatchString(c.OperatingSortCode) {
		return fmt.Errorf("operating sort code must be 6 digits: '%s'", c.OperatingSortCode)
	}
	if !accountNumberPattern.MatchString(c.OperatingAccountNumber) {
		return fmt.Errorf("operating account number must be 8 digits: '%s'", c.OperatingAccountNumber)
	}
	if _, err := c.settlementRegexp(); err != nil {
		return err
	}
	return nil
}

func (c *Config) settlementRegexp() (*regexp.Regexp, error) {
	pattern := c.SettlementPattern
	if pattern == "" {
		pattern = DefaultSettlementPattern
	}
	re, err := compileFieldPattern(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid settlement pattern: %w", err)
	}
	if re.SubexpIndex(settlementDateGroup) < 0 {
		return nil, fmt.Errorf("settlement pattern has no (?P<date>...) group: %s", pattern)
	}
	return re, nil
}

// compileFieldPattern anchors pattern at the start of the value and folds case.
func compileFieldPattern(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(`(?i)^(?:` + pattern + `)`)
}

// String returns a human-readable description of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("Config{OperatingAccount: %s/%s, SettlementPattern: %q, RulesFile: %q}",
		c.OperatingSortCode, c.OperatingAccountNumber, c.SettlementPattern, c.RulesFile)
}
