package matcher

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ZeroAccountNumber stands in for a missing account number at institutions
// that identify savers by roll number.
const ZeroAccountNumber = "00000000"

// rollNumberRule resolves the pattern for one institution's account.
type rollNumberRule interface {
	patternFor(accountNumber string) *regexp.Regexp
}

// anyAccountRule applies one pattern to every account at the institution.
type anyAccountRule struct {
	pattern *regexp.Regexp
}

func (r anyAccountRule) patternFor(string) *regexp.Regexp {
	return r.pattern
}

// perAccountRule applies a pattern only to the listed accounts.
type perAccountRule map[string]*regexp.Regexp

func (r perAccountRule) patternFor(accountNumber string) *regexp.Regexp {
	return r[accountNumber]
}

// RollNumberRules is the roll-number table keyed by sending sort code.
type RollNumberRules struct {
	rules map[string]rollNumberRule
}

// NewRollNumberRules compiles specs into a lookup table.
func NewRollNumberRules(specs map[string]RollNumberRuleSpec) (*RollNumberRules, error) {
	rules := make(map[string]rollNumberRule, len(specs))
	for sortCode, spec := range specs {
		if !sortCodePattern.MatchString(sortCode) {
			return nil, fmt.Errorf("roll number rule: sort code must be 6 digits: '%s'", sortCode)
		}

		switch {
		case spec.Pattern != "" && len(spec.Accounts) > 0:
			return nil, fmt.Errorf("roll number rule %s: set either pattern or accounts, not both", sortCode)
		case spec.Pattern != "":
			re, err := regexp.Compile(spec.Pattern)
			if err != nil {
				return nil, fmt.Errorf("roll number rule %s: %w", sortCode, err)
			}
			rules[sortCode] = anyAccountRule{pattern: re}
		case len(spec.Accounts) > 0:
			perAccount := make(perAccountRule, len(spec.Accounts))
			for account, pattern := range spec.Accounts {
				if !accountNumberPattern.MatchString(account) {
					return nil, fmt.Errorf("roll number rule %s: account number must be 8 digits: '%s'", sortCode, account)
				}
				re, err := regexp.Compile(pattern)
				if err != nil {
					return nil, fmt.Errorf("roll number rule %s/%s: %w", sortCode, account, err)
				}
				perAccount[account] = re
			}
			rules[sortCode] = perAccount
		default:
			return nil, fmt.Errorf("roll number rule %s: no pattern", sortCode)
		}
	}
	return &RollNumberRules{rules: rules}, nil
}

func (r *RollNumberRules) lookup(sortCode, accountNumber *string) *regexp.Regexp {
	if r == nil || sortCode == nil {
		return nil
	}
	rule, ok := r.rules[trimmed(sortCode)]
	if !ok {
		return nil
	}
	account := ZeroAccountNumber
	if accountNumber != nil {
		account = trimmed(accountNumber)
	}
	return rule.patternFor(account)
}

// Required reports whether the institution identifies this account by roll number.
func (r *RollNumberRules) Required(sortCode, accountNumber *string) bool {
	return r.lookup(sortCode, accountNumber) != nil
}

// ValidForAccount reports whether the trimmed candidate is a roll number for the account.
func (r *RollNumberRules) ValidForAccount(sortCode, accountNumber *string, candidate string) bool {
	pattern := r.lookup(sortCode, accountNumber)
	return pattern != nil && pattern.MatchString(strings.TrimSpace(candidate))
}

// Extract returns the trimmed candidate when it is a valid roll number.
func (r *RollNumberRules) Extract(sortCode, accountNumber *string, candidate string) (string, bool) {
	if !r.ValidForAccount(sortCode, accountNumber, candidate) {
		return "", false
	}
	return strings.TrimSpace(candidate), true
}

// SortCodes lists the institutions in the table.
func (r *RollNumberRules) SortCodes() []string {
	if r == nil {
		return nil
	}
	codes := make([]string, 0, len(r.rules))
	for code := range r.rules {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
