package errors

import (
	"fmt"
	"sort"
	"strings"
)

// RecordErrors collects validation messages for a settlement file, grouped
// by the account section they were raised in ("account 0", "account 1", ...).
type RecordErrors struct {
	order     []string
	byAccount map[string][]string
}

// NewRecordErrors returns an empty collection.
func NewRecordErrors() *RecordErrors {
	return &RecordErrors{byAccount: make(map[string][]string)}
}

// Add records msg against the given account section.
func (r *RecordErrors) Add(account string, msg string) {
	if _, ok := r.byAccount[account]; !ok {
		r.order = append(r.order, account)
	}
	r.byAccount[account] = append(r.byAccount[account], msg)
}

// Addf is Add with formatting.
func (r *RecordErrors) Addf(account string, format string, args ...interface{}) {
	r.Add(account, fmt.Sprintf(format, args...))
}

// Empty reports whether no messages were collected.
func (r *RecordErrors) Empty() bool {
	return r == nil || len(r.order) == 0
}

// Count returns the number of messages across all accounts.
func (r *RecordErrors) Count() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, msgs := range r.byAccount {
		n += len(msgs)
	}
	return n
}

// Map returns a copy of the messages keyed by account section.
func (r *RecordErrors) Map() map[string][]string {
	if r == nil {
		return map[string][]string{}
	}
	out := make(map[string][]string, len(r.order))
	for k, v := range r.byAccount {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// String renders all messages, account sections in insertion order.
func (r *RecordErrors) String() string {
	if r.Empty() {
		return "{}"
	}
	parts := make([]string, 0, len(r.order))
	for _, account := range r.order {
		quoted := make([]string, len(r.byAccount[account]))
		for i, msg := range r.byAccount[account] {
			quoted[i] = fmt.Sprintf("'%s'", msg)
		}
		parts = append(parts, fmt.Sprintf("'%s': [%s]", account, strings.Join(quoted, ", ")))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Err converts the collection into a validation error for file, or nil when empty.
func (r *RecordErrors) Err(file string) *UploaderError {
	if r.Empty() {
		return nil
	}
	accounts := append([]string(nil), r.order...)
	sort.Strings(accounts)
	return ValidationError(CodeControlTotals, file, r.Count(), nil).
		WithContext("accounts", accounts).
		WithContext("errors", r.Map())
}
