package reconciler

import (
	"transaction-uploader/internal/models"
)

// Policy adjusts a classified transaction before it is uploaded.
type Policy interface {
	Name() string
	Apply(tx *models.Transaction)
}

// Policies applies each policy in order.
type Policies []Policy

// Apply runs every policy against tx.
func (ps Policies) Apply(tx *models.Transaction) {
	for _, p := range ps {
		p.Apply(tx)
	}
}

// Names lists the active policies.
func (ps Policies) Names() []string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.Name()
	}
	return names
}

// PoliciesFor returns the policies switched on in config.
func PoliciesFor(config *Config) Policies {
	var ps Policies
	if config.MarkTransactionsAsUnidentified {
		ps = append(ps, MarkUnidentified{})
	}
	return ps
}

// MarkUnidentified blocks every bank transfer credit regardless of the
// identity found, halting attribution of public payments. Administrative
// records are left alone.
type MarkUnidentified struct{}

// Name implements Policy.
func (MarkUnidentified) Name() string {
	return "mark_transactions_as_unidentified"
}

// Apply implements Policy.
func (MarkUnidentified) Apply(tx *models.Transaction) {
	if tx.Category != models.CategoryCredit || tx.Source != models.SourceBankTransfer {
		return
	}
	tx.Blocked = true
	tx.IncompleteSenderInfo = true
}
