package reconciler

import (
	"context"
	"time"

	"transaction-uploader/internal/models"
	"transaction-uploader/internal/parsers"
	"transaction-uploader/pkg/errors"
	"transaction-uploader/pkg/logger"
)

// BalanceStore reads and writes closing balances.
type BalanceStore interface {
	LatestBalance(ctx context.Context, before time.Time) (*models.Balance, error)
	PostBalance(ctx context.Context, balance models.Balance) error
}

// BalanceAccumulator derives closing balances from uploaded transactions.
type BalanceAccumulator struct {
	store BalanceStore
	log   logger.Logger
}

// NewBalanceAccumulator creates an accumulator over store.
func NewBalanceAccumulator(store BalanceStore) *BalanceAccumulator {
	return &BalanceAccumulator{
		store: store,
		log:   logger.GetGlobalLogger().WithComponent("balance"),
	}
}

// Fold adds credits to and subtracts debits from opening.
func Fold(opening int64, txs []*models.Transaction) int64 {
	total := opening
	for _, tx := range txs {
		switch tx.Category {
		case models.CategoryCredit:
			total += tx.Amount
		case models.CategoryDebit:
			total -= tx.Amount
		}
	}
	return total
}

// UpdateNewBalance stores the closing balance for date: the latest balance
// before date, zero if there is none, plus the effect of txs. It must only
// be called once txs are in the ledger.
func (b *BalanceAccumulator) UpdateNewBalance(ctx context.Context, txs []*models.Transaction, date time.Time) (*models.Balance, error) {
	previous, err := b.store.LatestBalance(ctx, date)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryLedger, errors.CodeBalanceNotSaved, "could not read previous balance")
	}

	var opening int64
	if previous != nil {
		opening = previous.ClosingBalance
	}
	balance := models.Balance{
		Date:           models.NewDate(date.Year(), date.Month(), date.Day()),
		ClosingBalance: Fold(opening, txs),
	}

	if err := b.store.PostBalance(ctx, balance); err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryLedger, errors.CodeBalanceNotSaved, "could not save balance")
	}

	b.log.WithFields(logger.Fields{
		"date":            models.FormatDate(balance.Date),
		"opening_balance": opening,
		"closing_balance": balance.ClosingBalance,
	}).Info("Closing balance updated")
	return &balance, nil
}

// CheckCheckpoint warns when the ledger's latest balance is older than its
// latest transaction, which happens when a balance update failed after an upload.
func (b *BalanceAccumulator) CheckCheckpoint(ctx context.Context, lastDate *time.Time) (bool, error) {
	if lastDate == nil {
		return true, nil
	}
	dayAfter := models.NewDate(lastDate.Year(), lastDate.Month(), lastDate.Day()+1)
	latest, err := b.store.LatestBalance(ctx, dayAfter)
	if err != nil {
		return false, err
	}
	if latest == nil || latest.Date.Before(models.NewDate(lastDate.Year(), lastDate.Month(), lastDate.Day())) {
		fields := logger.Fields{"last_transaction_date": models.FormatDate(*lastDate)}
		if latest != nil {
			fields["last_balance_date"] = models.FormatDate(latest.Date)
		}
		b.log.WithFields(fields).Warn("Closing balance is behind the uploaded transactions")
		return false, nil
	}
	return true, nil
}

// BankClosingBalance returns the closing balance the bank reported for the
// operating account, if the file carries one.
func BankClosingBalance(records []*parsers.Record) (int64, bool) {
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].IsBalance() {
			return records[i].Amount, true
		}
	}
	return 0, false
}
