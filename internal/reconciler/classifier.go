// Package reconciler turns settlement files into ledger uploads.
//
// The work is split into small steps that can be tested on their own:
//   - Classifier filters a decoded file to the operating account and turns
//     each record into a transaction, attaching sender details, the recipient
//     identity parsed from the reference and, for settlements, the batch
//   - Policy applies operational overrides after classification
//   - BalanceAccumulator derives the closing balance once a file is uploaded
//   - Uploader runs the whole cycle for every new file in the drop directory
//
// Example usage:
//
//	classifier, err := reconciler.NewClassifier(config, rules, ledgerClient)
//	if err != nil {
//		return err
//	}
//	uploader, err := reconciler.NewUploader(config, classifier, ledgerClient, source, nil)
//	if err != nil {
//		return err
//	}
//	result, err := uploader.Run(ctx)
package reconciler

import (
	"context"
	"fmt"
	"strings"

	"transaction-uploader/internal/matcher"
	"transaction-uploader/internal/models"
	"transaction-uploader/internal/parsers"
	"transaction-uploader/internal/reference"
	"transaction-uploader/pkg/errors"
	"transaction-uploader/pkg/logger"
)

// DefaultPageSize is the number of transactions sent in one request.
const DefaultPageSize = 500

// Config holds configuration options for classification and upload
type Config struct {
	Matcher *matcher.Config `json:"matcher" mapstructure:"matcher"`

	// MarkTransactionsAsUnidentified blocks every bank transfer credit.
	MarkTransactionsAsUnidentified bool `json:"mark_transactions_as_unidentified" mapstructure:"mark_transactions_as_unidentified"`

	PageSize int `json:"page_size" mapstructure:"page_size"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Matcher:  matcher.DefaultConfig(),
		PageSize: DefaultPageSize,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Matcher == nil {
		return fmt.Errorf("matcher configuration is required")
	}
	if err := c.Matcher.Validate(); err != nil {
		return err
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be positive, got %d", c.PageSize)
	}
	return nil
}

// Classifier builds ledger transactions from decoded settlement files.
type Classifier struct {
	config    *Config
	senders   *matcher.SenderExtractor
	batches   *matcher.SettlementBatchMatcher
	reference *reference.Parser
	policies  Policies
	log       logger.Logger
}

// NewClassifier creates a classifier. batches resolves settlement credits to
// their batch; rules may be nil for the built-in tables.
func NewClassifier(config *Config, rules *matcher.Rules, batches matcher.BatchFinder) (*Classifier, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "classifier", config.Matcher, err)
	}

	senders, err := matcher.NewSenderExtractor(config.Matcher, rules)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matcher", config.Matcher, err)
	}
	settlements, err := matcher.NewSettlementBatchMatcher(config.Matcher, batches)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "settlement_pattern", config.Matcher.SettlementPattern, err)
	}

	c := &Classifier{
		config:    config,
		senders:   senders,
		batches:   settlements,
		reference: reference.NewParser(),
		policies:  PoliciesFor(config),
		log:       logger.GetGlobalLogger().WithComponent("classifier"),
	}
	c.log.WithFields(logger.Fields{
		"roll_number_sort_codes": strings.Join(senders.RollNumbers().SortCodes(), ","),
		"policies":               strings.Join(c.policies.Names(), ","),
	}).Debug("Classifier ready")
	return c, nil
}

// SetReferenceParser replaces the parser used for recipient identities.
func (c *Classifier) SetReferenceParser(p *reference.Parser) {
	c.reference = p
}

// OperatingRecords returns the records of every account section that belong
// to the operating account, in file order.
func (c *Classifier) OperatingRecords(file *parsers.SettlementFile) []*parsers.Record {
	var records []*parsers.Record
	for _, account := range file.Accounts {
		for _, r := range account.Records {
			if strings.TrimSpace(r.BranchSortCode) == c.config.Matcher.OperatingSortCode &&
				strings.TrimSpace(r.BranchAccountNumber) == c.config.Matcher.OperatingAccountNumber {
				records = append(records, r)
			}
		}
	}
	return records
}

// TransactionsFromFile classifies the operating account's records.
//
// A file whose totals do not reconcile yields a validation error carrying the
// per-account messages. A file with no operating account data records yields
// nil and no error. Errors from the batch lookup are returned as they are.
func (c *Classifier) TransactionsFromFile(ctx context.Context, file *parsers.SettlementFile) ([]*models.Transaction, error) {
	if !file.IsValid() {
		c.log.WithField("error_count", file.Errors.Count()).Errorf("Errors: %s", file.Errors)
		return nil, file.Errors.Err("settlement file")
	}

	var records []*parsers.Record
	for _, record := range c.OperatingRecords(file) {
		if !record.IsTotal() && !record.IsBalance() {
			records = append(records, record)
		}
	}
	if len(records) == 0 {
		c.log.Info("No records found.")
		return nil, nil
	}

	var transactions []*models.Transaction
	for _, record := range records {
		tx, err := c.classify(ctx, record)
		if err != nil {
			return nil, err
		}
		if tx == nil {
			continue
		}
		c.policies.Apply(tx)
		transactions = append(transactions, tx)
	}

	c.log.WithFields(logger.Fields{
		"records":      len(records),
		"transactions": len(transactions),
	}).Debug("Classified settlement records")
	return transactions, nil
}

func (c *Classifier) classify(ctx context.Context, record *parsers.Record) (*models.Transaction, error) {
	sender := c.senders.Extract(record)

	tx := &models.Transaction{
		Amount:               record.Amount,
		SenderSortCode:       sender.SortCode,
		SenderAccountNumber:  sender.AccountNumber,
		SenderRollNumber:     sender.RollNumber,
		SenderName:           record.TransactionDescription,
		Reference:            record.ReferenceNumber,
		Blocked:              sender.Blocked(),
		IncompleteSenderInfo: sender.Incomplete,
		ReceivedAt:           models.MiddayUTC(record.Date),
		ProcessorTypeCode:    string(record.TransactionCode),
	}

	switch {
	case (record.IsBacsCredit() || record.IsSundryCredit()) && !sender.Administrative:
		tx.Category = models.CategoryCredit
		tx.Source = models.SourceBankTransfer
		c.attachIdentity(tx, record)

	case record.IsCredit():
		tx.Category = models.CategoryCredit
		tx.Source = models.SourceAdministrative
		batch, err := c.batches.MatchingBatchID(ctx, record)
		if err != nil {
			return nil, err
		}
		tx.Batch = batch

	case record.IsDebit():
		tx.Category = models.CategoryDebit
		tx.Source = models.SourceAdministrative

	default:
		c.log.WithFields(logger.Fields{
			"line_number":      record.Line,
			"transaction_code": record.TransactionCode,
		}).Warn("Skipping record that is neither credit nor debit")
		return nil, nil
	}

	return tx, nil
}

// attachIdentity reads the recipient from the reference, falling back to the
// description where some banks put it.
func (c *Classifier) attachIdentity(tx *models.Transaction, record *parsers.Record) {
	inSenderField := false
	identity, ok := c.reference.Parse(record.ReferenceNumber)
	if !ok {
		identity, ok = c.reference.Parse(record.TransactionDescription)
		inSenderField = true
	}
	if !ok {
		return
	}

	number := identity.Number
	dob := identity.DOB
	tx.PrisonerNumber = &number
	tx.PrisonerDOB = &dob
	tx.ReferenceInSenderField = models.BoolPtr(inSenderField)
}
