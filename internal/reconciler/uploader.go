package reconciler

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"transaction-uploader/internal/filesource"
	"transaction-uploader/internal/ledger"
	"transaction-uploader/internal/models"
	"transaction-uploader/internal/parsers"
	"transaction-uploader/pkg/errors"
	"transaction-uploader/pkg/logger"
)

// Ledger is the part of the ledger service an upload run needs.
type Ledger interface {
	BalanceStore
	LatestTransactionDate(ctx context.Context) (*time.Time, error)
	PostTransactions(ctx context.Context, txs []*models.Transaction) error
}

// FileSource lists and opens settlement files.
type FileSource interface {
	NewFiles(lastDate *time.Time) ([]filesource.File, error)
	Open(f filesource.File) (io.ReadCloser, error)
}

// FileStatus is the outcome of processing one file.
type FileStatus string

const (
	StatusUploaded      FileStatus = "uploaded"
	StatusEmpty         FileStatus = "empty"
	StatusInvalid       FileStatus = "invalid"
	StatusFailed        FileStatus = "failed"
	StatusBalanceFailed FileStatus = "balance_failed"

	// StatusPartiallyUploaded marks a file whose later pages were not posted.
	// Later runs skip the file, see Uploader.Resume.
	StatusPartiallyUploaded FileStatus = "partially_uploaded"

	// StatusClassified marks a file that was classified but not uploaded.
	StatusClassified FileStatus = "classified"
)

// FileResult describes what happened to one file.
type FileResult struct {
	File         filesource.File       `json:"file"`
	Status       FileStatus            `json:"status"`
	Transactions []*models.Transaction `json:"-"`
	Credits      int                   `json:"credits"`
	Debits       int                   `json:"debits"`
	CreditTotal  int64                 `json:"credit_total"`
	DebitTotal   int64                 `json:"debit_total"`
	Posted       int                   `json:"posted"`
	PagesPosted  int                   `json:"pages_posted"`
	TotalPages   int                   `json:"total_pages"`
	Balance      *models.Balance       `json:"balance,omitempty"`
	BankBalance  *int64                `json:"bank_balance,omitempty"`
	Duration     time.Duration         `json:"duration"`
	Err          error                 `json:"-"`
}

// ErrorMessage returns the failure message, if any.
func (r *FileResult) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

func (r *FileResult) summarise(txs []*models.Transaction) {
	r.Transactions = txs
	for _, tx := range txs {
		switch tx.Category {
		case models.CategoryCredit:
			r.Credits++
			r.CreditTotal += tx.Amount
		case models.CategoryDebit:
			r.Debits++
			r.DebitTotal += tx.Amount
		}
	}
}

// RunResult is the summary of an upload run.
type RunResult struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	LastDate   *time.Time    `json:"last_date,omitempty"`
	Files      []*FileResult `json:"files"`
}

// Count returns how many files ended with status.
func (r *RunResult) Count(status FileStatus) int {
	n := 0
	for _, f := range r.Files {
		if f.Status == status {
			n++
		}
	}
	return n
}

// Uploaded returns the number of transactions posted during the run.
func (r *RunResult) Uploaded() int {
	n := 0
	for _, f := range r.Files {
		n += f.Posted
	}
	return n
}

// Err combines the errors of every file that was not fully processed.
func (r *RunResult) Err() error {
	var err error
	for _, f := range r.Files {
		if f.Err != nil {
			err = multierr.Append(err, f.Err)
		}
	}
	return err
}

// RunProgress tracks the progress of an upload run
type RunProgress struct {
	RunID           string        `json:"run_id"`
	TotalFiles      int           `json:"total_files"`
	CompletedFiles  int           `json:"completed_files"`
	CurrentFile     string        `json:"current_file"`
	PercentComplete float64       `json:"percent_complete"`
	ElapsedTime     time.Duration `json:"elapsed_time"`
}

// ProgressCallback is called after each file
type ProgressCallback func(*RunProgress)

// Uploader runs the upload cycle: find new files, classify them, post the
// transactions and update the closing balance, one file at a time.
type Uploader struct {
	config       *Config
	classifier   *Classifier
	ledger       Ledger
	source       FileSource
	balances     *BalanceAccumulator
	parserConfig *parsers.Config
	log          logger.Logger

	progressCallbacks []ProgressCallback
	progressMutex     sync.RWMutex
}

// NewUploader creates an uploader. parserConfig may be nil for the defaults.
func NewUploader(config *Config, classifier *Classifier, l Ledger, source FileSource, parserConfig *parsers.Config) (*Uploader, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "uploader", config.PageSize, err)
	}
	if parserConfig == nil {
		parserConfig = parsers.DefaultConfig()
	}
	if err := parserConfig.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "parser", parserConfig.Encoding, err)
	}

	return &Uploader{
		config:       config,
		classifier:   classifier,
		ledger:       l,
		source:       source,
		balances:     NewBalanceAccumulator(l),
		parserConfig: parserConfig,
		log:          logger.GetGlobalLogger().WithComponent("uploader"),
	}, nil
}

// AddProgressCallback adds a progress callback function
func (u *Uploader) AddProgressCallback(callback ProgressCallback) {
	u.progressMutex.Lock()
	defer u.progressMutex.Unlock()
	u.progressCallbacks = append(u.progressCallbacks, callback)
}

func (u *Uploader) reportProgress(p *RunProgress) {
	if p.TotalFiles > 0 {
		p.PercentComplete = float64(p.CompletedFiles) / float64(p.TotalFiles) * 100
	}
	u.progressMutex.RLock()
	defer u.progressMutex.RUnlock()
	for _, callback := range u.progressCallbacks {
		callback(p)
	}
}

// Run uploads every file newer than the latest transaction in the ledger.
//
// The returned error covers failures that stop the whole run: the ledger
// cannot be queried, the drop directory cannot be listed or ctx is done.
// Failures of individual files are recorded in the result and the run moves
// on; RunResult.Err reports them.
func (u *Uploader) Run(ctx context.Context) (*RunResult, error) {
	result := &RunResult{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}
	log := u.log.WithField("run_id", result.RunID)
	defer func() { result.FinishedAt = time.Now() }()

	lastDate, err := u.ledger.LatestTransactionDate(ctx)
	if err != nil {
		return result, err
	}
	result.LastDate = lastDate

	if ok, err := u.balances.CheckCheckpoint(ctx, lastDate); err != nil {
		log.WithError(err).Warn("Could not check the closing balance checkpoint")
	} else if !ok {
		log.Warn("Balances will be computed from an out of date opening balance")
	}

	files, err := u.source.NewFiles(lastDate)
	if err != nil {
		return result, err
	}
	if len(files) == 0 {
		log.Info("No new files available for download.")
		return result, nil
	}

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	log.Info("Downloaded... " + strings.Join(names, ", "))
	log.Info("Uploading...")

	progress := &RunProgress{RunID: result.RunID, TotalFiles: len(files)}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return result, errors.InternalError(errors.CodeUnexpectedError, "upload", err)
		}
		progress.CurrentFile = f.Name
		result.Files = append(result.Files, u.ProcessFile(ctx, f))
		progress.CompletedFiles++
		progress.ElapsedTime = time.Since(result.StartedAt)
		u.reportProgress(progress)
	}

	log.WithFields(logger.Fields{
		"files":        len(result.Files),
		"uploaded":     result.Count(StatusUploaded),
		"failed":       result.Count(StatusFailed) + result.Count(StatusBalanceFailed) + result.Count(StatusPartiallyUploaded),
		"invalid":      result.Count(StatusInvalid),
		"transactions": result.Uploaded(),
	}).Info("Upload complete.")
	return result, nil
}

// ProcessFile parses, classifies and uploads a single file, then updates the
// closing balance for the file's date.
func (u *Uploader) ProcessFile(ctx context.Context, f filesource.File) *FileResult {
	return u.processFile(ctx, f, 1)
}

// Resume uploads f starting at page fromPage (1-based) and then updates the
// closing balance, for a file a previous run left partially uploaded. Pages
// are cut the same way as in that run, so PageSize must not have changed.
func (u *Uploader) Resume(ctx context.Context, f filesource.File, fromPage int) *FileResult {
	if f.Date.IsZero() {
		return &FileResult{
			File:   f,
			Status: StatusFailed,
			Err: errors.FileError(errors.CodeInvalidFormat, f.Path, nil).
				WithSuggestion("resume only works on files named Y01A.CARS.#D.<ACCOUNT_CODE>.D<ddmmyy>"),
		}
	}
	return u.processFile(ctx, f, fromPage)
}

func (u *Uploader) processFile(ctx context.Context, f filesource.File, fromPage int) *FileResult {
	start := time.Now()
	result := &FileResult{File: f}
	log := u.log.WithField("file", f.Name)
	log.Infof("Processing %s...", f.Path)
	defer func() { result.Duration = time.Since(start) }()

	txs, file, err := u.classifyFile(ctx, f)
	if err != nil {
		result.Err = err
		result.Status = failureStatus(err)
		log.WithError(err).Error("...failed.\n" + failureContent(err))
		return result
	}
	if len(txs) == 0 {
		result.Status = StatusEmpty
		return result
	}
	result.summarise(txs)

	records := u.classifier.OperatingRecords(file)
	if amount, ok := BankClosingBalance(records); ok {
		result.BankBalance = &amount
	}

	pages := ledger.Pages(txs, u.config.PageSize)
	result.TotalPages = len(pages)
	if fromPage < 1 || fromPage > len(pages) {
		result.Err = errors.ConfigurationError(errors.CodeInvalidConfig, "from_page", fromPage,
			fmt.Errorf("file has %d pages", len(pages)))
		result.Status = StatusFailed
		log.WithError(result.Err).Error("...failed.")
		return result
	}
	result.PagesPosted = fromPage - 1

	op := logger.NewOperationLogger("post_transactions", log)
	for i := fromPage - 1; i < len(pages); i++ {
		if err := u.ledger.PostTransactions(ctx, pages[i]); err != nil {
			u.postFailed(result, op, pages[i:], err)
			return result
		}
		result.PagesPosted++
		result.Posted += len(pages[i])
		op.Pages(result.PagesPosted, len(pages))
	}
	op.Success("...done.")

	balance, err := u.balances.UpdateNewBalance(ctx, txs, f.Date)
	if err != nil {
		result.Err = errors.WrapIfNeeded(err, errors.CategoryLedger, errors.CodeBalanceNotSaved, "could not update balance").
			WithContext("file", f.Name)
		result.Status = StatusBalanceFailed
		log.WithError(err).Error("Closing balance was not saved")
		return result
	}
	result.Balance = balance
	result.Status = StatusUploaded

	if result.BankBalance != nil && *result.BankBalance != balance.ClosingBalance {
		log.WithFields(logger.Fields{
			"bank_balance":     *result.BankBalance,
			"computed_balance": balance.ClosingBalance,
		}).Warn("Computed closing balance differs from the balance reported by the bank")
	}
	return result
}

// postFailed records a rejected page. Once a page of the file has reached
// the ledger the file is partially uploaded and every unsent transaction is
// logged, since the next run starts after this file's date.
func (u *Uploader) postFailed(result *FileResult, op *logger.OperationLogger, unsent [][]*models.Transaction, err error) {
	op.Error(err, "...failed.\n"+failureContent(err))
	if result.PagesPosted == 0 {
		result.Err = errors.WrapIfNeeded(err, errors.CategoryLedger, errors.CodeRequestFailed, "could not post transactions").
			WithContext("file", result.File.Name).
			WithContext("transactions", len(result.Transactions))
		result.Status = StatusFailed
		return
	}

	result.Status = StatusPartiallyUploaded
	uerr := errors.PartialUploadError(result.File.Path, result.PagesPosted, result.TotalPages, err)
	result.Err = uerr

	log := u.log.WithFields(logger.Fields{
		"file":         result.File.Name,
		"pages_posted": result.PagesPosted,
		"total_pages":  result.TotalPages,
	})
	count := 0
	for p, page := range unsent {
		for _, tx := range page {
			log.WithFields(logger.Fields{
				"page":        result.PagesPosted + p + 1,
				"sender_name": tx.SenderName,
				"reference":   tx.Reference,
			}).Errorf("Not uploaded: %s", tx)
			count++
		}
	}
	log.WithField("unsent", count).Error("File partially uploaded, no closing balance saved. " + uerr.Suggestion)
}

func (u *Uploader) classifyFile(ctx context.Context, f filesource.File) ([]*models.Transaction, *parsers.SettlementFile, error) {
	rc, err := u.source.Open(f)
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()
	return u.Classify(ctx, rc)
}

// Inspect classifies f's contents without touching the ledger beyond batch
// lookups.
func (u *Uploader) Inspect(ctx context.Context, f filesource.File, r io.Reader) *FileResult {
	start := time.Now()
	result := &FileResult{File: f, Status: StatusClassified}
	defer func() { result.Duration = time.Since(start) }()

	txs, file, err := u.Classify(ctx, r)
	if err != nil {
		result.Err = err
		result.Status = failureStatus(err)
		return result
	}
	if len(txs) == 0 {
		result.Status = StatusEmpty
		return result
	}
	result.summarise(txs)
	if amount, ok := BankClosingBalance(u.classifier.OperatingRecords(file)); ok {
		result.BankBalance = &amount
	}
	return result
}

// Classify decodes r and classifies its operating account records without
// posting anything.
func (u *Uploader) Classify(ctx context.Context, r io.Reader) ([]*models.Transaction, *parsers.SettlementFile, error) {
	file, err := parsers.ParseDataServices(ctx, r, u.parserConfig)
	if err != nil {
		return nil, nil, err
	}
	txs, err := u.classifier.TransactionsFromFile(ctx, file)
	if err != nil {
		return nil, file, err
	}
	return txs, file, nil
}

func failureStatus(err error) FileStatus {
	if uerr, ok := errors.AsUploaderError(err); ok && uerr.Category == errors.CategoryValidation {
		return StatusInvalid
	}
	return StatusFailed
}

// failureContent returns the body of a rejected request, if err carries one.
func failureContent(err error) string {
	var httpErr *ledger.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Content
	}
	return ""
}
