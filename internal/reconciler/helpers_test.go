package reconciler

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"transaction-uploader/internal/matcher"
	"transaction-uploader/internal/models"
	"transaction-uploader/internal/parsers"
	"transaction-uploader/internal/reference"
	"transaction-uploader/pkg/logger"
)

var (
	fileDate = time.Date(2004, time.February, 5, 0, 0, 0, 0, time.UTC)
	today    = time.Date(2016, time.June, 1, 9, 0, 0, 0, time.UTC)
)

const (
	operatingSortCode = "123456"
	operatingAccount  = "67175315"
)

func testConfig() *Config {
	config := DefaultConfig()
	config.Matcher.OperatingSortCode = operatingSortCode
	config.Matcher.OperatingAccountNumber = operatingAccount
	return config
}

// captureLogs routes the global logger into a buffer until the test ends.
// Components capture the global logger when built, so call it first.
func captureLogs(t *testing.T) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	l, err := logger.NewWithWriter(logger.DebugConfig(), buf)
	if err != nil {
		t.Fatalf("NewWithWriter: %v", err)
	}
	previous := logger.GetGlobalLogger()
	logger.SetGlobalLogger(l)
	t.Cleanup(func() { logger.SetGlobalLogger(previous) })
	return buf
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Contains(s string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Contains(b.buf.String(), s)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeBatches struct {
	byDate  map[string][]models.Batch
	queries []string
	err     error
}

func (f *fakeBatches) BatchesOn(_ context.Context, date time.Time) ([]models.Batch, error) {
	f.queries = append(f.queries, models.FormatDate(date))
	if f.err != nil {
		return nil, f.err
	}
	return f.byDate[models.FormatDate(date)], nil
}

func newTestClassifier(t *testing.T, config *Config, batches matcher.BatchFinder) *Classifier {
	t.Helper()
	if batches == nil {
		batches = matcher.NoBatches{}
	}
	c, err := NewClassifier(config, nil, batches)
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	c.SetReferenceParser(&reference.Parser{Now: func() time.Time { return today }})
	return c
}

func parseFile(t *testing.T, content string) *parsers.SettlementFile {
	t.Helper()
	file, err := parsers.ParseDataServices(context.Background(), strings.NewReader(content), nil)
	if err != nil {
		t.Fatalf("ParseDataServices: %v", err)
	}
	return file
}

func str(p *string) string {
	if p == nil {
		return "<nil>"
	}
	return *p
}

func describe(tx *models.Transaction) string {
	return fmt.Sprintf("%s/%s %d", tx.Category, tx.Source, tx.Amount)
}
