package matcher

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"transaction-uploader/internal/models"
	"transaction-uploader/internal/parsers"
	"transaction-uploader/pkg/logger"
)

// BatchFinder looks up card-processor batches by settlement date.
type BatchFinder interface {
	BatchesOn(ctx context.Context, date time.Time) ([]models.Batch, error)
}

// NoBatches is a BatchFinder for offline use. It never finds a batch.
type NoBatches struct{}

// BatchesOn implements BatchFinder.
func (NoBatches) BatchesOn(context.Context, time.Time) ([]models.Batch, error) {
	return nil, nil
}

// SettlementBatchMatcher links settlement credits to the batch they pay out.
type SettlementBatchMatcher struct {
	pattern *regexp.Regexp
	batches BatchFinder
	log     logger.Logger
}

// NewSettlementBatchMatcher creates a matcher using config's settlement pattern.
func NewSettlementBatchMatcher(config *Config, batches BatchFinder) (*SettlementBatchMatcher, error) {
	if config == nil {
		config = DefaultConfig()
	}
	pattern, err := config.settlementRegexp()
	if err != nil {
		return nil, err
	}
	return &SettlementBatchMatcher{
		pattern: pattern,
		batches: batches,
		log:     logger.GetGlobalLogger().WithComponent("settlement_matcher"),
	}, nil
}

// SettlementFragment returns the date fragment of a settlement description.
func (m *SettlementBatchMatcher) SettlementFragment(description string) (string, bool) {
	match := m.pattern.FindStringSubmatch(strings.TrimSpace(description))
	if match == nil {
		return "", false
	}
	return match[m.pattern.SubexpIndex(settlementDateGroup)], true
}

// SettlementDate resolves the settlement date carried by record's description.
func (m *SettlementBatchMatcher) SettlementDate(record *parsers.Record) (time.Time, bool) {
	fragment, ok := m.SettlementFragment(record.TransactionDescription)
	if !ok {
		return time.Time{}, false
	}
	return ResolveSettlementDate(fragment, record.Date)
}

// MatchingBatchID returns the batch settled by record, or nil when the date
// cannot be resolved or the ledger does not hold exactly one batch for it.
// Errors come only from the ledger lookup.
func (m *SettlementBatchMatcher) MatchingBatchID(ctx context.Context, record *parsers.Record) (*int64, error) {
	date, ok := m.SettlementDate(record)
	if !ok {
		m.log.WithFields(logger.Fields{
			"line_number": record.Line,
			"description": strings.TrimSpace(record.TransactionDescription),
		}).Debug("No settlement date in description")
		return nil, nil
	}

	batches, err := m.batches.BatchesOn(ctx, date)
	if err != nil {
		return nil, err
	}
	if len(batches) != 1 {
		m.log.WithFields(logger.Fields{
			"settlement_date": models.FormatDate(date),
			"batches":         len(batches),
		}).Debug("No unique batch for settlement")
		return nil, nil
	}
	id := batches[0].ID
	return &id, nil
}

// ResolveSettlementDate turns a ddmm or dd fragment into the latest matching
// date on or before relativeTo. A ddmm date after relativeTo moves back one
// year, a dd date one month. Anything that is not a real date is rejected.
func ResolveSettlementDate(fragment string, relativeTo time.Time) (time.Time, bool) {
	if !isDigits(fragment) {
		return time.Time{}, false
	}
	year, month, _ := relativeTo.Date()
	limit := models.NewDate(year, month, relativeTo.Day())

	switch len(fragment) {
	case 4:
		day, _ := strconv.Atoi(fragment[:2])
		mm, _ := strconv.Atoi(fragment[2:])
		date, ok := calendarDate(year, time.Month(mm), day)
		if !ok {
			return time.Time{}, false
		}
		if date.After(limit) {
			return calendarDate(year-1, time.Month(mm), day)
		}
		return date, true
	case 2:
		day, _ := strconv.Atoi(fragment)
		date, ok := calendarDate(year, month, day)
		if !ok {
			return time.Time{}, false
		}
		if date.After(limit) {
			if month == time.January {
				return calendarDate(year-1, time.December, day)
			}
			return calendarDate(year, month-1, day)
		}
		return date, true
	default:
		return time.Time{}, false
	}
}

// calendarDate builds a UTC date, rejecting values time.Date would normalise.
func calendarDate(year int, month time.Month, day int) (time.Time, bool) {
	date := models.NewDate(year, month, day)
	y, m, d := date.Date()
	if y != year || m != month || d != day {
		return time.Time{}, false
	}
	return date, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
