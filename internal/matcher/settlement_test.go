package matcher

import (
	"context"
	"fmt"
	"testing"
	"time"

	"transaction-uploader/internal/models"
	"transaction-uploader/internal/parsers"
)

type fakeBatches struct {
	batches map[string][]models.Batch
	err     error
	calls   []string
}

func (f *fakeBatches) BatchesOn(ctx context.Context, date time.Time) ([]models.Batch, error) {
	f.calls = append(f.calls, models.FormatDate(date))
	if f.err != nil {
		return nil, f.err
	}
	return f.batches[models.FormatDate(date)], nil
}

func date(s string) time.Time {
	d, err := models.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestResolveSettlementDate(t *testing.T) {
	tests := []struct {
		fragment   string
		relativeTo string
		want       string
	}{
		// dd
		{"27", "2021-02-26", "2021-01-27"},
		{"26", "2021-02-26", "2021-02-26"},
		{"01", "2021-02-26", "2021-02-01"},
		{"31", "2021-01-02", "2020-12-31"},
		{"21", "2004-02-05", "2004-01-21"},
		{"30", "2021-03-01", ""},
		{"31", "2021-05-01", ""},
		{"33", "2021-05-01", ""},
		{"00", "2021-05-01", ""},
		{"xx", "2021-05-01", ""},

		// ddmm
		{"0101", "2004-02-05", "2004-01-01"},
		{"2209", "2004-02-05", "2003-09-22"},
		{"0202", "2021-01-31", "2020-02-02"},
		{"3112", "2021-06-30", "2020-12-31"},
		{"3006", "2021-06-30", "2021-06-30"},
		{"2902", "2021-03-01", ""},
		{"2902", "2020-03-01", "2020-02-29"},
		{"3002", "2021-03-01", ""},
		{"3104", "2021-05-01", ""},
		{"3301", "2021-05-01", ""},
		{"ddmm", "2021-05-01", ""},
		{"9934", "2004-02-05", ""},

		// other lengths
		{"", "2004-02-05", ""},
		{"1", "2004-02-05", ""},
		{"010", "2004-02-05", ""},
		{"010203", "2004-02-05", ""},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s relative to %s", tt.fragment, tt.relativeTo), func(t *testing.T) {
			got, ok := ResolveSettlementDate(tt.fragment, date(tt.relativeTo))
			if tt.want == "" {
				if ok {
					t.Errorf("expected no date, got %s", models.FormatDate(got))
				}
				return
			}
			if !ok {
				t.Fatalf("expected %s, got no date", tt.want)
			}
			if models.FormatDate(got) != tt.want {
				t.Errorf("got %s, want %s", models.FormatDate(got), tt.want)
			}
		})
	}
}

func TestSettlementBatchMatcher_MatchingBatchID(t *testing.T) {
	finder := &fakeBatches{batches: map[string][]models.Batch{
		"2003-09-22": {{ID: 10, Date: "2003-09-22"}},
		"2004-01-21": {{ID: 11, Date: "2004-01-21"}, {ID: 12, Date: "2004-01-21"}},
	}}
	m, err := NewSettlementBatchMatcher(testConfig(), finder)
	if err != nil {
		t.Fatalf("NewSettlementBatchMatcher: %v", err)
	}

	tests := []struct {
		name        string
		description string
		want        int64
		lookups     int
	}{
		{"single batch", "WORLDPAY 2209      ", 10, 1},
		{"several batches", "WORLDPAY 21", 0, 1},
		{"no batch", "WORLDPAY 0101", 0, 1},
		{"unresolvable date", "WORLDPAY 9934", 0, 0},
		{"no date", "WORLDPAY", 0, 0},
		{"not a settlement", "BACS RETURN", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			finder.calls = nil
			record := &parsers.Record{
				TransactionCode:        parsers.CodeAutomatedCredit,
				TransactionDescription: tt.description,
				Date:                   date("2004-02-05"),
			}

			id, err := m.MatchingBatchID(context.Background(), record)
			if err != nil {
				t.Fatalf("MatchingBatchID: %v", err)
			}
			if tt.want == 0 && id != nil {
				t.Errorf("expected no batch, got %d", *id)
			}
			if tt.want != 0 && (id == nil || *id != tt.want) {
				t.Errorf("expected batch %d, got %v", tt.want, id)
			}
			if len(finder.calls) != tt.lookups {
				t.Errorf("expected %d ledger lookups, got %v", tt.lookups, finder.calls)
			}
		})
	}
}

func TestSettlementBatchMatcher_LedgerFailure(t *testing.T) {
	finder := &fakeBatches{err: fmt.Errorf("connection refused")}
	m, err := NewSettlementBatchMatcher(testConfig(), finder)
	if err != nil {
		t.Fatalf("NewSettlementBatchMatcher: %v", err)
	}

	record := &parsers.Record{TransactionDescription: "WORLDPAY 0101", Date: date("2004-02-05")}
	if _, err := m.MatchingBatchID(context.Background(), record); err == nil {
		t.Error("expected the ledger error to be returned")
	}
}

func TestSettlementBatchMatcher_CustomPattern(t *testing.T) {
	config := testConfig()
	config.SettlementPattern = `^CARDSETTLE-(?P<date>[0-9]+)`
	m, err := NewSettlementBatchMatcher(config, &fakeBatches{})
	if err != nil {
		t.Fatalf("NewSettlementBatchMatcher: %v", err)
	}

	fragment, ok := m.SettlementFragment("cardsettle-0412")
	if !ok || fragment != "0412" {
		t.Errorf("SettlementFragment() = %q, %v", fragment, ok)
	}
}
