package parsers_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"transaction-uploader/internal/parsers"
	"transaction-uploader/internal/parsers/parserstest"
)

var fileDate = time.Date(2004, time.February, 5, 0, 0, 0, 0, time.UTC)

const rawRecord = "1234566717531509960800629696666000000000008939NORTHERN DIY" +
	"   E  A1234BY 09/12/86                     04036          " +
	"                       "

func parse(t *testing.T, content string, config *parsers.Config) *parsers.SettlementFile {
	t.Helper()
	file, err := parsers.ParseDataServices(context.Background(), strings.NewReader(content), config)
	if err != nil {
		t.Fatalf("ParseDataServices: %v", err)
	}
	return file
}

func TestParseDataServices_RawRecord(t *testing.T) {
	file := parse(t, "UHL1 04036\n"+rawRecord+"\n", nil)

	if !file.IsValid() {
		t.Fatalf("expected valid file, got %s", file.Errors)
	}
	records := file.Records()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	r := records[0]

	checks := []struct {
		name string
		got  string
		want string
	}{
		{"branch sort code", r.BranchSortCode, "123456"},
		{"branch account", r.BranchAccountNumber, "67175315"},
		{"code", string(r.TransactionCode), "99"},
		{"sort code", *r.SortCode, "608006"},
		{"account", *r.AccountNumber, "29696666"},
		{"description", r.TransactionDescription, "NORTHERN DIY   E  "},
		{"reference", r.ReferenceNumber, "A1234BY 09/12/86  "},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.name, c.got, c.want)
		}
	}
	if r.Amount != 8939 {
		t.Errorf("amount = %d, want 8939", r.Amount)
	}
	if !r.Date.Equal(fileDate) {
		t.Errorf("date = %s, want 2004-02-05", r.Date)
	}
	if !r.IsCredit() || !r.IsBacsCredit() || r.IsDebit() || r.IsTotal() {
		t.Error("expected a BACS credit")
	}
}

func TestParseDataServices_SectionsAndContra(t *testing.T) {
	content := parserstest.New(fileDate).
		Section("123456", "67175315").
		Add(parserstest.Line{Code: parsers.CodeSundryDebit, Amount: 288615, Reference: "Payment refund"}).
		Add(parserstest.Line{Code: parsers.CodeBacsCredit, SortCode: "608006", AccountNumber: "29696666", Amount: 8939}).
		Balance(5000).
		Section("654321", "11112222").
		Add(parserstest.Line{Code: parsers.CodeSundryCredit, Amount: 9802}).
		String()

	file := parse(t, content, nil)
	if !file.IsValid() {
		t.Fatalf("expected valid file, got %s", file.Errors)
	}
	if len(file.Accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(file.Accounts))
	}

	first := file.Accounts[0]
	// two items, two contra totals, one balance
	if len(first.Records) != 5 {
		t.Fatalf("expected 5 records in first section, got %d", len(first.Records))
	}
	if !first.Records[2].IsTotal() || !first.Records[2].IsDebit() {
		t.Error("expected debit contra total")
	}
	if !first.Records[4].IsBalance() || first.Records[4].Amount != 5000 {
		t.Errorf("expected closing balance record of 5000, got %+v", first.Records[4])
	}
	for _, r := range file.Accounts[1].Records {
		if r.IsBalance() {
			t.Error("second section has no balance record")
		}
	}
	if first.Records[1].SortCode == nil || first.Records[0].SortCode != nil {
		t.Error("blank sender fields should decode as nil")
	}
}

func TestParseDataServices_IncorrectTotals(t *testing.T) {
	content := parserstest.New(fileDate).
		Section("123456", "67175315").
		Add(parserstest.Line{Code: parsers.CodeSundryDebit, Amount: 288615}).
		Add(parserstest.Line{Code: parsers.CodeBacsCredit, Amount: 8939}).
		Add(parserstest.Line{Code: parsers.CodeSundryCredit, Amount: 9802}).
		Totals(18732, 288610).
		String()

	file := parse(t, content, nil)
	if file.IsValid() {
		t.Fatal("expected invalid file")
	}
	want := map[string][]string{
		"account 0": {
			"Monetary total of debit items does not match expected: counted 288615, expected 288610",
			"Monetary total of credit items does not match expected: counted 18741, expected 18732",
		},
	}
	got := file.Errors.Map()
	if len(got) != 1 || len(got["account 0"]) != 2 {
		t.Fatalf("unexpected errors: %v", got)
	}
	for i, msg := range want["account 0"] {
		if got["account 0"][i] != msg {
			t.Errorf("error %d = %q, want %q", i, got["account 0"][i], msg)
		}
	}
}

func TestParseDataServices_MalformedLines(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		contains string
	}{
		{"short line", "123456", "record too short"},
		{"bad amount", strings.Replace(rawRecord, "00000008939", "0000000893X", 1), "amount"},
		{"unknown code", rawRecord[:15] + "XX" + rawRecord[17:], "unknown transaction code"},
		{"bad date", rawRecord[:100] + " 04400" + rawRecord[106:], "date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := parse(t, "UHL1 04036\n"+tt.line+"\n", nil)
			if file.IsValid() {
				t.Fatal("expected invalid file")
			}
			msgs := file.Errors.Map()["account 0"]
			if len(msgs) != 1 || !strings.Contains(msgs[0], tt.contains) || !strings.HasPrefix(msgs[0], "Line 2:") {
				t.Errorf("unexpected errors: %v", msgs)
			}
		})
	}
}

func TestParseDataServices_MaxLineErrors(t *testing.T) {
	content := "UHL1 04036\nbad\nbad\nbad\n"
	file := parse(t, content, &parsers.Config{Encoding: parsers.EncodingUTF8, MaxLineErrors: 1})

	got := file.Errors.Map()
	if len(got["account 0"]) != 1 {
		t.Errorf("expected one listed line error, got %v", got["account 0"])
	}
	if len(got["file"]) != 1 || got["file"][0] != "2 further malformed lines not listed" {
		t.Errorf("unexpected overflow message: %v", got["file"])
	}
}

func TestParseDataServices_Latin1(t *testing.T) {
	line := parserstest.Line{
		BranchSortCode:      "123456",
		BranchAccountNumber: "67175315",
		Code:                parsers.CodeBacsCredit,
		Amount:              100,
		Description:         "JOSE MUNOZ",
		Reference:           "A1234BY 09/12/86",
		Date:                fileDate,
	}.String()
	// N with tilde in latin-1, one byte on disk
	latin1 := strings.Replace(line, "MUNOZ", "MU\xd1OZ", 1)

	file := parse(t, "UHL1 04036\n"+latin1+"\n", &parsers.Config{Encoding: parsers.EncodingLatin1})
	if !file.IsValid() {
		t.Fatalf("expected valid file, got %s", file.Errors)
	}
	r := file.Records()[0]
	if strings.TrimSpace(r.TransactionDescription) != "JOSE MUÑOZ" {
		t.Errorf("description = %q", r.TransactionDescription)
	}
	if r.ReferenceNumber != "A1234BY 09/12/86  " {
		t.Errorf("fields shifted after decoding: reference = %q", r.ReferenceNumber)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  parsers.Config
		wantErr bool
	}{
		{"default", *parsers.DefaultConfig(), false},
		{"latin-1", parsers.Config{Encoding: "latin-1"}, false},
		{"cp1252", parsers.Config{Encoding: "cp1252"}, false},
		{"unknown encoding", parsers.Config{Encoding: "ebcdic"}, true},
		{"negative max errors", parsers.Config{MaxLineErrors: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseDataServices_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := parsers.ParseDataServices(ctx, strings.NewReader(rawRecord), nil); err == nil {
		t.Error("expected an error for a cancelled context")
	}
}
