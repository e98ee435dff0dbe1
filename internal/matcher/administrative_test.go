package matcher

import (
	"testing"

	"transaction-uploader/internal/parsers"
)

func testConfig() *Config {
	config := DefaultConfig()
	config.OperatingSortCode = "123456"
	config.OperatingAccountNumber = "67175315"
	return config
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"empty settlement pattern uses default", func(c *Config) { c.SettlementPattern = "" }, false},
		{"short sort code", func(c *Config) { c.OperatingSortCode = "12345" }, true},
		{"missing account", func(c *Config) { c.OperatingAccountNumber = "" }, true},
		{"bad settlement pattern", func(c *Config) { c.SettlementPattern = "([" }, true},
		{"settlement pattern without date group", func(c *Config) { c.SettlementPattern = "^WORLDPAY" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testConfig()
			tt.modify(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIdentifiers_Matches(t *testing.T) {
	ids, err := NewAdministrativeIdentifiers(testConfig())
	if err != nil {
		t.Fatalf("NewAdministrativeIdentifiers: %v", err)
	}

	tests := []struct {
		name       string
		account    *string
		sortCode   *string
		senderName string
		reference  string
		want       string
	}{
		{"operating account", ptr("67175315"), ptr("123456"), "ANYONE", "A1234BY 09/12/86", "operating_account"},
		{"operating account padded", ptr(" 67175315 "), ptr("123456  "), "", "", "operating_account"},
		{"operating account, other sort code", ptr("67175315"), ptr("654321"), "", "", ""},
		{"settlement reference", ptr("12345678"), ptr("112233"), "CARD PAYMENTS", "WORLDPAY 2209", "settlement_reference"},
		{"settlement reference lower case", nil, nil, "", "worldpay 21", "settlement_reference"},
		{"settlement in sender name", ptr("12345678"), ptr("112233"), "WORLDPAY 0101", "", "settlement_sender"},
		{"settlement not at start", ptr("12345678"), ptr("112233"), "", "PAID WORLDPAY", ""},
		{"member of the public", ptr("29696666"), ptr("608006"), "NORTHERN DIY", "A1234BY 09/12/86", ""},
		{"everything absent", nil, nil, "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := ids.Match(tt.account, tt.sortCode, tt.senderName, tt.reference)
			if ok != (tt.want != "") {
				t.Fatalf("Match() ok = %v, want %v", ok, tt.want != "")
			}
			if ok && id.Name != tt.want {
				t.Errorf("matched %s, want %s", id.Name, tt.want)
			}
			if got := ids.Matches(tt.account, tt.sortCode, tt.senderName, tt.reference); got != ok {
				t.Errorf("Matches() = %v, Match() = %v", got, ok)
			}
			record := &parsers.Record{
				AccountNumber:          tt.account,
				SortCode:               tt.sortCode,
				TransactionDescription: tt.senderName,
				ReferenceNumber:        tt.reference,
			}
			if got := ids.MatchesRecord(record); got != ok {
				t.Errorf("MatchesRecord() = %v, Match() = %v", got, ok)
			}
		})
	}
}

func TestPaymentIdentifier_Wildcards(t *testing.T) {
	var id PaymentIdentifier
	if !id.Matches(nil, nil, "", "") {
		t.Error("an identifier with no patterns matches everything")
	}
}

func TestNewAdministrativeIdentifiers_InvalidConfig(t *testing.T) {
	if _, err := NewAdministrativeIdentifiers(DefaultConfig()); err == nil {
		t.Error("expected an error without an operating account")
	}
}
