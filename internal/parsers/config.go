package parsers

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Field is one fixed-width column of a settlement line.
type Field struct {
	Name     string `json:"name"`
	Position int    `json:"position"`
	Length   int    `json:"length"`
}

// End returns the offset just past the field.
func (f Field) End() int {
	return f.Position + f.Length
}

// Slice extracts the field from line. Positions count characters, not
// bytes, so decoded latin-1 text lines up. Short lines yield what is present.
func (f Field) Slice(line []rune) string {
	if f.Position >= len(line) {
		return ""
	}
	end := f.End()
	if end > len(line) {
		end = len(line)
	}
	return string(line[f.Position:end])
}

// Data record columns.
var (
	FieldBranchSortCode      = Field{Name: "branch_sort_code", Position: 0, Length: 6}
	FieldBranchAccountNumber = Field{Name: "branch_account_number", Position: 6, Length: 8}
	FieldAccountType         = Field{Name: "account_type", Position: 14, Length: 1}
	FieldTransactionCode     = Field{Name: "transaction_code", Position: 15, Length: 2}
	FieldSortCode            = Field{Name: "originators_sort_code", Position: 17, Length: 6}
	FieldAccountNumber       = Field{Name: "originators_account_number", Position: 23, Length: 8}
	FieldOriginatorReference = Field{Name: "originators_reference", Position: 31, Length: 4}
	FieldAmount              = Field{Name: "amount", Position: 35, Length: 11}
	FieldDescription         = Field{Name: "transaction_description", Position: 46, Length: 18}
	FieldReference           = Field{Name: "reference_number", Position: 64, Length: 18}
	FieldBeneficiaryName     = Field{Name: "beneficiary_name", Position: 82, Length: 18}
	FieldDate                = Field{Name: "date", Position: 100, Length: 6}
)

// DataRecordLayout lists the data record columns in line order.
var DataRecordLayout = []Field{
	FieldBranchSortCode,
	FieldBranchAccountNumber,
	FieldAccountType,
	FieldTransactionCode,
	FieldSortCode,
	FieldAccountNumber,
	FieldOriginatorReference,
	FieldAmount,
	FieldDescription,
	FieldReference,
	FieldBeneficiaryName,
	FieldDate,
}

// RecordLength is the minimum length of a data record line.
const RecordLength = 106

// Labels that frame the data records. UHL1 opens a new account section.
const (
	LabelVolume        = "VOL1"
	LabelHeader1       = "HDR1"
	LabelHeader2       = "HDR2"
	LabelUserHeader    = "UHL1"
	LabelUserTrailer   = "UTL1"
	LabelEndOfFile1    = "EOF1"
	LabelEndOfFile2    = "EOF2"
	labelLength        = 4
	defaultMaxLineErrs = 50
)

// Supported input encodings.
const (
	EncodingUTF8    = "utf-8"
	EncodingLatin1  = "latin-1"
	EncodingWindows = "windows-1252"
)

// Config controls how a settlement file is decoded.
type Config struct {
	Encoding string `json:"encoding" mapstructure:"encoding"`
	// MaxLineErrors stops reporting malformed lines after this many; the file
	// is invalid either way.
	MaxLineErrors int `json:"max_line_errors" mapstructure:"max_line_errors"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Encoding:      EncodingUTF8,
		MaxLineErrors: defaultMaxLineErrs,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, err := c.encoding(); err != nil {
		return err
	}
	if c.MaxLineErrors < 0 {
		return fmt.Errorf("max line errors cannot be negative")
	}
	return nil
}

func (c *Config) encoding() (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(c.Encoding)) {
	case "", EncodingUTF8, "utf8":
		return unicode.UTF8, nil
	case EncodingLatin1, "iso-8859-1":
		return charmap.ISO8859_1, nil
	case EncodingWindows, "cp1252":
		return charmap.Windows1252, nil
	default:
		return nil, fmt.Errorf("unsupported encoding: %s", c.Encoding)
	}
}
