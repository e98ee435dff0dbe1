// Package parsers decodes bank settlement files.
//
// A settlement file is a fixed-width text export. Label lines (VOL1, HDR1,
// HDR2, EOF1, EOF2, UTL1) frame the content and carry no transactions. Each
// UHL1 label opens an account section, and every other line is a data record
// laid out as described by DataRecordLayout.
//
// Each account section ends with contra records carrying the monetary totals
// of its credit and debit items. Decoding checks those totals and reports
// mismatches per section; a file with any mismatch or malformed line is
// invalid and must not be uploaded.
//
// Example usage:
//
//	file, err := parsers.ParseDataServices(ctx, r, parsers.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	if !file.IsValid() {
//		log.Errorf("Errors: %s", file.Errors)
//	}
package parsers

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"transaction-uploader/pkg/errors"
	"transaction-uploader/pkg/logger"
)

// ParseError describes a malformed line
type ParseError struct {
	Line    int
	Field   string
	Value   string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("Line %d: %s", e.Line, e.Message)
	}
	return fmt.Sprintf("Line %d: %s '%s': %s", e.Line, e.Field, e.Value, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseContext holds state while decoding one file
type ParseContext struct {
	LineNumber int
	Lines      int
	Records    int
	ctx        context.Context
}

// NewParseContext creates a new parsing context
func NewParseContext(ctx context.Context) *ParseContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ParseContext{ctx: ctx}
}

// IsCancelled checks if the parsing context has been cancelled
func (pc *ParseContext) IsCancelled() bool {
	select {
	case <-pc.ctx.Done():
		return true
	default:
		return false
	}
}

// lineReader yields decoded lines as runes.
type lineReader struct {
	scanner *bufio.Scanner
	pc      *ParseContext
	log     logger.Logger
}

func newLineReader(r io.Reader, config *Config, pc *ParseContext) (*lineReader, error) {
	enc, err := config.encoding()
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "input_encoding", config.Encoding, err)
	}

	scanner := bufio.NewScanner(enc.NewDecoder().Reader(r))
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)

	return &lineReader{
		scanner: scanner,
		pc:      pc,
		log:     logger.GetGlobalLogger().WithComponent("settlement_parser"),
	}, nil
}

// next returns the next non-blank line, or io.EOF.
func (lr *lineReader) next() ([]rune, error) {
	for {
		if lr.pc.IsCancelled() {
			return nil, errors.InternalError(errors.CodeUnexpectedError, "settlement_parsing", lr.pc.ctx.Err())
		}
		if !lr.scanner.Scan() {
			if err := lr.scanner.Err(); err != nil {
				lr.log.WithError(err).WithField("line_number", lr.pc.LineNumber+1).Warn("Failed to read line")
				return nil, errors.ParseError(errors.CodeEncodingError, "", lr.pc.LineNumber+1, "", "", err)
			}
			return nil, io.EOF
		}
		lr.pc.LineNumber++

		line := strings.TrimRight(lr.scanner.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			lr.log.WithField("line_number", lr.pc.LineNumber).Debug("Skipping blank line")
			continue
		}
		lr.pc.Lines++
		return []rune(line), nil
	}
}
