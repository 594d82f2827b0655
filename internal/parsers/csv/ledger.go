// Package csv provides CSV statement parsing for finflow
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/florin-systems/finflow/internal/domain"
	"github.com/florin-systems/finflow/internal/parser"
)

// Parser implements ledger-export CSV parsing with a stateless design.
// The struct has no fields because CSV parsing requires no configuration state.
// Each method operates solely on the input data provided, making the parser safe
// for concurrent use without locking.
type Parser struct{}

var parserInstance = &Parser{}

// NewParser returns the shared CSV parser instance.
// Safe for concurrent use due to stateless design.
func NewParser() *Parser {
	return parserInstance
}

// getFileInfo returns a formatted file path string for error messages
func getFileInfo(meta *parser.Metadata) string {
	if meta != nil && meta.FilePath() != "" {
		return fmt.Sprintf(" from %s", meta.FilePath())
	}
	return ""
}

// Name returns the parser identifier
func (p *Parser) Name() string {
	return "csv-ledger"
}

// Column aliases accepted in the header row, keyed by canonical name.
// Header cells are lowercased and space-collapsed before matching.
var columnAliases = map[string]string{
	"date":            "date",
	"name":            "description",
	"description":     "description",
	"amount":          "amount",
	"status":          "status",
	"category":        "category",
	"parent_category": "parent_category",
	"excluded":        "excluded",
	"tags":            "tags",
	"type":            "type",
	"account":         "account",
	"account_mask":    "account_mask",
	"note":            "note",
	"recurring":       "recurring",
}

// CanParse checks if this parser can handle the file based on extension and header.
// A ledger export must name at least date, amount, and name/description columns.
func (p *Parser) CanParse(path string, header []byte) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".csv" {
		return false
	}

	r := newReader(strings.NewReader(string(header)))
	record, err := r.Read()
	if err != nil {
		return false
	}

	cols := resolveColumns(record)
	_, hasDate := cols["date"]
	_, hasAmount := cols["amount"]
	_, hasDesc := cols["description"]
	return hasDate && hasAmount && hasDesc
}

// Parse extracts candidate rows from a ledger-export CSV file.
func (p *Parser) Parse(ctx context.Context, r io.Reader, meta *parser.Metadata) ([]*domain.Candidate, error) {
	rows, err := p.Rows(r, meta)
	if err != nil {
		return nil, err
	}

	var candidates []*domain.Candidate
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		c, err := rows.Next()
		if err == io.EOF {
			if len(candidates) == 0 {
				return nil, fmt.Errorf("CSV file has no data rows%s", getFileInfo(meta))
			}
			return candidates, nil
		}
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
}

// Rows returns a fresh iterator over the data rows of the file. The header
// row is consumed immediately; each Next call reads one record. Calling Rows
// again on a re-opened reader restarts iteration from the first data row.
func (p *Parser) Rows(r io.Reader, meta *parser.Metadata) (*Rows, error) {
	csvReader := newReader(r)

	header, err := csvReader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("CSV file is empty%s", getFileInfo(meta))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header%s: %w", getFileInfo(meta), err)
	}

	cols := resolveColumns(header)
	if _, ok := cols["date"]; !ok {
		return nil, fmt.Errorf("CSV header has no date column%s", getFileInfo(meta))
	}
	if _, ok := cols["amount"]; !ok {
		return nil, fmt.Errorf("CSV header has no amount column%s", getFileInfo(meta))
	}
	if _, ok := cols["description"]; !ok {
		return nil, fmt.Errorf("CSV header has no name or description column%s", getFileInfo(meta))
	}

	return &Rows{r: csvReader, cols: cols, meta: meta}, nil
}

// Rows iterates the data rows of one ledger-export CSV file.
type Rows struct {
	r    *csv.Reader
	cols map[string]int
	meta *parser.Metadata
	row  int // data rows consumed so far
}

// Next returns the next candidate, or io.EOF after the last row.
// Blank lines are skipped without consuming a row number.
func (rs *Rows) Next() (*domain.Candidate, error) {
	for {
		record, err := rs.r.Read()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row %d%s: %w", rs.row+2, getFileInfo(rs.meta), err)
		}

		if isBlank(record) {
			continue
		}

		rs.row++
		return rs.candidate(record), nil
	}
}

func (rs *Rows) candidate(record []string) *domain.Candidate {
	field := func(name string) string {
		idx, ok := rs.cols[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	c := &domain.Candidate{
		Row:            rs.row,
		Date:           field("date"),
		Description:    field("description"),
		Amount:         field("amount"),
		Type:           strings.ToLower(field("type")),
		Status:         strings.ToLower(field("status")),
		Category:       field("category"),
		ParentCategory: field("parent_category"),
		Excluded:       parseBool(field("excluded")),
		Tags:           parseTags(field("tags")),
		Note:           field("note"),
		Recurring:      parseBool(field("recurring")),
		AccountName:    field("account"),
		AccountMask:    field("account_mask"),
	}

	if rs.meta != nil {
		c.SourceFile = rs.meta.FilePath()
		if c.AccountName == "" {
			c.AccountName = rs.meta.AccountName()
		}
	}

	return c
}

// newReader builds a csv.Reader tolerant of the quoting and ragged rows
// seen in real bank exports.
func newReader(r io.Reader) *csv.Reader {
	csvReader := csv.NewReader(r)
	csvReader.LazyQuotes = true
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1
	return csvReader
}

// resolveColumns maps canonical column names to their index in the header.
// Unknown columns are ignored; the first occurrence of an alias wins.
func resolveColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, cell := range header {
		key := strings.ToLower(strings.TrimSpace(cell))
		key = strings.ReplaceAll(key, " ", "_")
		canonical, ok := columnAliases[key]
		if !ok {
			continue
		}
		if _, seen := cols[canonical]; seen {
			continue
		}
		cols[canonical] = i
	}
	return cols
}

func isBlank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "y":
		return true
	}
	return false
}

// parseTags splits a comma separated tag cell, dropping empties.
func parseTags(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if tag := strings.TrimSpace(p); tag != "" {
			tags = append(tags, tag)
		}
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}
