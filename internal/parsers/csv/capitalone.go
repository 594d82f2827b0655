package csv

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/florin-systems/finflow/internal/domain"
	"github.com/florin-systems/finflow/internal/parser"
)

// CapitalOneParser handles Capital One credit card exports, which split the
// amount into separate Debit and Credit columns instead of a signed value.
// Stateless, safe for concurrent use.
type CapitalOneParser struct{}

var capitalOneInstance = &CapitalOneParser{}

// NewCapitalOneParser returns the shared Capital One parser instance.
func NewCapitalOneParser() *CapitalOneParser {
	return capitalOneInstance
}

// Name returns the parser identifier
func (p *CapitalOneParser) Name() string {
	return "csv-capitalone"
}

// CanParse checks for the Capital One card export header:
// Transaction Date, Posted Date, Card No., Description, Category, Debit, Credit
func (p *CapitalOneParser) CanParse(path string, header []byte) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".csv" {
		return false
	}

	r := newReader(strings.NewReader(string(header)))
	record, err := r.Read()
	if err != nil || len(record) < 7 {
		return false
	}

	cols := capitalOneColumns(record)
	_, hasTxnDate := cols["transaction_date"]
	_, hasCard := cols["card_no."]
	_, hasDebit := cols["debit"]
	_, hasCredit := cols["credit"]
	return hasTxnDate && hasCard && hasDebit && hasCredit
}

// Parse extracts candidates from a Capital One card export. The posted date
// is preferred over the transaction date when present, matching how the
// amounts settle on the statement.
func (p *CapitalOneParser) Parse(ctx context.Context, r io.Reader, meta *parser.Metadata) ([]*domain.Candidate, error) {
	csvReader := newReader(r)

	header, err := csvReader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("CSV file is empty%s", getFileInfo(meta))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header%s: %w", getFileInfo(meta), err)
	}
	cols := capitalOneColumns(header)

	field := func(record []string, name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var candidates []*domain.Candidate
	row := 0
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		record, err := csvReader.Read()
		if err == io.EOF {
			if len(candidates) == 0 {
				return nil, fmt.Errorf("CSV file has no data rows%s", getFileInfo(meta))
			}
			return candidates, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row %d%s: %w", row+2, getFileInfo(meta), err)
		}
		if isBlank(record) {
			continue
		}
		row++

		date := field(record, "posted_date")
		if date == "" {
			date = field(record, "transaction_date")
		}

		// Debit is money out, Credit is money in. Preserve the raw cell so
		// malformed values surface during validation.
		amount := field(record, "credit")
		if debit := field(record, "debit"); debit != "" {
			amount = "-" + debit
		}

		c := &domain.Candidate{
			Row:         row,
			Date:        date,
			Description: field(record, "description"),
			Amount:      amount,
			Category:    field(record, "category"),
			AccountMask: field(record, "card_no."),
		}
		if meta != nil {
			c.SourceFile = meta.FilePath()
			c.AccountName = meta.AccountName()
		}
		// Card exports have no account column; fall back to a name built
		// from the card number so the rows survive validation.
		if c.AccountName == "" && c.AccountMask != "" {
			c.AccountName = "Capital One " + c.AccountMask
		}
		candidates = append(candidates, c)
	}
}

func capitalOneColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, cell := range header {
		key := strings.ToLower(strings.TrimSpace(cell))
		key = strings.ReplaceAll(key, " ", "_")
		if _, seen := cols[key]; !seen {
			cols[key] = i
		}
	}
	return cols
}
