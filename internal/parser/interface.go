package parser

import (
	"context"
	"io"

	"github.com/florin-systems/finflow/internal/domain"
)

// Parser is the strategy interface for all file format parsers.
type Parser interface {
	// Name returns parser identifier (e.g., "ofx", "csv-ledger")
	Name() string

	// CanParse checks if parser can handle this file.
	// Returns true if this parser should be used for the file.
	CanParse(path string, header []byte) bool

	// Parse extracts candidate rows from the file. Candidates carry raw
	// date and amount strings; malformed values are reported by the
	// validator per row, not here. Parse fails only when the file itself
	// is unreadable in this format.
	Parse(ctx context.Context, r io.Reader, meta *Metadata) ([]*domain.Candidate, error)
}
