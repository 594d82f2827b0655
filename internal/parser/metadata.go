package parser

import (
	"fmt"
	"time"
)

// Metadata contains context about the file being parsed.
// Extracted from directory structure: {root}/{institution}/{account}/file.ext
//
// Create instances using NewMetadata(filePath, detectedAt). Optional fields
// (institution, account) can be set after construction using setter methods.
//
// When Institution() or AccountName() return empty strings, the file path
// didn't match the expected directory structure. This is not an error -
// candidates from such files fall back to any account column in the file
// itself, and the validator reports rows that end up with no account at all.
type Metadata struct {
	filePath    string
	institution string // Inferred from directory (e.g., "capital_one")
	accountName string // Inferred from directory (e.g., "everyday_checking")
	detectedAt  time.Time
}

// NewMetadata creates a new Metadata instance with validated required fields.
// Returns an error if filePath is empty or detectedAt is zero.
func NewMetadata(filePath string, detectedAt time.Time) (*Metadata, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}
	if detectedAt.IsZero() {
		return nil, fmt.Errorf("detected time cannot be zero")
	}
	return &Metadata{
		filePath:   filePath,
		detectedAt: detectedAt,
	}, nil
}

// FilePath returns the absolute file path
func (m *Metadata) FilePath() string {
	return m.filePath
}

// Institution returns the institution name inferred from directory structure.
// Returns empty string if path didn't match expected structure.
func (m *Metadata) Institution() string {
	return m.institution
}

// AccountName returns the account name inferred from directory structure.
// Returns empty string if path didn't match expected structure.
func (m *Metadata) AccountName() string {
	return m.accountName
}

// DetectedAt returns the timestamp when the file was detected
func (m *Metadata) DetectedAt() time.Time {
	return m.detectedAt
}

// SetInstitution sets the institution name
func (m *Metadata) SetInstitution(institution string) {
	m.institution = institution
}

// SetAccountName sets the account name
func (m *Metadata) SetAccountName(accountName string) {
	m.accountName = accountName
}
