package registry

import (
	"fmt"
	"io"
	"os"

	"github.com/florin-systems/finflow/internal/parser"
	"github.com/florin-systems/finflow/internal/parsers/csv"
	"github.com/florin-systems/finflow/internal/parsers/ofx"
)

// headerSize is how much of a file is inspected for format detection.
// Sufficient to detect magic numbers and headers in common financial
// formats (OFX, QFX, CSV).
const headerSize = 512

// Registry holds all registered parsers
type Registry struct {
	parsers []parser.Parser
}

// New creates a registry with all built-in parsers. Order matters: more
// specific formats are probed before the generic ledger CSV.
func New() (*Registry, error) {
	r := &Registry{}
	builtins := []parser.Parser{
		ofx.NewParser(),
		csv.NewCapitalOneParser(),
		csv.NewParser(),
	}
	for _, p := range builtins {
		if err := r.Register(p); err != nil {
			return nil, fmt.Errorf("failed to register built-in parser: %w", err)
		}
	}
	return r, nil
}

// MustNew creates a registry with all built-in parsers, panicking on error.
// Built-in registration only fails on a programming error (duplicate name),
// so this is safe for initialization paths.
func MustNew() *Registry {
	r, err := New()
	if err != nil {
		panic(err)
	}
	return r
}

// Register adds a custom parser (for extensibility).
// Rejects nil parsers and duplicate names.
func (r *Registry) Register(p parser.Parser) error {
	if p == nil {
		return fmt.Errorf("cannot register nil parser")
	}
	for _, existing := range r.parsers {
		if existing.Name() == p.Name() {
			return fmt.Errorf("parser %q already registered", p.Name())
		}
	}
	r.parsers = append(r.parsers, p)
	return nil
}

// FindParser returns the best parser for this file, reading the header
// from disk for format detection.
func (r *Registry) FindParser(path string) (parser.Parser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	header := make([]byte, headerSize)
	n, err := f.Read(header)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read header from %s: %w", path, err)
	}
	// EOF is OK - some statement files may be shorter than the probe size.
	// Parsers receive whatever was read and handle variable header sizes.

	return r.FindParserForContent(path, header[:n])
}

// FindParserForContent returns the best parser given a file name and its
// content (or leading bytes). Used for uploaded payloads that never touch
// disk.
func (r *Registry) FindParserForContent(name string, content []byte) (parser.Parser, error) {
	header := content
	if len(header) > headerSize {
		header = header[:headerSize]
	}

	for _, p := range r.parsers {
		if p.CanParse(name, header) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no parser found for file: %s", name)
}

// ListParsers returns all registered parsers
func (r *Registry) ListParsers() []string {
	names := make([]string, len(r.parsers))
	for i, p := range r.parsers {
		names[i] = p.Name()
	}
	return names
}
