// Package parser turns uploaded statement files into parsed transactions.
// Parsers never fail on malformed content: what could be read is returned
// alongside one message per problem.
package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/FACorreiaa/tenant-ledger/internal/domain/common"
	"github.com/FACorreiaa/tenant-ledger/internal/domain/import/repository"
)

// Format tags recorded as the Source of every parsed transaction.
const (
	FormatOFX  = "ofx"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// Input is one uploaded file.
type Input struct {
	TenantID uuid.UUID
	FileName string
	Data     []byte
}

// Result is what a parser could extract from a file.
type Result struct {
	Format      string
	Fingerprint string // header fingerprint of delimited files
	Records     []*repository.ParsedTransaction
	Errors      []string
}

// FormatParser reads one file format. The returned error is reserved for
// cancellation and infrastructure failures; content problems go in
// Result.Errors.
type FormatParser interface {
	Parse(ctx context.Context, in Input) (Result, error)
}

// Registry dispatches files to parsers by extension.
type Registry struct {
	byExt map[string]FormatParser
}

// NewRegistry registers the OFX/QFX, delimited text and XLSX parsers.
// mappings may be nil, in which case delimited files rely on header detection.
func NewRegistry(mappings repository.MappingStore) *Registry {
	csvParser := NewCSVParser(mappings)
	ofxParser := NewOFXParser()
	xlsxParser := NewXLSXParser(csvParser)

	r := &Registry{byExt: map[string]FormatParser{}}
	r.Register(ofxParser, ".ofx", ".qfx")
	r.Register(csvParser, ".csv", ".tsv", ".txt")
	r.Register(xlsxParser, ".xlsx")
	return r
}

// Register binds p to the given extensions, replacing earlier bindings.
func (r *Registry) Register(p FormatParser, exts ...string) {
	for _, ext := range exts {
		r.byExt[strings.ToLower(ext)] = p
	}
}

// Supports reports whether filename has a registered extension.
func (r *Registry) Supports(filename string) bool {
	_, ok := r.byExt[extension(filename)]
	return ok
}

// SupportedExtensions lists registered extensions in sorted order.
func (r *Registry) SupportedExtensions() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Parse dispatches in to the parser for its extension.
func (r *Registry) Parse(ctx context.Context, in Input) (Result, error) {
	p, ok := r.byExt[extension(in.FileName)]
	if !ok {
		return Result{}, fmt.Errorf("unsupported file type %q (supported: %s): %w",
			filepath.Ext(in.FileName), strings.Join(r.SupportedExtensions(), ", "), common.ErrInvalidInput)
	}
	return p.Parse(ctx, in)
}

func extension(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}
