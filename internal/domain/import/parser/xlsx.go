package parser

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// XLSXParser reads the first worksheet of an Excel workbook by re-encoding it
// as semicolon-delimited text for the CSV path.
type XLSXParser struct {
	csv *CSVParser
}

func NewXLSXParser(csvParser *CSVParser) *XLSXParser {
	return &XLSXParser{csv: csvParser}
}

func (p *XLSXParser) Parse(ctx context.Context, in Input) (Result, error) {
	f, err := excelize.OpenReader(bytes.NewReader(in.Data))
	if err != nil {
		return Result{Format: FormatXLSX, Errors: []string{fmt.Sprintf("invalid workbook: %v", err)}}, nil
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return Result{Format: FormatXLSX, Errors: []string{"workbook has no sheets"}}, nil
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return Result{Format: FormatXLSX, Errors: []string{fmt.Sprintf("could not read sheet %q: %v", sheet, err)}}, nil
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = ';'
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return Result{}, fmt.Errorf("failed to re-encode sheet: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return Result{}, fmt.Errorf("failed to re-encode sheet: %w", err)
	}

	in.Data = buf.Bytes()
	return p.csv.parse(ctx, in, FormatXLSX)
}
