package series

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
)

// CSVSource reads bars from a delimited text file with a header row.
type CSVSource struct {
	Path       string
	TimeLayout string
	Comma      rune
}

// Load reads the file, keeps the trailing numRecords rows and orders them by time.
func (s CSVSource) Load(ctx context.Context, numRecords int) (Series, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open csv source: %w", err)
	}
	defer f.Close()

	return s.read(ctx, f, numRecords)
}

// Read parses CSV content from r.
func (s CSVSource) Read(ctx context.Context, r io.Reader, numRecords int) (Series, error) {
	return s.read(ctx, r, numRecords)
}

func (s CSVSource) read(ctx context.Context, r io.Reader, numRecords int) (Series, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	if s.Comma != 0 {
		reader.Comma = s.Comma
	}

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty csv, header row required", ErrMalformedInput)
		}
		return nil, fmt.Errorf("%w: read csv header: %v", ErrMalformedInput, err)
	}

	cols, err := indexColumns(header)
	if err != nil {
		return nil, err
	}

	type row struct {
		line   int
		record []string
	}
	rows := make([]row, 0, 1024)
	for line := 2; ; line++ {
		if line%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read csv line %d: %v", ErrMalformedInput, line, err)
		}
		if isBlank(record) {
			continue
		}
		rows = append(rows, row{line: line, record: record})
	}

	// 只解析尾部 numRecords 行，与截断语义保持一致
	if numRecords > 0 && len(rows) > numRecords {
		rows = rows[len(rows)-numRecords:]
	}

	bars := make([]Bar, 0, len(rows))
	for _, r := range rows {
		bar, err := cols.parseRecord(r.record, s.TimeLayout)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", r.line, err)
		}
		bars = append(bars, bar)
	}

	return finalize(bars, numRecords), nil
}

func isBlank(record []string) bool {
	for _, v := range record {
		if v != "" {
			return false
		}
	}
	return true
}

var _ Source = CSVSource{}
