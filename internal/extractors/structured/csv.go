package structured

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/toricodesthings/pii-sanitization-service/internal/extract"
)

// CSVExtractor flattens delimited files into tab-joined lines. Every row is
// kept: a truncated table would silently exempt the dropped rows from
// redaction.
type CSVExtractor struct{}

func NewCSV() *CSVExtractor { return &CSVExtractor{} }

func (e *CSVExtractor) Name() string { return "structured/csv" }

func (e *CSVExtractor) SupportedTypes() []string {
	return []string{"text/csv", "text/tab-separated-values"}
}

func (e *CSVExtractor) SupportedExtensions() []string { return []string{".csv", ".tsv"} }

func (e *CSVExtractor) Extract(ctx context.Context, job extract.Job) (extract.Result, error) {
	select {
	case <-ctx.Done():
		return extract.Result{}, ctx.Err()
	default:
	}

	recs, _, err := readRecords(job.Data)
	if err != nil || len(recs) == 0 {
		// Single-column or irregular files still carry text worth scanning.
		return extract.Result{
			Text:     strings.TrimSpace(string(job.Data)),
			Method:   "native",
			FileType: e.Name(),
		}, nil
	}

	var sb strings.Builder
	for _, row := range recs {
		sb.WriteString(strings.Join(row, "\t"))
		sb.WriteByte('\n')
	}

	return extract.Result{
		Text:     strings.TrimSpace(sb.String()),
		Method:   "native",
		FileType: e.Name(),
	}, nil
}

func readRecords(b []byte) ([][]string, rune, error) {
	for _, d := range []rune{',', '\t', ';', '|'} {
		r := csv.NewReader(bytes.NewReader(b))
		r.Comma = d
		r.FieldsPerRecord = -1
		recs, err := r.ReadAll()
		if err == nil && len(recs) > 0 && maxCols(recs) > 1 {
			return recs, d, nil
		}
	}
	return nil, ',', fmt.Errorf("unable to parse CSV/TSV")
}

func maxCols(recs [][]string) int {
	m := 0
	for _, row := range recs {
		if len(row) > m {
			m = len(row)
		}
	}
	return m
}
