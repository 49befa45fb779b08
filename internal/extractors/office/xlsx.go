// Package office extracts text from spreadsheet uploads locally. Word
// documents are deliberately not handled here: their text comes back from
// the remote document-analysis job along with scanned PDFs.
package office

import (
	"bytes"
	"context"
	"strings"

	"github.com/toricodesthings/pii-sanitization-service/internal/extract"
	"github.com/xuri/excelize/v2"
)

type XLSXExtractor struct{}

func NewXLSX() *XLSXExtractor { return &XLSXExtractor{} }

func (e *XLSXExtractor) Name() string { return "document/xlsx" }
func (e *XLSXExtractor) SupportedTypes() []string {
	return []string{"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"}
}
func (e *XLSXExtractor) SupportedExtensions() []string { return []string{".xlsx"} }

func (e *XLSXExtractor) Extract(ctx context.Context, job extract.Job) (extract.Result, error) {
	select {
	case <-ctx.Done():
		return extract.Result{}, ctx.Err()
	default:
	}

	f, err := excelize.OpenReader(bytes.NewReader(job.Data))
	if err != nil {
		return extract.Result{}, err
	}
	defer f.Close()

	var lines []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		for _, row := range rows {
			cells := make([]string, 0, len(row))
			for _, cell := range row {
				if c := strings.TrimSpace(cell); c != "" {
					cells = append(cells, c)
				}
			}
			if len(cells) > 0 {
				lines = append(lines, strings.Join(cells, "\t"))
			}
		}
	}

	return extract.Result{
		Text:     strings.Join(lines, "\n"),
		Method:   "native",
		FileType: e.Name(),
	}, nil
}
