package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/unicode/norm"
)

// XLSXReader reads triplets from spreadsheet rows. The first row of each
// sheet is a header naming the columns; sheets without subject, relation
// and object columns are skipped.
type XLSXReader struct{}

func (p *XLSXReader) SupportedFormats() []string { return []string{"xlsx"} }

// headerAliases maps normalized header cells to record fields.
var headerAliases = map[string]string{
	"id":         "id",
	"text":       "text",
	"input_text": "text",
	"sentence":   "text",
	"文本":         "text",
	"document":   "document",
	"subject":    "subject",
	"主语":         "subject",
	"relation":   "relation",
	"关系":         "relation",
	"object":     "object",
	"宾语":         "object",
	"definition": "definition",
	"定义":         "definition",
}

func (p *XLSXReader) Read(ctx context.Context, path string) ([]Record, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	var records []Record
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("reading sheet %s: %w", sheet, err)
		}
		if len(rows) < 2 {
			continue
		}

		cols := make(map[string]int)
		for i, cell := range rows[0] {
			if field, ok := headerAliases[normalizeHeader(cell)]; ok {
				if _, dup := cols[field]; !dup {
					cols[field] = i
				}
			}
		}
		if !hasColumns(cols, "subject", "relation", "object") {
			continue
		}

		for n, row := range rows[1:] {
			get := func(field string) string {
				i, ok := cols[field]
				if !ok || i >= len(row) {
					return ""
				}
				return strings.TrimSpace(row[i])
			}
			rec := Record{
				ID:         get("id"),
				Text:       get("text"),
				Document:   get("document"),
				Triplet:    [3]string{get("subject"), get("relation"), get("object")},
				Definition: get("definition"),
			}
			if rec.Triplet == [3]string{} {
				continue
			}
			if rec.ID == "" {
				rec.ID = sheet + ":" + strconv.Itoa(n+2)
			}
			records = append(records, rec)
		}
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("no triplets found in XLSX")
	}
	return records, nil
}

// normalizeHeader folds full-width forms and case so "Ｓｕｂｊｅｃｔ" and
// "subject" match.
func normalizeHeader(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(s)))
}

func hasColumns(cols map[string]int, fields ...string) bool {
	for _, f := range fields {
		if _, ok := cols[f]; !ok {
			return false
		}
	}
	return true
}
