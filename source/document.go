package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"
)

// PDFText extracts the plain text of every page of a PDF, pages separated
// by blank lines. Pages that fail to extract are skipped.
func PDFText(ctx context.Context, path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			slog.Debug("source: skipping unreadable pdf page", "file", path, "page", i, "error", err)
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}
	if len(pages) == 0 {
		return "", fmt.Errorf("no text extracted from PDF %s", path)
	}
	return strings.Join(pages, "\n\n"), nil
}

// DocumentText returns the text of a .pdf, .txt or .md file.
func DocumentText(ctx context.Context, path string) (string, error) {
	switch Format(path) {
	case "pdf":
		return PDFText(ctx, path)
	case "txt", "md", "text":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading text file: %w", err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("no document reader for format: %s", Format(path))
	}
}

// LoadDocuments reads every distinct path concurrently with at most workers
// readers in flight and returns path → text. The first failure cancels the
// remaining reads.
func LoadDocuments(ctx context.Context, paths []string, workers int) (map[string]string, error) {
	if workers < 1 {
		workers = 1
	}

	seen := make(map[string]bool, len(paths))
	var (
		mu  sync.Mutex
		out = make(map[string]string, len(paths))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, p := range paths {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		g.Go(func() error {
			text, err := DocumentText(gctx, p)
			if err != nil {
				return fmt.Errorf("loading %s: %w", p, err)
			}
			mu.Lock()
			out[p] = text
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	slog.Info("source: documents loaded", "count", len(out))
	return out, nil
}

// ResolveText fills Text from the loaded documents for records that only
// name a document. A positive passageChars narrows each document to the
// passage around the record's triplet; see SelectPassage.
func ResolveText(records []Record, docs map[string]string, passageChars int) {
	for i := range records {
		if records[i].Text == "" && records[i].Document != "" {
			records[i].Text = SelectPassage(docs[records[i].Document], records[i].Triplet, passageChars)
		}
	}
}

// DocumentPaths returns the document paths referenced by records.
func DocumentPaths(records []Record) []string {
	var out []string
	for _, r := range records {
		if r.Text == "" && r.Document != "" {
			out = append(out, r.Document)
		}
	}
	return out
}
