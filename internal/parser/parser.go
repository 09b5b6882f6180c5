package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"

	"utbk-tutor/internal/models"
)

const pdfExt = ".pdf"

// LoadPages reads every PDF directly inside dir and returns their non-blank
// pages in file-name order. Any unreadable directory or file aborts the run.
func LoadPages(dir string) ([]models.Page, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read dir %s: %w", models.ErrIngest, dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.ToLower(filepath.Ext(e.Name())) != pdfExt {
			continue
		}
		files = append(files, e.Name())
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no pdf files in %s", models.ErrIngest, dir)
	}
	sort.Strings(files)

	var pages []models.Page
	for _, name := range files {
		filePages, err := parsePDF(filepath.Join(dir, name), name)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("file", name).Int("pages", len(filePages)).Msg("Parsed pdf")
		pages = append(pages, filePages...)
	}
	return pages, nil
}

func parsePDF(filePath, source string) (pages []models.Page, err error) {
	// ledongthuc/pdf panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("%w: parse %s: %v", models.ErrIngest, source, r)
		}
	}()

	f, reader, err := pdf.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", models.ErrIngest, source, err)
	}
	defer f.Close()

	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: extract %s page %d: %w", models.ErrIngest, source, i, err)
		}
		if strings.TrimSpace(pageText) == "" {
			continue
		}
		p, err := models.NewPage(source, i, pageText)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrIngest, err)
		}
		pages = append(pages, p)
	}
	return pages, nil
}
