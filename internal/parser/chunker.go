package parser

import (
	"fmt"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"

	"utbk-tutor/internal/models"
)

// Chunker splits pages into overlapping character windows.
type Chunker struct {
	size     int
	overlap  int
	splitter textsplitter.RecursiveCharacter
}

func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{
		size:    size,
		overlap: overlap,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
		),
	}, nil
}

// Split returns the chunks of every page in input order. Chunk IDs are left
// empty; the index builder assigns them.
func (c *Chunker) Split(pages []models.Page) ([]models.Chunk, error) {
	var chunks []models.Chunk
	for _, page := range pages {
		texts, err := c.splitPage(page.Text)
		if err != nil {
			return nil, fmt.Errorf("split %s page %d: %w", page.Source, page.Page, err)
		}
		for i, text := range texts {
			chunks = append(chunks, models.Chunk{
				Source: page.Source,
				Page:   page.Page,
				Index:  i,
				Text:   text,
			})
		}
	}
	return chunks, nil
}

func (c *Chunker) splitPage(text string) ([]string, error) {
	// short pages stay whole
	if utf8.RuneCountInString(text) <= c.size {
		return []string{text}, nil
	}
	return c.splitter.SplitText(text)
}
