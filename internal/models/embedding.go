package models

import (
	"errors"
	"fmt"
)

// Page is the extracted text of one PDF page.
type Page struct {
	Source string
	Page   int
	Text   string
}

// NewPage returns a page stamped with its origin. Page numbers are 1-based.
func NewPage(source string, page int, text string) (Page, error) {
	if source == "" {
		return Page{}, errors.New("page source is required")
	}
	if page < 1 {
		return Page{}, fmt.Errorf("page number must be 1-based, got %d", page)
	}
	return Page{Source: source, Page: page, Text: text}, nil
}

// Chunk represents a bounded slice of a page with the page's metadata.
type Chunk struct {
	ID     string
	Source string
	Page   int
	Index  int
	Text   string
}

// Tag renders the citation prefix used in prompts, e.g. "[kimia.pdf p.3]".
func (c Chunk) Tag() string {
	return fmt.Sprintf("[%s p.%d]", c.Source, c.Page)
}

type EmbeddedChunk struct {
	Chunk
	Embedding []float32
}

type RetrievedChunk struct {
	Chunk
	Similarity float32
}

// Prompt is a rendered system + user turn pair.
type Prompt struct {
	Name    string
	Version string
	System  string
	User    string
}

type Reference struct {
	Source string `json:"source"`
	Page   int    `json:"page"`
}

// Item is one generated multiple-choice question.
type Item struct {
	Subject     string      `json:"subject"`
	Topic       string      `json:"topic"`
	Question    string      `json:"question"`
	Options     []string    `json:"options"`
	AnswerKey   string      `json:"answer_key"`
	Explanation string      `json:"explanation"`
	References  []Reference `json:"references"`
}
