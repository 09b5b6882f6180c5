package parser

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"utbk-tutor/internal/models"
)

func TestNewChunker_RejectsBadParams(t *testing.T) {
	for _, p := range [][2]int{{0, 0}, {100, 100}, {100, -1}, {50, 80}} {
		if _, err := NewChunker(p[0], p[1]); err == nil {
			t.Fatalf("expected error for size=%d overlap=%d", p[0], p[1])
		}
	}
}

func TestChunker_ShortPageIsOneChunk(t *testing.T) {
	c, err := NewChunker(1200, 150)
	if err != nil {
		t.Fatal(err)
	}
	text := "  Stoikiometri:\n\nperbandingan mol  "
	chunks, err := c.Split([]models.Page{{Source: "kimia.pdf", Page: 4, Text: text}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != text {
		t.Fatalf("expected chunk to equal page text, got %q", chunks[0].Text)
	}
	if chunks[0].Source != "kimia.pdf" || chunks[0].Page != 4 || chunks[0].Index != 0 {
		t.Fatalf("unexpected metadata %+v", chunks[0])
	}
}

func TestChunker_LongPage(t *testing.T) {
	c, err := NewChunker(100, 20)
	if err != nil {
		t.Fatal(err)
	}
	long := strings.Repeat("turunan fungsi aljabar ", 40)
	pages := []models.Page{
		{Source: "mat.pdf", Page: 1, Text: long},
		{Source: "mat.pdf", Page: 2, Text: "ringkas"},
	}

	chunks, err := c.Split(pages)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < len(pages)+1 {
		t.Fatalf("expected the long page to produce several chunks, got %d total", len(chunks))
	}

	seen := map[int]int{}
	for _, ch := range chunks {
		if n := utf8.RuneCountInString(ch.Text); n > 100 {
			t.Fatalf("chunk exceeds size: %d", n)
		}
		var parent models.Page
		for _, p := range pages {
			if p.Source == ch.Source && p.Page == ch.Page {
				parent = p
			}
		}
		if parent.Source == "" {
			t.Fatalf("chunk metadata %s p.%d matches no input page", ch.Source, ch.Page)
		}
		if !strings.Contains(parent.Text, ch.Text) {
			t.Fatalf("chunk %q is not a substring of its page", ch.Text)
		}
		if ch.Index != seen[ch.Page] {
			t.Fatalf("expected chunk index %d on page %d, got %d", seen[ch.Page], ch.Page, ch.Index)
		}
		seen[ch.Page]++
	}
}

func TestChunker_Deterministic(t *testing.T) {
	c, err := NewChunker(80, 10)
	if err != nil {
		t.Fatal(err)
	}
	pages := []models.Page{{Source: "bio.pdf", Page: 1, Text: strings.Repeat("sel eukariotik memiliki membran inti. ", 20)}}

	first, err := c.Split(pages)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := c.Split(pages)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d produced different chunks", i)
		}
	}
}
