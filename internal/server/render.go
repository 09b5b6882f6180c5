package server

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"utbk-tutor/internal/models"
)

var thinkRe = regexp.MustCompile(models.ThinkTag)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(
		html.WithHardWraps(),
	),
)

// renderAnswer strips reasoning blocks and converts the answer to HTML.
// Raw HTML in the model output is not passed through.
func renderAnswer(text string) (string, error) {
	cleaned := strings.TrimSpace(thinkRe.ReplaceAllString(text, ""))
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(cleaned), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
