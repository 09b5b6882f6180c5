// Package item checks the shape of generated multiple-choice items. The check
// is advisory: callers display the outcome, the pipeline never rejects an item.
package item

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"utbk-tutor/internal/models"
)

const (
	OptionCount = 5
	labels      = "ABCDE"
)

var (
	thinkRe = regexp.MustCompile(models.ThinkTag)
	fenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")

	requiredKeys = []string{"subject", "topic", "question", "options", "answer_key", "explanation", "references"}
)

// Check parses text and validates the resulting item.
func Check(text string) (models.Item, error) {
	it, err := Parse(text)
	if err != nil {
		return it, err
	}
	return it, Validate(it)
}

// Parse decodes a model reply into an item. Reasoning blocks and a surrounding
// markdown code fence are tolerated.
func Parse(text string) (models.Item, error) {
	var it models.Item

	cleaned := strings.TrimSpace(thinkRe.ReplaceAllString(text, ""))
	if m := fenceRe.FindStringSubmatch(cleaned); m != nil {
		cleaned = m[1]
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return it, fmt.Errorf("%w: not a JSON object: %w", models.ErrSchemaValidation, err)
	}
	var missing []string
	for _, k := range requiredKeys {
		if _, ok := raw[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return it, fmt.Errorf("%w: missing keys %s", models.ErrSchemaValidation, strings.Join(missing, ", "))
	}
	if err := json.Unmarshal([]byte(cleaned), &it); err != nil {
		return it, fmt.Errorf("%w: %w", models.ErrSchemaValidation, err)
	}
	return it, nil
}

// Validate enforces five labeled options, an answer key naming one of them and
// references with a source and page.
func Validate(it models.Item) error {
	if strings.TrimSpace(it.Question) == "" {
		return fmt.Errorf("%w: question is empty", models.ErrSchemaValidation)
	}
	if len(it.Options) != OptionCount {
		return fmt.Errorf("%w: expected %d options, got %d", models.ErrSchemaValidation, OptionCount, len(it.Options))
	}
	for i, opt := range it.Options {
		want := labels[i : i+1]
		if got := OptionLabel(opt); got != want {
			return fmt.Errorf("%w: option %d should be labeled %s, got %q", models.ErrSchemaValidation, i+1, want, opt)
		}
	}

	key := strings.ToUpper(strings.TrimSpace(it.AnswerKey))
	if len(key) != 1 || !strings.Contains(labels, key) {
		return fmt.Errorf("%w: answer_key %q does not name an option", models.ErrSchemaValidation, it.AnswerKey)
	}

	if len(it.References) == 0 {
		return fmt.Errorf("%w: references are empty", models.ErrSchemaValidation)
	}
	for i, ref := range it.References {
		if strings.TrimSpace(ref.Source) == "" || ref.Page < 1 {
			return fmt.Errorf("%w: reference %d needs a source and a page", models.ErrSchemaValidation, i+1)
		}
	}
	return nil
}

// OptionLabel returns the leading letter of options written as "A) ..." or
// "A. ...", or "" when the option is unlabeled.
func OptionLabel(opt string) string {
	opt = strings.TrimSpace(opt)
	if len(opt) < 2 {
		return ""
	}
	if opt[1] != ')' && opt[1] != '.' {
		return ""
	}
	return strings.ToUpper(opt[:1])
}
