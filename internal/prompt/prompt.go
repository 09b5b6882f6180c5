package prompt

import (
	"fmt"
	"strings"

	"utbk-tutor/internal/models"
)

// Version identifies the wording of the system templates below. Bump it when
// any template text changes; downstream consumers match on these strings.
const Version = "v1"

// FallbackAnswer is the sentence the solve template requires verbatim when
// the context cannot support an answer.
const FallbackAnswer = "Konteks belum memadai."

const solveSystem = `Anda adalah tutor UTBK yang ketat pada sumber.
Jawab HANYA dari "Konteks" yang diberikan.

Format jawaban WAJIB:
1) Inti Soal
2) Langkah Penyelesaian (urut; konsep/rumus jelas)
3) Perhitungan/Alasan
4) Jawaban Akhir
5) Referensi (source & halaman dari konteks)

Jika konteks tidak cukup, jawab persis: "` + FallbackAnswer + `"
`

const generateSystem = `Buat 1 butir soal UTBK BERDASARKAN konteks (tanpa menambah materi di luar konteks).
Format output JSON valid:
{
 "subject": "...",
 "topic": "...",
 "question": "...",
 "options": ["A) ...","B) ...","C) ...","D) ...","E) ..."],
 "answer_key": "B",
 "explanation": "langkah-langkah ...",
 "references": [{"source":"...", "page": ...}]
}
Pastikan answer_key ada di options, dan references terisi dari konteks.
`

// Template is a fixed system instruction plus the layout of the user turn.
type Template struct {
	Name    string
	System  string
	userFmt string
}

var (
	Solve    = Template{Name: "solve", System: solveSystem, userFmt: "[SOAL]: %s\n\n[KONTEKS]:\n%s"}
	Generate = Template{Name: "generate", System: generateSystem, userFmt: "Topik: %s\n\n[KONTEKS]:\n%s"}
)

// FormatContext renders retrieved chunks in retrieval order, each prefixed
// with its source tag.
func FormatContext(chunks []models.RetrievedChunk) string {
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, c.Tag()+" "+c.Text)
	}
	return strings.Join(parts, models.ContextSeparator)
}

// Build fills the template with the query or topic and the retrieved context.
func Build(t Template, query string, chunks []models.RetrievedChunk) models.Prompt {
	return models.Prompt{
		Name:    t.Name,
		Version: Version,
		System:  t.System,
		User:    fmt.Sprintf(t.userFmt, query, FormatContext(chunks)),
	}
}
