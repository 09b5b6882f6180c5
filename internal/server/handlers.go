package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"utbk-tutor/internal/item"
	"utbk-tutor/internal/models"
	"utbk-tutor/internal/rag"
)

type solveRequest struct {
	Query string `json:"query"`
}

type generateRequest struct {
	Topic string `json:"topic"`
}

type ingestRequest struct {
	Dir   string `json:"dir"`
	Reset bool   `json:"reset"`
}

type source struct {
	Tag        string  `json:"tag"`
	Source     string  `json:"source"`
	Page       int     `json:"page"`
	Similarity float32 `json:"similarity"`
	Text       string  `json:"text"`
}

type solveResponse struct {
	Answer  string   `json:"answer"`
	HTML    string   `json:"html"`
	Sources []source `json:"sources"`
}

type validation struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

type generateResponse struct {
	Raw        string       `json:"raw"`
	Item       *models.Item `json:"item,omitempty"`
	Validation validation   `json:"validation"`
	Sources    []source     `json:"sources"`
}

type ingestResponse struct {
	Files     int `json:"files"`
	Pages     int `json:"pages"`
	Chunks    int `json:"chunks"`
	IndexSize int `json:"index_size"`
}

type errorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

func (s *Server) index(c *gin.Context) {
	page, err := static.ReadFile("static/index.html")
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", page)
}

func (s *Server) health(c *gin.Context) {
	n, err := s.svc.IndexSize(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "index": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "index": "ready", "chunks": n})
}

func (s *Server) solve(c *gin.Context) {
	var req solveRequest
	if !bind(c, &req) {
		return
	}
	ans, err := s.svc.Solve(c.Request.Context(), req.Query)
	if err != nil {
		s.fail(c, err)
		return
	}
	rendered, err := renderAnswer(ans.Text)
	if err != nil {
		log.Warn().Err(err).Msg("Error rendering answer")
	}
	c.JSON(http.StatusOK, solveResponse{
		Answer:  ans.Text,
		HTML:    rendered,
		Sources: sources(ans.Chunks),
	})
}

func (s *Server) generate(c *gin.Context) {
	var req generateRequest
	if !bind(c, &req) {
		return
	}
	ans, err := s.svc.Generate(c.Request.Context(), req.Topic)
	if err != nil {
		s.fail(c, err)
		return
	}

	resp := generateResponse{Raw: ans.Text, Sources: sources(ans.Chunks)}
	it, err := item.Parse(ans.Text)
	if err == nil {
		resp.Item = &it
		err = item.Validate(it)
	}
	if err != nil {
		resp.Validation = validation{Valid: false, Error: err.Error()}
		log.Debug().Err(err).Msg("Generated item failed validation")
	} else {
		resp.Validation = validation{Valid: true}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) ingest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, errorResponse{ErrorCode: "invalid_input", Message: err.Error()})
		return
	}
	dir, err := resolveDataDir(s.dataDir, req.Dir)
	if err != nil {
		s.fail(c, err)
		return
	}

	rep, err := s.svc.Ingest(c.Request.Context(), dir, rag.IngestOptions{Reset: req.Reset})
	if err != nil {
		s.fail(c, err)
		return
	}
	resp := ingestResponse{Files: rep.Files, Pages: rep.Pages, Chunks: rep.Chunks}
	if n, err := s.svc.IndexSize(c.Request.Context()); err == nil {
		resp.IndexSize = n
	}
	c.JSON(http.StatusOK, resp)
}

// resolveDataDir confines a client supplied directory to the data dir. Only
// relative paths that stay inside base are accepted.
func resolveDataDir(base, dir string) (string, error) {
	if dir == "" {
		return base, nil
	}
	if filepath.IsAbs(dir) || filepath.VolumeName(dir) != "" {
		return "", fmt.Errorf("%w: dir must be relative to the data directory", models.ErrInvalidInput)
	}
	joined := filepath.Join(base, dir)
	rel, err := filepath.Rel(base, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: dir escapes the data directory", models.ErrInvalidInput)
	}
	return joined, nil
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{ErrorCode: "invalid_input", Message: err.Error()})
		return false
	}
	return true
}

func (s *Server) fail(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
	}
	c.JSON(status, errorResponse{ErrorCode: code, Message: err.Error()})
}

// classify maps an error kind onto an HTTP status and a stable error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, models.ErrIngest):
		return http.StatusUnprocessableEntity, "ingest_failed"
	case errors.Is(err, models.ErrIndexUnavailable):
		return http.StatusServiceUnavailable, "index_unavailable"
	case errors.Is(err, models.ErrEmbeddingProvider):
		return http.StatusBadGateway, "embedding_provider"
	case errors.Is(err, models.ErrCompletionProvider):
		return http.StatusBadGateway, "completion_provider"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func sources(chunks []models.RetrievedChunk) []source {
	out := make([]source, len(chunks))
	for i, ch := range chunks {
		out[i] = source{
			Tag:        ch.Tag(),
			Source:     ch.Source,
			Page:       ch.Page,
			Similarity: ch.Similarity,
			Text:       ch.Text,
		}
	}
	return out
}
