package server

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"session-rag/internal/models"
)

// uploads above this size are spooled to disk by net/http
const maxMultipartMemory = 32 << 20

// Service is the part of the RAG pipeline exposed over HTTP.
type Service interface {
	AddDocument(ctx context.Context, token, text, source string) (*models.IngestResult, error)
	AddFile(ctx context.Context, token, path, name string) (*models.IngestResult, error)
	AddURL(ctx context.Context, token, rawURL string) (*models.IngestResult, error)
	ViewSplitText(ctx context.Context, token string) ([]string, error)
	InvokeLLM(ctx context.Context, token, question, basePrompt string) (string, error)
	DeleteSession(ctx context.Context, token string) error
}

type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// NewRouter wires every endpoint onto a gin engine with panic recovery and
// request logging.
func NewRouter(svc Service) *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = maxMultipartMemory
	r.Use(gin.Recovery(), requestLogger())

	h := NewHandler(svc)
	r.GET("/health", h.health)
	r.POST("/add-document", h.addDocument)
	r.POST("/add-file", h.addFile)
	r.POST("/add-url", h.addURL)
	r.GET("/view-split-text", h.viewSplitText)
	r.POST("/invoke_llm", h.invokeLLM)
	r.DELETE("/session", h.deleteSession)
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		evt := log.Info()
		if status >= 400 {
			evt = log.Warn()
		}
		if len(c.Errors) > 0 {
			evt = evt.Str("error", c.Errors.String())
		}
		evt.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("Request")
	}
}
