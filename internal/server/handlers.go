package server

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"session-rag/internal/helper"
	"session-rag/internal/models"
	"session-rag/internal/parser"
)

type addDocumentRequest struct {
	SessionToken string `json:"session_token" form:"session_token" binding:"required"`
	Text         string `json:"text" form:"text" binding:"required"`
}

type addURLRequest struct {
	SessionToken string `json:"session_token" form:"session_token" binding:"required"`
	FileURL      string `json:"file_url" form:"file_url" binding:"required"`
}

type sessionRequest struct {
	SessionToken string `json:"session_token" form:"session_token" binding:"required"`
}

type invokeRequest struct {
	SessionToken string `json:"session_token" form:"session_token" binding:"required"`
	Question     string `json:"question" form:"question" binding:"required"`
	BasePrompt   string `json:"base_prompt" form:"base_prompt"`
}

type ingestResponse struct {
	Status string `json:"status"`
	*models.IngestResult
}

// fail reports every error the same way: 400 with the message as detail.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
}

func ingested(c *gin.Context, res *models.IngestResult) {
	c.JSON(http.StatusOK, ingestResponse{Status: "ok", IngestResult: res})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) addDocument(c *gin.Context) {
	var req addDocumentRequest
	if err := c.ShouldBind(&req); err != nil {
		fail(c, err)
		return
	}

	res, err := h.svc.AddDocument(c.Request.Context(), req.SessionToken, req.Text, "text")
	if err != nil {
		fail(c, err)
		return
	}
	ingested(c, res)
}

func (h *Handler) addFile(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBind(&req); err != nil {
		fail(c, err)
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		fail(c, fmt.Errorf("file is required: %w", err))
		return
	}
	if !parser.Supported(header.Filename) {
		fail(c, fmt.Errorf("%w: %s", parser.ErrUnsupportedFormat, header.Filename))
		return
	}

	f, err := header.Open()
	if err != nil {
		fail(c, err)
		return
	}
	defer f.Close()

	tmp, err := helper.WriteTempFile(f, filepath.Ext(header.Filename))
	if err != nil {
		fail(c, err)
		return
	}
	defer os.Remove(tmp)

	res, err := h.svc.AddFile(c.Request.Context(), req.SessionToken, tmp, header.Filename)
	if err != nil {
		fail(c, err)
		return
	}
	ingested(c, res)
}

func (h *Handler) addURL(c *gin.Context) {
	var req addURLRequest
	if err := c.ShouldBind(&req); err != nil {
		fail(c, err)
		return
	}

	res, err := h.svc.AddURL(c.Request.Context(), req.SessionToken, req.FileURL)
	if err != nil {
		fail(c, err)
		return
	}
	ingested(c, res)
}

func (h *Handler) viewSplitText(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBind(&req); err != nil {
		fail(c, err)
		return
	}

	texts, err := h.svc.ViewSplitText(c.Request.Context(), req.SessionToken)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"split_texts": texts})
}

func (h *Handler) invokeLLM(c *gin.Context) {
	var req invokeRequest
	if err := c.ShouldBind(&req); err != nil {
		fail(c, err)
		return
	}

	answer, err := h.svc.InvokeLLM(c.Request.Context(), req.SessionToken, req.Question, req.BasePrompt)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": answer})
}

func (h *Handler) deleteSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBind(&req); err != nil {
		fail(c, err)
		return
	}

	if err := h.svc.DeleteSession(c.Request.Context(), req.SessionToken); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
