package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"docchat/internal/crawler"
	"docchat/internal/domain"
	"docchat/internal/extract"
	"docchat/internal/index"
	"docchat/internal/service"
	"docchat/internal/session"
)

// Handler handles the docchat API
type Handler struct {
	handle     *index.Handle
	pipeline   *service.Pipeline
	ask        *service.AskService
	sessions   *session.Store
	crawler    *crawler.Crawler
	uploadsDir string
	log        *zap.Logger
}

// NewHandler creates the API handler.
func NewHandler(
	handle *index.Handle,
	pipeline *service.Pipeline,
	ask *service.AskService,
	sessions *session.Store,
	crawl *crawler.Crawler,
	uploadsDir string,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		handle:     handle,
		pipeline:   pipeline,
		ask:        ask,
		sessions:   sessions,
		crawler:    crawl,
		uploadsDir: uploadsDir,
		log:        logger,
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/status", h.Status)
	r.POST("/upload", h.Upload)
	r.POST("/ask", h.Ask)

	r.GET("/sessions", h.ListSessions)
	r.GET("/session/:id", h.GetSession)
	r.DELETE("/session/:id", h.DeleteSession)

	r.DELETE("/document/:filename", h.DeleteDocument)
	r.GET("/diagnosis/:filename", h.DiagnoseDocument)
	r.POST("/reindex/:filename", h.ReindexDocument)

	r.POST("/rebuild", h.Rebuild)
	r.POST("/index-site", h.IndexSite)
}

// Status reports index stats plus ingestion progress.
func (h *Handler) Status(c *gin.Context) {
	stats := h.handle.Load().Stats()
	state := h.pipeline.State()
	c.JSON(http.StatusOK, gin.H{
		"index":     stats,
		"ingestion": state,
	})
}

// Upload accepts multipart files, saves them to the uploads directory and
// starts a background ingestion run.
func (h *Handler) Upload(c *gin.Context) {
	if h.pipeline.Busy() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ingestion already in progress"})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no files provided"})
		return
	}

	var docs []domain.RawDocument
	for _, file := range files {
		filename := filepath.Base(file.Filename)
		if !extract.IsSupported(filename) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("%v: %s", domain.ErrUnsupportedFile, filename),
			})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		raw, err := io.ReadAll(src)
		src.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := os.WriteFile(filepath.Join(h.uploadsDir, filename), raw, 0644); err != nil {
			h.log.Error("upload save failed", zap.String("filename", filename), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save file"})
			return
		}
		docs = append(docs, domain.RawDocument{Filename: filename, Raw: raw})
	}

	go h.runIngest(docs)

	names := make([]string, len(docs))
	for i, d := range docs {
		names[i] = d.Filename
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "ingestion started", "files": names})
}

func (h *Handler) runIngest(docs []domain.RawDocument) {
	results, err := h.pipeline.Ingest(context.Background(), docs)
	if err != nil {
		h.log.Error("background ingestion failed", zap.Error(err))
		return
	}
	for _, r := range results {
		h.log.Info("document processed",
			zap.String("filename", r.Filename),
			zap.String("outcome", r.Outcome),
			zap.Int("chunks", r.Chunks),
		)
	}
}

// Ask answers a question against the indexed corpus.
func (h *Handler) Ask(c *gin.Context) {
	var req domain.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.ask.Ask(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrIndexEmpty) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no documents indexed yet, upload some first"})
			return
		}
		h.log.Error("ask failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListSessions lists conversations, most recently active first.
func (h *Handler) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.sessions.List()})
}

// GetSession returns a conversation with its history.
func (h *Handler) GetSession(c *gin.Context) {
	detail, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, detail)
}

// DeleteSession removes a conversation.
func (h *Handler) DeleteSession(c *gin.Context) {
	if err := h.sessions.Delete(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "session deleted"})
}

// DeleteDocument tombstones a document's chunks and removes its upload.
func (h *Handler) DeleteDocument(c *gin.Context) {
	filename := filepath.Base(c.Param("filename"))

	store := h.handle.Load()
	if !store.RemoveDocument(filename) {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}
	if err := store.Persist(); err != nil {
		h.log.Error("persist failed, in-memory state remains authoritative", zap.Error(err))
	}

	if err := os.Remove(filepath.Join(h.uploadsDir, filename)); err != nil && !os.IsNotExist(err) {
		h.log.Warn("upload removal failed", zap.String("filename", filename), zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"message": "document deleted", "filename": filename})
}

// DiagnoseDocument reports registry/chunk alignment for one document.
func (h *Handler) DiagnoseDocument(c *gin.Context) {
	diag, err := h.handle.Load().Diagnose(filepath.Base(c.Param("filename")))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}
	c.JSON(http.StatusOK, diag)
}

// ReindexDocument drops a document's current chunks and ingests its uploaded
// file again from scratch.
func (h *Handler) ReindexDocument(c *gin.Context) {
	filename := filepath.Base(c.Param("filename"))

	raw, err := os.ReadFile(filepath.Join(h.uploadsDir, filename))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "uploaded file not found"})
		return
	}

	results, err := h.pipeline.Reingest(c.Request.Context(), domain.RawDocument{
		Filename: filename, Raw: raw,
	})
	if err != nil {
		if errors.Is(err, domain.ErrIngestBusy) {
			c.JSON(http.StatusConflict, gin.H{"error": "ingestion already in progress"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, results[0])
}

// Rebuild re-embeds every live chunk into a fresh index.
func (h *Handler) Rebuild(c *gin.Context) {
	if err := h.pipeline.Rebuild(c.Request.Context()); err != nil {
		if errors.Is(err, domain.ErrIngestBusy) {
			c.JSON(http.StatusConflict, gin.H{"error": "ingestion already in progress"})
			return
		}
		h.log.Error("rebuild failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "index rebuilt", "index": h.handle.Load().Stats()})
}

type indexSiteRequest struct {
	URL string `json:"url" binding:"required"`
}

// IndexSite crawls a site and ingests each page as a synthetic document.
func (h *Handler) IndexSite(c *gin.Context) {
	if h.pipeline.Busy() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ingestion already in progress"})
		return
	}

	var req indexSiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	go func() {
		pages, err := h.crawler.Crawl(context.Background(), req.URL)
		if err != nil {
			h.log.Error("site crawl failed", zap.String("url", req.URL), zap.Error(err))
			return
		}
		docs := make([]domain.RawDocument, len(pages))
		for i, page := range pages {
			body := fmt.Sprintf("Title: %s\nURL: %s\n\n%s", page.Title, page.URL, page.Text)
			docs[i] = domain.RawDocument{Filename: page.Filename, Raw: []byte(body)}
		}
		h.runIngest(docs)
	}()

	c.JSON(http.StatusAccepted, gin.H{"message": "site indexing started", "url": req.URL})
}
