package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/renameio/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"photoassets/internal/derivative"
	"photoassets/internal/exif"
	"photoassets/internal/models"
	"photoassets/internal/storage"
)

const shutdownTimeout = 10 * time.Second

// maxUploadSize bounds multipart uploads held in memory.
const maxUploadSize = 64 << 20

// Enqueuer hands upload events to the asynchronous consumer.
type Enqueuer interface {
	Enqueue(ctx context.Context, ev models.UploadEvent) error
}

// Deps are the collaborators behind the HTTP surface. Store and Queue are
// optional: without a store photo records are unavailable, without a queue
// uploads are processed inline.
type Deps struct {
	Generator *derivative.Generator
	Extractor *exif.Extractor
	Processor Processor
	Store     PhotoStore
	Queue     Enqueuer
}

type Server struct {
	cfg    *models.Config
	router *gin.Engine
	deps   Deps
	log    zerolog.Logger
}

func NewServer(cfg *models.Config, deps Deps, log zerolog.Logger) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:    cfg,
		router: r,
		deps:   deps,
		log:    log.With().Str("component", "http").Logger(),
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.Static(cfg.PublicPrefix, deps.Generator.Root())

	r.POST("/photos", s.handleUpload)
	r.GET("/photos/:filename", s.handleGetPhoto)
	r.DELETE("/photos/:filename", s.handleDeletePhoto)
	r.POST("/photos/:filename/process", s.handleProcess)
	r.GET("/photos/:filename/url", s.handleResolveURL)
	r.GET("/photos/:filename/exif", s.handleExif)

	r.POST("/derivatives", s.handleGenerateAll)
	r.DELETE("/derivatives/orphans", s.handleCleanup)
	r.GET("/derivatives/report", s.handleReport)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.ServerAddr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.ServerAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.log.Info().Msg("shutting down HTTP server")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleUpload(c *gin.Context) {
	const op = "server.handleUpload"

	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if file.Size > maxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
		return
	}
	filename := filepath.Base(file.Filename)
	if !derivative.IsImageFilename(filename) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported file type %q", filepath.Ext(filename))})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	defer src.Close()

	mt, err := mimetype.DetectReader(src)
	if err != nil || !mt.Is("image/jpeg") && !mt.Is("image/png") && !mt.Is("image/gif") && !mt.Is("image/bmp") && !mt.Is("image/webp") {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "upload is not a supported image"})
		return
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	if err := saveSource(s.deps.Generator.Root(), filename, src); err != nil {
		s.log.Error().Err(err).Str("filename", filename).Msg("failed to store upload")
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	// Re-uploads replace the source, so existing derivatives are stale.
	ev := models.UploadEvent{Filename: filename, Force: true}
	if s.deps.Queue != nil {
		if err := s.deps.Queue.Enqueue(c.Request.Context(), ev); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"filename": filename, "status": "queued"})
		return
	}

	photo, err := s.deps.Processor.Process(c.Request.Context(), filename, ev.Force)
	if err != nil {
		s.respondProcessError(c, photo, err)
		return
	}
	c.JSON(http.StatusCreated, photo)
}

// saveSource writes an upload into the asset root through a pending file so
// the generator never reads a half-written source.
func saveSource(root, filename string, r io.Reader) error {
	pf, err := renameio.NewPendingFile(filepath.Join(root, filename),
		renameio.WithTempDir(root),
		renameio.WithStaticPermissions(0644),
	)
	if err != nil {
		return err
	}
	defer pf.Cleanup()

	if _, err := io.Copy(pf, r); err != nil {
		return err
	}
	return pf.CloseAtomicallyReplace()
}

func (s *Server) handleProcess(c *gin.Context) {
	filename := c.Param("filename")
	photo, err := s.deps.Processor.Process(c.Request.Context(), filename, queryBool(c, "force"))
	if err != nil {
		s.respondProcessError(c, photo, err)
		return
	}
	c.JSON(http.StatusOK, photo)
}

func (s *Server) respondProcessError(c *gin.Context, photo *models.Photo, err error) {
	body := gin.H{"error": err.Error(), "kind": derivative.KindOf(err)}
	if photo != nil {
		body["photo"] = photo
	}
	c.JSON(errorStatus(err), body)
}

// errorStatus maps generator errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, derivative.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, derivative.ErrDecode):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleGetPhoto(c *gin.Context) {
	const op = "server.handleGetPhoto"

	if s.deps.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "photo store not configured"})
		return
	}
	photo, err := s.deps.Store.GetPhoto(c.Request.Context(), c.Param("filename"))
	if err != nil {
		if errors.Is(err, storage.ErrPhotoNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	c.JSON(http.StatusOK, photo)
}

func (s *Server) handleDeletePhoto(c *gin.Context) {
	filename := c.Param("filename")
	removed, err := s.deps.Generator.RemoveSource(filename)
	if err != nil {
		s.respondProcessError(c, nil, err)
		return
	}
	if s.deps.Store != nil {
		if err := s.deps.Store.DeletePhoto(c.Request.Context(), filename); err != nil && !errors.Is(err, storage.ErrPhotoNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "removed": removed})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"filename": filename, "removed": removed})
}

func (s *Server) handleResolveURL(c *gin.Context) {
	filename := c.Param("filename")
	size := c.DefaultQuery("size", derivative.DefaultSize)
	c.JSON(http.StatusOK, gin.H{
		"filename": filename,
		"size":     size,
		"url":      s.deps.Generator.ResolveURL(filename, size),
	})
}

func (s *Server) handleExif(c *gin.Context) {
	filename := c.Param("filename")
	if filepath.Base(filename) != filename || !derivative.IsImageFilename(filename) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filename"})
		return
	}
	path := filepath.Join(s.deps.Generator.Root(), filename)
	if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
		c.JSON(http.StatusNotFound, gin.H{"error": "source image not found"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Extractor.ExtractWithFallback(path))
}

func (s *Server) handleGenerateAll(c *gin.Context) {
	report, err := s.deps.Generator.GenerateAll(queryBool(c, "force"))
	if err != nil {
		body := gin.H{"error": err.Error(), "kind": derivative.KindOf(err)}
		if report != nil {
			body["report"] = report
		}
		c.JSON(http.StatusInternalServerError, body)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleCleanup(c *gin.Context) {
	removed, err := s.deps.Generator.CleanupOrphans()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "removed": removed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (s *Server) handleReport(c *gin.Context) {
	report, err := s.deps.Generator.ReadReport()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no report yet"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func queryBool(c *gin.Context, key string) bool {
	v, err := strconv.ParseBool(c.DefaultQuery(key, "false"))
	return err == nil && v
}
