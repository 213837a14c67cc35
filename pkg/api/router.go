package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/pipeforge/controller/pkg/log"
	"github.com/pipeforge/controller/pkg/metrics"
	"github.com/pipeforge/controller/pkg/pipeline"
	"github.com/pipeforge/controller/pkg/types"
	"github.com/rs/zerolog"
)

// DatasetRefresher is the subset of the Dataset Catalog the submission
// API can trigger a refresh on.
type DatasetRefresher interface {
	Refresh() error
}

// PipelineAdder is the subset of the Pipeline Manager the submission
// handler drives.
type PipelineAdder interface {
	AddPipeline(id, name string, files []pipeline.ComponentFile, metadata types.Metadata) *types.Pipeline
}

// Server is the thin HTTP submission surface: liveness, dataset
// refresh, and pipeline submission.
type Server struct {
	router       chi.Router
	manager      PipelineAdder
	datasets     DatasetRefresher
	pipelinesDir string
	logger       zerolog.Logger
}

// New builds a Server wired to the Pipeline Manager and Dataset
// Catalog, writing uploaded files under pipelinesDir.
func New(manager PipelineAdder, datasets DatasetRefresher, pipelinesDir string) *Server {
	s := &Server{
		manager:      manager,
		datasets:     datasets,
		pipelinesDir: pipelinesDir,
		logger:       log.WithComponent("submission-api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequest)

	r.Get("/", s.handleLiveness)
	r.Get("/datasets/update/", s.handleDatasetsUpdate)
	r.Post("/submit/", s.handleSubmit)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/healthz", metrics.HealthHandler())
	r.Get("/readyz", metrics.ReadyHandler())
	r.Get("/livez", metrics.LivenessHandler())

	s.router = r
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).Msg("handled request")
	})
}

type statusResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	PipelineID string `json:"pipeline_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, body statusResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok", Message: "pipectl is alive"})
}

func (s *Server) handleDatasetsUpdate(w http.ResponseWriter, r *http.Request) {
	if err := s.datasets.Refresh(); err != nil {
		s.logger.Error().Err(err).Msg("dataset catalog refresh failed")
		writeJSON(w, http.StatusInternalServerError, statusResponse{Status: "error", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok", Message: "dataset catalog refreshed"})
}

// handleSubmit parses a multipart body carrying the component source
// files, the build script, and a JSON metadata blob, persists them
// under <pipelinesDir>/<id>/ (the metadata as metadata.json), and
// registers the pipeline.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	const maxUploadBytes = 64 << 20 // 64MB
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{Status: "error", Message: "invalid multipart body: " + err.Error()})
		return
	}

	var metadata types.Metadata
	if raw := r.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			writeJSON(w, http.StatusBadRequest, statusResponse{Status: "error", Message: "invalid metadata JSON: " + err.Error()})
			return
		}
	}

	id := uuid.NewString()
	dir := filepath.Join(s.pipelinesDir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		s.logger.Error().Err(err).Str("dir", dir).Msg("failed to create pipeline directory")
		writeJSON(w, http.StatusInternalServerError, statusResponse{Status: "error", Message: "could not create pipeline directory"})
		return
	}

	if raw := r.FormValue("metadata"); raw != "" {
		if err := os.WriteFile(filepath.Join(dir, "metadata.json"), []byte(raw), 0644); err != nil {
			s.logger.Error().Err(err).Msg("failed to persist metadata")
			writeJSON(w, http.StatusInternalServerError, statusResponse{Status: "error", Message: "could not persist metadata"})
			return
		}
	}

	if headers := r.MultipartForm.File["pipeline"]; len(headers) > 0 {
		if _, err := saveUploadAs(headers[0], filepath.Join(dir, "pipeline.py")); err != nil {
			s.logger.Error().Err(err).Msg("failed to persist build script")
			writeJSON(w, http.StatusInternalServerError, statusResponse{Status: "error", Message: "could not persist build script"})
			return
		}
	}

	files := make([]pipeline.ComponentFile, 0, len(r.MultipartForm.File["components[]"]))
	for _, fh := range r.MultipartForm.File["components[]"] {
		name := canonicalize(fh.Filename)
		if _, err := saveUploadAs(fh, filepath.Join(dir, fh.Filename)); err != nil {
			s.logger.Error().Err(err).Str("filename", fh.Filename).Msg("failed to persist component file")
			writeJSON(w, http.StatusInternalServerError, statusResponse{Status: "error", Message: "could not persist component file"})
			return
		}
		files = append(files, pipeline.ComponentFile{Filename: fh.Filename, Name: name})
	}

	name := r.FormValue("name")
	if name == "" {
		name = id
	}

	p := s.manager.AddPipeline(id, name, files, metadata)
	metrics.PipelinesTotal.WithLabelValues("submitted").Inc()
	writeJSON(w, http.StatusAccepted, statusResponse{
		Status:     "ok",
		Message:    fmt.Sprintf("pipeline %s queued with %d components", p.ID, len(p.Order)),
		PipelineID: p.ID,
	})
}

func saveUploadAs(fh *multipart.FileHeader, dest string) (int64, error) {
	src, err := fh.Open()
	if err != nil {
		return 0, err
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	return io.Copy(out, src)
}

// canonicalize turns a filename into a component name: the stem,
// lowercased, with underscores replaced by hyphens.
func canonicalize(filename string) string {
	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	stem = strings.ToLower(stem)
	return strings.ReplaceAll(stem, "_", "-")
}
