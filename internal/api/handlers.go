package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/nfgate/internal/engine"
	"github.com/mattjoyce/nfgate/internal/jobstore"
	"github.com/mattjoyce/nfgate/internal/orchestrator"
	"github.com/mattjoyce/nfgate/internal/workflowspace"
)

const (
	uploadField         = "nextflow_script"
	defaultScriptName   = "main.nf"
	mediaTypeJSON       = "application/json"
	mediaTypeWorkflow   = "text/vnd.ocrd.workflow"
	healthProbeTimeout  = 3 * time.Second
	engineUnavailable   = "unavailable"
	workflowDescription = "Workflow"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
	defer cancel()

	version, err := s.orch.EngineVersion(ctx)
	if err != nil {
		s.logger.Warn("engine probe failed", "error", err)
		version = engineUnavailable
	}

	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		EngineVersion: version,
	})
}

// handleListWorkflows handles GET /workflow.
func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	spaces, err := s.orch.ListWorkflows(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	out := make([]WorkflowResource, 0, len(spaces))
	for _, sp := range spaces {
		out = append(out, s.workflowResource(sp))
	}
	respondJSON(w, http.StatusOK, out)
}

// handleCreateWorkflow handles POST /workflow with an optional ?id=.
func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	s.receiveUpload(w, r, r.URL.Query().Get("id"), s.orch.CreateWorkflow, http.StatusCreated)
}

// handleUpdateWorkflow handles PUT /workflow/{workflowID}.
func (s *Server) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	s.receiveUpload(w, r, chi.URLParam(r, "workflowID"), s.orch.UpdateWorkflow, http.StatusOK)
}

type storeFunc func(ctx context.Context, name string, r io.Reader, id string) (workflowspace.Space, error)

// receiveUpload streams the nextflow_script part of a multipart body into store.
func (s *Server) receiveUpload(w http.ResponseWriter, r *http.Request, id string, store storeFunc, okStatus int) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)

	mr, err := r.MultipartReader()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "expected multipart/form-data body")
		return
	}

	for {
		part, err := mr.NextPart()
		if err != nil {
			s.writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("missing %q file field", uploadField))
			return
		}
		if part.FormName() != uploadField {
			_ = part.Close()
			continue
		}

		sp, err := store(r.Context(), scriptName(part), part, id)
		_ = part.Close()
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				s.writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
				return
			}
			s.writeDomainError(w, err)
			return
		}
		respondJSON(w, okStatus, s.workflowResource(sp))
		return
	}
}

// scriptName derives a safe definition file name from the uploaded file name.
func scriptName(part *multipart.Part) string {
	name := path.Base(strings.ReplaceAll(part.FileName(), `\`, "/"))
	if name == "." || name == "/" || name == "" || strings.HasPrefix(name, ".") {
		return defaultScriptName
	}
	return name
}

// handleGetWorkflow handles GET /workflow/{workflowID}. The Accept header
// selects the descriptor or the definition file.
func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")

	mediaType, ok := negotiate(r.Header.Get("Accept"))
	if !ok {
		s.writeError(w, http.StatusUnsupportedMediaType,
			"unsupported media, expected "+mediaTypeJSON+" or "+mediaTypeWorkflow)
		return
	}

	sp, err := s.orch.GetWorkflow(r.Context(), workflowID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	if mediaType == mediaTypeJSON {
		respondJSON(w, http.StatusOK, s.workflowResource(sp))
		return
	}

	f, err := os.Open(sp.DefinitionPath)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", mediaTypeWorkflow)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": sp.DefinitionName}))
	http.ServeContent(w, r, sp.DefinitionName, info.ModTime(), f)
}

// negotiate picks the first supported media type in an Accept header.
func negotiate(accept string) (string, bool) {
	for _, item := range strings.Split(accept, ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(item))
		if err != nil {
			continue
		}
		switch mt {
		case mediaTypeJSON, mediaTypeWorkflow:
			return mt, true
		}
	}
	return "", false
}

// handleStartJob handles POST /workflow/{workflowID}.
func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")

	var req StartJobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.WorkspaceID) == "" {
		s.writeError(w, http.StatusUnprocessableEntity, "workspace_id is required")
		return
	}

	rec, err := s.orch.StartJob(r.Context(), workflowID, req.WorkspaceID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, s.jobResource(rec))
}

// handleListJobs handles GET /workflow/{workflowID}/jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	recs, err := s.orch.ListJobs(r.Context(), chi.URLParam(r, "workflowID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	out := make([]JobResource, 0, len(recs))
	for _, rec := range recs {
		out = append(out, s.jobResource(rec))
	}
	respondJSON(w, http.StatusOK, out)
}

// handleGetJob handles GET /workflow/{workflowID}/{jobID}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	rec, err := s.orch.GetJobStatus(r.Context(), chi.URLParam(r, "workflowID"), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.jobResource(rec))
}

func (s *Server) workflowURL(id string) string {
	return s.config.BaseURL + "/workflow/" + id
}

func (s *Server) workflowResource(sp workflowspace.Space) WorkflowResource {
	return WorkflowResource{
		ID:          s.workflowURL(sp.ID),
		Description: workflowDescription,
		WorkflowID:  sp.ID,
		Definition:  sp.DefinitionName,
		Digest:      sp.Digest,
	}
}

func (s *Server) jobResource(rec *jobstore.Record) JobResource {
	return JobResource{
		ID:          s.workflowURL(rec.WorkflowID) + "/" + rec.ID,
		JobID:       rec.ID,
		Description: rec.Description,
		State:       string(rec.State),
		Workflow:    Resource{ID: s.workflowURL(rec.WorkflowID), Description: workflowDescription},
		Workspace:   Resource{ID: s.config.BaseURL + "/workspace/" + rec.WorkspaceID, Description: "Workspace"},
		CreatedAt:   rec.CreatedAt,
		StoppedAt:   rec.StoppedAt,
	}
}

// writeDomainError maps service errors onto HTTP status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workflowspace.ErrAlreadyExists):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, workflowspace.ErrInvalidID):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrNotFound), errors.Is(err, workflowspace.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrEngineUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, "workflow engine unavailable")
	case errors.Is(err, engine.ErrLaunch):
		s.logger.Error("engine launch failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to launch workflow engine")
	default:
		s.logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
