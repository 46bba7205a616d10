package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"coursesearch/internal/activities"
	"coursesearch/internal/config"
	"coursesearch/internal/models"
	"coursesearch/internal/regen"
	"coursesearch/internal/util"
	"coursesearch/internal/vector"
	"coursesearch/internal/workflows"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/workflowservice/v1"
	tclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
)

const snippetRunes = 320

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type ContentAggregator interface {
	AggregateFull(ctx context.Context, courseID string) (string, error)
}

type Regenerator interface {
	RegenerateCourse(ctx context.Context, courseID string) (regen.CourseResult, error)
	RegenerateAll(ctx context.Context) (regen.BatchResult, error)
	RegenerateCourses(ctx context.Context, ids []string) (regen.BatchResult, error)
	Prune(ctx context.Context, days int) (int, error)
}

// WorkflowClient is the part of the Temporal client the server drives.
// tclient.Client satisfies it.
type WorkflowClient interface {
	ExecuteWorkflow(ctx context.Context, options tclient.StartWorkflowOptions, workflow interface{}, args ...interface{}) (tclient.WorkflowRun, error)
	QueryWorkflow(ctx context.Context, workflowID string, runID string, queryType string, args ...interface{}) (converter.EncodedValue, error)
	DescribeWorkflowExecution(ctx context.Context, workflowID, runID string) (*workflowservice.DescribeWorkflowExecutionResponse, error)
}

type Deps struct {
	Config      config.Config
	Logger      *slog.Logger
	Aggregator  ContentAggregator
	Embedder    Embedder
	Store       vector.Store
	Regenerator Regenerator
	// Temporal is optional. Without it regeneration runs inside the request.
	Temporal WorkflowClient
}

type Server struct {
	cfg      config.Config
	logger   *slog.Logger
	agg      ContentAggregator
	embedder Embedder
	store    vector.Store
	regen    Regenerator
	temporal WorkflowClient
}

type searchHit struct {
	ID           int64              `json:"id"`
	Content      string             `json:"content"`
	Snippet      string             `json:"snippet"`
	Source       string             `json:"source"`
	ChunkIndex   int                `json:"chunk_index"`
	SectionTitle string             `json:"section_title,omitempty"`
	SectionType  models.SectionType `json:"section_type,omitempty"`
	Similarity   float64            `json:"similarity"`
}

func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      d.Config,
		logger:   logger.With("component", "api"),
		agg:      d.Aggregator,
		embedder: d.Embedder,
		store:    d.Store,
		regen:    d.Regenerator,
		temporal: d.Temporal,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/courses/", s.handleCourseScoped)
	mux.HandleFunc("/regenerate", s.handleRegenerateAll)
	mux.HandleFunc("/regenerate/", s.handleBatchProgress)
	mux.HandleFunc("/maintenance/prune", s.handlePrune)
	return withCORS(mux)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "workflows": s.temporal != nil})
}

func (s *Server) handleCourseScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/courses/"), "/"), "/")
	if len(parts) < 2 || parts[0] == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	courseID := parts[0]

	switch {
	case len(parts) == 2 && parts[1] == "search":
		if !allow(w, r, http.MethodPost) {
			return
		}
		s.handleSearch(w, r, courseID)
	case len(parts) == 2 && parts[1] == "stats":
		if !allow(w, r, http.MethodGet) {
			return
		}
		stats, err := s.store.Stats(r.Context(), courseID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"course_id": courseID, "stats": stats})
	case len(parts) == 2 && parts[1] == "content":
		if !allow(w, r, http.MethodGet) {
			return
		}
		text, err := s.agg.AggregateFull(r.Context(), courseID)
		if err != nil {
			s.fail(w, err)
			return
		}
		if strings.Contains(r.Header.Get("Accept"), "text/markdown") {
			w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(text))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"course_id": courseID,
			"preview":   util.Snippet(text, snippetRunes),
			"content":   text,
		})
	case len(parts) == 2 && parts[1] == "embeddings":
		if !allow(w, r, http.MethodDelete) {
			return
		}
		n, err := s.store.DeleteByCourse(r.Context(), courseID)
		if err != nil {
			s.fail(w, err)
			return
		}
		s.logger.Info("course embeddings deleted", "course", courseID, "deleted", n)
		writeJSON(w, http.StatusOK, map[string]any{"course_id": courseID, "deleted": n})
	case len(parts) == 2 && parts[1] == "regenerate":
		switch r.Method {
		case http.MethodPost:
			s.handleRegenerateCourse(w, r, courseID)
		case http.MethodGet:
			s.handleCourseState(w, r, courseID)
		default:
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		}
	default:
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, courseID string) {
	var req struct {
		Query     string   `json:"query"`
		TopK      int      `json:"top_k"`
		Threshold *float64 `json:"threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("query is required"))
		return
	}
	opts := vector.SearchOptions{TopK: s.cfg.SearchTopK, Threshold: s.cfg.SearchThreshold}
	if req.TopK > 0 {
		opts.TopK = req.TopK
	}
	maxTopK := s.cfg.SearchMaxTopK
	if maxTopK <= 0 {
		maxTopK = vector.DefaultMaxTopK
	}
	opts.TopK = min(opts.TopK, maxTopK)
	if req.Threshold != nil {
		opts.Threshold = *req.Threshold
	}

	qv, err := s.embedder.Embed(r.Context(), req.Query)
	if err != nil {
		s.fail(w, err)
		return
	}
	results, err := s.store.Search(r.Context(), courseID, qv, opts)
	if err != nil {
		s.fail(w, err)
		return
	}
	hits := make([]searchHit, 0, len(results))
	for _, res := range results {
		hits = append(hits, searchHit{
			ID:           res.ID,
			Content:      res.Content,
			Snippet:      util.QuerySnippet(res.Content, req.Query, snippetRunes),
			Source:       res.Source,
			ChunkIndex:   res.ChunkIndex,
			SectionTitle: res.Metadata.SectionTitle,
			SectionType:  res.Metadata.SectionType,
			Similarity:   res.Similarity,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"course_id": courseID,
		"query":     req.Query,
		"top_k":     opts.TopK,
		"threshold": opts.Threshold,
		"results":   hits,
	})
}

func courseWorkflowID(courseID string) string {
	return "course-regenerate-" + courseID
}

func (s *Server) handleRegenerateCourse(w http.ResponseWriter, r *http.Request, courseID string) {
	if s.temporal == nil {
		res, err := s.regen.RegenerateCourse(r.Context(), courseID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}
	we, err := s.temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
		ID:                                       courseWorkflowID(courseID),
		TaskQueue:                                s.cfg.TemporalTaskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, workflows.CourseRegenerateWorkflow, workflows.CourseRegenerateInput{
		CourseID:       courseID,
		TimeoutMinutes: s.cfg.RegenerateTimeoutMins,
	})
	if err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"workflow_id": we.GetID(), "run_id": we.GetRunID()})
}

func (s *Server) handleCourseState(w http.ResponseWriter, r *http.Request, courseID string) {
	if s.temporal == nil {
		writeErr(w, http.StatusServiceUnavailable, fmt.Errorf("workflows disabled"))
		return
	}
	resp, err := s.temporal.QueryWorkflow(r.Context(), courseWorkflowID(courseID), "", workflows.QueryGetCourseState)
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	var state regen.State
	if err := resp.Get(&state); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	out := map[string]any{"course_id": courseID, "state": state}
	if state != regen.StateDone && state != regen.StateFailed {
		if p, ok := s.heartbeatProgress(r.Context(), courseWorkflowID(courseID)); ok {
			out["state"] = p.State
			out["progress"] = p
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// heartbeatProgress returns the last progress recorded by the running
// regenerate activity of the workflow. The workflow itself only knows whether
// the activity is still running.
func (s *Server) heartbeatProgress(ctx context.Context, workflowID string) (activities.Progress, bool) {
	desc, err := s.temporal.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		s.logger.Debug("describe workflow failed", "workflow_id", workflowID, "error", err)
		return activities.Progress{}, false
	}
	for _, pa := range desc.GetPendingActivities() {
		if pa.GetActivityType().GetName() != activities.RegenerateCourseActivityName || pa.GetHeartbeatDetails() == nil {
			continue
		}
		var p activities.Progress
		if err := converter.GetDefaultDataConverter().FromPayloads(pa.GetHeartbeatDetails(), &p); err != nil {
			s.logger.Warn("decode activity heartbeat failed", "workflow_id", workflowID, "error", err)
			return activities.Progress{}, false
		}
		return p, true
	}
	return activities.Progress{}, false
}

func (s *Server) handleRegenerateAll(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req struct {
		CourseIDs []string `json:"course_ids"`
		PruneDays int      `json:"prune_days"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
			return
		}
	}
	if req.PruneDays < 0 {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("prune_days must not be negative"))
		return
	}

	if s.temporal == nil {
		var (
			batch regen.BatchResult
			err   error
		)
		if len(req.CourseIDs) > 0 {
			batch, err = s.regen.RegenerateCourses(r.Context(), req.CourseIDs)
		} else {
			batch, err = s.regen.RegenerateAll(r.Context())
		}
		if err != nil {
			s.fail(w, err)
			return
		}
		out := map[string]any{"batch": batch}
		if req.PruneDays > 0 {
			n, err := s.regen.Prune(r.Context(), req.PruneDays)
			if err != nil {
				s.fail(w, err)
				return
			}
			out["pruned"] = n
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	we, err := s.temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
		ID:        "regenerate-all-" + uuid.NewString(),
		TaskQueue: s.cfg.TemporalTaskQueue,
	}, workflows.AllCoursesRegenerateWorkflow, workflows.AllCoursesRegenerateInput{
		CourseIDs:      req.CourseIDs,
		PruneDays:      req.PruneDays,
		TimeoutMinutes: s.cfg.RegenerateTimeoutMins,
		WriteSummary:   true,
	})
	if err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"workflow_id": we.GetID(), "run_id": we.GetRunID()})
}

func (s *Server) handleBatchProgress(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/regenerate/"), "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "progress" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	if !allow(w, r, http.MethodGet) {
		return
	}
	if s.temporal == nil {
		writeErr(w, http.StatusServiceUnavailable, fmt.Errorf("workflows disabled"))
		return
	}
	resp, err := s.temporal.QueryWorkflow(r.Context(), parts[0], "", workflows.QueryGetProgress)
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	var prog workflows.BatchProgress
	if err := resp.Get(&prog); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, prog)
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Days int `json:"days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	if req.Days <= 0 {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("days must be positive"))
		return
	}
	if s.temporal == nil {
		n, err := s.regen.Prune(r.Context(), req.Days)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"days": req.Days, "removed": n})
		return
	}
	we, err := s.temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
		ID:        "prune-embeddings-" + uuid.NewString(),
		TaskQueue: s.cfg.TemporalTaskQueue,
	}, workflows.PruneEmbeddingsWorkflow, workflows.PruneEmbeddingsInput{Days: req.Days})
	if err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"workflow_id": we.GetID(), "run_id": we.GetRunID()})
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	return false
}

// fail logs server-side failures and writes the status matching err's sentinel.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.Error("request failed", "status", status, "err", err)
	}
	writeErr(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, util.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, util.ErrValidation), errors.Is(err, util.ErrDimensionMismatch):
		return http.StatusBadRequest
	case errors.Is(err, util.ErrThrottled):
		return http.StatusTooManyRequests
	case errors.Is(err, util.ErrProvider):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "CS-API-4000"
	raw := ""
	if err != nil {
		raw = strings.ToLower(err.Error())
	}

	switch {
	case status == http.StatusTooManyRequests:
		return apiError{
			Code:    "CS-EMB-4290",
			Message: "Embedding provider rate limit or quota reached. Retry later.",
		}
	case status == http.StatusBadGateway:
		return apiError{
			Code:    "CS-EMB-5020",
			Message: "Embedding provider unavailable. Retry shortly.",
		}
	case status == http.StatusServiceUnavailable:
		return apiError{
			Code:    "CS-API-5030",
			Message: "Workflow engine is not configured for this server.",
		}
	case status >= 500:
		switch {
		case strings.Contains(raw, "relation") && strings.Contains(raw, "does not exist"):
			return apiError{
				Code:    "CS-DB-5001",
				Message: "Database schema is not initialized. Run migrations and retry.",
			}
		case strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"):
			return apiError{
				Code:    "CS-DB-5002",
				Message: "Database connection is unavailable. Check local services and retry.",
			}
		case errors.Is(err, util.ErrPersistence):
			return apiError{
				Code:    "CS-VEC-5003",
				Message: "Vector store write failed. Existing embeddings were kept.",
			}
		default:
			return apiError{
				Code:    "CS-API-5000",
				Message: "Internal server error. Please retry or check service logs.",
			}
		}
	case status == http.StatusBadRequest:
		code = "CS-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusNotFound:
		code = "CS-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusMethodNotAllowed:
		code = "CS-API-4005"
		msg = "This endpoint does not support the requested method."
	case status == http.StatusRequestTimeout:
		code = "CS-API-4008"
		msg = "Request was cancelled before it completed."
	case status == http.StatusConflict:
		code = "CS-API-4009"
		msg = "Operation conflicts with current state. Retry after checking status."
	}

	// For 4xx, keep user-safe validation context only.
	if status >= 400 && status < 500 && err != nil {
		switch {
		case strings.Contains(raw, "query is required"):
			msg = "Search query is required."
		case strings.Contains(raw, "days must be positive"):
			msg = "Prune days must be a positive number."
		case strings.Contains(raw, "prune_days must not be negative"):
			msg = "Prune days must not be negative."
		case strings.Contains(raw, "invalid json"):
			msg = "Malformed JSON request body."
		case errors.Is(err, util.ErrDimensionMismatch):
			msg = "Query embedding does not match the stored vector dimension."
		}
	}

	return apiError{Code: code, Message: msg}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
