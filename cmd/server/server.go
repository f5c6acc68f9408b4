// The HTTP boundary collaborator: decodes the five request shapes
// spec.md §6 names, drives them through internal/engine, and encodes
// the result. Routing follows the teacher's main.go gorilla/mux usage;
// the single placeholder executeCodeHandler is replaced by one handler
// per request shape plus /healthz and /metrics.
package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/IMMZEK/codeexec/internal/authn"
	"github.com/IMMZEK/codeexec/internal/dedup"
	"github.com/IMMZEK/codeexec/internal/engine"
	"github.com/IMMZEK/codeexec/internal/harness"
	"github.com/IMMZEK/codeexec/internal/limits"
	"github.com/IMMZEK/codeexec/internal/pipeline"
	"github.com/IMMZEK/codeexec/internal/ratelimit"
	"github.com/IMMZEK/codeexec/internal/resolver"
	"github.com/IMMZEK/codeexec/internal/sanitize"
)

// Server holds the engine and collaborator middlewares the router
// dispatches through.
type Server struct {
	engine    *engine.Engine
	sanitizer *sanitize.Sanitizer
	cache     *dedup.Cache
	logger    *zap.SugaredLogger
}

// NewServer builds a Server around an already-constructed Engine. cache
// may be nil, in which case every lookup misses and every store is a
// no-op (spec.md §5's dedup collaborator is optional).
func NewServer(e *engine.Engine, sanitizer *sanitize.Sanitizer, cache *dedup.Cache, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cache == nil {
		cache = dedup.New(nil, 0)
	}
	return &Server{engine: e, sanitizer: sanitizer, cache: cache, logger: logger}
}

// Router builds the mux.Router exposing every request shape, wrapped
// in rate-limiting (when limiter is non-nil) and authentication (when
// verifier is non-nil) middleware.
func (s *Server) Router(limiter *ratelimit.Limiter, verifier *authn.Verifier) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/execute", s.handleExecute).Methods(http.MethodPost)
	api.HandleFunc("/execute_with_inline_cases", s.handleExecuteWithInlineCases).Methods(http.MethodPost)
	api.HandleFunc("/execute_with_file_cases", s.handleExecuteWithFileCases).Methods(http.MethodPost)
	api.HandleFunc("/execute_with_url_cases", s.handleExecuteWithURLCases).Methods(http.MethodPost)
	api.HandleFunc("/list_languages", s.handleListLanguages).Methods(http.MethodGet)

	if verifier != nil {
		api.Use(verifier.Middleware)
	}
	if limiter != nil {
		keyFunc := func(req *http.Request) string { return req.RemoteAddr }
		if verifier != nil {
			keyFunc = func(req *http.Request) string { return authn.SubjectFromContext(req.Context()) }
		}
		api.Use(func(next http.Handler) http.Handler { return limiter.Middleware(keyFunc, next) })
	}

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// limitsRequest is the wire shape of a per-request or per-case limits
// override; nil pointers mean "inherit the host default".
type limitsRequest struct {
	CPUMs        *int64 `json:"cpu_ms,omitempty"`
	WallMs       *int64 `json:"wall_ms,omitempty"`
	MemoryBytes  *int64 `json:"memory_bytes,omitempty"`
	StackBytes   *int64 `json:"stack_bytes,omitempty"`
	MaxProcesses *int64 `json:"max_processes,omitempty"`
	MaxOpenFiles *int64 `json:"max_open_files,omitempty"`
}

func (lr *limitsRequest) toOverride() *limits.Override {
	if lr == nil {
		return nil
	}
	o := &limits.Override{}
	if lr.CPUMs != nil {
		d := time.Duration(*lr.CPUMs) * time.Millisecond
		o.CPUTime = &d
	}
	if lr.WallMs != nil {
		d := time.Duration(*lr.WallMs) * time.Millisecond
		o.WallTime = &d
	}
	o.MemoryBytes = lr.MemoryBytes
	o.StackBytes = lr.StackBytes
	o.MaxProcesses = lr.MaxProcesses
	o.MaxOpenFiles = lr.MaxOpenFiles
	return o
}

type executeRequest struct {
	Language string         `json:"language"`
	Code     string         `json:"code"`
	Stdin    string         `json:"stdin,omitempty"`
	Limits   *limitsRequest `json:"limits,omitempty"`
}

type runOutcomeResponse struct {
	Kind          string `json:"kind"`
	Stdout        string `json:"stdout,omitempty"`
	Stderr        string `json:"stderr,omitempty"`
	ExitCode      int    `json:"exit_code,omitempty"`
	WallElapsedMs int64  `json:"wall_elapsed_ms,omitempty"`
	CompileStdout string `json:"compile_stdout,omitempty"`
	CompileStderr string `json:"compile_stderr,omitempty"`
	LimitKind     string `json:"limit_kind,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

func toRunOutcomeResponse(result pipeline.Result) runOutcomeResponse {
	return runOutcomeResponse{
		Kind:          string(result.Kind),
		Stdout:        result.Stdout,
		Stderr:        result.Stderr,
		ExitCode:      result.ExitCode,
		WallElapsedMs: result.WallElapsed.Milliseconds(),
		CompileStdout: result.CompileStdout,
		CompileStderr: result.CompileStderr,
		LimitKind:     string(result.LimitKind),
		Reason:        result.Reason,
	}
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if s.sanitizer != nil {
		if err := s.sanitizer.Check([]byte(req.Code), req.Language); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	lim := limits.Merge(s.engine.DefaultsFor(req.Language), req.Limits.toOverride())

	key, keyErr := dedup.Key(req.Language, []byte(req.Code), []byte(req.Stdin), lim)
	if keyErr == nil {
		if cached, found, err := s.cache.Lookup(r.Context(), key); err == nil && found {
			var resp runOutcomeResponse
			if json.Unmarshal(cached, &resp) == nil {
				writeJSON(w, http.StatusOK, resp)
				return
			}
		}
	}

	result, err := s.engine.Execute(r.Context(), req.Language, []byte(req.Code), []byte(req.Stdin), lim)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	resp := toRunOutcomeResponse(result)
	if keyErr == nil && result.Kind == pipeline.KindCompleted {
		if encoded, err := json.Marshal(resp); err == nil {
			if err := s.cache.Store(r.Context(), key, encoded); err != nil {
				s.logger.Warnw("dedup cache store failed", "error", err)
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type caseRequest struct {
	Name     string         `json:"name"`
	Input    string         `json:"input,omitempty"`
	Expected *string        `json:"expected_output,omitempty"`
	Limits   *limitsRequest `json:"limits,omitempty"`
	Content  string         `json:"content,omitempty"`
	URL      string         `json:"url,omitempty"`
}

type executeWithCasesRequest struct {
	Language string         `json:"language"`
	Code     string         `json:"code"`
	Cases    []caseRequest  `json:"cases,omitempty"`
	Files    []caseRequest  `json:"files,omitempty"`
	URLs     []caseRequest  `json:"urls,omitempty"`
	Limits   *limitsRequest `json:"limits,omitempty"`
}

type testResultResponse struct {
	Name    string             `json:"name"`
	Passed  bool               `json:"passed"`
	Outcome runOutcomeResponse `json:"outcome"`
	Message string             `json:"message,omitempty"`
}

type submissionResultResponse struct {
	AggregatedStdout string               `json:"aggregated_stdout"`
	AggregatedStderr string               `json:"aggregated_stderr"`
	OverallExitCode  int                  `json:"overall_exit_code"`
	PerTest          []testResultResponse `json:"per_test"`
	Cancelled        bool                 `json:"cancelled"`
}

func toSubmissionResultResponse(result harness.SubmissionResult) submissionResultResponse {
	perTest := make([]testResultResponse, len(result.PerTest))
	for i, tr := range result.PerTest {
		perTest[i] = testResultResponse{
			Name:    tr.Name,
			Passed:  tr.Passed,
			Outcome: toRunOutcomeResponse(tr.Outcome),
			Message: tr.Message,
		}
	}
	return submissionResultResponse{
		AggregatedStdout: result.AggregatedStdout,
		AggregatedStderr: result.AggregatedStderr,
		OverallExitCode:  result.OverallExitCode,
		PerTest:          perTest,
		Cancelled:        result.Cancelled,
	}
}

func (s *Server) handleExecuteWithInlineCases(w http.ResponseWriter, r *http.Request) {
	var req executeWithCasesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if s.sanitizer != nil {
		if err := s.sanitizer.Check([]byte(req.Code), req.Language); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	cases := make([]resolver.InlineCase, len(req.Cases))
	for i, c := range req.Cases {
		ic := resolver.InlineCase{Name: c.Name, Input: []byte(c.Input), Override: c.Limits.toOverride()}
		if c.Expected != nil {
			ic.Expected = []byte(*c.Expected)
			ic.HasExpected = true
		}
		cases[i] = ic
	}

	lim := limits.Merge(s.engine.DefaultsFor(req.Language), req.Limits.toOverride())
	result, err := s.engine.ExecuteWithInlineCases(r.Context(), req.Language, []byte(req.Code), cases, lim)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubmissionResultResponse(result))
}

func (s *Server) handleExecuteWithFileCases(w http.ResponseWriter, r *http.Request) {
	var req executeWithCasesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if s.sanitizer != nil {
		if err := s.sanitizer.Check([]byte(req.Code), req.Language); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	cases := make([]resolver.FileCase, len(req.Files))
	for i, c := range req.Files {
		cases[i] = resolver.FileCase{Name: c.Name, Content: []byte(c.Content)}
	}

	lim := limits.Merge(s.engine.DefaultsFor(req.Language), req.Limits.toOverride())
	result, err := s.engine.ExecuteWithFileCases(r.Context(), req.Language, []byte(req.Code), cases, lim)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubmissionResultResponse(result))
}

func (s *Server) handleExecuteWithURLCases(w http.ResponseWriter, r *http.Request) {
	var req executeWithCasesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if s.sanitizer != nil {
		if err := s.sanitizer.Check([]byte(req.Code), req.Language); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	cases := make([]resolver.URLCase, len(req.URLs))
	for i, c := range req.URLs {
		cases[i] = resolver.URLCase{Name: c.Name, URL: c.URL}
	}

	lim := limits.Merge(s.engine.DefaultsFor(req.Language), req.Limits.toOverride())
	result, err := s.engine.ExecuteWithURLCases(r.Context(), req.Language, []byte(req.Code), cases, lim)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubmissionResultResponse(result))
}

type languageInfoResponse struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

func (s *Server) handleListLanguages(w http.ResponseWriter, r *http.Request) {
	langs := s.engine.ListLanguages()
	out := make([]languageInfoResponse, len(langs))
	for i, l := range langs {
		out[i] = languageInfoResponse{Name: l.Name, Label: l.Label}
	}
	writeJSON(w, http.StatusOK, out)
}

// writeEngineError surfaces an engine-level error (spec.md §7's
// UnsupportedLanguage, LimitOutOfRange, TestSourceFetchFailed — all
// "surfaced, no execution performed" kinds) as a 400.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
