package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IMMZEK/codeexec/internal/dedup"
	"github.com/IMMZEK/codeexec/internal/engine"
	"github.com/IMMZEK/codeexec/internal/limits"
	"github.com/IMMZEK/codeexec/internal/obslog"
	"github.com/IMMZEK/codeexec/internal/planner"
	"github.com/IMMZEK/codeexec/internal/ratelimit"
	"github.com/IMMZEK/codeexec/internal/registry"
	"github.com/IMMZEK/codeexec/internal/sandbox"
	"github.com/IMMZEK/codeexec/internal/sanitize"
	"github.com/IMMZEK/codeexec/internal/workspace"
)

type scriptedExecutor struct {
	compileOutcome sandbox.Outcome
	runOutcome     sandbox.Outcome
}

func (f *scriptedExecutor) Run(ctx context.Context, spec sandbox.Spec) sandbox.Outcome {
	if spec.Phase == planner.PhaseCompile {
		return f.compileOutcome
	}
	return f.runOutcome
}

func newTestServer(t *testing.T, exec *scriptedExecutor) *Server {
	t.Helper()
	return newTestServerWithCache(t, exec, nil)
}

func newTestServerWithCache(t *testing.T, exec *scriptedExecutor, cache *dedup.Cache) *Server {
	t.Helper()
	reg, err := registry.New("")
	require.NoError(t, err)

	root, err := os.MkdirTemp("", "server-test-")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(root) })

	ws := workspace.NewManager(root, obslog.Noop())
	e := engine.New(reg, ws, exec, limits.Ceilings{MaxWallTime: limits.Defaults().WallTime, MaxMemoryBytes: limits.Defaults().MemoryBytes}, limits.Defaults(), 0, obslog.Noop())
	return NewServer(e, sanitize.New(64*1024), cache, obslog.Noop())
}

func TestHandleExecuteReturnsRunOutcome(t *testing.T) {
	exec := &scriptedExecutor{runOutcome: sandbox.Outcome{Kind: sandbox.KindCompleted, Stdout: "hi\n", ExitCode: 0}}
	srv := newTestServer(t, exec)
	router := srv.Router(nil, nil)

	body, _ := json.Marshal(executeRequest{Language: "python", Code: "print('hi')"})
	req := httptest.NewRequest(http.MethodPost, "/api/execute", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp runOutcomeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp.Kind)
	assert.Equal(t, "hi\n", resp.Stdout)
}

func TestHandleExecuteRejectsUnsupportedLanguage(t *testing.T) {
	srv := newTestServer(t, &scriptedExecutor{})
	router := srv.Router(nil, nil)

	body, _ := json.Marshal(executeRequest{Language: "not-a-real-language", Code: "x"})
	req := httptest.NewRequest(http.MethodPost, "/api/execute", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleExecuteRejectsSanitizedCode(t *testing.T) {
	srv := newTestServer(t, &scriptedExecutor{})
	router := srv.Router(nil, nil)

	body, _ := json.Marshal(executeRequest{Language: "python", Code: "import subprocess"})
	req := httptest.NewRequest(http.MethodPost, "/api/execute", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleExecuteRejectsMalformedJSON(t *testing.T) {
	srv := newTestServer(t, &scriptedExecutor{})
	router := srv.Router(nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/execute", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleExecuteWithInlineCasesReturnsPerTestResults(t *testing.T) {
	exec := &scriptedExecutor{runOutcome: sandbox.Outcome{Kind: sandbox.KindCompleted, Stdout: "4\n", ExitCode: 0}}
	srv := newTestServer(t, exec)
	router := srv.Router(nil, nil)

	expected := "4\n"
	body, _ := json.Marshal(executeWithCasesRequest{
		Language: "python",
		Code:     "print(2+2)",
		Cases:    []caseRequest{{Name: "case-1", Input: "2", Expected: &expected}},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/execute_with_inline_cases", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp submissionResultResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.PerTest, 1)
	assert.True(t, resp.PerTest[0].Passed)
}

func TestHandleExecuteWithFileCasesDegradesToExitCodeZero(t *testing.T) {
	exec := &scriptedExecutor{runOutcome: sandbox.Outcome{Kind: sandbox.KindCompleted, ExitCode: 0}}
	srv := newTestServer(t, exec)
	router := srv.Router(nil, nil)

	body, _ := json.Marshal(executeWithCasesRequest{
		Language: "python",
		Code:     "pass",
		Files:    []caseRequest{{Name: "f1", Content: "some input"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/execute_with_file_cases", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp submissionResultResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.PerTest, 1)
	assert.True(t, resp.PerTest[0].Passed)
}

func TestHandleExecuteWithURLCasesSurfacesFetchFailure(t *testing.T) {
	srv := newTestServer(t, &scriptedExecutor{})
	router := srv.Router(nil, nil)

	body, _ := json.Marshal(executeWithCasesRequest{
		Language: "python",
		Code:     "pass",
		URLs:     []caseRequest{{Name: "u1", URL: "http://127.0.0.1:0/unreachable"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/execute_with_url_cases", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListLanguagesReturnsRegistry(t *testing.T) {
	srv := newTestServer(t, &scriptedExecutor{})
	router := srv.Router(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/list_languages", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var langs []languageInfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &langs))
	assert.NotEmpty(t, langs)
}

func TestHandleHealthzReportsOK(t *testing.T) {
	srv := newTestServer(t, &scriptedExecutor{})
	router := srv.Router(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleExecuteServesSecondIdenticalRequestFromCache(t *testing.T) {
	exec := &scriptedExecutor{runOutcome: sandbox.Outcome{Kind: sandbox.KindCompleted, Stdout: "cached\n", ExitCode: 0}}
	cache := dedup.New(dedup.NewMemoryStore(), limits.Defaults().WallTime)
	srv := newTestServerWithCache(t, exec, cache)
	router := srv.Router(nil, nil)

	body, _ := json.Marshal(executeRequest{Language: "python", Code: "print('cached')"})

	first := httptest.NewRequest(http.MethodPost, "/api/execute", bytes.NewReader(body))
	rec1 := httptest.NewRecorder()
	router.ServeHTTP(rec1, first)
	require.Equal(t, http.StatusOK, rec1.Code)

	// Change the outcome the executor would return; a cache hit must
	// still serve the first result rather than invoking it again.
	exec.runOutcome = sandbox.Outcome{Kind: sandbox.KindCompleted, Stdout: "should not appear\n", ExitCode: 0}

	second := httptest.NewRequest(http.MethodPost, "/api/execute", bytes.NewReader(body))
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, second)

	require.Equal(t, http.StatusOK, rec2.Code)
	var resp runOutcomeResponse
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &resp))
	assert.Equal(t, "cached\n", resp.Stdout)
}

func TestRouterRejectsRequestsOverRateLimit(t *testing.T) {
	srv := newTestServer(t, &scriptedExecutor{runOutcome: sandbox.Outcome{Kind: sandbox.KindCompleted}})
	limiter := ratelimit.New(60, 1)
	router := srv.Router(limiter, nil)

	body, _ := json.Marshal(executeRequest{Language: "python", Code: "pass"})

	first := httptest.NewRequest(http.MethodPost, "/api/execute", bytes.NewReader(body))
	first.RemoteAddr = "10.0.0.5:1111"
	rec1 := httptest.NewRecorder()
	router.ServeHTTP(rec1, first)
	assert.Equal(t, http.StatusOK, rec1.Code)

	second := httptest.NewRequest(http.MethodPost, "/api/execute", bytes.NewReader(body))
	second.RemoteAddr = "10.0.0.5:1111"
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, second)
	assert.Equal(t, http.StatusTooManyRequests, rec2.Code)
}
