package resolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IMMZEK/codeexec/internal/limits"
)

func TestInlinePassesThroughUnchanged(t *testing.T) {
	r := New()
	override := &limits.Override{}
	cases := r.Inline([]InlineCase{
		{Name: "a", Input: []byte("2"), Expected: []byte("4\n"), HasExpected: true, Override: override},
	})

	require.Len(t, cases, 1)
	assert.Equal(t, "a", cases[0].Name)
	assert.Equal(t, []byte("2"), cases[0].Input)
	assert.True(t, cases[0].HasExpected)
	assert.Same(t, override, cases[0].Override)
}

func TestFilesBecomeInputWithNoExpectedOutput(t *testing.T) {
	r := New()
	cases := r.Files([]FileCase{{Name: "f1", Content: []byte("3\n")}})

	require.Len(t, cases, 1)
	assert.Equal(t, []byte("3\n"), cases[0].Input)
	assert.False(t, cases[0].HasExpected)
}

func TestURLsFetchesEachCaseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("body-for-" + req.URL.Path))
	}))
	defer srv.Close()

	r := New()
	cases, err := r.URLs(context.Background(), []URLCase{
		{Name: "a", URL: srv.URL + "/a"},
		{Name: "b", URL: srv.URL + "/b"},
	})

	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, "body-for-/a", string(cases[0].Input))
	assert.Equal(t, "body-for-/b", string(cases[1].Input))
}

func TestURLsAbortsWholeSubmissionOnFirstFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/bad" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	r := New()
	_, err := r.URLs(context.Background(), []URLCase{
		{Name: "good", URL: srv.URL + "/good"},
		{Name: "bad", URL: srv.URL + "/bad"},
	})

	require.Error(t, err)
	var fetchErr *FetchFailedError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "bad", fetchErr.Name)
}

func TestURLsEnforcesSizeCap(t *testing.T) {
	big := strings.Repeat("a", MaxFetchBytes+1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(big))
	}))
	defer srv.Close()

	r := New()
	_, err := r.URLs(context.Background(), []URLCase{{Name: "huge", URL: srv.URL}})

	require.Error(t, err)
	var fetchErr *FetchFailedError
	require.ErrorAs(t, err, &fetchErr)
}
