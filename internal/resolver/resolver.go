// Package resolver implements the External Input Resolver (C8):
// normalizing the three request shapes from spec.md §4.8 (inline,
// file-content, URL-fetched) into one canonical []harness.TestCase.
// Grounded on stdlib net/http + io.LimitReader — no third-party HTTP
// client in the corpus is better suited to a single bounded GET than
// the standard library's own client, so this component is deliberately
// stdlib-only (see DESIGN.md).
package resolver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/IMMZEK/codeexec/internal/harness"
	"github.com/IMMZEK/codeexec/internal/limits"
)

// MaxFetchBytes bounds how much of a URL case's body is read before
// the fetch is treated as failed, per spec.md §4.8's "size cap, e.g. 1
// MiB".
const MaxFetchBytes = 1 << 20

// FetchTimeout bounds one URL case's fetch, per spec.md §4.8's "own
// short timeout".
const FetchTimeout = 5 * time.Second

// InlineCase is already canonical; it is accepted as-is.
type InlineCase struct {
	Name        string
	Input       []byte
	Expected    []byte
	HasExpected bool
	Override    *limits.Override
}

// FileCase supplies file content that becomes a case's stdin; it has
// no expected output (spec.md §4.8: "the pass criterion degrades to
// exit-code-zero").
type FileCase struct {
	Name    string
	Content []byte
}

// URLCase names a case whose stdin must be fetched from a URL before
// execution.
type URLCase struct {
	Name string
	URL  string
}

// FetchFailedError reports that a URL case's input could not be
// retrieved — spec.md §4.8's TestSourceFetchFailed(name, reason): a
// single fetch failure fails the whole submission, cases are not
// silently skipped.
type FetchFailedError struct {
	Name   string
	Reason string
}

func (e *FetchFailedError) Error() string {
	return fmt.Sprintf("test source fetch failed for %q: %s", e.Name, e.Reason)
}

// Resolver fetches URL cases over HTTP.
type Resolver struct {
	httpClient *http.Client
}

// New builds a Resolver with a client bounded by FetchTimeout.
func New() *Resolver {
	return &Resolver{httpClient: &http.Client{Timeout: FetchTimeout}}
}

// Inline converts already-canonical cases directly.
func (r *Resolver) Inline(cases []InlineCase) []harness.TestCase {
	out := make([]harness.TestCase, 0, len(cases))
	for _, c := range cases {
		out = append(out, harness.TestCase{
			Name:        c.Name,
			Input:       c.Input,
			Expected:    c.Expected,
			HasExpected: c.HasExpected,
			Override:    c.Override,
		})
	}
	return out
}

// Files converts file-content cases: content becomes stdin, no
// expected output is carried.
func (r *Resolver) Files(cases []FileCase) []harness.TestCase {
	out := make([]harness.TestCase, 0, len(cases))
	for _, c := range cases {
		out = append(out, harness.TestCase{Name: c.Name, Input: c.Content})
	}
	return out
}

// URLs fetches every case's input over HTTP, in declaration order. The
// first fetch failure aborts the whole submission (no partial result,
// no skipped cases) per spec.md §4.8.
func (r *Resolver) URLs(ctx context.Context, cases []URLCase) ([]harness.TestCase, error) {
	out := make([]harness.TestCase, 0, len(cases))
	for _, c := range cases {
		body, err := r.fetch(ctx, c.URL)
		if err != nil {
			return nil, &FetchFailedError{Name: c.Name, Reason: err.Error()}
		}
		out = append(out, harness.TestCase{Name: c.Name, Input: body})
	}
	return out, nil
}

func (r *Resolver) fetch(ctx context.Context, url string) ([]byte, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, MaxFetchBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > MaxFetchBytes {
		return nil, fmt.Errorf("body exceeds %d byte cap", MaxFetchBytes)
	}
	return body, nil
}
