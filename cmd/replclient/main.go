// Package main is an interactive client for exercising the code
// execution service by hand, replacing the teacher's static
// cmd/test_client (a fixed list of scripted requests) with a readline
// REPL: pick a language, paste code, see the outcome, repeat.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
)

type executeRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Stdin    string `json:"stdin,omitempty"`
}

type executeResponse struct {
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

type languageInfo struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

const endOfInputSentinel = ".run"

func main() {
	baseURL := "http://localhost:8080"
	if len(os.Args) > 1 {
		baseURL = os.Args[1]
	}

	client := &http.Client{Timeout: 60 * time.Second}

	rl, err := readline.New("codeexec> ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	fmt.Printf("connected to %s — type a language name, then your code, then %q on its own line.\n", baseURL, endOfInputSentinel)
	fmt.Println("type \"languages\" to list supported languages, or ctrl-d to quit.")

	for {
		language, err := rl.Readline()
		if err != nil {
			return
		}
		language = strings.TrimSpace(language)
		if language == "" {
			continue
		}
		if language == "languages" {
			printLanguages(client, baseURL)
			continue
		}

		code, err := readCodeUntilSentinel(rl)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			fmt.Fprintf(os.Stderr, "reading code: %v\n", err)
			continue
		}

		result, err := execute(client, baseURL, language, code)
		if err != nil {
			fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
			continue
		}
		printResult(result)
	}
}

func readCodeUntilSentinel(rl *readline.Instance) (string, error) {
	rl.SetPrompt("... ")
	defer rl.SetPrompt("codeexec> ")

	var lines []string
	for {
		line, err := rl.Readline()
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(line) == endOfInputSentinel {
			return strings.Join(lines, "\n"), nil
		}
		lines = append(lines, line)
	}
}

func execute(client *http.Client, baseURL, language, code string) (*executeResponse, error) {
	payload, err := json.Marshal(executeRequest{Language: language, Code: code})
	if err != nil {
		return nil, err
	}

	resp, err := client.Post(baseURL+"/api/execute", "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %s: %s", resp.Status, string(body))
	}

	var result executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResult(r *executeResponse) {
	fmt.Printf("outcome: %s (exit %d, %dms)\n", r.Kind, r.ExitCode, r.WallElapsedMs)
	if r.Stdout != "" {
		fmt.Printf("stdout:\n%s\n", r.Stdout)
	}
	if r.Stderr != "" {
		fmt.Printf("stderr:\n%s\n", r.Stderr)
	}
	if r.CompileStderr != "" {
		fmt.Printf("compile stderr:\n%s\n", r.CompileStderr)
	}
	if r.LimitKind != "" {
		fmt.Printf("limit exceeded: %s\n", r.LimitKind)
	}
	if r.Reason != "" {
		fmt.Printf("reason: %s\n", r.Reason)
	}
}

func printLanguages(client *http.Client, baseURL string) {
	resp, err := client.Get(baseURL + "/api/list_languages")
	if err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		return
	}
	defer resp.Body.Close()

	var langs []languageInfo
	if err := json.NewDecoder(resp.Body).Decode(&langs); err != nil {
		fmt.Fprintf(os.Stderr, "decoding response: %v\n", err)
		return
	}
	for _, l := range langs {
		fmt.Printf("  %-12s %s\n", l.Name, l.Label)
	}
}
