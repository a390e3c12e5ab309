//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

// Package local provides a CodeExecutor that runs user Python in a separate
// sandboxed interpreter process with a hard timeout, an isolated working
// directory, and a cleared environment.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/canopyai/canopy/codeexecutor"
	"github.com/canopyai/canopy/log"
)

// resultMarker separates user stdout from the JSON result line.
const resultMarker = "__CANOPY_RESULT__"

// defaultTimeout bounds any single execution.
const defaultTimeout = 15 * time.Second

var (
	defRe = regexp.MustCompile(`^def\s+([A-Za-z_]\w*)\s*\(([^)]*)\)\s*:`)
	// Import lines are matched in full so trailing statements
	// (e.g. "import os; ...") cannot ride along.
	importRe  = regexp.MustCompile(`^(import\s+[\w.]+(\s+as\s+\w+)?(\s*,\s*[\w.]+(\s+as\s+\w+)?)*|from\s+[\w.]+\s+import\s+(\*|\w+(\s+as\s+\w+)?(\s*,\s*\w+(\s+as\s+\w+)?)*))$`)
	commentRe = regexp.MustCompile(`^#`)
)

// CodeExecutor runs code with the local python interpreter. Each execution
// gets a fresh temporary working directory that is removed afterwards unless
// configured otherwise.
type CodeExecutor struct {
	pythonPath     string
	workDir        string
	timeout        time.Duration
	cleanTempFiles bool
}

// Option configures a CodeExecutor.
type Option func(*CodeExecutor)

// WithPythonPath sets the interpreter binary (default "python3").
func WithPythonPath(path string) Option {
	return func(e *CodeExecutor) { e.pythonPath = path }
}

// WithWorkDir sets the parent directory for per-execution workdirs.
func WithWorkDir(dir string) Option {
	return func(e *CodeExecutor) { e.workDir = dir }
}

// WithTimeout sets the timeout for any single execution.
func WithTimeout(timeout time.Duration) Option {
	return func(e *CodeExecutor) { e.timeout = timeout }
}

// WithCleanTempFiles sets whether per-execution workdirs are removed.
func WithCleanTempFiles(clean bool) Option {
	return func(e *CodeExecutor) { e.cleanTempFiles = clean }
}

// New creates a CodeExecutor with the given options.
func New(opts ...Option) *CodeExecutor {
	e := &CodeExecutor{
		pythonPath:     "python3",
		timeout:        defaultTimeout,
		cleanTempFiles: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteCode vets the submitted code, then runs it in a subprocess and
// returns the JSON object produced by main(params).
func (e *CodeExecutor) ExecuteCode(ctx context.Context, input codeexecutor.Input) (codeexecutor.Result, error) {
	if err := vetCode(input.Code); err != nil {
		return codeexecutor.Result{}, err
	}

	params, err := json.Marshal(input.Params)
	if err != nil {
		return codeexecutor.Result{}, fmt.Errorf("marshal params: %w", err)
	}

	dir, err := os.MkdirTemp(e.workDir, "canopy-code-")
	if err != nil {
		return codeexecutor.Result{}, fmt.Errorf("create workdir: %w", err)
	}
	if e.cleanTempFiles {
		defer func() {
			if err := os.RemoveAll(dir); err != nil {
				log.Warnf("code executor: clean workdir %s: %v", dir, err)
			}
		}()
	}

	script := filepath.Join(dir, "main.py")
	if err := os.WriteFile(script, []byte(driverScript(input.Code)), 0o600); err != nil {
		return codeexecutor.Result{}, fmt.Errorf("write script: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.pythonPath, script)
	cmd.Dir = dir
	// Empty environment: the sandboxed code inherits no credentials.
	cmd.Env = []string{"PATH=" + os.Getenv("PATH")}
	cmd.Stdin = bytes.NewReader(params)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return codeexecutor.Result{}, fmt.Errorf("code execution timed out after %s", e.timeout)
		}
		return codeexecutor.Result{}, fmt.Errorf("code execution failed: %v: %s", err, strings.TrimSpace(stderr.String()))
	}

	out := stdout.String()
	idx := strings.LastIndex(out, resultMarker)
	if idx < 0 {
		return codeexecutor.Result{}, fmt.Errorf("code execution produced no result")
	}
	payload := strings.TrimSpace(out[idx+len(resultMarker):])
	if !json.Valid([]byte(payload)) || !strings.HasPrefix(payload, "{") {
		return codeexecutor.Result{}, fmt.Errorf("main must return a mapping")
	}
	return codeexecutor.Result{
		Output: []byte(payload),
		Stdout: out[:idx],
	}, nil
}

// driverScript wraps the vetted user code with the param feed and result
// marker. User code is known to contain only top-level function definitions.
func driverScript(code string) string {
	var b strings.Builder
	b.WriteString("import json, sys\n")
	b.WriteString(code)
	b.WriteString("\n")
	b.WriteString("_params = json.load(sys.stdin)\n")
	b.WriteString("_result = main(_params)\n")
	b.WriteString(`print("` + resultMarker + `" + json.dumps(_result))` + "\n")
	return b.String()
}

// vetCode enforces the structural contract before anything is executed: the
// submission may contain only imports and function definitions at top level,
// and must define exactly one function main with the single parameter params.
func vetCode(code string) error {
	mainCount := 0
	for _, line := range strings.Split(code, "\n") {
		// Indented lines belong to a function body.
		if line != strings.TrimLeft(line, " \t") {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || commentRe.MatchString(trimmed) {
			continue
		}
		if importRe.MatchString(trimmed) {
			continue
		}
		m := defRe.FindStringSubmatch(trimmed)
		if m == nil {
			return fmt.Errorf("only imports and function definitions are allowed at top level, got: %s", trimmed)
		}
		if m[1] != "main" {
			return fmt.Errorf("only a main function may be defined, got: %s", m[1])
		}
		mainCount++
		if strings.TrimSpace(m[2]) != "params" {
			return fmt.Errorf("main must take the single parameter params")
		}
	}
	if mainCount == 0 {
		return fmt.Errorf("no main function found")
	}
	if mainCount > 1 {
		return fmt.Errorf("only one main function may be defined")
	}
	return nil
}
