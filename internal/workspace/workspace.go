// Package workspace implements the Workspace Manager (C3): creation and
// teardown of the unique scratch directory backing one pipeline
// execution.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateFailedError wraps a filesystem failure during Acquire.
type CreateFailedError struct {
	Cause error
}

func (e *CreateFailedError) Error() string { return fmt.Sprintf("workspace create failed: %v", e.Cause) }
func (e *CreateFailedError) Unwrap() error { return e.Cause }

// WriteFailedError wraps a filesystem failure during WriteSource.
type WriteFailedError struct {
	Cause error
}

func (e *WriteFailedError) Error() string { return fmt.Sprintf("workspace write failed: %v", e.Cause) }
func (e *WriteFailedError) Unwrap() error { return e.Cause }

// Manager mints fresh, uniquely named scratch directories under a
// configured root.
type Manager struct {
	root   string
	logger *zap.SugaredLogger
}

// NewManager returns a Manager rooted at root (spec.md §6 TEMP_ROOT).
// When root is empty, os.TempDir() is used.
func NewManager(root string, logger *zap.SugaredLogger) *Manager {
	if root == "" {
		root = os.TempDir()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Manager{root: root, logger: logger}
}

// Workspace is a scratch directory created fresh for one invocation. It
// owns its contents and must be Close()d on every exit path of its
// caller — the scoped-acquisition Design Note discharging spec.md's
// Invariant 1 ("no workspace directory remains on disk").
type Workspace struct {
	Path   string
	logger *zap.SugaredLogger
}

// Acquire creates a fresh, uniquely named directory under the
// manager's root.
func (m *Manager) Acquire() (*Workspace, error) {
	name := "exec-" + uuid.NewString()
	path := filepath.Join(m.root, name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, &CreateFailedError{Cause: err}
	}
	return &Workspace{Path: path, logger: m.logger}, nil
}

// WriteSource writes bytes to filename inside the workspace.
func (w *Workspace) WriteSource(filename string, data []byte) error {
	path := filepath.Join(w.Path, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &WriteFailedError{Cause: err}
	}
	return nil
}

// Close removes the workspace directory and all of its contents. Its
// contract is infallible: errors are logged, never returned, because
// it is invoked on every exit path including the error path.
func (w *Workspace) Close() {
	if err := os.RemoveAll(w.Path); err != nil {
		w.logger.Warnw("workspace cleanup failed", "path", w.Path, "error", err)
	}
}
