// Package workspace hands out per-request scratch paths under a single temp
// root and removes them again when the request is done.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrOutsideRoot = errors.New("path is outside the workspace root")

type Manager struct {
	root   string
	logger *zap.Logger
}

// WorkItem is the scratch state of one request. Both paths live under the
// manager root and are derived from the same random ID.
type WorkItem struct {
	ID         string
	InputPath  string
	OutputPath string
}

func (w WorkItem) Paths() []string {
	return []string{w.InputPath, w.OutputPath}
}

func New(root string, logger *zap.Logger) (*Manager, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("workspace root must not be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root %s: %w", abs, err)
	}

	return &Manager{root: abs, logger: logger}, nil
}

func (m *Manager) Root() string {
	return m.root
}

// Allocate returns a fresh path under the root. Nothing is created on disk.
func (m *Manager) Allocate(ext string) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate path id: %w", err)
	}
	return filepath.Join(m.root, id.String()+normalizeExt(ext)), nil
}

func (m *Manager) NewWorkItem(inputExt string) (WorkItem, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return WorkItem{}, fmt.Errorf("generate work item id: %w", err)
	}

	name := id.String()
	return WorkItem{
		ID:         name,
		InputPath:  filepath.Join(m.root, name+".in"+normalizeExt(inputExt)),
		OutputPath: filepath.Join(m.root, name+".wav"),
	}, nil
}

// Cleanup removes every given path. Missing paths are fine. Each failure is
// logged and the failures are returned joined; callers must not fail a
// request because of them.
func (m *Manager) Cleanup(paths ...string) error {
	var errs []error
	for _, path := range paths {
		if strings.TrimSpace(path) == "" {
			continue
		}

		if err := m.remove(path); err != nil {
			m.logger.Warn("failed to remove temp file", zap.String("path", path), zap.Error(err))
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) remove(path string) error {
	clean := filepath.Clean(path)
	rel, err := filepath.Rel(m.root, clean)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ErrOutsideRoot
	}

	err = os.Remove(clean)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" || ext == "." {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
