package policy

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathEscapesWorkspace is returned by Resolve when the requested path
// would resolve outside the workspace root.
var ErrPathEscapesWorkspace = errors.New("path escapes workspace")

// WorkspaceResolver constrains filesystem-touching tool calls to a single
// root directory.
type WorkspaceResolver struct {
	Root string
}

// Resolve returns an absolute path within the workspace root, or
// ErrPathEscapesWorkspace if path (absolute or relative) would land outside
// it.
func (r WorkspaceResolver) Resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", errors.New("path is required")
	}

	root := strings.TrimSpace(r.Root)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}

	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", ErrPathEscapesWorkspace
	}
	return targetAbs, nil
}
