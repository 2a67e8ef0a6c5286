package sandbox

import (
	"errors"
	"path"
	"strings"

	"github.com/haasonsaas/nexus/internal/agent"
)

func pathEscapeError(detail string) error {
	return agent.NewCoreError(agent.KindPathEscape, errors.New(detail))
}

// resolveWorkspacePath cleans a caller-supplied path and checks it stays
// within the sandbox's workspace root, returning the root-relative path
// (no leading slash) to use against either a real filesystem (local
// backend) or a container path (docker backend: joined under /workspace).
//
// Grounded on files.Resolver.Resolve's clean-then-filepath.Rel-then-reject
// ".." idiom, adapted to work on a slash-path that may not exist on the
// local filesystem at all (the docker backend's root is inside a
// container).
func resolveWorkspacePath(requested string) (string, error) {
	clean := strings.TrimSpace(requested)
	if clean == "" {
		return "", pathEscapeError("path is required")
	}

	// Normalize to a workspace-relative slash path regardless of whether the
	// caller passed an absolute path or used backslashes; a leading slash is
	// treated as workspace-root-relative, not host-root-relative.
	clean = strings.ReplaceAll(clean, "\\", "/")
	clean = strings.TrimPrefix(clean, "/")

	rel := path.Clean(clean)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", pathEscapeError("path escapes workspace")
	}
	if rel == "." {
		return "", pathEscapeError("path resolves to workspace root")
	}
	return rel, nil
}
