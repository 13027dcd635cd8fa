package workspace

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

var safePath = regexp.MustCompile(`^[A-Za-z0-9_\-./]+$`)

// ValidateRelPath checks a client supplied path against the workspace path
// policy. It never consults the file system.
func ValidateRelPath(rel string) error {
	if rel == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if !safePath.MatchString(rel) {
		return fmt.Errorf("%w: %q contains disallowed characters", ErrInvalidPath, rel)
	}
	if strings.HasPrefix(rel, "/") || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %q is absolute", ErrInvalidPath, rel)
	}
	for _, part := range strings.Split(rel, "/") {
		if part == ".." {
			return fmt.Errorf("%w: %q escapes the workspace", ErrInvalidPath, rel)
		}
	}
	return nil
}

// ValidateOutputPath is the policy for paths into build output. Generated
// asset names are not restricted to the source character set, so only
// absolute paths, parent segments and NUL bytes are refused.
func ValidateOutputPath(rel string) error {
	if rel == "" || strings.ContainsRune(rel, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	if strings.HasPrefix(rel, "/") || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %q is absolute", ErrInvalidPath, rel)
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == ".." {
			return fmt.Errorf("%w: %q escapes the build output", ErrInvalidPath, rel)
		}
	}
	return nil
}

// ValidateID checks that id names a single directory entry under the root.
func ValidateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: workspace %q", ErrNotFound, id)
	}
	return nil
}

// joinInside joins an already validated relative path onto root and makes sure
// the result, after following any symlinks that already exist on disk, is still
// inside root.
func joinInside(root, rel string) (string, error) {
	full := filepath.Join(root, filepath.FromSlash(path.Clean(rel)))
	if !within(root, full) {
		return "", fmt.Errorf("%w: %q escapes the workspace", ErrInvalidPath, rel)
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}

	// Walk up to the deepest component that exists and resolve it.
	existing := full
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing || !within(root, parent) {
			return full, nil
		}
		existing = parent
	}
	realExisting, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", rel, err)
	}
	if !within(realRoot, realExisting) {
		return "", fmt.Errorf("%w: %q resolves outside the workspace", ErrInvalidPath, rel)
	}
	return full, nil
}

func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
