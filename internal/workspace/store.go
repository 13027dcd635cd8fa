// Package workspace manages the on-disk project directories that generated
// Flutter apps live in. Every operation that takes a client path keeps it
// inside the owning workspace.
package workspace

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/fslongjin/flutterbox/internal/config"
	"github.com/fslongjin/flutterbox/pkg/model"
	"github.com/google/uuid"
)

const (
	assetsDir = "assets"
	// LockFileName is the per-workspace build lock, hidden from listings.
	LockFileName = ".flutterbox-build.lock"
)

// Store owns the workspaces root directory.
type Store struct {
	root        string
	templateDir string
	scaffold    []string
	cacheEnv    string
	cacheDir    string
	outputDir   string
	// buildPrefix hides build artifacts from listings.
	buildPrefix string
	hidden      []string
	newID       func() string
	logger      *slog.Logger
}

func NewStore(wsCfg config.WorkspaceConfig, buildCfg config.BuildConfig) (*Store, error) {
	root, err := filepath.Abs(wsCfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspaces root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspaces root: %w", err)
	}
	templateDir, err := filepath.Abs(wsCfg.TemplateDir)
	if err != nil {
		return nil, fmt.Errorf("resolve template dir: %w", err)
	}

	outputDir := strings.Trim(filepath.ToSlash(buildCfg.OutputDir), "/")
	buildPrefix := outputDir
	if i := strings.Index(outputDir, "/"); i >= 0 {
		buildPrefix = outputDir[:i]
	}

	return &Store{
		root:        root,
		templateDir: templateDir,
		scaffold:    wsCfg.Scaffold,
		cacheEnv:    buildCfg.CacheEnv,
		cacheDir:    buildCfg.CacheDir,
		outputDir:   outputDir,
		buildPrefix: buildPrefix + "/",
		hidden:      []string{strings.Trim(filepath.ToSlash(buildCfg.CacheDir), "/"), LockFileName},
		newID:       generateID,
		logger:      slog.Default().With("component", "workspace_store"),
	}, nil
}

// Root returns the parent directory of all workspaces.
func (s *Store) Root() string {
	return s.root
}

// TemplateDir is the directory copied into every new workspace.
func (s *Store) TemplateDir() string {
	return s.templateDir
}

// Create copies the template into a fresh workspace, makes sure the assets
// directory exists and runs the scaffolding command inside it. A workspace
// left half-initialised by a failing step is not removed.
func (s *Store) Create(ctx context.Context) (string, error) {
	id := s.newID()
	root := filepath.Join(s.root, id)
	logger := s.logger.With("workspace_id", id)

	if err := copyTree(s.templateDir, root); err != nil {
		return "", fmt.Errorf("failed to copy template: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, assetsDir), 0o755); err != nil {
		return "", fmt.Errorf("failed to create assets directory: %w", err)
	}

	if len(s.scaffold) > 0 {
		logger.Info("running scaffold command", "command", strings.Join(s.scaffold, " "))
		cmd := exec.CommandContext(ctx, s.scaffold[0], s.scaffold[1:]...)
		cmd.Dir = root
		cmd.Env = s.Env(root)
		out, err := cmd.CombinedOutput()
		if err != nil {
			logger.Error("scaffold command failed", "error", err, "output", tail(string(out), 2048))
			return "", fmt.Errorf("scaffold command failed: %w", err)
		}
		logger.Debug("scaffold command finished", "output", tail(string(out), 2048))
	}

	logger.Info("workspace created", "path", root)
	return id, nil
}

// Resolve returns the root directory of an existing workspace.
func (s *Store) Resolve(id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	root := filepath.Join(s.root, id)
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: workspace %s", ErrNotFound, id)
		}
		return "", fmt.Errorf("stat workspace %s: %w", id, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: workspace %s", ErrNotFound, id)
	}
	return root, nil
}

// Env is the environment for external commands run inside a workspace. The
// toolchain cache points inside the workspace so workspaces never share it.
func (s *Store) Env(root string) []string {
	env := os.Environ()
	if s.cacheEnv == "" {
		return env
	}
	prefix := s.cacheEnv + "="
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if !strings.HasPrefix(kv, prefix) {
			out = append(out, kv)
		}
	}
	return append(out, prefix+filepath.Join(root, filepath.FromSlash(s.cacheDir)))
}

// OutputDir returns the build output directory of a workspace root.
func (s *Store) OutputDir(root string) string {
	return filepath.Join(root, filepath.FromSlash(s.outputDir))
}

// ClearBuildOutput removes a previous build output of the workspace.
func (s *Store) ClearBuildOutput(id string) error {
	root, err := s.Resolve(id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(s.OutputDir(root)); err != nil {
		return fmt.Errorf("failed to clear build output: %w", err)
	}
	return nil
}

// OutputFile returns the location of a regular file inside the build output
// of a workspace. An empty rel names the root document.
func (s *Store) OutputFile(id, rel string) (string, error) {
	if rel == "" {
		rel = "index.html"
	}
	if err := ValidateOutputPath(rel); err != nil {
		return "", err
	}
	root, err := s.Resolve(id)
	if err != nil {
		return "", err
	}
	out := s.OutputDir(root)
	if info, err := os.Stat(out); err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: build output of workspace %s", ErrNotFound, id)
	}
	full, err := joinInside(out, rel)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(full)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: output file %s", ErrNotFound, rel)
	}
	return full, nil
}

// ReadFile returns the content of a regular file inside the workspace.
func (s *Store) ReadFile(id, rel string) (string, error) {
	if err := ValidateRelPath(rel); err != nil {
		return "", err
	}
	root, err := s.Resolve(id)
	if err != nil {
		return "", err
	}
	full, err := joinInside(root, rel)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: file %s", ErrNotFound, rel)
		}
		return "", fmt.Errorf("stat %s: %w", rel, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: file %s", ErrNotFound, rel)
	}

	content, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rel, err)
	}
	return string(content), nil
}

// WriteFile replaces the content of a file, creating parent directories as
// needed. It returns only once the data has been synced to storage.
func (s *Store) WriteFile(id, rel, content string) error {
	if err := ValidateRelPath(rel); err != nil {
		return err
	}
	root, err := s.Resolve(id)
	if err != nil {
		return err
	}
	return s.writeFile(root, rel, content)
}

// WriteFiles validates every path first, then writes the files one by one.
// The batch is not atomic: a failure leaves the earlier files written.
func (s *Store) WriteFiles(id string, files []model.FilePatch) (int, error) {
	for _, f := range files {
		if err := ValidateRelPath(f.Path); err != nil {
			return 0, err
		}
	}
	root, err := s.Resolve(id)
	if err != nil {
		return 0, err
	}
	for i, f := range files {
		if err := s.writeFile(root, f.Path, f.Content); err != nil {
			return i, err
		}
	}
	return len(files), nil
}

func (s *Store) writeFile(root, rel, content string) error {
	full, err := joinInside(root, rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", rel, err)
	}

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", rel, err)
	}
	w := bufio.NewWriter(f)
	if _, err := w.WriteString(content); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", rel, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush %s: %w", rel, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", rel, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", rel, err)
	}

	s.logger.Debug("file saved", "path", full, "bytes", len(content))
	return nil
}

func generateID() string {
	id := uuid.New().String()
	return id[:8]
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
