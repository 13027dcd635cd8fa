package cli

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fslongjin/flutterbox/pkg/client"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	concurrencyFlag int
	excludeFlag     []string
)

// Directories that are local toolchain state and never belong in a workspace.
var defaultExcludes = []string{".git", ".dart_tool", "build", ".idea", "node_modules"}

var fileCmd = &cobra.Command{
	Use:   "file",
	Short: "Read and write workspace files",
}

var fileGetCmd = &cobra.Command{
	Use:   "get <id> <path> [local-path]",
	Short: "Print or download a workspace file",
	Args:  cobra.RangeArgs(2, 3),
	Example: `  # Print to stdout
  flutterbox file get <id> lib/main.dart

  # Save to a local file
  flutterbox file get <id> lib/main.dart ./main.dart`,
	RunE: runFileGet,
}

var filePutCmd = &cobra.Command{
	Use:   "put <id> <path> [local-path]",
	Short: "Replace a workspace file",
	Long:  `Replace a workspace file with the content of a local file, or of stdin when no local path or "-" is given.`,
	Args:  cobra.RangeArgs(2, 3),
	Example: `  flutterbox file put <id> lib/main.dart ./main.dart
  cat pubspec.yaml | flutterbox file put <id> pubspec.yaml`,
	RunE: runFilePut,
}

var filePushCmd = &cobra.Command{
	Use:   "push <id> <dir>",
	Short: "Upload every file below a local directory",
	Args:  cobra.ExactArgs(2),
	Example: `  flutterbox file push <id> ./generated
  flutterbox file push <id> . --exclude test --concurrency 8`,
	RunE: runFilePush,
}

func init() {
	rootCmd.AddCommand(fileCmd)

	fileCmd.AddCommand(fileGetCmd)
	fileCmd.AddCommand(filePutCmd)

	filePushCmd.Flags().IntVar(&concurrencyFlag, "concurrency", 4, "Maximum parallel uploads")
	filePushCmd.Flags().StringSliceVar(&excludeFlag, "exclude", nil, "Additional directory names to skip")
	fileCmd.AddCommand(filePushCmd)
}

func runFileGet(cmd *cobra.Command, args []string) error {
	ctx, cancel := requestContext(cmd)
	defer cancel()

	content, err := getAPIClient().Workspaces.ReadFile(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	if len(args) < 3 {
		_, err := io.WriteString(cmd.OutOrStdout(), content)
		return err
	}
	if err := os.WriteFile(args[2], []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Downloaded: %s -> %s\n", args[1], args[2])
	return nil
}

func runFilePut(cmd *cobra.Command, args []string) error {
	var (
		content []byte
		err     error
	)
	if len(args) < 3 || args[2] == "-" {
		content, err = io.ReadAll(cmd.InOrStdin())
	} else {
		content, err = os.ReadFile(args[2])
	}
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	ctx, cancel := requestContext(cmd)
	defer cancel()
	if err := getAPIClient().Workspaces.WriteFile(ctx, args[0], args[1], string(content)); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Saved: %s (%d bytes)\n", args[1], len(content))
	return nil
}

func runFilePush(cmd *cobra.Command, args []string) error {
	id, dir := args[0], args[1]
	files, err := collectFiles(dir, append(append([]string{}, defaultExcludes...), excludeFlag...))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files found below %s", dir)
	}
	debugf("pushing %d files from %s", len(files), dir)

	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout()*4)
	defer cancel()

	out := cmd.ErrOrStderr()
	n, err := pushFiles(ctx, getAPIClient().Workspaces, id, files, concurrencyFlag, func(rel string) {
		debugf("uploaded %s", rel)
	})
	if err != nil {
		return fmt.Errorf("pushed %d of %d files: %w", n, len(files), err)
	}
	fmt.Fprintf(out, "Pushed %d files to workspace %s\n", n, id)
	return nil
}

// localFile is a file found below a pushed directory. Rel is slash separated.
type localFile struct {
	Rel  string
	Path string
}

// collectFiles returns the regular files below dir, skipping any directory
// whose name is listed in exclude.
func collectFiles(dir string, exclude []string) ([]localFile, error) {
	skip := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		skip[strings.TrimSpace(name)] = struct{}{}
	}

	var files []localFile
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if _, ok := skip[d.Name()]; ok && p != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, localFile{Rel: filepath.ToSlash(rel), Path: p})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return files, nil
}

// pushFiles uploads files with at most limit requests in flight. The first
// failure cancels the remaining uploads; the count of completed ones is
// returned either way.
func pushFiles(ctx context.Context, ws *client.WorkspacesService, id string, files []localFile, limit int, onDone func(rel string)) (int, error) {
	if limit < 1 {
		limit = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var done atomic.Int64
	for _, f := range files {
		f := f
		g.Go(func() error {
			content, err := os.ReadFile(f.Path)
			if err != nil {
				return fmt.Errorf("read %s: %w", f.Path, err)
			}
			if err := ws.WriteFile(ctx, id, f.Rel, string(content)); err != nil {
				return fmt.Errorf("upload %s: %w", f.Rel, err)
			}
			done.Add(1)
			if onDone != nil {
				onDone(f.Rel)
			}
			return nil
		})
	}
	err := g.Wait()
	return int(done.Load()), err
}
