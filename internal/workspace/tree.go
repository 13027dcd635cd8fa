package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fslongjin/flutterbox/pkg/model"
)

// ListTree walks the workspace and returns its entries sorted by name at each
// level. Build output and toolchain state are left out.
func (s *Store) ListTree(id string) ([]model.FileNode, error) {
	root, err := s.Resolve(id)
	if err != nil {
		return nil, err
	}
	return s.walkDir(root, root)
}

func (s *Store) walkDir(root, dir string) ([]model.FileNode, error) {
	// os.ReadDir returns entries sorted by file name.
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	nodes := make([]model.FileNode, 0, len(entries))
	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())
		rel, err := filepath.Rel(root, full)
		if err != nil {
			return nil, err
		}
		rel = filepath.ToSlash(rel)
		if s.excluded(rel) {
			continue
		}

		if entry.IsDir() {
			children, err := s.walkDir(root, full)
			if err != nil {
				return nil, err
			}
			if children == nil {
				children = []model.FileNode{}
			}
			nodes = append(nodes, model.FileNode{
				ID:       rel,
				Path:     rel,
				Name:     entry.Name(),
				Type:     model.FileKindDir,
				Children: children,
			})
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		size := info.Size()
		nodes = append(nodes, model.FileNode{
			ID:   rel,
			Path: rel,
			Name: entry.Name(),
			Type: model.FileKindFile,
			Size: &size,
		})
	}
	return nodes, nil
}

func (s *Store) excluded(rel string) bool {
	if strings.HasPrefix(rel, s.buildPrefix) {
		return true
	}
	for _, h := range s.hidden {
		if h != "" && (rel == h || strings.HasPrefix(rel, h+"/")) {
			return true
		}
	}
	return false
}
