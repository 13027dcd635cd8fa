package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fslongjin/flutterbox/internal/logx"
	"github.com/fslongjin/flutterbox/internal/metrics"
	"github.com/fslongjin/flutterbox/internal/store"
	"github.com/fslongjin/flutterbox/internal/workspace"
	"github.com/fslongjin/flutterbox/pkg/model"
)

// WorkspaceService combines the on-disk workspace store with the metadata
// index. The directory tree is authoritative for every file operation;
// metadata only backs listing and is written best effort.
type WorkspaceService struct {
	files    *workspace.Store
	meta     *store.WorkspaceStore
	recorder metrics.Recorder
}

func NewWorkspaceService(files *workspace.Store, meta *store.WorkspaceStore, recorder metrics.Recorder) *WorkspaceService {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &WorkspaceService{files: files, meta: meta, recorder: recorder}
}

func (s *WorkspaceService) logger(ctx context.Context) *slog.Logger {
	return logx.FromContext(ctx).With("component", "workspace_service")
}

func (s *WorkspaceService) Create(ctx context.Context) (*model.Workspace, error) {
	id, err := s.files.Create(ctx)
	s.recorder.IncWorkspacesCreated(err == nil)
	if err != nil {
		return nil, err
	}

	ws := &model.Workspace{
		ID:        id,
		Template:  s.files.TemplateDir(),
		CreatedAt: time.Now().UTC(),
	}
	if s.meta != nil {
		root, _ := s.files.Resolve(id)
		rec := &store.WorkspaceRecord{
			ID:          id,
			RootPath:    root,
			TemplateDir: ws.Template,
			CreatedAt:   ws.CreatedAt,
		}
		if err := s.meta.Create(ctx, rec); err != nil {
			s.logger(ctx).Warn("failed to persist workspace metadata", "workspace_id", id, "error", err)
		}
	}
	return ws, nil
}

func (s *WorkspaceService) List(ctx context.Context, page, pageSize int) (*model.WorkspaceListResponse, error) {
	if s.meta == nil {
		return &model.WorkspaceListResponse{Items: []model.Workspace{}, Page: 1, PageSize: pageSize}, nil
	}
	query := store.WorkspaceQuery{Page: page, PageSize: pageSize}
	records, total, err := s.meta.List(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}

	items := make([]model.Workspace, 0, len(records))
	for _, rec := range records {
		items = append(items, model.Workspace{
			ID:           rec.ID,
			Template:     rec.TemplateDir,
			CreatedAt:    rec.CreatedAt,
			LastBuildAt:  rec.LastBuildAt,
			LastExitCode: rec.LastExitCode,
		})
	}
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return &model.WorkspaceListResponse{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

func (s *WorkspaceService) Tree(ctx context.Context, id string) ([]model.FileNode, error) {
	return s.files.ListTree(id)
}

func (s *WorkspaceService) ReadFile(ctx context.Context, id, path string) (string, error) {
	return s.files.ReadFile(id, path)
}

func (s *WorkspaceService) WriteFile(ctx context.Context, id, path, content string) error {
	if err := s.files.WriteFile(id, path, content); err != nil {
		return err
	}
	s.recorder.IncFileWrites(1)
	return nil
}

// WriteFiles stores the output of the code generation pipeline. Paths are all
// checked before the first write; a later failure leaves earlier files written.
func (s *WorkspaceService) WriteFiles(ctx context.Context, id string, files []model.GeneratedFile) (int, error) {
	patches := make([]model.FilePatch, 0, len(files))
	for _, f := range files {
		patches = append(patches, model.FilePatch{Path: f.File, Content: f.Content})
	}
	written, err := s.files.WriteFiles(id, patches)
	s.recorder.IncFileWrites(written)
	if err != nil {
		s.logger(ctx).Warn("batch write stopped", "workspace_id", id, "written", written, "total", len(files), "error", err)
		return written, err
	}
	return written, nil
}
