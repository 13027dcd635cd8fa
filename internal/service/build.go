package service

import (
	"context"
	"fmt"
	"time"

	"github.com/fslongjin/flutterbox/internal/build"
	"github.com/fslongjin/flutterbox/internal/logx"
	"github.com/fslongjin/flutterbox/internal/store"
	"github.com/fslongjin/flutterbox/internal/workspace"
	"github.com/fslongjin/flutterbox/pkg/model"
)

// BuildService starts and streams workspace builds.
type BuildService struct {
	files        *workspace.Store
	orchestrator *build.Orchestrator
	meta         *store.WorkspaceStore
}

func NewBuildService(files *workspace.Store, orchestrator *build.Orchestrator, meta *store.WorkspaceStore) *BuildService {
	return &BuildService{files: files, orchestrator: orchestrator, meta: meta}
}

// Start clears the previous web output and returns where to follow the build
// and where its result will be served. Nothing is spawned until the logs are
// requested.
func (s *BuildService) Start(ctx context.Context, id string) (*model.StartBuildResponse, error) {
	if err := s.files.ClearBuildOutput(id); err != nil {
		return nil, err
	}
	return &model.StartBuildResponse{
		Logs:    LogsURL(id),
		Preview: PreviewURL(id) + "index.html",
	}, nil
}

// Prepare resolves the workspace and reserves it for one build.
func (s *BuildService) Prepare(ctx context.Context, id string) (*build.Run, error) {
	return s.orchestrator.Prepare(id)
}

// Stream drives a prepared run into sink and records its exit code. The run is
// released when Stream returns.
func (s *BuildService) Stream(ctx context.Context, run *build.Run, sink build.Sink) (int, error) {
	defer run.Close()

	logger := logx.FromContext(ctx).With("component", "build_service")
	code, err := run.Stream(ctx, sink)
	if err != nil {
		return 0, err
	}
	if s.meta != nil {
		// The request context may already be done once the last event is out.
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.meta.RecordBuild(recordCtx, run.WorkspaceID(), code, time.Now().UTC()); err != nil {
			logger.Warn("failed to record build result", "workspace_id", run.WorkspaceID(), "build_id", run.ID(), "error", err)
		}
	}
	return code, nil
}

func LogsURL(id string) string {
	return fmt.Sprintf("/api/workspaces/%s/build/logs", id)
}

// PreviewURL is the base every preview asset of a workspace resolves against.
func PreviewURL(id string) string {
	return fmt.Sprintf("/preview/%s/build/web/", id)
}

// PreviewFile locates a file of the latest web build of a workspace.
func (s *BuildService) PreviewFile(ctx context.Context, id, rel string) (string, error) {
	return s.files.OutputFile(id, rel)
}
