package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/fslongjin/flutterbox/pkg/model"
)

// WorkspacesService handles workspace, file and build operations.
type WorkspacesService struct {
	client *Client
}

func (s *WorkspacesService) Create(ctx context.Context) (*model.CreateWorkspaceResponse, error) {
	var result model.CreateWorkspaceResponse
	if err := s.client.doJSON(ctx, http.MethodPost, buildPath("api", "workspaces"), nil, &result, nil); err != nil {
		return nil, err
	}
	return &result, nil
}

// List returns one page of workspace metadata. Zero values use server defaults.
func (s *WorkspacesService) List(ctx context.Context, page, pageSize int) (*model.WorkspaceListResponse, error) {
	query := map[string]string{}
	if page > 0 {
		query["page"] = strconv.Itoa(page)
	}
	if pageSize > 0 {
		query["page_size"] = strconv.Itoa(pageSize)
	}
	var result model.WorkspaceListResponse
	if err := s.client.doJSON(ctx, http.MethodGet, buildPath("api", "workspaces"), nil, &result, query); err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *WorkspacesService) Tree(ctx context.Context, id string) ([]model.FileNode, error) {
	var result model.TreeResponse
	if err := s.client.doJSON(ctx, http.MethodGet, buildPath("api", "workspaces", id), nil, &result, nil); err != nil {
		return nil, err
	}
	return result.Files, nil
}

func (s *WorkspacesService) ReadFile(ctx context.Context, id, path string) (string, error) {
	var result model.FileResponse
	err := s.client.doJSON(ctx, http.MethodGet, buildPath("api", "workspaces", id, "file"), nil, &result, map[string]string{"path": path})
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

func (s *WorkspacesService) WriteFile(ctx context.Context, id, path, content string) error {
	req := model.FilePatch{Path: path, Content: content}
	return s.client.doJSON(ctx, http.MethodPut, buildPath("api", "workspaces", id, "file"), req, nil, nil)
}

// WriteFiles uploads generated files in one request. The server validates all
// paths before writing any of them.
func (s *WorkspacesService) WriteFiles(ctx context.Context, id string, files []model.GeneratedFile) (int, error) {
	var result model.WriteFilesResponse
	req := model.WriteFilesRequest{Files: files}
	if err := s.client.doJSON(ctx, http.MethodPost, buildPath("api", "workspaces", id, "files"), req, &result, nil); err != nil {
		return 0, err
	}
	return result.Written, nil
}

// StartBuild clears the previous build output and returns the logs and
// preview URLs.
func (s *WorkspacesService) StartBuild(ctx context.Context, id string) (*model.StartBuildResponse, error) {
	var result model.StartBuildResponse
	if err := s.client.doJSON(ctx, http.MethodPost, buildPath("api", "workspaces", id, "build"), nil, &result, nil); err != nil {
		return nil, err
	}
	return &result, nil
}

// PreviewURL is the absolute URL of a preview path returned by StartBuild.
func (s *WorkspacesService) PreviewURL(preview string) string {
	return s.client.url(preview, nil)
}

// StreamBuildLogs runs the build of a workspace and calls onLine for every log
// line in order. It returns the build's exit code once the exit marker
// arrives. Cancelling ctx disconnects, which stops the build on the server.
func (s *WorkspacesService) StreamBuildLogs(ctx context.Context, id string, onLine func(string)) (int, error) {
	resp, err := s.client.openStream(ctx, buildPath("api", "workspaces", id, "build", "logs"))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var code int
	var done bool
	err = readSSE(resp.Body, func(data string) bool {
		if c, ok := model.ParseExitMarker(data); ok {
			code, done = c, true
			return false
		}
		if onLine != nil {
			onLine(data)
		}
		return true
	})
	if done {
		return code, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, fmt.Errorf("read build log stream: %w", err)
	}
	return 0, ErrStreamEnded
}

// readSSE decodes text/event-stream data events from r and hands each one to
// fn until fn returns false or the stream ends.
func readSSE(r io.Reader, fn func(data string) bool) error {
	reader := bufio.NewReader(r)
	var data []string
	var hasData bool
	for {
		line, err := reader.ReadString('\n')
		if line != "" || err == nil {
			line = strings.TrimRight(line, "\r\n")
			switch {
			case line == "":
				if hasData {
					if !fn(strings.Join(data, "\n")) {
						return nil
					}
				}
				data, hasData = data[:0], false
			case strings.HasPrefix(line, ":"):
			default:
				field, value, _ := strings.Cut(line, ":")
				value = strings.TrimPrefix(value, " ")
				if field == "data" {
					data = append(data, value)
					hasData = true
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
