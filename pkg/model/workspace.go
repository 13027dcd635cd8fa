package model

import "time"

type FileKind string

const (
	FileKindFile FileKind = "file"
	FileKindDir  FileKind = "dir"
)

// FileNode is one entry of a workspace listing. Paths are slash separated and
// relative to the workspace root.
type FileNode struct {
	ID       string     `json:"id"`
	Path     string     `json:"path"`
	Name     string     `json:"name"`
	Type     FileKind   `json:"type"`
	Size     *int64     `json:"size,omitempty"`
	Children []FileNode `json:"children,omitempty"`
}

type Workspace struct {
	ID           string     `json:"id"`
	Template     string     `json:"template,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastBuildAt  *time.Time `json:"lastBuildAt,omitempty"`
	LastExitCode *int       `json:"lastExitCode,omitempty"`
}

type CreateWorkspaceResponse struct {
	WorkspaceID string    `json:"workspaceId"`
	CreatedAt   time.Time `json:"createdAt"`
}

type WorkspaceListResponse struct {
	Items    []Workspace `json:"items"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"pageSize"`
}

type TreeResponse struct {
	Files []FileNode `json:"files"`
}

type FileResponse struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// FilePatch replaces the whole content of one file.
type FilePatch struct {
	Path    string `json:"path" binding:"required"`
	Content string `json:"content"`
}

// GeneratedFile is the shape produced by the code generation pipeline.
type GeneratedFile struct {
	File    string `json:"file" binding:"required"`
	Content string `json:"content"`
}

type WriteFilesRequest struct {
	Files []GeneratedFile `json:"files" binding:"required"`
}

type WriteFilesResponse struct {
	OK      bool `json:"ok"`
	Written int  `json:"written"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}
