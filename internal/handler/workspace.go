package handler

import (
	"net/http"
	"strconv"

	"github.com/fslongjin/flutterbox/internal/service"
	"github.com/fslongjin/flutterbox/pkg/model"
	"github.com/gin-gonic/gin"
)

type WorkspaceHandler struct {
	svc *service.WorkspaceService
}

func NewWorkspaceHandler(svc *service.WorkspaceService) *WorkspaceHandler {
	return &WorkspaceHandler{svc: svc}
}

func (h *WorkspaceHandler) RegisterRoutes(r *gin.RouterGroup) {
	workspaces := r.Group("/workspaces")
	{
		workspaces.POST("", h.Create)
		workspaces.GET("", h.List)
		workspaces.GET("/:id", h.Tree)
		workspaces.GET("/:id/file", h.GetFile)
		workspaces.PUT("/:id/file", h.PutFile)
		workspaces.POST("/:id/files", h.WriteFiles)
	}
}

func (h *WorkspaceHandler) Create(c *gin.Context) {
	ws, err := h.svc.Create(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.CreateWorkspaceResponse{
		WorkspaceID: ws.ID,
		CreatedAt:   ws.CreatedAt,
	})
}

func (h *WorkspaceHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	resp, err := h.svc.List(c.Request.Context(), page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *WorkspaceHandler) Tree(c *gin.Context) {
	files, err := h.svc.Tree(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.TreeResponse{Files: files})
}

func (h *WorkspaceHandler) GetFile(c *gin.Context) {
	path := c.Query("path")

	content, err := h.svc.ReadFile(c.Request.Context(), c.Param("id"), path)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.FileResponse{Path: path, Content: content})
}

func (h *WorkspaceHandler) PutFile(c *gin.Context) {
	var req model.FilePatch
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.svc.WriteFile(c.Request.Context(), c.Param("id"), req.Path, req.Content); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.OKResponse{OK: true})
}

// WriteFiles stores a batch of generated files.
func (h *WorkspaceHandler) WriteFiles(c *gin.Context) {
	var req model.WriteFilesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	written, err := h.svc.WriteFiles(c.Request.Context(), c.Param("id"), req.Files)
	if err != nil {
		status := statusForError(err)
		c.JSON(status, gin.H{"error": err.Error(), "written": written})
		return
	}
	c.JSON(http.StatusOK, model.WriteFilesResponse{OK: true, Written: written})
}
