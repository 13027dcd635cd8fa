package handler

import (
	"errors"
	"net/http"

	"github.com/fslongjin/flutterbox/internal/build"
	"github.com/fslongjin/flutterbox/internal/logx"
	"github.com/fslongjin/flutterbox/internal/workspace"
	"github.com/gin-gonic/gin"
)

func statusForError(err error) int {
	switch {
	case errors.Is(err, workspace.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, workspace.ErrInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, build.ErrBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as a JSON error body with the status its kind maps to.
func respondError(c *gin.Context, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		logx.FromContext(c.Request.Context()).Error("request failed",
			"component", "api_http",
			"path", c.FullPath(),
			"error", err,
		)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
