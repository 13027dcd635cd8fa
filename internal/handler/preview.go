package handler

import (
	"errors"
	"net/http"
	"os"
	"regexp"
	"strings"

	"github.com/fslongjin/flutterbox/internal/service"
	"github.com/fslongjin/flutterbox/internal/workspace"
	"github.com/gin-gonic/gin"
)

// PreviewHandler serves the web build output of workspaces.
type PreviewHandler struct {
	svc *service.BuildService
}

func NewPreviewHandler(svc *service.BuildService) *PreviewHandler {
	return &PreviewHandler{svc: svc}
}

func (h *PreviewHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/preview/:id/build/web/*path", h.Serve)
}

func (h *PreviewHandler) Serve(c *gin.Context) {
	id := c.Param("id")
	rel := strings.TrimPrefix(c.Param("path"), "/")

	full, err := h.svc.PreviewFile(c.Request.Context(), id, rel)
	if err != nil {
		if errors.Is(err, workspace.ErrInvalidPath) {
			c.String(http.StatusBadRequest, "Bad Request")
			return
		}
		if errors.Is(err, workspace.ErrNotFound) {
			c.String(http.StatusNotFound, "Not Found")
			return
		}
		respondError(c, err)
		return
	}

	if rel == "" || rel == "index.html" {
		html, err := os.ReadFile(full)
		if err != nil {
			respondError(c, err)
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(RewriteBaseHref(string(html), service.PreviewURL(id))))
		return
	}

	c.File(full)
}

var baseHrefPattern = regexp.MustCompile(`<base href="[^"]*">`)

// RewriteBaseHref points the document's <base href> at base, inserting one
// right after <head> when the document has none.
func RewriteBaseHref(html, base string) string {
	if baseHrefPattern.MatchString(html) {
		return baseHrefPattern.ReplaceAllLiteralString(html, `<base href="`+base+`">`)
	}
	return strings.Replace(html, "<head>", `<head><base href="`+base+`">`, 1)
}
