package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/fslongjin/flutterbox/internal/build"
	"github.com/fslongjin/flutterbox/internal/lifecycle"
	"github.com/fslongjin/flutterbox/internal/logx"
	"github.com/fslongjin/flutterbox/internal/service"
	"github.com/fslongjin/flutterbox/pkg/model"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type BuildHandler struct {
	svc        *service.BuildService
	drainState *lifecycle.DrainManager
}

func NewBuildHandler(svc *service.BuildService, drainState *lifecycle.DrainManager) *BuildHandler {
	return &BuildHandler{svc: svc, drainState: drainState}
}

func (h *BuildHandler) RegisterRoutes(r *gin.RouterGroup) {
	workspaces := r.Group("/workspaces")
	{
		workspaces.POST("/:id/build", h.Start)
		workspaces.GET("/:id/build/logs", h.Logs)
		workspaces.GET("/:id/build/ws", h.LogsWebSocket)
	}
}

func (h *BuildHandler) Start(c *gin.Context) {
	resp, err := h.svc.Start(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *BuildHandler) track() func() {
	if h.drainState == nil {
		return func() {}
	}
	return h.drainState.TrackStream()
}

// Logs runs the build and streams its output as server-sent events. The build
// is bound to the request: when the client goes away the build is killed.
func (h *BuildHandler) Logs(c *gin.Context) {
	ctx := c.Request.Context()
	run, err := h.svc.Prepare(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	release := h.track()
	defer release()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	if _, err := h.svc.Stream(ctx, run, build.NewSSEWriter(c.Writer)); err != nil {
		logx.FromContext(ctx).Info("build log stream ended early",
			"component", "build_handler",
			"workspace_id", run.WorkspaceID(),
			"build_id", run.ID(),
			"error", err,
		)
	}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins (CORS handled by middleware)
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// LogsWebSocket is Logs over a websocket, one JSON message per event.
func (h *BuildHandler) LogsWebSocket(c *gin.Context) {
	run, err := h.svc.Prepare(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		run.Close()
		logx.FromContext(c.Request.Context()).Warn("websocket upgrade failed", "component", "build_handler", "error", err)
		return
	}
	defer conn.Close()

	release := h.track()
	defer release()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// The client sends nothing; a read error means it went away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	sink := &wsSink{conn: conn}
	_, err = h.svc.Stream(ctx, run, sink)
	if err != nil {
		if !errors.Is(err, build.ErrConsumerGone) && ctx.Err() == nil {
			sink.write(model.BuildMessage{Type: model.BuildMessageError, Message: err.Error()})
		}
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "build finished"),
		time.Now().Add(time.Second))
}

// wsSink sends build events as JSON text messages.
type wsSink struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSink) Send(ev build.Event) error {
	msg := model.BuildMessage{Type: model.BuildMessageLog, Data: ev.Payload()}
	if ev.Exit {
		msg.Type = model.BuildMessageExit
		msg.ExitCode = ev.ExitCode
	}
	return s.write(msg)
}

func (s *wsSink) write(msg model.BuildMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}
