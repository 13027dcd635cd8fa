// Package lifecycle coordinates graceful shutdown with long-lived build log
// streams.
package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var errDrainTimeout = errors.New("timeout waiting for build log streams to drain")

// DrainManager tracks draining state and open build log streams, whether
// served as SSE or over a websocket.
type DrainManager struct {
	draining atomic.Bool
	active   atomic.Int64
	wg       sync.WaitGroup
}

func NewDrainManager() *DrainManager {
	return &DrainManager{}
}

func (m *DrainManager) StartDraining() {
	m.draining.Store(true)
}

func (m *DrainManager) IsDraining() bool {
	return m.draining.Load()
}

func (m *DrainManager) ActiveStreams() int64 {
	return m.active.Load()
}

// TrackStream registers a build log stream and returns a release callback.
func (m *DrainManager) TrackStream() func() {
	m.wg.Add(1)
	m.active.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.active.Add(-1)
			m.wg.Done()
		})
	}
}

func (m *DrainManager) WaitStreams(ctx context.Context) error {
	waitDone := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(waitDone)
	}()

	select {
	case <-ctx.Done():
		return errDrainTimeout
	case <-waitDone:
		return nil
	}
}

// Middleware rejects new requests with 503 once draining started. Probe paths
// stay reachable so orchestrators can observe the state.
func (m *DrainManager) Middleware(probePaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(probePaths))
	for _, p := range probePaths {
		skip[p] = struct{}{}
	}
	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; !ok && m.IsDraining() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "service is draining"})
			return
		}
		c.Next()
	}
}
