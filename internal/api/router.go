// Package api is the thin JSON service surface over the transfer engine
// and scan manager, per spec.md section 6's "Service surface" clause.
// Routing shape is adapted from the teacher's internal/server/server.go
// (gin, no-store cache header, grouped route registration), re-targeted
// from server-rendered HTML pages to a pure JSON API.
package api

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/rclonehub/rclonehub/internal/engine"
	"github.com/rclonehub/rclonehub/internal/scan"
	"github.com/rclonehub/rclonehub/internal/store"
)

// Opener is the subset of the driver adapter the streaming-read handler
// needs. *driver.Adapter does not satisfy it directly (its OpenStream
// returns the concrete *driver.StreamHandle), so cmd/rclonehubd wraps it
// in a small adapter; fakeable in tests without spawning a subprocess.
type Opener interface {
	OpenStream(ctx context.Context, target string) (io.ReadCloser, error)
}

type Server struct {
	st    *store.Store
	eng   *engine.Engine
	scans *scan.Manager
	drv   Opener
	guard *AuthGuard
	log   zerolog.Logger
}

// New builds the gin handler for the whole service surface.
func New(st *store.Store, eng *engine.Engine, scans *scan.Manager, drv Opener, guard *AuthGuard, log zerolog.Logger) http.Handler {
	s := &Server{st: st, eng: eng, scans: scans, drv: drv, guard: guard, log: log.With().Str("component", "api").Logger()}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Cache-Control", "no-store")
		c.Next()
	})
	r.Use(guard.Middleware())

	r.POST("/api/jobs/transfer", s.submitTransfer)
	r.POST("/api/jobs/delete", s.submitDelete)
	r.GET("/api/jobs", s.listJobs)
	r.GET("/api/jobs/:id", s.getJob)
	r.POST("/api/jobs/:id/cancel", s.cancelJob)
	r.GET("/api/jobs/:id/metrics", s.jobMetrics)

	r.POST("/api/scans", s.createScan)
	r.GET("/api/scans/:id", s.pollScan)
	r.POST("/api/scans/:id/cancel", s.cancelScan)

	r.GET("/api/settings", s.getSettings)
	r.PUT("/api/settings", s.putSettings)

	r.GET("/api/stream", s.streamFile)
	r.GET("/api/stats", s.stats)

	return r
}

func errJSON(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}
