package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rclonehub/rclonehub/internal/apperr"
	"github.com/rclonehub/rclonehub/internal/scan"
)

type createScanRequest struct {
	Kind    string `json:"kind" binding:"required,oneof=search size"`
	Root    string `json:"root" binding:"required"`
	Query   string `json:"query"`
	MinSize int64  `json:"min_size"`
}

func (s *Server) createScan(c *gin.Context) {
	var req createScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errJSON(c, http.StatusBadRequest, err)
		return
	}
	kind := scan.KindSearch
	if req.Kind == string(scan.KindSize) {
		kind = scan.KindSize
	}
	session := s.scans.Create(context.Background(), kind, scan.Params{
		Root:    req.Root,
		Query:   req.Query,
		MinSize: req.MinSize,
	})
	c.JSON(http.StatusAccepted, gin.H{"id": session.ID, "kind": session.Kind})
}

// pollScan answers the service surface's polling contract from spec.md
// section 6: {events, done, next_seq}, parameterized by after_seq.
func (s *Server) pollScan(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	afterSeq, err := strconv.ParseInt(c.DefaultQuery("after_seq", "0"), 10, 64)
	if err != nil || afterSeq < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "after_seq must be >= 0"})
		return
	}
	res, err := s.scans.Poll(id, afterSeq)
	if err != nil {
		var nf *apperr.NotFound
		if errors.As(err, &nf) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		errJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"events":   res.Events,
		"done":     res.Done,
		"next_seq": res.NextSeq,
	})
}

func (s *Server) cancelScan(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	if !s.scans.Cancel(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "scan session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}
