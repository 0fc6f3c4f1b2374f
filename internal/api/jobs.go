package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rclonehub/rclonehub/internal/apperr"
	"github.com/rclonehub/rclonehub/internal/engine"
)

type transferRequest struct {
	Operation      string   `json:"operation" binding:"required,oneof=copy move"`
	Sources        []string `json:"sources" binding:"required,min=1"`
	DestinationDir string   `json:"destination_dir" binding:"required"`
	Label          string   `json:"label"`
}

func (s *Server) submitTransfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errJSON(c, http.StatusBadRequest, err)
		return
	}
	op := engine.OpCopy
	if strings.EqualFold(req.Operation, "move") {
		op = engine.OpMove
	}
	j, err := s.eng.SubmitTransfer(c.Request.Context(), op, req.Sources, req.DestinationDir, req.Label)
	if err != nil {
		errJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusAccepted, j)
}

type deleteRequest struct {
	Sources []string `json:"sources" binding:"required,min=1"`
	Label   string   `json:"label"`
}

func (s *Server) submitDelete(c *gin.Context) {
	var req deleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errJSON(c, http.StatusBadRequest, err)
		return
	}
	j, err := s.eng.SubmitDelete(c.Request.Context(), req.Sources, req.Label)
	if err != nil {
		errJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusAccepted, j)
}

func (s *Server) listJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.eng.ListJobs()})
}

func parseJobID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return uuid.UUID{}, false
	}
	return id, true
}

func (s *Server) getJob(c *gin.Context) {
	id, ok := parseJobID(c)
	if !ok {
		return
	}
	j, err := s.eng.GetJob(id)
	if err != nil {
		writeNotFound(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

func (s *Server) cancelJob(c *gin.Context) {
	id, ok := parseJobID(c)
	if !ok {
		return
	}
	found, err := s.eng.Cancel(c.Request.Context(), id)
	if err != nil {
		errJSON(c, http.StatusInternalServerError, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

func (s *Server) jobMetrics(c *gin.Context) {
	id, ok := parseJobID(c)
	if !ok {
		return
	}
	points, err := s.eng.JobMetrics(c.Request.Context(), id)
	if err != nil {
		errJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"points": points})
}

func writeNotFound(c *gin.Context, err error) {
	var nf *apperr.NotFound
	if errors.As(err, &nf) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
