package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rclonehub/rclonehub/internal/store"
)

// getSettings returns the whole runtime settings record, per spec.md
// section 6's "Settings get/put (whole record)" clause.
func (s *Server) getSettings(c *gin.Context) {
	rs, err := s.st.RuntimeSettings(c.Request.Context())
	if err != nil {
		errJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, rs)
}

func (s *Server) putSettings(c *gin.Context) {
	var rs store.RuntimeSettings
	if err := c.ShouldBindJSON(&rs); err != nil {
		errJSON(c, http.StatusBadRequest, err)
		return
	}
	if rs.StagingCapBytes <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "staging_cap_bytes must be positive"})
		return
	}
	if rs.Concurrency <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "concurrency must be positive"})
		return
	}
	if err := s.st.SetRuntimeSettings(c.Request.Context(), rs); err != nil {
		errJSON(c, http.StatusInternalServerError, err)
		return
	}
	s.eng.SetGlobalConcurrency(rs.Concurrency)
	c.JSON(http.StatusOK, rs)
}
