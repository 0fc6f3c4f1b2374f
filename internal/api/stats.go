package api

import (
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
)

// stats reports a human-readable throughput summary, supplementing the
// spec.md service surface (teacher's dashboard had an equivalent
// realtime-stats endpoint; here it's one route instead of a page).
func (s *Server) stats(c *gin.Context) {
	since := time.Now().Add(-24 * time.Hour)
	total, err := s.eng.BytesTransferredSince(c.Request.Context(), since)
	if err != nil {
		errJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"bytes_24h":       total,
		"bytes_24h_human": humanize.Bytes(uint64(total)),
		"window_started":  humanize.Time(since),
	})
}
