package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/rclonehub/rclonehub/internal/pathutil"
)

const sniffLimit = 3072

// streamFile passes the backend driver's open-stream handle straight
// through to the client, per spec.md section 6's "Streaming file read"
// clause. Content-type is inferred by sniffing the first bytes with
// mimetype (already pulled in transitively via gin's validator; wired
// here directly rather than left unused) so preview clients (images,
// text, PDFs) get a usable Content-Type instead of octet-stream.
func (s *Server) streamFile(c *gin.Context) {
	target := strings.TrimSpace(c.Query("path"))
	if target == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}
	handle, err := s.drv.OpenStream(c.Request.Context(), target)
	if err != nil {
		errJSON(c, http.StatusInternalServerError, err)
		return
	}
	defer handle.Close()

	buf := make([]byte, sniffLimit)
	n, readErr := io.ReadFull(handle, buf)
	if readErr != nil && readErr != io.ErrUnexpectedEOF && readErr != io.EOF {
		errJSON(c, http.StatusInternalServerError, readErr)
		return
	}
	sniffed := buf[:n]
	mtype := mimetype.Detect(sniffed)

	name, _ := pathutil.Basename(target)
	c.Header("Content-Type", mtype.String())
	c.Header("Content-Disposition", `inline; filename="`+strings.ReplaceAll(name, `"`, `\"`)+`"`)
	c.Status(http.StatusOK)

	if _, err := c.Writer.Write(sniffed); err != nil {
		return
	}
	_, _ = io.Copy(c.Writer, handle)
}
