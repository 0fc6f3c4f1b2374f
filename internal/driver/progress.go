package driver

import "strings"

// IsProgressLine reports whether a stderr line from a streaming copy carries
// transfer progress worth surfacing to a job log: either an rclone-style
// percentage line or a line containing the "Transferred:" stats marker.
func IsProgressLine(line string) bool {
	return strings.Contains(line, "%") || strings.Contains(line, "Transferred:")
}

// HadNothingToTransfer reports whether a completed streaming copy's
// accumulated stderr indicates the backend driver found nothing to do
// (common when every claimed source already matches the destination).
func HadNothingToTransfer(stderr string) bool {
	markers := []string{
		"There was nothing to transfer",
		"There was nothing to copy",
		"There was nothing to move",
	}
	for _, m := range markers {
		if strings.Contains(stderr, m) {
			return true
		}
	}
	return false
}

// DedupLines returns a filter function that logs each unique line only
// once, used to rate-limit progress logging per spec (only unique lines
// containing '%' or 'Transferred:' are logged).
func DedupLines() func(line string) (string, bool) {
	seen := map[string]struct{}{}
	return func(line string) (string, bool) {
		if !IsProgressLine(line) {
			return "", false
		}
		if _, ok := seen[line]; ok {
			return "", false
		}
		seen[line] = struct{}{}
		return line, true
	}
}
