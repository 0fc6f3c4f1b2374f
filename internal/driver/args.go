package driver

import (
	"errors"
	"strings"
	"unicode"
)

// ParseArgs parses a single shell-tokenized command-line string into argv,
// e.g. the DRIVER_FLAGS environment variable. Supports basic quoting with
// single/double quotes and backslash escapes.
func ParseArgs(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var out []string
	var b strings.Builder
	inSingle := false
	inDouble := false
	escaped := false

	flush := func() {
		if b.Len() == 0 {
			return
		}
		out = append(out, b.String())
		b.Reset()
	}

	for _, r := range s {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' && !inSingle {
			escaped = true
			continue
		}
		if r == '\'' && !inDouble {
			inSingle = !inSingle
			continue
		}
		if r == '"' && !inSingle {
			inDouble = !inDouble
			continue
		}
		if !inSingle && !inDouble && unicode.IsSpace(r) {
			flush()
			continue
		}
		b.WriteRune(r)
	}
	if escaped {
		return nil, errors.New("driver flags: trailing backslash not closed")
	}
	if inSingle || inDouble {
		return nil, errors.New("driver flags: unterminated quote")
	}
	flush()
	return out, nil
}

// SanitizedArgs is the result of filtering a user-supplied argument list
// against the flags the orchestrator must own (job control, logging,
// config selection, file selection).
type SanitizedArgs struct {
	Args    []string
	Blocked []string
}

var ownedFlagPrefixes = []string{"--rc", "--stats"}
var ownedFlagExact = map[string]bool{
	"--log-file":       true,
	"--files-from":     true,
	"--files-from-raw": true,
	"--config":         true,
	"--progress":       true,
}

// SanitizeArgs removes flags that would break the orchestrator's own job
// control, logging, or config selection. Blocked carries the discarded
// arguments for diagnostics.
func SanitizeArgs(args []string) SanitizedArgs {
	var out, blocked []string
	for i := 0; i < len(args); i++ {
		a := strings.TrimSpace(args[i])
		if a == "" {
			continue
		}
		key := a
		hasEq := false
		if k, _, ok := strings.Cut(a, "="); ok {
			key = k
			hasEq = true
		}
		keyLower := strings.ToLower(key)

		if ownedFlagExact[keyLower] || hasOwnedPrefix(keyLower) {
			blocked = append(blocked, a)
			if !hasEq && needsValue(keyLower) && i+1 < len(args) {
				i++
			}
			continue
		}
		out = append(out, a)
	}
	return SanitizedArgs{Args: out, Blocked: blocked}
}

func hasOwnedPrefix(keyLower string) bool {
	for _, p := range ownedFlagPrefixes {
		if strings.HasPrefix(keyLower, p) {
			return true
		}
	}
	return false
}

func needsValue(keyLower string) bool {
	switch keyLower {
	case "--log-file", "--files-from", "--files-from-raw", "--config":
		return true
	default:
		if strings.HasPrefix(keyLower, "--rc-") || strings.HasPrefix(keyLower, "--stats-") {
			return true
		}
		return false
	}
}
