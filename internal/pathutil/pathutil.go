// Package pathutil implements the remote path algebra shared by the driver
// adapter, the transfer engine, and the verifier: parsing, joining, and the
// source-to-destination mapping used to check a copy byte-for-byte.
package pathutil

import (
	"strings"

	"github.com/rclonehub/rclonehub/internal/apperr"
)

// Split parses "remote:path" into its remote name and normalized relative
// path. The path has its leading/trailing slashes stripped. A string with no
// colon is invalid.
func Split(p string) (remote, rel string, err error) {
	idx := strings.IndexByte(p, ':')
	if idx < 0 {
		return "", "", &apperr.InvalidPath{Input: p}
	}
	remote = p[:idx]
	rel = trimSlashes(p[idx+1:])
	return remote, rel, nil
}

func trimSlashes(s string) string {
	return strings.Trim(s, "/")
}

// Canonical renders (remote, rel) back to "remote:path" form; an empty rel
// renders as "remote:".
func Canonical(remote, rel string) string {
	if rel == "" {
		return remote + ":"
	}
	return remote + ":" + rel
}

// Join appends child onto base ("remote:path"), trimming slashes at the
// seam. An empty base path or empty child degenerates to whichever side is
// non-empty.
func Join(base, child string) (string, error) {
	remote, rel, err := Split(base)
	if err != nil {
		return "", err
	}
	child = trimSlashes(child)
	switch {
	case rel == "":
		return Canonical(remote, child), nil
	case child == "":
		return Canonical(remote, rel), nil
	default:
		return Canonical(remote, rel+"/"+child), nil
	}
}

// Basename returns the last slash-delimited segment of the path component,
// empty if the path component is empty.
func Basename(p string) (string, error) {
	_, rel, err := Split(p)
	if err != nil {
		return "", err
	}
	if rel == "" {
		return "", nil
	}
	idx := strings.LastIndexByte(rel, '/')
	if idx < 0 {
		return rel, nil
	}
	return rel[idx+1:], nil
}

// Dirname returns "remote:" when the path component has zero or one
// segments, else the remote joined with all but the last segment.
func Dirname(p string) (string, error) {
	remote, rel, err := Split(p)
	if err != nil {
		return "", err
	}
	if rel == "" {
		return Canonical(remote, ""), nil
	}
	idx := strings.LastIndexByte(rel, '/')
	if idx < 0 {
		return Canonical(remote, ""), nil
	}
	return Canonical(remote, rel[:idx]), nil
}

// MapToDestination strips sourceRoot's path prefix from itemPath's path and
// joins the remainder onto destinationRoot. This is the verification-side
// bijection between a source listing and a destination listing.
func MapToDestination(sourceRoot, itemPath, destinationRoot string) (string, error) {
	_, srcRel, err := Split(sourceRoot)
	if err != nil {
		return "", err
	}
	_, itemRel, err := Split(itemPath)
	if err != nil {
		return "", err
	}
	rest := strings.TrimPrefix(itemRel, srcRel)
	rest = trimSlashes(rest)
	return Join(destinationRoot, rest)
}
