// Package pathauth decides whether a requested database file is covered
// by the operator-supplied allow-list of files and directories.
package pathauth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sentinel errors returned by Authorize. Callers match with errors.Is.
var (
	ErrInvalidPath  = errors.New("path must be absolute")
	ErrNotFound     = errors.New("file not found")
	ErrUnauthorized = errors.New("path not allowed")
)

// Authorizer holds the resolved allow-list. It is built once at startup
// and is immutable afterwards, so it is safe for concurrent use.
type Authorizer struct {
	files map[string]struct{}
	dirs  []string
}

// NewAuthorizer validates and resolves the allow-list entries.
// Every entry must be an absolute path that exists at startup; a missing
// entry is a configuration error and fails construction.
func NewAuthorizer(paths []string) (*Authorizer, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("pathauth: at least one allowed path is required")
	}

	a := &Authorizer{files: make(map[string]struct{})}
	for _, p := range paths {
		if !filepath.IsAbs(p) {
			return nil, fmt.Errorf("pathauth: allowed path must be absolute: %s", p)
		}
		// Resolve symlinks up front so containment checks run against
		// real locations, not link names.
		resolved, err := filepath.EvalSymlinks(p)
		if err != nil {
			return nil, fmt.Errorf("pathauth: allowed path does not exist: %s: %w", p, err)
		}
		info, err := os.Stat(resolved)
		if err != nil {
			return nil, fmt.Errorf("pathauth: allowed path does not exist: %s: %w", p, err)
		}
		if info.IsDir() {
			a.dirs = append(a.dirs, filepath.Clean(resolved))
		} else {
			a.files[filepath.Clean(resolved)] = struct{}{}
		}
	}
	return a, nil
}

// Authorize checks a candidate database path against the allow-list and
// returns the fully resolved path to open. The candidate must be absolute,
// must exist and be readable, and must either match an allowed file entry
// or resolve to a location inside an allowed directory. Symlinks are
// resolved before the containment check, so a link inside an allowed
// directory cannot escape it.
func (a *Authorizer) Authorize(candidate string) (string, error) {
	if !filepath.IsAbs(candidate) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, candidate)
	}

	resolved, err := filepath.EvalSymlinks(filepath.Clean(candidate))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, candidate)
	}
	info, err := os.Stat(resolved)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotFound, candidate)
	}
	f, err := os.Open(resolved)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, candidate)
	}
	f.Close()

	if _, ok := a.files[resolved]; ok {
		return resolved, nil
	}
	for _, dir := range a.dirs {
		if contains(dir, resolved) {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnauthorized, candidate)
}

// contains reports whether path is lexically inside dir, comparing whole
// path components so /data-evil does not match an allowed /data.
func contains(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
