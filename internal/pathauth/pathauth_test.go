package pathauth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestNewAuthorizer_EmptyAllowList(t *testing.T) {
	t.Parallel()
	_, err := NewAuthorizer(nil)
	if err == nil {
		t.Fatal("expected error for empty allow-list")
	}
}

func TestNewAuthorizer_RelativePath(t *testing.T) {
	t.Parallel()
	_, err := NewAuthorizer([]string{"relative/path.db"})
	if err == nil {
		t.Fatal("expected error for relative allowed path")
	}
}

func TestNewAuthorizer_MissingPath(t *testing.T) {
	t.Parallel()
	missing := filepath.Join(t.TempDir(), "does-not-exist.db")
	_, err := NewAuthorizer([]string{missing})
	if err == nil {
		t.Fatal("expected error for missing allowed path")
	}
}

func TestAuthorize_FileEntry(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "app.db")
	writeFile(t, dbPath)

	a, err := NewAuthorizer([]string{dbPath})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resolved, err := a.Authorize(dbPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
}

func TestAuthorize_DirectoryEntry(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "app.db")
	writeFile(t, dbPath)

	a, err := NewAuthorizer([]string{dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := a.Authorize(dbPath); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAuthorize_NestedInDirectory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	sub := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	dbPath := filepath.Join(sub, "app.db")
	writeFile(t, dbPath)

	a, err := NewAuthorizer([]string{dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := a.Authorize(dbPath); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAuthorize_RelativeCandidate(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "app.db")
	writeFile(t, dbPath)

	a, err := NewAuthorizer([]string{dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = a.Authorize("app.db")
	if !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
}

func TestAuthorize_MissingCandidate(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "app.db")
	writeFile(t, dbPath)

	a, err := NewAuthorizer([]string{dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = a.Authorize(filepath.Join(dir, "missing.db"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAuthorize_DirectoryCandidate(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	a, err := NewAuthorizer([]string{dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The directory itself is not a database file.
	_, err = a.Authorize(dir)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAuthorize_OutsideAllowList(t *testing.T) {
	t.Parallel()
	allowed := t.TempDir()
	other := t.TempDir()
	dbPath := filepath.Join(other, "app.db")
	writeFile(t, dbPath)

	a, err := NewAuthorizer([]string{allowed})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = a.Authorize(dbPath)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAuthorize_SiblingPrefixDoesNotMatch(t *testing.T) {
	t.Parallel()
	base := t.TempDir()
	allowed := filepath.Join(base, "data")
	evil := filepath.Join(base, "data-evil")
	if err := os.MkdirAll(allowed, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.MkdirAll(evil, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	dbPath := filepath.Join(evil, "app.db")
	writeFile(t, dbPath)

	a, err := NewAuthorizer([]string{allowed})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// /data-evil shares a string prefix with /data but is not inside it.
	_, err = a.Authorize(dbPath)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAuthorize_DotDotEscape(t *testing.T) {
	t.Parallel()
	base := t.TempDir()
	allowed := filepath.Join(base, "data")
	if err := os.MkdirAll(allowed, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	outside := filepath.Join(base, "secret.db")
	writeFile(t, outside)

	a, err := NewAuthorizer([]string{allowed})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = a.Authorize(filepath.Join(allowed, "..", "secret.db"))
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAuthorize_SymlinkEscape(t *testing.T) {
	t.Parallel()
	base := t.TempDir()
	allowed := filepath.Join(base, "data")
	if err := os.MkdirAll(allowed, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	outside := filepath.Join(base, "secret.db")
	writeFile(t, outside)

	link := filepath.Join(allowed, "link.db")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	a, err := NewAuthorizer([]string{allowed})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The link lives inside the allowed directory but resolves outside it.
	_, err = a.Authorize(link)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAuthorize_SymlinkWithinAllowed(t *testing.T) {
	t.Parallel()
	allowed := t.TempDir()
	dbPath := filepath.Join(allowed, "app.db")
	writeFile(t, dbPath)

	link := filepath.Join(allowed, "link.db")
	if err := os.Symlink(dbPath, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	a, err := NewAuthorizer([]string{allowed})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resolved, err := a.Authorize(link)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The resolved path points at the real file, not the link.
	real, _ := filepath.EvalSymlinks(dbPath)
	if resolved != real {
		t.Fatalf("expected %q, got %q", real, resolved)
	}
}

func TestAuthorize_SymlinkedAllowedEntry(t *testing.T) {
	t.Parallel()
	base := t.TempDir()
	realDir := filepath.Join(base, "real")
	if err := os.MkdirAll(realDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	dbPath := filepath.Join(realDir, "app.db")
	writeFile(t, dbPath)

	linkDir := filepath.Join(base, "linkdir")
	if err := os.Symlink(realDir, linkDir); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	// Allow-list entry is itself a symlink; it is resolved at startup.
	a, err := NewAuthorizer([]string{linkDir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := a.Authorize(dbPath); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := a.Authorize(filepath.Join(linkDir, "app.db")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
