// Package sandbox confines client-supplied relative paths to a single
// storage root. Every command that names a path resolves it here before
// any file-system access.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrAccessDenied is returned for any path that resolves outside the
// storage root. Callers must present it to the requester exactly like a
// missing file, never revealing the root layout.
var ErrAccessDenied = errors.New("sandbox: path escapes storage root")

// Sandbox resolves relative paths against a canonical absolute root.
type Sandbox struct {
	root string
}

// New canonicalizes root, creates it if absent, and returns a Sandbox
// rooted there.
func New(root string) (*Sandbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("sandbox: resolve root %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("sandbox: create root %q: %w", abs, err)
	}
	// Symlinked roots (e.g. /tmp on macOS) must canonicalize to the same
	// string the per-request resolution produces.
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("sandbox: canonicalize root %q: %w", abs, err)
	}
	return &Sandbox{root: resolved}, nil
}

// Root returns the canonical absolute storage root. Collaborators such as
// the HTTP mirror point at this path.
func (s *Sandbox) Root() string {
	return s.root
}

// Resolve maps a client-supplied relative path to an absolute on-disk
// location inside the root. Leading separators are stripped, ".." and "."
// segments are resolved lexically, and the result must still sit under
// the root or ErrAccessDenied is returned.
//
// The check compares canonicalized path strings; on case-insensitive file
// systems this can over- or under-reject aliased spellings of the root.
func (s *Sandbox) Resolve(rel string) (string, error) {
	rel = strings.TrimLeft(rel, "/\\")
	full := filepath.Join(s.root, filepath.FromSlash(rel))
	full = filepath.Clean(full)
	if full != s.root && !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", ErrAccessDenied
	}
	return full, nil
}

// ResolveChild resolves a directory path and a child name in one step,
// rejecting child names that themselves traverse out of the directory.
func (s *Sandbox) ResolveChild(rel, name string) (string, error) {
	dir, err := s.Resolve(rel)
	if err != nil {
		return "", err
	}
	full := filepath.Clean(filepath.Join(dir, filepath.FromSlash(name)))
	if full != s.root && !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", ErrAccessDenied
	}
	return full, nil
}
