package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSandbox(t *testing.T) *Sandbox {
	t.Helper()
	box, err := New(filepath.Join(t.TempDir(), "storage"))
	require.NoError(t, err)
	return box
}

func TestNewCreatesMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "a", "b", "storage")
	box, err := New(root)
	require.NoError(t, err)

	info, err := os.Stat(box.Root())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestResolveInsideRoot(t *testing.T) {
	box := newSandbox(t)

	tests := []struct {
		rel  string
		want string
	}{
		{"", box.Root()},
		{".", box.Root()},
		{"docs", filepath.Join(box.Root(), "docs")},
		{"docs/sub", filepath.Join(box.Root(), "docs", "sub")},
		{"/docs", filepath.Join(box.Root(), "docs")},
		{"docs/../other", filepath.Join(box.Root(), "other")},
	}
	for _, tt := range tests {
		got, err := box.Resolve(tt.rel)
		require.NoError(t, err, "rel=%q", tt.rel)
		assert.Equal(t, tt.want, got, "rel=%q", tt.rel)
	}
}

func TestResolveRejectsEscape(t *testing.T) {
	box := newSandbox(t)

	for _, rel := range []string{
		"..",
		"../",
		"../../etc/passwd",
		"docs/../../outside",
		"/../outside",
	} {
		_, err := box.Resolve(rel)
		assert.ErrorIs(t, err, ErrAccessDenied, "rel=%q", rel)
	}
}

func TestResolveSiblingPrefixIsNotInside(t *testing.T) {
	box := newSandbox(t)

	// storage-evil shares a string prefix with storage but sits outside.
	_, err := box.Resolve("../" + filepath.Base(box.Root()) + "-evil")
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestResolveChild(t *testing.T) {
	box := newSandbox(t)

	got, err := box.ResolveChild("docs", "a.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(box.Root(), "docs", "a.txt"), got)

	_, err = box.ResolveChild("docs", "../../escape.txt")
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = box.ResolveChild("../outside", "a.txt")
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestRootIsCanonical(t *testing.T) {
	box := newSandbox(t)
	resolved, err := filepath.EvalSymlinks(box.Root())
	require.NoError(t, err)
	assert.Equal(t, resolved, box.Root())
}
