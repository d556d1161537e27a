package mirror

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescp17/lanDrive/pkg/sandbox"
)

func newMirror(t *testing.T) (*Mirror, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "storage")
	box, err := sandbox.New(root)
	require.NoError(t, err)
	return New(box, "127.0.0.1:0", nil), box.Root()
}

func get(t *testing.T, m *Mirror, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)
	return rec
}

func TestServeFile(t *testing.T) {
	m, root := newMirror(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hello mirror"), 0o644))

	rec := get(t, m, "/hello.txt")
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello mirror", string(body))
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}

func TestContentTypeSniffedWithoutExtension(t *testing.T) {
	m, root := newMirror(t)
	// A PNG header with no file extension.
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}
	require.NoError(t, os.WriteFile(filepath.Join(root, "snapshot"), png, 0o644))

	rec := get(t, m, "/snapshot")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
}

func TestServeNestedFileWithEscapedName(t *testing.T) {
	m, root := newMirror(t)
	require.NoError(t, os.Mkdir(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "my report.txt"), []byte("nested"), 0o644))

	rec := get(t, m, "/docs/my%20report.txt")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nested", rec.Body.String())
}

func TestDirectoryIndexListsChildren(t *testing.T) {
	m, root := newMirror(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))

	rec := get(t, m, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	body := rec.Body.String()
	assert.Contains(t, body, `href="/a.txt"`)
	assert.Contains(t, body, "a.txt")
	assert.Contains(t, body, "sub/")
}

func TestDirectoryIndexEscapesNames(t *testing.T) {
	m, root := newMirror(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "<script>.txt"), []byte("x"), 0o644))

	rec := get(t, m, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.NotContains(t, body, "<script>.txt")
	assert.Contains(t, body, "&lt;script&gt;.txt")
}

func TestTraversalReadsAsNotFound(t *testing.T) {
	m, root := newMirror(t)
	secret := filepath.Join(filepath.Dir(root), "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("secret"), 0o644))

	for _, path := range []string{
		"/../secret.txt",
		"/..%2Fsecret.txt",
		"/docs/../../secret.txt",
	} {
		rec := get(t, m, path)
		assert.Equal(t, http.StatusNotFound, rec.Code, "path=%q", path)
		assert.NotContains(t, rec.Body.String(), "secret", "path=%q", path)
	}
}

func TestMissingFileIs404(t *testing.T) {
	m, _ := newMirror(t)
	rec := get(t, m, "/absent.txt")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWriteMethodsRefused(t *testing.T) {
	m, _ := newMirror(t)
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		req := httptest.NewRequest(method, "/hello.txt", nil)
		rec := httptest.NewRecorder()
		m.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, "method=%s", method)
	}
}

func TestStartAndShutdown(t *testing.T) {
	m, root := newMirror(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "live.txt"), []byte("live"), 0o644))

	require.NoError(t, m.Start())
	t.Cleanup(m.Shutdown)

	resp, err := http.Get("http://" + m.Addr().String() + "/live.txt")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "live", string(body))
}

func TestRangeRequest(t *testing.T) {
	m, root := newMirror(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "ranged.txt"), []byte(strings.Repeat("0123456789", 10)), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/ranged.txt", nil)
	req.Header.Set("Range", "bytes=10-19")
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "0123456789", rec.Body.String())
}
