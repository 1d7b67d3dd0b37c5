package input

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadPathStaysWithinRoot(t *testing.T) {
	u, err := NewUploadState(t.TempDir())
	require.NoError(t, err)

	path, err := u.resolveSandboxed("sub/dir/file.txt")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(path))
}

func TestUploadPathEscapeRejected(t *testing.T) {
	u, err := NewUploadState(t.TempDir())
	require.NoError(t, err)

	_, err = u.resolveSandboxed("../../etc/passwd")
	assert.Error(t, err)
}

func TestParseUploadStart(t *testing.T) {
	rel, size, err := ParseUploadStart("FILE_UPLOAD_START:foo/bar.bin:4096")
	require.NoError(t, err)
	assert.Equal(t, "foo/bar.bin", rel)
	assert.Equal(t, int64(4096), size)
}

func TestParseUploadStartMalformed(t *testing.T) {
	_, _, err := ParseUploadStart("FILE_UPLOAD_START:onlyonepart")
	assert.Error(t, err)
}

func TestUploadLifecycle(t *testing.T) {
	u, err := NewUploadState(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, u.Start("a.bin"))
	require.NoError(t, u.Append("a.bin", []byte("hello")))
	require.NoError(t, u.End("a.bin"))
}
