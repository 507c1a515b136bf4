package media

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, data []byte) string {
	path := filepath.Join(t.TempDir(), "input.ts")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestFileSourceReadsAll(t *testing.T) {
	data := make([]byte, 5000)
	for i := range data {
		data[i] = byte(i)
	}
	fs, err := OpenFileSource(writeTempFile(t, data), 0, false)
	require.NoError(t, err)
	defer fs.Close()

	got, err := io.ReadAll(fs)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFileSourcePaced(t *testing.T) {
	// 8000 bit/s is 1000 bytes/s: the second 100-byte read is due 100ms
	// after the first.
	fs, err := OpenFileSource(writeTempFile(t, make([]byte, 200)), 8000, false)
	require.NoError(t, err)
	defer fs.Close()

	buf := make([]byte, 100)
	start := time.Now()
	_, err = io.ReadFull(fs, buf)
	require.NoError(t, err)
	_, err = io.ReadFull(fs, buf)
	require.NoError(t, err)
	assert.True(t, time.Since(start) >= 90*time.Millisecond)
}

func TestFileSourceLoopAndClose(t *testing.T) {
	fs, err := OpenFileSource(writeTempFile(t, []byte("abc")), 0, true)
	require.NoError(t, err)

	buf := make([]byte, 3)
	for i := 0; i < 3; i++ {
		_, err := io.ReadFull(fs, buf)
		require.NoError(t, err)
		assert.Equal(t, "abc", string(buf))
	}

	require.NoError(t, fs.Close())
	require.NoError(t, fs.Close())
	_, err = fs.Read(buf)
	assert.Error(t, err)
}

func TestOpenSource(t *testing.T) {
	path := writeTempFile(t, []byte("xyz"))

	for _, spec := range []string{"file:" + path, path} {
		src, err := OpenSource(spec, SourceOptions{})
		require.NoError(t, err, spec)
		b, err := io.ReadAll(src)
		assert.NoError(t, err)
		assert.Equal(t, "xyz", string(b))
		src.Close()
	}

	src, err := OpenSource("stdin:", SourceOptions{})
	require.NoError(t, err)
	assert.Equal(t, os.Stdin, src)

	_, err = OpenSource("stdin:foo", SourceOptions{})
	assert.Error(t, err)
	_, err = OpenSource("", SourceOptions{})
	assert.Error(t, err)
	_, err = OpenSource("file:"+filepath.Join(t.TempDir(), "missing.ts"), SourceOptions{})
	assert.Error(t, err)
}
