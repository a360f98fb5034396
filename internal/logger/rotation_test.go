package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRotatingWriter(t *testing.T) {
	t.Run("creates file and directory", func(t *testing.T) {
		tmpDir := t.TempDir()
		logFile := filepath.Join(tmpDir, "logs", "k8sai.log")

		rw, err := NewRotatingWriter(logFile, 10, 7, false)
		require.NoError(t, err)
		defer rw.Close()

		_, err = os.Stat(logFile)
		assert.NoError(t, err)
	})

	t.Run("resumes size from existing file", func(t *testing.T) {
		tmpDir := t.TempDir()
		logFile := filepath.Join(tmpDir, "k8sai.log")
		require.NoError(t, os.WriteFile(logFile, []byte("previous contents\n"), 0o644))

		rw, err := NewRotatingWriter(logFile, 10, 7, false)
		require.NoError(t, err)
		defer rw.Close()

		assert.Equal(t, int64(len("previous contents\n")), rw.size)
	})
}

func TestRotatingWriterWrite(t *testing.T) {
	tmpDir := t.TempDir()
	logFile := filepath.Join(tmpDir, "k8sai.log")

	rw, err := NewRotatingWriter(logFile, 10, 7, false)
	require.NoError(t, err)
	defer rw.Close()

	line := []byte("agent run completed\n")
	n, err := rw.Write(line)
	require.NoError(t, err)
	assert.Equal(t, len(line), n)

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, line, data)
}

func TestRotatingWriterRotation(t *testing.T) {
	tmpDir := t.TempDir()
	logFile := filepath.Join(tmpDir, "k8sai.log")

	rw, err := NewRotatingWriter(logFile, 10, 0, false)
	require.NoError(t, err)
	defer rw.Close()

	// Force the next write over the threshold.
	rw.maxSize = 8
	_, err = rw.Write(bytes.Repeat([]byte("x"), 16))
	require.NoError(t, err)

	rotated, err := filepath.Glob(logFile + ".*")
	require.NoError(t, err)
	assert.Len(t, rotated, 1)

	// The fresh file holds only the write that triggered rotation.
	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, 16, len(data))
}

func TestRotatingWriterZeroMaxSize(t *testing.T) {
	tmpDir := t.TempDir()
	logFile := filepath.Join(tmpDir, "k8sai.log")

	rw, err := NewRotatingWriter(logFile, 0, 0, false)
	require.NoError(t, err)
	defer rw.Close()

	// maxSize 0 disables rotation entirely.
	for i := 0; i < 10; i++ {
		_, err = rw.Write(bytes.Repeat([]byte("y"), 128))
		require.NoError(t, err)
	}

	rotated, err := filepath.Glob(logFile + ".*")
	require.NoError(t, err)
	assert.Empty(t, rotated)
}

func TestRotatingWriterClose(t *testing.T) {
	tmpDir := t.TempDir()
	logFile := filepath.Join(tmpDir, "k8sai.log")

	rw, err := NewRotatingWriter(logFile, 10, 7, false)
	require.NoError(t, err)

	require.NoError(t, rw.Close())
	assert.NoError(t, rw.Close(), "double close is safe")
}
