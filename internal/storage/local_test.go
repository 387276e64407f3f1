package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestObjectStore(t *testing.T) (*LocalObjectStore, string) {
	t.Helper()
	dir := t.TempDir()
	objectStore, err := NewLocalObjectStore(dir)
	require.NoError(t, err)
	return objectStore, dir
}

func TestLocalObjectStorePutObject(t *testing.T) {
	objectStore, baseDir := setupTestObjectStore(t)

	bucket := "archive"
	key := "run-1/PROC_a1b2/p1.xml"
	content := []byte("<page/>")

	err := objectStore.PutObject(context.Background(), bucket, key, bytes.NewReader(content))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(baseDir, bucket, "run-1", "PROC_a1b2", "p1.xml"))
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestLocalObjectStoreCreateBucket(t *testing.T) {
	objectStore, baseDir := setupTestObjectStore(t)

	require.NoError(t, objectStore.CreateBucket(context.Background(), "archive"))

	info, err := os.Stat(filepath.Join(baseDir, "archive"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLocalObjectStoreUploadDir(t *testing.T) {
	objectStore, baseDir := setupTestObjectStore(t)

	srcDir := t.TempDir()
	files := []string{"p1.xml", "p2.xml", "sub/p3.xml"}
	for _, file := range files {
		path := filepath.Join(srcDir, file)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), os.ModePerm))
		require.NoError(t, os.WriteFile(path, []byte("content"), os.ModePerm))
	}

	err := objectStore.UploadDir(context.Background(), "archive", "run-1/PROC_a1b2", srcDir)
	require.NoError(t, err)

	for _, file := range files {
		data, err := os.ReadFile(filepath.Join(baseDir, "archive", "run-1", "PROC_a1b2", file))
		require.NoError(t, err)
		assert.Equal(t, "content", string(data))
	}
}

func TestLocalObjectStoreDownloadDir(t *testing.T) {
	objectStore, baseDir := setupTestObjectStore(t)

	files := []string{"p1.xml", "sub/p2.xml"}
	for _, file := range files {
		path := filepath.Join(baseDir, "archive", "run-1", file)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), os.ModePerm))
		require.NoError(t, os.WriteFile(path, []byte("content"), os.ModePerm))
	}

	destDir := filepath.Join(t.TempDir(), "restored")
	err := objectStore.DownloadDir(context.Background(), "archive", "run-1", destDir, false)
	require.NoError(t, err)

	for _, file := range files {
		data, err := os.ReadFile(filepath.Join(destDir, file))
		require.NoError(t, err)
		assert.Equal(t, "content", string(data))
	}
}

func TestLocalObjectStoreDownloadDirOverwrite(t *testing.T) {
	objectStore, baseDir := setupTestObjectStore(t)

	path := filepath.Join(baseDir, "archive", "run-1", "p1.xml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), os.ModePerm))
	require.NoError(t, os.WriteFile(path, []byte("new"), os.ModePerm))

	destDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(destDir, "stale.xml"), []byte("old"), os.ModePerm))

	err := objectStore.DownloadDir(context.Background(), "archive", "run-1", destDir, false)
	require.Error(t, err, "existing destination is not clobbered without overwrite")

	err = objectStore.DownloadDir(context.Background(), "archive", "run-1", destDir, true)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(destDir, "stale.xml"))
	assert.True(t, os.IsNotExist(err))

	data, err := os.ReadFile(filepath.Join(destDir, "p1.xml"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}
