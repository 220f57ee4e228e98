package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/fdfs/pkg/fdfstest"
	"github.com/cuemby/fdfs/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMeta(t *testing.T) {
	md, err := parseMeta([]string{"owner=alice", "note=a=b", "owner=bob"})
	require.NoError(t, err)
	assert.Equal(t, types.Metadata{{Name: "owner", Value: "bob"}, {Name: "note", Value: "a=b"}}, md)

	_, err = parseMeta([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseMeta([]string{"=v"})
	assert.ErrorIs(t, err, types.ErrInvalidMetadata)

	md, err = parseMeta(nil)
	require.NoError(t, err)
	assert.Empty(t, md)
}

func TestUploadAndDeleteRecordCatalog(t *testing.T) {
	srv := fdfstest.Start(t)
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "catalog.db")
	src := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello world!"), 0o644))

	cfgPath := filepath.Join(dir, "fdfs.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("catalog: {path: "+catalogPath+"}\n"), 0o644))

	run := func(args ...string) error {
		rootCmd.SetArgs(append([]string{"--config", cfgPath, "--tracker", srv.Addr(), "--timeout", "2s"}, args...))
		return rootCmd.ExecuteContext(context.Background())
	}

	require.NoError(t, run("upload", src, "--meta", "owner=alice"))
	files := srv.Files()
	require.Len(t, files, 1)
	assert.Equal(t, 2*time.Second, cfg.Timeout)

	store, err := openCatalog()
	require.NoError(t, err)
	rec, err := store.Get(files[0])
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", rec.Name)
	assert.Equal(t, int64(12), rec.Size)
	require.NoError(t, store.Close())

	require.NoError(t, run("meta", "set", files[0], "owner=bob", "--merge"))
	group, filename, err := types.SplitFileID(files[0])
	require.NoError(t, err)
	f, ok := srv.File(group, filename)
	require.True(t, ok)
	assert.Equal(t, "bob", f.Meta.Map()["owner"])

	require.NoError(t, run("delete", files[0]))
	assert.Empty(t, srv.Files())

	store, err = openCatalog()
	require.NoError(t, err)
	defer store.Close()
	all, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, all)
}
