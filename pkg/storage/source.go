package storage

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/cuemby/fdfs/pkg/types"
)

// Source yields the bytes of a file to upload together with its length and
// extension
type Source interface {
	io.Reader
	Size() int64
	Ext() string
}

// LocalFile is a Source backed by a file on disk
type LocalFile struct {
	f    *os.File
	size int64
	ext  string
}

// OpenFile opens path for upload and derives its extension from the name
func OpenFile(path string) (*LocalFile, error) {
	ext, err := types.ExtFromName(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}

	return &LocalFile{f: f, size: info.Size(), ext: ext}, nil
}

func (l *LocalFile) Read(p []byte) (int, error) { return l.f.Read(p) }
func (l *LocalFile) Size() int64                { return l.size }
func (l *LocalFile) Ext() string                { return l.ext }
func (l *LocalFile) Close() error               { return l.f.Close() }

type bufferSource struct {
	*bytes.Reader
	ext string
}

func (b bufferSource) Ext() string { return b.ext }

// BufferSource wraps an in-memory payload
func BufferSource(data []byte, ext string) Source {
	return bufferSource{Reader: bytes.NewReader(data), ext: ext}
}
