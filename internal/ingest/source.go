package ingest

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// Source is one tabular dataset shard.
type Source interface {
	Name() string
	Open(ctx context.Context) (io.ReadCloser, error)
}

// FileSource reads a CSV shard from disk. Files ending in .gz are decompressed transparently.
type FileSource struct {
	Path string
}

// FileSources wraps each path in a FileSource.
func FileSources(paths ...string) []Source {
	out := make([]Source, 0, len(paths))
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, FileSource{Path: p})
		}
	}
	return out
}

// Name returns the file path.
func (f FileSource) Name() string { return f.Path }

// Open opens the file, wrapping it in a gzip reader when needed.
func (f FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(strings.ToLower(f.Path), ".gz") {
		return file, nil
	}
	zr, err := gzip.NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("gzip header: %w", err)
	}
	return &gzipFile{Reader: zr, file: file}, nil
}

type gzipFile struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipFile) Close() error {
	zerr := g.Reader.Close()
	if err := g.file.Close(); err != nil {
		return err
	}
	return zerr
}
