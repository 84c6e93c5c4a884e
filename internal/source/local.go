package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LocalSource reads CloudTrail-style files from a directory tree.
// It has no notion of a cutoff: every matching file is returned on every run.
type LocalSource struct {
	dir string
}

// List walks the directory for *.json and *.json.gz files in lexical order.
// The since argument is ignored.
func (s *LocalSource) List(ctx context.Context, _ time.Time) ([]Object, error) {
	objects := make([]Object, 0)
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !isLogFile(path) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, Object{Key: path, LastModified: info.ModTime(), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.dir, err)
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// Read opens and decodes one file.
func (s *LocalSource) Read(_ context.Context, object Object) (Document, error) {
	file, err := os.Open(object.Key)
	if err != nil {
		return Document{}, err
	}
	defer file.Close()

	doc, err := Decode(file)
	if err != nil {
		return Document{}, fmt.Errorf("%s: %w", object.Key, err)
	}
	return doc, nil
}

func isLogFile(path string) bool {
	return strings.HasSuffix(path, ".json") || strings.HasSuffix(path, ".json.gz")
}

// NewLocalSource creates a source over dir.
func NewLocalSource(dir string) *LocalSource {
	return &LocalSource{dir: dir}
}
