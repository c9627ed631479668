package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/sentimentjester/jester/internal/model"
)

// Files keeps every document as dir/<name>.json.
type Files struct {
	dir string
	mx  sync.Mutex
}

func NewFiles(dir string) (*Files, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %w", model.ErrStoreUnavailable, dir, err)
	}
	return &Files{dir: dir}, nil
}

func (f *Files) path(name string) string {
	return filepath.Join(f.dir, name+".json")
}

func (f *Files) Load(_ context.Context, name string) ([]byte, error) {
	body, err := os.ReadFile(f.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, model.ErrNotFound
	}
	return body, err
}

// Save replaces the document atomically: a reader observes either the old
// or the new content.
func (f *Files) Save(ctx context.Context, name string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mx.Lock()
	defer f.mx.Unlock()
	return WriteFileAtomic(f.path(name), body)
}

func (f *Files) Close() error {
	return nil
}

// WriteFileAtomic writes body to a temporary file next to path and renames
// it over path.
func WriteFileAtomic(path string, body []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	_, err = tmp.Write(body)
	if err == nil {
		err = tmp.Sync()
	}
	err = errors.Join(err, tmp.Close())
	if err == nil {
		err = os.Chmod(name, 0o644)
	}
	if err == nil {
		err = os.Rename(name, path)
	}
	if err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
