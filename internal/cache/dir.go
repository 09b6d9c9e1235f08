package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DirBackend stores one JSON file per key, {symbol}_{interval}.json.
// Writes go through a temp file and a rename so readers never see a torn file.
type DirBackend struct {
	dir string
}

func NewDirBackend(dir string) (*DirBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache dir %s: %w", dir, err)
	}
	return &DirBackend{dir: dir}, nil
}

var unsafeName = strings.NewReplacer("/", "_", `\`, "_", ":", "_")

func (d *DirBackend) path(key Key) string {
	return filepath.Join(d.dir, unsafeName.Replace(key.String())+".json")
}

func (d *DirBackend) Load(_ context.Context, key Key) (*Entry, error) {
	b, err := os.ReadFile(d.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return decode(key, b)
}

func (d *DirBackend) Save(_ context.Context, e *Entry, _ time.Duration) error {
	b, err := encode(e)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(d.dir, ".entry-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), d.path(e.Key()))
}

func (d *DirBackend) Close() error { return nil }
