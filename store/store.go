// Package store holds the keyed byte stores that partition pieces pass
// through on their way to the global snapshot.
package store

import (
	"context"
	"errors"
	"io/ioutil"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"go.uber.org/multierr"
	billy "gopkg.in/src-d/go-billy.v4"
	"gopkg.in/src-d/go-billy.v4/memfs"
	"gopkg.in/src-d/go-billy.v4/osfs"
)

// ErrNotFound is returned by Get for keys that have never been written or
// have been deleted.
var ErrNotFound = errors.New("store: key not found")

// Store is a flat key/value store. Keys are slash-separated paths. Put must
// be atomic: a concurrent Get sees either nothing or the whole value.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns every key starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// FS is a Store that keeps one file per key in a billy filesystem.
type FS struct {
	// Filesystem is an object representing the directory to use for storage.
	Filesystem billy.Filesystem
	// Serial makes every operation hold a lock, for filesystems like memfs
	// that are not safe for concurrent use.
	Serial bool

	mu sync.Mutex
}

var _ Store = (*FS)(nil)

// NewMemory returns an FS backed by an in-memory filesystem.
func NewMemory() *FS { return &FS{Filesystem: memfs.New(), Serial: true} }

func (s *FS) lock() func() {
	if !s.Serial {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// NewDir returns an FS rooted at dir on the host filesystem.
func NewDir(dir string) *FS { return &FS{Filesystem: osfs.New(dir)} }

// Put writes to a temporary file first and renames it into place.
func (s *FS) Put(ctx context.Context, key string, data []byte) error {
	defer s.lock()()
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, base := path.Split(key)
	if dir != "" {
		if err := s.Filesystem.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	temp, err := s.Filesystem.TempFile(dir, "."+base)
	if err != nil {
		return err
	}

	if _, err = temp.Write(data); err != nil {
		err = multierr.Append(err, temp.Close())
		return multierr.Append(err, s.Filesystem.Remove(temp.Name()))
	}
	if err = temp.Close(); err != nil {
		return multierr.Append(err, s.Filesystem.Remove(temp.Name()))
	}
	return s.Filesystem.Rename(temp.Name(), key)
}

func (s *FS) Get(ctx context.Context, key string) ([]byte, error) {
	defer s.lock()()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := s.Filesystem.Open(key)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}

	buf, err := ioutil.ReadAll(file)
	return buf, multierr.Append(err, file.Close())
}

func (s *FS) Delete(ctx context.Context, key string) error {
	defer s.lock()()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.Filesystem.Remove(key); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *FS) List(ctx context.Context, prefix string) ([]string, error) {
	defer s.lock()()
	var keys []string
	err := s.walk(ctx, ".", func(key string) {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// walk visits every stored key below dir. Temporary files start with '.'
// and are skipped.
func (s *FS) walk(ctx context.Context, dir string, visit func(string)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	infos, err := s.Filesystem.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return err
	}

	for _, info := range infos {
		name := info.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		key := path.Join(dir, name)
		if info.IsDir() {
			if err := s.walk(ctx, key, visit); err != nil {
				return err
			}
		} else {
			visit(key)
		}
	}
	return nil
}

// DeletePrefix removes every key starting with prefix.
func DeletePrefix(ctx context.Context, s Store, prefix string) error {
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		err = multierr.Append(err, s.Delete(ctx, key))
	}
	return err
}
