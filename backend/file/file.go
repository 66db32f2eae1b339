// Package file implements the FileStore backend: one file per key under a
// per-namespace directory.
//
//	<root>/<namespace hash>/<key hash>.cache
//
// File contents are the raw payload with no metadata, so entries never
// expire and Increment is a no-op. CreatedAt is the file's mtime.
package file

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/unkn0wn-root/polycache/backend"
	"github.com/unkn0wn-root/polycache/keycodec"
)

const (
	dirPerm  = 0o750
	filePerm = 0o600

	// Ext is the suffix of every entry file.
	Ext = ".cache"
)

var ErrNoRoot = errors.New("file backend: empty root directory")

type Store struct {
	root   string
	closed atomic.Bool
}

var _ backend.Backend = (*Store)(nil)

// New creates root if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, ErrNoRoot
	}
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, backend.Fault("file mkdir", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) Root() string { return s.root }

func (s *Store) check(k keycodec.DerivedKey) error {
	if s.closed.Load() {
		return backend.ErrUnavailable
	}
	return backend.RequireKey(k)
}

func (s *Store) dir(nsHash string) string { return filepath.Join(s.root, nsHash) }

func (s *Store) path(k keycodec.DerivedKey) string {
	return filepath.Join(s.dir(k.NamespaceHash), k.KeyHash+Ext)
}

func contents(v backend.Value) []byte {
	if v.IsNumeric() && !v.HasPayload() {
		return []byte(strconv.FormatFloat(v.Number(), 'f', -1, 64))
	}
	return v.Payload()
}

// Put ignores e.ExpiresAt.
func (s *Store) Put(_ context.Context, k keycodec.DerivedKey, e backend.Entry, overwrite bool) error {
	if err := s.check(k); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir(k.NamespaceHash), dirPerm); err != nil {
		return backend.Fault("file mkdir", err)
	}
	data := contents(e.Value)
	path := s.path(k)

	if !overwrite {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
		if errors.Is(err, fs.ErrExist) {
			return backend.ErrKeyExists
		}
		if err != nil {
			return backend.Fault("file create", err)
		}
		_, werr := f.Write(data)
		cerr := f.Close()
		if werr == nil {
			werr = cerr
		}
		if werr != nil {
			_ = os.Remove(path)
			return backend.Fault("file write", werr)
		}
		return nil
	}

	tmp, err := os.CreateTemp(s.dir(k.NamespaceHash), k.KeyHash+".*.tmp")
	if err != nil {
		return backend.Fault("file create", err)
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Rename(tmp.Name(), path)
	}
	if werr != nil {
		_ = os.Remove(tmp.Name())
		return backend.Fault("file write", werr)
	}
	return nil
}

// Get returns an opaque entry; the numeric tag is not stored.
func (s *Store) Get(_ context.Context, k keycodec.DerivedKey) (backend.Entry, error) {
	if err := s.check(k); err != nil {
		return backend.Entry{}, err
	}
	path := s.path(k)
	data, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, fs.ErrNotExist) {
		return backend.Entry{}, backend.ErrNotFound
	}
	if err != nil {
		return backend.Entry{}, backend.Fault("file read", err)
	}
	e := backend.Entry{Value: backend.Opaque(data)}
	if info, err := os.Stat(path); err == nil {
		e.CreatedAt = info.ModTime()
	}
	return e, nil
}

func (s *Store) Exists(_ context.Context, k keycodec.DerivedKey) (bool, error) {
	if err := s.check(k); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path(k))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, backend.Fault("file stat", err)
	}
	return true, nil
}

func (s *Store) Delete(_ context.Context, k keycodec.DerivedKey) error {
	if err := s.check(k); err != nil {
		return err
	}
	if err := os.Remove(s.path(k)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return backend.Fault("file remove", err)
	}
	return nil
}

// Increment does nothing: rewriting the file per increment is not supported.
func (s *Store) Increment(_ context.Context, k keycodec.DerivedKey, _ float64) error {
	return s.check(k)
}

// Clear removes the namespace directory, or every directory under root.
func (s *Store) Clear(_ context.Context, sc backend.Scope) error {
	if s.closed.Load() {
		return backend.ErrUnavailable
	}
	if !sc.All {
		if err := os.RemoveAll(s.dir(sc.NamespaceHash)); err != nil {
			return backend.Fault("file clear", err)
		}
		return nil
	}
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return backend.Fault("file clear", err)
	}
	for _, de := range entries {
		if !de.IsDir() {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, de.Name())); err != nil {
			return backend.Fault("file clear", err)
		}
	}
	return nil
}

func (s *Store) Close(context.Context) error {
	s.closed.Store(true)
	return nil
}
