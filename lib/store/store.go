// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package store is the central directory of driver packages.
//
// The directory is the only source of truth: every listing re-reads it
// and every size comes from a fresh stat. Package names are plain file
// names within the directory, so anything containing a path separator
// or a dot-dot component is rejected before touching the filesystem.
//
// Uploads and listings are not mutually excluded. Uploads are rare
// operator actions and write through a temporary file that is renamed
// into place, so a concurrent listing sees either the old state or the
// complete new file.
package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// ErrNotFound is returned by Read and Stat for a name that is not a
// regular file in the store.
var ErrNotFound = errors.New("store: package not found")

// ErrInvalidName is returned for names that would escape the store
// directory or are otherwise unusable.
var ErrInvalidName = errors.New("store: invalid package name")

// Package describes one file in the store. It is computed fresh on
// every call and never cached.
type Package struct {
	Name    string    `cbor:"name" json:"name"`
	Size    int64     `cbor:"size" json:"size"`
	ModTime time.Time `cbor:"mod_time" json:"mod_time"`
}

// Store is a package directory.
type Store struct {
	dir string
}

// Open returns a Store rooted at dir, creating the directory if it
// does not exist.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating package store %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// List returns every regular file in the store, sorted by name.
// Subdirectories, symlinks, and dot-prefixed temporaries are omitted.
func (s *Store) List() ([]Package, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing package store: %w", err)
	}
	packages := make([]Package, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if errors.Is(err, fs.ErrNotExist) {
			// Removed between ReadDir and Info.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		packages = append(packages, Package{
			Name:    entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	slices.SortFunc(packages, func(a, b Package) int {
		return strings.Compare(a.Name, b.Name)
	})
	return packages, nil
}

// Stat returns the descriptor for one package.
func (s *Store) Stat(name string) (Package, error) {
	path, err := s.path(name)
	if err != nil {
		return Package{}, err
	}
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) || err == nil && !info.Mode().IsRegular() {
		return Package{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return Package{}, fmt.Errorf("stat %s: %w", name, err)
	}
	return Package{Name: name, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Read returns the full contents of one package.
func (s *Store) Read(name string) (Package, []byte, error) {
	pkg, err := s.Stat(name)
	if err != nil {
		return Package{}, nil, err
	}
	path, _ := s.path(name)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Package{}, nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return Package{}, nil, fmt.Errorf("reading package %s: %w", name, err)
	}
	// The size reported is what was read, in case the file changed
	// after the stat.
	pkg.Size = int64(len(data))
	return pkg, data, nil
}

// Upload copies the file at sourcePath into the store under its base
// name, replacing any existing package of that name. Permission bits
// and modification time are preserved.
func (s *Store) Upload(sourcePath string) (Package, error) {
	name := filepath.Base(sourcePath)
	target, err := s.path(name)
	if err != nil {
		return Package{}, err
	}

	source, err := os.Open(sourcePath)
	if err != nil {
		return Package{}, fmt.Errorf("opening upload source: %w", err)
	}
	defer source.Close()
	info, err := source.Stat()
	if err != nil {
		return Package{}, fmt.Errorf("stat upload source: %w", err)
	}
	if !info.Mode().IsRegular() {
		return Package{}, fmt.Errorf("upload source %s is not a regular file", sourcePath)
	}

	temporary, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return Package{}, fmt.Errorf("creating upload temporary: %w", err)
	}
	temporaryPath := temporary.Name()
	defer os.Remove(temporaryPath)

	if _, err := io.Copy(temporary, source); err != nil {
		temporary.Close()
		return Package{}, fmt.Errorf("copying %s: %w", sourcePath, err)
	}
	if err := temporary.Chmod(info.Mode().Perm()); err != nil {
		temporary.Close()
		return Package{}, fmt.Errorf("setting permissions on %s: %w", name, err)
	}
	if err := temporary.Close(); err != nil {
		return Package{}, fmt.Errorf("writing %s: %w", name, err)
	}
	if err := os.Chtimes(temporaryPath, info.ModTime(), info.ModTime()); err != nil {
		return Package{}, fmt.Errorf("setting times on %s: %w", name, err)
	}
	if err := os.Rename(temporaryPath, target); err != nil {
		return Package{}, fmt.Errorf("installing %s into store: %w", name, err)
	}
	return s.Stat(name)
}

func (s *Store) path(name string) (string, error) {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) ||
		strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.dir, name), nil
}
