// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package starfs

import (
	"io"
	"io/fs"
	"sort"
	"time"

	"github.com/dpeckett/blockfs"
)

var (
	_ fs.FS              = (*Filesystem)(nil)
	_ fs.ReadDirFS       = (*Filesystem)(nil)
	_ fs.StatFS          = (*Filesystem)(nil)
	_ blockfs.ReadLinkFS = (*Filesystem)(nil)
)

// resolve maps an io/fs name onto the cached tree. Symbolic links are
// never followed; the volume's resolver is purely structural.
func (fsys *Filesystem) resolve(op, name string) (*Dentry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}

	path := "/"
	if name != "." {
		path += name
	}

	res, err := fsys.Lookup(path)
	if err != nil {
		return nil, &fs.PathError{Op: op, Path: name, Err: err}
	}
	if !res.Found {
		return nil, &fs.PathError{Op: op, Path: name, Err: fs.ErrNotExist}
	}

	return res.Dentry, nil
}

// Open opens the named file for reading.
func (fsys *Filesystem) Open(name string) (fs.File, error) {
	de, err := fsys.resolve("open", name)
	if err != nil {
		return nil, err
	}

	return &file{fsys: fsys, de: de}, nil
}

// ReadDir returns the named directory's entries, sorted by name as the
// io/fs contract requires. The underlying cache keeps children in reverse
// insertion order; that order is visible through NthChild, not here.
func (fsys *Filesystem) ReadDir(name string) ([]fs.DirEntry, error) {
	de, err := fsys.resolve("readdir", name)
	if err != nil {
		return nil, err
	}
	if !de.IsDir() {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: ErrNotDir}
	}

	var entries []fs.DirEntry
	for child := de.inode.children; child != nil; child = child.sibling {
		entries = append(entries, &dirEntry{fsys: fsys, de: child})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	return entries, nil
}

// Stat returns a FileInfo describing the named file.
func (fsys *Filesystem) Stat(name string) (fs.FileInfo, error) {
	de, err := fsys.resolve("stat", name)
	if err != nil {
		return nil, err
	}

	return &fileInfo{de: de}, nil
}

// ReadLink returns the destination of the named symbolic link.
// Experimental implementation of: https://github.com/golang/go/issues/49580
func (fsys *Filesystem) ReadLink(name string) (string, error) {
	de, err := fsys.resolve("readlink", name)
	if err != nil {
		return "", err
	}
	if de.ftype != TypeSymlink {
		return "", &fs.PathError{Op: "readlink", Path: name, Err: fs.ErrInvalid}
	}

	return string(de.inode.data[0][:de.inode.size]), nil
}

// StatLink returns a FileInfo describing the file without following any symbolic links.
// Experimental implementation of: https://github.com/golang/go/issues/49580
func (fsys *Filesystem) StatLink(name string) (fs.FileInfo, error) {
	return fsys.Stat(name)
}

type file struct {
	fsys   *Filesystem
	de     *Dentry
	pos    int64
	dirPos int
}

func (f *file) Read(p []byte) (int, error) {
	if f.de.IsDir() {
		return 0, &fs.PathError{Op: "read", Path: f.de.name, Err: ErrIsDir}
	}

	node := f.de.inode
	size := int64(node.size)
	if f.pos >= size {
		return 0, io.EOF
	}

	blockSize := int64(f.fsys.blockSize)
	var n int
	for n < len(p) && f.pos < size {
		k := int(f.pos / blockSize)
		off := f.pos % blockSize

		chunk := blockSize - off
		if rest := size - f.pos; rest < chunk {
			chunk = rest
		}
		if rest := int64(len(p) - n); rest < chunk {
			chunk = rest
		}

		copy(p[n:], node.data[k][off:off+chunk])
		n += int(chunk)
		f.pos += chunk
	}

	return n, nil
}

func (f *file) Close() error {
	return nil
}

func (f *file) Stat() (fs.FileInfo, error) {
	return &fileInfo{de: f.de}, nil
}

// ReadDir lets an opened directory satisfy fs.ReadDirFile.
func (f *file) ReadDir(n int) ([]fs.DirEntry, error) {
	if !f.de.IsDir() {
		return nil, &fs.PathError{Op: "readdir", Path: f.de.name, Err: ErrNotDir}
	}

	var entries []fs.DirEntry
	for child := f.de.inode.children; child != nil; child = child.sibling {
		entries = append(entries, &dirEntry{fsys: f.fsys, de: child})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	rest := entries[min(f.dirPos, len(entries)):]
	if n <= 0 {
		f.dirPos = len(entries)
		return rest, nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	if n > len(rest) {
		n = len(rest)
	}
	f.dirPos += n
	return rest[:n], nil
}

type dirEntry struct {
	fsys *Filesystem
	de   *Dentry
}

func (e *dirEntry) Name() string {
	return e.de.name
}

func (e *dirEntry) IsDir() bool {
	return e.de.IsDir()
}

func (e *dirEntry) Type() fs.FileMode {
	return modeOf(e.de.ftype).Type()
}

func (e *dirEntry) Info() (fs.FileInfo, error) {
	if e.de.inode == nil {
		if _, err := e.fsys.ReadInode(e.de); err != nil {
			return nil, err
		}
	}

	return &fileInfo{de: e.de}, nil
}

type fileInfo struct {
	de *Dentry
}

func (fi *fileInfo) Name() string {
	return fi.de.name
}

func (fi *fileInfo) Size() int64 {
	if fi.de.inode == nil {
		return 0
	}
	return int64(fi.de.inode.size)
}

func (fi *fileInfo) Mode() fs.FileMode {
	return modeOf(fi.de.ftype)
}

// ModTime returns the zero time; the volume format stores no timestamps.
func (fi *fileInfo) ModTime() time.Time {
	return time.Time{}
}

func (fi *fileInfo) IsDir() bool {
	return fi.de.IsDir()
}

func (fi *fileInfo) Sys() any {
	return fi.de
}

func modeOf(t FileType) fs.FileMode {
	switch t {
	case TypeDirectory:
		return fs.ModeDir | 0o755
	case TypeSymlink:
		return fs.ModeSymlink | 0o777
	default:
		return 0o644
	}
}
