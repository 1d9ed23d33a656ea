// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package copyfs populates a mounted starfs volume from any fs.FS:
// directories, regular files, and (when the source supports them)
// symbolic links.
package copyfs

import (
	"fmt"
	"io"
	"io/fs"
	"path"

	"github.com/dpeckett/blockfs"
	"github.com/dpeckett/blockfs/starfs"
)

// Copy walks src and recreates it under dst's root. Files larger than the
// volume's per-file budget fail with starfs.ErrNoSpace, existing names
// with starfs.ErrExists. The new tree is left dirty in the cache; flush it
// by syncing the root or unmounting.
func Copy(dst *starfs.Filesystem, src fs.FS) error {
	return fs.WalkDir(src, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if name == "." {
			return nil
		}

		switch {
		case d.IsDir():
			_, err := makeNode(dst, name, starfs.TypeDirectory)
			return err

		case d.Type()&fs.ModeSymlink != 0:
			linkFS, ok := src.(blockfs.ReadLinkFS)
			if !ok {
				return fmt.Errorf("source FS does not support symlinks: %s", name)
			}

			target, err := linkFS.ReadLink(name)
			if err != nil {
				return err
			}
			// Link targets live in the first content block.
			if int64(len(target)) > int64(dst.BlockSize()) {
				return fmt.Errorf("%s: link target of %d bytes: %w", name, len(target), starfs.ErrNoSpace)
			}

			de, err := makeNode(dst, name, starfs.TypeSymlink)
			if err != nil {
				return err
			}
			return writeContent(dst, de.Inode(), []byte(target))

		default:
			data, err := readFile(src, name)
			if err != nil {
				return err
			}

			de, err := makeNode(dst, name, starfs.TypeRegular)
			if err != nil {
				return err
			}
			return writeContent(dst, de.Inode(), data)
		}
	})
}

// makeNode creates one entry under its (already created) parent directory.
func makeNode(dst *starfs.Filesystem, name string, ftype starfs.FileType) (*starfs.Dentry, error) {
	res, err := dst.Lookup("/" + name)
	if err != nil {
		return nil, err
	}
	if res.Found {
		return nil, fmt.Errorf("%s: %w", name, starfs.ErrExists)
	}

	parent := res.Dentry
	if !parent.IsDir() {
		return nil, fmt.Errorf("%s: %w", path.Dir(name), starfs.ErrNotDir)
	}

	de := starfs.NewDentry(path.Base(name), ftype)
	if _, err := dst.AllocInode(de); err != nil {
		return nil, err
	}
	parent.Inode().AttachChild(de)

	return de, nil
}

func writeContent(dst *starfs.Filesystem, node *starfs.Inode, data []byte) error {
	if int64(len(data)) > int64(dst.MaxFileSize()) {
		return fmt.Errorf("%d bytes exceed the per-file budget of %d: %w",
			len(data), dst.MaxFileSize(), starfs.ErrNoSpace)
	}

	node.SetSize(int32(len(data)))
	for k := 0; len(data) > 0; k++ {
		n := copy(node.Data(k), data)
		data = data[n:]
	}

	return nil
}

func readFile(src fs.FS, name string) ([]byte, error) {
	f, err := src.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}
