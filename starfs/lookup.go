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
	"fmt"
	"strings"
)

// NameOf returns the final component of path.
func NameOf(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// DepthOf counts the directory levels of an absolute path; "/" is level 0.
func DepthOf(path string) int {
	if path == "/" {
		return 0
	}
	return strings.Count(path, "/")
}

func splitPath(path string) []string {
	var components []string
	for _, part := range strings.Split(path, "/") {
		if part != "" {
			components = append(components, part)
		}
	}
	return components
}

// LookupResult reports where a path walk ended. When Found is false,
// Dentry is the deepest entry reached: the directory a create would attach
// under, or the regular file that blocked the walk.
type LookupResult struct {
	Dentry *Dentry
	Found  bool
	IsRoot bool
}

// Lookup walks an absolute slash-separated path against the cached tree,
// faulting inodes in from disk on demand. A missing component is not an
// error; it is reported through Found.
func (fsys *Filesystem) Lookup(path string) (LookupResult, error) {
	if !strings.HasPrefix(path, "/") {
		return LookupResult{}, fmt.Errorf("lookup %q: path is not absolute: %w", path, ErrInvalid)
	}

	depth := DepthOf(path)
	if depth == 0 {
		return LookupResult{Dentry: fsys.root, Found: true, IsRoot: true}, nil
	}

	res := LookupResult{Dentry: fsys.root}
	cursor := fsys.root
	level := 0
	verdict := false

walk:
	for _, token := range splitPath(path) {
		level++

		if cursor.inode == nil {
			if _, err := fsys.ReadInode(cursor); err != nil {
				return LookupResult{}, err
			}
		}
		node := cursor.inode

		// A non-directory in the middle of the path ends the walk.
		if !cursor.IsDir() && level < depth {
			res.Dentry = cursor
			res.Found = false
			verdict = true
			break walk
		}

		child := node.FindChild(token)
		if child == nil {
			res.Dentry = cursor
			res.Found = false
			verdict = true
			break walk
		}

		if level == depth {
			res.Dentry = child
			res.Found = true
			verdict = true
			break walk
		}
		cursor = child
	}

	if !verdict {
		// Ran out of components before reaching the named depth (for
		// example a trailing slash); report how far we got.
		res.Dentry = cursor
		res.Found = level == depth
	}

	if res.Dentry.inode == nil {
		if _, err := fsys.ReadInode(res.Dentry); err != nil {
			return LookupResult{}, err
		}
	}

	return res, nil
}
