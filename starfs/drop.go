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
)

// Drop releases everything beneath node from the cache. A leaf node is
// unbound from its dentry as well; a directory node stays bound to its
// dentry, left with no children. Only leaf
// inodes (regular files and symlinks) give their inode-bitmap bit back;
// interior directories keep theirs, and the data bitmap is never touched.
// Remove pairs this primitive with the bitmap clears needed for full
// reclamation.
func (fsys *Filesystem) Drop(node *Inode) error {
	if node == fsys.root.inode {
		return fmt.Errorf("drop of the root inode: %w", ErrInvalid)
	}

	if node.dentry.IsDir() {
		child := node.children
		for child != nil {
			next := child.sibling
			if child.inode != nil {
				if err := fsys.Drop(child.inode); err != nil {
					return err
				}
			}
			if _, err := node.DetachChild(child); err != nil {
				return err
			}
			child.inode = nil
			child = next
		}
		return nil
	}

	fsys.FreeInode(node.ino)
	node.data = [DirectBlocks][]byte{}
	node.dentry.inode = nil
	return nil
}

// Remove unlinks d from its parent and reclaims the whole subtree in both
// bitmaps: every inode number and every backed data block beneath d,
// including the directory bits Drop leaves alone. Children that were never
// faulted in are read from disk first so their extents are known.
func (fsys *Filesystem) Remove(d *Dentry) error {
	if d == fsys.root || d.parent == nil {
		return fmt.Errorf("remove of the root dentry: %w", ErrInvalid)
	}

	parent := d.parent.inode
	if parent == nil {
		return fmt.Errorf("remove %q from a parent that is not resident: %w", d.name, ErrInvalid)
	}

	var inos []int32
	var bnos []int32
	var collect func(d *Dentry) error
	collect = func(d *Dentry) error {
		node := d.inode
		if node == nil {
			var err error
			if node, err = fsys.ReadInode(d); err != nil {
				return err
			}
		}

		inos = append(inos, node.ino)
		bnos = append(bnos, node.bno[:node.allocBlocks]...)

		if d.IsDir() {
			for child := node.children; child != nil; child = child.sibling {
				if err := collect(child); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := collect(d); err != nil {
		return err
	}

	if _, err := parent.DetachChild(d); err != nil {
		return err
	}
	if err := fsys.Drop(d.inode); err != nil {
		return err
	}

	for _, ino := range inos {
		fsys.FreeInode(ino)
	}
	for _, bno := range bnos {
		fsys.FreeDataBlock(bno)
	}

	return nil
}
