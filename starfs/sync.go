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

// Sync writes node and everything reachable from it back to the volume:
// the inode record, then for directories the packed entry records (child
// subtrees recursing in post-order as they are written), and for regular
// files and symlinks the content blocks.
//
// A failed transfer aborts the traversal; on-disk state may then be
// partially updated. The remedy is a fresh mount and a full sync.
func (fsys *Filesystem) Sync(node *Inode) error {
	if node.dentry.IsDir() {
		if err := fsys.growDirectory(node); err != nil {
			return err
		}
	}

	rec := InodeRecord{
		Ino:      node.ino,
		Size:     node.size,
		DirCount: node.dirCount,
		Type:     node.dentry.ftype,
		Bno:      node.bno,
	}
	if err := fsys.writeAt(fsys.inodeRecordOffset(node.ino), marshalRecord(&rec)); err != nil {
		return err
	}

	if node.dentry.IsDir() {
		return fsys.syncDirectory(node)
	}

	for k := range node.data {
		if node.data[k] == nil {
			continue
		}
		if err := fsys.writeAt(fsys.dataBlockOffset(node.bno[k]), node.data[k]); err != nil {
			return err
		}
	}

	return nil
}

// growDirectory makes sure the directory owns enough data blocks for its
// current entry count, allocating further bno slots on demand. Directories
// are capped at DirectBlocks blocks like everything else.
func (fsys *Filesystem) growDirectory(node *Inode) error {
	needed := usedDirBlocks(node.dirCount, fsys.blockSize)
	if needed > DirectBlocks {
		return fmt.Errorf("directory inode %d holds %d entries, more than its direct blocks can pack: %w",
			node.ino, node.dirCount, ErrInvalid)
	}

	for node.allocBlocks < needed {
		bno, err := fsys.AllocDataBlock()
		if err != nil {
			return err
		}
		node.bno[node.allocBlocks] = bno
		node.allocBlocks++
	}

	return nil
}

// syncDirectory packs the children into the directory's data blocks in
// list order, descending into each resident child as its record is
// written.
func (fsys *Filesystem) syncDirectory(node *Inode) error {
	child := node.children
	for k := 0; child != nil; k++ {
		if k >= node.allocBlocks {
			return fmt.Errorf("directory inode %d overran its allocated blocks: %w", node.ino, ErrInvalid)
		}

		off := fsys.dataBlockOffset(node.bno[k])
		limit := fsys.dataBlockOffset(node.bno[k] + 1)
		for child != nil {
			rec := DentryRecord{Type: child.ftype, Ino: child.ino}
			copy(rec.Name[:], child.name)
			if err := fsys.writeAt(off, marshalRecord(&rec)); err != nil {
				return err
			}

			if child.inode != nil {
				if err := fsys.Sync(child.inode); err != nil {
					return err
				}
			}

			child = child.sibling
			off += dentrySize
			if off+dentrySize > limit {
				break
			}
		}
	}

	return nil
}
