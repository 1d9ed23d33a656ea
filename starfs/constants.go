// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package starfs

const (
	// Magic identifies a formatted volume.
	Magic = 0x52415453

	// NameMax is the fixed size of an on-disk entry name, NUL-padded.
	NameMax = 128

	// DirectBlocks is the number of data blocks directly reachable from one
	// inode. There is no indirection, so it also caps the size of a file.
	DirectBlocks = 6

	// Fixed region sizes, in blocks.
	SuperBlocks       = 1
	InodeBitmapBlocks = 1
	DataBitmapBlocks  = 1

	// InodeCapacity and DataCapacity bound the two bitmap allocators.
	InodeCapacity = 585
	DataCapacity  = 3508

	// RootIno is the inode number of the root directory.
	RootIno = 0

	// inodeStride is the number of blocks one inode-table slot reserves:
	// room for the record plus its direct blocks. Only the first block of
	// the stride holds the record; the rest is kept for compatibility with
	// existing volumes.
	inodeStride = 1 + DirectBlocks
)

// FileType is the closed set of object types an inode or dentry record can
// describe, serialized as a fixed-width integer.
type FileType int32

const (
	TypeRegular FileType = iota
	TypeDirectory
	TypeSymlink
)

func (t FileType) String() string {
	switch t {
	case TypeRegular:
		return "regular"
	case TypeDirectory:
		return "directory"
	case TypeSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}
