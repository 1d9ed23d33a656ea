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
	"bytes"
	"encoding/binary"
)

// The volume is laid out as fixed regions, each aligned to a block:
//
//	[ superblock | inode bitmap | data bitmap | inode table | data area ]
//
// Records use the platform's native byte order; the format makes no
// portability claim across architectures.

// SuperBlockRecord is the on-disk superblock, the first record of block 0.
type SuperBlockRecord struct {
	Magic          uint32    // Filesystem magic number
	SizeUsage      int32     // Bytes in use, carried across mounts
	InodeMapBlocks int32     // Blocks occupied by the inode bitmap
	InodeMapOffset int32     // Byte offset of the inode bitmap
	DataMapBlocks  int32     // Blocks occupied by the data bitmap
	DataMapOffset  int32     // Byte offset of the data bitmap
	InodeOffset    int32     // Byte offset of the inode table
	DataOffset     int32     // Byte offset of the data area
}

// InodeRecord occupies the first block of an inode-table stride.
type InodeRecord struct {
	Ino          int32                // Index into the inode bitmap
	Size         int32                // Bytes of file content in use
	DirCount     int32                // Number of directory entries
	BlockPointer [DirectBlocks]int32  // Reserved, always zero on disk
	Type         FileType             // Object type
	Bno          [DirectBlocks]int32  // Data-area block numbers
}

// DentryRecord entries are packed back to back inside a directory's data
// blocks, never straddling a block boundary.
type DentryRecord struct {
	Name [NameMax]byte // Entry name, NUL-padded
	Type FileType      // Object type
	Ino  int32         // Inode number the entry points at
}

var (
	superBlockSize = int64(binary.Size(SuperBlockRecord{}))
	inodeSize      = int64(binary.Size(InodeRecord{}))
	dentrySize     = int64(binary.Size(DentryRecord{}))
)

func marshalRecord(v any) []byte {
	var buf bytes.Buffer
	// Writing fixed-size records into a bytes.Buffer cannot fail.
	_ = binary.Write(&buf, binary.NativeEndian, v)
	return buf.Bytes()
}

func unmarshalRecord(data []byte, v any) error {
	return binary.Read(bytes.NewReader(data), binary.NativeEndian, v)
}

// inodeRecordOffset locates the record for ino. The stride reserves room
// for the record and its direct blocks even though only the first block is
// used; existing volumes depend on it.
func (fsys *Filesystem) inodeRecordOffset(ino int32) int64 {
	return int64(fsys.inodeOffset) + int64(ino)*int64(fsys.blockSize)*inodeStride
}

// dataBlockOffset locates data block bno within the data area.
func (fsys *Filesystem) dataBlockOffset(bno int32) int64 {
	return int64(fsys.dataOffset) + int64(bno)*int64(fsys.blockSize)
}

// MinDeviceSize returns the smallest device, in bytes, that can hold the
// full layout at the given I/O unit size.
func MinDeviceSize(ioSize int) int64 {
	blockSize := int64(2 * ioSize)
	blocks := int64(SuperBlocks + InodeBitmapBlocks + DataBitmapBlocks +
		InodeCapacity*inodeStride + DataCapacity)
	return blocks * blockSize
}
