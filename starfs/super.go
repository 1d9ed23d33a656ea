// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package starfs implements a small block-oriented filesystem over a
// character-style device: a superblock, an inode bitmap, a data bitmap, a
// strided inode table, and a data area, mirrored in memory by a lazily
// populated inode/dentry tree.
package starfs

import (
	"fmt"

	"github.com/dpeckett/blockfs/blockdev"
)

// Filesystem is a mounted volume: the superblock state, both allocation
// bitmaps, and the root of the cached namespace tree. It assumes a single
// caller; adapters serialize access themselves.
type Filesystem struct {
	dev blockdev.Device

	blockSize int32
	sizeDisk  int32
	sizeUsage int32

	inodeMap       []byte
	inodeMapBlocks int32
	inodeMapOffset int32

	dataMap       []byte
	dataMapBlocks int32
	dataMapOffset int32

	inodeOffset int32
	dataOffset  int32

	root    *Dentry
	mounted bool
}

// Mount opens the volume on dev. An unformatted device (wrong magic) is
// laid out afresh and given a root directory; an existing volume has its
// superblock and bitmaps loaded and its root faulted in.
func Mount(dev blockdev.Device) (*Filesystem, error) {
	fsys := &Filesystem{
		dev:       dev,
		sizeDisk:  int32(dev.Size()),
		blockSize: int32(2 * dev.IOSize()),
	}

	if int64(fsys.sizeDisk) < MinDeviceSize(dev.IOSize()) {
		return nil, fmt.Errorf("device holds %d bytes, layout needs %d: %w",
			fsys.sizeDisk, MinDeviceSize(dev.IOSize()), ErrInvalid)
	}

	root := NewDentry("/", TypeDirectory)

	buf := make([]byte, superBlockSize)
	if err := fsys.readAt(0, buf); err != nil {
		return nil, err
	}
	var rec SuperBlockRecord
	if err := unmarshalRecord(buf, &rec); err != nil {
		return nil, fmt.Errorf("%w: superblock: %v", ErrIO, err)
	}

	isInit := rec.Magic != Magic
	if isInit {
		blockSize := fsys.blockSize
		rec = SuperBlockRecord{
			Magic:          Magic,
			SizeUsage:      0,
			InodeMapBlocks: InodeBitmapBlocks,
			InodeMapOffset: SuperBlocks * blockSize,
			DataMapBlocks:  DataBitmapBlocks,
			DataMapOffset:  (SuperBlocks + InodeBitmapBlocks) * blockSize,
			InodeOffset:    (SuperBlocks + InodeBitmapBlocks + DataBitmapBlocks) * blockSize,
		}
		rec.DataOffset = rec.InodeOffset + InodeCapacity*inodeStride*blockSize
	}

	fsys.sizeUsage = rec.SizeUsage
	fsys.inodeMapBlocks = rec.InodeMapBlocks
	fsys.inodeMapOffset = rec.InodeMapOffset
	fsys.dataMapBlocks = rec.DataMapBlocks
	fsys.dataMapOffset = rec.DataMapOffset
	fsys.inodeOffset = rec.InodeOffset
	fsys.dataOffset = rec.DataOffset

	fsys.inodeMap = make([]byte, fsys.inodeMapBlocks*fsys.blockSize)
	fsys.dataMap = make([]byte, fsys.dataMapBlocks*fsys.blockSize)

	if err := fsys.readAt(int64(fsys.inodeMapOffset), fsys.inodeMap); err != nil {
		return nil, err
	}
	if err := fsys.readAt(int64(fsys.dataMapOffset), fsys.dataMap); err != nil {
		return nil, err
	}

	if isInit {
		if _, err := fsys.AllocInode(root); err != nil {
			return nil, err
		}
		if err := fsys.Sync(root.inode); err != nil {
			return nil, err
		}
	}

	// Always fault the root back in from disk, so the cached tree starts
	// from what the volume actually holds.
	root.ino = RootIno
	if _, err := fsys.readInode(root, RootIno); err != nil {
		return nil, err
	}
	fsys.root = root
	fsys.mounted = true

	return fsys, nil
}

// Unmount flushes the tree, the superblock and both bitmaps, then closes
// the device. Unmounting an unmounted volume is a no-op.
func (fsys *Filesystem) Unmount() error {
	if !fsys.mounted {
		return nil
	}

	if err := fsys.Sync(fsys.root.inode); err != nil {
		return err
	}

	rec := SuperBlockRecord{
		Magic:          Magic,
		SizeUsage:      fsys.sizeUsage,
		InodeMapBlocks: fsys.inodeMapBlocks,
		InodeMapOffset: fsys.inodeMapOffset,
		DataMapBlocks:  fsys.dataMapBlocks,
		DataMapOffset:  fsys.dataMapOffset,
		InodeOffset:    fsys.inodeOffset,
		DataOffset:     fsys.dataOffset,
	}
	if err := fsys.writeAt(0, marshalRecord(&rec)); err != nil {
		return err
	}

	if err := fsys.writeAt(int64(fsys.inodeMapOffset), fsys.inodeMap); err != nil {
		return err
	}
	if err := fsys.writeAt(int64(fsys.dataMapOffset), fsys.dataMap); err != nil {
		return err
	}

	fsys.inodeMap = nil
	fsys.dataMap = nil
	fsys.mounted = false

	return fsys.dev.Close()
}

// Root returns the root dentry; its inode is always resident while the
// volume is mounted.
func (fsys *Filesystem) Root() *Dentry {
	return fsys.root
}

// BlockSize returns the volume's logical block size, twice the device's
// I/O unit.
func (fsys *Filesystem) BlockSize() int32 {
	return fsys.blockSize
}

// MaxFileSize returns the largest content size one inode can hold.
func (fsys *Filesystem) MaxFileSize() int32 {
	return fsys.blockSize * DirectBlocks
}

// Stats describes the volume's capacity and current allocation.
type Stats struct {
	BlockSize  int32
	Inodes     int32
	InodesUsed int32
	Blocks     int32
	BlocksUsed int32
}

// Stats reports capacity and usage counted from the in-memory bitmaps.
func (fsys *Filesystem) Stats() Stats {
	return Stats{
		BlockSize:  fsys.blockSize,
		Inodes:     InodeCapacity,
		InodesUsed: int32(countBits(fsys.inodeMap)),
		Blocks:     DataCapacity,
		BlocksUsed: int32(countBits(fsys.dataMap)),
	}
}
