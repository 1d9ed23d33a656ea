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
	"fmt"
)

// Dentry models one edge in the namespace tree: a name binding inside a
// directory. Children of a directory are threaded through sibling as a
// singly-linked list in reverse insertion order.
type Dentry struct {
	name    string
	ftype   FileType
	ino     int32
	parent  *Dentry
	sibling *Dentry
	inode   *Inode
}

// NewDentry returns a detached dentry; AllocInode or ReadInode bind it to
// an inode, AttachChild links it into a directory.
func NewDentry(name string, ftype FileType) *Dentry {
	return &Dentry{name: name, ftype: ftype, ino: -1}
}

func (d *Dentry) Name() string {
	return d.name
}

func (d *Dentry) Type() FileType {
	return d.ftype
}

// Ino returns the inode number the dentry points at, or -1 while unbound.
func (d *Dentry) Ino() int32 {
	return d.ino
}

func (d *Dentry) Parent() *Dentry {
	return d.parent
}

// Inode returns the resident inode, or nil if it has not been faulted in.
func (d *Dentry) Inode() *Inode {
	return d.inode
}

func (d *Dentry) IsDir() bool {
	return d.ftype == TypeDirectory
}

// Rename changes the name under which the dentry is linked. The caller is
// responsible for keeping the parent directory's entries coherent.
func (d *Dentry) Rename(name string) {
	d.name = name
}

// Inode is the in-memory image of one on-disk inode record, plus the
// cached state hanging off it: children dentries for directories, content
// buffers for regular files and symlinks.
type Inode struct {
	ino      int32
	size     int32
	dirCount int32
	bno      [DirectBlocks]int32

	// allocBlocks is the number of bno slots currently backed by the data
	// bitmap. Directories start with one and grow during sync; regular
	// files and symlinks always hold all DirectBlocks.
	allocBlocks int

	dentry   *Dentry
	children *Dentry
	data     [DirectBlocks][]byte
}

func (ino *Inode) Ino() int32 {
	return ino.ino
}

func (ino *Inode) Size() int32 {
	return ino.size
}

// SetSize records the number of content bytes in use. It does not move
// data; callers writing through Data keep it up to date.
func (ino *Inode) SetSize(size int32) {
	ino.size = size
}

func (ino *Inode) DirCount() int32 {
	return ino.dirCount
}

// Type reports the object type, read through the owning dentry.
func (ino *Inode) Type() FileType {
	return ino.dentry.ftype
}

// Dentry returns the owning dentry.
func (ino *Inode) Dentry() *Dentry {
	return ino.dentry
}

// Data returns the content buffer for direct block k. The buffer is
// mutable and BlockSize bytes long; it is nil for directories.
func (ino *Inode) Data(k int) []byte {
	return ino.data[k]
}

// AttachChild prepends d onto the directory's children list and adopts it.
// It returns the new entry count.
func (ino *Inode) AttachChild(d *Dentry) int32 {
	d.sibling = ino.children
	d.parent = ino.dentry
	ino.children = d
	ino.dirCount++
	return ino.dirCount
}

// DetachChild unlinks the first occurrence of d (by identity) from the
// children list and returns the new entry count.
func (ino *Inode) DetachChild(d *Dentry) (int32, error) {
	switch {
	case ino.children == d:
		ino.children = d.sibling
	default:
		cursor := ino.children
		for cursor != nil && cursor.sibling != d {
			cursor = cursor.sibling
		}
		if cursor == nil {
			return 0, fmt.Errorf("detach %q: %w", d.name, ErrNotFound)
		}
		cursor.sibling = d.sibling
	}

	d.sibling = nil
	d.parent = nil
	ino.dirCount--
	return ino.dirCount, nil
}

// NthChild returns the child at zero-based position n in list order
// (reverse insertion order), or nil when n is out of range.
func (ino *Inode) NthChild(n int) *Dentry {
	cursor := ino.children
	for i := 0; cursor != nil; i++ {
		if i == n {
			return cursor
		}
		cursor = cursor.sibling
	}
	return nil
}

// FindChild returns the first child whose name equals name, or nil.
func (ino *Inode) FindChild(name string) *Dentry {
	for cursor := ino.children; cursor != nil; cursor = cursor.sibling {
		if cursor.name == name {
			return cursor
		}
	}
	return nil
}

// AllocInode backs d with a freshly allocated inode. Directories receive
// their first data block immediately and grow during sync; regular files
// and symlinks receive all DirectBlocks data blocks and content buffers
// up front, so sync can write them unconditionally.
func (fsys *Filesystem) AllocInode(d *Dentry) (*Inode, error) {
	ino, err := fsys.AllocInodeNumber()
	if err != nil {
		return nil, err
	}

	node := &Inode{ino: ino, dentry: d}
	d.inode = node
	d.ino = ino

	if d.IsDir() {
		bno, err := fsys.AllocDataBlock()
		if err != nil {
			return nil, err
		}
		node.bno[0] = bno
		node.allocBlocks = 1
		return node, nil
	}

	for k := 0; k < DirectBlocks; k++ {
		bno, err := fsys.AllocDataBlock()
		if err != nil {
			return nil, err
		}
		node.bno[k] = bno
		node.data[k] = make([]byte, fsys.blockSize)
	}
	node.allocBlocks = DirectBlocks

	return node, nil
}

// ReadInode faults the inode d points at in from disk and hangs it off d.
func (fsys *Filesystem) ReadInode(d *Dentry) (*Inode, error) {
	return fsys.readInode(d, d.ino)
}

func (fsys *Filesystem) readInode(d *Dentry, ino int32) (*Inode, error) {
	buf := make([]byte, inodeSize)
	if err := fsys.readAt(fsys.inodeRecordOffset(ino), buf); err != nil {
		return nil, err
	}

	var rec InodeRecord
	if err := unmarshalRecord(buf, &rec); err != nil {
		return nil, fmt.Errorf("%w: inode %d: %v", ErrIO, ino, err)
	}

	node := &Inode{
		ino:    rec.Ino,
		size:   rec.Size,
		bno:    rec.Bno,
		dentry: d,
	}
	d.inode = node

	// The object type comes from the dentry naming this inode, not from
	// the record.
	switch d.ftype {
	case TypeDirectory:
		if err := fsys.readDirectory(node, rec.DirCount); err != nil {
			return nil, err
		}
	default:
		node.allocBlocks = DirectBlocks
		for k := range node.data {
			node.data[k] = make([]byte, fsys.blockSize)
			if err := fsys.readAt(fsys.dataBlockOffset(node.bno[k]), node.data[k]); err != nil {
				return nil, err
			}
		}
	}

	return node, nil
}

// readDirectory walks the directory's data blocks, reading packed dentry
// records until count entries have been seen. Entries never straddle a
// block boundary. The sibling list is rebuilt in disk order, so child
// positions are stable across remounts.
func (fsys *Filesystem) readDirectory(node *Inode, count int32) error {
	node.allocBlocks = usedDirBlocks(count, fsys.blockSize)

	records := make([]DentryRecord, 0, count)
	remaining := count
	for k := 0; remaining > 0; k++ {
		if k >= DirectBlocks {
			return fmt.Errorf("directory inode %d claims %d entries beyond its direct blocks: %w",
				node.ino, count, ErrInvalid)
		}

		off := fsys.dataBlockOffset(node.bno[k])
		limit := fsys.dataBlockOffset(node.bno[k] + 1)
		for off+dentrySize < limit && remaining > 0 {
			buf := make([]byte, dentrySize)
			if err := fsys.readAt(off, buf); err != nil {
				return err
			}

			var rec DentryRecord
			if err := unmarshalRecord(buf, &rec); err != nil {
				return fmt.Errorf("%w: dentry at %d: %v", ErrIO, off, err)
			}

			records = append(records, rec)
			off += dentrySize
			remaining--
		}
	}

	// AttachChild prepends, so attach in reverse to make the in-memory
	// list mirror disk order.
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		child := NewDentry(recordName(rec.Name), rec.Type)
		child.ino = rec.Ino
		node.AttachChild(child)
	}
	node.dirCount = count

	return nil
}

// recordName trims the NUL padding from a stored name.
func recordName(name [NameMax]byte) string {
	if i := bytes.IndexByte(name[:], 0); i >= 0 {
		return string(name[:i])
	}
	return string(name[:])
}

// usedDirBlocks is the number of bno slots a directory with count entries
// occupies under the no-straddle packing rule.
func usedDirBlocks(count int32, blockSize int32) int {
	perBlock := int32(int64(blockSize) / dentrySize)
	if count == 0 {
		return 1
	}
	return int((count + perBlock - 1) / perBlock)
}
