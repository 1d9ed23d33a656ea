// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package fusefs adapts a mounted starfs volume to the FUSE protocol. The
// core assumes a single caller, so every operation is serialized behind
// one mutex.
package fusefs

import (
	"context"
	"log"
	"os"
	"sync"
	"syscall"

	"github.com/google/btree"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/dpeckett/blockfs/starfs"
)

// FS implements fuseutil.FileSystem over a starfs volume.
type FS struct {
	fuseutil.NotImplementedFileSystem

	mu     sync.Mutex
	fsys   *starfs.Filesystem
	inodes *btree.BTree // inodeItem, ordered by FUSE inode ID
}

// inodeItem binds a kernel-visible inode ID to the dentry it names.
type inodeItem struct {
	id fuseops.InodeID
	de *starfs.Dentry
}

func (it inodeItem) Less(than btree.Item) bool {
	return it.id < than.(inodeItem).id
}

// New returns a FUSE adapter over fsys.
func New(fsys *starfs.Filesystem) *FS {
	fs := &FS{
		fsys:   fsys,
		inodes: btree.New(16),
	}
	fs.track(fsys.Root())

	return fs
}

// NewServer returns a fuse.Server ready for fuse.Mount.
func NewServer(fsys *starfs.Filesystem) fuse.Server {
	return fuseutil.NewFileSystemServer(New(fsys))
}

// The volume's root inode number is 0 while FUSE reserves ID 0 and roots
// the tree at 1, so kernel IDs are shifted by one.
func inodeID(de *starfs.Dentry) fuseops.InodeID {
	return fuseops.InodeID(de.Ino() + 1)
}

func (fs *FS) track(de *starfs.Dentry) fuseops.InodeID {
	id := inodeID(de)
	fs.inodes.ReplaceOrInsert(inodeItem{id: id, de: de})
	return id
}

func (fs *FS) forget(id fuseops.InodeID) {
	fs.inodes.Delete(inodeItem{id: id})
}

func (fs *FS) dentry(id fuseops.InodeID) (*starfs.Dentry, error) {
	item := fs.inodes.Get(inodeItem{id: id})
	if item == nil {
		return nil, fuse.ENOENT
	}

	return item.(inodeItem).de, nil
}

// node returns the resident inode for a dentry, faulting it in on demand.
func (fs *FS) node(de *starfs.Dentry) (*starfs.Inode, error) {
	if node := de.Inode(); node != nil {
		return node, nil
	}

	node, err := fs.fsys.ReadInode(de)
	if err != nil {
		log.Printf("fusefs: read inode %d: %v", de.Ino(), err)
		return nil, fuse.EIO
	}
	return node, nil
}

func (fs *FS) attributes(node *starfs.Inode) fuseops.InodeAttributes {
	var mode os.FileMode
	switch node.Type() {
	case starfs.TypeDirectory:
		mode = os.ModeDir | 0o755
	case starfs.TypeSymlink:
		mode = os.ModeSymlink | 0o777
	default:
		mode = 0o644
	}

	return fuseops.InodeAttributes{
		Size:  uint64(node.Size()),
		Nlink: 1,
		Mode:  mode,
	}
}

func direntType(t starfs.FileType) fuseutil.DirentType {
	switch t {
	case starfs.TypeDirectory:
		return fuseutil.DT_Directory
	case starfs.TypeSymlink:
		return fuseutil.DT_Link
	default:
		return fuseutil.DT_File
	}
}

func (fs *FS) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	stats := fs.fsys.Stats()
	op.BlockSize = uint32(stats.BlockSize)
	op.Blocks = uint64(stats.Blocks)
	op.BlocksFree = uint64(stats.Blocks - stats.BlocksUsed)
	op.BlocksAvailable = op.BlocksFree
	op.IoSize = uint32(stats.BlockSize)
	op.Inodes = uint64(stats.Inodes)
	op.InodesFree = uint64(stats.Inodes - stats.InodesUsed)

	return nil
}

func (fs *FS) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent, err := fs.dentry(op.Parent)
	if err != nil {
		return err
	}

	parentNode, err := fs.node(parent)
	if err != nil {
		return err
	}

	child := parentNode.FindChild(op.Name)
	if child == nil {
		return fuse.ENOENT
	}

	childNode, err := fs.node(child)
	if err != nil {
		return err
	}

	op.Entry.Child = fs.track(child)
	op.Entry.Attributes = fs.attributes(childNode)

	return nil
}

func (fs *FS) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	de, err := fs.dentry(op.Inode)
	if err != nil {
		return err
	}

	node, err := fs.node(de)
	if err != nil {
		return err
	}

	op.Attributes = fs.attributes(node)
	return nil
}

func (fs *FS) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	de, err := fs.dentry(op.Inode)
	if err != nil {
		return err
	}

	node, err := fs.node(de)
	if err != nil {
		return err
	}

	if op.Size != nil && de.IsDir() {
		return syscall.EISDIR
	}

	if op.Size != nil {
		if *op.Size > uint64(fs.fsys.MaxFileSize()) {
			return syscall.ENOSPC
		}

		newSize := int32(*op.Size)
		if newSize < node.Size() {
			zeroRange(fs.fsys, node, newSize, node.Size())
		}
		node.SetSize(newSize)
	}

	op.Attributes = fs.attributes(node)
	return nil
}

// zeroRange clears content bytes in [from, to), so a later extension
// cannot resurrect truncated data.
func zeroRange(fsys *starfs.Filesystem, node *starfs.Inode, from, to int32) {
	blockSize := fsys.BlockSize()
	for pos := from; pos < to; {
		k := pos / blockSize
		off := pos % blockSize

		chunk := blockSize - off
		if rest := to - pos; rest < chunk {
			chunk = rest
		}

		buf := node.Data(int(k))
		for i := off; i < off+chunk; i++ {
			buf[i] = 0
		}
		pos += chunk
	}
}

// create allocates and links one child under op's parent, failing if the
// name is taken.
func (fs *FS) create(parentID fuseops.InodeID, name string, ftype starfs.FileType) (*starfs.Dentry, *starfs.Inode, error) {
	parent, err := fs.dentry(parentID)
	if err != nil {
		return nil, nil, err
	}

	parentNode, err := fs.node(parent)
	if err != nil {
		return nil, nil, err
	}
	if !parent.IsDir() {
		return nil, nil, syscall.ENOTDIR
	}

	if parentNode.FindChild(name) != nil {
		return nil, nil, fuse.EEXIST
	}

	child := starfs.NewDentry(name, ftype)
	childNode, err := fs.fsys.AllocInode(child)
	if err != nil {
		return nil, nil, syscall.ENOSPC
	}
	parentNode.AttachChild(child)

	if err := fs.fsys.Sync(parentNode); err != nil {
		log.Printf("fusefs: sync after create %q: %v", name, err)
		return nil, nil, fuse.EIO
	}

	return child, childNode, nil
}

func (fs *FS) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	child, childNode, err := fs.create(op.Parent, op.Name, starfs.TypeDirectory)
	if err != nil {
		return err
	}

	op.Entry.Child = fs.track(child)
	op.Entry.Attributes = fs.attributes(childNode)
	return nil
}

func (fs *FS) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	child, childNode, err := fs.create(op.Parent, op.Name, starfs.TypeRegular)
	if err != nil {
		return err
	}

	op.Entry.Child = fs.track(child)
	op.Entry.Attributes = fs.attributes(childNode)
	return nil
}

func (fs *FS) CreateSymlink(ctx context.Context, op *fuseops.CreateSymlinkOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if int64(len(op.Target)) > int64(fs.fsys.BlockSize()) {
		return syscall.ENAMETOOLONG
	}

	child, childNode, err := fs.create(op.Parent, op.Name, starfs.TypeSymlink)
	if err != nil {
		return err
	}

	copy(childNode.Data(0), op.Target)
	childNode.SetSize(int32(len(op.Target)))

	op.Entry.Child = fs.track(child)
	op.Entry.Attributes = fs.attributes(childNode)
	return nil
}

func (fs *FS) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	de, err := fs.dentry(op.Inode)
	if err != nil {
		return err
	}
	if de.Type() != starfs.TypeSymlink {
		return fuse.EINVAL
	}

	node, err := fs.node(de)
	if err != nil {
		return err
	}

	op.Target = string(node.Data(0)[:node.Size()])
	return nil
}

// remove unlinks one child, reclaiming its subtree in both bitmaps.
func (fs *FS) remove(parentID fuseops.InodeID, name string, wantDir bool) error {
	parent, err := fs.dentry(parentID)
	if err != nil {
		return err
	}

	parentNode, err := fs.node(parent)
	if err != nil {
		return err
	}

	child := parentNode.FindChild(name)
	if child == nil {
		return fuse.ENOENT
	}

	if wantDir {
		if !child.IsDir() {
			return syscall.ENOTDIR
		}

		childNode, err := fs.node(child)
		if err != nil {
			return err
		}
		if childNode.DirCount() > 0 {
			return fuse.ENOTEMPTY
		}
	} else if child.IsDir() {
		return syscall.EISDIR
	}

	id := inodeID(child)
	if err := fs.fsys.Remove(child); err != nil {
		log.Printf("fusefs: remove %q: %v", name, err)
		return fuse.EIO
	}
	fs.forget(id)

	if err := fs.fsys.Sync(parentNode); err != nil {
		log.Printf("fusefs: sync after remove %q: %v", name, err)
		return fuse.EIO
	}

	return nil
}

func (fs *FS) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return fs.remove(op.Parent, op.Name, true)
}

func (fs *FS) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return fs.remove(op.Parent, op.Name, false)
}

func (fs *FS) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	oldParent, err := fs.dentry(op.OldParent)
	if err != nil {
		return err
	}
	oldParentNode, err := fs.node(oldParent)
	if err != nil {
		return err
	}

	newParent, err := fs.dentry(op.NewParent)
	if err != nil {
		return err
	}
	newParentNode, err := fs.node(newParent)
	if err != nil {
		return err
	}

	child := oldParentNode.FindChild(op.OldName)
	if child == nil {
		return fuse.ENOENT
	}

	if target := newParentNode.FindChild(op.NewName); target != nil {
		if target.IsDir() {
			targetNode, err := fs.node(target)
			if err != nil {
				return err
			}
			if targetNode.DirCount() > 0 {
				return fuse.ENOTEMPTY
			}
		}

		id := inodeID(target)
		if err := fs.fsys.Remove(target); err != nil {
			log.Printf("fusefs: rename over %q: %v", op.NewName, err)
			return fuse.EIO
		}
		fs.forget(id)
	}

	if _, err := oldParentNode.DetachChild(child); err != nil {
		return fuse.ENOENT
	}
	child.Rename(op.NewName)
	newParentNode.AttachChild(child)

	if err := fs.fsys.Sync(oldParentNode); err != nil {
		return fuse.EIO
	}
	if oldParentNode != newParentNode {
		if err := fs.fsys.Sync(newParentNode); err != nil {
			return fuse.EIO
		}
	}

	return nil
}

func (fs *FS) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	de, err := fs.dentry(op.Inode)
	if err != nil {
		return err
	}
	if !de.IsDir() {
		return syscall.ENOTDIR
	}

	if _, err := fs.node(de); err != nil {
		return err
	}

	return nil
}

func (fs *FS) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	de, err := fs.dentry(op.Inode)
	if err != nil {
		return err
	}

	node, err := fs.node(de)
	if err != nil {
		return err
	}

	for i := int(op.Offset); ; i++ {
		child := node.NthChild(i)
		if child == nil {
			break
		}

		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  inodeID(child),
			Name:   child.Name(),
			Type:   direntType(child.Type()),
		})
		if n == 0 {
			break
		}
		op.BytesRead += n
	}

	return nil
}

func (fs *FS) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	de, err := fs.dentry(op.Inode)
	if err != nil {
		return err
	}
	if de.IsDir() {
		return syscall.EISDIR
	}

	if _, err := fs.node(de); err != nil {
		return err
	}

	return nil
}

func (fs *FS) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	de, err := fs.dentry(op.Inode)
	if err != nil {
		return err
	}

	node, err := fs.node(de)
	if err != nil {
		return err
	}

	size := int64(node.Size())
	if op.Offset >= size {
		return nil
	}

	blockSize := int64(fs.fsys.BlockSize())
	pos := op.Offset
	for op.BytesRead < len(op.Dst) && pos < size {
		k := pos / blockSize
		off := pos % blockSize

		chunk := blockSize - off
		if rest := size - pos; rest < chunk {
			chunk = rest
		}
		if rest := int64(len(op.Dst) - op.BytesRead); rest < chunk {
			chunk = rest
		}

		copy(op.Dst[op.BytesRead:], node.Data(int(k))[off:off+chunk])
		op.BytesRead += int(chunk)
		pos += chunk
	}

	return nil
}

func (fs *FS) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	de, err := fs.dentry(op.Inode)
	if err != nil {
		return err
	}
	if de.IsDir() {
		return syscall.EISDIR
	}

	node, err := fs.node(de)
	if err != nil {
		return err
	}

	end := op.Offset + int64(len(op.Data))
	if end > int64(fs.fsys.MaxFileSize()) {
		return syscall.ENOSPC
	}

	blockSize := int64(fs.fsys.BlockSize())
	data := op.Data
	for pos := op.Offset; len(data) > 0; {
		k := pos / blockSize
		off := pos % blockSize

		n := copy(node.Data(int(k))[off:], data)
		data = data[n:]
		pos += int64(n)
	}

	if end > int64(node.Size()) {
		node.SetSize(int32(end))
	}

	return nil
}

func (fs *FS) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	return fs.syncInode(op.Inode)
}

func (fs *FS) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	return fs.syncInode(op.Inode)
}

func (fs *FS) syncInode(id fuseops.InodeID) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	de, err := fs.dentry(id)
	if err != nil {
		return err
	}

	node := de.Inode()
	if node == nil {
		return nil
	}

	if err := fs.fsys.Sync(node); err != nil {
		log.Printf("fusefs: sync inode %d: %v", de.Ino(), err)
		return fuse.EIO
	}

	return nil
}

func (fs *FS) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if op.Inode != fuseops.RootInodeID {
		fs.forget(op.Inode)
	}

	return nil
}

func (fs *FS) Destroy() {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.fsys.Unmount(); err != nil {
		log.Printf("fusefs: unmount: %v", err)
	}
}
