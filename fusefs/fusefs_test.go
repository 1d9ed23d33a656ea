// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package fusefs_test

import (
	"context"
	"io/fs"
	"testing"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"

	"github.com/dpeckett/blockfs/blockdev"
	"github.com/dpeckett/blockfs/fusefs"
	"github.com/dpeckett/blockfs/starfs"

	"github.com/stretchr/testify/require"
)

// The adapter is exercised by invoking FUSE operations directly; no kernel
// mount is involved.
func newFS(t *testing.T) (*fusefs.FS, *starfs.Filesystem, *blockdev.MemDevice) {
	t.Helper()

	dev := blockdev.NewMemDevice(starfs.MinDeviceSize(blockdev.DefaultIOSize), blockdev.DefaultIOSize)

	fsys, err := starfs.Mount(dev)
	require.NoError(t, err)

	return fusefs.New(fsys), fsys, dev
}

func TestCreateWriteRead(t *testing.T) {
	adapter, fsys, dev := newFS(t)
	ctx := context.Background()

	mkdir := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "docs"}
	require.NoError(t, adapter.MkDir(ctx, mkdir))
	require.True(t, mkdir.Entry.Attributes.Mode.IsDir())

	createOp := &fuseops.CreateFileOp{Parent: mkdir.Entry.Child, Name: "readme"}
	require.NoError(t, adapter.CreateFile(ctx, createOp))

	writeOp := &fuseops.WriteFileOp{
		Inode: createOp.Entry.Child,
		Data:  []byte("hello over fuse"),
	}
	require.NoError(t, adapter.WriteFile(ctx, writeOp))

	require.NoError(t, adapter.FlushFile(ctx, &fuseops.FlushFileOp{Inode: createOp.Entry.Child}))

	readOp := &fuseops.ReadFileOp{
		Inode: createOp.Entry.Child,
		Dst:   make([]byte, 64),
	}
	require.NoError(t, adapter.ReadFile(ctx, readOp))
	require.Equal(t, "hello over fuse", string(readOp.Dst[:readOp.BytesRead]))

	// The write went through the core: remount and read it back through
	// the fs.FS facade.
	adapter.Destroy()

	fsys, err := starfs.Mount(dev)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, fsys.Unmount())
	})

	data, err := fs.ReadFile(fsys, "docs/readme")
	require.NoError(t, err)
	require.Equal(t, "hello over fuse", string(data))
}

func TestLookupAndAttributes(t *testing.T) {
	adapter, fsys, _ := newFS(t)
	ctx := context.Background()
	t.Cleanup(func() {
		require.NoError(t, fsys.Unmount())
	})

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "a"}
	require.NoError(t, adapter.CreateFile(ctx, createOp))

	lookupOp := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "a"}
	require.NoError(t, adapter.LookUpInode(ctx, lookupOp))
	require.Equal(t, createOp.Entry.Child, lookupOp.Entry.Child)

	getOp := &fuseops.GetInodeAttributesOp{Inode: lookupOp.Entry.Child}
	require.NoError(t, adapter.GetInodeAttributes(ctx, getOp))
	require.True(t, getOp.Attributes.Mode.IsRegular())

	missOp := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "nope"}
	require.ErrorIs(t, adapter.LookUpInode(ctx, missOp), fuse.ENOENT)

	dupOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "a"}
	require.ErrorIs(t, adapter.CreateFile(ctx, dupOp), fuse.EEXIST)
}

func TestReadDirOffsets(t *testing.T) {
	adapter, fsys, _ := newFS(t)
	ctx := context.Background()
	t.Cleanup(func() {
		require.NoError(t, fsys.Unmount())
	})

	for _, name := range []string{"a", "b", "c"} {
		op := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: name}
		require.NoError(t, adapter.CreateFile(ctx, op))
	}

	readOp := &fuseops.ReadDirOp{
		Inode: fuseops.RootInodeID,
		Dst:   make([]byte, 4096),
	}
	require.NoError(t, adapter.ReadDir(ctx, readOp))
	require.Greater(t, readOp.BytesRead, 0)

	// Resuming past the final entry yields nothing further.
	tailOp := &fuseops.ReadDirOp{
		Inode:  fuseops.RootInodeID,
		Offset: 3,
		Dst:    make([]byte, 4096),
	}
	require.NoError(t, adapter.ReadDir(ctx, tailOp))
	require.Zero(t, tailOp.BytesRead)
}

func TestUnlinkAndRmDir(t *testing.T) {
	adapter, fsys, _ := newFS(t)
	ctx := context.Background()
	t.Cleanup(func() {
		require.NoError(t, fsys.Unmount())
	})

	mkdir := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "dir"}
	require.NoError(t, adapter.MkDir(ctx, mkdir))

	createOp := &fuseops.CreateFileOp{Parent: mkdir.Entry.Child, Name: "file"}
	require.NoError(t, adapter.CreateFile(ctx, createOp))

	// A populated directory refuses to go.
	rmdirOp := &fuseops.RmDirOp{Parent: fuseops.RootInodeID, Name: "dir"}
	require.ErrorIs(t, adapter.RmDir(ctx, rmdirOp), fuse.ENOTEMPTY)

	// Unlinking a directory is refused, files come off cleanly.
	require.Error(t, adapter.Unlink(ctx, &fuseops.UnlinkOp{Parent: fuseops.RootInodeID, Name: "dir"}))
	require.NoError(t, adapter.Unlink(ctx, &fuseops.UnlinkOp{Parent: mkdir.Entry.Child, Name: "file"}))

	require.NoError(t, adapter.RmDir(ctx, &fuseops.RmDirOp{Parent: fuseops.RootInodeID, Name: "dir"}))

	lookupOp := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "dir"}
	require.ErrorIs(t, adapter.LookUpInode(ctx, lookupOp), fuse.ENOENT)
}

func TestRename(t *testing.T) {
	adapter, fsys, _ := newFS(t)
	ctx := context.Background()
	t.Cleanup(func() {
		require.NoError(t, fsys.Unmount())
	})

	mkdir := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "dst"}
	require.NoError(t, adapter.MkDir(ctx, mkdir))

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "old"}
	require.NoError(t, adapter.CreateFile(ctx, createOp))

	writeOp := &fuseops.WriteFileOp{Inode: createOp.Entry.Child, Data: []byte("payload")}
	require.NoError(t, adapter.WriteFile(ctx, writeOp))

	renameOp := &fuseops.RenameOp{
		OldParent: fuseops.RootInodeID,
		OldName:   "old",
		NewParent: mkdir.Entry.Child,
		NewName:   "new",
	}
	require.NoError(t, adapter.Rename(ctx, renameOp))

	missOp := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "old"}
	require.ErrorIs(t, adapter.LookUpInode(ctx, missOp), fuse.ENOENT)

	hitOp := &fuseops.LookUpInodeOp{Parent: mkdir.Entry.Child, Name: "new"}
	require.NoError(t, adapter.LookUpInode(ctx, hitOp))

	readOp := &fuseops.ReadFileOp{Inode: hitOp.Entry.Child, Dst: make([]byte, 16)}
	require.NoError(t, adapter.ReadFile(ctx, readOp))
	require.Equal(t, "payload", string(readOp.Dst[:readOp.BytesRead]))
}

func TestSymlink(t *testing.T) {
	adapter, fsys, _ := newFS(t)
	ctx := context.Background()
	t.Cleanup(func() {
		require.NoError(t, fsys.Unmount())
	})

	symlinkOp := &fuseops.CreateSymlinkOp{
		Parent: fuseops.RootInodeID,
		Name:   "link",
		Target: "somewhere/else",
	}
	require.NoError(t, adapter.CreateSymlink(ctx, symlinkOp))

	readOp := &fuseops.ReadSymlinkOp{Inode: symlinkOp.Entry.Child}
	require.NoError(t, adapter.ReadSymlink(ctx, readOp))
	require.Equal(t, "somewhere/else", readOp.Target)
}

func TestStatFS(t *testing.T) {
	adapter, fsys, _ := newFS(t)
	ctx := context.Background()
	t.Cleanup(func() {
		require.NoError(t, fsys.Unmount())
	})

	op := &fuseops.StatFSOp{}
	require.NoError(t, adapter.StatFS(ctx, op))
	require.EqualValues(t, starfs.DataCapacity, op.Blocks)
	require.EqualValues(t, starfs.InodeCapacity, op.Inodes)

	// The fresh volume has spent one inode and one data block on the root.
	require.EqualValues(t, starfs.InodeCapacity-1, op.InodesFree)
	require.EqualValues(t, starfs.DataCapacity-1, op.BlocksFree)
}
