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

// The shim below translates arbitrary (offset, length) transfers into the
// aligned unit-sized transfers the device understands. Writes are
// read-modify-write over the enclosing aligned range, so callers can write
// single records without corrupting their neighbours within an I/O unit.

func roundDown(value, round int64) int64 {
	return value - value%round
}

func roundUp(value, round int64) int64 {
	if value%round == 0 {
		return value
	}
	return (value/round + 1) * round
}

// readAt fills p with the bytes at [off, off+len(p)) of the device.
func (fsys *Filesystem) readAt(off int64, p []byte) error {
	blockSize := int64(fsys.blockSize)
	alignedOff := roundDown(off, blockSize)
	bias := off - alignedOff
	alignedLen := roundUp(bias+int64(len(p)), blockSize)

	buf := make([]byte, alignedLen)
	if err := fsys.dev.Seek(alignedOff); err != nil {
		return fmt.Errorf("%w: seek to %d: %v", ErrIO, alignedOff, err)
	}

	unit := fsys.dev.IOSize()
	for cur := buf; len(cur) > 0; cur = cur[unit:] {
		if err := fsys.dev.ReadUnit(cur[:unit]); err != nil {
			return fmt.Errorf("%w: read at %d: %v", ErrIO, alignedOff, err)
		}
	}

	copy(p, buf[bias:])
	return nil
}

// writeAt stores p at [off, off+len(p)), preserving the surrounding bytes
// of the aligned range.
func (fsys *Filesystem) writeAt(off int64, p []byte) error {
	blockSize := int64(fsys.blockSize)
	alignedOff := roundDown(off, blockSize)
	bias := off - alignedOff
	alignedLen := roundUp(bias+int64(len(p)), blockSize)

	buf := make([]byte, alignedLen)
	if err := fsys.readAt(alignedOff, buf); err != nil {
		return err
	}
	copy(buf[bias:], p)

	if err := fsys.dev.Seek(alignedOff); err != nil {
		return fmt.Errorf("%w: seek to %d: %v", ErrIO, alignedOff, err)
	}

	unit := fsys.dev.IOSize()
	for cur := buf; len(cur) > 0; cur = cur[unit:] {
		if err := fsys.dev.WriteUnit(cur[:unit]); err != nil {
			return fmt.Errorf("%w: write at %d: %v", ErrIO, alignedOff, err)
		}
	}

	return nil
}
