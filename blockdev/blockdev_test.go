// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package blockdev_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/dpeckett/blockfs/blockdev"

	"github.com/stretchr/testify/require"
)

func TestMemDevice(t *testing.T) {
	dev := blockdev.NewMemDevice(4096, 512)
	require.EqualValues(t, 4096, dev.Size())
	require.Equal(t, 512, dev.IOSize())

	unit := bytes.Repeat([]byte{0x7F}, 512)
	require.NoError(t, dev.Seek(1024))
	require.NoError(t, dev.WriteUnit(unit))
	require.NoError(t, dev.WriteUnit(unit))

	buf := make([]byte, 512)
	require.NoError(t, dev.Seek(1024))
	require.NoError(t, dev.ReadUnit(buf))
	require.Equal(t, unit, buf)

	// Sequential transfers advance the cursor.
	require.NoError(t, dev.ReadUnit(buf))
	require.Equal(t, unit, buf)
	require.NoError(t, dev.ReadUnit(buf))
	require.Equal(t, make([]byte, 512), buf)

	t.Run("UnitSize", func(t *testing.T) {
		require.ErrorIs(t, dev.ReadUnit(make([]byte, 100)), blockdev.ErrUnitSize)
		require.ErrorIs(t, dev.WriteUnit(make([]byte, 1024)), blockdev.ErrUnitSize)
	})

	t.Run("OutOfRange", func(t *testing.T) {
		require.ErrorIs(t, dev.Seek(8192), blockdev.ErrOutOfRange)

		require.NoError(t, dev.Seek(4096))
		require.ErrorIs(t, dev.ReadUnit(make([]byte, 512)), blockdev.ErrOutOfRange)
	})
}

func TestFileDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volume.img")

	dev, err := blockdev.Create(path, 64*1024)
	require.NoError(t, err)
	require.EqualValues(t, 64*1024, dev.Size())
	require.Equal(t, blockdev.DefaultIOSize, dev.IOSize())

	unit := bytes.Repeat([]byte{0x42}, blockdev.DefaultIOSize)
	require.NoError(t, dev.Seek(512))
	require.NoError(t, dev.WriteUnit(unit))
	require.NoError(t, dev.Close())

	dev, err = blockdev.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, dev.Close())
	})

	require.EqualValues(t, 64*1024, dev.Size())

	buf := make([]byte, blockdev.DefaultIOSize)
	require.NoError(t, dev.Seek(512))
	require.NoError(t, dev.ReadUnit(buf))
	require.Equal(t, unit, buf)

	// Untouched regions of a fresh image read back as zeroes.
	require.NoError(t, dev.ReadUnit(buf))
	require.Equal(t, make([]byte, blockdev.DefaultIOSize), buf)
}

func TestCreateRejectsBadSize(t *testing.T) {
	_, err := blockdev.Create(filepath.Join(t.TempDir(), "volume.img"), 1000)
	require.Error(t, err)
}
