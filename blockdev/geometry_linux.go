// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package blockdev

import (
	"os"

	"golang.org/x/sys/unix"
)

// geometry reports the total size and minimum transfer unit of f. Block
// device special files are asked directly, everything else is treated as
// an image file.
func geometry(f *os.File) (int64, int, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, 0, err
	}

	if fi.Mode()&os.ModeDevice == 0 {
		return fi.Size(), DefaultIOSize, nil
	}

	size, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKGETSIZE64)
	if err != nil {
		return 0, 0, err
	}

	sectorSize, err := unix.IoctlGetUint32(int(f.Fd()), unix.BLKSSZGET)
	if err != nil {
		return 0, 0, err
	}

	return int64(size), int(sectorSize), nil
}
