// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

//go:build !linux

package blockdev

import (
	"errors"
	"os"
)

func geometry(f *os.File) (int64, int, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, 0, err
	}

	if fi.Mode()&os.ModeDevice != 0 {
		return 0, 0, errors.New("blockdev: device special files are only supported on linux")
	}

	return fi.Size(), DefaultIOSize, nil
}
