// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package starfs

import "errors"

// Package-specific error variables that can be used with errors.Is() for
// error handling.
var (
	// ErrIO is returned when a transfer against the underlying device fails.
	ErrIO = errors.New("starfs: i/o error")

	// ErrNoSpace is returned when the inode or data-block bitmap is exhausted.
	ErrNoSpace = errors.New("starfs: no space left on volume")

	// ErrNotFound is returned when a dentry is not present in its parent.
	// A failed path lookup is reported through LookupResult.Found instead.
	ErrNotFound = errors.New("starfs: entry not found")

	// ErrInvalid is returned for operations the volume cannot express:
	// dropping the root, malformed paths, or directories that outgrow
	// their direct blocks.
	ErrInvalid = errors.New("starfs: invalid operation")

	// ErrExists is reserved for callers layering create semantics on the
	// core; the core itself never returns it.
	ErrExists = errors.New("starfs: entry already exists")

	// ErrIsDir and ErrNotDir are reserved for adapters that need to
	// distinguish directory misuse.
	ErrIsDir  = errors.New("starfs: is a directory")
	ErrNotDir = errors.New("starfs: not a directory")
)
