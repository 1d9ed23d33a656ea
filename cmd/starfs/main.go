// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jacobsa/fuse"

	"github.com/dpeckett/blockfs/blockdev"
	"github.com/dpeckett/blockfs/copyfs"
	"github.com/dpeckett/blockfs/fusefs"
	"github.com/dpeckett/blockfs/starfs"
)

const usage = `starfs - filesystem-in-a-file CLI tool

Usage:
  starfs mkfs [-size N] [-from dir] <image>   Create and format an image file
  starfs mount <image> <mountpoint>           Mount an image over FUSE (foreground)
  starfs ls <image> [path]                    List a directory in an image
  starfs cat <image> <path>                   Print a file from an image
  starfs info <image>                         Show superblock and usage information
  starfs help                                 Show this help message
`

func main() {
	log.SetFlags(0)

	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	var err error
	switch cmd := os.Args[1]; cmd {
	case "mkfs":
		err = mkfs(os.Args[2:])
	case "mount":
		err = mountCmd(os.Args[2:])
	case "ls":
		err = ls(os.Args[2:])
	case "cat":
		err = cat(os.Args[2:])
	case "info":
		err = info(os.Args[2:])
	case "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("starfs: %v", err)
	}
}

func mkfs(args []string) error {
	fset := flag.NewFlagSet("mkfs", flag.ExitOnError)
	size := fset.Int64("size", starfs.MinDeviceSize(blockdev.DefaultIOSize), "image size in bytes")
	from := fset.String("from", "", "populate the new volume from this directory")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if fset.NArg() != 1 {
		return fmt.Errorf("mkfs: expected exactly one image path")
	}

	dev, err := blockdev.Create(fset.Arg(0), *size)
	if err != nil {
		return err
	}

	fsys, err := starfs.Mount(dev)
	if err != nil {
		_ = dev.Close()
		return err
	}

	if *from != "" {
		if err := copyfs.Copy(fsys, os.DirFS(*from)); err != nil {
			_ = fsys.Unmount()
			return err
		}
	}

	return fsys.Unmount()
}

func mountCmd(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("mount: expected <image> <mountpoint>")
	}
	image, mountpoint := args[0], args[1]

	dev, err := blockdev.Open(image)
	if err != nil {
		return err
	}

	fsys, err := starfs.Mount(dev)
	if err != nil {
		_ = dev.Close()
		return err
	}

	mfs, err := fuse.Mount(mountpoint, fusefs.NewServer(fsys), &fuse.MountConfig{
		FSName: "starfs",
	})
	if err != nil {
		_ = fsys.Unmount()
		return fmt.Errorf("fuse.Mount: %w", err)
	}

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		log.Printf("unmounting %s", mountpoint)
		if err := fuse.Unmount(mountpoint); err != nil {
			log.Printf("fuse.Unmount: %v", err)
		}
	}()

	if err := mfs.Join(context.Background()); err != nil {
		return err
	}

	// The adapter flushes the volume when the kernel connection is
	// destroyed; this is a fallback for error paths.
	return fsys.Unmount()
}

func withVolume(image string, fn func(fsys *starfs.Filesystem) error) error {
	dev, err := blockdev.Open(image)
	if err != nil {
		return err
	}

	fsys, err := starfs.Mount(dev)
	if err != nil {
		_ = dev.Close()
		return err
	}

	if err := fn(fsys); err != nil {
		_ = fsys.Unmount()
		return err
	}

	return fsys.Unmount()
}

func ls(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("ls: expected <image> [path]")
	}

	name := "."
	if len(args) == 2 {
		name = args[1]
	}

	return withVolume(args[0], func(fsys *starfs.Filesystem) error {
		entries, err := fsys.ReadDir(name)
		if err != nil {
			return err
		}

		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil {
				return err
			}
			fmt.Printf("%s %8d %s\n", info.Mode(), info.Size(), entry.Name())
		}
		return nil
	})
}

func cat(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("cat: expected <image> <path>")
	}

	return withVolume(args[0], func(fsys *starfs.Filesystem) error {
		f, err := fsys.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(os.Stdout, f)
		return err
	})
}

func info(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("info: expected <image>")
	}

	return withVolume(args[0], func(fsys *starfs.Filesystem) error {
		stats := fsys.Stats()
		fmt.Printf("block size:   %d\n", stats.BlockSize)
		fmt.Printf("inodes:       %d/%d in use\n", stats.InodesUsed, stats.Inodes)
		fmt.Printf("data blocks:  %d/%d in use\n", stats.BlocksUsed, stats.Blocks)

		var files, dirs int
		err := fs.WalkDir(fsys, ".", func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				dirs++
			} else {
				files++
			}
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Printf("tree:         %d directories, %d files\n", dirs, files)
		return nil
	})
}
