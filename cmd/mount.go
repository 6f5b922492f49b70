// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"

	"github.com/jacobsa/fuse"

	"github.com/patchfs/patchfs/internal/logger"
	"github.com/patchfs/patchfs/internal/mount"
	"github.com/patchfs/patchfs/internal/perms"
	"github.com/patchfs/patchfs/internal/romfs"
	"github.com/patchfs/patchfs/internal/romindex"
)

// mount builds the index over baseDir, starts watching it for changes, and
// mounts the resulting filesystem at mountPoint until the kernel unmounts it.
func mount(baseDir, mountPoint string) error {
	idx := romindex.New(baseDir)
	if err := idx.Refresh(); err != nil {
		return fmt.Errorf("initial scan of %s: %w", baseDir, err)
	}

	watcher, err := romindex.NewWatcher(idx)
	if err != nil {
		return fmt.Errorf("watching %s: %w", baseDir, err)
	}
	defer watcher.Close()

	uid, gid, err := perms.MyUserAndGroup()
	if err != nil {
		return fmt.Errorf("MyUserAndGroup: %w", err)
	}

	server := romfs.New(idx, uid, gid)

	logger.Infof("Mounting %s at %s...", baseDir, mountPoint)
	mfs, err := fuse.Mount(mountPoint, server, getFuseMountConfig())
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}

	return mfs.Join(context.Background())
}

func getFuseMountConfig() *fuse.MountConfig {
	parsedOptions := make(map[string]string)
	mount.ParseOptions(parsedOptions, "auto_unmount")

	return &fuse.MountConfig{
		FSName:     "patchfs",
		Subtype:    "patchfs",
		VolumeName: "patchfs",
		Options:    parsedOptions,
		ReadOnly:   true,
	}
}
