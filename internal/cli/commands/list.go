// Copyright 2024 LatentFS Authors
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

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"lfsforensics/internal/lfs"
)

func newListCmd(a *app) *cobra.Command {
	var excludes []string
	cmd := &cobra.Command{
		Use:   "list <image>",
		Short: "List live files and directories",
		Long: `Walk the directory tree of an image and print every live entry.

Entries removed by a tombstone are not listed; use 'recover' for those.
A damaged subdirectory is reported and skipped, its siblings are still listed.

Examples:
  lfsforensics list flash.img
  lfsforensics list --block-size 512 --block-count 64 flash.img
  lfsforensics list --exclude '*.log' --exclude 'cache/' flash.img`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := a.openImage(cmd, args[0])
			if err != nil {
				return err
			}
			defer dev.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Listing files in: %s\n\n", args[0])
			printTree(cmd, dev, lfs.BuildPathFilter(excludes))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&excludes, "exclude", nil, "gitignore-style pattern of paths to skip (repeatable)")
	return cmd
}

// printTree lists the live tree, one entry per line, with warnings on stderr.
func printTree(cmd *cobra.Command, dev lfs.BlockReader, filter lfs.PathFilter) {
	out := cmd.OutOrStdout()
	walker := lfs.NewWalker(lfs.NewDecoder(dev), lfs.WithFilter(filter))
	for v, err := range walker.Walk(cmd.Context(), lfs.RootPair) {
		if err != nil {
			warnf(cmd, "%v", err)
			continue
		}
		if v.Kind == lfs.KindDir {
			fmt.Fprintf(out, "  DIR: %s\n", v.Path)
			continue
		}
		fmt.Fprintf(out, "  FILE: %s (Size: %d)\n", v.Path, v.File.Size)
	}
}
