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

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"lfsforensics/internal/export"
	"lfsforensics/internal/recovery"
)

func newRecoverCmd(a *app) *cobra.Command {
	var output string
	var workers int
	cmd := &cobra.Command{
		Use:   "recover <image>",
		Short: "Classify every block and recover deleted data",
		Long: `Walk the live tree, then classify every block as live, free or orphaned.

Orphaned blocks are decoded as metadata or file data where possible and
carved verbatim otherwise; each result carries a confidence level. Entries
removed by tombstones in live directories are reconstructed by name.

Every orphaned block is saved as <output>/recovered/block_N.bin, deleted files
under <output>/deleted/, and a manifest.yaml describes the run. Pass
--output '' to only print the results.

Examples:
  lfsforensics recover flash.img
  lfsforensics recover --output evidence --workers 8 flash.img`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("workers") {
				workers = a.settings.Workers
			}

			dev, err := a.openImage(cmd, args[0])
			if err != nil {
				return err
			}
			defer dev.Close()

			engine := recovery.NewEngine(dev,
				recovery.WithWorkers(workers),
				recovery.WithEraseValue(a.settings.Erase()),
				recovery.WithTrimErased(a.settings.TrimErased()),
			)
			rep, err := engine.Run(cmd.Context())
			if err != nil {
				return err
			}
			printRecovery(cmd, rep, a.settings.MinPrintableRatio)

			if output == "" {
				return nil
			}
			m, err := export.New(osfs.New(output), dev).ExportRecovered(rep, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nSaved %d files to %s (run %s)\n", len(m.Files), output, m.RunID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "recovered_blocks", "directory recovered data is written to")
	cmd.Flags().IntVar(&workers, "workers", 1, "blocks classified concurrently")
	return cmd
}

func printRecovery(cmd *cobra.Command, rep *recovery.Report, minRatio float64) {
	out := cmd.OutOrStdout()
	for _, w := range rep.Warnings {
		warnf(cmd, "%v", w)
	}

	fmt.Fprintln(out, "The files in the filesystem use the following blocks:")
	fmt.Fprintln(out, joinBlocks(rep.Live))
	fmt.Fprintf(out, "Free blocks: %s\n", joinBlocks(rep.Blocks(recovery.Free)))

	fmt.Fprintln(out, "\nOrphaned Block Scan:")
	orphans := rep.Orphans()
	if len(orphans) == 0 {
		fmt.Fprintln(out, "  no orphaned blocks")
	}
	for _, res := range orphans {
		fmt.Fprintf(out, "\nOrphaned block %d: %s, %s confidence, name %s\n",
			res.Block, res.Method, res.Confidence, res.Name)
		if res.Err != nil {
			fmt.Fprintf(out, "  error: %v\n", res.Err)
		}
		for _, ent := range res.Entries {
			state := "live"
			if ent.Removed {
				state = "removed"
			}
			fmt.Fprintf(out, "  %s %s (%s, %d bytes)\n", ent.Kind, ent.Name, state, len(ent.Data))
		}
		if len(res.Data) == 0 {
			continue
		}
		if recovery.Printable(res.Data, minRatio) {
			fmt.Fprintln(out, "ASCII content:")
		} else {
			fmt.Fprintf(out, "Hex dump (first %d bytes):\n", recovery.PreviewBytes)
		}
		fmt.Fprintln(out, recovery.Preview(res.Data, minRatio))
	}

	if len(rep.Deleted) > 0 {
		fmt.Fprintln(out, "\nDeleted entries:")
	}
	for _, df := range rep.Deleted {
		if df.Dir {
			fmt.Fprintf(out, "  DIR: %s\n", df.Path)
			continue
		}
		line := fmt.Sprintf("  FILE: %s (%d of %d bytes, %s)", df.Path, len(df.Data), df.Handle.Size, df.Handle)
		if df.Truncated {
			line += " truncated"
		}
		fmt.Fprintln(out, line)
	}
}
