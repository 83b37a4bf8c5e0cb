package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"lfsforensics/internal/report"
)

func newStructCmd(a *app) *cobra.Command {
	var dumpBlocks int
	cmd := &cobra.Command{
		Use:   "struct <image>",
		Short: "Print superblock, tree, block usage and a per-block dump",
		Long: `Print the on-disk structures of an image.

Shows the superblock found in the root pair, the configured geometry, the
directory tree, a used/free block summary and a dump of the first blocks
with their revision, commit count, checksum state and tags.

Examples:
  lfsforensics struct flash.img
  lfsforensics struct --dump-blocks 16 flash.img`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("dump-blocks") {
				dumpBlocks = a.settings.DumpBlocks
			}
			if dumpBlocks <= 0 {
				return fmt.Errorf("invalid dump block count %d", dumpBlocks)
			}

			dev, err := a.openImage(cmd, args[0])
			if err != nil {
				return err
			}
			defer dev.Close()

			out := cmd.OutOrStdout()
			rep := report.NewReporter(dev, a.settings.Erase())

			printSuperblock(cmd, rep.Superblock())

			fmt.Fprintln(out, "Filesystem configuration:")
			fmt.Fprintf(out, "  Block size: %d\n", dev.BlockSize())
			fmt.Fprintf(out, "  Block count: %d\n", dev.BlockCount())
			fmt.Fprintf(out, "  Image size: %d\n\n", dev.ImageSize())

			fmt.Fprintln(out, "Directory: /")
			printTree(cmd, dev, nil)

			usage, err := rep.Usage(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "\nBlock Usage Summary:")
			fmt.Fprintf(out, "  Used blocks: %s\n", joinBlocks(usage.Used))
			fmt.Fprintf(out, "  Free blocks: %s\n", joinBlocks(usage.Free))
			if len(usage.Unreadable) > 0 {
				fmt.Fprintf(out, "  Unreadable blocks: %s\n", joinBlocks(usage.Unreadable))
			}

			dump := rep.Dump(cmd.Context(), dumpBlocks)
			for _, w := range dump.Warnings {
				warnf(cmd, "%s", w)
			}
			printDump(out, dump)
			return nil
		},
	}
	cmd.Flags().IntVar(&dumpBlocks, "dump-blocks", report.DefaultDumpBlocks, "number of blocks to dump")
	return cmd
}

func printSuperblock(cmd *cobra.Command, info *report.SuperblockInfo) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Superblock information:")
	if !info.Found {
		fmt.Fprintf(out, "  [!] No valid superblock found in block 0 or 1: %v\n\n", info.Err)
		return
	}
	sb := info.Superblock
	fmt.Fprintf(out, "  Superblock tag detected in block %d (revision %d)\n", info.Block, info.Revision)
	fmt.Fprintf(out, "  Raw tag: 0x%08X\n", info.RawTag)
	fmt.Fprintf(out, "  Tag: %s\n", info.Tag)
	fmt.Fprintf(out, "  Version: %s\n", sb.VersionString())
	fmt.Fprintf(out, "  On-disk block size: %d\n", sb.BlockSize)
	fmt.Fprintf(out, "  On-disk block count: %d\n", sb.BlockCount)
	fmt.Fprintf(out, "  Name max: %d\n", sb.NameMax)
	for _, m := range info.Mismatches {
		warnf(cmd, "%s", m)
	}
	fmt.Fprintln(out)
}

func printDump(out io.Writer, d *report.Dump) {
	fmt.Fprintf(out, "\nDumping first %d blocks:\n", len(d.Blocks))
	for _, b := range d.Blocks {
		fmt.Fprintf(out, "  Block %d: %s  -->  %s", b.Index, b.Head, b.HeaderType)
		if b.CommitCount > 0 {
			crc := "valid"
			if !b.CRCValid {
				crc = "invalid"
			}
			fmt.Fprintf(out, " rev=%d commits=%d crc=%s stop=%s", b.Revision, b.CommitCount, crc, b.Stop)
		}
		fmt.Fprintln(out)
		if s := b.TagSummary(); s != "" {
			fmt.Fprintf(out, "      tags: %s\n", s)
		}
		if b.Err != nil {
			fmt.Fprintf(out, "      error: %v\n", b.Err)
		}
	}
	fmt.Fprintln(out)
}

func joinBlocks(blocks []uint32) string {
	parts := make([]string, len(blocks))
	for i, b := range blocks {
		parts[i] = fmt.Sprint(b)
	}
	return strings.Join(parts, " ")
}
