package commands

import (
	"fmt"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"lfsforensics/internal/export"
	"lfsforensics/internal/lfs"
	"lfsforensics/internal/recovery"
)

func newExtractCmd(a *app) *cobra.Command {
	var excludes []string
	cmd := &cobra.Command{
		Use:   "extract <image> <directory>",
		Short: "Copy the live tree and all recovered data into a directory",
		Long: `Copy every live file of the image into <directory>/live, then run a
recovery pass and write its results next to it (see 'recover').

Examples:
  lfsforensics extract flash.img out/
  lfsforensics extract --exclude '*.tmp' flash.img out/`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := a.openImage(cmd, args[0])
			if err != nil {
				return err
			}
			defer dev.Close()

			x := export.New(osfs.New(args[1]), dev)
			sum, err := x.ExportTree(cmd.Context(), lfs.RootPair, lfs.BuildPathFilter(excludes))
			if err != nil {
				return err
			}
			for _, w := range sum.Warnings {
				warnf(cmd, "%v", w)
			}

			rep, err := recovery.NewEngine(dev,
				recovery.WithWorkers(a.settings.Workers),
				recovery.WithEraseValue(a.settings.Erase()),
				recovery.WithTrimErased(a.settings.TrimErased()),
			).Run(cmd.Context())
			if err != nil {
				return err
			}
			m, err := x.ExportRecovered(rep, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Live tree: %d directories, %d files, %d bytes\n", sum.Dirs, len(sum.Files), sum.Bytes)
			fmt.Fprintf(out, "Recovered: %d orphaned blocks, %d deleted entries\n", len(m.Orphans), len(m.Deleted))
			fmt.Fprintf(out, "Manifest: %s (run %s)\n", export.ManifestFile, m.RunID)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&excludes, "exclude", nil, "gitignore-style pattern of live paths to skip (repeatable)")
	return cmd
}
