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
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"lfsforensics/internal/blockdev"
	"lfsforensics/internal/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// SetVersion sets the version info for --version flag
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
}

// getVersionString returns the version string with build info
func getVersionString() string {
	buildDate := formatBuildDate(date)
	if strings.HasSuffix(version, "-dev") {
		// Dev build: include epoch and commit for troubleshooting
		return fmt.Sprintf("%s (%s, epoch: %s, commit: %s)", version, buildDate, date, commit)
	}
	return fmt.Sprintf("%s (%s)", version, buildDate)
}

// formatBuildDate converts epoch timestamp to readable date
func formatBuildDate(epoch string) string {
	ts, err := strconv.ParseInt(epoch, 10, 64)
	if err != nil {
		return epoch
	}
	return time.Unix(ts, 0).Format("2006-01-02")
}

// app carries the state shared by all subcommands of one invocation.
type app struct {
	configPath string
	blockSize  uint32
	blockCount uint32
	logLevel   string

	settings *config.Settings
}

// NewRootCmd builds the command tree. Every call returns fresh commands and
// flag state.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "lfsforensics",
		Short: "Forensic analyzer for littlefs flash images",
		Long: `Forensic analyzer for littlefs flash images.

Lists live files, dumps metadata structures and recovers deleted data
directly from a raw block image. The image is only ever read.`,
		Version:       getVersionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip initialization for help commands
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			return a.load(cmd)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetVersionTemplate("lfsforensics version {{.Version}}\n")

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "settings file (default $LFSFORENSICS_CONFIG_DIR/settings.yaml)")
	flags.Uint32Var(&a.blockSize, "block-size", 4096, "block size of the image in bytes")
	flags.Uint32Var(&a.blockCount, "block-count", 16, "number of blocks in the image")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: trace, debug, info, warn, off")

	root.AddCommand(
		newInitCmd(a),
		newListCmd(a),
		newStructCmd(a),
		newRecoverCmd(a),
		newExtractCmd(a),
	)
	return root
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

// load reads the settings file and lets explicitly set flags override it.
func (a *app) load(cmd *cobra.Command) error {
	var settings *config.Settings
	var err error
	if a.configPath == "" {
		settings, err = config.Load()
	} else {
		settings, err = config.LoadFromPath(a.configPath)
	}
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("block-size") {
		settings.BlockSize = a.blockSize
	}
	if flags.Changed("block-count") {
		settings.BlockCount = a.blockCount
	}
	if flags.Changed("log-level") {
		settings.LogLevel = a.logLevel
	}
	if err := settings.Validate(); err != nil {
		return err
	}
	a.settings = settings

	configureLogging(settings.Level(), cmd.ErrOrStderr())
	return nil
}

// configureLogging sets the logrus level (case insensitive). "off" or an
// empty level discards all log output.
func configureLogging(level string, w io.Writer) {
	switch level {
	case "", "off":
		logrus.SetOutput(io.Discard)
		return
	case "trace":
		logrus.SetLevel(logrus.TraceLevel)
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	default:
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetOutput(w)
}

// openImage opens the image read-only with the configured geometry.
func (a *app) openImage(cmd *cobra.Command, path string) (*blockdev.Device, error) {
	return blockdev.Open(cmd.Context(), path, a.settings.BlockSize, a.settings.BlockCount)
}

// warnf prints a non-fatal problem the way all subcommands do.
func warnf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.ErrOrStderr(), "[!] "+format+"\n", args...)
}
