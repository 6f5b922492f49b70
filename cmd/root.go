// Copyright 2024 Google Inc. All Rights Reserved.
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
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/patchfs/patchfs/internal/logger"
)

var (
	logFile     string
	logSeverity string
)

var rootCmd = &cobra.Command{
	Use:   "patchfs <base_directory> <mount_point>",
	Short: "Mount a directory of ROM patches as a read-only filesystem of patched ROMs",
	Long: `patchfs watches a directory for BPS and IPS patch files paired with their
source ROMs, and mounts a read-only filesystem where each patch appears as
its fully patched target ROM, materialised lazily on first read.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := initLogging(); err != nil {
			return fmt.Errorf("initializing logging: %w", err)
		}
		return mount(args[0], args[1])
	},
}

func initLogging() error {
	if logFile == "" {
		logger.SetSeverity(logger.Severity(strings.ToUpper(logSeverity)))
		return nil
	}

	cfg := logger.LogConfig{
		FilePath:        logFile,
		Severity:        logger.Severity(strings.ToUpper(logSeverity)),
		Format:          "text",
		LogRotateConfig: logger.DefaultLogRotateConfig(),
	}
	return logger.InitLogFile(cfg)
}

// Execute runs the root command, exiting with a non-zero status on failure.
// Bad arguments print a usage line and exit non-zero, which cobra's own
// Args validation already does for us.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetOut(os.Stdout)
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "path to a log file; if unset, logs go to stderr")
	rootCmd.Flags().StringVar(&logSeverity, "log-severity", "info", "minimum severity logged: off|error|warning|info|debug|trace")
}
