/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */
package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vorteil/paperback/pkg/elog"
)

var log elog.View

var (
	flagVerbose     bool
	flagDebug       bool
	flagJSON        bool
	flagForce       bool
	flagOutput      string
	flagDPI         int
	flagDotPercent  int
	flagRedundancy  int
	flagCompression string
	flagEncrypt     bool
	flagPassword    string
	flagHeader      bool
	flagBorder      bool
	flagPaperW      int
	flagPaperH      int
	flagBestQuality bool
)

func commandInit() {

	// setup logging across all commands
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug output")
	rootCmd.PersistentFlags().BoolVarP(&flagJSON, "json", "j", false, "enable json output")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {

		logger := &elog.CLI{}

		if flagJSON {
			logger.DisableTTY = true
			logrus.SetFormatter(&logrus.JSONFormatter{})
		} else {
			if !isatty.IsTerminal(os.Stdout.Fd()) {
				logger.DisableTTY = true
			}
			logrus.SetFormatter(logger)
		}

		logrus.SetLevel(logrus.TraceLevel)

		if flagDebug {
			logger.IsDebug = true
			logger.IsVerbose = true
		} else if flagVerbose {
			logger.IsVerbose = true
		}

		log = logger

		return loadConf()
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(infoCmd)

	backupCmd.Flags().IntVar(&flagDPI, "dpi", 200, "dot density in dots per inch (100..1200)")
	backupCmd.Flags().IntVar(&flagDotPercent, "dot", 70, "dot mark size as a percentage of the dot cell (50..100)")
	backupCmd.Flags().IntVarP(&flagRedundancy, "redundancy", "r", 5, "data blocks per recovery block (2..10)")
	backupCmd.Flags().StringVarP(&flagCompression, "compression", "c", "max", "compression level: none, fast, or max")
	backupCmd.Flags().BoolVarP(&flagEncrypt, "encrypt", "e", false, "encrypt the backup with AES-192")
	backupCmd.Flags().BoolVar(&flagHeader, "header", false, "page header option (rendered raster pages carry no header)")
	backupCmd.Flags().BoolVar(&flagBorder, "border", false, "print the alignment border ring")
	backupCmd.Flags().IntVar(&flagPaperW, "paper-width", 8270, "paper width in thousandths of an inch")
	backupCmd.Flags().IntVar(&flagPaperH, "paper-height", 11690, "paper height in thousandths of an inch")
	addOutputFlags(backupCmd.Flags())

	restoreCmd.Flags().BoolVar(&flagBestQuality, "best-quality", false, "explore every orientation and shift for minimal corrections")
	addOutputFlags(restoreCmd.Flags())
}

// addOutputFlags attaches the flags shared by the encode and decode
// commands.
func addOutputFlags(f *pflag.FlagSet) {
	f.StringVarP(&flagPassword, "password", "p", "", "password for AES-192 encryption")
	f.StringVarP(&flagOutput, "output", "o", "", "output path")
	f.BoolVarP(&flagForce, "force", "f", false, "overwrite existing output files")
}

var rootCmd = &cobra.Command{
	Use:   "paperback",
	Short: "Back up files onto printable paper and restore them from scans",
	Long: `Paperback encodes arbitrary files into printable dot-grid pages and
decodes scanned or photographed pages back into the original file. Every
block on a page carries Reed-Solomon error correction, and each group of
blocks carries an extra xor recovery block, so pages survive skew, blur
and mild physical damage.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "View CLI version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Version: %s\n", release)
		fmt.Printf("Ref: %s\n", commit)
		fmt.Printf("Released: %s\n", date)
	},
}
