package main

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/sisatech/toml"
)

var (
	release = "0.0.0"
	commit  = ""
	date    = "Thu, 01 Jan 1970 00:00:00 +0000"
)

func main() {

	commandInit()

	err := rootCmd.Execute()

	if err != nil {
		os.Exit(1)
	}
}

type paperbackConf struct {
	Backup struct {
		DPI        int    `toml:"dpi"`
		DotPercent int    `toml:"dot-percent"`
		Redundancy int    `toml:"redundancy"`
		Compress   string `toml:"compression"`
		Border     bool   `toml:"border"`
	} `toml:"backup"`
}

// loadConf applies ~/.paperback/conf.toml on top of the built-in flag
// defaults. A missing file is not an error; flags still override.
func loadConf() error {

	home, err := homedir.Dir()
	if err != nil {
		return err
	}
	conf := filepath.Join(home, ".paperback", "conf.toml")

	confData, err := ioutil.ReadFile(conf)
	if err != nil {
		return nil
	}

	pconf := new(paperbackConf)
	err = toml.Unmarshal(confData, pconf)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", conf, err)
	}

	if pconf.Backup.DPI != 0 && !backupCmd.Flags().Changed("dpi") {
		flagDPI = pconf.Backup.DPI
	}
	if pconf.Backup.DotPercent != 0 && !backupCmd.Flags().Changed("dot") {
		flagDotPercent = pconf.Backup.DotPercent
	}
	if pconf.Backup.Redundancy != 0 && !backupCmd.Flags().Changed("redundancy") {
		flagRedundancy = pconf.Backup.Redundancy
	}
	if pconf.Backup.Compress != "" && !backupCmd.Flags().Changed("compression") {
		flagCompression = pconf.Backup.Compress
	}
	if pconf.Backup.Border && !backupCmd.Flags().Changed("border") {
		flagBorder = true
	}

	return nil
}

func checkValidNewFileOutput(path string, force bool) error {

	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}

	if force {
		err = os.RemoveAll(path)
		if err != nil {
			return fmt.Errorf("failed to delete existing output '%s': %w", path, err)
		}
		return nil
	}

	return fmt.Errorf("output '%s' already exists (you can use '--force' to overwrite)", path)
}
