package main

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudfoundry/bytefmt"
	"github.com/spf13/cobra"

	"github.com/vorteil/paperback/pkg/backup"
	"github.com/vorteil/paperback/pkg/bmp"
	"github.com/vorteil/paperback/pkg/comp"
)

var backupCmd = &cobra.Command{
	Use:   "backup FILE",
	Short: "Encode a file into printable bitmap pages",
	Long: `Encode a file into one or more BMP pages. Pages are written next to
the input file (or to the --output prefix) as NAME_0001.bmp and so on,
ready to print at the configured resolution.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {

		src := args[0]

		fi, err := os.Stat(src)
		if err != nil {
			log.Errorf("%v", err)
			return err
		}

		input, err := ioutil.ReadFile(src)
		if err != nil {
			log.Errorf("%v", err)
			return err
		}

		level, err := comp.ParseLevel(flagCompression)
		if err != nil {
			log.Errorf("%v", err)
			return err
		}

		if flagEncrypt && flagPassword == "" {
			err = fmt.Errorf("encryption requested without a password")
			log.Errorf("%v", err)
			return err
		}

		prefix := flagOutput
		if prefix == "" {
			prefix = strings.TrimSuffix(src, filepath.Ext(src))
		}

		enc := backup.NewEncoder(backup.Options{
			DPI:         flagDPI,
			DotPercent:  flagDotPercent,
			Redundancy:  flagRedundancy,
			Compression: level,
			Encrypt:     flagEncrypt,
			Password:    flagPassword,
			PrintHeader: flagHeader,
			PrintBorder: flagBorder,
			PaperWidth:  flagPaperW,
			PaperHeight: flagPaperH,
		}, log)

		ctx := context.Background()

		err = enc.Encode(ctx, input, filepath.Base(src), fi.ModTime())
		if err != nil {
			log.Errorf("%v", err)
			return err
		}

		progress := log.NewProgress("Rendering pages", "%", int64(enc.Pages()))
		defer progress.Finish(false)

		var written []string
		for {
			p, err := enc.NextPage(ctx)
			if err != nil {
				log.Errorf("%v", err)
				return err
			}
			if p == nil {
				break
			}

			path := fmt.Sprintf("%s_%04d.bmp", prefix, p.Number)
			err = checkValidNewFileOutput(path, flagForce)
			if err != nil {
				log.Errorf("%v", err)
				return err
			}

			f, err := os.Create(path)
			if err != nil {
				log.Errorf("%v", err)
				return err
			}

			err = bmp.Write(f, p.Raster, flagDPI)
			if err != nil {
				f.Close()
				log.Errorf("%v", err)
				return err
			}

			err = f.Close()
			if err != nil {
				log.Errorf("%v", err)
				return err
			}

			written = append(written, path)
			progress.Increment(1)
		}
		progress.Finish(true)

		log.Printf("backed up %s (%s) onto %d page(s)",
			filepath.Base(src), bytefmt.ByteSize(uint64(len(input))), len(written))
		for _, path := range written {
			log.Infof("  %s", path)
		}

		return nil
	},
}
