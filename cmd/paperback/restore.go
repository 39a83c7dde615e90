package main

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"time"

	"github.com/cloudfoundry/bytefmt"
	"github.com/sisatech/tablewriter"
	"github.com/spf13/cobra"

	"github.com/vorteil/paperback/pkg/backup"
	"github.com/vorteil/paperback/pkg/block"
	"github.com/vorteil/paperback/pkg/bmp"
)

var restoreCmd = &cobra.Command{
	Use:   "restore PAGE...",
	Short: "Decode scanned pages back into the original file",
	Long: `Decode one or more scanned BMP pages. Pages may be supplied in any
order; once every page of a backup has been ingested the original file
is written out with its recorded modification time.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {

		dec := backup.NewDecoder(backup.DecodeOptions{
			Password:    flagPassword,
			BestQuality: flagBestQuality,
		}, log)

		ctx := context.Background()
		restored := 0

		for _, path := range args {

			f, err := os.Open(path)
			if err != nil {
				log.Errorf("%v", err)
				return err
			}

			ras, err := bmp.Read(f)
			f.Close()
			if err != nil {
				log.Errorf("%s: %v", path, err)
				return err
			}

			res, err := dec.Ingest(ctx, ras)
			if err != nil {
				log.Errorf("%s: %v", path, err)
				return err
			}

			log.Infof("%s: page %d, %d good, %d bad, %d restored",
				path, res.Page, res.Good, res.Bad, res.Restored)

			if !res.Complete {
				if len(res.Remaining) > 0 {
					log.Warnf("'%s' still needs page(s) %v", res.Filename, res.Remaining)
				}
				continue
			}

			out := flagOutput
			if out == "" {
				out = res.Filename
			}
			if out == "" {
				out = "paperback.out"
			}

			err = checkValidNewFileOutput(out, flagForce)
			if err != nil {
				log.Errorf("%v", err)
				return err
			}

			err = ioutil.WriteFile(out, res.Data, 0666)
			if err != nil {
				log.Errorf("%v", err)
				return err
			}

			err = os.Chtimes(out, time.Now(), res.Modified)
			if err != nil {
				log.Warnf("failed to restore modification time: %v", err)
			}

			log.Printf("restored %s (%s)", out, bytefmt.ByteSize(uint64(len(res.Data))))
			restored++
		}

		if restored == 0 {
			log.Warnf("no backup completed yet; scan the remaining pages and run restore again with all pages")
		}

		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info PAGE",
	Short: "Print the metadata stored on a scanned page",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {

		f, err := os.Open(args[0])
		if err != nil {
			log.Errorf("%v", err)
			return err
		}

		ras, err := bmp.Read(f)
		f.Close()
		if err != nil {
			log.Errorf("%s: %v", args[0], err)
			return err
		}

		super, err := backup.Describe(context.Background(), ras, log)
		if err != nil {
			log.Errorf("%s: %v", args[0], err)
			return err
		}

		mode := "plain"
		switch {
		case super.Compressed() && super.Encrypted():
			mode = "compressed, encrypted"
		case super.Compressed():
			mode = "compressed"
		case super.Encrypted():
			mode = "encrypted"
		}

		pages := int(super.DataSize+super.PageSize-1) / int(super.PageSize)

		table := tablewriter.NewWriter(os.Stdout)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetBorder(false)
		table.SetColumnSeparator("")
		table.Append([]string{"FILE", super.Filename()})
		table.Append([]string{"PAGE", fmt.Sprintf("%d of %d", super.Page, pages)})
		table.Append([]string{"SIZE", bytefmt.ByteSize(uint64(super.OrigSize))})
		table.Append([]string{"STREAM", bytefmt.ByteSize(uint64(super.DataSize))})
		table.Append([]string{"MODE", mode})
		table.Append([]string{"MODIFIED", block.FiletimeToTime(super.Modified).Format(time.RFC1123)})
		table.Render()

		return nil
	},
}
