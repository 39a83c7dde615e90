package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vorteil/paperback/pkg/block"
	"github.com/vorteil/paperback/pkg/elog"
	"github.com/vorteil/paperback/pkg/page"
	"github.com/vorteil/paperback/pkg/restore"
	"github.com/vorteil/paperback/pkg/scan"
)

// ErrNoSuperblock reports a raster on which a grid was found but no
// superblock survived, so the page cannot be attributed to a file.
var ErrNoSuperblock = errors.New("no superblock found on page")

// DecodeOptions configure the decode pipeline.
type DecodeOptions struct {
	Password    string
	BestQuality bool
}

// Result summarizes one ingested raster.
type Result struct {
	Filename  string
	Page      int
	Good      int
	Bad       int
	Supers    int
	Restored  int
	Complete  bool
	Data      []byte    // set when Complete
	Modified  time.Time // set when Complete
	Remaining []int     // page hints while incomplete
}

// Decoder drives the decode pipeline. It keeps the reassembly session
// across rasters so a backup split over many pages, scanned in any
// order and possibly rescanned after damage, converges on the original
// file.
type Decoder struct {
	opts    DecodeOptions
	log     elog.View
	session *restore.Session
}

// NewDecoder returns a decoder with an empty reassembly session.
func NewDecoder(opts DecodeOptions, log elog.View) *Decoder {
	return &Decoder{
		opts:    opts,
		log:     log,
		session: restore.NewSession(),
	}
}

// Session exposes the underlying reassembly session.
func (d *Decoder) Session() *restore.Session {
	return d.session
}

// Reset abandons every partially reassembled file and releases their
// payload buffers.
func (d *Decoder) Reset() {
	for slot := 0; slot < restore.MaxFiles; slot++ {
		d.session.Close(slot)
	}
}

// Ingest locates the grid on one raster, reads every block, feeds the
// reassembler and, when the file becomes complete, finalizes it.
func (d *Decoder) Ingest(ctx context.Context, ras *page.Raster) (*Result, error) {

	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	search := d.log.NewProgress("Searching grid", "", 0)
	scanner, err := scan.NewScanner(ras, scan.Options{BestQuality: d.opts.BestQuality})
	if err != nil {
		search.Finish(false)
		return nil, err
	}
	search.Finish(true)

	nx, ny := scanner.Blocks()
	xstep, ystep := scanner.Steps()
	d.log.Infof("grid: %dx%d blocks, step %.2f/%.2f, sharpness %.2f",
		nx, ny, xstep, ystep, scanner.Sharpness())

	progress := d.log.NewProgress("Reading blocks", "%", int64(nx*ny))
	defer progress.Finish(false)

	var records []*block.Record
	for posy := 0; posy < ny; posy++ {
		err = ctx.Err()
		if err != nil {
			return nil, err
		}
		for posx := 0; posx < nx; posx++ {
			rec, class, _, err := scanner.ReadBlock(posx, posy)
			progress.Increment(1)
			if err != nil {
				d.log.Debugf("block (%d,%d): %v", posx, posy, err)
				continue
			}
			if class != block.ClassSuper {
				records = append(records, rec)
			}
		}
	}
	progress.Finish(true)

	super := scanner.Super()
	if super == nil {
		return nil, ErrNoSuperblock
	}

	slot, err := d.session.StartPage(super)
	if err != nil {
		return nil, err
	}

	for _, rec := range records {
		err = d.session.AddBlock(slot, rec)
		if err != nil {
			d.log.Debugf("block %08x: %v", rec.Addr(), err)
		}
	}

	ngood, nbad, nsuper := scanner.Counters()
	err = d.session.FinishPage(slot, ngood, nbad, nsuper)
	if err != nil {
		return nil, err
	}

	f := d.session.File(slot)
	good, bad, supers, restored := f.Stats()
	res := &Result{
		Filename: f.Filename(),
		Page:     int(super.Page),
		Good:     good,
		Bad:      bad,
		Supers:   supers,
		Restored: restored,
	}

	if !f.Complete() {
		res.Remaining = f.RemainingPages()
		d.log.Infof("page %d of '%s' ingested, %d page(s) outstanding",
			super.Page, f.Filename(), len(res.Remaining))
		return res, nil
	}

	data, err := f.Finalize(d.opts.Password)
	if err != nil {
		return nil, err
	}

	res.Complete = true
	res.Data = data
	res.Modified = f.Modified()
	d.session.Close(slot)

	d.log.Infof("restored '%s': %d bytes", res.Filename, len(data))

	return res, nil
}

// Describe reads only the superblock metadata from a raster, without
// touching the reassembly session.
func Describe(ctx context.Context, ras *page.Raster, log elog.View) (*block.Super, error) {

	scanner, err := scan.NewScanner(ras, scan.Options{})
	if err != nil {
		return nil, err
	}

	nx, ny := scanner.Blocks()
	for posy := 0; posy < ny; posy++ {
		err = ctx.Err()
		if err != nil {
			return nil, err
		}
		for posx := 0; posx < nx; posx++ {
			_, class, _, err := scanner.ReadBlock(posx, posy)
			if err != nil {
				continue
			}
			if class == block.ClassSuper {
				return scanner.Super(), nil
			}
		}
	}

	return nil, fmt.Errorf("%w", ErrNoSuperblock)
}
