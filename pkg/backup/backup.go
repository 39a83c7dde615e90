package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vorteil/paperback/pkg/block"
	"github.com/vorteil/paperback/pkg/comp"
	"github.com/vorteil/paperback/pkg/elog"
	"github.com/vorteil/paperback/pkg/page"
	"github.com/vorteil/paperback/pkg/pcrypt"
)

// ErrInvalidInput reports unusable encode input or options.
var ErrInvalidInput = errors.New("invalid input")

// Encoder steps.
const (
	stepIdle = iota
	stepPrinting
	stepDone
)

// Options collects the encode configuration.
type Options struct {
	PPI         int // render resolution, defaults to 600
	DPI         int // dot density, 100..1200
	DotPercent  int // 50..100
	Redundancy  int // 2..10
	Compression comp.Level
	Encrypt     bool
	Password    string
	PrintHeader bool
	PrintBorder bool
	PaperWidth  int // thousandths of an inch
	PaperHeight int
}

// Page is one rendered output page.
type Page struct {
	Number int
	Total  int
	Raster *page.Raster
}

// Encoder drives the encode pipeline: read and transform the input,
// compute the geometry, then emit pages one at a time. Resetting the
// step to idle cancels the run and releases the transformed stream.
type Encoder struct {
	opts Options
	log  elog.View

	step    int
	geom    *page.Geometry
	super   block.Super
	data    []byte
	pageIdx int
	npages  int
}

// NewEncoder returns an idle encoder.
func NewEncoder(opts Options, log elog.View) *Encoder {
	return &Encoder{opts: opts, log: log}
}

// Reset cancels the pipeline and drops all intermediate state.
func (e *Encoder) Reset() {
	e.step = stepIdle
	e.data = nil
	e.geom = nil
	e.pageIdx = 0
	e.npages = 0
}

// Encode performs the read-and-transform and initialize-printing steps:
// compress, align, optionally encrypt, compute the page geometry and
// populate the superblock. After a successful Encode the caller drains
// NextPage until it returns nil.
func (e *Encoder) Encode(ctx context.Context, input []byte, name string, modified time.Time) error {

	err := ctx.Err()
	if err != nil {
		return err
	}

	if len(input) == 0 || len(input) > block.MaxSize {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrInvalidInput, len(input), block.MaxSize)
	}
	if e.opts.Encrypt && len(e.opts.Password) > 32 {
		return fmt.Errorf("%w: password longer than 32 bytes", ErrInvalidInput)
	}

	progress := e.log.NewProgress("Preparing data", "", 0)
	defer progress.Finish(false)

	mode := byte(0)
	data := input

	if e.opts.Compression != comp.None {
		packed, err := comp.Compress(input, e.opts.Compression)
		if err != nil {
			return err
		}
		// Incompressible input is carried as-is.
		if len(packed) < len(input) {
			data = packed
			mode |= block.ModeCompressed
		} else {
			e.log.Infof("compression disabled: %d -> %d bytes", len(input), len(packed))
		}
	}

	// Zero-pad to the cipher block size whether or not encryption is
	// on; the superblock data size is always 16-byte aligned.
	aligned := (len(data) + 15) &^ 15
	stream := make([]byte, aligned)
	copy(stream, data)

	if len(stream) > block.MaxSize {
		return fmt.Errorf("%w: transformed stream too large", ErrInvalidInput)
	}

	filecrc := block.CRC16(stream)

	var salt, iv []byte
	if e.opts.Encrypt {
		salt, err = pcrypt.NewSalt()
		if err != nil {
			return err
		}
		iv, err = pcrypt.NewIV()
		if err != nil {
			return err
		}
		key := pcrypt.DeriveKey(e.opts.Password, salt)
		err = pcrypt.Encrypt(key, iv, stream)
		if err != nil {
			return err
		}
		mode |= block.ModeEncrypted
	}

	geom, err := page.NewGeometry(page.Options{
		PPIX:        e.opts.PPI,
		DPI:         e.opts.DPI,
		DotPercent:  e.opts.DotPercent,
		Redundancy:  e.opts.Redundancy,
		PrintBorder: e.opts.PrintBorder,
		PaperWidth:  e.opts.PaperWidth,
		PaperHeight: e.opts.PaperHeight,
	})
	if err != nil {
		return err
	}

	e.super = block.Super{
		DataSize: uint32(len(stream)),
		PageSize: uint32(geom.PageSize),
		OrigSize: uint32(len(input)),
		Mode:     mode,
		Modified: block.TimeToFiletime(modified),
		FileCRC:  filecrc,
	}
	e.super.SetFilename(name)
	if e.opts.Encrypt {
		copy(e.super.Salt(), salt)
		copy(e.super.IV(), iv)
	}

	e.data = stream
	e.geom = geom
	e.pageIdx = 0
	e.npages = geom.Pages(len(stream))
	e.step = stepPrinting

	progress.Finish(true)
	e.log.Infof("%d bytes on %d page(s), %dx%d blocks per page",
		len(stream), e.npages, geom.NX, geom.NY)

	return nil
}

// Geometry exposes the computed page geometry after Encode.
func (e *Encoder) Geometry() *page.Geometry {
	return e.geom
}

// Pages returns the total page count after Encode.
func (e *Encoder) Pages() int {
	return e.npages
}

// NextPage renders and yields the next page, or nil when the run is
// finished.
func (e *Encoder) NextPage(ctx context.Context) (*Page, error) {

	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	if e.step != stepPrinting {
		return nil, nil
	}
	if e.pageIdx >= e.npages {
		e.step = stepDone
		return nil, nil
	}

	super := e.super
	super.Page = uint16(e.pageIdx + 1)

	cells := page.Layout(e.geom, super.Record(), e.data, e.pageIdx)
	ras := e.geom.Render(cells)

	p := &Page{
		Number: e.pageIdx + 1,
		Total:  e.npages,
		Raster: ras,
	}
	e.pageIdx++

	return p, nil
}
