package page

import (
	"errors"
	"fmt"

	"github.com/vorteil/paperback/pkg/block"
)

// CellDots is the dot pitch of one block cell: 32 data dots, one grid
// line dot and two separating gaps.
const CellDots = block.NDot + 3

// Default paper dimensions (A4) in thousandths of an inch.
const (
	DefaultPaperWidth  = 8270
	DefaultPaperHeight = 11690
)

// ErrGeometryTooSmall reports a page that cannot hold the minimum block
// arrangement for the requested redundancy.
var ErrGeometryTooSmall = errors.New("page geometry too small")

// Options are the geometry inputs. Zero values fall back to defaults.
type Options struct {
	PPIX        int  // render resolution, horizontal
	PPIY        int  // render resolution, vertical
	DPI         int  // dot density
	DotPercent  int  // dot mark size as a percentage of the dot cell
	Redundancy  int  // data blocks per recovery group
	PrintBorder bool // draw the alignment border ring
	PaperWidth  int  // thousandths of an inch
	PaperHeight int  // thousandths of an inch
}

func (o *Options) defaults() {
	if o.PPIX == 0 {
		o.PPIX = 600
	}
	if o.PPIY == 0 {
		o.PPIY = o.PPIX
	}
	if o.DPI == 0 {
		o.DPI = 200
	}
	if o.DotPercent == 0 {
		o.DotPercent = 70
	}
	if o.Redundancy == 0 {
		o.Redundancy = block.NGroupDefault
	}
	if o.PaperWidth == 0 {
		o.PaperWidth = DefaultPaperWidth
	}
	if o.PaperHeight == 0 {
		o.PaperHeight = DefaultPaperHeight
	}
}

// Geometry is the full page layout derived from one Options value. All
// arithmetic is integer and floored, matching the wire format exactly.
type Geometry struct {
	DX, DY         int // dot cell size in pixels
	PX, PY         int // dot mark size in pixels
	Border         int // border ring thickness in pixels
	NX, NY         int // block grid dimensions
	Width          int // raster width, 4-byte aligned
	Height         int // raster height
	PageSize       int // payload byte capacity of one page
	Redundancy     int
	DotPercent     int
	PrintBorder    bool
	GridWidth      int // grid span including the final line mark
	GridHeight     int
	PaperWidth     int // paper size in pixels
	PaperHeight    int
	PrintableWidth int
	PrintableHght  int
}

// NewGeometry computes the page geometry for the given options.
func NewGeometry(opts Options) (*Geometry, error) {

	opts.defaults()

	if opts.DPI < 100 || opts.DPI > 1200 {
		return nil, fmt.Errorf("dot density %d out of range [100,1200]", opts.DPI)
	}
	if opts.DotPercent < 50 || opts.DotPercent > 100 {
		return nil, fmt.Errorf("dot size %d%% out of range [50,100]", opts.DotPercent)
	}
	r := opts.Redundancy
	if r < block.NGroupMin || r > block.NGroupMax {
		return nil, fmt.Errorf("redundancy %d out of range [%d,%d]", r, block.NGroupMin, block.NGroupMax)
	}

	g := &Geometry{
		Redundancy:  r,
		DotPercent:  opts.DotPercent,
		PrintBorder: opts.PrintBorder,
	}

	g.PaperWidth = opts.PPIX * opts.PaperWidth / 1000
	g.PaperHeight = opts.PPIY * opts.PaperHeight / 1000

	// Symmetric top/bottom margins, wider left margin for binding.
	g.PrintableWidth = g.PaperWidth - opts.PPIX - opts.PPIX/2
	g.PrintableHght = g.PaperHeight - opts.PPIY/2 - opts.PPIY/2

	g.DX = opts.PPIX / opts.DPI
	if g.DX < 2 {
		g.DX = 2
	}
	g.DY = opts.PPIY / opts.DPI
	if g.DY < 2 {
		g.DY = 2
	}

	g.PX = g.DX * opts.DotPercent / 100
	if g.PX < 1 {
		g.PX = 1
	}
	g.PY = g.DY * opts.DotPercent / 100
	if g.PY < 1 {
		g.PY = 1
	}

	if opts.PrintBorder {
		g.Border = 16 * g.DX
	} else {
		g.Border = 25
	}

	g.NX = (g.PrintableWidth - g.PX - 2*g.Border) / (CellDots * g.DX)
	g.NY = (g.PrintableHght - g.PY - 2*g.Border) / (CellDots * g.DY)

	if g.NX < r+1 || g.NY < 3 || g.NX*g.NY < 2*r+2 {
		return nil, fmt.Errorf("%w: %dx%d blocks for redundancy %d", ErrGeometryTooSmall, g.NX, g.NY, r)
	}

	g.GridWidth = g.NX*CellDots*g.DX + g.PX
	g.GridHeight = g.NY*CellDots*g.DY + g.PY
	g.Width = align4(g.GridWidth + 2*g.Border)
	g.Height = g.GridHeight + 2*g.Border

	g.PageSize = (g.NX*g.NY - r - 2) / (r + 1) * r * block.NData

	return g, nil
}

// Pages returns the number of pages needed for datasize payload bytes.
func (g *Geometry) Pages(datasize int) int {
	return (datasize + g.PageSize - 1) / g.PageSize
}

func align4(x int) int {
	return (x + 3) &^ 3
}
