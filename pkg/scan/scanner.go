package scan

import (
	"errors"
	"fmt"

	"github.com/vorteil/paperback/pkg/block"
	"github.com/vorteil/paperback/pkg/page"
)

// Raster size sanity limits for the decoder.
const (
	MinRaster = 128
	MaxRaster = 32768
)

// Decoder errors.
var (
	// ErrInvalidRaster reports input dimensions outside the supported range.
	ErrInvalidRaster = errors.New("invalid raster")

	// ErrGridNotFound reports a raster in which no dot grid could be
	// located: low contrast, no periodic peaks, or disproportionate
	// X/Y steps.
	ErrGridNotFound = errors.New("grid not found")
)

// Options configure a Scanner.
type Options struct {
	// BestQuality disables every early exit in bit recognition: all
	// orientations and sampling shifts are explored and the variant
	// with the fewest corrections wins.
	BestQuality bool
}

// Scanner holds the decoder state for one raster: the located grid, the
// intensity statistics, the per-block scratch buffers and the running
// counters. It is reset by constructing a new Scanner for each raster.
type Scanner struct {
	ras  *page.Raster
	opts Options

	// Grid parameters. Peaks are absolute raster coordinates of the
	// first grid line at the search-window origin; angles are the
	// lateral drift in pixels per pixel travelled.
	xpeak, xstep, xangle float64
	ypeak, ystep, yangle float64
	xfirst, yfirst       float64
	nposx, nposy         int

	blockBorder float64
	sharpFactor float64

	// Intensity statistics over the search window.
	cmin, cmax, cmean                      int
	searchX0, searchX1, searchY0, searchY1 int
	gridX0, gridX1, gridY0, gridY1         int

	// Per-block scratch.
	buf1, buf2   []float64
	bufdx, bufdy int

	orientation int // 0..7, or -1 while unknown
	lastPair    int // last winning recognition pair

	ngood, nbad, nsuper int
	ngroup              int
	super               *block.Super
}

// NewScanner locates the grid on a raster and prepares per-block
// decoding. It fails with ErrGridNotFound when the raster carries no
// recognizable dot grid.
func NewScanner(ras *page.Raster, opts Options) (*Scanner, error) {

	if ras == nil || ras.Width < MinRaster || ras.Height < MinRaster ||
		ras.Width > MaxRaster || ras.Height > MaxRaster {
		return nil, fmt.Errorf("%w: raster must be between %d and %d pixels square",
			ErrInvalidRaster, MinRaster, MaxRaster)
	}

	s := &Scanner{
		ras:         ras,
		opts:        opts,
		orientation: -1,
	}

	err := s.findGridBounds()
	if err != nil {
		return nil, err
	}

	s.measureIntensity()

	err = s.findGridLines()
	if err != nil {
		return nil, err
	}

	s.prepareCursor()

	return s, nil
}

// Counters returns the good/bad/superblock tallies so far.
func (s *Scanner) Counters() (ngood, nbad, nsuper int) {
	return s.ngood, s.nbad, s.nsuper
}

// Group returns the redundancy group size seen on this page, or zero if
// no recovery block has been read yet.
func (s *Scanner) Group() int {
	return s.ngroup
}

// Super returns the most recently decoded superblock, or nil.
func (s *Scanner) Super() *block.Super {
	return s.super
}

// Blocks returns the block grid dimensions located on the raster.
func (s *Scanner) Blocks() (nx, ny int) {
	return s.nposx, s.nposy
}

// Sharpness returns the estimated defocus compensation factor.
func (s *Scanner) Sharpness() float64 {
	return s.sharpFactor
}

// Steps returns the measured grid periods in pixels.
func (s *Scanner) Steps() (xstep, ystep float64) {
	return s.xstep, s.ystep
}

// findGridBounds scans the full raster for the bounding box of the
// darkened region.
func (s *Scanner) findGridBounds() error {

	min, max := 255, 0
	for _, p := range s.ras.Pix {
		if int(p) < min {
			min = int(p)
		}
		if int(p) > max {
			max = int(p)
		}
	}

	if max-min < 16 {
		return fmt.Errorf("%w: low contrast", ErrGridNotFound)
	}

	threshold := byte((min + max) / 2)

	s.gridX0, s.gridY0 = s.ras.Width, s.ras.Height
	s.gridX1, s.gridY1 = 0, 0
	for y := 0; y < s.ras.Height; y++ {
		row := s.ras.Pix[y*s.ras.Width : (y+1)*s.ras.Width]
		for x, p := range row {
			if p >= threshold {
				continue
			}
			if x < s.gridX0 {
				s.gridX0 = x
			}
			if x > s.gridX1 {
				s.gridX1 = x
			}
			if y < s.gridY0 {
				s.gridY0 = y
			}
			if y > s.gridY1 {
				s.gridY1 = y
			}
		}
	}

	if s.gridX1 <= s.gridX0 || s.gridY1 <= s.gridY0 {
		return fmt.Errorf("%w: no dark region", ErrGridNotFound)
	}

	return nil
}

// measureIntensity gathers histogram statistics over a window of at most
// 1024x1024 pixels centered on the grid bounding box. The extreme 3%
// tails are dropped to get stable black and white levels, and the 95th
// percentile of neighbour differences estimates sharpness.
func (s *Scanner) measureIntensity() {

	cx := (s.gridX0 + s.gridX1) / 2
	cy := (s.gridY0 + s.gridY1) / 2

	s.searchX0 = clamp(cx-nhyst/2, 0, s.ras.Width)
	s.searchX1 = clamp(cx+nhyst/2, 0, s.ras.Width)
	s.searchY0 = clamp(cy-nhyst/2, 0, s.ras.Height)
	s.searchY1 = clamp(cy+nhyst/2, 0, s.ras.Height)

	var hist, diff [256]int64
	var total, sum int64

	for y := s.searchY0; y < s.searchY1; y++ {
		row := s.ras.Pix[y*s.ras.Width : (y+1)*s.ras.Width]
		for x := s.searchX0; x < s.searchX1; x++ {
			p := row[x]
			hist[p]++
			sum += int64(p)
			total++
			if x+1 < s.searchX1 {
				d := int(p) - int(row[x+1])
				if d < 0 {
					d = -d
				}
				diff[d]++
			}
		}
	}

	s.cmean = int(sum / total)

	// Drop 3% tails.
	tail := total * 3 / 100
	var acc int64
	s.cmin = 0
	for i := 0; i < 256; i++ {
		acc += hist[i]
		if acc > tail {
			s.cmin = i
			break
		}
	}
	acc = 0
	s.cmax = 255
	for i := 255; i >= 0; i-- {
		acc += hist[i]
		if acc > tail {
			s.cmax = i
			break
		}
	}
	if s.cmax <= s.cmin {
		s.cmax = s.cmin + 1
	}

	// 95th percentile of neighbour contrast.
	acc = 0
	contrast := 1
	for i := 255; i >= 1; i-- {
		acc += diff[i]
		if acc > total/20 {
			contrast = i
			break
		}
	}

	s.sharpFactor = float64(s.cmax-s.cmin)/(2*float64(contrast)) - 1
	if s.sharpFactor < 0 {
		s.sharpFactor = 0
	}
	if s.sharpFactor > 2 {
		s.sharpFactor = 2
	}
}

// prepareCursor extends the measured grid phase back to the bounding box
// and counts the block rows and columns on the page.
func (s *Scanner) prepareCursor() {

	s.xfirst = s.xpeak
	for s.xfirst-s.xstep >= float64(s.gridX0)-s.xstep/2 {
		s.xfirst -= s.xstep
	}
	s.yfirst = s.ypeak
	for s.yfirst-s.ystep >= float64(s.gridY0)-s.ystep/2 {
		s.yfirst -= s.ystep
	}

	s.nposx = int((float64(s.gridX1) - s.xfirst) / s.xstep)
	s.nposy = int((float64(s.gridY1) - s.yfirst) / s.ystep)

	s.blockBorder = maxf(absf(s.xangle), absf(s.yangle))*5 + 0.4

	s.bufdx = int(s.xstep*(1+2*s.blockBorder)) + 2
	s.bufdy = int(s.ystep*(1+2*s.blockBorder)) + 2
	s.buf1 = make([]float64, s.bufdx*s.bufdy)
	s.buf2 = make([]float64, s.bufdx*s.bufdy)
}

func clamp(x, lo, hi int) int {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
