package scan

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/vorteil/paperback/pkg/block"
	"github.com/vorteil/paperback/pkg/page"
)

// recogPairs are the unsharp factor / limit correction combinations bit
// recognition walks through, in canonical order. The first pair is the
// identity; later pairs compensate progressively blurrier input.
var recogPairs = [9][2]float64{
	{1.0, 0}, {1.0, -16}, {1.0, 16},
	{1.5, 0}, {1.5, -16}, {1.5, 16},
	{2.0, 0}, {2.0, -16}, {2.0, 16},
}

// dotGrid is the 32x32 sampled intensity matrix of one block.
type dotGrid [block.NDot * block.NDot]float64

// readResult carries one successful recognition.
type readResult struct {
	rec         *block.Record
	class       block.Class
	corrections int
	orientation int
}

// ReadBlock decodes the block at grid position (posx, posy). It
// resamples the block region, re-finds the local dot grid, samples the
// dot matrix under multiple shifts and dot sizes, and verifies candidate
// bit patterns through Reed-Solomon and CRC across eight orientations.
func (s *Scanner) ReadBlock(posx, posy int) (*block.Record, block.Class, int, error) {

	if posx < 0 || posx >= s.nposx || posy < 0 || posy >= s.nposy {
		return nil, 0, 0, fmt.Errorf("block position (%d,%d) out of range", posx, posy)
	}

	buf := s.resample(posx, posy)
	if s.sharpFactor > 0 {
		buf = s.sharpen(buf)
	}

	lx, ly, err := s.localGrid(buf)
	if err != nil {
		s.nbad++
		return nil, 0, 0, err
	}

	// Convert block-pitch peaks to dot pitch; the first data dot sits
	// two dot cells past the grid line.
	dotStepX := lx.step / page.CellDots
	dotStepY := ly.step / page.CellDots
	dotPeakX := lx.phase + 2*dotStepX
	dotPeakY := ly.phase + 2*dotStepY

	maxDot := int(math.Min(dotStepX, dotStepY) / 2)
	if maxDot < 1 {
		maxDot = 1
	}
	if maxDot > 4 {
		maxDot = 4
	}

	var best *readResult

	for d := 1; d <= maxDot; d++ {

		grids := s.sampleGrids(buf, dotPeakX, dotPeakY, dotStepX, dotStepY, d)

		if !s.opts.BestQuality {
			if res := s.recognize(&grids[4], false); res != nil {
				return s.accept(res)
			}
			spliced := spliceByVariance(&grids)
			if res := s.recognize(spliced, false); res != nil {
				return s.accept(res)
			}
			continue
		}

		// Best quality: no early exit, every shift, fewest corrections.
		for sh := 0; sh < 9; sh++ {
			res := s.recognize(&grids[sh], true)
			if res != nil && (best == nil || res.corrections < best.corrections) {
				best = res
			}
		}
	}

	if best != nil {
		return s.accept(best)
	}

	s.nbad++
	return nil, 0, 0, fmt.Errorf("%w at (%d,%d)", block.ErrUnrecoverable, posx, posy)
}

// accept books a successful read into the scanner counters.
func (s *Scanner) accept(res *readResult) (*block.Record, block.Class, int, error) {

	if !s.opts.BestQuality {
		s.orientation = res.orientation
	}

	switch res.class {
	case block.ClassSuper:
		s.nsuper++
		s.super = res.rec.Super()
	case block.ClassRecovery:
		s.ngood++
		s.ngroup = res.rec.Group()
	default:
		s.ngood++
	}

	return res.rec, res.class, res.corrections, nil
}

// resample extracts the block region, with the configured border margin
// on every side, into the scratch buffer via bilinear interpolation with
// both skew angles applied. Pixels outside the raster read as white.
func (s *Scanner) resample(posx, posy int) []float64 {

	bx0 := s.xfirst + float64(posx)*s.xstep - s.blockBorder*s.xstep
	by0 := s.yfirst + float64(posy)*s.ystep - s.blockBorder*s.ystep

	for v := 0; v < s.bufdy; v++ {
		ys0 := by0 + float64(v)
		row := s.buf1[v*s.bufdx:]
		for u := 0; u < s.bufdx; u++ {
			xs := bx0 + float64(u) + (ys0-float64(s.searchY0))*s.xangle
			ys := ys0 + (xs-float64(s.searchX0))*s.yangle
			row[u] = s.bilinear(xs, ys)
		}
	}

	return s.buf1[:s.bufdx*s.bufdy]
}

func (s *Scanner) bilinear(x, y float64) float64 {

	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	fx := x - float64(x0)
	fy := y - float64(y0)

	p := func(xi, yi int) float64 {
		if xi < 0 || xi >= s.ras.Width || yi < 0 || yi >= s.ras.Height {
			return float64(s.cmax)
		}
		return float64(s.ras.At(xi, yi))
	}

	return p(x0, y0)*(1-fx)*(1-fy) +
		p(x0+1, y0)*fx*(1-fy) +
		p(x0, y0+1)*(1-fx)*fy +
		p(x0+1, y0+1)*fx*fy
}

// sharpen applies a 5-tap Laplacian scaled by the measured sharpness
// factor, clamped to the measured intensity range. Edge pixels copy
// through.
func (s *Scanner) sharpen(buf []float64) []float64 {

	f := s.sharpFactor
	w, h := s.bufdx, s.bufdy
	out := s.buf2[:w*h]
	copy(out, buf)

	for v := 1; v < h-1; v++ {
		for u := 1; u < w-1; u++ {
			c := buf[v*w+u]*(1+4*f) -
				f*(buf[v*w+u-1]+buf[v*w+u+1]+buf[(v-1)*w+u]+buf[(v+1)*w+u])
			if c < float64(s.cmin) {
				c = float64(s.cmin)
			}
			if c > float64(s.cmax) {
				c = float64(s.cmax)
			}
			out[v*w+u] = c
		}
	}

	return out
}

// localGrid re-finds the grid lines inside the resampled block and
// rejects blocks whose local period drifts more than 1/16 step from the
// page-level measurement.
func (s *Scanner) localGrid(buf []float64) (peaks, peaks, error) {

	w, h := s.bufdx, s.bufdy

	cols := make([]float64, w)
	rows := make([]float64, h)
	for v := 0; v < h; v++ {
		for u := 0; u < w; u++ {
			d := float64(s.cmax) - buf[v*w+u]
			if d > 0 {
				cols[u] += d
				rows[v] += d
			}
		}
	}
	for u := range cols {
		cols[u] /= float64(h)
	}
	for v := range rows {
		rows[v] /= float64(w)
	}

	lx := findPeaks(cols)
	if lx.weight <= 0 || absf(lx.step-s.xstep) > s.xstep/16 {
		return peaks{}, peaks{}, fmt.Errorf("%w: local X grid lost", block.ErrUnrecoverable)
	}
	ly := findPeaks(rows)
	if ly.weight <= 0 || absf(ly.step-s.ystep) > s.ystep/16 {
		return peaks{}, peaks{}, fmt.Errorf("%w: local Y grid lost", block.ErrUnrecoverable)
	}

	return lx, ly, nil
}

// sampleGrids builds the nine candidate dot grids for the 3x3 integer
// sub-shifts, averaging d x d neighbourhoods anchored with C-style
// truncation.
func (s *Scanner) sampleGrids(buf []float64, peakX, peakY, stepX, stepY float64, d int) [9]dotGrid {

	var grids [9]dotGrid
	w, h := s.bufdx, s.bufdy
	half := d / 2

	for j := 0; j < block.NDot; j++ {
		py := peakY + float64(j)*stepY
		for i := 0; i < block.NDot; i++ {
			px := peakX + float64(i)*stepX

			// Truncate, not round: the grid phase was regressed from
			// the same truncated sampling.
			ax := int(px) - half
			ay := int(py) - half

			for sh := 0; sh < 9; sh++ {
				ox := ax + sh%3 - 1
				oy := ay + sh/3 - 1

				var sum float64
				var cnt int
				for dy := 0; dy < d; dy++ {
					yy := oy + dy
					if yy < 0 || yy >= h {
						continue
					}
					for dx := 0; dx < d; dx++ {
						xx := ox + dx
						if xx < 0 || xx >= w {
							continue
						}
						sum += buf[yy*w+xx]
						cnt++
					}
				}
				if cnt == 0 {
					sum = float64(s.cmax)
					cnt = 1
				}
				grids[sh][j*block.NDot+i] = sum / float64(cnt)
			}
		}
	}

	return grids
}

// spliceByVariance partitions the dot matrix into 8x8 tiles and, per
// tile, keeps the shift with the highest intensity variance, falling
// back to the unshifted grid where the variance is flat.
func spliceByVariance(grids *[9]dotGrid) *dotGrid {

	var out dotGrid
	const tile = block.NDot / 8

	for ty := 0; ty < 8; ty++ {
		for tx := 0; tx < 8; tx++ {

			bestShift := 4
			bestVar := tileVariance(&grids[4], tx, ty)
			for sh := 0; sh < 9; sh++ {
				if sh == 4 {
					continue
				}
				v := tileVariance(&grids[sh], tx, ty)
				if v > bestVar+1e-9 {
					bestVar = v
					bestShift = sh
				}
			}

			for j := 0; j < tile; j++ {
				for i := 0; i < tile; i++ {
					idx := (ty*tile+j)*block.NDot + tx*tile + i
					out[idx] = grids[bestShift][idx]
				}
			}
		}
	}

	return &out
}

func tileVariance(g *dotGrid, tx, ty int) float64 {

	const tile = block.NDot / 8
	var sum, sq float64
	for j := 0; j < tile; j++ {
		for i := 0; i < tile; i++ {
			v := g[(ty*tile+j)*block.NDot+tx*tile+i]
			sum += v
			sq += v * v
		}
	}
	n := float64(tile * tile)
	mean := sum / n
	return sq/n - mean*mean
}

// orientMap returns the source cell read for logical cell (j, i) under
// one of the eight orientations: four rotations, then the same four
// mirrored.
func orientMap(o, j, i int) (int, int) {

	const m = block.NDot - 1
	switch o & 3 {
	case 1:
		j, i = i, m-j
	case 2:
		j, i = m-j, m-i
	case 3:
		j, i = m-i, j
	}
	if o >= 4 {
		i = m - i
	}
	return j, i
}

// recognize turns a sampled grid into a verified record, walking the
// correction pairs (last winner first) and the eight orientations. With
// exhaustive set, the orientation lock is ignored and the variant with
// the fewest corrections is returned instead of the first hit.
func (s *Scanner) recognize(g *dotGrid, exhaustive bool) *readResult {

	var corrected dotGrid
	var best *readResult

	for pi := 0; pi < len(recogPairs); pi++ {

		pair := (s.lastPair + pi) % len(recogPairs)
		factor := recogPairs[pair][0]
		lcorr := recogPairs[pair][1]

		// Unsharp the grid against its four neighbours; edges borrow
		// white so border dots are not penalised.
		var mean float64
		for j := 0; j < block.NDot; j++ {
			for i := 0; i < block.NDot; i++ {
				n4 := s.neighbour(g, j-1, i) + s.neighbour(g, j+1, i) +
					s.neighbour(g, j, i-1) + s.neighbour(g, j, i+1)
				c := g[j*block.NDot+i]*factor - n4/4*(factor-1)
				corrected[j*block.NDot+i] = c
				mean += c
			}
		}
		mean /= block.NDot * block.NDot
		limit := mean + lcorr*factor

		orients := s.orientations(exhaustive)
		for _, o := range orients {

			rec := packBits(&corrected, o, limit)

			class, n, err := rec.Verify()
			if err != nil {
				continue
			}

			res := &readResult{rec: rec, class: class, corrections: n, orientation: o}
			if !exhaustive {
				s.lastPair = pair
				return res
			}
			if best == nil || res.corrections < best.corrections {
				best = res
			}
		}
	}

	return best
}

func (s *Scanner) neighbour(g *dotGrid, j, i int) float64 {
	if j < 0 || j >= block.NDot || i < 0 || i >= block.NDot {
		return float64(s.cmax)
	}
	return g[j*block.NDot+i]
}

// orientations returns the orientation search order: the locked page
// orientation alone once known, all eight otherwise.
func (s *Scanner) orientations(exhaustive bool) []int {
	if !exhaustive && s.orientation >= 0 {
		return []int{s.orientation}
	}
	return []int{0, 1, 2, 3, 4, 5, 6, 7}
}

// packBits thresholds the corrected grid under one orientation and
// un-whitens the rows into a raw 128-byte record.
func packBits(g *dotGrid, o int, limit float64) *block.Record {

	rec := new(block.Record)
	raw := rec.Bytes()

	for j := 0; j < block.NDot; j++ {
		var word uint32
		for i := 0; i < block.NDot; i++ {
			sj, si := orientMap(o, j, i)
			if g[sj*block.NDot+si] < limit {
				word |= 1 << uint(i)
			}
		}
		word ^= page.RowWhitener(j)
		binary.LittleEndian.PutUint32(raw[j*4:j*4+4], word)
	}

	return rec
}
