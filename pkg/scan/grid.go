package scan

import (
	"fmt"

	"github.com/vorteil/paperback/pkg/block"
)

// nhyst is the histogram length and the denominator of the skew search:
// angles run from -nhyst/10 to nhyst/10 in steps of two, measured in
// pixels of lateral drift per nhyst pixels travelled.
const nhyst = 1024

// peaks is the result of one periodic-peak regression.
type peaks struct {
	phase  float64 // position of peak zero, in histogram coordinates
	step   float64 // distance between adjacent peaks
	weight float64 // mean kept-peak height; zero when nothing was found
}

// findGridLines searches skew angles along both axes and locks onto the
// periodic grid lines separating blocks.
func (s *Scanner) findGridLines() error {

	xp, xa, ok := s.searchAxis(true)
	if !ok {
		return fmt.Errorf("%w: no X periodicity", ErrGridNotFound)
	}
	s.xpeak = float64(s.searchX0) + xp.phase
	s.xstep = xp.step
	s.xangle = xa

	yp, ya, ok := s.searchAxis(false)
	if !ok {
		return fmt.Errorf("%w: no Y periodicity", ErrGridNotFound)
	}
	s.ypeak = float64(s.searchY0) + yp.phase
	s.ystep = yp.step
	s.yangle = ya

	if s.ystep < 0.40*s.xstep || s.ystep > 2.50*s.xstep || s.ystep < block.NDot {
		return fmt.Errorf("%w: disproportionate steps %.1f/%.1f", ErrGridNotFound, s.xstep, s.ystep)
	}
	if s.xstep < block.NDot {
		return fmt.Errorf("%w: step %.1f too small", ErrGridNotFound, s.xstep)
	}

	return nil
}

// searchAxis builds sheared darkness histograms for every candidate
// angle and keeps the one with the strongest peak regression. Near-zero
// angles win ties through a small score bonus.
func (s *Scanner) searchAxis(xaxis bool) (peaks, float64, bool) {

	var best peaks
	bestAngle := 0
	bestScore := 0.0
	found := false

	for a := -nhyst / 10; a <= nhyst/10; a += 2 {

		h := s.shearHistogram(xaxis, a)
		p := findPeaks(h)
		if p.weight <= 0 {
			continue
		}

		aa := a
		if aa < 0 {
			aa = -aa
		}
		score := p.weight + 1/float64(aa+10)
		if !found || score > bestScore {
			found = true
			bestScore = score
			bestAngle = a
			best = p
		}
	}

	if !found {
		return peaks{}, 0, false
	}

	return best, float64(bestAngle) / nhyst, true
}

// shearHistogram accumulates per-column (or per-row) darkness along a
// sheared axis, one sample per crossing line, normalized by the number
// of samples that landed inside the raster.
func (s *Scanner) shearHistogram(xaxis bool, a int) []float64 {

	var n, span int
	if xaxis {
		n = s.searchX1 - s.searchX0
		span = s.searchY1 - s.searchY0
	} else {
		n = s.searchY1 - s.searchY0
		span = s.searchX1 - s.searchX0
	}

	sum := make([]float64, n)
	cnt := make([]int, n)

	for j := 0; j < span; j++ {
		shift := j * a / nhyst // truncated, as the sampler truncates
		for i := 0; i < n; i++ {
			var x, y int
			if xaxis {
				x = s.searchX0 + i + shift
				y = s.searchY0 + j
			} else {
				x = s.searchX0 + j
				y = s.searchY0 + i + shift
			}
			if x < s.searchX0 || x >= s.searchX1 || y < s.searchY0 || y >= s.searchY1 {
				continue
			}
			d := s.cmax - int(s.ras.At(x, y))
			if d < 0 {
				d = 0
			}
			sum[i] += float64(d)
			cnt[i]++
		}
	}

	for i := range sum {
		if cnt[i] > 0 {
			sum[i] /= float64(cnt[i])
		}
	}

	return sum
}

// findPeaks locates periodic peaks in a darkness histogram and regresses
// their positions into a phase and step.
//
// The histogram is first flattened against a rolling 32-wide average to
// remove slow brightness drift. Candidate peaks are runs above 3/4 of
// the maximum; runs 8x smaller than their predecessor are dropped and
// runs 8x larger replace it. The dominant peak spacing is found by
// distance quantization at 3% dispersion, and a least-squares fit of
// position over integer peak index yields the grid phase and step.
func findPeaks(h []float64) peaks {

	n := len(h)
	if n < 2*shadowWidth {
		return peaks{}
	}

	flat := flatten(h)

	max := 0.0
	for _, v := range flat {
		if v > max {
			max = v
		}
	}
	if max < 8 {
		return peaks{}
	}
	limit := max * 3 / 4

	type candidate struct {
		pos    float64
		height float64
	}
	var cands []candidate

	i := 0
	for i < n {
		if flat[i] < limit {
			i++
			continue
		}
		// Weighted centroid of the run above the threshold.
		var mass, moment, height float64
		for i < n && flat[i] >= limit {
			mass += flat[i]
			moment += float64(i) * flat[i]
			if flat[i] > height {
				height = flat[i]
			}
			i++
		}
		c := candidate{pos: moment / mass, height: height}

		if len(cands) > 0 {
			prev := cands[len(cands)-1]
			if c.height < prev.height/8 {
				continue // noise shoulder, drop it
			}
			if c.height > prev.height*8 {
				cands = cands[:len(cands)-1] // predecessor was the noise
			}
		}
		cands = append(cands, c)
	}

	if len(cands) < 2 {
		return peaks{}
	}

	// Quantize inter-peak distances and pick the most populated bucket.
	type bucket struct {
		mean  float64
		count int
	}
	var buckets []bucket
	for k := 1; k < len(cands); k++ {
		d := cands[k].pos - cands[k-1].pos
		placed := false
		for bi := range buckets {
			if absf(d-buckets[bi].mean) <= buckets[bi].mean*0.03 {
				buckets[bi].mean = (buckets[bi].mean*float64(buckets[bi].count) + d) / float64(buckets[bi].count+1)
				buckets[bi].count++
				placed = true
				break
			}
		}
		if !placed {
			buckets = append(buckets, bucket{mean: d, count: 1})
		}
	}

	step0 := 0.0
	bestCount := 0
	for _, b := range buckets {
		if b.count > bestCount {
			bestCount = b.count
			step0 = b.mean
		}
	}
	if step0 <= 0 {
		return peaks{}
	}

	// Chain peaks whose spacing is a near-multiple of the step. Border
	// artifacts produce stray candidates, so the chain may start at any
	// peak; the longest chain wins, and on equal length the one that
	// regresses with the smallest residual.
	var best peaks
	bestLen := 0
	bestResidual := 0.0

	for start := 0; start < len(cands); start++ {

		chain := []int{start}
		idx := []int{0}
		last := start
		lastIdx := 0
		for k := start + 1; k < len(cands); k++ {
			gap := cands[k].pos - cands[last].pos
			m := int(gap/step0 + 0.5)
			if m < 1 {
				continue
			}
			if absf(gap-float64(m)*step0) > step0/4 {
				continue
			}
			lastIdx += m
			chain = append(chain, k)
			idx = append(idx, lastIdx)
			last = k
		}

		if len(chain) < 2 || len(chain) < bestLen {
			continue
		}

		// Least-squares regression of position over integer index.
		var sn, sp, snn, snp float64
		var height float64
		for t, k := range chain {
			x := float64(idx[t])
			y := cands[k].pos
			sn += x
			sp += y
			snn += x * x
			snp += x * y
			height += cands[k].height
		}
		count := float64(len(chain))
		den := count*snn - sn*sn
		if den == 0 {
			continue
		}
		step := (count*snp - sn*sp) / den
		phase := (sp - step*sn) / count
		if step <= 0 {
			continue
		}

		residual := 0.0
		for t, k := range chain {
			d := cands[k].pos - (phase + step*float64(idx[t]))
			residual += d * d
		}

		if len(chain) > bestLen || residual < bestResidual {
			bestLen = len(chain)
			bestResidual = residual
			best = peaks{
				phase:  phase,
				step:   step,
				weight: height / count,
			}
		}
	}

	if bestLen < 2 {
		return peaks{}
	}

	return best
}

// shadowWidth is the rolling-average window used to flatten histograms.
const shadowWidth = 32

// flatten subtracts a rolling average from the histogram, clamping at
// zero, so slow brightness drift cannot masquerade as periodicity.
func flatten(h []float64) []float64 {

	n := len(h)
	out := make([]float64, n)

	var window float64
	for i := 0; i < n; i++ {
		window += h[i]
		if i >= shadowWidth {
			window -= h[i-shadowWidth]
		}
		size := i + 1
		if size > shadowWidth {
			size = shadowWidth
		}
		v := h[i] - window/float64(size)
		if v > 0 {
			out[i] = v
		}
	}

	return out
}
