package page

import (
	"github.com/vorteil/paperback/pkg/block"
)

// NStrings returns the number of redundancy groups needed to carry the
// given number of payload bytes at redundancy r.
func NStrings(r, pageBytes int) int {
	return (pageBytes + r*block.NData - 1) / (r * block.NData)
}

// Layout assigns a sealed record to every block cell of one page.
//
// The page is organised into r+1 "strings" of nstring+1 cells each. Cell
// zero of every string carries the superblock. String j < r carries the
// j-th member of every group; the final string carries the recovery
// blocks. When a string is at least one raster row long, the data cells
// of string j are rotated by (NX/(r+1))*j cells, modulo nstring, to move
// members of one group onto different raster columns; this does not rule
// out two members sharing a column. Cells beyond the last string repeat
// the superblock.
func Layout(g *Geometry, super *block.Record, data []byte, pageIndex int) []*block.Record {

	r := g.Redundancy
	offset := pageIndex * g.PageSize
	dataEnd := len(data)
	pageBytes := dataEnd - offset
	if pageBytes > g.PageSize {
		pageBytes = g.PageSize
	}
	nstring := NStrings(r, pageBytes)

	cells := make([]*block.Record, g.NX*g.NY)
	for k := range cells {
		cells[k] = super
	}

	for j := 0; j <= r; j++ {

		rot := 0
		if nstring+1 >= g.NX {
			rot = g.NX / (r + 1) * j % nstring
		}

		for c := 1; c <= nstring; c++ {

			k := j*(nstring+1) + c
			i := (c - 1 + rot) % nstring

			if j < r {
				start := offset + (i*r+j)*block.NData
				if start >= dataEnd {
					continue // tail cell beyond the stream keeps the superblock
				}
				end := start + block.NData
				if end > dataEnd {
					end = dataEnd
				}
				cells[k] = block.NewData(uint32(start), data[start:end])
				continue
			}

			// Recovery string: xor of the group's surviving members.
			base := offset + i*r*block.NData
			if base >= dataEnd {
				continue
			}
			members := make([][]byte, r)
			for m := 0; m < r; m++ {
				start := base + m*block.NData
				if start >= dataEnd {
					break
				}
				end := start + block.NData
				if end > dataEnd {
					end = dataEnd
				}
				members[m] = data[start:end]
			}
			cells[k] = block.NewRecovery(uint32(base), r, members)
		}
	}

	return cells
}
