package page

import (
	"encoding/binary"

	"github.com/vorteil/paperback/pkg/block"
)

// Black is the ink shade used for dots and grid lines. Soft ink rather
// than full black: rescanned paper never saturates, and the decoder
// thresholds expect it.
const Black = 64

// RowWhitener returns the xor mask applied to dot row j. Alternating
// masks keep every cell from printing all-dark or all-light.
func RowWhitener(j int) uint32 {
	if j&1 == 0 {
		return 0x55555555
	}
	return 0xAAAAAAAA
}

// Render rasterizes one page from its cell assignment. The result is a
// white bottom-up raster with the block grid, its separating grid lines
// and, when configured, the alignment border ring.
func (g *Geometry) Render(cells []*block.Record) *Raster {

	ras := NewRaster(g.Width, g.Height)

	left := g.Border
	bottom := g.Border
	cellW := CellDots * g.DX
	cellH := CellDots * g.DY

	// Grid lines first: one vertical line per block column boundary, one
	// horizontal per row boundary. The decoder regresses these.
	for t := 0; t <= g.NX; t++ {
		ras.Fill(left+t*cellW, bottom, g.PX, g.GridHeight, Black)
	}
	for s := 0; s <= g.NY; s++ {
		ras.Fill(left, bottom+s*cellH, g.GridWidth, g.PY, Black)
	}

	for by := 0; by < g.NY; by++ {
		for bx := 0; bx < g.NX; bx++ {
			g.renderBlock(ras, cells[by*g.NX+bx], left+bx*cellW, bottom+by*cellH)
		}
	}

	if g.PrintBorder {
		g.renderBorder(ras)
	}

	return ras
}

// renderBlock paints the 32x32 whitened dot matrix of one record. The
// first data dot sits two dot cells past the grid line.
func (g *Geometry) renderBlock(ras *Raster, rec *block.Record, x0, y0 int) {

	raw := rec.Bytes()
	for j := 0; j < block.NDot; j++ {
		word := binary.LittleEndian.Uint32(raw[j*4:j*4+4]) ^ RowWhitener(j)
		if word == 0 {
			continue
		}
		y := y0 + (2+j)*g.DY
		for i := 0; i < block.NDot; i++ {
			if word&(1<<uint(i)) != 0 {
				ras.Fill(x0+(2+i)*g.DX, y, g.PX, g.PY, Black)
			}
		}
	}
}

// renderBorder draws the alignment ring: a rectangle outline half way
// into the border margin, all four sides.
func (g *Geometry) renderBorder(ras *Raster) {

	x0 := g.Border - g.Border/2
	y0 := g.Border - g.Border/2
	w := g.GridWidth + g.Border
	h := g.GridHeight + g.Border

	ras.Fill(x0, y0, w, g.PY, Black)
	ras.Fill(x0, y0+h-g.PY, w, g.PY, Black)
	ras.Fill(x0, y0, g.PX, h, Black)
	ras.Fill(x0+w-g.PX, y0, g.PX, h, Black)
}
