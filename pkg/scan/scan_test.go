package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorteil/paperback/pkg/block"
	"github.com/vorteil/paperback/pkg/page"
)

// renderTestPage renders a small single page with deterministic data.
func renderTestPage(t *testing.T, redundancy int, printBorder bool) (*page.Geometry, []*block.Record, *page.Raster) {

	g, err := page.NewGeometry(page.Options{
		PPIX:        200,
		DPI:         100,
		Redundancy:  redundancy,
		PrintBorder: printBorder,
		PaperWidth:  4000,
		PaperHeight: 4000,
	})
	require.NoError(t, err)

	data := make([]byte, 720)
	for i := range data {
		data[i] = byte(i*31 + 7)
	}

	super := (&block.Super{
		DataSize: 720,
		PageSize: uint32(g.PageSize),
		OrigSize: 715,
		Page:     1,
		Modified: 0x01D6617E69F80000,
	})
	super.SetFilename("scan-test.bin")

	cells := page.Layout(g, super.Record(), data, 0)
	return g, cells, g.Render(cells)
}

func TestScannerFindsGrid(t *testing.T) {

	g, _, ras := renderTestPage(t, 2, false)

	s, err := NewScanner(ras, Options{})
	require.NoError(t, err)

	xstep, ystep := s.Steps()
	assert.InDelta(t, float64(page.CellDots*g.DX), xstep, 0.5)
	assert.InDelta(t, float64(page.CellDots*g.DY), ystep, 0.5)

	nx, ny := s.Blocks()
	assert.Equal(t, g.NX, nx)
	assert.Equal(t, g.NY, ny)
}

func TestScannerRejectsBlankRaster(t *testing.T) {

	ras := page.NewRaster(512, 512)
	_, err := NewScanner(ras, Options{})
	assert.Error(t, err)
}

func TestScannerRejectsBadDimensions(t *testing.T) {

	_, err := NewScanner(page.NewRaster(64, 512), Options{})
	assert.Error(t, err)

	_, err = NewScanner(nil, Options{})
	assert.Error(t, err)
}

// readAll decodes every block on the raster and returns the data and
// recovery records keyed by address; superblocks are skipped.
func readAll(t *testing.T, s *Scanner) map[uint32]*block.Record {

	nx, ny := s.Blocks()
	got := map[uint32]*block.Record{}

	for posy := 0; posy < ny; posy++ {
		for posx := 0; posx < nx; posx++ {
			rec, class, _, err := s.ReadBlock(posx, posy)
			if err != nil {
				continue
			}
			if class == block.ClassSuper {
				continue
			}
			got[rec.Addr()] = rec
		}
	}

	return got
}

func TestReadBlocksCleanPage(t *testing.T) {

	_, cells, ras := renderTestPage(t, 2, false)

	s, err := NewScanner(ras, Options{})
	require.NoError(t, err)

	got := readAll(t, s)

	// Every rendered data and recovery block must decode bit-exact.
	for _, cell := range cells {
		if cell.Addr() == block.SuperAddr {
			continue
		}
		rec, ok := got[cell.Addr()]
		require.True(t, ok, "block %08x missing", cell.Addr())
		assert.Equal(t, cell.Bytes(), rec.Bytes())
	}

	ngood, nbad, nsuper := s.Counters()
	assert.Zero(t, nbad)
	assert.True(t, nsuper > 0, "superblocks must be recognised")
	assert.True(t, ngood >= len(got))

	super := s.Super()
	require.NotNil(t, super)
	assert.Equal(t, "scan-test.bin", super.Filename())
	assert.Equal(t, uint32(720), super.DataSize)

	assert.Equal(t, 2, s.Group(), "page group size comes from recovery blocks")
}

func TestReadBlocksWithBorder(t *testing.T) {

	_, cells, ras := renderTestPage(t, 2, true)

	s, err := NewScanner(ras, Options{})
	require.NoError(t, err)

	got := readAll(t, s)
	for _, cell := range cells {
		if cell.Addr() == block.SuperAddr {
			continue
		}
		_, ok := got[cell.Addr()]
		assert.True(t, ok, "block %08x missing with border enabled", cell.Addr())
	}
}

func TestOrientationInvariance(t *testing.T) {

	_, cells, ras := renderTestPage(t, 2, false)

	want := map[uint32][]byte{}
	for _, cell := range cells {
		if cell.Addr() != block.SuperAddr {
			want[cell.Addr()] = cell.Bytes()
		}
	}

	variants := map[string]*page.Raster{
		"rot90":  ras.Rotate90(1),
		"rot180": ras.Rotate90(2),
		"rot270": ras.Rotate90(3),
		"fliph":  ras.FlipH(),
		"flipv":  ras.FlipV(),
	}

	for name, v := range variants {

		s, err := NewScanner(v, Options{})
		require.NoError(t, err, name)

		got := readAll(t, s)
		require.Equal(t, len(want), len(got), "%s: block count", name)
		for addr, raw := range want {
			rec, ok := got[addr]
			require.True(t, ok, "%s: block %08x missing", name, addr)
			assert.Equal(t, raw, rec.Bytes(), "%s: block %08x", name, addr)
		}
	}
}

func TestBestQualityMatchesNormal(t *testing.T) {

	_, cells, ras := renderTestPage(t, 2, false)

	s, err := NewScanner(ras, Options{BestQuality: true})
	require.NoError(t, err)

	got := readAll(t, s)
	for _, cell := range cells {
		if cell.Addr() == block.SuperAddr {
			continue
		}
		rec, ok := got[cell.Addr()]
		require.True(t, ok)
		assert.Equal(t, cell.Bytes(), rec.Bytes())
	}
}

func TestDamagedBlockIsCorrected(t *testing.T) {

	g, cells, ras := renderTestPage(t, 2, false)

	// Paint over a horizontal band of the first data block (cell one;
	// cell zero holds the superblock): a few dot rows lost, well within
	// the Reed-Solomon budget.
	x0 := g.Border + page.CellDots*g.DX + 2*g.DX
	y0 := g.Border + (2+4)*g.DY
	ras.Fill(x0, y0, block.NDot*g.DX, 2*g.DY, 0xFF)

	s, err := NewScanner(ras, Options{})
	require.NoError(t, err)

	got := readAll(t, s)

	target := cells[1]
	rec, ok := got[target.Addr()]
	if !ok {
		// The damaged block may be unreadable only if the damage
		// exceeded the correction budget; with two dot rows it must not.
		t.Fatalf("damaged block %08x did not decode", target.Addr())
	}
	assert.Equal(t, target.Bytes(), rec.Bytes())
}

func TestSixteenByteDamageCorrected(t *testing.T) {

	g, cells, _ := renderTestPage(t, 5, false)

	// Flip the first sixteen bytes of the first data block before
	// rendering: exactly the Reed-Solomon correction capacity.
	want := make([]byte, block.Size)
	copy(want, cells[1].Bytes())
	for i := 0; i < 16; i++ {
		cells[1].Bytes()[i] ^= 0xFF
	}
	ras := g.Render(cells)

	s, err := NewScanner(ras, Options{})
	require.NoError(t, err)

	// Lock the orientation on an undamaged block first.
	_, _, _, err = s.ReadBlock(2, 0)
	require.NoError(t, err)

	rec, class, n, err := s.ReadBlock(1, 0)
	require.NoError(t, err)
	assert.Equal(t, block.ClassData, class)
	assert.Equal(t, 16, n, "expected exactly 16 corrections")
	assert.Equal(t, want, rec.Bytes())
}

func TestSeventeenByteDamageRejected(t *testing.T) {

	g, cells, _ := renderTestPage(t, 5, false)

	for i := 0; i < 17; i++ {
		cells[1].Bytes()[i] ^= 0xFF
	}
	ras := g.Render(cells)

	s, err := NewScanner(ras, Options{})
	require.NoError(t, err)

	_, _, _, err = s.ReadBlock(2, 0)
	require.NoError(t, err)

	_, _, _, err = s.ReadBlock(1, 0)
	assert.Error(t, err, "one byte past the correction capacity must fail")

	_, nbad, _ := s.Counters()
	assert.Equal(t, 1, nbad)
}

func TestObliteratedBlockReportsBad(t *testing.T) {

	g, _, ras := renderTestPage(t, 2, false)

	// Erase an entire block so nothing recognisable remains.
	x0 := g.Border + g.PX
	y0 := g.Border + g.PY
	ras.Fill(x0, y0, page.CellDots*g.DX-2*g.PX, page.CellDots*g.DY-2*g.PY, 0xFF)

	s, err := NewScanner(ras, Options{})
	require.NoError(t, err)

	readAll(t, s)
	_, nbad, _ := s.Counters()
	assert.True(t, nbad >= 1, "obliterated block must be counted bad")
}
