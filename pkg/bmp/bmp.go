package bmp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vorteil/paperback/pkg/page"
)

// Raster size sanity limits.
const (
	MinDimension = 128
	MaxDimension = 32768
)

// Format errors.
var (
	ErrNotBMP      = errors.New("not a BMP file")
	ErrUnsupported = errors.New("unsupported BMP variant")
	ErrBadRaster   = errors.New("raster dimensions out of range")
)

// fileHeader is the 14-byte BITMAPFILEHEADER as it appears on disk.
type fileHeader struct {
	Magic      [2]byte
	FileSize   uint32
	_          uint32
	DataOffset uint32
}

// infoHeader is the 40-byte BITMAPINFOHEADER as it appears on disk.
type infoHeader struct {
	HeaderSize   uint32
	Width        int32
	Height       int32
	Planes       uint16
	BitCount     uint16
	Compression  uint32
	SizeImage    uint32
	XPelsPerM    int32
	YPelsPerM    int32
	ClrUsed      uint32
	ClrImportant uint32
}

const (
	fileHeaderSize = 14
	infoHeaderSize = 40
	paletteSize    = 256 * 4
)

// Write serializes a grayscale raster as an 8-bit paletted bottom-up BMP
// with 4-byte padded rows. The optional dpi is recorded in the pixels-
// per-metre fields so printing software scales the page correctly.
func Write(w io.Writer, ras *page.Raster, dpi int) error {

	stride := (ras.Width + 3) &^ 3
	imageSize := stride * ras.Height

	ppm := int32(0)
	if dpi > 0 {
		ppm = int32(float64(dpi)*100/2.54 + 0.5)
	}

	fh := fileHeader{
		Magic:      [2]byte{'B', 'M'},
		FileSize:   uint32(fileHeaderSize + infoHeaderSize + paletteSize + imageSize),
		DataOffset: fileHeaderSize + infoHeaderSize + paletteSize,
	}
	ih := infoHeader{
		HeaderSize: infoHeaderSize,
		Width:      int32(ras.Width),
		Height:     int32(ras.Height),
		Planes:     1,
		BitCount:   8,
		SizeImage:  uint32(imageSize),
		XPelsPerM:  ppm,
		YPelsPerM:  ppm,
		ClrUsed:    256,
	}

	err := binary.Write(w, binary.LittleEndian, fh)
	if err != nil {
		return err
	}
	err = binary.Write(w, binary.LittleEndian, ih)
	if err != nil {
		return err
	}

	palette := make([]byte, paletteSize)
	for i := 0; i < 256; i++ {
		palette[i*4] = byte(i)
		palette[i*4+1] = byte(i)
		palette[i*4+2] = byte(i)
	}
	_, err = w.Write(palette)
	if err != nil {
		return err
	}

	pad := make([]byte, stride-ras.Width)
	for y := 0; y < ras.Height; y++ {
		row := ras.Pix[y*ras.Width : (y+1)*ras.Width]
		_, err = w.Write(row)
		if err != nil {
			return err
		}
		if len(pad) > 0 {
			_, err = w.Write(pad)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

// Read parses a BMP into a bottom-up grayscale raster. 8-bit paletted
// and 24-bit uncompressed files are accepted; top-down files are flipped
// so the decoder core always sees bottom-up rows.
func Read(r io.Reader) (*page.Raster, error) {

	data, err := readAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) < fileHeaderSize+infoHeaderSize {
		return nil, ErrNotBMP
	}

	var fh fileHeader
	var ih infoHeader
	br := bytes.NewReader(data)
	err = binary.Read(br, binary.LittleEndian, &fh)
	if err != nil {
		return nil, err
	}
	err = binary.Read(br, binary.LittleEndian, &ih)
	if err != nil {
		return nil, err
	}

	if fh.Magic[0] != 'B' || fh.Magic[1] != 'M' {
		return nil, ErrNotBMP
	}
	if ih.HeaderSize < infoHeaderSize || ih.Planes != 1 || ih.Compression != 0 {
		return nil, fmt.Errorf("%w: compression %d", ErrUnsupported, ih.Compression)
	}
	if ih.BitCount != 8 && ih.BitCount != 24 {
		return nil, fmt.Errorf("%w: %d bits per pixel", ErrUnsupported, ih.BitCount)
	}

	width := int(ih.Width)
	height := int(ih.Height)
	topDown := false
	if height < 0 {
		topDown = true
		height = -height
	}
	if width < MinDimension || width > MaxDimension || height < MinDimension || height > MaxDimension {
		return nil, fmt.Errorf("%w: %dx%d", ErrBadRaster, width, height)
	}

	if int(fh.DataOffset) >= len(data) {
		return nil, fmt.Errorf("%w: truncated pixel data", ErrNotBMP)
	}
	pix := data[fh.DataOffset:]
	bypp := int(ih.BitCount) / 8
	stride := (width*bypp + 3) &^ 3
	if len(pix) < stride*height {
		return nil, fmt.Errorf("%w: truncated pixel data", ErrNotBMP)
	}

	var gray func(row []byte, x int) byte
	switch ih.BitCount {
	case 8:
		palette, err := grayPalette(data, &fh, &ih)
		if err != nil {
			return nil, err
		}
		gray = func(row []byte, x int) byte { return palette[row[x]] }
	case 24:
		gray = func(row []byte, x int) byte {
			b := int(row[x*3])
			g := int(row[x*3+1])
			r := int(row[x*3+2])
			return byte((b + g + r) / 3)
		}
	}

	ras := page.NewRaster(width, height)
	for y := 0; y < height; y++ {
		row := pix[y*stride:]
		dst := ras.Pix[y*width:]
		for x := 0; x < width; x++ {
			dst[x] = gray(row, x)
		}
	}

	if topDown {
		ras = ras.FlipV()
	}

	return ras, nil
}

// grayPalette flattens the color table of an 8-bit BMP to grayscale.
func grayPalette(data []byte, fh *fileHeader, ih *infoHeader) ([]byte, error) {

	entries := int(ih.ClrUsed)
	if entries == 0 {
		entries = 256
	}

	start := fileHeaderSize + int(ih.HeaderSize)
	if start+entries*4 > int(fh.DataOffset) || start+entries*4 > len(data) {
		return nil, fmt.Errorf("%w: truncated palette", ErrNotBMP)
	}

	palette := make([]byte, 256)
	for i := 0; i < entries; i++ {
		b := int(data[start+i*4])
		g := int(data[start+i*4+1])
		r := int(data[start+i*4+2])
		palette[i] = byte((b + g + r) / 3)
	}
	return palette, nil
}

func readAll(r io.Reader) ([]byte, error) {
	buf := new(bytes.Buffer)
	_, err := io.Copy(buf, r)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
