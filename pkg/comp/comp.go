package comp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/ioutil"

	"github.com/klauspost/compress/flate"
)

// Level selects the compression effort.
type Level int

// Supported levels.
const (
	None Level = iota
	Fast
	Max
)

// ErrSizeMismatch reports decompressed output that does not match the
// recorded original size.
var ErrSizeMismatch = errors.New("decompressed size mismatch")

// ParseLevel maps a configuration string onto a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "", "none":
		return None, nil
	case "fast":
		return Fast, nil
	case "max":
		return Max, nil
	default:
		return None, fmt.Errorf("compression level must be one of 'none', 'fast', or 'max', got '%s'", s)
	}
}

// String returns the configuration name of the level.
func (l Level) String() string {
	switch l {
	case Fast:
		return "fast"
	case Max:
		return "max"
	default:
		return "none"
	}
}

func (l Level) flate() int {
	if l == Fast {
		return flate.BestSpeed
	}
	return flate.BestCompression
}

// Compress deflates data at the given level. Level None returns the
// input unchanged.
func Compress(data []byte, level Level) ([]byte, error) {

	if level == None {
		return data, nil
	}

	buf := new(bytes.Buffer)
	w, err := flate.NewWriter(buf, level.flate())
	if err != nil {
		return nil, err
	}

	_, err = w.Write(data)
	if err != nil {
		return nil, err
	}

	err = w.Close()
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decompress inflates data and checks that exactly expected bytes come
// out the other side.
func Decompress(data []byte, expected int) ([]byte, error) {

	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()

	out, err := ioutil.ReadAll(io.LimitReader(r, int64(expected)+1))
	if err != nil {
		return nil, err
	}

	if len(out) != expected {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrSizeMismatch, expected, len(out))
	}

	return out, nil
}
