package comp

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func TestParseLevel(t *testing.T) {

	for s, want := range map[string]Level{"": None, "none": None, "fast": Fast, "max": Max} {
		got, err := ParseLevel(s)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v", s, got, err)
		}
	}

	_, err := ParseLevel("ultra")
	if err == nil {
		t.Errorf("expected error for unknown level")
	}
}

func TestRoundTrip(t *testing.T) {

	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 200)

	for _, level := range []Level{Fast, Max} {

		packed, err := Compress(data, level)
		if err != nil {
			t.Fatal(err)
		}
		if len(packed) >= len(data) {
			t.Errorf("level %v did not shrink repetitive input", level)
		}

		out, err := Decompress(packed, len(data))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(out, data) {
			t.Errorf("level %v round trip mismatch", level)
		}
	}
}

func TestNonePassthrough(t *testing.T) {

	data := []byte{1, 2, 3}
	out, err := Compress(data, None)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, data) {
		t.Errorf("level none must pass data through")
	}
}

func TestTrailingPaddingIgnored(t *testing.T) {

	// The paper stream pads the deflate output with zeros up to the
	// cipher block size; inflate must stop at the stream end.
	data := bytes.Repeat([]byte("abc"), 500)
	packed, err := Compress(data, Max)
	if err != nil {
		t.Fatal(err)
	}

	padded := make([]byte, (len(packed)+15)&^15)
	copy(padded, packed)

	out, err := Decompress(padded, len(data))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, data) {
		t.Errorf("padded round trip mismatch")
	}
}

func TestSizeMismatch(t *testing.T) {

	rng := rand.New(rand.NewSource(7))
	data := make([]byte, 1000)
	rng.Read(data)

	packed, err := Compress(data, Fast)
	if err != nil {
		t.Fatal(err)
	}

	_, err = Decompress(packed, len(data)-1)
	if !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("expected size mismatch, got %v", err)
	}
}
