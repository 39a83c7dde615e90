package rs

// GF(2^8) arithmetic tables for the shortened RS(255,223) code used on
// paper blocks. The field generator polynomial is x^8+x^7+x^2+x+1 (0x187)
// with first consecutive root 112 and primitive element spacing 11, so the
// inverse of the root spacing modulo 255 is 116.
const (
	mm     = 8   // bits per symbol
	nn     = 255 // symbols per full codeword
	kk     = 223 // data symbols per full codeword
	nroots = 32  // parity symbols
	gfpoly = 0x187
	fcr    = 112
	prim   = 11
	iprim  = 116
	a0     = nn // log of zero sentinel

	// Pad is the number of implicit leading zero symbols that shorten the
	// code from 255 symbols down to a 128-byte block.
	Pad = nn - BlockLength

	// BlockLength and DataLength describe the shortened codeword.
	BlockLength = 128
	DataLength  = BlockLength - nroots
)

var (
	alpha   [nn + 1]byte // antilog table, alpha[a0] = 0
	index   [nn + 1]byte // log table, index[0] = a0
	genpoly [nroots + 1]byte
)

func init() {

	// Generate the log and antilog tables from the field polynomial.
	sr := 1
	for i := 0; i < nn; i++ {
		index[sr] = byte(i)
		alpha[i] = byte(sr)
		sr <<= 1
		if sr&0x100 != 0 {
			sr ^= gfpoly
		}
		sr &= nn
	}
	index[0] = a0
	alpha[a0] = 0

	// Build the generator polynomial from its nroots consecutive roots,
	// then convert it to index form for the encoder.
	genpoly[0] = 1
	root := fcr * prim
	for i := 0; i < nroots; i++ {
		genpoly[i+1] = 1
		for j := i; j > 0; j-- {
			if genpoly[j] != 0 {
				genpoly[j] = genpoly[j-1] ^ alpha[modnn(int(index[genpoly[j]])+root)]
			} else {
				genpoly[j] = genpoly[j-1]
			}
		}
		genpoly[0] = alpha[modnn(int(index[genpoly[0]])+root)]
		root += prim
	}
	for i := 0; i <= nroots; i++ {
		genpoly[i] = index[genpoly[i]]
	}
}

// modnn reduces a sum of logarithms into [0, nn).
func modnn(x int) int {
	for x >= nn {
		x -= nn
		x = (x >> mm) + (x & nn)
	}
	return x
}
