package block

import (
	"encoding/binary"
	"errors"

	"github.com/vorteil/paperback/pkg/rs"
)

// Wire-format constants. These are bit-exact: a page printed by any
// conforming implementation must decode with any other.
const (
	// NDot is the width and height of a block's dot matrix.
	NDot = 32

	// NData is the number of payload bytes carried by one block.
	NData = 90

	// ECCSize is the number of Reed-Solomon parity bytes per block.
	ECCSize = 32

	// FilenameSize is the size of the superblock name field.
	FilenameSize = 64

	// Size is the total size of an on-paper record.
	Size = 128

	// SuperAddr marks a record as a superblock.
	SuperAddr = 0xFFFFFFFF

	// Redundancy group size limits.
	NGroupMin     = 2
	NGroupMax     = 10
	NGroupDefault = 5

	// MaxSize is the largest data stream a backup can carry.
	MaxSize = 0x0FFFFF80

	// Mode bits stored in the superblock.
	ModeCompressed = 0x01
	ModeEncrypted  = 0x02

	crcSpan = 4 + NData     // addr|payload
	eccSpan = 4 + NData + 2 // addr|payload|crc
)

// ErrUnrecoverable reports a block whose errors exceed the Reed-Solomon
// correction capacity, or whose CRC still mismatches after correction.
var ErrUnrecoverable = errors.New("block unrecoverable")

// Class is the variant tag of a verified record.
type Class int

// Record variants.
const (
	ClassData Class = iota
	ClassRecovery
	ClassSuper
)

// Record is the 128-byte on-paper unit. All three block variants share
// this backing store; the address field's top nibble selects the variant.
type Record struct {
	buf [Size]byte
}

// Addr returns the record address field.
func (r *Record) Addr() uint32 {
	return binary.LittleEndian.Uint32(r.buf[0:4])
}

// SetAddr overwrites the record address field.
func (r *Record) SetAddr(addr uint32) {
	binary.LittleEndian.PutUint32(r.buf[0:4], addr)
}

// Payload returns the 90 payload bytes as a mutable view.
func (r *Record) Payload() []byte {
	return r.buf[4 : 4+NData]
}

// CRC returns the stored (whitened) block CRC.
func (r *Record) CRC() uint16 {
	return binary.LittleEndian.Uint16(r.buf[crcSpan : crcSpan+2])
}

// ECC returns the 32 Reed-Solomon parity bytes as a mutable view.
func (r *Record) ECC() []byte {
	return r.buf[eccSpan:]
}

// Bytes returns the raw 128-byte record.
func (r *Record) Bytes() []byte {
	return r.buf[:]
}

// Group returns the redundancy group size encoded in the address top
// nibble: zero for plain data blocks, 2..10 for recovery blocks.
func (r *Record) Group() int {
	return int(r.Addr() >> 28)
}

// Offset returns the stream byte offset with the group nibble stripped.
func (r *Record) Offset() uint32 {
	return r.Addr() & 0x0FFFFFFF
}

// Seal computes and stores the whitened CRC and the Reed-Solomon parity
// for the current address and payload. It must be called after the last
// mutation and before the record is rendered.
func (r *Record) Seal() {
	crc := CRC16(r.buf[:crcSpan]) ^ CRCWhitener
	binary.LittleEndian.PutUint16(r.buf[crcSpan:crcSpan+2], crc)
	copy(r.buf[eccSpan:], rs.Encode(r.buf[:eccSpan]))
}

// Verify repairs the record in place using the Reed-Solomon parity and
// checks the whitened CRC. On success it returns the record class and the
// number of corrected bytes. On failure the record is unchanged and
// ErrUnrecoverable is returned.
func (r *Record) Verify() (Class, int, error) {

	work := r.buf
	corrected := rs.Decode(work[:])
	if corrected == rs.Unrecoverable {
		return 0, 0, ErrUnrecoverable
	}

	crc := CRC16(work[:crcSpan]) ^ CRCWhitener
	if crc != binary.LittleEndian.Uint16(work[crcSpan:crcSpan+2]) {
		return 0, corrected, ErrUnrecoverable
	}
	r.buf = work

	switch {
	case r.Addr() == SuperAddr:
		return ClassSuper, corrected, nil
	case r.Group() != 0:
		return ClassRecovery, corrected, nil
	default:
		return ClassData, corrected, nil
	}
}

// NewData builds a sealed data block. The payload may be shorter than
// NData; the remainder is zero-filled.
func NewData(offset uint32, payload []byte) *Record {

	if len(payload) > NData {
		panic(errors.New("block payload exceeds 90 bytes"))
	}

	r := new(Record)
	r.SetAddr(offset)
	copy(r.Payload(), payload)
	r.Seal()
	return r
}

// NewRecovery builds a sealed recovery block for a group of consecutive
// data payloads. The payload starts all-ones and xors in each member, so
// a single missing member can be rebuilt from the survivors.
func NewRecovery(offset uint32, group int, members [][]byte) *Record {

	if group < NGroupMin || group > NGroupMax || len(members) != group {
		panic(errors.New("bad recovery group"))
	}

	r := new(Record)
	r.SetAddr(offset | uint32(group)<<28)
	p := r.Payload()
	for i := range p {
		p[i] = 0xFF
	}
	for _, m := range members {
		for i := range m {
			p[i] ^= m[i]
		}
	}
	r.Seal()
	return r
}
