package restore

import (
	"errors"
	"fmt"
	"time"

	"github.com/vorteil/paperback/pkg/block"
	"github.com/vorteil/paperback/pkg/comp"
	"github.com/vorteil/paperback/pkg/pcrypt"
)

// MaxFiles is the number of backups a session can reassemble at once.
const MaxFiles = 5

// Slot validity states.
const (
	slotMissing  = 0
	slotData     = 1
	slotRecovery = 2
)

// Reassembly errors.
var (
	// ErrSlotTableFull reports more concurrent files than the table holds.
	ErrSlotTableFull = errors.New("too many concurrent files")

	// ErrPageIncomplete reports a finalize attempt on a file with
	// unrecovered blocks.
	ErrPageIncomplete = errors.New("page incomplete")

	// ErrUnauthenticated reports a failed post-decrypt integrity check:
	// wrong password or tampered data.
	ErrUnauthenticated = errors.New("invalid password")

	// ErrDecompressFailed reports decompressed output that does not
	// match the recorded original size.
	ErrDecompressFailed = errors.New("decompression failed")
)

// File tracks the reassembly of one backup: its payload buffer, the
// validity of every block slot, and cumulative decode statistics.
type File struct {
	super    block.Super
	nblock   int
	data     []byte
	valid    []byte
	ngroup   int
	pages    map[int]bool
	curPage  int
	complete bool

	minPageAddr int
	maxPageAddr int

	ngood, nbad, nsuper, nrestored int
}

// Session owns the concurrent-file descriptor table. Only the session
// mutates it; callers decoding multiple rasters in parallel must
// serialize access.
type Session struct {
	files [MaxFiles]*File
}

// NewSession returns an empty descriptor table.
func NewSession() *Session {
	return new(Session)
}

// StartPage finds the descriptor matching the superblock identity, or
// allocates a fresh one. The returned slot index feeds AddBlock and
// FinishPage for the rest of the page.
func (s *Session) StartPage(super *block.Super) (int, error) {

	err := super.Validate()
	if err != nil {
		return 0, err
	}

	free := -1
	for i, f := range s.files {
		if f == nil {
			if free < 0 {
				free = i
			}
			continue
		}
		if f.super.Identity(super) {
			f.minPageAddr = -1
			f.maxPageAddr = -1
			f.curPage = int(super.Page)
			return i, nil
		}
	}

	if free < 0 {
		return 0, fmt.Errorf("%w: %d files already open", ErrSlotTableFull, MaxFiles)
	}

	nblock := (int(super.DataSize) + block.NData - 1) / block.NData
	f := &File{
		super:       *super,
		nblock:      nblock,
		data:        make([]byte, nblock*block.NData),
		valid:       make([]byte, nblock),
		pages:       make(map[int]bool),
		curPage:     int(super.Page),
		minPageAddr: -1,
		maxPageAddr: -1,
	}
	s.files[free] = f
	return free, nil
}

// File returns the descriptor in a slot, or nil.
func (s *Session) File(slot int) *File {
	if slot < 0 || slot >= MaxFiles {
		return nil
	}
	return s.files[slot]
}

// Close releases a slot and its payload buffer.
func (s *Session) Close(slot int) {
	if slot >= 0 && slot < MaxFiles {
		s.files[slot] = nil
	}
}

// AddBlock ingests one decoded data or recovery block into a slot.
func (s *Session) AddBlock(slot int, rec *block.Record) error {

	f := s.File(slot)
	if f == nil {
		return fmt.Errorf("no file open in slot %d", slot)
	}

	offset := int(rec.Offset())
	group := rec.Group()

	if offset%block.NData != 0 {
		return fmt.Errorf("block address %d not aligned", offset)
	}
	idx := offset / block.NData

	if group == 0 {
		if idx >= f.nblock {
			return fmt.Errorf("block address %d beyond file end", offset)
		}
		if f.valid[idx] != slotData {
			copy(f.data[idx*block.NData:(idx+1)*block.NData], rec.Payload())
			f.valid[idx] = slotData
		}
		f.trackPageAddr(offset)
		return nil
	}

	// Recovery block: remember the group size and drop the xor payload
	// into every still-missing member slot. FinishPage rebuilds a
	// single missing member from it.
	if f.ngroup == 0 {
		f.ngroup = group
	}
	if group != f.ngroup {
		return fmt.Errorf("recovery group size %d conflicts with %d", group, f.ngroup)
	}
	if idx >= f.nblock {
		return fmt.Errorf("recovery address %d beyond file end", offset)
	}

	for m := 0; m < group; m++ {
		child := idx + m
		if child >= f.nblock {
			break
		}
		if f.valid[child] == slotMissing {
			copy(f.data[child*block.NData:(child+1)*block.NData], rec.Payload())
			f.valid[child] = slotRecovery
		}
	}
	f.trackPageAddr(offset)
	return nil
}

func (f *File) trackPageAddr(offset int) {
	if f.minPageAddr < 0 || offset < f.minPageAddr {
		f.minPageAddr = offset
	}
	if offset > f.maxPageAddr {
		f.maxPageAddr = offset
	}
}

// FinishPage closes out one ingested page: statistics, per-group xor
// recovery, and the completeness check.
func (s *Session) FinishPage(slot int, ngood, nbad, nsuper int) error {

	f := s.File(slot)
	if f == nil {
		return fmt.Errorf("no file open in slot %d", slot)
	}

	f.ngood += ngood
	f.nbad += nbad
	f.nsuper += nsuper
	f.pages[f.curPage] = true

	if f.ngroup > 0 {
		f.recoverGroups()
	}

	f.complete = true
	for _, v := range f.valid {
		if v != slotData {
			f.complete = false
			break
		}
	}

	return nil
}

// recoverGroups rebuilds, for every group with exactly one missing
// member, that member from the recovery payload parked in its slot: the
// parked xor is inverted in place and xor-ed with every present member.
func (f *File) recoverGroups() {

	g := f.ngroup
	for base := 0; base < f.nblock; base += g {

		end := base + g
		if end > f.nblock {
			end = f.nblock
		}

		hole := -1
		ok := true
		for i := base; i < end; i++ {
			switch f.valid[i] {
			case slotData:
			case slotRecovery:
				if hole >= 0 {
					ok = false
				}
				hole = i
			default:
				ok = false
			}
		}
		if !ok || hole < 0 {
			continue
		}

		target := f.data[hole*block.NData : (hole+1)*block.NData]
		for i := range target {
			target[i] = ^target[i]
		}
		for i := base; i < end; i++ {
			if i == hole {
				continue
			}
			member := f.data[i*block.NData : (i+1)*block.NData]
			for k := range target {
				target[k] ^= member[k]
			}
		}

		f.valid[hole] = slotData
		f.nrestored++
	}
}

// Complete reports whether every block of the file has been recovered.
func (f *File) Complete() bool {
	return f.complete
}

// Filename returns the stored name of the file.
func (f *File) Filename() string {
	return f.super.Filename()
}

// Modified returns the original modification time.
func (f *File) Modified() time.Time {
	return block.FiletimeToTime(f.super.Modified)
}

// Super returns a copy of the identifying superblock.
func (f *File) Super() block.Super {
	return f.super
}

// Stats returns the cumulative decode counters (good, bad, superblock,
// restored-by-xor).
func (f *File) Stats() (int, int, int, int) {
	return f.ngood, f.nbad, f.nsuper, f.nrestored
}

// RemainingPages lists up to eight page numbers not yet ingested.
func (f *File) RemainingPages() []int {

	total := int(f.super.DataSize+f.super.PageSize-1) / int(f.super.PageSize)
	var out []int
	for p := 1; p <= total; p++ {
		if !f.pages[p] {
			out = append(out, p)
			if len(out) == 8 {
				break
			}
		}
	}
	return out
}

// Finalize decrypts, integrity-checks and decompresses the reassembled
// stream, returning the original file content.
func (f *File) Finalize(password string) ([]byte, error) {

	if !f.complete {
		return nil, fmt.Errorf("%w: %d pages outstanding", ErrPageIncomplete, len(f.RemainingPages()))
	}

	data := make([]byte, f.super.DataSize)
	copy(data, f.data[:f.super.DataSize])

	if f.super.Encrypted() {
		key := pcrypt.DeriveKey(password, f.super.Salt())
		err := pcrypt.Decrypt(key, f.super.IV(), data)
		if err != nil {
			return nil, err
		}
		if block.CRC16(data) != f.super.FileCRC {
			return nil, ErrUnauthenticated
		}
	}

	if f.super.Compressed() {
		out, err := comp.Decompress(data, int(f.super.OrigSize))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
		}
		return out, nil
	}

	return data[:f.super.OrigSize], nil
}
