package restore

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorteil/paperback/pkg/block"
	"github.com/vorteil/paperback/pkg/pcrypt"
)

// testStream builds an aligned stream, its superblock, and the per-group
// records for a single-page backup at the given redundancy.
func testStream(t *testing.T, size, ngroup int) ([]byte, *block.Super, []*block.Record) {

	rng := rand.New(rand.NewSource(int64(size)))
	orig := make([]byte, size)
	rng.Read(orig)

	aligned := (size + 15) &^ 15
	stream := make([]byte, aligned)
	copy(stream, orig)

	super := &block.Super{
		DataSize: uint32(aligned),
		PageSize: uint32(((aligned+block.NData-1)/block.NData + ngroup) * block.NData),
		OrigSize: uint32(size),
		Page:     1,
		Modified: 0x01D0000012345678,
		FileCRC:  block.CRC16(stream),
	}
	super.SetFilename("stream.bin")

	var recs []*block.Record
	groupSpan := ngroup * block.NData
	for base := 0; base < aligned; base += groupSpan {
		members := make([][]byte, ngroup)
		for m := 0; m < ngroup; m++ {
			start := base + m*block.NData
			if start >= aligned {
				break
			}
			end := start + block.NData
			if end > aligned {
				end = aligned
			}
			members[m] = stream[start:end]
			recs = append(recs, block.NewData(uint32(start), stream[start:end]))
		}
		recs = append(recs, block.NewRecovery(uint32(base), ngroup, members))
	}

	// The caller compares against the original unpadded bytes.
	return orig, super, recs
}

func ingest(t *testing.T, s *Session, super *block.Super, recs []*block.Record) int {

	slot, err := s.StartPage(super)
	require.NoError(t, err)

	for _, rec := range recs {
		require.NoError(t, s.AddBlock(slot, rec))
	}

	require.NoError(t, s.FinishPage(slot, len(recs), 0, 1))
	return slot
}

func TestReassembleComplete(t *testing.T) {

	orig, super, recs := testStream(t, 1000, 3)

	s := NewSession()
	slot := ingest(t, s, super, recs)

	f := s.File(slot)
	require.True(t, f.Complete())

	out, err := f.Finalize("")
	require.NoError(t, err)
	assert.True(t, bytes.Equal(out, orig))
	assert.Equal(t, "stream.bin", f.Filename())
}

func TestXorRecoveryRestoresMissingData(t *testing.T) {

	orig, super, recs := testStream(t, 900, 3)

	// Drop one data block from every group; the parked recovery
	// payloads must rebuild them.
	var kept []*block.Record
	dropped := 0
	for _, rec := range recs {
		if rec.Group() == 0 && int(rec.Offset())%(3*block.NData) == 0 {
			dropped++
			continue
		}
		kept = append(kept, rec)
	}
	require.True(t, dropped > 0)

	s := NewSession()
	slot := ingest(t, s, super, kept)

	f := s.File(slot)
	require.True(t, f.Complete(), "xor recovery should complete the file")

	_, _, _, nrestored := f.Stats()
	assert.Equal(t, dropped, nrestored)

	out, err := f.Finalize("")
	require.NoError(t, err)
	assert.True(t, bytes.Equal(out, orig))
}

func TestMissingRecoveryBlockTolerated(t *testing.T) {

	orig, super, recs := testStream(t, 900, 3)

	var kept []*block.Record
	for _, rec := range recs {
		if rec.Group() != 0 {
			continue // drop every recovery block
		}
		kept = append(kept, rec)
	}

	s := NewSession()
	slot := ingest(t, s, super, kept)

	require.True(t, s.File(slot).Complete())
	out, err := s.File(slot).Finalize("")
	require.NoError(t, err)
	assert.True(t, bytes.Equal(out, orig))
}

func TestTwoMissingMembersStayIncomplete(t *testing.T) {

	_, super, recs := testStream(t, 900, 3)

	var kept []*block.Record
	for _, rec := range recs {
		off := int(rec.Offset())
		if rec.Group() == 0 && off < 2*block.NData {
			continue // two members of group zero
		}
		kept = append(kept, rec)
	}

	s := NewSession()
	slot := ingest(t, s, super, kept)

	f := s.File(slot)
	assert.False(t, f.Complete())

	_, err := f.Finalize("")
	assert.True(t, errors.Is(err, ErrPageIncomplete))
}

func TestEncryptedFinalize(t *testing.T) {

	size := 800
	rng := rand.New(rand.NewSource(42))
	orig := make([]byte, size)
	rng.Read(orig)

	aligned := (size + 15) &^ 15
	stream := make([]byte, aligned)
	copy(stream, orig)
	filecrc := block.CRC16(stream)

	salt := []byte("0123456789abcdef")
	iv := []byte("abcdef0123456789")
	key := pcrypt.DeriveKey("correct horse battery staple", salt)
	require.NoError(t, pcrypt.Encrypt(key, iv, stream))

	super := &block.Super{
		DataSize: uint32(aligned),
		PageSize: uint32(((aligned+block.NData-1)/block.NData + 2) * block.NData),
		OrigSize: uint32(size),
		Mode:     block.ModeEncrypted,
		Page:     1,
		FileCRC:  filecrc,
	}
	super.SetFilename("secret.bin")
	copy(super.Salt(), salt)
	copy(super.IV(), iv)

	var recs []*block.Record
	for start := 0; start < aligned; start += block.NData {
		end := start + block.NData
		if end > aligned {
			end = aligned
		}
		recs = append(recs, block.NewData(uint32(start), stream[start:end]))
	}

	s := NewSession()
	slot := ingest(t, s, super, recs)
	f := s.File(slot)
	require.True(t, f.Complete())

	_, err := f.Finalize("wrong")
	assert.True(t, errors.Is(err, ErrUnauthenticated))

	out, err := f.Finalize("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, bytes.Equal(out, orig))
}

func TestSlotTableFull(t *testing.T) {

	s := NewSession()

	for i := 0; i < MaxFiles; i++ {
		super := &block.Super{
			DataSize: 16, PageSize: uint32(block.NData), OrigSize: 1, Page: 1,
		}
		super.SetFilename(fmt.Sprintf("file-%d", i))
		_, err := s.StartPage(super)
		require.NoError(t, err)
	}

	extra := &block.Super{DataSize: 16, PageSize: uint32(block.NData), OrigSize: 1, Page: 1}
	extra.SetFilename("one-too-many")
	_, err := s.StartPage(extra)
	assert.True(t, errors.Is(err, ErrSlotTableFull))

	// Closing a slot frees it for reuse.
	s.Close(0)
	_, err = s.StartPage(extra)
	assert.NoError(t, err)
}

func TestIdentityReusesSlot(t *testing.T) {

	_, super, recs := testStream(t, 600, 2)

	s := NewSession()
	slot1 := ingest(t, s, super, recs[:2])

	super2 := *super
	super2.Page = 1
	slot2, err := s.StartPage(&super2)
	require.NoError(t, err)
	assert.Equal(t, slot1, slot2)
}

func TestRemainingPages(t *testing.T) {

	super := &block.Super{
		DataSize: 16 * uint32(block.NData), // awkward but aligned: 1440
		PageSize: uint32(4 * block.NData),
		OrigSize: 1000,
		Page:     2,
	}
	super.SetFilename("multi")

	s := NewSession()
	slot, err := s.StartPage(super)
	require.NoError(t, err)
	require.NoError(t, s.FinishPage(slot, 0, 0, 1))

	f := s.File(slot)
	assert.False(t, f.Complete())
	assert.Equal(t, []int{1, 3, 4}, f.RemainingPages())
}
