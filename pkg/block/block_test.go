package block

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCRC16KnownValue(t *testing.T) {
	// CRC-16/XMODEM check value.
	assert.Equal(t, uint16(0x31C3), CRC16([]byte("123456789")))
	assert.Equal(t, uint16(0), CRC16(nil))
}

func TestDataBlockSeal(t *testing.T) {

	payload := make([]byte, NData)
	for i := range payload {
		payload[i] = byte(i)
	}

	rec := NewData(0x1234, payload)

	assert.Equal(t, uint32(0x1234), rec.Addr())
	assert.Equal(t, payload, rec.Payload())

	// The stored CRC is the whitened CRC over addr|payload.
	raw := rec.Bytes()
	assert.Equal(t, CRC16(raw[:4+NData])^CRCWhitener, rec.CRC())

	class, n, err := rec.Verify()
	assert.NoError(t, err)
	assert.Equal(t, ClassData, class)
	assert.Equal(t, 0, n)
}

func TestVerifyCorrectsCorruption(t *testing.T) {

	rec := NewData(90, make([]byte, NData))
	for i := 10; i < 26; i++ {
		rec.Bytes()[i] ^= 0xFF
	}

	class, n, err := rec.Verify()
	assert.NoError(t, err)
	assert.Equal(t, ClassData, class)
	assert.Equal(t, 16, n)
	assert.Equal(t, make([]byte, NData), rec.Payload())
}

func TestVerifyRejectsHeavyCorruption(t *testing.T) {

	rec := NewData(90, make([]byte, NData))
	for i := 10; i < 27; i++ {
		rec.Bytes()[i] ^= 0xFF
	}

	_, _, err := rec.Verify()
	assert.Equal(t, ErrUnrecoverable, err)
}

func TestRecoveryBlock(t *testing.T) {

	members := make([][]byte, 3)
	for m := range members {
		members[m] = make([]byte, NData)
		for i := range members[m] {
			members[m][i] = byte(m*40 + i)
		}
	}

	rec := NewRecovery(8100, 3, members)

	assert.Equal(t, 3, rec.Group())
	assert.Equal(t, uint32(8100), rec.Offset())

	class, _, err := rec.Verify()
	assert.NoError(t, err)
	assert.Equal(t, ClassRecovery, class)

	// A missing member is the inverse of the xor of the survivors.
	p := rec.Payload()
	for i := 0; i < NData; i++ {
		rebuilt := ^p[i] ^ members[0][i] ^ members[2][i]
		assert.Equal(t, members[1][i], rebuilt)
	}
}

func TestSuperblockRoundTrip(t *testing.T) {

	s := &Super{
		DataSize: 4096,
		PageSize: 900,
		OrigSize: 4000,
		Mode:     ModeCompressed,
		Page:     3,
		Modified: 0x01D541F2ABCDEF01,
		FileCRC:  0xBEEF,
	}
	s.SetFilename("backup.tar")

	rec := s.Record()
	assert.Equal(t, uint32(SuperAddr), rec.Addr())

	class, _, err := rec.Verify()
	assert.NoError(t, err)
	assert.Equal(t, ClassSuper, class)

	got := rec.Super()
	assert.Equal(t, s, got)
	assert.Equal(t, "backup.tar", got.Filename())
	assert.NoError(t, got.Validate())
}

func TestSuperblockIdentity(t *testing.T) {

	a := &Super{DataSize: 4096, PageSize: 900, OrigSize: 4000, Page: 1, Modified: 77}
	a.SetFilename("x")
	b := *a
	b.Page = 2

	assert.True(t, a.Identity(&b))

	c := *a
	c.Modified = 78
	assert.False(t, a.Identity(&c))
}

func TestSuperblockModeMasking(t *testing.T) {

	s := &Super{DataSize: 16, PageSize: 90, OrigSize: 1, Page: 1}
	rec := s.Record()

	// Reserved upper mode bits are ignored by readers.
	rec.Payload()[12] |= 0xF0
	rec.Seal()

	got := rec.Super()
	assert.Equal(t, byte(0), got.Mode)
}

func TestEncryptedNameLayout(t *testing.T) {

	s := &Super{DataSize: 16, PageSize: 90, OrigSize: 1, Page: 1, Mode: ModeEncrypted}
	s.SetFilename("a-very-long-filename-that-exceeds-thirty-two-bytes.bin")

	// Encrypted mode clips the name so the salt and IV fit.
	assert.Len(t, s.Filename(), 32)

	copy(s.Salt(), []byte("0123456789abcdef"))
	copy(s.IV(), []byte("fedcba9876543210"))

	got := s.Record().Super()
	assert.Equal(t, []byte("0123456789abcdef"), got.Salt())
	assert.Equal(t, []byte("fedcba9876543210"), got.IV())
	assert.Equal(t, s.Filename(), got.Filename())
}

func TestFiletimeRoundTrip(t *testing.T) {

	when := time.Date(2020, 7, 14, 3, 25, 45, 123456700, time.UTC)
	ft := TimeToFiletime(when)
	back := FiletimeToTime(ft)

	assert.True(t, when.Equal(back), "expected %v, got %v", when, back)
	assert.Equal(t, ft, TimeToFiletime(back))
}
