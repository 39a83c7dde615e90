package block

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// filetimeEpochDelta is the number of seconds between 1601-01-01 and
// 1970-01-01. Superblock timestamps are Windows FILETIMEs: 100ns ticks
// since 1601, carried bit-exact through the whole pipeline.
const filetimeEpochDelta = 11644473600

// Super is the decoded form of a superblock payload. It identifies the
// file a page belongs to and carries everything the restore side needs to
// allocate a descriptor and finalize the output.
type Super struct {
	DataSize   uint32
	PageSize   uint32
	OrigSize   uint32
	Mode       byte
	Attributes byte
	Page       uint16
	Modified   uint64
	FileCRC    uint16
	Name       [FilenameSize]byte
}

// Super reinterprets the record payload as a superblock. The record
// address is not consulted; callers check Class first.
func (r *Record) Super() *Super {

	p := r.Payload()
	s := &Super{
		DataSize:   binary.LittleEndian.Uint32(p[0:4]),
		PageSize:   binary.LittleEndian.Uint32(p[4:8]),
		OrigSize:   binary.LittleEndian.Uint32(p[8:12]),
		Mode:       p[12] & (ModeCompressed | ModeEncrypted),
		Attributes: p[13],
		Page:       binary.LittleEndian.Uint16(p[14:16]),
		Modified:   binary.LittleEndian.Uint64(p[16:24]),
		FileCRC:    binary.LittleEndian.Uint16(p[24:26]),
	}
	copy(s.Name[:], p[26:26+FilenameSize])
	return s
}

// Record packs the superblock into a sealed 128-byte record.
func (s *Super) Record() *Record {

	r := new(Record)
	r.SetAddr(SuperAddr)
	p := r.Payload()
	binary.LittleEndian.PutUint32(p[0:4], s.DataSize)
	binary.LittleEndian.PutUint32(p[4:8], s.PageSize)
	binary.LittleEndian.PutUint32(p[8:12], s.OrigSize)
	p[12] = s.Mode & (ModeCompressed | ModeEncrypted)
	p[13] = s.Attributes
	binary.LittleEndian.PutUint16(p[14:16], s.Page)
	binary.LittleEndian.PutUint64(p[16:24], s.Modified)
	binary.LittleEndian.PutUint16(p[24:26], s.FileCRC)
	copy(p[26:26+FilenameSize], s.Name[:])
	r.Seal()
	return r
}

// Validate checks the superblock invariants.
func (s *Super) Validate() error {

	if s.DataSize == 0 || s.DataSize > MaxSize {
		return fmt.Errorf("superblock data size %d out of range", s.DataSize)
	}
	if s.DataSize%16 != 0 {
		return fmt.Errorf("superblock data size %d not 16-byte aligned", s.DataSize)
	}
	if s.PageSize == 0 || s.PageSize%NData != 0 {
		return fmt.Errorf("superblock page size %d not a multiple of %d", s.PageSize, NData)
	}
	if s.Page < 1 {
		return fmt.Errorf("superblock page number %d invalid", s.Page)
	}
	return nil
}

// Encrypted reports whether the payload was AES encrypted.
func (s *Super) Encrypted() bool {
	return s.Mode&ModeEncrypted != 0
}

// Compressed reports whether the payload was compressed.
func (s *Super) Compressed() bool {
	return s.Mode&ModeCompressed != 0
}

// Filename extracts the stored file name. Encrypted backups overwrite
// name bytes 32..64 with the salt and IV, so the name is clipped to 32
// bytes in that mode.
func (s *Super) Filename() string {
	limit := FilenameSize
	if s.Encrypted() {
		limit = 32
	}
	name := s.Name[:limit]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return string(name)
}

// SetFilename stores a file name, truncating to the space the mode
// leaves available.
func (s *Super) SetFilename(name string) {
	limit := FilenameSize
	if s.Encrypted() {
		limit = 32
	}
	b := []byte(name)
	if len(b) > limit {
		b = b[:limit]
	}
	for i := range s.Name[:limit] {
		s.Name[i] = 0
	}
	copy(s.Name[:limit], b)
}

// Salt returns the AES salt bytes (name bytes 32..48).
func (s *Super) Salt() []byte {
	return s.Name[32:48]
}

// IV returns the AES initialization vector (name bytes 48..64).
func (s *Super) IV() []byte {
	return s.Name[48:64]
}

// Identity reports whether two superblocks describe the same file. Pages
// of one backup match on everything except the page number.
func (s *Super) Identity(o *Super) bool {
	return s.Name == o.Name &&
		s.Modified == o.Modified &&
		s.DataSize == o.DataSize &&
		s.OrigSize == o.OrigSize &&
		s.Mode == o.Mode
}

// TimeToFiletime converts a Go time to a Windows FILETIME.
func TimeToFiletime(t time.Time) uint64 {
	return uint64(t.Unix()+filetimeEpochDelta)*10000000 + uint64(t.Nanosecond()/100)
}

// FiletimeToTime converts a Windows FILETIME to a Go time.
func FiletimeToTime(ft uint64) time.Time {
	secs := int64(ft/10000000) - filetimeEpochDelta
	nsec := int64(ft%10000000) * 100
	return time.Unix(secs, nsec)
}
