package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version byte = 1

	flagEncrypted  byte = 1 << 0
	flagCompressed byte = 1 << 1
	flagMask            = flagEncrypted | flagCompressed

	hdrLen = 4 + 1 + 1 + 8 + 8 + 4
)

var (
	ErrCorrupt = errors.New("shopsync: corrupt entry")
	magic4     = [...]byte{'S', 'H', 'S', 'E'}
)

// Entry is the envelope persisted for every cached value.
// A zero ExpiresAt means the entry never expires.
type Entry struct {
	Payload    []byte
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Encrypted  bool
	Compressed bool
}

// Expired reports whether e is past its expiry at now.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Encode frames e as:
//
//	magic(4) | ver(1) | flags(1) | createdAt(i64 be, unix nanos) | expiresAt(i64 be, 0=none) | vlen(u32 be) | payload(vlen)
func Encode(e Entry) []byte {
	var buf bytes.Buffer
	buf.Grow(hdrLen + len(e.Payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)

	var flags byte
	if e.Encrypted {
		flags |= flagEncrypted
	}
	if e.Compressed {
		flags |= flagCompressed
	}
	buf.WriteByte(flags)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], uint64(e.CreatedAt.UnixNano()))
	buf.Write(u8[:])

	var exp int64
	if !e.ExpiresAt.IsZero() {
		exp = e.ExpiresAt.UnixNano()
	}
	binary.BigEndian.PutUint64(u8[:], uint64(exp))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(e.Payload)))
	buf.Write(u4[:])

	buf.Write(e.Payload)
	return buf.Bytes()
}

// Decode parses an envelope produced by Encode. The returned payload aliases b.
func Decode(b []byte) (Entry, error) {
	if len(b) < hdrLen || !hasMagic(b) || b[4] != version || b[5]&^flagMask != 0 {
		return Entry{}, ErrCorrupt
	}
	flags := b[5]
	off := 6

	created := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	exp := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off { // exact: no trailing bytes
		return Entry{}, ErrCorrupt
	}

	e := Entry{
		Payload:    b[off : off+vlen],
		CreatedAt:  time.Unix(0, created),
		Encrypted:  flags&flagEncrypted != 0,
		Compressed: flags&flagCompressed != 0,
	}
	if exp != 0 {
		if exp <= created {
			return Entry{}, ErrCorrupt
		}
		e.ExpiresAt = time.Unix(0, exp)
	}
	return e, nil
}
