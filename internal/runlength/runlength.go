// Package runlength implements PackBits byte-run encoding.
//
// Each block starts with a signed header byte n:
//
//	0..127    n+1 literal bytes follow
//	-1..-127  the next byte repeats 1-n times
//	-128      no-op (never emitted, tolerated on decode)
package runlength

import "errors"

const maxBlock = 128

var ErrCorrupt = errors.New("runlength: corrupt input")

// Encode returns the PackBits encoding of src.
func Encode(src []byte) []byte {
	out := make([]byte, 0, len(src)+len(src)/maxBlock+1)
	i := 0
	for i < len(src) {
		if r := runLen(src, i); r >= 3 {
			out = append(out, byte(int8(1-r)), src[i])
			i += r
			continue
		}
		start := i
		for i < len(src) && i-start < maxBlock {
			if runLen(src, i) >= 3 {
				break
			}
			i++
		}
		out = append(out, byte(i-start-1))
		out = append(out, src[start:i]...)
	}
	return out
}

// Decode reverses Encode.
func Decode(src []byte) ([]byte, error) {
	out := make([]byte, 0, len(src)*2)
	i := 0
	for i < len(src) {
		n := int8(src[i])
		i++
		switch {
		case n >= 0:
			l := int(n) + 1
			if l > len(src)-i {
				return nil, ErrCorrupt
			}
			out = append(out, src[i:i+l]...)
			i += l
		case n == -128:
		default:
			if i >= len(src) {
				return nil, ErrCorrupt
			}
			b := src[i]
			i++
			for c := 1 - int(n); c > 0; c-- {
				out = append(out, b)
			}
		}
	}
	return out, nil
}

// Compress encodes src and reports whether the result is strictly smaller.
// When it is not, src is returned unchanged with ok=false.
func Compress(src []byte) (out []byte, ok bool) {
	enc := Encode(src)
	if len(enc) >= len(src) {
		return src, false
	}
	return enc, true
}

func runLen(b []byte, i int) int {
	n := 1
	for i+n < len(b) && n < maxBlock && b[i+n] == b[i] {
		n++
	}
	return n
}
