package codec

import "fmt"

// LimitCodec rejects oversized payloads at Decode time before handing them
// to Inner. Encode is forwarded unchanged. MaxDecode <= 0 disables the check.
//
// Storage backends shared with other processes (redis, a sqlite file) can
// hold arbitrary bytes under our keys; the limit bounds what a read allocates.
type LimitCodec[V any] struct {
	Inner     Codec[V]
	MaxDecode int // bytes
}

func (c LimitCodec[V]) Encode(v V) ([]byte, error) { return c.Inner.Encode(v) }
func (c LimitCodec[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, fmt.Errorf("payload too large: %d > %d", len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
