package codec

// String stores Go strings as their UTF-8 bytes. Used for plain scalar
// values such as the persisted device id.
type String struct{}

var _ Codec[string] = String{}

func (String) Encode(s string) ([]byte, error) { return []byte(s), nil }
func (String) Decode(b []byte) (string, error) { return string(b), nil }
