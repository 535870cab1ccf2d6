package codec

import "encoding/json"

// JSON uses encoding/json. Field names follow `json` tags, which keeps
// stored values in the same shape the remote API speaks.
type JSON[V any] struct{}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }
func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}
