// Package serialize defines the pluggable value codec the Cache Client
// Facade uses to turn typed values into the bytes Host Connections carry,
// and back.
package serialize

import (
	"github.com/vmihailenco/msgpack/v5"
)

// Serializer is the customSerializer plug-in point.
// Implementations must be safe for concurrent use.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// MsgpackSerializer is the default Serializer, grounded on the same
// library the dcache reference client uses for its own value codec.
// msgpack round-trips Go structs without field tags and produces a
// smaller wire payload than JSON, which matters once values are fanned
// out across every replica in a Bucket.
type MsgpackSerializer struct{}

func (MsgpackSerializer) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (MsgpackSerializer) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

var _ Serializer = MsgpackSerializer{}
