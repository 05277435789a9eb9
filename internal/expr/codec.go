package expr

import (
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tuannm99/novacat/internal/record"
)

// Encode serializes a cooked tree.
func Encode(n *Node) ([]byte, error) {
	b, err := msgpack.Marshal(n)
	return b, errors.Wrap(err, "expr: encode")
}

// Decode is the inverse of Encode.
func Decode(b []byte) (*Node, error) {
	var n Node
	if err := msgpack.Unmarshal(b, &n); err != nil {
		return nil, errors.Wrapf(ErrCodec, "decode: %v", err)
	}
	normalize(&n)
	return &n, nil
}

// EncodeList serializes an implicit-AND list.
func EncodeList(list []*Node) ([]byte, error) {
	b, err := msgpack.Marshal(list)
	return b, errors.Wrap(err, "expr: encode list")
}

func DecodeList(b []byte) ([]*Node, error) {
	var list []*Node
	if err := msgpack.Unmarshal(b, &list); err != nil {
		return nil, errors.Wrapf(ErrCodec, "decode list: %v", err)
	}
	for _, n := range list {
		normalize(n)
	}
	return list, nil
}

// normalize widens msgpack's compact integer and float encodings back to the
// int64/float64 values the evaluator works with.
func normalize(n *Node) {
	Walk(n, func(x *Node) bool {
		if x.Kind != KindConst || x.IsNull {
			return true
		}
		switch v := x.Value.(type) {
		case int8:
			x.Value = int64(v)
		case int16:
			x.Value = int64(v)
		case int32:
			x.Value = int64(v)
		case uint8:
			x.Value = int64(v)
		case uint16:
			x.Value = int64(v)
		case uint32:
			x.Value = int64(v)
		case uint64:
			x.Value = int64(v)
		case float32:
			x.Value = float64(v)
		}
		if x.Type == record.TypeFloat4 || x.Type == record.TypeFloat8 {
			if i, ok := x.Value.(int64); ok {
				x.Value = float64(i)
			}
		}
		return true
	})
}
