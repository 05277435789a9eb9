package systable

import (
	"github.com/tuannm99/novacat/internal/alias/bx"
	"github.com/tuannm99/novacat/internal/record"
)

// Key builds order-preserving bbolt keys.
type Key []byte

func K() Key { return make(Key, 0, 24) }

func (k Key) Oid(o record.Oid) Key {
	return bx.AppendU64(k, uint64(o))
}

// Int16 flips the sign bit so negative attribute numbers sort first.
func (k Key) Int16(v int16) Key {
	return bx.AppendI16(k, v)
}

func (k Key) Int32(v int32) Key {
	return bx.AppendI32(k, v)
}

// Str appends a NUL-terminated string so prefixes never run into the next field.
func (k Key) Str(s string) Key {
	k = append(k, s...)
	return append(k, 0)
}
