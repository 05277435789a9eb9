// stand for bytes helper
package bx

import "encoding/binary"

var (
	LE = binary.LittleEndian
	BE = binary.BigEndian
)

// --- LE at offset: page headers ---
func U16At(b []byte, off int) uint16       { return LE.Uint16(b[off:]) }
func U32At(b []byte, off int) uint32       { return LE.Uint32(b[off:]) }
func PutU16At(b []byte, off int, v uint16) { LE.PutUint16(b[off:], v) }
func PutU32At(b []byte, off int, v uint32) { LE.PutUint32(b[off:], v) }

// --- BE append: sortable catalog keys ---
func AppendU64(b []byte, v uint64) []byte { return BE.AppendUint64(b, v) }
func U64BE(b []byte) uint64                { return BE.Uint64(b) }

// Signed values get their sign bit flipped so negatives sort first.
func AppendI16(b []byte, v int16) []byte { return BE.AppendUint16(b, uint16(v)^0x8000) }
func AppendI32(b []byte, v int32) []byte { return BE.AppendUint32(b, uint32(v)^0x80000000) }
