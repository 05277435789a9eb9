package record

import (
	"sync/atomic"
	"time"
)

// OidGenerator hands out process-unique, cluster-unique object identifiers.
// Layout: 41 bit milliseconds since epoch | 10 bit node | 12 bit sequence.
// Generated values are always far above every bootstrap identity.
type OidGenerator struct {
	state  int64 // timestamp << sequenceBits | sequence
	nodeID int64
	epoch  int64
}

const (
	sequenceBits = 12
	nodeIDBits   = 10

	maxSequence = (1 << sequenceBits) - 1
	maxNodeID   = (1 << nodeIDBits) - 1

	nodeIDShift    = sequenceBits
	timestampShift = sequenceBits + nodeIDBits
)

func NewOidGenerator(nodeID int64) *OidGenerator {
	epoch := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	now := time.Now().UnixMilli()
	return &OidGenerator{
		state:  (now - epoch) << sequenceBits,
		nodeID: nodeID & maxNodeID,
		epoch:  epoch,
	}
}

// Next returns a fresh identifier. Safe for concurrent use.
func (g *OidGenerator) Next() Oid {
	for {
		old := atomic.LoadInt64(&g.state)
		oldTS := old >> sequenceBits
		oldSeq := old & maxSequence

		ts := time.Now().UnixMilli() - g.epoch

		var newTS, newSeq int64
		if ts <= oldTS {
			// same millisecond (or clock went backwards): bump sequence
			newSeq = (oldSeq + 1) & maxSequence
			newTS = oldTS
			if newSeq == 0 {
				newTS = oldTS + 1
			}
		} else {
			newTS = ts
		}

		next := newTS<<sequenceBits | newSeq
		if atomic.CompareAndSwapInt64(&g.state, old, next) {
			return Oid(newTS<<timestampShift | g.nodeID<<nodeIDShift | newSeq)
		}
	}
}
