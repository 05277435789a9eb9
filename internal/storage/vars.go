package storage

import (
	"errors"
)

const (
	SegmentSize       = 1 << 30                // 1,073,741,824 (1 GiB)
	PageSize          = 1 << 13                // 8,192 (8 KiB)
	MaxPagePerSegment = SegmentSize / PageSize // 131,072 pages/segment
	HeaderSize        = 12                     // 12
)

const (
	FileMode0644 = 0o644
	FileMode0755 = 0o755
)

var (
	ErrRelationExists  = errors.New("storage: relation file already exists")
	ErrRelationMissing = errors.New("storage: relation file does not exist")
	ErrWrongSize       = errors.New("storage: buffer size != PageSize")
)
