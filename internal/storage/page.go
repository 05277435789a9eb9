package storage

import (
	"github.com/tuannm99/novacat/internal/alias/bx"
)

// Header offsets
const (
	offFlags   = 0
	offPageID  = 2
	offLower   = 6
	offUpper   = 8
	offSpecial = 10
)

// +------------------+ 0
// | PageHeaderData   |
// +------------------+ <-- pd_lower
// |   Free space     |
// +------------------+ <-- pd_upper
// |  Special Space   |
// +------------------+ Block/Page Size (8192)
//
// Only the header is interpreted here; access methods own the body.
type Page struct {
	Buf []byte // fixed-size 8KB
}

func (p *Page) PageID() uint32 {
	return bx.U32At(p.Buf, offPageID)
}

func (p *Page) SetFlags(v uint16) {
	bx.PutU16At(p.Buf, offFlags, v)
}

func (p *Page) lower() uint16 {
	return bx.U16At(p.Buf, offLower)
}

func (p *Page) upper() uint16 {
	return bx.U16At(p.Buf, offUpper)
}

// Body returns the page bytes after the header.
func (p *Page) Body() []byte {
	return p.Buf[HeaderSize:]
}

func (p *Page) init(pageID uint32) {
	for i := range p.Buf {
		p.Buf[i] = 0
	}
	bx.PutU32At(p.Buf, offPageID, pageID)
	bx.PutU16At(p.Buf, offLower, HeaderSize)
	bx.PutU16At(p.Buf, offUpper, PageSize)
	bx.PutU16At(p.Buf, offSpecial, PageSize)
}

func (p *Page) IsUninitialized() bool {
	return p.lower() == 0 && p.upper() == 0
}
