package blob

import (
	"errors"

	"github.com/aalhour/lsmtree/internal/encoding"
)

// fileMagic identifies a well-formed blob file; distinct from the table
// file's magic so the two can never be confused by a stray open() call.
const fileMagic uint64 = 0x4c534d2d424c4f42 // "LSM-BLOB"
const formatVersion uint32 = 1

// trailerSize is meta_offset(8) + meta_length(8) + magic(8) + format_version(4).
const trailerSize = 28

// Trailer is the fixed-size footer at the very end of a blob file.
type Trailer struct {
	MetaOffset    uint64
	MetaLength    uint64
	Magic         uint64
	FormatVersion uint32
}

func (t Trailer) Encode() []byte {
	out := make([]byte, 0, trailerSize)
	out = encoding.AppendFixed64(out, t.MetaOffset)
	out = encoding.AppendFixed64(out, t.MetaLength)
	out = encoding.AppendFixed64(out, t.Magic)
	out = encoding.AppendFixed32(out, t.FormatVersion)
	return out
}

var ErrBadTrailerMagic = errors.New("blob: bad trailer magic")

func DecodeTrailer(data []byte) (Trailer, error) {
	if len(data) != trailerSize {
		return Trailer{}, errors.New("blob: trailer has wrong size")
	}
	t := Trailer{
		MetaOffset:    encoding.DecodeFixed64(data[0:8]),
		MetaLength:    encoding.DecodeFixed64(data[8:16]),
		Magic:         encoding.DecodeFixed64(data[16:24]),
		FormatVersion: encoding.DecodeFixed32(data[24:28]),
	}
	if t.Magic != fileMagic {
		return Trailer{}, ErrBadTrailerMagic
	}
	return t, nil
}
