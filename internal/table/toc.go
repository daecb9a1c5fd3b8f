package table

import (
	"errors"

	"github.com/aalhour/lsmtree/internal/encoding"
)

// Region names used as table-of-contents keys (spec §4.2).
const (
	RegionTLI              = "tli"
	RegionIndex             = "index"
	RegionFilter            = "filter"
	RegionFilterTLI         = "filter_tli"
	RegionLinkedBlobFiles   = "linked_blob_files"
	RegionMeta              = "meta"
)

// regionSpan is a (offset, length) pair within the table file.
type regionSpan struct {
	Offset uint64
	Length uint64
}

// TOC maps region names to their span within the file.
type TOC struct {
	regions map[string]regionSpan
}

// ErrMissingRegion is returned when a region required by the reader isn't
// present in the table-of-contents.
var ErrMissingRegion = errors.New("table: missing required TOC region")

func newTOC() *TOC { return &TOC{regions: make(map[string]regionSpan)} }

func (t *TOC) set(name string, offset, length uint64) {
	t.regions[name] = regionSpan{Offset: offset, Length: length}
}

// Lookup returns the span for name, or ok=false if absent.
func (t *TOC) Lookup(name string) (offset, length uint64, ok bool) {
	s, ok := t.regions[name]
	return s.Offset, s.Length, ok
}

// Require returns the span for name, or ErrMissingRegion if absent.
func (t *TOC) Require(name string) (offset, length uint64, err error) {
	s, ok := t.regions[name]
	if !ok {
		return 0, 0, ErrMissingRegion
	}
	return s.Offset, s.Length, nil
}

// Encode serializes the TOC as a sequence of
// [name_len_prefixed][offset varint][length varint] entries.
func (t *TOC) Encode() []byte {
	var out []byte
	for name, span := range t.regions {
		out = encoding.AppendLengthPrefixed(out, []byte(name))
		out = encoding.AppendVarint64(out, span.Offset)
		out = encoding.AppendVarint64(out, span.Length)
	}
	return out
}

// DecodeTOC parses a TOC from its encoded form.
func DecodeTOC(data []byte) (*TOC, error) {
	t := newTOC()
	c := encoding.NewCursor(data)
	for c.Remaining() > 0 {
		name, err := c.LengthPrefixed()
		if err != nil {
			return nil, err
		}
		off, err := c.Varint64()
		if err != nil {
			return nil, err
		}
		length, err := c.Varint64()
		if err != nil {
			return nil, err
		}
		t.set(string(name), off, length)
	}
	return t, nil
}

// magic identifies a well-formed table file; formatVersion allows the
// on-disk layout to evolve without breaking older readers.
const (
	magic         uint64 = 0x4c534d2d5441424c // "LSM-TABL"
	formatVersion uint32 = 1

	// trailerSize is toc_offset(8) + toc_length(8) + magic(8) + format_version(4).
	trailerSize = 28
)

// Trailer is the fixed-size footer at the very end of a table file.
type Trailer struct {
	TOCOffset     uint64
	TOCLength     uint64
	Magic         uint64
	FormatVersion uint32
}

func (t Trailer) Encode() []byte {
	out := make([]byte, 0, trailerSize)
	out = encoding.AppendFixed64(out, t.TOCOffset)
	out = encoding.AppendFixed64(out, t.TOCLength)
	out = encoding.AppendFixed64(out, t.Magic)
	out = encoding.AppendFixed32(out, t.FormatVersion)
	return out
}

var ErrBadMagic = errors.New("table: bad trailer magic")

func DecodeTrailer(data []byte) (Trailer, error) {
	if len(data) != trailerSize {
		return Trailer{}, errors.New("table: trailer has wrong size")
	}
	t := Trailer{
		TOCOffset:     encoding.DecodeFixed64(data[0:8]),
		TOCLength:     encoding.DecodeFixed64(data[8:16]),
		Magic:         encoding.DecodeFixed64(data[16:24]),
		FormatVersion: encoding.DecodeFixed32(data[24:28]),
	}
	if t.Magic != magic {
		return Trailer{}, ErrBadMagic
	}
	return t, nil
}
