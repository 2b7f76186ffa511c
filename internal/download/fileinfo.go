package download

import (
	"github.com/gnutella-core/servent/pkg/bitfield"
)

// BitmapFileInfo is a FileInfo backed by a fixed-granularity bitmap: the
// file is divided into chunkSize-byte cells, each tracked as a single
// bit, the same shape BitTorrent uses for piece completion but applied
// to arbitrary byte ranges rather than fixed pieces (§3 fileinfo,
// §4.I).
type BitmapFileInfo struct {
	size      int64
	chunkSize int64
	cells     int
	done      bitfield.Bitfield
}

// NewBitmapFileInfo allocates a FileInfo for a file of the given size,
// tracked at chunkSize-byte granularity.
func NewBitmapFileInfo(size, chunkSize int64) *BitmapFileInfo {
	if chunkSize <= 0 {
		chunkSize = size
	}
	if chunkSize <= 0 {
		chunkSize = 1
	}
	cells := int((size + chunkSize - 1) / chunkSize)
	return &BitmapFileInfo{size: size, chunkSize: chunkSize, cells: cells, done: bitfield.New(cells)}
}

func (f *BitmapFileInfo) cellAt(pos int64) int { return int(pos / f.chunkSize) }

// MarkDone marks [start, end) as received.
func (f *BitmapFileInfo) MarkDone(start, end int64) {
	for c := f.cellAt(start); c < f.cellAt(end-1)+1 && c < f.cells; c++ {
		f.done.Set(c)
	}
}

// MarkEmpty clears [start, end), used by the overlap-mismatch backout
// path to re-open a trailing window for re-download (§4.J).
func (f *BitmapFileInfo) MarkEmpty(start, end int64) {
	for c := f.cellAt(start); c < f.cellAt(end-1)+1 && c < f.cells; c++ {
		f.done.Clear(c)
	}
}

// Size implements FileInfo.
func (f *BitmapFileInfo) Size() int64 { return f.size }

// Complete implements FileInfo.
func (f *BitmapFileInfo) Complete() bool { return f.done.Count() == f.cells }

// IsDone implements FileInfo: true only if every cell overlapping
// [start, end) is marked done.
func (f *BitmapFileInfo) IsDone(start, end int64) bool {
	if start >= end {
		return true
	}
	for c := f.cellAt(start); c < f.cellAt(end-1)+1; c++ {
		if !f.done.Has(c) {
			return false
		}
	}
	return true
}

// EmptyHole implements FileInfo: returns the first not-done cell run, in
// byte coordinates, or ok=false when nothing is empty.
func (f *BitmapFileInfo) EmptyHole() (start, end int64, ok bool) {
	cells := f.cells
	i := 0
	for i < cells && f.done.Has(i) {
		i++
	}
	if i == cells {
		return 0, 0, false
	}
	j := i
	for j < cells && !f.done.Has(j) {
		j++
	}

	holeStart := int64(i) * f.chunkSize
	holeEnd := int64(j) * f.chunkSize
	if holeEnd > f.size {
		holeEnd = f.size
	}
	return holeStart, holeEnd, true
}

var _ FileInfo = (*BitmapFileInfo)(nil)
