package smc

import (
	"encoding/binary"

	"github.com/ardnew/softmbox/hal"
)

// WriteWindow copies src to the start of w using only 32-bit writes. A
// trailing partial word is read, patched and written back.
func WriteWindow(w hal.MMIO, src []byte) {
	off := 0
	for ; off+4 <= len(src); off += 4 {
		w.Write32(uint64(off), binary.LittleEndian.Uint32(src[off:]))
	}
	if off == len(src) {
		return
	}
	var word [4]byte
	binary.LittleEndian.PutUint32(word[:], w.Read32(uint64(off)))
	copy(word[:], src[off:])
	w.Write32(uint64(off), binary.LittleEndian.Uint32(word[:]))
}

// ReadWindow fills dst from the start of w using only 32-bit reads.
func ReadWindow(w hal.MMIO, dst []byte) {
	var word [4]byte
	for off := 0; off < len(dst); off += 4 {
		binary.LittleEndian.PutUint32(word[:], w.Read32(uint64(off)))
		copy(dst[off:], word[:])
	}
}

// wordSpan is the number of window bytes touched when copying n bytes.
func wordSpan(n int) uint64 {
	return uint64(n+3) &^ 3
}
