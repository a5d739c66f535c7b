// Package layout defines the on-disk records of the filesystem. All integers
// are little endian. Fields narrower than 32 bits are packed in pairs so each
// record is a sequence of 32- and 64-bit words.
//
// A partial segment looks like:
//
//	+---------+--------------------------------------------+
//	| summary | data, indirect and inode blocks             |
//	+---------+--------------------------------------------+
//
// and the summary itself:
//
//	+--------+-------+-------+-----+---------------+---------+
//	| SEGSUM | FINFO | FINFO | ... |  (free)  ...  | ino ads |
//	+--------+-------+-------+-----+---------------+---------+
//
// where the inode block addresses grow down from the end of the summary.
package layout

import (
	"github.com/tchajed/marshal"
)

// putPair packs two 16-bit fields into one little-endian word, low first.
func putPair(enc *marshal.Enc, lo uint16, hi uint16) {
	enc.PutInt32(uint32(lo) | uint32(hi)<<16)
}

func getPair(dec *marshal.Dec) (uint16, uint16) {
	w := dec.GetInt32()
	return uint16(w), uint16(w >> 16)
}
