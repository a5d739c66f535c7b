package layout

// Cksum folds b into a 32-bit sum by xor-ing its little-endian 16-bit words.
// A trailing odd byte is ignored.
func Cksum(b []byte) uint32 {
	return CksumPart(b, 0)
}

// CksumPart continues a checksum over another piece; pieces must have even
// length except the last.
func CksumPart(b []byte, sum uint32) uint32 {
	n := len(b) &^ 1
	for i := 0; i < n; i += 2 {
		sum ^= uint32(b[i]) | uint32(b[i+1])<<8
	}
	return sum
}
