package bus

import "hash/crc32"

// crc32Of computes the IEEE CRC32 of b, used by the bus's optional
// debug-mode integrity check.
func crc32Of(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}
