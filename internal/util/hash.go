package util

import (
	"strconv"

	"github.com/spaolacci/murmur3"
)

// Murmur128Hex is the checksum format of stored artifacts.
func Murmur128Hex(b []byte) string {
	h1, h2 := murmur3.Sum128(b)
	return strconv.FormatUint(h1, 16) + strconv.FormatUint(h2, 16)
}
