// Package checksum computes the IEEE-802.3 CRC-32 used to fingerprint ROM
// images and to verify BPS patch integrity.
package checksum

import "hash/crc32"

// Of returns the IEEE CRC-32 of data.
func Of(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
