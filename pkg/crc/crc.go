// Package crc implements the CRC-16 used by Nuki frames.
//
// The parameterization is CRC-16/CCITT-FALSE: width 16, polynomial 0x1021,
// initial value 0xFFFF, no input or output reflection, XOR-out 0x0000.
// The checksum is carried little-endian in the last two bytes of a frame and
// covers every byte before it.
package crc

import "encoding/binary"

// CCITT-FALSE parameters.
const (
	Polynomial uint16 = 0x1021
	Initial    uint16 = 0xFFFF
	XorOut     uint16 = 0x0000

	// Size is the wire size of the checksum field.
	Size = 2
)

// Checksum computes the CCITT-FALSE CRC-16 of data.
func Checksum(data []byte) uint16 {
	crc := Initial
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ Polynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc ^ XorOut
}

// Append returns data with its checksum appended in little-endian order.
// The input slice is not modified.
func Append(data []byte) []byte {
	out := make([]byte, len(data), len(data)+Size)
	copy(out, data)
	return binary.LittleEndian.AppendUint16(out, Checksum(data))
}

// Verify reports whether the trailing little-endian checksum of frame
// matches the checksum of the bytes preceding it.
func Verify(frame []byte) bool {
	if len(frame) < Size {
		return false
	}
	body := frame[:len(frame)-Size]
	return binary.LittleEndian.Uint16(frame[len(frame)-Size:]) == Checksum(body)
}
