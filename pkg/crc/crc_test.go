package crc

import (
	"bytes"
	"testing"
)

func TestChecksumCheckValue(t *testing.T) {
	if got := Checksum([]byte("123456789")); got != 0x29B1 {
		t.Errorf("Checksum(123456789) = 0x%04X, want 0x29B1", got)
	}
}

func TestChecksumVectors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{"empty", nil, 0xFFFF},
		// request public key: command 0x0001, payload 0x0003
		{"request public key", []byte{0x01, 0x00, 0x03, 0x00}, 0xA727},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Checksum(tt.data); got != tt.want {
				t.Errorf("Checksum() = 0x%04X, want 0x%04X", got, tt.want)
			}
		})
	}
}

func TestAppendAndVerify(t *testing.T) {
	data := []byte{0x01, 0x00, 0x03, 0x00}
	frame := Append(data)

	want := []byte{0x01, 0x00, 0x03, 0x00, 0x27, 0xA7}
	if !bytes.Equal(frame, want) {
		t.Fatalf("Append() = %X, want %X", frame, want)
	}
	if len(data) != 4 {
		t.Error("Append modified its input")
	}
	if !Verify(frame) {
		t.Error("Verify() = false for a valid frame")
	}
}

func TestVerifyShort(t *testing.T) {
	if Verify(nil) {
		t.Error("Verify(nil) = true")
	}
	if Verify([]byte{0xFF}) {
		t.Error("Verify(1 byte) = true")
	}
}

func TestSingleBitErrorsDetected(t *testing.T) {
	payloads := [][]byte{
		[]byte("123456789"),
		{0x00},
		bytes.Repeat([]byte{0xA5}, 64),
		{0x0E, 0x00, 0x00},
	}

	for _, p := range payloads {
		frame := Append(p)
		for i := 0; i < len(frame)*8; i++ {
			corrupted := make([]byte, len(frame))
			copy(corrupted, frame)
			corrupted[i/8] ^= 1 << (i % 8)
			if Verify(corrupted) {
				t.Fatalf("bit flip %d in %X not detected", i, frame)
			}
		}
	}
}
