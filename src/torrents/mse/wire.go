package mse

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"
)

func PutUint16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }
func Uint16(b []byte) uint16       { return binary.BigEndian.Uint16(b) }
func PutUint32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
func Uint32(b []byte) uint32       { return binary.BigEndian.Uint32(b) }

// RandomPad returns a random byte slice of length in [0, max], the shape
// MSE's PadA/PadB/PadC/PadD all take.
func RandomPad(max int) ([]byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max+1)))
	if err != nil {
		return nil, fmt.Errorf("failed to pick pad length: %w", err)
	}

	buf := make([]byte, n.Int64())
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to fill pad: %w", err)
	}

	return buf, nil
}
