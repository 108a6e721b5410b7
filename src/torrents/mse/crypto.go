package mse

import (
	"crypto/sha1"
	"fmt"

	"golang.org/x/crypto/rc4"
)

// ShaLen is the width of a SHA-1 digest.
const ShaLen = 20

// VCLength is the width of the verification constant.
const VCLength = 8

// PadMax is the largest PadA/B/C/D MSE allows.
const PadMax = 512

// crypto_provide / crypto_select bitfield values.
const (
	CryptoProvidePlaintext uint32 = 1
	CryptoProvideCrypto    uint32 = 2
)

func sha1Of(parts ...[]byte) [ShaLen]byte {
	h := sha1.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out [ShaLen]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Req1 returns SHA1("req1", S).
func Req1(s [KeyLen]byte) [ShaLen]byte {
	return sha1Of([]byte("req1"), s[:])
}

// Req2 returns SHA1("req2", SKEY).
func Req2(skey [ShaLen]byte) [ShaLen]byte {
	return sha1Of([]byte("req2"), skey[:])
}

// Req3 returns SHA1("req3", S).
func Req3(s [KeyLen]byte) [ShaLen]byte {
	return sha1Of([]byte("req3"), s[:])
}

// XorDigest XORs two SHA-1 digests byte by byte.
func XorDigest(a, b [ShaLen]byte) [ShaLen]byte {
	var out [ShaLen]byte
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// NewRC4Stream derives an RC4 keystream keyed on SHA1(label, S, SKEY),
// discarding the mandated first 1024 bytes of keystream. Each call
// constructs a brand new cipher.Stream that starts at real keystream
// offset zero once this function returns.
func NewRC4Stream(label string, s [KeyLen]byte, skey [ShaLen]byte) (*rc4.Cipher, error) {
	key := sha1Of([]byte(label), s[:], skey[:])

	c, err := rc4.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to derive RC4 stream: %w", err)
	}

	discard := make([]byte, 1024)
	c.XORKeyStream(discard, discard)

	return c, nil
}
