// Package mse implements the classic (non-elliptic) Diffie-Hellman key
// exchange, request-hash derivation and RC4 keystream derivation used by
// Message Stream Encryption (BEP-8).
package mse

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// KeyLen is the fixed width, in bytes, of public keys and the shared
// secret: the field is 768 bits wide.
const KeyLen = 96

// pHex is the 768-bit safe prime MSE negotiates over (the fixed P of
// BEP-8).
const pHex = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245E485B576625E7EC6F44C42E9A63A36210000000000090563"

var (
	dhP = new(big.Int)
	dhG = big.NewInt(2)
)

func init() {
	if _, ok := dhP.SetString(pHex, 16); !ok {
		panic("mse: malformed DH prime")
	}
}

// PrivateKey is a randomly generated DH exponent.
type PrivateKey struct {
	x *big.Int
}

// GenerateKeyPair picks a fresh private exponent and returns the
// corresponding 96-byte public key.
func GenerateKeyPair() (pub [KeyLen]byte, priv PrivateKey, err error) {
	x, err := rand.Int(rand.Reader, dhP)
	if err != nil {
		return pub, priv, fmt.Errorf("failed to generate DH exponent: %w", err)
	}

	priv = PrivateKey{x: x}

	y := new(big.Int).Exp(dhG, x, dhP)
	putFixed(pub[:], y)

	return pub, priv, nil
}

// ComputeShared derives the shared secret S from the peer's public key and
// our own private exponent, rejecting public keys outside (1, P-1) as
// required by BEP-8.
func ComputeShared(peerPub [KeyLen]byte, priv PrivateKey) ([KeyLen]byte, error) {
	var shared [KeyLen]byte

	y := new(big.Int).SetBytes(peerPub[:])
	pMinus1 := new(big.Int).Sub(dhP, big.NewInt(1))
	if y.Cmp(big.NewInt(1)) <= 0 || y.Cmp(pMinus1) >= 0 {
		return shared, fmt.Errorf("peer public key out of range")
	}

	s := new(big.Int).Exp(y, priv.x, dhP)
	putFixed(shared[:], s)

	return shared, nil
}

// putFixed writes v into dst as a fixed-width, big-endian, zero-padded
// integer.
func putFixed(dst []byte, v *big.Int) {
	b := v.Bytes()
	if len(b) > len(dst) {
		b = b[len(b)-len(dst):]
	}
	copy(dst[len(dst)-len(b):], b)
}
