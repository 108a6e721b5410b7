package mse

// Mode is the local policy governing whether a handshake may, must, or
// must not end up encrypted.
type Mode int

const (
	Required Mode = iota
	Preferred
	ClearPreferred
)

func (m Mode) String() string {
	switch m {
	case Required:
		return "require"
	case Preferred:
		return "prefer"
	case ClearPreferred:
		return "clear"
	default:
		return "unknown"
	}
}

// ProvideFor returns the crypto_provide bitfield an initiator advertises
// for the given mode.
func ProvideFor(mode Mode) uint32 {
	if mode == ClearPreferred {
		return CryptoProvidePlaintext | CryptoProvideCrypto
	}
	return CryptoProvideCrypto
}

// SelectFor applies the responder's priority table to a peer's
// crypto_provide bitfield and returns the chosen single bit, or false if
// nothing acceptable was offered.
func SelectFor(mode Mode, provided uint32) (uint32, bool) {
	var priority []uint32

	switch mode {
	case Required:
		priority = []uint32{CryptoProvideCrypto}
	case Preferred:
		priority = []uint32{CryptoProvideCrypto, CryptoProvidePlaintext}
	case ClearPreferred:
		priority = []uint32{CryptoProvidePlaintext, CryptoProvideCrypto}
	}

	for _, p := range priority {
		if provided&p != 0 {
			return p, true
		}
	}

	return 0, false
}
