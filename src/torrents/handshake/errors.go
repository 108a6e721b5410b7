package handshake

import "errors"

var (
	ErrBadPrefix            = errors.New("handshake: unrecognized protocol prefix")
	ErrPadTooLong           = errors.New("handshake: pad exceeds maximum length")
	ErrUnknownHash          = errors.New("handshake: torrent not found or not running")
	ErrSelfConnect          = errors.New("handshake: connected to ourselves")
	ErrSeedToSeed           = errors.New("handshake: both sides are seeds")
	ErrCryptoSelectMismatch = errors.New("handshake: crypto_select not in what we offered")
	ErrEncryptionRequired   = errors.New("handshake: peer did not offer an acceptable encryption option")
	ErrNoAcceptableCrypto   = errors.New("handshake: no acceptable crypto_provide option")
	ErrTimeout              = errors.New("handshake: timed out")
	ErrAborted              = errors.New("handshake: aborted")
)
