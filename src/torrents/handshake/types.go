package handshake

import (
	"time"

	"github.com/tatumon/bittorrent-client/src/torrents/mse"
	"github.com/tatumon/bittorrent-client/src/torrents/pipeio"
)

// EncryptionMode controls whether a session negotiates, tolerates, or
// refuses RC4 encryption.
type EncryptionMode = mse.Mode

const (
	Required       = mse.Required
	Preferred      = mse.Preferred
	ClearPreferred = mse.ClearPreferred
)

// TransportKind distinguishes the two transports the fallback ladder
// alternates across.
type TransportKind int

const (
	TCP TransportKind = iota
	UTP
)

func (t TransportKind) String() string {
	if t == UTP {
		return "utp"
	}
	return "tcp"
}

const (
	ProtocolName  = "\x13BitTorrent protocol"
	HandshakeLen  = 68
	PeerIDLen     = 20
	InfoHashLen   = 20
	HandshakeTimeout = 30 * time.Second

	// HandshakePrefixLen is the prefix/reserved/info-hash portion of the
	// 68-byte handshake, without the peer-id: AwaitingHandshake consumes
	// only this much, leaving the peer-id for AwaitingPeerID.
	HandshakePrefixLen = len(ProtocolName) + 8 + InfoHashLen
)

// Reserved-byte extension flag bits (BEP-4/BEP-10/BEP-5 positions).
const (
	flagLTEPByte    = 5
	flagLTEPBit     = 0x10
	flagFastExtByte = 7
	flagFastExtBit  = 0x04
	flagDHTByte     = 7
	flagDHTBit      = 0x01
)

// Extensions are the reserved-byte flags a plaintext BT handshake
// carries.
type Extensions struct {
	LTEP    bool
	FastExt bool
	DHT     bool
}

func (e Extensions) reserved() [8]byte {
	var r [8]byte
	if e.LTEP {
		r[flagLTEPByte] |= flagLTEPBit
	}
	if e.FastExt {
		r[flagFastExtByte] |= flagFastExtBit
	}
	if e.DHT {
		r[flagDHTByte] |= flagDHTBit
	}
	return r
}

func extensionsFromReserved(r [8]byte) Extensions {
	return Extensions{
		LTEP:    r[flagLTEPByte]&flagLTEPBit != 0,
		FastExt: r[flagFastExtByte]&flagFastExtBit != 0,
		DHT:     r[flagDHTByte]&flagDHTBit != 0,
	}
}

// TorrentInfo is the subset of torrent state the handshake engine needs
// in order to accept or continue a session, without depending on the
// torrents package directly.
type TorrentInfo struct {
	InfoHash [20]byte
	Running  bool
	IsSeed   bool
}

// TorrentLookup is satisfied by *torrents.Registry without an import
// cycle: torrents depends on handshake, not the other way around.
type TorrentLookup interface {
	ByInfoHash(hash [20]byte) (TorrentInfo, bool)
	ByObfuscated(obfHash [20]byte) (TorrentInfo, bool)
}

// PeerManager is satisfied by *peermgr.Manager.
type PeerManager interface {
	MarkUTPUnsupported(addr string)
	IsUTPUnsupported(addr string) bool
	MarkSeed(addr string)
	IsKnownSeed(addr string) bool
}

// Result is what a session's DoneFunc receives exactly once.
type Result struct {
	Success bool
	PeerID  [20]byte
	Pipe    *pipeio.Pipe
	Err     error

	// HaveReadAnything reports whether any bytes at all were ever read
	// from the peer, not just whether the handshake succeeded. The
	// fallback policy uses this to tell "peer never responded" apart
	// from "peer responded then the connection died".
	HaveReadAnything bool
}

// DoneFunc is invoked exactly once per session, successful or not.
type DoneFunc func(Result)
