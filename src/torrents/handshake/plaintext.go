package handshake

import "github.com/tatumon/bittorrent-client/src/torrents/pipeio"

func (h *Handshake) stepAwaitingHandshake() (progressed, terminal bool, err error) {
	// Once the pipe is in RC4 mode the plaintext-prefix peek below can
	// never match: the handshake that follows MSE negotiation is
	// ciphertext from the first byte. There's nothing left to sniff at
	// this point, so read it straight through the decrypting Drain.
	if h.pipe.Mode() == pipeio.EncRC4 {
		h.haveReadAnything = true
		return h.readBTHandshake()
	}

	prefix, ok := h.pipe.PeekRaw(len(ProtocolName))
	if !ok {
		return false, false, nil
	}
	h.haveReadAnything = true

	if string(prefix) == ProtocolName {
		if h.mode == Required {
			return false, true, ErrEncryptionRequired
		}
		return h.readBTHandshake()
	}

	if h.incoming && !h.pipe.KnownEncrypted() {
		h.state = AwaitingYA
		return true, false, nil
	}

	return false, true, ErrBadPrefix
}

func (h *Handshake) readBTHandshake() (progressed, terminal bool, err error) {
	if h.pipe.Buffered() < HandshakePrefixLen {
		return false, false, nil
	}

	raw, derr := h.pipe.Drain(HandshakePrefixLen)
	if derr != nil {
		return false, true, derr
	}

	if string(raw[0:len(ProtocolName)]) != ProtocolName {
		return false, true, ErrBadPrefix
	}

	var reserved [8]byte
	copy(reserved[:], raw[20:28])
	h.ext = extensionsFromReserved(reserved)

	var peerInfoHash [20]byte
	copy(peerInfoHash[:], raw[28:48])

	if h.incoming {
		if !h.haveInfoHash {
			info, ok := h.lookup.ByInfoHash(peerInfoHash)
			if !ok || !info.Running {
				return false, true, ErrUnknownHash
			}
			h.infoHash = peerInfoHash
			h.haveInfoHash = true
			h.pipe.BindInfoHash(peerInfoHash)
		} else if peerInfoHash != h.infoHash {
			return false, true, ErrUnknownHash
		}
	} else if peerInfoHash != h.infoHash {
		return false, true, ErrUnknownHash
	}

	if !h.haveSentBTHandshake {
		if err := h.sendBTHandshake(); err != nil {
			return false, true, err
		}
	}

	h.state = AwaitingPeerID
	return true, false, nil
}

func (h *Handshake) buildBTHandshakeBytes() []byte {
	out := make([]byte, 0, HandshakeLen)
	out = append(out, []byte(ProtocolName)...)
	reserved := h.ext.reserved()
	out = append(out, reserved[:]...)
	out = append(out, h.infoHash[:]...)
	out = append(out, h.ourPeerID[:]...)
	return out
}

func (h *Handshake) sendBTHandshake() error {
	if _, err := h.pipe.Write(h.buildBTHandshakeBytes()); err != nil {
		return err
	}
	h.haveSentBTHandshake = true
	return nil
}

// parseBTHandshakeBytes pulls the reserved flags, info-hash and peer-id
// out of a full 68-byte plaintext handshake, wherever it came from
// (read directly off the wire, or decrypted out of an MSE IA block).
func parseBTHandshakeBytes(raw []byte) (Extensions, [20]byte, [20]byte, error) {
	var infoHash, peerID [20]byte

	if len(raw) != HandshakeLen || string(raw[0:len(ProtocolName)]) != ProtocolName {
		return Extensions{}, infoHash, peerID, ErrBadPrefix
	}

	var reserved [8]byte
	copy(reserved[:], raw[20:28])
	copy(infoHash[:], raw[28:48])
	copy(peerID[:], raw[48:68])

	return extensionsFromReserved(reserved), infoHash, peerID, nil
}

func (h *Handshake) stepAwaitingPeerID() (progressed, terminal bool, err error) {
	if h.pipe.Buffered() < PeerIDLen {
		return false, false, nil
	}

	raw, derr := h.pipe.Drain(PeerIDLen)
	if derr != nil {
		return false, true, derr
	}

	var peerID [20]byte
	copy(peerID[:], raw)
	h.havePeerID = true

	if peerID == h.ourPeerID {
		return false, true, ErrSelfConnect
	}

	h.succeedLocked(peerID)
	return false, true, nil
}
