package handshake

import (
	"errors"
	"net"
	"syscall"

	"github.com/tatumon/bittorrent-client/src/torrents/pipeio"
)

// handleTransportError implements the fallback policy: try UTP+encrypted,
// then TCP+encrypted, then TCP+plaintext, giving up once that ladder is
// exhausted. UTP+plaintext is never attempted: a peer reachable at all
// for plaintext almost always carries MSE too, and no mainstream client
// pairs UTP with a plaintext-only handshake.
func (h *Handshake) handleTransportError(transportErr error) {
	if h.incoming {
		// an incoming connection has nowhere else to fall back to: the
		// peer chose the transport, we only chose to accept it
		h.failLocked(transportErr)
		return
	}

	addr := h.pipe.Addr().String()
	resendPlain := false

	if h.transport == UTP && (h.state == AwaitingYB || (h.state == AwaitingHandshake && !h.haveReadAnything)) {
		// the peer likely doesn't speak UTP at all
		if isTimeoutOrRefused(transportErr) && h.haveInfoHash {
			h.mgr.MarkUTPUnsupported(addr)
		}

		if h.state == AwaitingYB {
			if reconErr := h.pipe.Reconnect(HandshakeTimeout); reconErr == nil {
				h.transport = TCP
				h.resetForRetry()
				h.pipe.SetMode(pipeio.EncNone)
				if err := h.sendYa(); err != nil {
					h.failLocked(err)
					return
				}
				h.state = AwaitingYB
				return
			}
		} else {
			// we'd sent a plaintext (or completed-encrypted) UTP
			// handshake and the peer vanished before sending anything
			// back; retry as plaintext TCP
			resendPlain = true
		}
	}

	if h.transport == TCP && h.state == AwaitingYB {
		resendPlain = true
	}

	if resendPlain && h.mode != Required {
		if reconErr := h.pipe.Reconnect(HandshakeTimeout); reconErr == nil {
			h.transport = TCP
			h.mode = ClearPreferred
			h.resetForRetry()
			h.pipe.SetMode(pipeio.EncNone)
			h.state = AwaitingHandshake
			if err := h.sendBTHandshake(); err != nil {
				h.failLocked(err)
				return
			}
			return
		}
	}

	h.failLocked(transportErr)
}

func (h *Handshake) resetForRetry() {
	h.haveSentBTHandshake = false
	h.havePeerID = false
	h.padCLen, h.padDLen, h.iaLen = 0, 0, 0
	h.cryptoProvide, h.cryptoSelect = 0, 0
}

// isTimeoutOrRefused reports whether err looks like the remote end
// never answered at all, as opposed to answering and then violating
// the protocol.
func isTimeoutOrRefused(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
