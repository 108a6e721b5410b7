package handshake

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tatumon/bittorrent-client/src/torrents/mse"
	"github.com/tatumon/bittorrent-client/src/torrents/pipeio"
)

// Handshake drives a single peer connection from the moment its
// transport is established until ordinary wire-protocol messages may
// flow. Its state machine only ever runs on the pipe's read goroutine;
// completion can also be triggered by Abort or the timeout timer, and
// runs at most once. The registry and peer manager it references are
// the only state shared across sessions, and those are already safe
// for concurrent use.
type Handshake struct {
	pipe   *pipeio.Pipe
	lookup TorrentLookup
	mgr    PeerManager

	mode      EncryptionMode
	ext       Extensions
	transport TransportKind
	incoming  bool

	state State

	haveSentBTHandshake bool
	havePeerID          bool
	haveReadAnything    bool

	padCLen, padDLen uint16
	iaLen            uint16
	cryptoProvide    uint32
	cryptoSelect     uint32

	myPriv mse.PrivateKey
	sharedS [mse.KeyLen]byte
	myReq1  [mse.ShaLen]byte

	infoHash     [20]byte
	haveInfoHash bool
	ourPeerID    [20]byte

	doneCB       DoneFunc
	userData     any
	completeOnce sync.Once
	timer        *time.Timer
}

func newSession(conn net.Conn, transport TransportKind, mode EncryptionMode, ext Extensions, lookup TorrentLookup, mgr PeerManager, ourPeerID [20]byte, incoming bool, done DoneFunc, userData any) *Handshake {
	h := &Handshake{
		pipe:      pipeio.New(conn),
		lookup:    lookup,
		mgr:       mgr,
		mode:      mode,
		ext:       ext,
		transport: transport,
		incoming:  incoming,
		ourPeerID: ourPeerID,
		doneCB:    done,
		userData:  userData,
	}

	h.pipe.SetCallbacks(h.onReadable, h.onError)
	h.timer = time.AfterFunc(HandshakeTimeout, h.onTimeout)

	return h
}

// Accept begins a responder session on an already-accepted connection.
func Accept(conn net.Conn, transport TransportKind, mode EncryptionMode, ext Extensions, lookup TorrentLookup, mgr PeerManager, ourPeerID [20]byte, done DoneFunc, userData any) *Handshake {
	h := newSession(conn, transport, mode, ext, lookup, mgr, ourPeerID, true, done, userData)
	h.state = AwaitingHandshake
	h.pipe.Start()
	return h
}

// Dial begins an initiator session on an already-dialed connection for
// infoHash. For ClearPreferred it sends the plaintext BT handshake
// immediately; otherwise it starts the MSE exchange with Ya.
func Dial(conn net.Conn, transport TransportKind, infoHash [20]byte, mode EncryptionMode, ext Extensions, lookup TorrentLookup, mgr PeerManager, ourPeerID [20]byte, done DoneFunc, userData any) (*Handshake, error) {
	info, ok := lookup.ByInfoHash(infoHash)
	if !ok || !info.Running {
		return nil, ErrUnknownHash
	}

	h := newSession(conn, transport, mode, ext, lookup, mgr, ourPeerID, false, done, userData)
	h.infoHash = infoHash
	h.haveInfoHash = true

	if mode == ClearPreferred {
		h.state = AwaitingHandshake
		if err := h.sendBTHandshake(); err != nil {
			return nil, err
		}
	} else {
		if err := h.sendYa(); err != nil {
			return nil, err
		}
		h.state = AwaitingYB
	}

	h.pipe.Start()
	return h, nil
}

// Abort forces the session to finish as a failure right away.
func (h *Handshake) Abort() {
	h.completeLocked(Result{Success: false, Err: ErrAborted})
}

// StealIO hands the underlying pipe to the caller; only meaningful after
// a successful completion, when the handshake engine is done with it.
func (h *Handshake) StealIO() *pipeio.Pipe {
	return h.pipe
}

// GetAddr returns the remote endpoint's IP and port.
func (h *Handshake) GetAddr() (net.IP, int) {
	addr, ok := h.pipe.Addr().(*net.TCPAddr)
	if !ok {
		return nil, 0
	}
	return addr.IP, addr.Port
}

func (h *Handshake) completeLocked(res Result) {
	h.completeOnce.Do(func() {
		h.pipe.ClearCallbacks()
		h.timer.Stop()

		if res.Success {
			logrus.Debugf("handshake with %s completed", h.pipe.Addr())
		} else {
			logrus.Warnf("handshake with %s failed: %v", h.pipe.Addr(), res.Err)
		}

		res.Pipe = h.pipe
		res.HaveReadAnything = h.haveReadAnything
		if h.doneCB != nil {
			h.doneCB(res)
		}
	})
}

func (h *Handshake) failLocked(err error) {
	h.completeLocked(Result{Success: false, Err: err})
}

func (h *Handshake) succeedLocked(peerID [20]byte) {
	h.completeLocked(Result{Success: true, PeerID: peerID})
}

func (h *Handshake) onTimeout() {
	h.failLocked(ErrTimeout)
}

// onReadable is the reactor: it steps the state machine until it either
// needs more bytes than are buffered, or reaches a terminal state.
func (h *Handshake) onReadable() {
	for {
		progressed, terminal, err := h.step()
		if err != nil {
			h.failLocked(err)
			return
		}
		if terminal {
			return
		}
		if !progressed {
			return
		}
	}
}

func (h *Handshake) onError(err error) {
	h.handleTransportError(err)
}

// step dispatches on the current state and returns whether it made
// progress, whether the session is now finished, and any error.
func (h *Handshake) step() (progressed bool, terminal bool, err error) {
	switch h.state {
	case AwaitingHandshake:
		return h.stepAwaitingHandshake()
	case AwaitingPeerID:
		return h.stepAwaitingPeerID()
	case AwaitingYA:
		return h.stepAwaitingYA()
	case AwaitingPadA:
		return h.stepAwaitingPadA()
	case AwaitingCryptoProvide:
		return h.stepAwaitingCryptoProvide()
	case AwaitingPadC:
		return h.stepAwaitingPadC()
	case AwaitingIA:
		return h.stepAwaitingIA()
	case AwaitingYB:
		return h.stepAwaitingYB()
	case AwaitingVC:
		return h.stepAwaitingVC()
	case AwaitingCryptoSelect:
		return h.stepAwaitingCryptoSelect()
	case AwaitingPadD:
		return h.stepAwaitingPadD()
	default:
		return false, true, fmt.Errorf("handshake: unknown state %v", h.state)
	}
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
