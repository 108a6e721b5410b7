package handshake

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/tatumon/bittorrent-client/src/torrents/mse"
)

type fakeLookup struct {
	byHash       map[[20]byte]TorrentInfo
	byObfuscated map[[20]byte]TorrentInfo
}

func newFakeLookup(infoHash [20]byte, running, seed bool) *fakeLookup {
	info := TorrentInfo{InfoHash: infoHash, Running: running, IsSeed: seed}
	obf := mse.Req2(infoHash)

	return &fakeLookup{
		byHash:       map[[20]byte]TorrentInfo{infoHash: info},
		byObfuscated: map[[20]byte]TorrentInfo{obf: info},
	}
}

func (f *fakeLookup) ByInfoHash(hash [20]byte) (TorrentInfo, bool) {
	info, ok := f.byHash[hash]
	return info, ok
}

func (f *fakeLookup) ByObfuscated(obf [20]byte) (TorrentInfo, bool) {
	info, ok := f.byObfuscated[obf]
	return info, ok
}

type fakeMgr struct {
	utpUnsupported map[string]bool
	seeds          map[string]bool
}

func newFakeMgr() *fakeMgr {
	return &fakeMgr{utpUnsupported: map[string]bool{}, seeds: map[string]bool{}}
}

func (m *fakeMgr) MarkUTPUnsupported(addr string)   { m.utpUnsupported[addr] = true }
func (m *fakeMgr) IsUTPUnsupported(addr string) bool { return m.utpUnsupported[addr] }
func (m *fakeMgr) MarkSeed(addr string)             { m.seeds[addr] = true }
func (m *fakeMgr) IsKnownSeed(addr string) bool     { return m.seeds[addr] }

func waitResult(t *testing.T, ch chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handshake completion")
	}
	return Result{}
}

func TestRoundTripPlaintext(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	var infoHash [20]byte
	copy(infoHash[:], "aaaaaaaaaaaaaaaaaaaa")

	var initiatorID, responderID [20]byte
	copy(initiatorID[:], "initiator-peer-id-01")
	copy(responderID[:], "responder-peer-id-01")

	lookup := newFakeLookup(infoHash, true, false)
	mgr := newFakeMgr()

	initiatorDone := make(chan Result, 1)
	responderDone := make(chan Result, 1)

	respH := Accept(serverConn, TCP, ClearPreferred, Extensions{}, lookup, mgr, responderID,
		func(r Result) { initiatorDone <- r }, nil)
	_ = respH

	initH, err := Dial(clientConn, TCP, infoHash, ClearPreferred, Extensions{}, lookup, mgr, initiatorID,
		func(r Result) { responderDone <- r }, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	_ = initH

	rInit := waitResult(t, responderDone)
	rResp := waitResult(t, initiatorDone)

	if !rInit.Success {
		t.Fatalf("initiator side failed: %v", rInit.Err)
	}
	if !rResp.Success {
		t.Fatalf("responder side failed: %v", rResp.Err)
	}

	if rInit.PeerID != responderID {
		t.Fatalf("initiator learned wrong peer id")
	}
	if rResp.PeerID != initiatorID {
		t.Fatalf("responder learned wrong peer id")
	}
}

func TestRoundTripEncryptedPreferred(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	var infoHash [20]byte
	copy(infoHash[:], "bbbbbbbbbbbbbbbbbbbb")

	var initiatorID, responderID [20]byte
	copy(initiatorID[:], "initiator-peer-id-02")
	copy(responderID[:], "responder-peer-id-02")

	lookup := newFakeLookup(infoHash, true, false)
	mgr := newFakeMgr()

	initiatorDone := make(chan Result, 1)
	responderDone := make(chan Result, 1)

	Accept(serverConn, TCP, Preferred, Extensions{}, lookup, mgr, responderID,
		func(r Result) { initiatorDone <- r }, nil)

	_, err := Dial(clientConn, TCP, infoHash, Preferred, Extensions{}, lookup, mgr, initiatorID,
		func(r Result) { responderDone <- r }, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	rInit := waitResult(t, responderDone)
	rResp := waitResult(t, initiatorDone)

	if !rInit.Success {
		t.Fatalf("initiator side failed: %v", rInit.Err)
	}
	if !rResp.Success {
		t.Fatalf("responder side failed: %v", rResp.Err)
	}
	if rInit.PeerID != responderID || rResp.PeerID != initiatorID {
		t.Fatalf("peer ids mismatched after encrypted round trip")
	}
}

func TestDialUnknownInfoHash(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	var infoHash [20]byte
	lookup := newFakeLookup(infoHash, false, false)
	mgr := newFakeMgr()

	var peerID [20]byte
	_, err := Dial(clientConn, TCP, infoHash, ClearPreferred, Extensions{}, lookup, mgr, peerID, func(Result) {}, nil)
	if err != ErrUnknownHash {
		t.Fatalf("Dial with not-running torrent: got %v, want ErrUnknownHash", err)
	}
}

func TestAbortIsIdempotent(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	// net.Pipe is unbuffered: Dial's initial write blocks until the
	// other end reads it
	go io.Copy(io.Discard, serverConn)

	var infoHash [20]byte
	lookup := newFakeLookup(infoHash, true, false)
	mgr := newFakeMgr()

	calls := 0
	var peerID [20]byte
	h, err := Dial(clientConn, TCP, infoHash, ClearPreferred, Extensions{}, lookup, mgr, peerID,
		func(Result) { calls++ }, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	h.Abort()
	h.Abort()
	h.Abort()

	if calls != 1 {
		t.Fatalf("done callback invoked %d times, want exactly 1", calls)
	}
}

func TestExtensionsRoundTrip(t *testing.T) {
	ext := Extensions{LTEP: true, FastExt: false, DHT: true}
	got := extensionsFromReserved(ext.reserved())
	if got != ext {
		t.Fatalf("extensions round trip mismatch: got %+v, want %+v", got, ext)
	}
}
