package handshake

import (
	"errors"
	"io"
	"net"
	"syscall"
	"testing"
)

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "i/o timeout" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

func TestIsTimeoutOrRefused(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"net timeout", fakeTimeoutErr{}, true},
		{"econnrefused", syscall.ECONNREFUSED, true},
		{"wrapped econnrefused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, true},
		{"unrelated error", errors.New("protocol violation"), false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := isTimeoutOrRefused(c.err); got != c.want {
				t.Fatalf("isTimeoutOrRefused(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}

func TestIncomingHandshakeNeverFallsBack(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	var infoHash [20]byte
	lookup := newFakeLookup(infoHash, true, false)
	mgr := newFakeMgr()

	calls := 0
	var results []Result
	var respID [20]byte
	h := Accept(serverConn, TCP, Preferred, Extensions{}, lookup, mgr, respID, func(r Result) {
		calls++
		results = append(results, r)
	}, nil)

	h.handleTransportError(fakeTimeoutErr{})

	if calls != 1 {
		t.Fatalf("done callback invoked %d times, want exactly 1", calls)
	}
	if results[0].Success {
		t.Fatalf("incoming session should not succeed after a transport error")
	}
}

func TestOutgoingEncryptedTCPFailureGivesUpWithoutUTP(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	// net.Pipe is unbuffered: Dial's initial Ya write blocks until the
	// other end reads it
	go io.Copy(io.Discard, serverConn)

	var infoHash [20]byte
	lookup := newFakeLookup(infoHash, true, false)
	mgr := newFakeMgr()

	var peerID [20]byte
	calls := 0
	var results []Result
	h, err := Dial(clientConn, TCP, infoHash, Required, Extensions{}, lookup, mgr, peerID, func(r Result) {
		calls++
		results = append(results, r)
	}, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	// Required mode must never fall back to plaintext, and there is no
	// UTP attempt to retry into from a TCP session: the ladder is
	// exhausted immediately.
	h.handleTransportError(fakeTimeoutErr{})

	if calls != 1 {
		t.Fatalf("done callback invoked %d times, want exactly 1", calls)
	}
	if results[0].Success {
		t.Fatalf("Required-mode session should not succeed via plaintext fallback")
	}
}
