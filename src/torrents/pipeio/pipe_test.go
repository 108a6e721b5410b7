package pipeio

import (
	"net"
	"testing"
	"time"

	"golang.org/x/crypto/rc4"
)

func TestPeekDrainRaw(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	p := New(server)
	p.Start()

	done := make(chan struct{})
	p.SetCallbacks(func() { close(done) }, func(error) {})

	go client.Write([]byte("hello!"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for readable callback")
	}

	peeked, ok := p.PeekRaw(5)
	if !ok || string(peeked) != "hello" {
		t.Fatalf("PeekRaw = %q, %v", peeked, ok)
	}

	drained := p.DrainRaw(5)
	if string(drained) != "hello" {
		t.Fatalf("DrainRaw = %q", drained)
	}

	if p.Buffered() != 1 {
		t.Fatalf("Buffered() = %d, want 1", p.Buffered())
	}
}

func TestDrainDecryptsAtConsumeTime(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	key := []byte("0123456789abcdef")
	encStream, _ := rc4.NewCipher(key)
	decStream, _ := rc4.NewCipher(key)

	p := New(server)
	p.Start()
	p.SetCallbacks(func() {}, func(error) {})

	plain := []byte("wire message")
	ct := make([]byte, len(plain))
	encStream.XORKeyStream(ct, plain)

	go client.Write(ct)
	time.Sleep(50 * time.Millisecond)

	// mode flips to RC4 only now, after the ciphertext already arrived
	p.SetDecryptStream(decStream)
	p.SetMode(EncRC4)

	got, err := p.Drain(len(plain))
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if string(got) != string(plain) {
		t.Fatalf("Drain = %q, want %q", got, plain)
	}
}
