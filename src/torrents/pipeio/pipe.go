// Package pipeio buffers bytes read off a net.Conn and applies, at a
// mutable boundary the caller controls, RC4 encryption/decryption to
// them. It is the "byte pipe" the handshake engine borrows a reference
// to for its lifetime: raw peek/drain bypass decryption entirely (used
// for plaintext-prefix sniffing and for the MSE VC resync, which must
// try candidate decryptions on its own terms), while the decrypting
// Drain applies whatever stream is installed at the moment the bytes
// are consumed, not at the moment they arrived.
package pipeio

import (
	"crypto/cipher"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// EncMode selects whether Drain applies RC4 decryption.
type EncMode int

const (
	EncNone EncMode = iota
	EncRC4
)

// Pipe is safe for the callbacks it invokes to call back into it; all
// state is guarded by mu.
type Pipe struct {
	mu   sync.Mutex
	cond *sync.Cond
	conn net.Conn
	buf  []byte

	encMode   EncMode
	encStream cipher.Stream
	decStream cipher.Stream

	onReadable func()
	onError    func(error)

	infoHash      [20]byte
	haveInfoHash  bool
	encryptedKnow bool

	closed  bool
	readErr error
}

// New wraps conn. Start must be called before bytes are consumed.
func New(conn net.Conn) *Pipe {
	p := &Pipe{conn: conn}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// SetCallbacks installs the readable/error callbacks. Both run on the
// pipe's own read goroutine; neither may block on anything the pipe
// itself needs to make progress.
func (p *Pipe) SetCallbacks(onReadable func(), onError func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onReadable = onReadable
	p.onError = onError
}

// ClearCallbacks detaches both callbacks, used once a handshake session
// has reached a terminal state so the read goroutine stops driving it.
func (p *Pipe) ClearCallbacks() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onReadable = nil
	p.onError = nil
}

// Start launches the background read loop. Safe to call once.
func (p *Pipe) Start() {
	go p.readLoop()
}

func (p *Pipe) readLoop() {
	tmp := make([]byte, 4096)
	for {
		n, err := p.conn.Read(tmp)
		if n > 0 {
			p.mu.Lock()
			p.buf = append(p.buf, tmp[:n]...)
			cb := p.onReadable
			p.cond.Broadcast()
			p.mu.Unlock()

			if cb != nil {
				cb()
			}
		}

		if err != nil {
			p.mu.Lock()
			p.readErr = err
			cb := p.onError
			p.cond.Broadcast()
			p.mu.Unlock()

			if cb != nil {
				cb(err)
			}
			return
		}
	}
}

// Read implements io.Reader by blocking until at least one byte is
// buffered, then draining (and decrypting, if a stream is installed)
// up to len(b) bytes. This is how a caller that has been handed the
// pipe after a successful handshake (steal_io) keeps reading through
// whatever encryption the handshake negotiated, instead of having to
// unwrap back down to the bare connection.
func (p *Pipe) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.buf) == 0 && p.readErr == nil {
		p.cond.Wait()
	}

	if len(p.buf) == 0 {
		return 0, p.readErr
	}

	n := len(b)
	if n > len(p.buf) {
		n = len(p.buf)
	}

	out := p.drainLocked(n)
	if p.encMode == EncRC4 && p.decStream != nil {
		p.decStream.XORKeyStream(out, out)
	}
	copy(b, out)

	return n, nil
}

// PeekRaw returns the first n buffered bytes without consuming them or
// decrypting them. ok is false if fewer than n bytes are buffered.
func (p *Pipe) PeekRaw(n int) (out []byte, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buf) < n {
		return nil, false
	}

	out = make([]byte, n)
	copy(out, p.buf[:n])
	return out, true
}

// Buffered returns how many raw bytes are currently available.
func (p *Pipe) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

// DrainRaw removes and returns the first n buffered bytes without
// decrypting them.
func (p *Pipe) DrainRaw(n int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.drainLocked(n)
}

func (p *Pipe) drainLocked(n int) []byte {
	out := make([]byte, n)
	copy(out, p.buf[:n])
	p.buf = p.buf[n:]
	return out
}

// Drain removes and returns the first n buffered bytes, decrypting them
// with whatever decrypt stream and mode are installed right now.
func (p *Pipe) Drain(n int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buf) < n {
		return nil, fmt.Errorf("pipeio: drain of %d bytes requested, only %d buffered", n, len(p.buf))
	}

	out := p.drainLocked(n)

	if p.encMode == EncRC4 && p.decStream != nil {
		p.decStream.XORKeyStream(out, out)
	}

	return out, nil
}

// Write encrypts p (if a mode and encrypt stream are installed) and
// writes it to the underlying connection.
func (p *Pipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	mode := p.encMode
	stream := p.encStream
	p.mu.Unlock()

	out := b
	if mode == EncRC4 && stream != nil {
		out = make([]byte, len(b))
		stream.XORKeyStream(out, b)
	}

	return p.conn.Write(out)
}

// WriteRaw writes b to the underlying connection unencrypted,
// regardless of the current mode.
func (p *Pipe) WriteRaw(b []byte) (int, error) {
	return p.conn.Write(b)
}

// Mode reports whether Drain/Write currently apply RC4. Once it
// reports EncRC4, every subsequent read is ciphertext: there is no
// plaintext prefix left to sniff.
func (p *Pipe) Mode() EncMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encMode
}

// SetMode switches whether Drain/Write apply RC4.
func (p *Pipe) SetMode(mode EncMode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.encMode = mode
}

// SetDecryptStream installs the stream Drain applies on consume. Kept
// separate from SetEncryptStream so the VC resync step can replace only
// the decrypt side once it has found the right byte alignment.
func (p *Pipe) SetDecryptStream(s cipher.Stream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.decStream = s
}

// SetEncryptStream installs the stream Write applies.
func (p *Pipe) SetEncryptStream(s cipher.Stream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.encStream = s
}

// BindInfoHash records which torrent this pipe's handshake resolved to.
func (p *Pipe) BindInfoHash(hash [20]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.infoHash = hash
	p.haveInfoHash = true
}

// InfoHash returns the bound info-hash, if any.
func (p *Pipe) InfoHash() ([20]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.infoHash, p.haveInfoHash
}

// MarkEncryptedKnown records that this connection has been positively
// identified as speaking MSE, so a later plaintext-prefix peek must not
// be reinterpreted as "peer wants cleartext after all".
func (p *Pipe) MarkEncryptedKnown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.encryptedKnow = true
}

// KnownEncrypted reports whether MarkEncryptedKnown was ever called.
func (p *Pipe) KnownEncrypted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encryptedKnow
}

// Conn returns the underlying connection.
func (p *Pipe) Conn() net.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

// Addr returns the remote address of the underlying connection.
func (p *Pipe) Addr() net.Addr {
	return p.Conn().RemoteAddr()
}

// Close tears down the underlying connection.
func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.readErr == nil {
		p.readErr = io.ErrClosedPipe
	}
	p.cond.Broadcast()

	return p.conn.Close()
}

// Reconnect closes the current connection and re-dials the same remote
// address over TCP, resetting all buffered state and encryption mode.
// Used by the fallback ladder to retry a handshake over a different
// transport/encryption combination.
func (p *Pipe) Reconnect(timeout time.Duration) error {
	addr := p.Addr()

	p.mu.Lock()
	_ = p.conn.Close()
	p.mu.Unlock()

	conn, err := net.DialTimeout("tcp", addr.String(), timeout)
	if err != nil {
		return fmt.Errorf("pipeio: reconnect to %s failed: %w", addr, err)
	}

	p.mu.Lock()
	p.conn = conn
	p.buf = nil
	p.encMode = EncNone
	p.encStream = nil
	p.decStream = nil
	p.closed = false
	p.readErr = nil
	p.mu.Unlock()

	// the old readLoop goroutine exited when the old conn errored out;
	// the new connection needs its own.
	p.Start()

	return nil
}
