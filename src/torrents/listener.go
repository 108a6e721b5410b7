package torrents

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/tatumon/bittorrent-client/src/torrents/handshake"
	"github.com/tatumon/bittorrent-client/src/torrents/peermgr"
)

// NewAcceptRateLimiter builds the limiter incoming connections must
// acquire a token from before a handshake session is even constructed,
// burst-sized to tolerate a tracker announce fanning out many
// simultaneous dials.
func NewAcceptRateLimiter(perSecond float64, burst int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Listen accepts incoming peer connections on addr and runs each
// through the handshake engine, printing a colorized summary of the
// outcome. It blocks until ctx is cancelled or the listener fails.
func Listen(ctx context.Context, addr string, reg *Registry, mgr *peermgr.Manager, mode handshake.EncryptionMode, limiter *rate.Limiter) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept failed: %w", err)
			}
		}

		if limiter != nil {
			grace, cancel := context.WithTimeout(ctx, acceptGrace)
			werr := limiter.Wait(grace)
			cancel()
			if werr != nil {
				logrus.Debugf("rejecting connection from %s: rate limited", conn.RemoteAddr())
				conn.Close()
				continue
			}
		}

		go acceptOne(conn, reg, mgr, mode)
	}
}

const acceptGrace = 250 * time.Millisecond

func acceptOne(conn net.Conn, reg *Registry, mgr *peermgr.Manager, mode handshake.EncryptionMode) {
	done := make(chan handshake.Result, 1)

	handshake.Accept(conn, handshake.TCP, mode, handshake.Extensions{}, reg, mgr, clientPeerIDBytes(),
		func(r handshake.Result) { done <- r }, nil)

	res := <-done
	if res.Success {
		color.New(color.FgGreen).Printf("handshake ok: %s (peer %x)\n", conn.RemoteAddr(), res.PeerID[:4])
		return
	}

	color.New(color.FgRed).Printf("handshake failed: %s: %v\n", conn.RemoteAddr(), res.Err)
}
