package torrents

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tatumon/bittorrent-client/logger"
	"github.com/sirupsen/logrus"

	"github.com/tatumon/bittorrent-client/src/torrents/handshake"
	"github.com/tatumon/bittorrent-client/src/torrents/peermgr"
	"github.com/tatumon/bittorrent-client/src/torrents/pipeio"
)

const maxReqBacklog = 5

// EncryptionPolicy governs whether outgoing handshakes require,
// prefer, or avoid MSE. Set from main.go's -encryption flag.
var EncryptionPolicy handshake.EncryptionMode = handshake.Preferred

func clientPeerIDBytes() [20]byte {
	var id [20]byte
	copy(id[:], []byte(getClientPeerID()))
	return id
}

/*
*
The user is also a peer. This is his ID

It gets generated only once when calling getClientPeerID
*/
var clientPeerID string

/*
*
This function MUST only be called by getClientPeerID
*/
func genClientPeerID() {
	prefix := []byte("-TM0001-")

	randSlice := make([]byte, 12)
	_, _ = rand.Read(randSlice)

	clientPeerID = string(append(prefix, randSlice...))
}

func getClientPeerID() string {
	if len(clientPeerID) == 0 {
		genClientPeerID()
		return clientPeerID
	}

	return clientPeerID
}

type Peer struct {
	IP   net.IP
	Port uint16
}

func (p *Peer) String() string {
	return fmt.Sprintf("%s:%d", p.IP, p.Port)
}

func (p *Peer) PrintJson() {
	j, _ := json.MarshalIndent(&p, "", "\t")
	fmt.Println(string(j))
}

/*
*
The peers are defined by 6-byte strings, where the first 4 define the IP and the last 2 the port.
Both using network byte order (big-endian)
*/
func peersFromTrackerResponse(t *trackerResponse) ([]Peer, error) {
	peersBin := []byte(t.Peers)

	if len(peersBin) == 0 {
		return nil, errors.New("tracker response doesn't contain peers")
	}

	const chunkSize = 6 // 6 bytes per peer
	totalPeers := len(peersBin) / 6
	if len(peersBin)%chunkSize != 0 {
		return nil, errors.New("received malformed peers")
	}

	peers := make([]Peer, totalPeers)
	for i := range totalPeers {
		offset := i * chunkSize
		peers[i].IP = peersBin[offset : offset+4]
		peers[i].Port = binary.BigEndian.Uint16(peersBin[offset+4 : offset+6])
	}

	return peers, nil
}

func PrintPeersJson(peers []Peer) {
	for _, peer := range peers {
		peer.PrintJson()
	}
}

type PeerConn struct {
	peer       Peer
	pipe       *pipeio.Pipe
	unchoked   bool
	interested bool
	reqBacklog int
	bitfield   *Bitfield
}

func (p *PeerConn) read() (*Message, error) {
	msg, err := MessageFromStream(p.pipe)
	if err != nil {
		return nil, fmt.Errorf("failed to read from connection: %w", err)
	}

	if msg == nil {
		logger.LogRecvMessage("received message of type 'keep alive' from %s", p.peer.String())
		return nil, nil
	} else {
		logger.LogRecvMessage("received message of type '%s' from %s", msg.ID.String(), p.peer.String())
	}

	switch msg.ID {
	case MsgChoke:
		p.unchoked = false
	case MsgUnchoke:
		p.unchoked = true
	case MsgBitField:
		p.bitfield = (*Bitfield)(&msg.Payload)
	case MsgHave:
		if p.bitfield != nil {
			p.bitfield.SetPiece(int(binary.BigEndian.Uint32(msg.Payload)))
		}
	// I dont expect to receive other type of messages
	}

	return msg, nil
}

func (p *PeerConn) sendInterestedMsg() error {
	msg := Message{
		ID: MsgInterested,
	}

	m := msg.Serialize()
	if _, err := p.pipe.Write(m); err != nil {
		return fmt.Errorf("failed to write to connection: %w", err)
	}

	logger.LogSentMessage("'%s' message sent to peer %s", msg.ID.String(), p.peer.String())

	return nil
}

func (p *PeerConn) sendUnchoke() error {
	msg := Message{
		ID: MsgUnchoke,
	}

	m := msg.Serialize()
	if _, err := p.pipe.Write(m); err != nil {
		return fmt.Errorf("failed to write to connection: %w", err)
	}

	logger.LogSentMessage("'%s' message sent to peer %s", msg.ID.String(), p.peer.String())

	return nil
}

func (p *PeerConn) sendRequestMsg(pieceIndex uint32, beginOffset uint32, blockLen uint32) error {
	payloadBuf := make([]byte, 12)
	binary.BigEndian.PutUint32(payloadBuf[0:4], pieceIndex)
	binary.BigEndian.PutUint32(payloadBuf[4:8], beginOffset)
	binary.BigEndian.PutUint32(payloadBuf[8:12], blockLen)

	msg := Message{
		ID: MsgRequest,
		Payload: payloadBuf,
	}

	m := msg.Serialize()
	if _, err := p.pipe.Write(m); err != nil {
		return fmt.Errorf("failed to write to connection: %w", err)
	}

	logger.LogSentMessage("'%s' message sent to peer %s", msg.ID.String(), p.peer.String())

	return nil
}

// connectToPeer dials peer over TCP and runs the MSE-capable handshake
// engine to completion before handing back a PeerConn ready to exchange
// ordinary wire messages.
func connectToPeer(torr *Torrent, peer Peer, reg *Registry, mgr *peermgr.Manager) (*PeerConn, error) {
	conn, err := net.DialTimeout("tcp", peer.String(), 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to make TCP connection: %w", err)
	}

	resultCh := make(chan handshake.Result, 1)

	_, err = handshake.Dial(conn, handshake.TCP, [20]byte(torr.InfoHash), EncryptionPolicy,
		handshake.Extensions{}, reg, mgr, clientPeerIDBytes(),
		func(r handshake.Result) { resultCh <- r }, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failure at protocol handshake: %w", err)
	}

	res := <-resultCh
	if !res.Success {
		return nil, fmt.Errorf("failure at protocol handshake: %w", res.Err)
	}

	pc := &PeerConn{
		peer:       peer,
		pipe:       res.Pipe,
		unchoked:   false,
		interested: false,
	}

	for !pc.unchoked {
		_, err := pc.read()
		if err != nil {
			return nil, fmt.Errorf("failed to wait for bitfield: %w", err)
		}
	}

	return pc, nil
}

/*
If workCtx is done, the channel is not yet closed, but no more peers are added to it from this function.
*/
func connectPeersAsync(torr *Torrent, peers []Peer, reg *Registry, mgr *peermgr.Manager, workCtx context.Context) chan *PeerConn {
	channel := make(chan *PeerConn, len(peers))
	peersConnectedTotal := atomic.Uint64{}
	connsAttempts := atomic.Uint64{}
	totalPeers := len(peers)

	peersConnsWorkCtx, peersConnsWorkCtxCancel := context.WithCancel(workCtx)

	// Channel cleanup
	go func() {
		closing := sync.OnceFunc(func() { close(channel) })

		// "channel" should be closed here when either workCtx is done or all peers are processed
		select {
		case <-workCtx.Done():
			peersConnsWorkCtxCancel()
			closing()
			return
		case <-peersConnsWorkCtx.Done():
			closing()
			logrus.Debug("connected to all available peers")
			return
		}
	}()

	for _, p := range peers {
		peer := p
		go func() {
			defer func() {
				connsAttempts.Add(1)
				if connsAttempts.Load() == uint64(totalPeers) {
					peersConnsWorkCtxCancel()
				}
			}()

			pConn, err := connectToPeer(torr, peer, reg, mgr)
			if err != nil {
				logrus.Warnf("failed to connect to peer %s: %s", peer.String(), err.Error())
				return
			}

			select {
			case <-workCtx.Done():
				return
			case channel <- pConn:
				peersConnectedTotal.Add(1)
				logrus.Debugf("%d/%d peers connected", peersConnectedTotal.Load(), totalPeers)
			}
		}()
	}

	if totalPeers == 0 {
		peersConnsWorkCtxCancel()
	}

	return channel
}
