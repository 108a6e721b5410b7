package torrents

import (
	"sync"

	"github.com/tatumon/bittorrent-client/src/torrents/handshake"
	"github.com/tatumon/bittorrent-client/src/torrents/mse"
)

// Registry is the torrent lookup the handshake engine consults: by
// plain info-hash (plaintext path and the IA path) and by the
// obfuscated hash SHA1("req2", SKEY) the MSE responder path recovers
// before it knows which torrent it's talking about.
type Registry struct {
	mu           sync.RWMutex
	byHash       map[Sha1Checksum]*Torrent
	byObfuscated map[[20]byte]*Torrent
}

func NewRegistry() *Registry {
	return &Registry{
		byHash:       make(map[Sha1Checksum]*Torrent),
		byObfuscated: make(map[[20]byte]*Torrent),
	}
}

// Add registers t under both its info-hash and its derived obfuscated
// hash.
func (r *Registry) Add(t *Torrent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byHash[t.InfoHash] = t
	r.byObfuscated[mse.Req2(t.InfoHash)] = t
}

// Remove drops a torrent from both indices.
func (r *Registry) Remove(infoHash Sha1Checksum) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.byHash, infoHash)
	delete(r.byObfuscated, mse.Req2(infoHash))
}

// Lookup finds a torrent by its plain info-hash.
func (r *Registry) Lookup(infoHash Sha1Checksum) (*Torrent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byHash[infoHash]
	return t, ok
}

// LookupObfuscated finds a torrent by SHA1("req2", SKEY).
func (r *Registry) LookupObfuscated(obfHash [20]byte) (*Torrent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byObfuscated[obfHash]
	return t, ok
}

// ByInfoHash satisfies handshake.TorrentLookup.
func (r *Registry) ByInfoHash(hash [20]byte) (handshake.TorrentInfo, bool) {
	t, ok := r.Lookup(Sha1Checksum(hash))
	if !ok {
		return handshake.TorrentInfo{}, false
	}
	return torrentInfo(t), true
}

// ByObfuscated satisfies handshake.TorrentLookup.
func (r *Registry) ByObfuscated(obfHash [20]byte) (handshake.TorrentInfo, bool) {
	t, ok := r.LookupObfuscated(obfHash)
	if !ok {
		return handshake.TorrentInfo{}, false
	}
	return torrentInfo(t), true
}

func torrentInfo(t *Torrent) handshake.TorrentInfo {
	return handshake.TorrentInfo{
		InfoHash: [20]byte(t.InfoHash),
		Running:  t.Running(),
		IsSeed:   t.IsSeed(),
	}
}
