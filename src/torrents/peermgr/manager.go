// Package peermgr keeps small, in-memory, per-address bookkeeping about
// remote peers for the handshake engine: whether a given address has
// been observed not to speak uTP (recorded by the fallback policy), and
// whether it is already known to be a seed (consulted to reject
// pointless seed-to-seed connections).
package peermgr

import "sync"

// Manager is safe for concurrent use from every handshake session's own
// goroutine.
type Manager struct {
	mu             sync.Mutex
	utpUnsupported map[string]bool
	knownSeeds     map[string]bool
}

func New() *Manager {
	return &Manager{
		utpUnsupported: make(map[string]bool),
		knownSeeds:     make(map[string]bool),
	}
}

// MarkUTPUnsupported records that a uTP dial/handshake to addr failed;
// IsUTPUnsupported reports it back.
func (m *Manager) MarkUTPUnsupported(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.utpUnsupported[addr] = true
}

// IsUTPUnsupported reports whether MarkUTPUnsupported was ever called
// for addr.
func (m *Manager) IsUTPUnsupported(addr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.utpUnsupported[addr]
}

// MarkSeed records that addr is known to already hold a complete copy of
// whatever torrent it's connecting about.
func (m *Manager) MarkSeed(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.knownSeeds[addr] = true
}

// IsKnownSeed reports whether addr was ever marked via MarkSeed.
func (m *Manager) IsKnownSeed(addr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.knownSeeds[addr]
}
