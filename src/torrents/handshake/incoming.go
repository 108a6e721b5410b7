package handshake

import (
	"bytes"

	"github.com/tatumon/bittorrent-client/src/torrents/mse"
	"github.com/tatumon/bittorrent-client/src/torrents/pipeio"
)

func (h *Handshake) stepAwaitingYA() (progressed, terminal bool, err error) {
	if h.pipe.Buffered() < mse.KeyLen {
		return false, false, nil
	}

	raw := h.pipe.DrainRaw(mse.KeyLen)
	var peerPub [mse.KeyLen]byte
	copy(peerPub[:], raw)

	pub, priv, gerr := mse.GenerateKeyPair()
	if gerr != nil {
		return false, true, gerr
	}

	shared, cerr := mse.ComputeShared(peerPub, priv)
	if cerr != nil {
		return false, true, cerr
	}
	h.sharedS = shared
	h.myReq1 = mse.Req1(shared)

	pad, perr := mse.RandomPad(mse.PadMax)
	if perr != nil {
		return false, true, perr
	}

	out := append(append([]byte{}, pub[:]...), pad...)
	if _, werr := h.pipe.WriteRaw(out); werr != nil {
		return false, true, werr
	}

	h.state = AwaitingPadA
	return true, false, nil
}

func (h *Handshake) stepAwaitingPadA() (progressed, terminal bool, err error) {
	buffered := h.pipe.Buffered()
	peeked, ok := h.pipe.PeekRaw(buffered)
	if !ok {
		return false, false, nil
	}

	if idx := bytes.Index(peeked, h.myReq1[:]); idx >= 0 {
		if idx > 0 {
			h.pipe.DrainRaw(idx)
		}
		h.state = AwaitingCryptoProvide
		return true, false, nil
	}

	// keep the tail, in case it's a partial match of our req1 marker
	if buffered > len(h.myReq1) {
		h.pipe.DrainRaw(buffered - len(h.myReq1))
		return true, false, nil
	}

	return false, false, nil
}

func (h *Handshake) stepAwaitingCryptoProvide() (progressed, terminal bool, err error) {
	const cleartextLen = mse.ShaLen + mse.ShaLen
	const encryptedLen = mse.VCLength + 4 + 2

	if h.pipe.Buffered() < cleartextLen+encryptedLen {
		return false, false, nil
	}

	cleartext, derr := h.pipe.Drain(cleartextLen)
	if derr != nil {
		return false, true, derr
	}

	var req2x3 [mse.ShaLen]byte
	copy(req2x3[:], cleartext[mse.ShaLen:cleartextLen])

	obf := mse.XorDigest(req2x3, mse.Req3(h.sharedS))

	info, ok := h.lookup.ByObfuscated(obf)
	if !ok || !info.Running {
		return false, true, ErrUnknownHash
	}

	addr := h.pipe.Addr().String()
	clientIsSeed := info.IsSeed
	peerIsSeed := h.mgr.IsKnownSeed(addr)
	if clientIsSeed && peerIsSeed {
		return false, true, ErrSeedToSeed
	}

	h.infoHash = info.InfoHash
	h.haveInfoHash = true
	h.pipe.BindInfoHash(h.infoHash)

	encB, eerr := mse.NewRC4Stream("keyB", h.sharedS, h.infoHash)
	if eerr != nil {
		return false, true, eerr
	}
	decA, derr2 := mse.NewRC4Stream("keyA", h.sharedS, h.infoHash)
	if derr2 != nil {
		return false, true, derr2
	}

	h.pipe.SetEncryptStream(encB)
	h.pipe.SetDecryptStream(decA)
	h.pipe.SetMode(pipeio.EncRC4)
	h.pipe.MarkEncryptedKnown()

	plain, derr3 := h.pipe.Drain(encryptedLen)
	if derr3 != nil {
		return false, true, derr3
	}
	// plain[0:8] is VC, intentionally not compared against zero (§9 open
	// question: its absence is not treated as a protocol violation)

	h.cryptoProvide = mse.Uint32(plain[8:12])
	h.padCLen = mse.Uint16(plain[12:14])

	if h.padCLen > mse.PadMax {
		return false, true, ErrPadTooLong
	}

	h.state = AwaitingPadC
	return true, false, nil
}

func (h *Handshake) stepAwaitingPadC() (progressed, terminal bool, err error) {
	if h.pipe.Buffered() < int(h.padCLen) {
		return false, false, nil
	}

	if h.padCLen > 0 {
		if _, derr := h.pipe.Drain(int(h.padCLen)); derr != nil {
			return false, true, derr
		}
	}

	h.state = AwaitingIA
	return true, false, nil
}

func (h *Handshake) stepAwaitingIA() (progressed, terminal bool, err error) {
	if h.iaLen == 0 {
		if h.pipe.Buffered() < 2 {
			return false, false, nil
		}
		raw, derr := h.pipe.Drain(2)
		if derr != nil {
			return false, true, derr
		}
		h.iaLen = mse.Uint16(raw)
	}

	if h.pipe.Buffered() < int(h.iaLen) {
		return false, false, nil
	}

	ia, derr := h.pipe.Drain(int(h.iaLen))
	if derr != nil {
		return false, true, derr
	}

	ext, peerInfoHash, peerID, perr := parseBTHandshakeBytes(ia)
	if perr != nil {
		return false, true, perr
	}
	if peerInfoHash != h.infoHash {
		return false, true, ErrUnknownHash
	}
	h.ext = ext

	if peerID == h.ourPeerID {
		return false, true, ErrSelfConnect
	}

	selected, ok := mse.SelectFor(h.mode, h.cryptoProvide)
	if !ok {
		return false, true, ErrNoAcceptableCrypto
	}
	h.cryptoSelect = selected

	padD, perr2 := mse.RandomPad(mse.PadMax)
	if perr2 != nil {
		return false, true, perr2
	}

	var vc [mse.VCLength]byte
	burst := make([]byte, 0, mse.VCLength+4+2+len(padD))
	burst = append(burst, vc[:]...)

	selectBuf := make([]byte, 4)
	mse.PutUint32(selectBuf, selected)
	burst = append(burst, selectBuf...)

	padDLenBuf := make([]byte, 2)
	mse.PutUint16(padDLenBuf, uint16(len(padD)))
	burst = append(burst, padDLenBuf...)
	burst = append(burst, padD...)

	if _, werr := h.pipe.Write(burst); werr != nil {
		return false, true, werr
	}

	if selected == mse.CryptoProvidePlaintext {
		h.pipe.SetMode(pipeio.EncNone)
	}

	if !h.haveSentBTHandshake {
		if serr := h.sendBTHandshake(); serr != nil {
			return false, true, serr
		}
	}

	h.succeedLocked(peerID)
	return false, true, nil
}
