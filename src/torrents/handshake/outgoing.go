package handshake

import (
	"github.com/tatumon/bittorrent-client/src/torrents/mse"
	"github.com/tatumon/bittorrent-client/src/torrents/pipeio"
)

// sendYa sends our DH public key followed by a random PadA, beginning
// the MSE exchange as initiator.
func (h *Handshake) sendYa() error {
	pub, priv, err := mse.GenerateKeyPair()
	if err != nil {
		return err
	}
	h.myPriv = priv

	pad, err := mse.RandomPad(mse.PadMax)
	if err != nil {
		return err
	}

	out := append(append([]byte{}, pub[:]...), pad...)
	if _, err := h.pipe.WriteRaw(out); err != nil {
		return err
	}

	return nil
}

func (h *Handshake) stepAwaitingYB() (progressed, terminal bool, err error) {
	if prefix, ok := h.pipe.PeekRaw(len(ProtocolName)); ok && string(prefix) == ProtocolName {
		// peer refused encryption outright and replied with a plaintext
		// handshake instead of Yb
		h.state = AwaitingHandshake
		return true, false, nil
	}

	if h.pipe.Buffered() < mse.KeyLen {
		return false, false, nil
	}
	h.haveReadAnything = true

	raw := h.pipe.DrainRaw(mse.KeyLen)

	var peerPub [mse.KeyLen]byte
	copy(peerPub[:], raw)

	shared, cerr := mse.ComputeShared(peerPub, h.myPriv)
	if cerr != nil {
		return false, true, cerr
	}
	h.sharedS = shared

	req1 := mse.Req1(shared)
	req2x3 := mse.XorDigest(mse.Req2(h.infoHash), mse.Req3(shared))

	if _, werr := h.pipe.WriteRaw(append(append([]byte{}, req1[:]...), req2x3[:]...)); werr != nil {
		return false, true, werr
	}

	encA, aerr := mse.NewRC4Stream("keyA", shared, h.infoHash)
	if aerr != nil {
		return false, true, aerr
	}
	decB, berr := mse.NewRC4Stream("keyB", shared, h.infoHash)
	if berr != nil {
		return false, true, berr
	}

	h.pipe.SetEncryptStream(encA)
	h.pipe.SetDecryptStream(decB)
	h.pipe.SetMode(pipeio.EncRC4)
	h.pipe.MarkEncryptedKnown()

	h.cryptoProvide = mse.ProvideFor(h.mode)

	var vc [mse.VCLength]byte
	burst := make([]byte, 0, mse.VCLength+4+2+2+HandshakeLen)
	burst = append(burst, vc[:]...)

	provideBuf := make([]byte, 4)
	mse.PutUint32(provideBuf, h.cryptoProvide)
	burst = append(burst, provideBuf...)

	padCLenBuf := make([]byte, 2)
	mse.PutUint16(padCLenBuf, 0)
	burst = append(burst, padCLenBuf...)

	bt := h.buildBTHandshakeBytes()
	iaLenBuf := make([]byte, 2)
	mse.PutUint16(iaLenBuf, uint16(len(bt)))
	burst = append(burst, iaLenBuf...)
	burst = append(burst, bt...)

	if _, werr := h.pipe.Write(burst); werr != nil {
		return false, true, werr
	}
	h.haveSentBTHandshake = true

	h.state = AwaitingVC
	return true, false, nil
}

func (h *Handshake) stepAwaitingVC() (progressed, terminal bool, err error) {
	peeked, ok := h.pipe.PeekRaw(mse.VCLength)
	if !ok {
		return false, false, nil
	}

	trial, terr := mse.NewRC4Stream("keyB", h.sharedS, h.infoHash)
	if terr != nil {
		return false, true, terr
	}

	candidate := make([]byte, mse.VCLength)
	trial.XORKeyStream(candidate, peeked)

	if isZero(candidate) {
		h.pipe.DrainRaw(mse.VCLength)
		h.pipe.SetDecryptStream(trial)
		h.state = AwaitingCryptoSelect
		return true, false, nil
	}

	h.pipe.DrainRaw(1)
	return true, false, nil
}

func (h *Handshake) stepAwaitingCryptoSelect() (progressed, terminal bool, err error) {
	if h.pipe.Buffered() < 6 {
		return false, false, nil
	}

	raw, derr := h.pipe.Drain(6)
	if derr != nil {
		return false, true, derr
	}

	cryptoSelect := mse.Uint32(raw[0:4])
	padDLen := mse.Uint16(raw[4:6])

	if cryptoSelect&h.cryptoProvide == 0 {
		return false, true, ErrCryptoSelectMismatch
	}
	if padDLen > mse.PadMax {
		return false, true, ErrPadTooLong
	}

	h.cryptoSelect = cryptoSelect
	h.padDLen = padDLen
	h.state = AwaitingPadD
	return true, false, nil
}

func (h *Handshake) stepAwaitingPadD() (progressed, terminal bool, err error) {
	if h.pipe.Buffered() < int(h.padDLen) {
		return false, false, nil
	}

	if h.padDLen > 0 {
		if _, derr := h.pipe.Drain(int(h.padDLen)); derr != nil {
			return false, true, derr
		}
	}

	if h.cryptoSelect == mse.CryptoProvidePlaintext {
		h.pipe.SetMode(pipeio.EncNone)
	}

	h.state = AwaitingHandshake
	return true, false, nil
}
