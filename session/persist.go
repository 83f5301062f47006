// Gob round-tripping for the Triple Ratchet driver, completing what
// spqr/persist.go starts: a SessionStore backed by a generic codec
// (store/redisstore) can persist a PQ-engaged session mid-epoch and
// resume it in another process.
package session

import (
	"bytes"
	"encoding/gob"

	"github.com/arcanumlabs/ratchet/spqr"
)

type pqRatchetGob struct {
	Chain     *spqr.Chain
	EK        *spqr.EKSide
	EkCt1Dec  *spqr.PolyDecoder
	EkAckSent bool
	CT        *spqr.CTSide
	CtSent    uint32
	HasMix    bool
	Mix       [32]byte
	MsgIndex  uint32
}

// GobEncode implements gob.GobEncoder.
func (p *PQRatchetState) GobEncode() ([]byte, error) {
	g := pqRatchetGob{
		Chain:     p.Chain,
		EK:        p.EK,
		EkCt1Dec:  p.ekCt1Dec,
		EkAckSent: p.ekAckSent,
		CT:        p.CT,
		CtSent:    p.ctSent,
		MsgIndex:  p.msgIndex,
	}
	if p.pendingMix != nil {
		g.HasMix = true
		g.Mix = *p.pendingMix
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder. The ciphertext chunk encoder is
// not persisted; it is rebuilt from the CT side's stored ciphertext.
func (p *PQRatchetState) GobDecode(b []byte) error {
	var g pqRatchetGob
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&g); err != nil {
		return err
	}
	p.Chain = g.Chain
	p.EK = g.EK
	p.ekCt1Dec = g.EkCt1Dec
	p.ekAckSent = g.EkAckSent
	p.CT = g.CT
	p.ctSent = g.CtSent
	p.msgIndex = g.MsgIndex
	p.pendingMix = nil
	if g.HasMix {
		mix := g.Mix
		p.pendingMix = &mix
	}
	p.ctEnc = nil
	if p.CT != nil {
		if enc, err := p.CT.CiphertextEncoder(); err == nil {
			p.ctEnc = enc
		}
	}
	return nil
}
