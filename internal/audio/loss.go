package audio

import "github.com/pion/rtp"

// LossTracker counts gaps in an RTP sequence-number stream. Packet loss is a
// distinct failure mode from an Opus decode error (the packet never arrived
// at all), so it is tracked separately from Pipeline's decode-error counter.
type LossTracker struct {
	hasPrev bool
	prevSeq uint16
}

// Observe records one arrived packet and returns how many packets were
// presumably lost immediately before it (0 for the first packet seen, 0 for
// a reordered or duplicate packet). Sequence-number wraparound at 65535 is
// handled via the signed 16-bit difference.
func (t *LossTracker) Observe(pkt *rtp.Packet) int {
	seq := pkt.SequenceNumber
	if !t.hasPrev {
		t.hasPrev = true
		t.prevSeq = seq
		return 0
	}
	diff := int16(seq - t.prevSeq - 1)
	t.prevSeq = seq
	if diff < 0 {
		return 0
	}
	return int(diff)
}
