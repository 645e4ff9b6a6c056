package interceptor

// streamState tracks one outbound media stream: the extended sequence
// number space shared between what we sent and what the receiver reported
// back. Guarded by the interceptor's mutex.
type streamState struct {
	ssrc uint32

	// Extended sequence tracking for sent packets.
	started   bool
	lastSeq   uint16
	cycles    uint32
	extSent   uint32 // cycles<<16 | highest sent sequence number
	firstSent uint32

	// Receiver-side view, from reception reports.
	reported bool
	extAcked uint32 // extended highest sequence received by the peer
}

func newStreamState(ssrc uint32) *streamState {
	return &streamState{ssrc: ssrc}
}

// recordSent folds one outbound sequence number into the extended counter,
// detecting 16-bit rollover. Reordered (older) sequence numbers do not move
// the high-water mark.
func (s *streamState) recordSent(seq uint16) {
	if !s.started {
		s.started = true
		s.lastSeq = seq
		s.extSent = uint32(seq)
		s.firstSent = s.extSent
		return
	}
	delta := seq - s.lastSeq // uint16 wraparound arithmetic
	if delta == 0 || delta >= 0x8000 {
		return // duplicate or reordered
	}
	if seq < s.lastSeq {
		s.cycles += 1 << 16
	}
	s.lastSeq = seq
	s.extSent = s.cycles | uint32(seq)
}

// recordAcked updates the receiver's extended highest sequence and returns
// how many new packets this report acknowledges.
func (s *streamState) recordAcked(extHighest uint32) uint64 {
	if !s.reported {
		s.reported = true
		s.extAcked = extHighest
		// The first report covers everything from the first sent packet.
		if extHighest >= s.firstSent {
			return uint64(extHighest-s.firstSent) + 1
		}
		return 0
	}
	if extHighest <= s.extAcked {
		return 0
	}
	newly := uint64(extHighest - s.extAcked)
	s.extAcked = extHighest
	return newly
}

// inflight returns the packets sent but not yet covered by a reception
// report.
func (s *streamState) inflight() int {
	if !s.started {
		return 0
	}
	if !s.reported {
		// Nothing reported yet: everything since the first send is out.
		return int(s.extSent-s.firstSent) + 1
	}
	if s.extSent <= s.extAcked {
		return 0
	}
	return int(s.extSent - s.extAcked)
}
