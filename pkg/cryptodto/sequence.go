package cryptodto

// ReceiveOutcome classifies an incoming sequence number
type ReceiveOutcome int

const (
	Before   ReceiveOutcome = iota // Duplicate or too old, discard
	OK                             // Expected or late but unseen
	Overflow                       // Ahead of expected, window advanced
)

func (r ReceiveOutcome) String() string {
	switch r {
	case Before:
		return "before"
	case OK:
		return "ok"
	case Overflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// DefaultHistorySize is the number of recent sequences remembered
const DefaultHistorySize = 10

// SequenceTest is the receive-side replay window. It remembers the next
// expected sequence and a ring of recently accepted ones. It is not safe
// for concurrent use; the transport only touches it from its read loop.
type SequenceTest struct {
	next    uint64
	history []uint64
	count   int
	pos     int
}

// NewSequenceTest creates a window remembering historySize sequences
func NewSequenceTest(historySize int) *SequenceTest {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &SequenceTest{history: make([]uint64, historySize)}
}

// Received records seq and reports whether it should be accepted
func (s *SequenceTest) Received(seq uint64) ReceiveOutcome {
	if seq >= s.next {
		outcome := OK
		if seq > s.next {
			outcome = Overflow
		}
		s.record(seq)
		s.next = seq + 1
		return outcome
	}

	if s.next-seq > uint64(len(s.history)) || s.seen(seq) {
		return Before
	}
	s.record(seq)
	return OK
}

// Next returns the next expected sequence
func (s *SequenceTest) Next() uint64 {
	return s.next
}

// Reset forgets all history
func (s *SequenceTest) Reset() {
	s.next = 0
	s.count = 0
	s.pos = 0
}

func (s *SequenceTest) record(seq uint64) {
	s.history[s.pos] = seq
	s.pos = (s.pos + 1) % len(s.history)
	if s.count < len(s.history) {
		s.count++
	}
}

func (s *SequenceTest) seen(seq uint64) bool {
	for i := 0; i < s.count; i++ {
		if s.history[i] == seq {
			return true
		}
	}
	return false
}
