package sampling

// EventType enum for event classification
type EventType uint8

const (
	EventTypeUnknown EventType = iota
	EventTypeSeeded
	EventTypeCandidateProposed // only when Config.EmitProposals is set
	EventTypeAccepted
	EventTypeRejected
	EventTypeRetired
	EventTypeDone
)

// EventVersion for backwards compatibility in replay
const EventVersion uint8 = 1

// String returns human-readable event type
func (t EventType) String() string {
	switch t {
	case EventTypeSeeded:
		return "seeded"
	case EventTypeCandidateProposed:
		return "candidate_proposed"
	case EventTypeAccepted:
		return "accepted"
	case EventTypeRejected:
		return "rejected"
	case EventTypeRetired:
		return "retired"
	case EventTypeDone:
		return "done"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so events serialise by name.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *EventType) UnmarshalText(b []byte) error {
	for c := EventTypeSeeded; c <= EventTypeDone; c++ {
		if c.String() == string(b) {
			*t = c
			return nil
		}
	}
	*t = EventTypeUnknown
	return nil
}

// Event is one occurrence in generation order.
//
// Point is the seed, candidate, accepted sample or retired centre depending
// on Type. SpawnCentre is set for proposal, acceptance, rejection and
// retirement. Index is the sample index of Point for Seeded/Accepted, and of
// the spawn centre for Rejected/Retired/CandidateProposed; -1 for Done.
type Event struct {
	Version     uint8     `json:"version"`
	Type        EventType `json:"type"`
	Step        uint64    `json:"step"`   // Sampler step that produced the event
	Trials      uint64    `json:"trials"` // Candidates drawn so far
	Point       Point     `json:"point"`
	SpawnCentre *Point    `json:"spawnCentre,omitempty"`
	Index       int       `json:"index"`
	Samples     []Point   `json:"samples,omitempty"` // Done only
}

// View is the read-only state an observer may inspect while handling an
// event. Slices returned are copies.
type View interface {
	Config() Config
	State() State
	Samples() []Point
	ActiveCentres() []Point
	ActiveCount() int
	SampleCount() int
	Trials() uint64
}

// Observer receives every event synchronously, in generation order.
// Implementations must not retain View beyond the call.
type Observer interface {
	Observe(ev Event, view View)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ev Event, view View)

// Observe calls f(ev, view).
func (f ObserverFunc) Observe(ev Event, view View) {
	f(ev, view)
}

// Observers fans a single event out to several observers in order.
type Observers []Observer

// Observe forwards ev to each observer.
func (o Observers) Observe(ev Event, view View) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(ev, view)
		}
	}
}
