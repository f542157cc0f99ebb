package servo

// Actuation is the physical drive primitive for a bank of servo channels.
// Implementations are expected to be synchronous and are never consulted for
// errors; a channel that cannot be driven should log and swallow the problem
// rather than surface it into the motion state machine.
type Actuation interface {
	Attach(pin int)
	Detach(pin int)
	Attached(pin int) bool

	// Write drives the channel to an absolute position in degrees.
	// Inversion has already been applied by the caller.
	Write(pin int, position int)
}

// Status is a single outbound status report. Reports are fire-and-forget;
// the controller never retries or blocks on a sink.
type Status struct {
	Pin          int    `json:"pin"`
	Name         string `json:"name"`
	Position     int    `json:"position"`
	Assigned     bool   `json:"assigned"`
	Moving       bool   `json:"moving"`
	Attached     bool   `json:"attached"`
	AutoDetachMs int    `json:"autodetachms"`
	Verbose      bool   `json:"-"`
}

type StatusSink interface {
	ServoStatus(s Status)
}

// Clock provides a monotonically increasing millisecond counter. The counter
// is allowed to wrap; all consumers compare timestamps by difference only.
type Clock interface {
	Millis() uint32
}
