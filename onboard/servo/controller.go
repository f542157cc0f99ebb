package servo

import (
	"log"
	"math"
)

const (
	// UpdatePeriodMs is the fixed cadence of the motion state machine.
	// Update may be called far more often; only one pass per period runs.
	UpdatePeriodMs = 20

	// statusThrottleMs limits how often position reports go out mid-move.
	statusThrottleMs = 90

	// fullSweepDeg is the travel of a standard hobby servo, used to mirror
	// a logical position onto an inverted output.
	fullSweepDeg = 180
)

// Controller runs the motion state machine for a single servo. It holds the
// open-loop position estimate (there is no feedback from the horn), converts
// a timed move request into bounded interpolation steps and tracks the
// attach/auto-detach lifecycle around each move.
//
// Controllers are plain values so callers can own them in an arena and index
// by channel. A zero Controller ignores every command until Init and Begin
// have run.
type Controller struct {
	act   Actuation
	sink  StatusSink
	clock Clock

	// Name is a cosmetic label used in reports and diagnostics only.
	Name string

	// Verbose enables move tracing for this servo.
	Verbose bool

	assigned     bool
	pin          int
	powerPin     int
	minPos       int
	maxPos       int
	inverted     bool
	autoDetachMs int

	lastPosition  int     // assumed physical position, degrees
	nextPos       float64 // interpolated target written each step
	increment     float64
	numIncrements int
	moving        bool
	inMoveRequest bool

	arrivedMillis    uint32
	lastMillis       uint32
	lastStatusUpdate uint32
	loggedLastPos    int
}

// Init wires the collaborators. Separate from Begin so an arena can be set
// up once while individual slots are (re)configured later.
func (c *Controller) Init(act Actuation, sink StatusSink, clock Clock) {
	c.act = act
	c.sink = sink
	c.clock = clock
}

// Begin configures the slot for a physical servo and marks it assigned.
// It may be called again at any time to fully reconfigure the slot; the
// channel is left detached either way.
func (c *Controller) Begin(pin, minPos, maxPos, autoDetachMs int, inverted bool, lastPos, powerPin int) {
	c.assigned = true
	c.pin = pin
	c.powerPin = powerPin
	c.minPos = minPos
	c.maxPos = maxPos
	c.autoDetachMs = autoDetachMs
	c.inverted = inverted
	c.lastPosition = lastPos
	c.nextPos = float64(lastPos)
	c.increment = 0
	c.numIncrements = 0
	c.moving = false
	c.inMoveRequest = false
	c.Verbose = false
	c.act.Detach(pin)
}

// PowerUp drives the servo straight to its last known position and attaches
// it, so a re-energized power rail snaps the horn to the stored pose instead
// of the hardware default. lastPosition is trusted as-is; no clamp here.
func (c *Controller) PowerUp() {
	c.writePosition(c.lastPosition)
	if c.Verbose {
		log.Printf("%s: powerUp pin %d, lastPosition %d, inverted %v", c.Name, c.pin, c.lastPosition, c.inverted)
	}
	c.Attach()
}

// MoveTo accepts a request to reach targetPos over durationMs. The request
// is clamped into the configured range and split into one interpolation step
// per update period.
func (c *Controller) MoveTo(targetPos, durationMs int) {
	if !c.assigned {
		log.Printf("%s: no action, servo not assigned yet", c.Name)
		return
	}

	if !c.Attached() {
		// the scheduler should never command a detached servo, but the
		// auto-detach window can race an incoming move; recover in place
		log.Printf("%s: sequence error, servo not attached", c.Name)
		c.Attach()
	}

	now := c.clock.Millis()
	targetPos = c.ClampPosition(targetPos)

	// arrival bookkeeping is refreshed even for no-op moves, otherwise a
	// stale arrivedMillis lets auto-detach fire under a burst of requests
	c.arrivedMillis = now + uint32(durationMs)
	c.inMoveRequest = true

	if targetPos == c.lastPosition {
		c.nextPos = float64(c.lastPosition)
		if c.Verbose {
			log.Printf("%s: move to current position, request ignored", c.Name)
		}
		return
	}

	c.numIncrements = durationMs / UpdatePeriodMs
	if c.numIncrements <= 0 {
		// shorter than one update period: treat as already arrived
		c.nextPos = float64(targetPos)
		c.lastPosition = targetPos
		c.moving = false
		c.writePosition(targetPos)
		c.report(targetPos)
		c.loggedLastPos = targetPos
		c.lastStatusUpdate = now
		return
	}

	c.increment = float64(targetPos-c.lastPosition) / float64(c.numIncrements)
	c.nextPos = float64(c.lastPosition)
	c.moving = true
	c.lastStatusUpdate = now

	if c.Verbose {
		log.Printf("%s: moveTo pin %d, targetPos %d, duration %d, startPosition %d, numIncrements %d, increment %.3f",
			c.Name, c.pin, targetPos, durationMs, c.lastPosition, c.numIncrements, c.increment)
	}
}

// Update is one pass of the state machine. It is driven by an external loop
// at whatever rate is convenient and self-throttles to the fixed cadence.
// Exactly one of the arrival, auto-detach and interpolation branches acts per
// eligible pass, so a single tick is never processed twice.
func (c *Controller) Update() {
	if !c.assigned {
		return
	}
	if !c.Attached() {
		return
	}

	now := c.clock.Millis()
	if now-c.lastMillis < UpdatePeriodMs {
		return
	}
	c.lastMillis = now

	// report the current position with a limited interval
	if rounded := int(math.Round(c.nextPos)); rounded != c.loggedLastPos && now-c.lastStatusUpdate > statusThrottleMs {
		c.report(rounded)
		c.loggedLastPos = rounded
		c.lastStatusUpdate = now
	}

	// target reached
	if c.moving && c.numIncrements <= 0 {
		c.moving = false
		c.arrivedMillis = now
		c.lastPosition = int(math.Round(c.nextPos)) // the assumed reached position
		if c.Verbose {
			log.Printf("%s: target reached, position %d", c.Name, c.lastPosition)
		}
		c.report(c.lastPosition)
		return
	}

	// clear the move-request window with a delay after arrival
	if c.inMoveRequest && c.autoDetachMs > 0 && !millisInFuture(c.arrivedMillis, now) {
		if !c.moving && now-c.arrivedMillis > uint32(c.autoDetachMs) {
			c.inMoveRequest = false
			if c.Verbose {
				log.Printf("%s: inMoveRequest cleared %d ms after arrival", c.Name, now-c.arrivedMillis)
			}
			c.report(int(math.Round(c.nextPos)))
			return
		}
	}

	// still in move: write the next partial target position
	if c.numIncrements > 0 {
		c.lastPosition = int(math.Round(c.nextPos))
		c.nextPos += c.increment
		c.numIncrements--
		c.writePosition(int(math.Round(c.nextPos)))
	}
}

// StopServo halts interpolation immediately. The estimate freezes at the
// last interpolated position and the arrival bookkeeping starts now, so
// auto-detach runs its normal course. The channel stays attached.
func (c *Controller) StopServo() {
	now := c.clock.Millis()
	c.numIncrements = 0 // no further positions get written
	c.arrivedMillis = now
	c.lastPosition = int(math.Round(c.nextPos))
	if c.Verbose {
		log.Printf("%s: stop received, lastPosition %d", c.Name, c.lastPosition)
	}
	c.report(c.lastPosition)
	c.loggedLastPos = c.lastPosition
	c.lastStatusUpdate = now
}

// SetLastPosition overrides the position estimate without moving anything.
func (c *Controller) SetLastPosition(pos int) {
	c.lastPosition = pos
}

// ClampPosition keeps a requested position inside the configured range.
// Pure with respect to the motion state; adjustments are logged.
func (c *Controller) ClampPosition(targetPos int) int {
	adjusted := targetPos

	if targetPos < c.minPos {
		adjusted = c.minPos
		log.Printf("%s: position adjusted, requested %d, min %d", c.Name, targetPos, c.minPos)
	}

	if targetPos > c.maxPos {
		adjusted = c.maxPos
		log.Printf("%s: position adjusted, requested %d, max %d", c.Name, targetPos, c.maxPos)
	}

	return adjusted
}

func (c *Controller) Attach() {
	c.act.Attach(c.pin)
}

func (c *Controller) Attached() bool {
	return c.act.Attached(c.pin)
}

// DetachServo releases drive power. force re-syncs the hardware even when
// the channel already looks detached.
func (c *Controller) DetachServo(force bool) {
	if c.Attached() || force {
		c.act.Detach(c.pin)
		if c.Verbose {
			log.Printf("%s: pin %d detached", c.Name, c.pin)
		}
	}
}

func (c *Controller) Assigned() bool      { return c.assigned }
func (c *Controller) Moving() bool        { return c.moving }
func (c *Controller) InMoveRequest() bool { return c.inMoveRequest }
func (c *Controller) LastPosition() int   { return c.lastPosition }
func (c *Controller) Pin() int            { return c.pin }
func (c *Controller) PowerPin() int       { return c.powerPin }
func (c *Controller) AutoDetachMs() int   { return c.autoDetachMs }

// writePosition is the single place inversion applies. Stored positions,
// bounds and interpolation all stay in logical degrees.
func (c *Controller) writePosition(position int) {
	if c.inverted {
		c.act.Write(c.pin, fullSweepDeg-position)
	} else {
		c.act.Write(c.pin, position)
	}
}

func (c *Controller) report(position int) {
	if c.sink == nil {
		return
	}
	c.sink.ServoStatus(Status{
		Pin:          c.pin,
		Name:         c.Name,
		Position:     position,
		Assigned:     c.assigned,
		Moving:       c.moving,
		Attached:     c.Attached(),
		AutoDetachMs: c.autoDetachMs,
		Verbose:      c.Verbose,
	})
}

// millisInFuture reports whether ts is ahead of now on the wrapping counter.
func millisInFuture(ts, now uint32) bool {
	return int32(ts-now) > 0
}
